// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PanelKit Contributors

package lua

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/panelkit/panelkit/internal/plugin"
)

// Compile-time interface check.
var _ plugin.Engine = (*Engine)(nil)

// Engine materializes Lua plugin bundles. A load evaluates the bundle in
// a throwaway sandboxed state to extract and validate its export; that
// state is the temporary loadable handle and is released on every exit
// path. Component and hook invocations each run in their own fresh state,
// so no Lua state is ever shared or reused across loads or calls.
type Engine struct {
	factory *StateFactory
	logger  *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineLogger sets the logger exposed to plugins via log().
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates a Lua plugin engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		factory: NewStateFactory(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stats reports state create/release counts for resource auditing.
func (e *Engine) Stats() (created, released uint64) {
	return e.factory.Stats()
}

// Load materializes source and validates its export against the manifest
// contract. The returned manifest's callables re-evaluate the bundle in
// fresh states per invocation.
func (e *Engine) Load(ctx context.Context, source string) (*plugin.Manifest, error) {
	L, err := e.factory.NewState(ctx)
	if err != nil {
		return nil, oops.In("lua").With("operation", "load").Hint("failed to create state").Wrap(err)
	}
	defer e.factory.Release(L)

	export, err := evalChunk(L, source)
	if err != nil {
		return nil, plugin.WrapError(plugin.KindParse, "failed to parse plugin bundle", err)
	}

	shape, err := validateExport(export)
	if err != nil {
		return nil, err
	}

	manifest := &plugin.Manifest{
		Component: e.component(source),
		Metadata:  shape.meta,
	}
	if shape.hooks["onMount"] {
		manifest.Hooks.OnMount = e.hook(source, "onMount")
	}
	if shape.hooks["onUnmount"] {
		manifest.Hooks.OnUnmount = e.hook(source, "onUnmount")
	}
	if shape.hooks["onConfigChange"] {
		manifest.Hooks.OnConfigChange = e.hook(source, "onConfigChange")
	}
	return manifest, nil
}

// evalChunk runs source and returns its first returned value, or LNil
// when the chunk returns nothing. Shape validation is not this layer's
// job; it only guarantees a value came back or the evaluation threw.
func evalChunk(L *lua.LState, source string) (lua.LValue, error) {
	base := L.GetTop()
	if err := L.DoString(source); err != nil {
		return nil, err
	}
	if L.GetTop() <= base {
		return lua.LNil, nil
	}
	return L.Get(base + 1), nil
}

// component wraps the bundle's component function as a host callable.
func (e *Engine) component(source string) plugin.Component {
	return func(ctx context.Context, pc *plugin.Context) (string, error) {
		return e.invoke(ctx, source, []string{"component"}, pc, true)
	}
}

// hook wraps one of the bundle's lifecycle hooks as a host callable.
func (e *Engine) hook(source, name string) plugin.Hook {
	return func(ctx context.Context, pc *plugin.Context) error {
		_, err := e.invoke(ctx, source, []string{"hooks", name}, pc, false)
		return err
	}
}

// invoke re-evaluates the bundle in a fresh state, walks path to the
// target function, and calls it with the plugin context table.
func (e *Engine) invoke(ctx context.Context, source string, path []string, pc *plugin.Context, wantResult bool) (string, error) {
	L, err := e.factory.NewState(ctx)
	if err != nil {
		return "", oops.In("lua").With("operation", "invoke").Hint("failed to create state").Wrap(err)
	}
	defer e.factory.Release(L)

	export, err := evalChunk(L, source)
	if err != nil {
		return "", plugin.WrapError(plugin.KindParse, "failed to parse plugin bundle", err)
	}

	target := strings.Join(path, ".")
	cur := export
	for _, key := range path {
		table, ok := cur.(*lua.LTable)
		if !ok {
			return "", plugin.NewError(plugin.KindRuntime, fmt.Sprintf("plugin %s is not reachable", target))
		}
		cur = table.RawGetString(key)
	}
	fn, ok := cur.(*lua.LFunction)
	if !ok {
		return "", plugin.NewError(plugin.KindRuntime, fmt.Sprintf("plugin %s is not callable", target))
	}

	ctxTable := e.buildContextTable(ctx, L, pc)
	if err := L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, ctxTable); err != nil {
		return "", plugin.WrapError(plugin.KindRuntime, fmt.Sprintf("plugin %s failed", target), err)
	}

	ret := L.Get(-1)
	L.Pop(1)

	if !wantResult || ret.Type() == lua.LTNil {
		return "", nil
	}
	// tostring semantics: components usually return strings, anything
	// else renders via its string form.
	return ret.String(), nil
}

// buildContextTable exposes the plugin context to Lua: theme, metadata,
// config, the scoped API surface, and host utilities.
func (e *Engine) buildContextTable(ctx context.Context, L *lua.LState, pc *plugin.Context) *lua.LTable {
	t := L.NewTable()

	theme := L.NewTable()
	L.SetField(theme, "mode", lua.LString(pc.Theme.Mode))
	colors := L.NewTable()
	for name, value := range pc.Theme.Colors {
		L.SetField(colors, name, lua.LString(value))
	}
	L.SetField(theme, "colors", colors)
	L.SetField(t, "theme", theme)

	meta := L.NewTable()
	L.SetField(meta, "id", lua.LString(pc.Metadata.ID))
	L.SetField(meta, "name", lua.LString(pc.Metadata.Name))
	L.SetField(meta, "title", lua.LString(pc.Metadata.Title))
	L.SetField(meta, "version", lua.LString(pc.Metadata.Version))
	L.SetField(meta, "author", lua.LString(pc.Metadata.Author))
	L.SetField(t, "metadata", meta)

	L.SetField(t, "config", goToLua(L, normalizeConfig(pc.Config)))

	L.SetField(t, "toast", L.NewFunction(func(L *lua.LState) int {
		message := L.CheckString(1)
		severity := L.OptString(2, "info")
		pc.Toast(message, severity)
		return 0
	}))

	L.SetField(t, "navigate", L.NewFunction(func(L *lua.LState) int {
		pc.Navigate(L.CheckString(1))
		return 0
	}))

	L.SetField(t, "log", L.NewFunction(func(L *lua.LState) int {
		e.logger.Info("plugin log",
			"plugin", pc.Metadata.ID,
			"message", L.CheckString(1))
		return 0
	}))

	api := L.NewTable()
	L.SetField(api, "get", L.NewFunction(e.apiFunc(ctx, pc, "get")))
	L.SetField(api, "post", L.NewFunction(e.apiFunc(ctx, pc, "post")))
	L.SetField(api, "put", L.NewFunction(e.apiFunc(ctx, pc, "put")))
	L.SetField(api, "patch", L.NewFunction(e.apiFunc(ctx, pc, "patch")))
	L.SetField(api, "delete", L.NewFunction(e.apiFunc(ctx, pc, "delete")))
	L.SetField(t, "api", api)

	return t
}

// apiFunc bridges one scoped API verb into Lua. Calls return
// (result, nil) on success and (nil, message) on failure.
func (e *Engine) apiFunc(ctx context.Context, pc *plugin.Context, verb string) lua.LGFunction {
	return func(L *lua.LState) int {
		if pc.API == nil {
			L.Push(lua.LNil)
			L.Push(lua.LString("api client is not configured"))
			return 2
		}

		rel := L.CheckString(1)
		var body any
		if L.GetTop() >= 2 {
			body = luaToGo(L.Get(2))
		}

		var out any
		var err error
		switch verb {
		case "get":
			err = pc.API.Get(ctx, rel, &out)
		case "post":
			err = pc.API.Post(ctx, rel, body, &out)
		case "put":
			err = pc.API.Put(ctx, rel, body, &out)
		case "patch":
			err = pc.API.Patch(ctx, rel, body, &out)
		case "delete":
			err = pc.API.Delete(ctx, rel, &out)
		}

		if err != nil {
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
			return 2
		}
		L.Push(goToLua(L, out))
		L.Push(lua.LNil)
		return 2
	}
}

func normalizeConfig(config map[string]any) any {
	if config == nil {
		return map[string]any{}
	}
	return config
}

// goToLua converts a JSON-shaped Go value to a Lua value.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case float64:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case []any:
		t := L.NewTable()
		for _, item := range val {
			t.Append(goToLua(L, item))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, item := range val {
			L.SetField(t, k, goToLua(L, item))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// luaToGo converts a Lua value to a JSON-shaped Go value. Tables with
// consecutive integer keys become slices, everything else becomes maps.
func luaToGo(lv lua.LValue) any {
	switch val := lv.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		if n := val.MaxN(); n > 0 {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, luaToGo(val.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any)
		val.ForEach(func(k, v lua.LValue) {
			out[k.String()] = luaToGo(v)
		})
		return out
	default:
		return lv.String()
	}
}
