// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PanelKit Contributors

// Package lua provides the sandboxed Lua engine that materializes plugin
// bundles and bridges their components and hooks to the host runtime.
package lua

import (
	"context"
	"fmt"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// safeLibrary is a Lua library safe to load in a sandboxed state.
type safeLibrary struct {
	name string
	fn   lua.LGFunction
}

// defaultSafeLibraries returns the list of libraries safe to load.
// Safe: base, table, string, math.
// Blocked: os, io, debug, package.
func defaultSafeLibraries() []safeLibrary {
	return []safeLibrary{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
}

// unsafeBaseFunctions lists base library functions that must be blocked.
// These allow loading code from the filesystem, which would break both
// sandboxing and the no-global-module-registration guarantee.
var unsafeBaseFunctions = []string{"dofile", "loadfile", "loadstring", "load"}

// StateFactory creates sandboxed Lua states. Every state a load or an
// invocation creates is exclusively owned by that operation and released
// through the factory, so creates and releases can be audited to be equal
// on every exit path.
type StateFactory struct {
	libraries []safeLibrary

	created  atomic.Uint64
	released atomic.Uint64
}

// NewStateFactory creates a new state factory.
func NewStateFactory() *StateFactory {
	return &StateFactory{
		libraries: defaultSafeLibraries(),
	}
}

// NewState creates a fresh Lua state with only safe libraries loaded and
// the given context attached for cancellation.
func (f *StateFactory) NewState(ctx context.Context) (*lua.LState, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true,
	})

	for _, lib := range f.libraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("failed to open library %s: %w", lib.name, err)
		}
	}

	for _, fn := range unsafeBaseFunctions {
		L.SetGlobal(fn, lua.LNil)
	}

	L.SetContext(ctx)
	f.created.Add(1)
	return L, nil
}

// Release closes a state obtained from NewState. It must be called on
// every exit path, including cancellation and error paths.
func (f *StateFactory) Release(L *lua.LState) {
	if L == nil {
		return
	}
	L.Close()
	f.released.Add(1)
}

// Stats reports how many states were created and released. Used to verify
// resource hygiene.
func (f *StateFactory) Stats() (created, released uint64) {
	return f.created.Load(), f.released.Load()
}
