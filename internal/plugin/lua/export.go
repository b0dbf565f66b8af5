// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PanelKit Contributors

package lua

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/panelkit/panelkit/internal/plugin"
)

// Hook keys a bundle may expose, in validation order.
var hookNames = []string{"onMount", "onUnmount", "onConfigChange"}

// exportShape is the validated structure of a bundle's export: the
// declared identity triple plus which hooks are present. Callables are
// not captured here; invocations re-evaluate the bundle in fresh states.
type exportShape struct {
	meta  plugin.ManifestMeta
	hooks map[string]bool
}

// validateExport enforces the manifest contract on a bundle's export.
// Checks run in a fixed order with field-specific messages; every
// rejection is a parse-kind error. The export is only asserted, never
// mutated.
func validateExport(export lua.LValue) (*exportShape, error) {
	if export == nil || export.Type() == lua.LTNil {
		return nil, plugin.NewError(plugin.KindParse, "plugin must have a default export")
	}

	manifest, ok := export.(*lua.LTable)
	if !ok {
		return nil, plugin.NewError(plugin.KindParse, "plugin manifest must be an object")
	}

	component := manifest.RawGetString("component")
	if component.Type() == lua.LTNil {
		return nil, plugin.NewError(plugin.KindParse, "plugin must have a component property")
	}
	if component.Type() != lua.LTFunction {
		return nil, plugin.NewError(plugin.KindParse, "plugin component must be a function")
	}

	metadata := manifest.RawGetString("metadata")
	if metadata.Type() == lua.LTNil {
		return nil, plugin.NewError(plugin.KindParse, "plugin must have metadata")
	}
	metaTable, ok := metadata.(*lua.LTable)
	if !ok {
		return nil, plugin.NewError(plugin.KindParse, "plugin metadata must be an object")
	}

	meta := plugin.ManifestMeta{}
	for _, field := range []struct {
		name string
		dst  *string
	}{
		{"name", &meta.Name},
		{"version", &meta.Version},
		{"author", &meta.Author},
	} {
		v := metaTable.RawGetString(field.name)
		if v.Type() != lua.LTString {
			return nil, plugin.NewError(plugin.KindParse,
				fmt.Sprintf("plugin metadata.%s must be a string", field.name))
		}
		*field.dst = lua.LVAsString(v)
	}

	shape := &exportShape{meta: meta, hooks: make(map[string]bool)}

	hooks := manifest.RawGetString("hooks")
	if hooks.Type() != lua.LTNil {
		hookTable, ok := hooks.(*lua.LTable)
		if !ok {
			return nil, plugin.NewError(plugin.KindParse, "plugin hooks must be an object")
		}
		for _, name := range hookNames {
			h := hookTable.RawGetString(name)
			if h.Type() == lua.LTNil {
				continue
			}
			if h.Type() != lua.LTFunction {
				return nil, plugin.NewError(plugin.KindParse,
					fmt.Sprintf("plugin hook %s must be a function", name))
			}
			shape.hooks[name] = true
		}
	}

	return shape, nil
}
