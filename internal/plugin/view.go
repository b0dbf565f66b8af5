// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PanelKit Contributors

package plugin

import (
	"context"
	"fmt"
)

// RenderView produces the host-facing output for the slot's current
// state: a neutral affordance while idle, a progress indicator while
// loading, the failure message with a retry hint on error, and the
// boundary-wrapped component output when ready.
func (s *Slot) RenderView(ctx context.Context, boundary *Boundary) string {
	state := s.State()

	switch state.Phase {
	case PhaseIdle:
		return "plugin ready to load"
	case PhaseLoading:
		return "loading plugin..."
	case PhaseError:
		msg := "plugin failed to load"
		if state.Err != nil {
			msg = state.Err.Message
		}
		return fmt.Sprintf("%s - retry to reload", msg)
	case PhaseReady:
		if state.Manifest == nil || state.Manifest.Component == nil {
			return ""
		}
		return boundary.Render(ctx, state.Manifest.Component, s.Context())
	default:
		return ""
	}
}
