// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"

	"github.com/noldarim/procbridge/internal/ipc"
	"github.com/noldarim/procbridge/internal/workflow"
)

// Run is the argument set of one RunWorkflow call.
type Run struct {
	Type    *workflow.WorkflowType
	Context string
	Batched any
	Options Options
}

// Restricted runs workflows only when the current process is the driver. The run
// state lives in the driver, so a run started anywhere else would read and reset
// a store nobody else sees.
type Restricted struct {
	run func(context.Context, Run) ([]any, error)
}

// Restrict guards s with r's process identity.
func Restrict(r *ipc.Router, s *Session) *Restricted {
	return &Restricted{
		run: ipc.RestrictTo(r, ipc.Driver, "session.run_workflow", func(ctx context.Context, run Run) ([]any, error) {
			return s.RunWorkflow(ctx, run.Type, run.Context, run.Batched, run.Options)
		}),
	}
}

// RunWorkflow is Session.RunWorkflow, refused with errdefs.ErrWrongProcess outside
// the driver.
func (g *Restricted) RunWorkflow(ctx context.Context, wt *workflow.WorkflowType, contextName string, batched any, opts Options) ([]any, error) {
	return g.run(ctx, Run{Type: wt, Context: contextName, Batched: batched, Options: opts})
}
