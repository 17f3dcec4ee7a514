// Copyright the amr authors.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package amr

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// PatchFunc runs one unit of per-patch work, the role the teacher's
// CellManipulator plays for a single *Cell (run.go's Calculations).
type PatchFunc func(p *Patch) error

// StepFunc is one stage of a simulation step, the role the teacher's
// DomainManipulator plays for a whole *InMAPdata (run.go's RunFuncs).
type StepFunc func(ctx context.Context, h *Hierarchy) error

// ForEachRealPatch fans PatchFunc out over every real patch at level across
// GOMAXPROCS workers and waits for all of them, returning the first error
// any worker reports. It generalizes the teacher's Calculations: the teacher
// stripes d.Cells across a fixed sync.WaitGroup fan-out; this uses
// errgroup.Group so the first worker error cancels the rest instead of
// letting every worker run to completion after one has already failed.
func ForEachRealPatch(ctx context.Context, h *Hierarchy, level int, fn PatchFunc) error {
	lt, err := h.Level(level)
	if err != nil {
		return err
	}
	h.mu.RLock()
	ids := append([]PatchID(nil), lt.RealIDs()...)
	h.mu.RUnlock()

	nprocs := runtime.GOMAXPROCS(0)
	if nprocs > len(ids) {
		nprocs = len(ids)
	}
	if nprocs == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	for pp := 0; pp < nprocs; pp++ {
		pp := pp
		g.Go(func() error {
			for ii := pp; ii < len(ids); ii += nprocs {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				p, err := h.Lookup(ids[ii])
				if err != nil {
					return err
				}
				if err := fn(p); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// RunSteps executes steps in order against h, stopping at the first error —
// the sequencing role the teacher's RunFuncs/Init/Run loop plays for a list
// of DomainManipulators (run.go).
func RunSteps(ctx context.Context, h *Hierarchy, steps ...StepFunc) error {
	for _, step := range steps {
		if err := step(ctx, h); err != nil {
			return err
		}
	}
	return nil
}
