// Copyright the amr authors.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package amr

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForEachRealPatchVisitsEveryPatch(t *testing.T) {
	h := newTestHierarchy(t, 0)
	const n = 10
	for i := int64(0); i < n; i++ {
		_, err := h.AllocatePatch(0, ClassReal, [3]int64{i, 0, 0}, 0, false)
		require.NoError(t, err)
	}

	var visited int64
	err := ForEachRealPatch(context.Background(), h, 0, func(p *Patch) error {
		atomic.AddInt64(&visited, 1)
		return nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, n, visited)
}

func TestForEachRealPatchPropagatesFirstError(t *testing.T) {
	h := newTestHierarchy(t, 0)
	for i := int64(0); i < 4; i++ {
		_, err := h.AllocatePatch(0, ClassReal, [3]int64{i, 0, 0}, 0, false)
		require.NoError(t, err)
	}

	sentinel := errors.New("boom")
	err := ForEachRealPatch(context.Background(), h, 0, func(p *Patch) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
}

func TestRunStepsStopsAtFirstError(t *testing.T) {
	var ran []int
	sentinel := errors.New("stop")
	steps := []StepFunc{
		func(ctx context.Context, h *Hierarchy) error { ran = append(ran, 1); return nil },
		func(ctx context.Context, h *Hierarchy) error { ran = append(ran, 2); return sentinel },
		func(ctx context.Context, h *Hierarchy) error { ran = append(ran, 3); return nil },
	}
	h := newTestHierarchy(t, 0)
	err := RunSteps(context.Background(), h, steps...)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, []int{1, 2}, ran)
}
