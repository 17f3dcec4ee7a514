// Copyright the amr authors.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package amr

import (
	"testing"

	"github.com/ctessum/sparse"
	"github.com/stretchr/testify/require"
)

func TestRefineAllocatesEightChildrenInMortonOrder(t *testing.T) {
	h := newTestHierarchy(t, 1)
	father, err := h.AllocatePatch(0, ClassReal, [3]int64{0, 0, 0}, 0, false)
	require.NoError(t, err)

	fillVal := 7.0
	interp := func(_ *Patch, childIdx PatchID, dst *sparse.DenseArray) {
		for i := range dst.Elements {
			dst.Elements[i] = fillVal + float64(childIdx)
		}
	}
	require.NoError(t, Refine(h, father.ID(), 0, interp))

	require.NotEqual(t, NoPatch, father.Son)
	for c := PatchID(0); c < 8; c++ {
		child, err := h.Lookup(father.Son + c)
		require.NoError(t, err)
		require.Equal(t, father.ID(), child.Father)
		require.Equal(t, 1, child.Level)
		require.Equal(t, fillVal+float64(c), child.Fluid[0].Get(0, 0, 0, 0))
	}
	require.NoError(t, h.CheckReciprocity())
}

func TestRefineTwiceRejected(t *testing.T) {
	h := newTestHierarchy(t, 1)
	father, err := h.AllocatePatch(0, ClassReal, [3]int64{0, 0, 0}, 0, false)
	require.NoError(t, err)
	noop := func(*Patch, PatchID, *sparse.DenseArray) {}
	require.NoError(t, Refine(h, father.ID(), 0, noop))
	require.Error(t, Refine(h, father.ID(), 0, noop))
}

func TestDerefineRemovesAllChildren(t *testing.T) {
	h := newTestHierarchy(t, 1)
	father, err := h.AllocatePatch(0, ClassReal, [3]int64{0, 0, 0}, 0, false)
	require.NoError(t, err)
	noop := func(*Patch, PatchID, *sparse.DenseArray) {}
	require.NoError(t, Refine(h, father.ID(), 0, noop))

	lt, err := h.Level(1)
	require.NoError(t, err)
	require.Equal(t, 8, lt.RealCount())

	require.NoError(t, Derefine(h, father.ID()))
	require.Equal(t, 0, lt.RealCount())
	require.Equal(t, NoPatch, father.Son)
}

func TestRefineDomainBoundaryGetsNoFluxRegister(t *testing.T) {
	h := newTestHierarchy(t, 1)
	father, err := h.AllocatePatch(0, ClassReal, [3]int64{0, 0, 0}, 0, false)
	require.NoError(t, err)
	noop := func(*Patch, PatchID, *sparse.DenseArray) {}
	require.NoError(t, Refine(h, father.ID(), 0, noop))

	// Child 0 (octant bits 0,0,0) is the -x,-y,-z corner child: its -x face
	// is outward, but father has no -x neighbor, so no flux register forms.
	child0, err := h.Lookup(father.Son)
	require.NoError(t, err)
	require.False(t, child0.HasFlux(FaceXMinus))
	// Its +x face is inward (borders a sibling at the same level), never a
	// coarse-fine boundary.
	require.False(t, child0.HasFlux(FaceXPlus))
}

func TestRefineGenuineCoarseFineBoundaryGetsFluxRegister(t *testing.T) {
	h := newTestHierarchy(t, 1)
	west, err := h.AllocatePatch(0, ClassReal, [3]int64{0, 0, 0}, 0, false)
	require.NoError(t, err)
	east, err := h.AllocatePatch(0, ClassReal, [3]int64{2, 0, 0}, 0, false)
	require.NoError(t, err)
	require.NoError(t, h.SetSibling(west.ID(), FaceXPlus, east.ID()))

	noop := func(*Patch, PatchID, *sparse.DenseArray) {}
	require.NoError(t, Refine(h, west.ID(), 0, noop))

	// The east-facing children of west now border unrefined east: a genuine
	// coarse-fine boundary.
	for c := PatchID(0); c < 8; c++ {
		if octantBit(c, 0) != 1 {
			continue // only +x-facing octants (bit 0 == 1) border east
		}
		child, err := h.Lookup(west.Son + c)
		require.NoError(t, err)
		require.True(t, child.HasFlux(FaceXPlus))
		require.Equal(t, east.ID(), child.Sibling[FaceXPlus])
	}
}
