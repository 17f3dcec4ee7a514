// Copyright the amr authors.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package amr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestHierarchy(t *testing.T, maxLevel int) *Hierarchy {
	t.Helper()
	return NewHierarchy(0, 1, maxLevel, 5, 5, nil)
}

func TestAllocateAndFreePatch(t *testing.T) {
	h := newTestHierarchy(t, 1)
	p, err := h.AllocatePatch(0, ClassReal, [3]int64{0, 0, 0}, 0, false)
	require.NoError(t, err)
	require.Equal(t, PS, p.Fluid[0].Shape[1])

	lt, err := h.Level(0)
	require.NoError(t, err)
	require.Equal(t, 1, lt.RealCount())

	require.NoError(t, h.FreePatch(p.ID()))
	require.Equal(t, 0, lt.RealCount())
}

func TestSetSiblingMaintainsReciprocity(t *testing.T) {
	h := newTestHierarchy(t, 0)
	a, err := h.AllocatePatch(0, ClassReal, [3]int64{0, 0, 0}, 0, false)
	require.NoError(t, err)
	b, err := h.AllocatePatch(0, ClassReal, [3]int64{1, 0, 0}, 0, false)
	require.NoError(t, err)

	require.NoError(t, h.SetSibling(a.ID(), FaceXPlus, b.ID()))
	require.NoError(t, h.CheckReciprocity())

	require.Equal(t, b.ID(), a.Sibling[FaceXPlus])
	require.Equal(t, a.ID(), b.Sibling[FaceXMinus])
}

func TestFreePatchUnlinksSiblings(t *testing.T) {
	h := newTestHierarchy(t, 0)
	a, err := h.AllocatePatch(0, ClassReal, [3]int64{0, 0, 0}, 0, false)
	require.NoError(t, err)
	b, err := h.AllocatePatch(0, ClassReal, [3]int64{1, 0, 0}, 0, false)
	require.NoError(t, err)
	require.NoError(t, h.SetSibling(a.ID(), FaceXPlus, b.ID()))

	require.NoError(t, h.FreePatch(b.ID()))
	require.Equal(t, NoPatch, a.Sibling[FaceXPlus])
}

func TestGlobalIDsOrdersByLevelThenLBIdx(t *testing.T) {
	perLevel := [][]GIDInput{
		{
			{Rank: 0, LBIdxs: []uint64{5, 1}},
			{Rank: 1, LBIdxs: []uint64{3}},
		},
		{
			{Rank: 0, LBIdxs: []uint64{2}},
		},
	}
	gids := GlobalIDs(perLevel)
	require.Len(t, gids, 2)

	// Level 0 has three patches (GIDs 0,1,2); level 1's single patch must
	// start right after, at GID 3.
	require.ElementsMatch(t, []int64{0, 1, 2}, gids[0])
	require.Equal(t, []int64{3}, gids[1])

	// Within level 0, rank 0's LBIdx=1 patch sorts before its LBIdx=5
	// patch, and rank 1's LBIdx=3 patch sorts between them.
	require.Equal(t, int64(2), gids[0][0]) // rank0, local0 (lbidx 5) -> highest
	require.Equal(t, int64(0), gids[0][1]) // rank0, local1 (lbidx 1) -> lowest
}

func TestAllocatePatchLevelOutOfRange(t *testing.T) {
	h := newTestHierarchy(t, 0)
	_, err := h.AllocatePatch(5, ClassReal, [3]int64{}, 0, false)
	require.Error(t, err)
}
