// Copyright the amr authors.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package amr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spatialmodel/amr/internal/amrerr"
)

func TestSlabRangeHugsSharedFace(t *testing.T) {
	lo, hi := slabRange(FaceXPlus, 2)
	assert.Equal(t, [3]int{PS - 2, 0, 0}, lo)
	assert.Equal(t, [3]int{PS, PS, PS}, hi)

	lo, hi = slabRange(FaceYMinus, 3)
	assert.Equal(t, [3]int{0, 0, 0}, lo)
	assert.Equal(t, [3]int{PS, 3, PS}, hi)
}

func TestExchangeTagMatchesBetweenSenderAndReceiver(t *testing.T) {
	// The sender tags with its own direction d. Tags for opposite faces of
	// the same LBIdx must differ, so the two directions never collide.
	senderTag := exchangeTag(2, General, FaceXPlus, 42)
	oppositeTag := exchangeTag(2, General, FaceXPlus.Mirror(), 42)
	assert.NotEqual(t, senderTag, oppositeTag, "opposite faces of the same LBIdx must not collide")

	// recvAndUnpack recomputes using d.Mirror() of the direction it holds,
	// which must reproduce the sender's own tag exactly.
	assert.Equal(t, senderTag, exchangeTag(2, General, FaceXPlus.Mirror().Mirror(), 42))
}

// buildCrossRankPair creates two single-patch hierarchies on ranks 0 and 1,
// linked as FaceXPlus/FaceXMinus siblings, with SendP/RecvP populated as
// PlanSiblingExchange would for a real<->buffer pair: rank 0's real patch
// and rank 1's buffer mirror of it (and vice versa).
func buildCrossRankPair(t *testing.T) (h0, h1 *Hierarchy, real0, buf0, real1, buf1 *Patch) {
	t.Helper()
	h0 = NewHierarchy(0, 2, 0, 2, 2, nil)
	h1 = NewHierarchy(1, 2, 0, 2, 2, nil)

	var err error
	real0, err = h0.AllocatePatch(0, ClassReal, [3]int64{0, 0, 0}, 0, false)
	require.NoError(t, err)
	buf1, err = h1.AllocatePatch(0, ClassSiblingBuffer, [3]int64{0, 0, 0}, 0, false)
	require.NoError(t, err)

	real1, err = h1.AllocatePatch(0, ClassReal, [3]int64{1, 0, 0}, 1, false)
	require.NoError(t, err)
	buf0, err = h0.AllocatePatch(0, ClassSiblingBuffer, [3]int64{1, 0, 0}, 1, false)
	require.NoError(t, err)

	require.NoError(t, h0.SetSibling(real0.ID(), FaceXPlus, buf0.ID()))
	require.NoError(t, h1.SetSibling(real1.ID(), FaceXMinus, buf1.ID()))

	lt0, err := h0.Level(0)
	require.NoError(t, err)
	lt0.SendP[FaceXPlus] = []PatchID{real0.ID()}
	lt0.RecvP[FaceXPlus] = []PatchID{buf0.ID()}

	lt1, err := h1.Level(0)
	require.NoError(t, err)
	lt1.SendP[FaceXMinus] = []PatchID{real1.ID()}
	lt1.RecvP[FaceXMinus] = []PatchID{buf1.ID()}

	return h0, h1, real0, buf0, real1, buf1
}

func TestExchangeGeneralRoundTripsGhostData(t *testing.T) {
	h0, h1, real0, buf0, real1, buf1 := buildCrossRankPair(t)
	transport := NewLocalTransport()
	ctx := context.Background()

	for i := range real0.Fluid[0].Elements {
		real0.Fluid[0].Elements[i] = 1.5
	}
	for i := range real1.Fluid[0].Elements {
		real1.Fluid[0].Elements[i] = 9.5
	}

	opts := ExchangeOptions{Vars: []int{0, 1}, GhostWidth: 1, Slot: 0}

	done := make(chan error, 2)
	go func() { done <- Exchange(ctx, h0, 0, General, transport.RankView(0), opts) }()
	go func() { done <- Exchange(ctx, h1, 0, General, transport.RankView(1), opts) }()
	require.NoError(t, <-done)
	require.NoError(t, <-done)

	// Each buffer patch shares its mirrored real patch's corner and index
	// space, so the received slab lands at the same local coordinates the
	// sender read it from: buf0 mirrors real1 and receives real1's west
	// face (x=0); buf1 mirrors real0 and receives real0's east face
	// (x=PS-1).
	assert.Equal(t, 9.5, buf0.Fluid[0].Get(0, 0, 0, 0))
	assert.Equal(t, 1.5, buf1.Fluid[0].Get(0, PS-1, 0, 0))
}

func TestExchangeRejectsFluidMaskOnPotentialMode(t *testing.T) {
	h := newTestHierarchy(t, 0)
	_, err := h.AllocatePatch(0, ClassReal, [3]int64{0, 0, 0}, 0, false)
	require.NoError(t, err)

	opts := ExchangeOptions{Vars: []int{0}, GhostWidth: 1, Slot: 0}
	err = Exchange(context.Background(), h, 0, PotForPoisson, NewLocalTransport().RankView(0), opts)
	require.Error(t, err)
	assert.True(t, amrerr.Is(err, amrerr.KindPrecondition))
}

func TestExchangeRejectsFluidMaskOnCoarseFineFlux(t *testing.T) {
	h := newTestHierarchy(t, 0)
	_, err := h.AllocatePatch(0, ClassReal, [3]int64{0, 0, 0}, 0, false)
	require.NoError(t, err)

	opts := ExchangeOptions{Vars: []int{0}, GhostWidth: 1, Slot: 0}
	err = Exchange(context.Background(), h, 0, CoarseFineFlux, NewLocalTransport().RankView(0), opts)
	require.Error(t, err)
	assert.True(t, amrerr.Is(err, amrerr.KindPrecondition))
}

func TestExchangeRejectsCoarseFineFluxWithNoFluxRegisters(t *testing.T) {
	h := newTestHierarchy(t, 0)
	_, err := h.AllocatePatch(0, ClassReal, [3]int64{0, 0, 0}, 0, false)
	require.NoError(t, err)

	opts := ExchangeOptions{GhostWidth: 1, Slot: 0}
	err = Exchange(context.Background(), h, 0, CoarseFineFlux, NewLocalTransport().RankView(0), opts)
	require.Error(t, err)
	assert.True(t, amrerr.Is(err, amrerr.KindNonApplicable))
}
