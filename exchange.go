// Copyright the amr authors.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package amr

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"hash/fnv"

	"github.com/ctessum/sparse"

	"github.com/spatialmodel/amr/internal/amrerr"
)

// Mode selects one of the six buffer-exchange variants (spec §4.3). All six
// share the same pack -> transport -> unpack skeleton; they differ in which
// per-patch array they read and write and, for CoarseFineFlux, whether the
// unpack step overwrites or accumulates.
type Mode int

const (
	// General refreshes every sibling buffer's fluid data, the steady-state
	// exchange between integration substeps.
	General Mode = iota
	// AfterRefine refreshes fluid buffers following a refine/derefine pass,
	// when sibling linkage itself may have changed.
	AfterRefine
	// AfterFixup refreshes fluid buffers following flux correction and
	// restriction, which both mutate cells the next substep's ghost zones
	// depend on.
	AfterFixup
	// PotForPoisson refreshes potential buffers between Poisson relaxation
	// sweeps.
	PotForPoisson
	// PotAfterRefine refreshes potential buffers following a refine pass.
	PotAfterRefine
	// CoarseFineFlux sums fine-patch flux registers into their coarse
	// partner across rank boundaries.
	CoarseFineFlux
)

func (m Mode) String() string {
	switch m {
	case General:
		return "general"
	case AfterRefine:
		return "after_refine"
	case AfterFixup:
		return "after_fixup"
	case PotForPoisson:
		return "pot_for_poisson"
	case PotAfterRefine:
		return "pot_after_refine"
	case CoarseFineFlux:
		return "coarse_fine_flux"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func (m Mode) usesPotential() bool {
	return m == PotForPoisson || m == PotAfterRefine
}

// ExchangeOptions configures one call to Exchange.
type ExchangeOptions struct {
	// Vars selects which variable indices to pack, into the fluid array's
	// leading dimension. It must be empty for potential and flux modes, which
	// always carry their single field / all flux variables; validate rejects
	// a non-empty mask there.
	Vars []int
	// GhostWidth is how many cells deep, measured from the shared face, to
	// exchange; it must be in [1, GhostMax].
	GhostWidth int
	// Slot selects which fluid/potential sandglass slot to read/write.
	Slot Sandglass
}

// validate enforces spec §4.3's mode/variable-mask compatibility on top of
// the plain range checks: a potential mode carries the single potential
// field and nothing else, and CoarseFineFlux carries flux registers, which
// only exist where the hierarchy was configured with flux variables and the
// target level actually has coarse-fine boundaries.
func (o ExchangeOptions) validate(mode Mode, h *Hierarchy, level int) error {
	if o.GhostWidth < 1 || o.GhostWidth > GhostMax {
		return amrerr.New(amrerr.KindPrecondition, "ExchangeOptions.validate",
			fmt.Sprintf("ghost width %d out of range [1,%d]", o.GhostWidth, GhostMax))
	}
	if !o.Slot.Valid() {
		return amrerr.New(amrerr.KindPrecondition, "ExchangeOptions.validate", "invalid sandglass slot")
	}
	for _, v := range o.Vars {
		if v < 0 || v >= h.NumFluidVars {
			return amrerr.New(amrerr.KindPrecondition, "ExchangeOptions.validate",
				fmt.Sprintf("variable index %d out of range [0,%d)", v, h.NumFluidVars))
		}
	}
	switch {
	case mode.usesPotential():
		if len(o.Vars) != 0 {
			return amrerr.New(amrerr.KindPrecondition, "ExchangeOptions.validate",
				fmt.Sprintf("mode %s exchanges potential only, got fluid variable mask %v", mode, o.Vars))
		}
	case mode == CoarseFineFlux:
		if len(o.Vars) != 0 {
			return amrerr.New(amrerr.KindPrecondition, "ExchangeOptions.validate",
				fmt.Sprintf("mode %s exchanges flux registers only, got fluid variable mask %v", mode, o.Vars))
		}
		if h.NumFluxVars <= 0 {
			return amrerr.New(amrerr.KindPrecondition, "ExchangeOptions.validate",
				"no flux variables configured for this hierarchy")
		}
		if !levelHasFluxRegisters(h, level) {
			return amrerr.New(amrerr.KindNonApplicable, "ExchangeOptions.validate",
				fmt.Sprintf("level %d has no allocated flux registers", level))
		}
	}
	return nil
}

// levelHasFluxRegisters reports whether any real patch at level owns at
// least one allocated flux register, i.e. the level has a coarse-fine
// boundary a CoarseFineFlux exchange could actually act on.
func levelHasFluxRegisters(h *Hierarchy, level int) bool {
	lt, err := h.Level(level)
	if err != nil {
		return false
	}
	h.mu.RLock()
	ids := append([]PatchID(nil), lt.RealIDs()...)
	h.mu.RUnlock()
	for _, id := range ids {
		p, err := h.Lookup(id)
		if err != nil {
			continue
		}
		for d := Direction(0); d < NumFaceDirections; d++ {
			if p.HasFlux(d) {
				return true
			}
		}
	}
	return false
}

// ghostMessage is the wire format for one packed slab: which variables (for
// fluid messages; empty for scalar potential/flux ones), the cell range it
// covers, and the flattened values in row-major (var, x, y, z) order.
type ghostMessage struct {
	Vars   []int
	Lo, Hi [3]int
	Data   []float64
}

// slabRange returns, for each axis, the half-open cell range a message in
// direction d covers: the full width on axes the direction doesn't move
// along, and a ghostWidth-thick slice hugging the shared face on the axis it
// does. Buffer patches share their mirrored real patch's corner and index
// space, so the same range applies unchanged on both the packing and the
// unpacking side.
func slabRange(d Direction, ghostWidth int) (lo, hi [3]int) {
	dx, dy, dz := d.Offset()
	offsets := [3]int{dx, dy, dz}
	for a, o := range offsets {
		switch {
		case o < 0:
			lo[a], hi[a] = 0, ghostWidth
		case o > 0:
			lo[a], hi[a] = PS-ghostWidth, PS
		default:
			lo[a], hi[a] = 0, PS
		}
	}
	return lo, hi
}

func exchangeTag(level int, mode Mode, d Direction, lbIdx uint64) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%d|%d|%d", level, mode, d, lbIdx)
	return h.Sum64()
}

func extractVectorSlab(arr *sparse.DenseArray, vars []int, lo, hi [3]int) []float64 {
	out := make([]float64, 0, len(vars)*(hi[0]-lo[0])*(hi[1]-lo[1])*(hi[2]-lo[2]))
	for _, v := range vars {
		for x := lo[0]; x < hi[0]; x++ {
			for y := lo[1]; y < hi[1]; y++ {
				for z := lo[2]; z < hi[2]; z++ {
					out = append(out, arr.Get(v, x, y, z))
				}
			}
		}
	}
	return out
}

func writeVectorSlab(arr *sparse.DenseArray, vars []int, lo, hi [3]int, data []float64) {
	i := 0
	for _, v := range vars {
		for x := lo[0]; x < hi[0]; x++ {
			for y := lo[1]; y < hi[1]; y++ {
				for z := lo[2]; z < hi[2]; z++ {
					arr.Set(data[i], v, x, y, z)
					i++
				}
			}
		}
	}
}

func extractScalarSlab(arr *sparse.DenseArray, lo, hi [3]int) []float64 {
	out := make([]float64, 0, (hi[0]-lo[0])*(hi[1]-lo[1])*(hi[2]-lo[2]))
	for x := lo[0]; x < hi[0]; x++ {
		for y := lo[1]; y < hi[1]; y++ {
			for z := lo[2]; z < hi[2]; z++ {
				out = append(out, arr.Get(x, y, z))
			}
		}
	}
	return out
}

func writeScalarSlab(arr *sparse.DenseArray, lo, hi [3]int, data []float64) {
	i := 0
	for x := lo[0]; x < hi[0]; x++ {
		for y := lo[1]; y < hi[1]; y++ {
			for z := lo[2]; z < hi[2]; z++ {
				arr.Set(data[i], x, y, z)
				i++
			}
		}
	}
}

// Exchange runs one pack/transport/unpack pass for the given level and mode
// (spec §4.3, C3). view is the caller's rank-scoped Transport (see
// transport.go); Exchange blocks until every message this rank is party to
// at this level has been sent and received. The sibling exchange planner
// (sibling.go) must have already populated the level's SendP/RecvP (or
// FluxSendP/FluxRecvP) tables.
func Exchange(ctx context.Context, h *Hierarchy, level int, mode Mode, view Transport, opts ExchangeOptions) error {
	if err := opts.validate(mode, h, level); err != nil {
		return err
	}
	if mode == CoarseFineFlux {
		return exchangeFlux(ctx, h, level, view)
	}

	lt, err := h.Level(level)
	if err != nil {
		return err
	}
	h.mu.RLock()
	sendLists := lt.SendP
	recvLists := lt.RecvP
	h.mu.RUnlock()

	for d := Direction(0); d < NumDirections; d++ {
		for _, id := range sendLists[d] {
			if err := packAndSend(ctx, h, id, d, mode, view, opts); err != nil {
				return err
			}
		}
	}
	for d := Direction(0); d < NumDirections; d++ {
		for _, id := range recvLists[d] {
			if err := recvAndUnpack(ctx, h, id, d, mode, view, opts); err != nil {
				return err
			}
		}
	}
	return nil
}

// packAndSend publishes real patch id's d-face slab toward the remote rank
// that owns the neighbor in direction d (found via id's own sibling link).
func packAndSend(ctx context.Context, h *Hierarchy, id PatchID, d Direction, mode Mode, view Transport, opts ExchangeOptions) error {
	p, err := h.Lookup(id)
	if err != nil {
		return err
	}
	neighbor, err := h.Lookup(p.Sibling[d])
	if err != nil {
		return err
	}
	lo, hi := slabRange(d, opts.GhostWidth)
	msg := ghostMessage{Lo: lo, Hi: hi}
	if mode.usesPotential() {
		msg.Data = extractScalarSlab(p.Pot[opts.Slot], lo, hi)
	} else {
		msg.Vars = opts.Vars
		msg.Data = extractVectorSlab(p.Fluid[opts.Slot], opts.Vars, lo, hi)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return amrerr.Wrap(amrerr.KindTransport, "packAndSend", "encoding ghost message", err)
	}
	tag := exchangeTag(p.Level, mode, d, p.LBIdx)
	if err := view.Send(ctx, neighbor.Rank, tag, buf.Bytes()); err != nil {
		return amrerr.Wrap(amrerr.KindTransport, "packAndSend", "send", err)
	}
	return nil
}

// recvAndUnpack fills buffer patch id (in RecvP[d]) from the remote rank it
// mirrors. The sender used its own direction d.Mirror() (the face pointing
// back at this rank), so the tag must match that, not d.
func recvAndUnpack(ctx context.Context, h *Hierarchy, id PatchID, d Direction, mode Mode, view Transport, opts ExchangeOptions) error {
	p, err := h.Lookup(id)
	if err != nil {
		return err
	}
	senderDirection := d.Mirror()
	tag := exchangeTag(p.Level, mode, senderDirection, p.LBIdx)
	payload, err := view.Recv(ctx, p.Rank, tag)
	if err != nil {
		return amrerr.Wrap(amrerr.KindTransport, "recvAndUnpack", "recv", err)
	}
	var msg ghostMessage
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&msg); err != nil {
		return amrerr.Wrap(amrerr.KindTransport, "recvAndUnpack", "decoding ghost message", err)
	}
	if mode.usesPotential() {
		writeScalarSlab(p.Pot[opts.Slot], msg.Lo, msg.Hi, msg.Data)
	} else {
		writeVectorSlab(p.Fluid[opts.Slot], msg.Vars, msg.Lo, msg.Hi, msg.Data)
	}
	return nil
}

// exchangeFlux sums fine-level flux registers into their coarse partners
// (spec §4.3, CoarseFineFlux mode). Same-rank pairs are added directly,
// in-process. Cross-rank pairs are sent to the coarse owner; the coarse
// owner must hold a ClassCoarseBuffer mirror of each remote fine
// contributor at this level, which is where the matching Recv calls are
// issued from. This package does not create those buffer patches; the
// caller allocates and links them.
func exchangeFlux(ctx context.Context, h *Hierarchy, level int, view Transport) error {
	lt, err := h.Level(level)
	if err != nil {
		return err
	}
	h.mu.RLock()
	sendLists := lt.FluxSendP
	recvLists := lt.FluxRecvP
	bufferIDs := append([]PatchID(nil), lt.BufferIDs(ClassCoarseBuffer)...)
	h.mu.RUnlock()

	for d := Direction(0); d < NumFaceDirections; d++ {
		for i, fineID := range sendLists[d] {
			fine, err := h.Lookup(fineID)
			if err != nil {
				return err
			}
			coarseID := recvLists[d][i]
			coarse, err := h.Lookup(coarseID)
			if err != nil {
				return err
			}
			m := d.Mirror()
			if coarse.Rank == h.Rank {
				if coarse.Flux[m] == nil {
					coarse.Flux[m] = sparse.ZerosDense(h.NumFluxVars, PS, PS)
				}
				for k, v := range fine.Flux[d].Elements {
					coarse.Flux[m].Elements[k] += v
				}
				continue
			}
			var buf bytes.Buffer
			msg := ghostMessage{Data: append([]float64(nil), fine.Flux[d].Elements...)}
			if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
				return amrerr.Wrap(amrerr.KindTransport, "exchangeFlux", "encoding flux message", err)
			}
			tag := exchangeTag(level, CoarseFineFlux, d, fine.LBIdx)
			if err := view.Send(ctx, coarse.Rank, tag, buf.Bytes()); err != nil {
				return amrerr.Wrap(amrerr.KindTransport, "exchangeFlux", "send", err)
			}
		}
	}

	for _, bid := range bufferIDs {
		b, err := h.Lookup(bid)
		if err != nil {
			return err
		}
		for d := Direction(0); d < NumFaceDirections; d++ {
			target := b.Sibling[d]
			if target < 0 {
				continue
			}
			coarse, err := h.Lookup(target)
			if err != nil || coarse.Rank != h.Rank {
				continue
			}
			tag := exchangeTag(level, CoarseFineFlux, d, b.LBIdx)
			payload, err := view.Recv(ctx, b.Rank, tag)
			if err != nil {
				return amrerr.Wrap(amrerr.KindTransport, "exchangeFlux", "recv", err)
			}
			var msg ghostMessage
			if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&msg); err != nil {
				return amrerr.Wrap(amrerr.KindTransport, "exchangeFlux", "decoding flux message", err)
			}
			m := d.Mirror()
			if coarse.Flux[m] == nil {
				coarse.Flux[m] = sparse.ZerosDense(h.NumFluxVars, PS, PS)
			}
			for k, v := range msg.Data {
				coarse.Flux[m].Elements[k] += v
			}
		}
	}
	return nil
}
