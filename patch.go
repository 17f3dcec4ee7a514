// Copyright the amr authors.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package amr

import "github.com/ctessum/sparse"

// PatchID identifies a patch within a Hierarchy's arena. Ids are never
// reused while a patch is live; they are never owning pointers, so
// father/son/sibling cycles live entirely in per-level tables, not in the
// Go type system (see DESIGN.md).
type PatchID int64

// Sentinel patch ids. Negative values distinguish the three different
// reasons a link can be absent, per spec §3.
const (
	// NoPatch marks an unallocated link: a root patch's father, an
	// unrefined patch's son, or a sibling direction with no neighbor
	// because it crosses a non-periodic domain boundary.
	NoPatch PatchID = -1
	// SonOnRemoteRank marks a son link whose children exist but are owned
	// by a different rank and so have no local PatchID.
	SonOnRemoteRank PatchID = -2
	// SiblingNotBuilt marks a sibling direction that could exist (the
	// domain is not bounded there) but whose buffer patch has not been
	// built yet, distinct from NoPatch's "boundary" meaning.
	SiblingNotBuilt PatchID = -3
)

// PatchClass distinguishes why a patch id appears in a level's ordered
// table: a rank-owned ("real") patch, or one of the buffer classes mirrored
// in from another rank to satisfy a stencil.
type PatchClass int

const (
	ClassReal PatchClass = iota
	ClassSiblingBuffer
	ClassCoarseBuffer
	numPatchClasses
)

// Patch is the atomic unit of computation and ownership: a PS x PS x PS
// cube of cells at one refinement level, double-buffered for fluid and
// potential fields, plus whatever flux registers its coarse-fine faces
// require.
type Patch struct {
	id    PatchID
	Level int
	Rank  int // owning rank; buffer patches mirror a different rank's Rank

	// Corner is this patch's lower corner on the level-0 integer grid,
	// in scale units independent of cell size.
	Corner [3]int64

	// Fluid holds two sandglass slots of shape (numFluidVars, PS, PS, PS).
	Fluid [2]*sparse.DenseArray

	// Pot holds two sandglass slots of shape (PS, PS, PS). Nil when the
	// run has no self-gravity.
	Pot [2]*sparse.DenseArray
	// PotExt holds a pseudo-ghost layer around Pot, shape
	// (PS+2*potExtGhost)^3, used by the particle pusher's finite
	// difference. Nil unless the run keeps pseudo-ghost potential.
	PotExt *sparse.DenseArray

	// Flux holds six face-sized registers of shape (numFluxVars, PS, PS),
	// allocated only for faces that border a coarser neighbor (a
	// coarse-fine boundary). Nil entries mean "not a coarse-fine face".
	Flux [NumFaceDirections]*sparse.DenseArray

	Father   PatchID
	Son      PatchID // first of 8 children, Morton order; NoPatch if unrefined
	Sibling  [NumDirections]PatchID
	LBIdx    uint64 // space-filling-curve key for the load-balance planner

	Particles *ParticleList
}

// ID returns the patch's identity within its hierarchy's arena.
func (p *Patch) ID() PatchID { return p.id }

// HasFlux reports whether face d carries an allocated flux register.
func (p *Patch) HasFlux(d Direction) bool {
	return d.IsFace() && p.Flux[d] != nil
}

// IsLeaf reports whether p has no children.
func (p *Patch) IsLeaf() bool {
	return p.Son == NoPatch
}

// potExtGhost is the width of the pseudo-ghost layer kept around Pot when a
// patch retains PotExt for the particle pusher's gradient stencil.
const potExtGhost = 1
