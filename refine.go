// Copyright the amr authors.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package amr

import (
	"fmt"

	"github.com/ctessum/sparse"

	"github.com/spatialmodel/amr/internal/amrerr"
)

// octantBit decodes child index c (0..7, Morton order) into its position
// within the father's 2x2x2 block of children: bit 0 is x, bit 1 is y,
// bit 2 is z.
func octantBit(c PatchID, axis int) int {
	return int((c >> uint(axis)) & 1)
}

// coarseFineNeighbor returns the coarse-level patch adjacent to child across
// face d, and whether that face is an "outward" face of child's octant
// (i.e. a candidate coarse-fine boundary at all). Faces toward a same-father
// sibling ("inward" faces) are never coarse-fine boundaries: the neighbor
// there is always another child of the same father, at the same level.
func coarseFineNeighbor(h *Hierarchy, father *Patch, childIdx PatchID, d Direction) (neighbor PatchID, outward bool) {
	dx, dy, dz := d.Offset()
	var axis, sign int
	switch {
	case dx != 0:
		axis, sign = 0, dx
	case dy != 0:
		axis, sign = 1, dy
	default:
		axis, sign = 2, dz
	}
	bit := octantBit(childIdx, axis)
	outward = (sign < 0 && bit == 0) || (sign > 0 && bit == 1)
	if !outward {
		return NoPatch, false
	}
	return father.Sibling[d], true
}

// isCoarseFineFace reports whether face d of the given child is a genuine
// coarse-fine boundary: an outward face whose coarse-level neighbor exists
// and is itself unrefined. An outward face with no neighbor is a domain
// boundary, not a coarse-fine boundary, and gets no flux register.
func isCoarseFineFace(h *Hierarchy, father *Patch, childIdx PatchID, d Direction) bool {
	neighbor, outward := coarseFineNeighbor(h, father, childIdx, d)
	if !outward || neighbor < 0 {
		return false
	}
	np, err := h.Lookup(neighbor)
	if err != nil {
		return false
	}
	return np.Son == NoPatch
}

// Refine creates eight children of the flagged patch p, in Morton order,
// copying interpolated field values in via interp, and registers flux
// faces on every newly exposed coarse-fine boundary (spec §3 Lifecycle).
// interp receives the father, the child index (0..7), and the child's
// activeFluid array as dst, and must fill dst; it is the
// fluid integrator's interpolation stencil, out of scope here (spec §1).
func Refine(h *Hierarchy, fatherID PatchID, activeFluid Sandglass, interp func(father *Patch, childIdx PatchID, dst *sparse.DenseArray)) error {
	father, err := h.Lookup(fatherID)
	if err != nil {
		return err
	}
	if !father.IsLeaf() {
		return amrerr.New(amrerr.KindPrecondition, "Refine", "patch already has children")
	}
	if father.Level+1 > h.MaxLevel {
		return amrerr.New(amrerr.KindPrecondition, "Refine",
			fmt.Sprintf("would exceed max level %d", h.MaxLevel))
	}

	withPot := father.Pot[0] != nil
	childLevel := father.Level + 1
	children := make([]*Patch, 8)
	for c := PatchID(0); c < 8; c++ {
		corner := father.Corner
		corner[0] += octantBit(c, 0) * (int64(1) << uint(h.MaxLevel-childLevel))
		corner[1] += octantBit(c, 1) * (int64(1) << uint(h.MaxLevel-childLevel))
		corner[2] += octantBit(c, 2) * (int64(1) << uint(h.MaxLevel-childLevel))

		child, err := h.AllocatePatch(childLevel, ClassReal, corner, father.Rank, withPot)
		if err != nil {
			return err
		}
		if err := h.SetFather(child.ID(), fatherID); err != nil {
			return err
		}
		interp(father, c, child.Fluid[activeFluid])
		children[c] = child
	}
	if err := h.SetSon(fatherID, children[0].ID()); err != nil {
		return err
	}

	// For each child's outward faces (those on the father's boundary),
	// allocate a flux register where the face meets a coarse leaf and link
	// the child toward that coarse neighbor. Inward faces between the 8
	// children are skipped here.
	for c := PatchID(0); c < 8; c++ {
		child := children[c]
		for d := Direction(0); d < NumDirections; d++ {
			if !d.IsFace() {
				continue // only face directions matter at the octant scale here
			}
			neighbor, outward := coarseFineNeighbor(h, father, c, d)
			if !outward {
				continue
			}
			if neighbor < 0 {
				continue // domain boundary: no coarse neighbor, no flux register
			}
			np, err := h.Lookup(neighbor)
			if err != nil {
				continue
			}
			if np.Son == NoPatch {
				// genuine coarse-fine boundary: allocate the register and
				// link the sibling pointer toward the coarse patch.
				child.Flux[d] = sparse.ZerosDense(h.NumFluxVars, PS, PS)
				if err := h.SetSibling(child.ID(), d, neighbor); err != nil {
					return err
				}
			}
		}
	}
	// Link inward (same-father) sibling pairs directly; these never carry
	// flux registers since both sides are at childLevel.
	for c := PatchID(0); c < 8; c++ {
		for d := Direction(0); d < NumFaceDirections; d++ {
			dx, dy, dz := d.Offset()
			var axis, sign int
			switch {
			case dx != 0:
				axis, sign = 0, dx
			case dy != 0:
				axis, sign = 1, dy
			default:
				axis, sign = 2, dz
			}
			bit := octantBit(c, axis)
			inward := (sign < 0 && bit == 1) || (sign > 0 && bit == 0)
			if !inward {
				continue
			}
			var delta PatchID
			switch axis {
			case 0:
				delta = PatchID(sign)
			case 1:
				delta = PatchID(2 * sign)
			case 2:
				delta = PatchID(4 * sign)
			}
			sibIdx := c + delta
			if sibIdx < 0 || sibIdx > 7 {
				continue
			}
			if err := h.SetSibling(children[c].ID(), d, children[sibIdx].ID()); err != nil {
				return err
			}
		}
	}
	return nil
}

// Derefine deletes the eight children of p and clears the flux registers
// that referenced them, per spec §3 Lifecycle.
func Derefine(h *Hierarchy, fatherID PatchID) error {
	father, err := h.Lookup(fatherID)
	if err != nil {
		return err
	}
	if father.IsLeaf() {
		return amrerr.New(amrerr.KindPrecondition, "Derefine", "patch has no children")
	}
	first := father.Son
	for c := PatchID(0); c < 8; c++ {
		childID := first + c
		child, err := h.Lookup(childID)
		if err != nil {
			continue // child lives on another rank
		}
		if !child.IsLeaf() {
			return amrerr.New(amrerr.KindPrecondition, "Derefine", "child is itself refined")
		}
		if err := h.FreePatch(childID); err != nil {
			return err
		}
	}
	return h.SetSon(fatherID, NoPatch)
}
