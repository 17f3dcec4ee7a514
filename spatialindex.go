// Copyright the amr authors.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package amr

import (
	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
)

// indexedPatch is the value an rtree leaf holds: enough to resolve back to a
// PatchID and to refine a broad-phase X/Y hit down to an exact 3D match.
type indexedPatch struct {
	id     PatchID
	corner [3]int64
}

// Bounds satisfies geom.Bounder so indexedPatch can be inserted directly
// into an rtree.Rtree, following the teacher's convention of indexing the
// domain object itself (popgrid.go inserts *Cell, whose Bounds() comes from
// its polygon) rather than a separate key type.
func (ip indexedPatch) Bounds() *geom.Bounds {
	p := geom.Point{X: float64(ip.corner[0]), Y: float64(ip.corner[1])}
	return geom.NewBoundsPoint(p)
}

// PatchIndex resolves a patch's PatchID from its integer corner
// coordinates, the spatial lookup C2's planner needs when turning a
// neighbor's geometric position into a PatchID (spec §4's DOMAIN STACK).
// geom.Bounds is two-dimensional, so the index is built one per level and
// keyed on (corner.X, corner.Y) alone; corner.Z is disambiguated by an exact
// match over the (typically short) list of X/Y hits SearchIntersect returns,
// following popgrid.go's getCells, which does the same broad-phase-then-
// exact-match pattern for its own 2D-indexed, 3D (layer-tagged) grid.
type PatchIndex struct {
	trees []*rtree.Rtree // one per level
}

// NewPatchIndex builds an empty index with space for levels 0..maxLevel.
func NewPatchIndex(maxLevel int) *PatchIndex {
	idx := &PatchIndex{trees: make([]*rtree.Rtree, maxLevel+1)}
	for l := range idx.trees {
		idx.trees[l] = rtree.NewTree(25, 50)
	}
	return idx
}

// Insert adds a patch's corner to its level's tree.
func (idx *PatchIndex) Insert(level int, id PatchID, corner [3]int64) {
	idx.trees[level].Insert(indexedPatch{id: id, corner: corner})
}

// Lookup returns the patch ID at corner on level, and false if none is
// indexed there.
func (idx *PatchIndex) Lookup(level int, corner [3]int64) (PatchID, bool) {
	box := geom.NewBoundsPoint(geom.Point{X: float64(corner[0]), Y: float64(corner[1])})
	for _, hit := range idx.trees[level].SearchIntersect(box) {
		ip := hit.(indexedPatch)
		if ip.corner == corner {
			return ip.id, true
		}
	}
	return NoPatch, false
}

// Rebuild discards and repopulates level's tree from the hierarchy's current
// real patches, used after a refine/derefine pass changes the patch set.
func (idx *PatchIndex) Rebuild(h *Hierarchy, level int) error {
	lt, err := h.Level(level)
	if err != nil {
		return err
	}
	h.mu.RLock()
	ids := append([]PatchID(nil), lt.RealIDs()...)
	h.mu.RUnlock()

	idx.trees[level] = rtree.NewTree(25, 50)
	for _, id := range ids {
		p, err := h.Lookup(id)
		if err != nil {
			return err
		}
		idx.Insert(level, id, p.Corner)
	}
	return nil
}
