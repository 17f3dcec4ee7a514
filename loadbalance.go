// Copyright the amr authors.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package amr

import "sort"

// MortonLBIdx computes a level's space-filling-curve key for a patch corner,
// interleaving the bits of its three integer coordinates (a Morton/Z-order
// curve). It is the default LBIdx generator; a Hilbert-curve variant trades
// a little more bit-twiddling for better locality and can be substituted by
// any caller that assigns Patch.LBIdx directly, since GlobalIDs and the
// planners only ever compare LBIdx values, never recompute them.
func MortonLBIdx(corner [3]int64) uint64 {
	var key uint64
	for bit := 0; bit < 21; bit++ {
		key |= uint64((corner[0]>>uint(bit))&1) << uint(3*bit)
		key |= uint64((corner[1]>>uint(bit))&1) << uint(3*bit+1)
		key |= uint64((corner[2]>>uint(bit))&1) << uint(3*bit+2)
	}
	return key
}

// LBWeight reports the computational weight of a patch for load-balance
// partitioning. The default is uniform (every patch costs 1); callers
// running a model whose per-cell cost varies (e.g. chemistry substepping)
// can supply their own weight function to Repartition.
type LBWeight func(p *Patch) float64

// UniformWeight assigns every patch equal weight.
func UniformWeight(*Patch) float64 { return 1 }

// Repartition computes a new rank for every real patch at level l by walking
// the level's patches in ascending LBIdx order and splitting that ordering
// into nranks contiguous runs of roughly equal total weight. It returns the
// assignment as a map and changes nothing in the hierarchy: Patch.Rank is
// not updated, no patch data moves, and no buffer patches are built or
// freed. Repartition is deterministic: the same LBIdx and
// weight inputs produce the same assignment on every rank, which is what
// lets GlobalIDs agree without communication.
func Repartition(h *Hierarchy, level int, weight LBWeight) (map[PatchID]int, error) {
	if weight == nil {
		weight = UniformWeight
	}
	lt, err := h.Level(level)
	if err != nil {
		return nil, err
	}
	h.mu.RLock()
	ids := append([]PatchID(nil), lt.RealIDs()...)
	patches := make(map[PatchID]*Patch, len(ids))
	var total float64
	for _, id := range ids {
		p := h.arena[id]
		patches[id] = p
		total += weight(p)
	}
	h.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool {
		return patches[ids[i]].LBIdx < patches[ids[j]].LBIdx
	})

	assignment := make(map[PatchID]int, len(ids))
	if h.NRanks <= 0 || len(ids) == 0 {
		return assignment, nil
	}
	target := total / float64(h.NRanks)
	rank := 0
	var cum float64
	for _, id := range ids {
		assignment[id] = rank
		cum += weight(patches[id])
		if rank < h.NRanks-1 && target > 0 && cum >= target*float64(rank+1) {
			rank++
		}
	}
	return assignment, nil
}
