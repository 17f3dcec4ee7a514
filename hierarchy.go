// Copyright the amr authors.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package amr

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ctessum/sparse"
	"github.com/sirupsen/logrus"

	"github.com/spatialmodel/amr/internal/amrerr"
)

// LevelTable holds one level's patch bookkeeping: the ordered id sequence
// split into real/buffer ranges, and the send/recv plans C2 produces for
// each of the 26 neighbor directions plus the 6 flux faces.
type LevelTable struct {
	Level int

	// IDs is ordered real patches first, then buffer patches grouped by
	// class, matching spec §3's [0,NReal) ∪ [NReal,NReal+NBuffer) layout.
	IDs []PatchID
	// NPatchComma[k] is the number of ids in classes [0,k]; NPatchComma has
	// numPatchClasses entries, NPatchComma[numPatchClasses-1] == len(IDs).
	NPatchComma [numPatchClasses]int

	SendP [NumDirections][]PatchID
	RecvP [NumDirections][]PatchID

	FluxSendP [NumFaceDirections][]PatchID
	FluxRecvP [NumFaceDirections][]PatchID
}

// RealCount returns the number of rank-owned patches at this level.
func (lt *LevelTable) RealCount() int { return lt.NPatchComma[ClassReal] }

// RealIDs returns the slice of rank-owned patch ids at this level.
func (lt *LevelTable) RealIDs() []PatchID { return lt.IDs[:lt.NPatchComma[ClassReal]] }

// BufferIDs returns the slice of buffer patch ids of a given class.
func (lt *LevelTable) BufferIDs(class PatchClass) []PatchID {
	if class == ClassReal {
		return lt.RealIDs()
	}
	return lt.IDs[lt.NPatchComma[class-1]:lt.NPatchComma[class]]
}

// Hierarchy owns every patch record on this rank: the arena, per-level
// tables, and father/son/sibling linkage. It is an explicit object, not a
// package singleton; every
// component that needs hierarchy state receives *Hierarchy or a narrower
// view as a parameter.
type Hierarchy struct {
	mu sync.RWMutex

	Rank   int
	NRanks int

	NumFluidVars int
	NumFluxVars  int
	MaxLevel     int

	arena  map[PatchID]*Patch
	nextID PatchID
	levels []*LevelTable

	UseLoadBalance bool

	Log *logrus.Entry
}

// NewHierarchy constructs an empty hierarchy for the given rank and field
// counts. numFluidVars is V in spec §3; numFluxVars is F (<= numFluidVars,
// the subset of fields that accumulate flux registers).
func NewHierarchy(rank, nranks, maxLevel, numFluidVars, numFluxVars int, log *logrus.Entry) *Hierarchy {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	h := &Hierarchy{
		Rank:         rank,
		NRanks:       nranks,
		MaxLevel:     maxLevel,
		NumFluidVars: numFluidVars,
		NumFluxVars:  numFluxVars,
		arena:        make(map[PatchID]*Patch),
		levels:       make([]*LevelTable, maxLevel+1),
		Log:          log.WithField("component", "hierarchy"),
	}
	for l := 0; l <= maxLevel; l++ {
		h.levels[l] = &LevelTable{Level: l}
	}
	return h
}

// Level returns the table for level l, or an error if l is out of range.
func (h *Hierarchy) Level(l int) (*LevelTable, error) {
	if l < 0 || l > h.MaxLevel {
		return nil, amrerr.New(amrerr.KindPrecondition, "Hierarchy.Level",
			fmt.Sprintf("level %d out of range [0,%d]", l, h.MaxLevel))
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.levels[l], nil
}

// Lookup returns the patch record for id.
func (h *Hierarchy) Lookup(id PatchID) (*Patch, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	p, ok := h.arena[id]
	if !ok {
		return nil, amrerr.New(amrerr.KindPrecondition, "Hierarchy.Lookup",
			fmt.Sprintf("no such patch id %d", id))
	}
	return p, nil
}

// AllocatePatch creates a new patch at level with the given corner and
// class, wires its fluid (and, if withPotential, potential) buffers, and
// appends it to the level's ordered id table in the correct class range.
// It does not set up father/son/sibling links; callers (refinement, the
// checkpoint loader, or whatever code builds buffer patches) do that
// afterward with SetFather, SetSon, and SetSibling.
func (h *Hierarchy) AllocatePatch(level int, class PatchClass, corner [3]int64, rank int, withPotential bool) (*Patch, error) {
	if level < 0 || level > h.MaxLevel {
		return nil, amrerr.New(amrerr.KindPrecondition, "Hierarchy.AllocatePatch",
			fmt.Sprintf("level %d out of range [0,%d]", level, h.MaxLevel))
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++

	p := &Patch{
		id:     id,
		Level:  level,
		Rank:   rank,
		Corner: corner,
		Father: NoPatch,
		Son:    NoPatch,
		// LBIdx is derived purely from geometry, so a buffer patch built
		// later with the same corner as the real patch it mirrors gets the
		// identical key for free; the exchange engine relies on that to
		// address messages across ranks (see exchange.go).
		LBIdx: MortonLBIdx(corner),
	}
	for d := range p.Sibling {
		p.Sibling[d] = NoPatch
	}
	p.Fluid[0] = sparse.ZerosDense(h.NumFluidVars, PS, PS, PS)
	p.Fluid[1] = sparse.ZerosDense(h.NumFluidVars, PS, PS, PS)
	if withPotential {
		p.Pot[0] = sparse.ZerosDense(PS, PS, PS)
		p.Pot[1] = sparse.ZerosDense(PS, PS, PS)
	}

	h.arena[id] = p
	lt := h.levels[level]
	insertIntoClass(lt, id, class)
	return p, nil
}

// insertIntoClass appends id to the end of class's range within lt.IDs and
// shifts the cumulative NPatchComma boundaries of every later class.
func insertIntoClass(lt *LevelTable, id PatchID, class PatchClass) {
	insertAt := lt.NPatchComma[class]
	lt.IDs = append(lt.IDs, NoPatch)
	copy(lt.IDs[insertAt+1:], lt.IDs[insertAt:])
	lt.IDs[insertAt] = id
	for c := class; c < numPatchClasses; c++ {
		lt.NPatchComma[c]++
	}
}

// FreePatch releases a patch's owned buffers, clears every neighbor's
// sibling link that points back at it, and removes it from its level's id
// table. Father and son links are left as they are; the caller resets them
// (Derefine sets the father's Son back to NoPatch).
func (h *Hierarchy) FreePatch(id PatchID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.arena[id]
	if !ok {
		return amrerr.New(amrerr.KindPrecondition, "Hierarchy.FreePatch",
			fmt.Sprintf("no such patch id %d", id))
	}

	// Unlink from siblings.
	for d, sib := range p.Sibling {
		if sib < 0 {
			continue
		}
		if neighbor, ok := h.arena[sib]; ok {
			m := Direction(d).Mirror()
			if neighbor.Sibling[m] == id {
				neighbor.Sibling[m] = NoPatch
			}
		}
	}
	lt := h.levels[p.Level]
	removeFromTable(lt, id)
	delete(h.arena, id)
	return nil
}

func removeFromTable(lt *LevelTable, id PatchID) {
	idx := -1
	for i, v := range lt.IDs {
		if v == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	lt.IDs = append(lt.IDs[:idx], lt.IDs[idx+1:]...)
	for c := 0; c < int(numPatchClasses); c++ {
		if idx < lt.NPatchComma[c] {
			lt.NPatchComma[c]--
		}
	}
}

// SetFather sets child's father link; it does not touch the father's Son
// pointer, which refinement sets once for the whole group of 8 children.
func (h *Hierarchy) SetFather(child, father PatchID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.arena[child]
	if !ok {
		return amrerr.New(amrerr.KindPrecondition, "Hierarchy.SetFather", "unknown child id")
	}
	c.Father = father
	return nil
}

// SetSon sets father's son link to the first of its 8 new children.
func (h *Hierarchy) SetSon(father, firstChild PatchID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.arena[father]
	if !ok {
		return amrerr.New(amrerr.KindPrecondition, "Hierarchy.SetSon", "unknown father id")
	}
	f.Son = firstChild
	return nil
}

// SetSibling links p and neighbor as mutual siblings in direction d and its
// mirror, maintaining reciprocity.
func (h *Hierarchy) SetSibling(p PatchID, d Direction, neighbor PatchID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	pp, ok := h.arena[p]
	if !ok {
		return amrerr.New(amrerr.KindPrecondition, "Hierarchy.SetSibling", "unknown patch id")
	}
	pp.Sibling[d] = neighbor
	if neighbor >= 0 {
		if nn, ok := h.arena[neighbor]; ok {
			nn.Sibling[d.Mirror()] = p
		}
	}
	return nil
}

// CheckReciprocity verifies sibling and father/son reciprocity across every
// allocated patch. It is the debug-mode invariant check named in spec §4.1
// and §7; callers run it periodically, not on every step.
func (h *Hierarchy) CheckReciprocity() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, p := range h.arena {
		for d, sib := range p.Sibling {
			if sib < 0 {
				continue
			}
			neighbor, ok := h.arena[sib]
			if !ok {
				return amrerr.New(amrerr.KindInvariant, "Hierarchy.CheckReciprocity",
					fmt.Sprintf("patch %d direction %d points at missing patch %d", id, d, sib))
			}
			m := Direction(d).Mirror()
			if neighbor.Sibling[m] != id {
				return amrerr.New(amrerr.KindInvariant, "Hierarchy.CheckReciprocity",
					fmt.Sprintf("sibling(sibling(%d,%d),mirror)=%d, want %d", id, d, neighbor.Sibling[m], id))
			}
		}
		if p.Son >= 0 && p.Son != SonOnRemoteRank {
			for c := PatchID(0); c < 8; c++ {
				child, ok := h.arena[p.Son+c]
				if !ok {
					continue // child may live on another rank
				}
				if child.Father != id {
					return amrerr.New(amrerr.KindInvariant, "Hierarchy.CheckReciprocity",
						fmt.Sprintf("son %d of patch %d has father %d", p.Son+c, id, child.Father))
				}
			}
		}
	}
	return nil
}

// FlushFluxRegisters zeroes every allocated flux register on real and
// buffer patches of level l so they can accumulate fresh contributions next
// step (spec §4.4(a)).
func (h *Hierarchy) FlushFluxRegisters(l int) error {
	lt, err := h.Level(l)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range lt.IDs {
		p := h.arena[id]
		for d := 0; d < NumFaceDirections; d++ {
			if p.Flux[d] != nil {
				for i := range p.Flux[d].Elements {
					p.Flux[d].Elements[i] = 0
				}
			}
		}
	}
	return nil
}

// GIDInput is one rank's contribution to a level's global-id ordering: the
// LBIdx of each locally-owned real patch, in local order.
type GIDInput struct {
	Rank   int
	LBIdxs []uint64
}

// GlobalIDs computes the deterministic global id (GID) of every real patch
// across all ranks and levels, per spec §4.1: all level-0 patches first,
// then level-1, and so on; within a level, patches are ordered by ascending
// LBIdx. The function is pure — any rank computes identical results given
// identical per-level, per-rank inputs — which is the whole point: it lets
// the checkpoint writer (C7) and cross-rank consistency checks agree
// without further communication.
func GlobalIDs(perLevel [][]GIDInput) [][]int64 {
	gids := make([][]int64, len(perLevel))
	var base int64
	for l, ranks := range perLevel {
		type entry struct {
			rank, local int
			lbIdx       uint64
		}
		var entries []entry
		for _, r := range ranks {
			for i, k := range r.LBIdxs {
				entries = append(entries, entry{r.Rank, i, k})
			}
		}
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].lbIdx < entries[j].lbIdx })

		out := make([][]int64, len(ranks))
		for i, r := range ranks {
			out[i] = make([]int64, len(r.LBIdxs))
		}
		rankIndex := make(map[int]int, len(ranks))
		for i, r := range ranks {
			rankIndex[r.Rank] = i
		}
		for i, e := range entries {
			out[rankIndex[e.rank]][e.local] = base + int64(i)
		}
		gids[l] = flatten(out)
		base += int64(len(entries))
	}
	return gids
}

func flatten(rows [][]int64) []int64 {
	var total int
	for _, r := range rows {
		total += len(r)
	}
	out := make([]int64, 0, total)
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}
