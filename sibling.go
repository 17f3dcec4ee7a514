// Copyright the amr authors.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package amr

// PlanSiblingExchange rebuilds a level's SendP/RecvP tables from the current
// sibling links (spec §4.2, C2). For every real patch p and every direction
// d, if the neighbor across d is a buffer patch owned by a different rank,
// p is appended to SendP[d] and that buffer patch to RecvP[d] at the same
// index: packing sends SendP[d][i]'s slab along face d to the neighbor's
// rank, and unpacking fills each RecvP[d][i] buffer with the slab sent by
// the remote real patch it mirrors. Neighbors come only from the existing
// Sibling links and each patch's Rank. There is a single planner: it does
// not consult LBIdx, and the Hierarchy's UseLoadBalance flag does not
// change what it builds.
func (h *Hierarchy) PlanSiblingExchange(level int) error {
	lt, err := h.Level(level)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	for d := Direction(0); d < NumDirections; d++ {
		lt.SendP[d] = lt.SendP[d][:0]
		lt.RecvP[d] = lt.RecvP[d][:0]
	}
	for _, id := range lt.RealIDs() {
		p := h.arena[id]
		for d := Direction(0); d < NumDirections; d++ {
			sib := p.Sibling[d]
			if sib < 0 {
				continue
			}
			neighbor, ok := h.arena[sib]
			if !ok || neighbor.Rank == p.Rank {
				continue // same-rank neighbors need no message, just a local copy
			}
			lt.SendP[d] = append(lt.SendP[d], id)
			lt.RecvP[d] = append(lt.RecvP[d], sib)
		}
	}
	return nil
}

// PlanCoarseFineFlux rebuilds a level's FluxSendP/FluxRecvP tables (spec
// §4.2, COARSE_FINE_FLUX mode). Level l is the FINE level: FluxSendP[d]
// holds real fine patches whose face d carries an allocated flux register,
// and FluxRecvP[d] holds, at the same index, the coarse patch that
// register's contribution must be added into. A coarse patch can appear
// several times in FluxRecvP[d] when several fine children share its face;
// the unpack step must add, not overwrite, so that each contribution
// survives (spec §8 scenario: four fine patches sharing one coarse face).
func (h *Hierarchy) PlanCoarseFineFlux(level int) error {
	lt, err := h.Level(level)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	for d := Direction(0); d < NumFaceDirections; d++ {
		lt.FluxSendP[d] = lt.FluxSendP[d][:0]
		lt.FluxRecvP[d] = lt.FluxRecvP[d][:0]
	}
	for _, id := range lt.RealIDs() {
		p := h.arena[id]
		for d := Direction(0); d < NumFaceDirections; d++ {
			if !p.HasFlux(d) {
				continue
			}
			coarse := p.Sibling[d]
			if coarse < 0 {
				continue
			}
			lt.FluxSendP[d] = append(lt.FluxSendP[d], id)
			lt.FluxRecvP[d] = append(lt.FluxRecvP[d], coarse)
		}
	}
	return nil
}
