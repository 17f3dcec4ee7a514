// Copyright the amr authors.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package amr

// PS is the patch size per axis: every patch is a PS x PS x PS cube of
// cells. It is fixed at compile time because flux registers, ghost-slab
// buffers, and the checkpoint layout all assume it.
const PS = 8

// GhostMax is the largest ghost width any exchange mode may request.
const GhostMax = PS

// NAuxMax is the size of the auxiliary parameter array passed to an
// external acceleration/potential hook (C5).
const NAuxMax = 10

// Sandglass is a double-buffer slot index: 0 or 1. Writers produce into the
// inactive slot; readers read the active slot.
type Sandglass uint8

// OtherSlot returns the sandglass slot not equal to s.
func (s Sandglass) OtherSlot() Sandglass { return 1 - s }

// Valid reports whether s is 0 or 1.
func (s Sandglass) Valid() bool { return s == 0 || s == 1 }
