// Copyright the amr authors.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package amr

// Direction indexes one of the 26 face/edge/corner neighbor directions of a
// patch at the same level. Directions are grouped into 13 opposite pairs;
// Mirror(d) returns the other half of d's pair.
type Direction int

// NumDirections is the number of face/edge/corner neighbor directions.
const NumDirections = 26

// NumFaceDirections is the number of axis-aligned face directions, a subset
// of the 26 used for coarse-fine flux exchange and restriction.
const NumFaceDirections = 6

// Face direction indices, in (-x, +x, -y, +y, -z, +z) order. These are the
// only directions that can carry a flux register.
const (
	FaceXMinus Direction = iota
	FaceXPlus
	FaceYMinus
	FaceYPlus
	FaceZMinus
	FaceZPlus
)

// directionOffset is the (dx, dy, dz) unit displacement of a direction, each
// component in {-1, 0, 1}, never all zero.
type directionOffset struct{ dx, dy, dz int }

// directionOffsets enumerates all 26 directions in a fixed, deterministic
// order. The six face directions are placed first (indices 0-5, matching the
// Face* constants above) so that face-only loops (flux correction,
// restriction, COARSE_FINE_FLUX mode) can simply range over [0, 6).
var directionOffsets = buildDirectionOffsets()

func buildDirectionOffsets() [NumDirections]directionOffset {
	var offs [NumDirections]directionOffset
	// Faces first, in the canonical order used throughout the core.
	faces := [NumFaceDirections]directionOffset{
		{-1, 0, 0}, {1, 0, 0},
		{0, -1, 0}, {0, 1, 0},
		{0, 0, -1}, {0, 0, 1},
	}
	copy(offs[:NumFaceDirections], faces[:])
	i := NumFaceDirections
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				nFaceAxes := 0
				if dx != 0 {
					nFaceAxes++
				}
				if dy != 0 {
					nFaceAxes++
				}
				if dz != 0 {
					nFaceAxes++
				}
				if nFaceAxes == 1 {
					continue // already placed as a face direction
				}
				offs[i] = directionOffset{dx, dy, dz}
				i++
			}
		}
	}
	return offs
}

// Offset returns the unit displacement associated with d.
func (d Direction) Offset() (dx, dy, dz int) {
	o := directionOffsets[d]
	return o.dx, o.dy, o.dz
}

// Mirror returns the direction opposite d under 180-degree reflection: the
// involution on the 26 neighbor labels used by reciprocity checks and by
// COARSE_FINE_FLUX packing (which reads flux[mirror(direction)]).
func (d Direction) Mirror() Direction {
	o := directionOffsets[d]
	target := directionOffset{-o.dx, -o.dy, -o.dz}
	for i, c := range directionOffsets {
		if c == target {
			return Direction(i)
		}
	}
	panic("amr: direction table is not closed under mirroring")
}

// IsFace reports whether d is one of the six axis-aligned face directions.
func (d Direction) IsFace() bool {
	return d >= 0 && d < NumFaceDirections
}

// oppositePairs groups the 26 directions into 13 (d, Mirror(d)) pairs with
// d < Mirror(d), in ascending order of d. The sibling exchange planner plans
// both halves of a pair together so they can reuse one neighbor-rank lookup.
func oppositePairs() [13][2]Direction {
	var pairs [13][2]Direction
	seen := make(map[Direction]bool, NumDirections)
	n := 0
	for d := Direction(0); d < NumDirections; d++ {
		if seen[d] {
			continue
		}
		m := d.Mirror()
		seen[d], seen[m] = true, true
		pairs[n] = [2]Direction{d, m}
		n++
	}
	return pairs
}
