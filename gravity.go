// Copyright the amr authors.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package amr

import "math"

// AccelerationFunc computes the external acceleration at physical
// coordinate (x, y, z) and time t, writing it into acc. aux carries up to
// NAuxMax model parameters (spec §5): point-mass position, softening
// length, and whatever else the chosen profile needs. A nil
// AccelerationFunc disables external gravity entirely.
type AccelerationFunc func(x, y, z, t float64, aux [NAuxMax]float64, acc *[3]float64)

// PotentialFunc computes the external potential at (x, y, z, t), for
// diagnostics and for seeding a Poisson solve's boundary condition. A nil
// PotentialFunc disables external potential output without disabling the
// Acceleration hook.
type PotentialFunc func(x, y, z, t float64, aux [NAuxMax]float64) float64

// ExternalGravity bundles the optional acceleration/potential hook pair
// (spec §5's "collaborator interface" standing in for a compile-time
// function pointer pair).
type ExternalGravity struct {
	Acceleration AccelerationFunc
	Potential    PotentialFunc
	Aux          [NAuxMax]float64
}

// HasAcceleration reports whether external acceleration is active.
func (g ExternalGravity) HasAcceleration() bool { return g.Acceleration != nil }

// HasPotential reports whether external potential evaluation is active.
func (g ExternalGravity) HasPotential() bool { return g.Potential != nil }

// PlummerAcceleration is the softened point-mass acceleration profile (a
// Plummer/Ruffert potential), aux[0..2] the point mass position, aux[3] the
// mass (times the gravitational constant), and aux[4] the softening length.
// Per spec §9's Open Question, a softening length <= 0 disables softening
// entirely (a bare inverse-square law), matching the literal convention
// carried over from the original implementation rather than silently
// clamping to some default epsilon.
func PlummerAcceleration(x, y, z, t float64, aux [NAuxMax]float64, acc *[3]float64) {
	dx := x - aux[0]
	dy := y - aux[1]
	dz := z - aux[2]
	gm := aux[3]
	eps := aux[4]

	var r2 float64
	if eps > 0 {
		r2 = dx*dx + dy*dy + dz*dz + eps*eps
	} else {
		r2 = dx*dx + dy*dy + dz*dz
	}
	if r2 == 0 {
		acc[0], acc[1], acc[2] = 0, 0, 0
		return
	}
	r := math.Sqrt(r2)
	invR3 := 1 / (r2 * r)
	acc[0] = -gm * dx * invR3
	acc[1] = -gm * dy * invR3
	acc[2] = -gm * dz * invR3
}

// PlummerPotential is the potential companion to PlummerAcceleration, using
// the same aux layout and the same "eps <= 0 disables softening" rule.
func PlummerPotential(x, y, z, t float64, aux [NAuxMax]float64) float64 {
	dx := x - aux[0]
	dy := y - aux[1]
	dz := z - aux[2]
	gm := aux[3]
	eps := aux[4]

	var r2 float64
	if eps > 0 {
		r2 = dx*dx + dy*dy + dz*dz + eps*eps
	} else {
		r2 = dx*dx + dy*dy + dz*dz
	}
	if r2 == 0 {
		return math.Inf(-1)
	}
	return -gm / math.Sqrt(r2)
}

// ApplyExternalAcceleration adds g's acceleration, times dt, to the momentum
// components (vars[1:4]) of every cell in a patch's active fluid slot, and
// updates the energy component (vars[4]) to match, given each cell's
// physical-space center. origin (the patch's corner) and cellSize (its
// cell spacing) give cell (i, j, k) the center origin + (index+0.5)*cellSize
// on each axis, so callers don't have to precompute a full coordinate array
// per patch.
func ApplyExternalAcceleration(p *Patch, slot Sandglass, g ExternalGravity, t, dt float64, origin [3]float64, cellSize float64) {
	if !g.HasAcceleration() {
		return
	}
	active := p.Fluid[slot]
	var acc [3]float64
	for ix := 0; ix < PS; ix++ {
		x := origin[0] + (float64(ix)+0.5)*cellSize
		for iy := 0; iy < PS; iy++ {
			y := origin[1] + (float64(iy)+0.5)*cellSize
			for iz := 0; iz < PS; iz++ {
				z := origin[2] + (float64(iz)+0.5)*cellSize
				g.Acceleration(x, y, z, t, g.Aux, &acc)

				rho := active.Get(0, ix, iy, iz)
				px := active.Get(1, ix, iy, iz)
				py := active.Get(2, ix, iy, iz)
				pz := active.Get(3, ix, iy, iz)
				e := active.Get(4, ix, iy, iz)

				dpx := rho * acc[0] * dt
				dpy := rho * acc[1] * dt
				dpz := rho * acc[2] * dt

				// energy update uses the momentum at the start of the step,
				// a standard kick consistent with a symplectic leapfrog.
				e += (px*dpx + py*dpy + pz*dpz) / rho

				active.Set(px+dpx, 1, ix, iy, iz)
				active.Set(py+dpy, 2, ix, iy, iz)
				active.Set(pz+dpz, 3, ix, iy, iz)
				active.Set(e, 4, ix, iy, iz)
			}
		}
	}
}
