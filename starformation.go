// Copyright the amr authors.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package amr

import "math"

// Particle is a single star-formation tracer particle: a point mass carried
// alongside the mesh, advanced by its own pusher (spec §6), not by the
// fluid integrator.
type Particle struct {
	ID   int64
	Mass float64
	Pos  [3]float64
	Vel  [3]float64
	// Acc is the particle's acceleration at creation: the finite-difference
	// gradient of the patch's self-potential plus whatever external gravity
	// contributes (spec §4.6 step 6), seeding the first pusher step.
	Acc [3]float64
	// Metallicity is the gas metal mass fraction (rho_Z / rho) the particle
	// inherits from its parent cell at formation, a passive attribute the
	// pusher carries unchanged thereafter.
	Metallicity float64
	BornAt      float64 // simulation time at creation
}

// ParticleList holds the particles attached to one patch.
type ParticleList struct {
	items []Particle
}

// Add appends p to the list and returns its index.
func (l *ParticleList) Add(p Particle) int {
	l.items = append(l.items, p)
	return len(l.items) - 1
}

// Len returns the number of particles in the list.
func (l *ParticleList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.items)
}

// At returns the particle at index i.
func (l *ParticleList) At(i int) Particle { return l.items[i] }

// Remove deletes the particle at index i without preserving order.
func (l *ParticleList) Remove(i int) {
	n := len(l.items)
	l.items[i] = l.items[n-1]
	l.items = l.items[:n-1]
}

// StarFormationParams configures the stochastic conversion law (spec §6).
type StarFormationParams struct {
	// G is the gravitational constant in the run's unit system.
	G float64
	// Efficiency is the fraction of a free-fall time's worth of gas that
	// converts to stars each free-fall time (commonly called epsilon_SF).
	Efficiency float64
	// DensityThreshold is the minimum density a cell must have to be
	// considered for conversion at all.
	DensityThreshold float64
	// MinParticleMass is the floor a newly created particle's mass must
	// meet. A cell that only accumulates enough mass for a fraction of
	// MinParticleMass forms a full-mass particle stochastically, with
	// probability proportional to that fraction, rather than forming an
	// undersized particle every time (spec §6's "mass floor with promotion
	// probability").
	MinParticleMass float64
	// MaxGasFraction caps how much of a cell's mass a single step may
	// convert, regardless of what the stochastic draw would otherwise take.
	MaxGasFraction float64
}

// freeFallTime returns the Jeans free-fall time for density rho.
func freeFallTime(g, rho float64) float64 {
	return math.Sqrt(3 * math.Pi / (32 * g * rho))
}

// StarFormationContext carries the per-patch physical-space and gravity
// parameters TryFormStar needs to place a new particle and seed its initial
// acceleration, kept separate from StarFormationParams since the latter is a
// run-wide constant while these vary per patch/level.
type StarFormationContext struct {
	// Origin is the patch's physical-space lower corner.
	Origin [3]float64
	// CellSize is the physical width of one cell at this patch's level.
	CellSize float64
	// Gravity supplies the external acceleration/potential hooks (spec §5);
	// its zero value (both funcs nil) means no external field.
	Gravity ExternalGravity
	// MetalVarIndex is the fluid variable index carrying metal density
	// (rho_Z), or -1 if the run does not track metallicity.
	MetalVarIndex int
}

// TryFormStar evaluates cell (ix,iy,iz) of patch p against the conversion
// law of spec §4.6: the converted mass m_* = epsilon*dt*rho*V/t_ff is
// deterministic (step 2-3); only the sub-MinParticleMass case (step 4)
// stochastically promotes to a full-mass particle, via rng. On formation it
// removes the converted mass and momentum from the fluid and appends a new
// Particle carrying its cell-center position, inherited velocity,
// finite-difference acceleration, and inherited metallicity. It returns the
// index of the new particle in p.Particles, or -1 if no star formed this
// call. dt is the current step's timestep, t the simulation time, cellVolume
// the physical volume of one cell.
func TryFormStar(p *Patch, slot Sandglass, ix, iy, iz int, params StarFormationParams, dt, t, cellVolume float64, sfc StarFormationContext, rng *LCG48) int {
	active := p.Fluid[slot]
	rho := active.Get(0, ix, iy, iz)
	if rho < params.DensityThreshold {
		return -1
	}

	tff := freeFallTime(params.G, rho)
	fraction := params.Efficiency * dt / tff
	if fraction <= 0 {
		return -1
	}
	if fraction > params.MaxGasFraction {
		fraction = params.MaxGasFraction
	}

	cellMass := rho * cellVolume
	convertedMass := fraction * cellMass
	if convertedMass <= 0 {
		return -1
	}

	if convertedMass < params.MinParticleMass {
		promotionProb := convertedMass / params.MinParticleMass
		if rng.Float64() >= promotionProb {
			return -1
		}
		convertedMass = params.MinParticleMass
		if maxMass := params.MaxGasFraction * cellMass; convertedMass > maxMass {
			convertedMass = maxMass
		}
		fraction = convertedMass / cellMass
	}

	px := active.Get(1, ix, iy, iz)
	py := active.Get(2, ix, iy, iz)
	pz := active.Get(3, ix, iy, iz)

	x := sfc.Origin[0] + (float64(ix)+0.5)*sfc.CellSize
	y := sfc.Origin[1] + (float64(iy)+0.5)*sfc.CellSize
	z := sfc.Origin[2] + (float64(iz)+0.5)*sfc.CellSize

	acc := selfGravityAccel(p, slot, ix, iy, iz, sfc.CellSize)
	extAcc := externalAccelAt(sfc.Gravity, x, y, z, t, sfc.CellSize)
	acc[0] += extAcc[0]
	acc[1] += extAcc[1]
	acc[2] += extAcc[2]

	metallicity := 0.0
	if sfc.MetalVarIndex >= 0 {
		metallicity = active.Get(sfc.MetalVarIndex, ix, iy, iz) / rho
	}

	particle := Particle{
		Mass:        convertedMass,
		Pos:         [3]float64{x, y, z},
		Vel:         [3]float64{px / rho, py / rho, pz / rho},
		Acc:         acc,
		Metallicity: metallicity,
		BornAt:      t,
	}

	active.Set(rho*(1-fraction), 0, ix, iy, iz)
	active.Set(px*(1-fraction), 1, ix, iy, iz)
	active.Set(py*(1-fraction), 2, ix, iy, iz)
	active.Set(pz*(1-fraction), 3, ix, iy, iz)
	if sfc.MetalVarIndex >= 0 {
		zCur := active.Get(sfc.MetalVarIndex, ix, iy, iz)
		active.Set(zCur*(1-fraction), sfc.MetalVarIndex, ix, iy, iz)
	}

	if p.Particles == nil {
		p.Particles = &ParticleList{}
	}
	return p.Particles.Add(particle)
}

// selfGravityAccel returns the negative gradient of the patch's self
// potential at cell (ix,iy,iz), central-differenced across the pseudo-ghost
// layer PotExt keeps for exactly this purpose. It returns zero when the run
// has no self-gravity (PotExt nil).
func selfGravityAccel(p *Patch, slot Sandglass, ix, iy, iz int, cellSize float64) [3]float64 {
	if p.PotExt == nil {
		return [3]float64{}
	}
	gx, gy, gz := ix+potExtGhost, iy+potExtGhost, iz+potExtGhost
	inv2dx := 1 / (2 * cellSize)
	return [3]float64{
		-(p.PotExt.Get(gx+1, gy, gz) - p.PotExt.Get(gx-1, gy, gz)) * inv2dx,
		-(p.PotExt.Get(gx, gy+1, gz) - p.PotExt.Get(gx, gy-1, gz)) * inv2dx,
		-(p.PotExt.Get(gx, gy, gz+1) - p.PotExt.Get(gx, gy, gz-1)) * inv2dx,
	}
}

// externalAccelAt evaluates the external field's contribution to a new
// particle's acceleration at physical coordinate (x,y,z): the acceleration
// hook directly if g supplies one (the more accurate, analytic choice), else
// the negative gradient of the external potential, finite-differenced at the
// six face centers a cellSize-wide cell around (x,y,z) would have. Returns
// zero when g has neither hook.
func externalAccelAt(g ExternalGravity, x, y, z, t, cellSize float64) [3]float64 {
	if g.HasAcceleration() {
		var acc [3]float64
		g.Acceleration(x, y, z, t, g.Aux, &acc)
		return acc
	}
	if !g.HasPotential() {
		return [3]float64{}
	}
	half := cellSize / 2
	invDx := 1 / cellSize
	return [3]float64{
		-(g.Potential(x+half, y, z, t, g.Aux) - g.Potential(x-half, y, z, t, g.Aux)) * invDx,
		-(g.Potential(x, y+half, z, t, g.Aux) - g.Potential(x, y-half, z, t, g.Aux)) * invDx,
		-(g.Potential(x, y, z+half, t, g.Aux) - g.Potential(x, y, z-half, t, g.Aux)) * invDx,
	}
}
