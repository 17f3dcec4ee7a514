// Copyright the amr authors.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package amr

import (
	"math"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"

	"github.com/spatialmodel/amr/internal/amrerr"
)

// ConservedModel supplies the model-specific pieces of flux correction that
// the generic fix-up engine cannot know on its own: which field is density,
// how to rebuild a consistent state after a correction drives density or
// pressure non-physical, and what floor a reconstructed pressure must
// respect. It replaces a compile-time model macro with a runtime strategy
// (spec §4.4's "per active physics model").
type ConservedModel interface {
	// DensityIndex returns the fluid variable index carrying mass density.
	DensityIndex() int
	// PressureFloor reconstructs field vars in place at one cell so that
	// the derived pressure is not below floor, after a flux correction
	// changed its conserved quantities. Models without a pressure concept
	// (e.g. a pure wave-function model) may no-op.
	PressureFloor(vars []float64, floor float64)
}

// HydroModel is the classical Euler ConservedModel: vars are
// (density, momentum_x, momentum_y, momentum_z, energy).
type HydroModel struct {
	Gamma float64 // adiabatic index
}

func (HydroModel) DensityIndex() int { return 0 }

func (m HydroModel) PressureFloor(vars []float64, floor float64) {
	rho := vars[0]
	if rho <= 0 {
		return
	}
	kinetic := 0.5 * (vars[1]*vars[1] + vars[2]*vars[2] + vars[3]*vars[3]) / rho
	pressure := (m.Gamma - 1) * (vars[4] - kinetic)
	if pressure >= floor {
		return
	}
	vars[4] = floor/(m.Gamma-1) + kinetic
}

// ELBDMModel is the wave-function (ELBDM) ConservedModel: vars carry
// density directly as a conserved quantity alongside the real and imaginary
// wave-function fields, so there is no pressure to reconstruct; mass
// consistency between density and |psi|^2 is restored separately by
// FixupOptions.ConserveWaveFunctionMass.
type ELBDMModel struct {
	DensityVarIndex int
}

func (m ELBDMModel) DensityIndex() int { return m.DensityVarIndex }

func (ELBDMModel) PressureFloor(vars []float64, floor float64) {}

// FixupOptions configures one call to FluxCorrect.
type FixupOptions struct {
	Model ConservedModel
	// ClampDensity, if true, keeps a corrected density from falling below
	// MinDensity: when the full correction would take it lower, the density
	// is set to MinDensity instead (spec §4.4(b)'s optional density-only
	// clamp).
	ClampDensity bool
	// MinDensity is the floor ClampDensity enforces.
	MinDensity float64
	// PressureFloor is passed to Model.PressureFloor after every corrected
	// cell.
	PressureFloor float64
	// ConserveWaveFunctionMass, if true, rescales each corrected cell's
	// real/imaginary wave-function fields (WaveFunctionRealIndex,
	// WaveFunctionImagIndex) by sqrt(rho_corrected/rho_wrong) after the flux
	// correction updates the cell's density, so |psi|^2 tracks the
	// corrected density exactly (spec §4.4(a)'s ELBDM fix-up). A cell whose
	// pre-rescale |psi|^2 is non-positive is zeroed instead of rescaled.
	ConserveWaveFunctionMass bool
	WaveFunctionRealIndex    int
	WaveFunctionImagIndex    int
}

// FluxCorrect applies the coarse-fine flux correction at level l (the coarse
// level receiving corrections from level l+1): for every real patch with an
// allocated flux register on face d, it adds the register's accumulated
// value, signed by faceSign(d) and divided by cellVolume, to the adjacent
// coarse cells, per spec §4.4(b). The register is expected to already hold
// the fine-minus-coarse difference; FluxCorrect does not subtract any coarse
// flux itself. It must run after
// CoarseFineFlux exchange has finished accumulating into every register.
func FluxCorrect(h *Hierarchy, level int, cellVolume float64, opts FixupOptions) error {
	if opts.Model == nil {
		return amrerr.New(amrerr.KindPrecondition, "FluxCorrect", "nil ConservedModel")
	}
	lt, err := h.Level(level)
	if err != nil {
		return err
	}
	h.mu.RLock()
	ids := append([]PatchID(nil), lt.RealIDs()...)
	h.mu.RUnlock()

	for _, id := range ids {
		p, err := h.Lookup(id)
		if err != nil {
			return err
		}
		for d := Direction(0); d < NumFaceDirections; d++ {
			if !p.HasFlux(d) {
				continue
			}
			sign := faceSign(d)
			reg := p.Flux[d]
			active := p.Fluid[0]
			for x := 0; x < PS; x++ {
				for y := 0; y < PS; y++ {
					fx := faceCellCoords(d, x, y)
					for v := 0; v < h.NumFluxVars; v++ {
						delta := sign * reg.Get(v, x, y) / cellVolume
						applyFluxDelta(active, v, fx, delta, opts)
					}
				}
			}
			if err := correctCellsOnFace(active, d, opts); err != nil {
				return err
			}
		}
	}
	return nil
}

func faceSign(d Direction) float64 {
	dx, dy, dz := d.Offset()
	if dx+dy+dz < 0 {
		return -1
	}
	return 1
}

// faceCellCoords maps a (x,y) pair on face d's PSxPS grid to the 3D
// coordinate of the boundary cell it corrects.
func faceCellCoords(d Direction, x, y int) [3]int {
	dx, dy2, _ := d.Offset()
	axisFixed := 2
	switch {
	case dx != 0:
		axisFixed = 0
	case dy2 != 0:
		axisFixed = 1
	}
	var coord [3]int
	coord[axisFixed] = boundaryCellIndex(d)
	k := 0
	for a := 0; a < 3; a++ {
		if a == axisFixed {
			continue
		}
		if k == 0 {
			coord[a] = x
		} else {
			coord[a] = y
		}
		k++
	}
	return coord
}

func boundaryCellIndex(d Direction) int {
	dx, dy, dz := d.Offset()
	if dx+dy+dz < 0 {
		return 0
	}
	return PS - 1
}

func applyFluxDelta(active *sparse.DenseArray, v int, fx [3]int, delta float64, opts FixupOptions) {
	cur := active.Get(v, fx[0], fx[1], fx[2])
	next := cur + delta
	if opts.ClampDensity && v == opts.Model.DensityIndex() && next < opts.MinDensity {
		next = opts.MinDensity
	}
	active.Set(next, v, fx[0], fx[1], fx[2])
}

func correctCellsOnFace(active *sparse.DenseArray, d Direction, opts FixupOptions) error {
	for x := 0; x < PS; x++ {
		for y := 0; y < PS; y++ {
			fx := faceCellCoords(d, x, y)
			vars := make([]float64, activeNumVars(active))
			for v := range vars {
				vars[v] = active.Get(v, fx[0], fx[1], fx[2])
			}
			opts.Model.PressureFloor(vars, opts.PressureFloor)
			if opts.ConserveWaveFunctionMass {
				rescaleWaveFunction(vars, opts)
			}
			for v := range vars {
				active.Set(vars[v], v, fx[0], fx[1], fx[2])
			}
		}
	}
	return nil
}

func activeNumVars(active *sparse.DenseArray) int {
	return active.Shape[0]
}

// rescaleWaveFunction enforces |psi|^2 == rho after a flux correction has
// updated vars[Model.DensityIndex()] but left the real/imaginary fields
// holding the pre-correction (now "wrong") probability density.
func rescaleWaveFunction(vars []float64, opts FixupOptions) {
	real := vars[opts.WaveFunctionRealIndex]
	imag := vars[opts.WaveFunctionImagIndex]
	rhoWrong := real*real + imag*imag
	if rhoWrong <= 0 {
		vars[opts.WaveFunctionRealIndex] = 0
		vars[opts.WaveFunctionImagIndex] = 0
		return
	}
	rhoCorrected := vars[opts.Model.DensityIndex()]
	scale := math.Sqrt(rhoCorrected / rhoWrong)
	vars[opts.WaveFunctionRealIndex] = real * scale
	vars[opts.WaveFunctionImagIndex] = imag * scale
}

// ConserveWaveFunctionMass rescales every cell's wave-function density field
// (spec §4.4(b)) so the patch's total mass exactly matches preCorrectionMass,
// canceling the roundoff a sequence of flux corrections accumulates in a
// probability-density formulation.
func ConserveWaveFunctionMass(active *sparse.DenseArray, massIndex int, preCorrectionMass float64) {
	total := 0.0
	n := active.Shape[1] * active.Shape[2] * active.Shape[3]
	vals := make([]float64, 0, n)
	for x := 0; x < active.Shape[1]; x++ {
		for y := 0; y < active.Shape[2]; y++ {
			for z := 0; z < active.Shape[3]; z++ {
				v := active.Get(massIndex, x, y, z)
				vals = append(vals, v)
				total += v
			}
		}
	}
	if total == 0 || math.Abs(total-preCorrectionMass) < 1e-300 {
		return
	}
	scale := preCorrectionMass / total
	floats.Scale(scale, vals)
	i := 0
	for x := 0; x < active.Shape[1]; x++ {
		for y := 0; y < active.Shape[2]; y++ {
			for z := 0; z < active.Shape[3]; z++ {
				active.Set(vals[i], massIndex, x, y, z)
				i++
			}
		}
	}
}

// Restrict block-averages every real patch's children at level l+1 down
// into its own active fluid slot (spec §4.4(c)): each coarse cell becomes
// the unweighted mean of the 8 fine cells it contains. It must run before
// FluxCorrect, since flux correction assumes the coarse state already
// reflects the fine solution wherever fine data exists.
func Restrict(h *Hierarchy, level int) error {
	lt, err := h.Level(level)
	if err != nil {
		return err
	}
	h.mu.RLock()
	ids := append([]PatchID(nil), lt.RealIDs()...)
	h.mu.RUnlock()

	for _, id := range ids {
		p, err := h.Lookup(id)
		if err != nil {
			return err
		}
		if p.IsLeaf() {
			continue
		}
		first := p.Son
		children := make([]*Patch, 8)
		ok := true
		for c := PatchID(0); c < 8; c++ {
			child, err := h.Lookup(first + c)
			if err != nil {
				ok = false
				break
			}
			children[c] = child
		}
		if !ok {
			continue // children live on another rank; nothing to restrict here
		}
		restrictInto(p.Fluid[0], children)
	}
	return nil
}

func restrictInto(coarse *sparse.DenseArray, children []*Patch) {
	nVars := coarse.Shape[0]
	half := PS / 2
	for v := 0; v < nVars; v++ {
		for cx := 0; cx < PS; cx++ {
			for cy := 0; cy < PS; cy++ {
				for cz := 0; cz < PS; cz++ {
					childIdx := PatchID(0)
					if cx >= half {
						childIdx |= 1
					}
					if cy >= half {
						childIdx |= 2
					}
					if cz >= half {
						childIdx |= 4
					}
					child := children[childIdx]
					fx0, fy0, fz0 := 2*(cx%half), 2*(cy%half), 2*(cz%half)
					sum := 0.0
					for dx := 0; dx < 2; dx++ {
						for dy := 0; dy < 2; dy++ {
							for dz := 0; dz < 2; dz++ {
								sum += child.Fluid[0].Get(v, fx0+dx, fy0+dy, fz0+dz)
							}
						}
					}
					coarse.Set(sum/8, v, cx, cy, cz)
				}
			}
		}
	}
}
