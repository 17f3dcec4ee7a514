// Copyright the amr authors.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package amr

import (
	"math"
	"testing"

	"github.com/ctessum/sparse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFluxCorrectAppliesSignedDelta(t *testing.T) {
	h := newTestHierarchy(t, 1)
	p, err := h.AllocatePatch(0, ClassReal, [3]int64{0, 0, 0}, 0, false)
	require.NoError(t, err)
	p.Flux[FaceXPlus] = sparse.ZerosDense(h.NumFluxVars, PS, PS)
	for x := 0; x < PS; x++ {
		for y := 0; y < PS; y++ {
			p.Flux[FaceXPlus].Set(2.0, 0, x, y)
		}
	}
	for x := 0; x < PS; x++ {
		for y := 0; y < PS; y++ {
			for z := 0; z < PS; z++ {
				p.Fluid[0].Set(10.0, 0, x, y, z)
			}
		}
	}

	opts := FixupOptions{Model: HydroModel{Gamma: 1.4}, PressureFloor: 0}
	require.NoError(t, FluxCorrect(h, 0, 1.0, opts))

	// FaceXPlus has positive sign; the boundary cell (x=PS-1) should have
	// picked up the flux/cellVolume delta, interior cells untouched.
	assert.InDelta(t, 12.0, p.Fluid[0].Get(0, PS-1, 0, 0), 1e-12)
	assert.InDelta(t, 10.0, p.Fluid[0].Get(0, 0, 0, 0), 1e-12)
}

func TestFluxCorrectClampsDensity(t *testing.T) {
	h := newTestHierarchy(t, 1)
	p, err := h.AllocatePatch(0, ClassReal, [3]int64{0, 0, 0}, 0, false)
	require.NoError(t, err)
	p.Flux[FaceXMinus] = sparse.ZerosDense(h.NumFluxVars, PS, PS)
	for x := 0; x < PS; x++ {
		for y := 0; y < PS; y++ {
			p.Flux[FaceXMinus].Set(100.0, 0, x, y)
		}
	}
	for x := 0; x < PS; x++ {
		for y := 0; y < PS; y++ {
			for z := 0; z < PS; z++ {
				p.Fluid[0].Set(1.0, 0, x, y, z)
			}
		}
	}

	opts := FixupOptions{
		Model:        HydroModel{Gamma: 1.4},
		ClampDensity: true,
		MinDensity:   0.5,
	}
	require.NoError(t, FluxCorrect(h, 0, 1.0, opts))
	assert.Equal(t, 0.5, p.Fluid[0].Get(0, 0, 0, 0))
}

func TestRestrictIsBlockAverage(t *testing.T) {
	h := newTestHierarchy(t, 1)
	father, err := h.AllocatePatch(0, ClassReal, [3]int64{0, 0, 0}, 0, false)
	require.NoError(t, err)
	interp := func(_ *Patch, childIdx PatchID, dst *sparse.DenseArray) {
		for i := range dst.Elements {
			dst.Elements[i] = float64(childIdx)
		}
	}
	require.NoError(t, Refine(h, father.ID(), 0, interp))

	require.NoError(t, Restrict(h, 0))

	// Every coarse cell averages exactly one child's uniform fill value over
	// its 2x2x2 octant, so the average must equal that child's value.
	half := PS / 2
	for c := PatchID(0); c < 8; c++ {
		x, y, z := 0, 0, 0
		if octantBit(c, 0) == 1 {
			x = half
		}
		if octantBit(c, 1) == 1 {
			y = half
		}
		if octantBit(c, 2) == 1 {
			z = half
		}
		assert.InDelta(t, float64(c), father.Fluid[0].Get(0, x, y, z), 1e-12)
	}
}

func TestFluxCorrectRescalesWaveFunctionMass(t *testing.T) {
	h := NewHierarchy(0, 1, 1, 3, 3, nil)
	p, err := h.AllocatePatch(0, ClassReal, [3]int64{0, 0, 0}, 0, false)
	require.NoError(t, err)
	p.Flux[FaceXPlus] = sparse.ZerosDense(h.NumFluxVars, PS, PS)
	for x := 0; x < PS; x++ {
		for y := 0; y < PS; y++ {
			p.Flux[FaceXPlus].Set(2.0, 0, x, y) // density flux only
		}
	}
	for x := 0; x < PS; x++ {
		for y := 0; y < PS; y++ {
			for z := 0; z < PS; z++ {
				p.Fluid[0].Set(1.0, 0, x, y, z) // density
				p.Fluid[0].Set(1.0, 1, x, y, z) // real
				p.Fluid[0].Set(0.0, 2, x, y, z) // imaginary
			}
		}
	}

	opts := FixupOptions{
		Model:                    ELBDMModel{DensityVarIndex: 0},
		ConserveWaveFunctionMass: true,
		WaveFunctionRealIndex:    1,
		WaveFunctionImagIndex:    2,
	}
	require.NoError(t, FluxCorrect(h, 0, 1.0, opts))

	// Boundary cell: density corrected to 1+2=3, so psi must be rescaled by
	// sqrt(3/1) from its pre-correction |psi|^2 == 1.
	assert.InDelta(t, 3.0, p.Fluid[0].Get(0, PS-1, 0, 0), 1e-12)
	assert.InDelta(t, math.Sqrt(3), p.Fluid[0].Get(1, PS-1, 0, 0), 1e-12)
	assert.InDelta(t, 0.0, p.Fluid[0].Get(2, PS-1, 0, 0), 1e-12)

	// Interior cell untouched by the flux register keeps its original psi.
	assert.InDelta(t, 1.0, p.Fluid[0].Get(1, 0, 0, 0), 1e-12)
}

func TestFluxCorrectZeroesWaveFunctionWhenPriorDensityNonPositive(t *testing.T) {
	h := NewHierarchy(0, 1, 1, 3, 3, nil)
	p, err := h.AllocatePatch(0, ClassReal, [3]int64{0, 0, 0}, 0, false)
	require.NoError(t, err)
	p.Flux[FaceXPlus] = sparse.ZerosDense(h.NumFluxVars, PS, PS)
	for x := 0; x < PS; x++ {
		for y := 0; y < PS; y++ {
			p.Flux[FaceXPlus].Set(5.0, 0, x, y)
		}
	}
	for x := 0; x < PS; x++ {
		for y := 0; y < PS; y++ {
			for z := 0; z < PS; z++ {
				p.Fluid[0].Set(1.0, 0, x, y, z)
				p.Fluid[0].Set(0.0, 1, x, y, z) // real == 0
				p.Fluid[0].Set(0.0, 2, x, y, z) // imaginary == 0, so |psi|^2 == 0
			}
		}
	}

	opts := FixupOptions{
		Model:                    ELBDMModel{DensityVarIndex: 0},
		ConserveWaveFunctionMass: true,
		WaveFunctionRealIndex:    1,
		WaveFunctionImagIndex:    2,
	}
	require.NoError(t, FluxCorrect(h, 0, 1.0, opts))
	assert.Equal(t, 0.0, p.Fluid[0].Get(1, PS-1, 0, 0))
	assert.Equal(t, 0.0, p.Fluid[0].Get(2, PS-1, 0, 0))
}

func TestConserveWaveFunctionMassRescalesToTarget(t *testing.T) {
	active := sparse.ZerosDense(1, PS, PS, PS)
	for i := range active.Elements {
		active.Elements[i] = 1.0
	}
	target := 3.0
	ConserveWaveFunctionMass(active, 0, target)
	assert.InDelta(t, target, active.Sum(), 1e-9)
}

func TestHydroModelPressureFloorReconstructsEnergy(t *testing.T) {
	m := HydroModel{Gamma: 1.4}
	vars := []float64{1.0, 0, 0, 0, -5.0} // unphysically low energy
	m.PressureFloor(vars, 0.1)
	pressure := (m.Gamma - 1) * vars[4]
	assert.InDelta(t, 0.1, pressure, 1e-9)
}
