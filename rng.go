// Copyright the amr authors.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package amr

// lcgA and lcgC are the multiplier and increment of the 48-bit linear
// congruential generator used by star formation (spec §6), the same
// constants POSIX drand48 uses: state advances as state = (a*state+c) mod
// 2^48 and Float64 returns the top 32 bits scaled to [0,1).
const (
	lcgA    = 0x5DEECE66D
	lcgC    = 0xB
	lcgMask = 1<<48 - 1
)

// LCG48 is a per-thread 48-bit linear congruential generator. Each compute
// thread owns its own instance, seeded independently, so star formation's
// stochastic conversion is reproducible per (baseSeed, threadIndex) pair
// regardless of how many other threads are running (spec §6).
type LCG48 struct {
	state uint64
}

// NewLCG48 seeds a generator from a run-wide base seed and a thread index,
// mixing them so that neighboring thread indices don't produce correlated
// early-sequence output.
func NewLCG48(baseSeed uint64, threadIndex int) *LCG48 {
	mixed := (baseSeed ^ (uint64(threadIndex) * 0x9E3779B97F4A7C15)) & lcgMask
	g := &LCG48{state: mixed}
	g.next() // burn one step so seed=0 doesn't hand back the seed itself
	return g
}

func (g *LCG48) next() uint64 {
	g.state = (lcgA*g.state + lcgC) & lcgMask
	return g.state
}

// Float64 returns a pseudo-random value in [0, 1).
func (g *LCG48) Float64() float64 {
	return float64(g.next()>>16) / float64(1<<32)
}
