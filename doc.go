// Copyright the amr authors.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package amr implements the core of a distributed, block-structured
// adaptive mesh refinement grid: a patch hierarchy with father/son/sibling
// connectivity, cross-rank ghost-zone exchange, coarse-fine flux correction
// and restriction, an external-gravity hook, stochastic star-formation
// particle injection, and a self-describing checkpoint format.
//
// It does not implement a fluid solver, a Poisson solver, initial condition
// setup, or any I/O beyond checkpointing and reading/writing the TOML run
// configuration; those are left to callers that
// embed this package as their grid core.
package amr
