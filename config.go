// Copyright the amr authors.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package amr

import (
	"os"

	"github.com/BurntSushi/toml"

	"github.com/spatialmodel/amr/internal/amrerr"
)

// KeyInfo holds the checkpoint format's own version and provenance (spec
// §7, C7's Info group). It is not part of RunConfig: WriteCheckpoint does
// not write it, and LoadCheckpoint does not read or check it.
type KeyInfo struct {
	FormatVersion int     `toml:"format_version"`
	GAMERVersion  string  `toml:"gamer_version"`
	Rank          int     `toml:"rank"`
	NRanks        int     `toml:"nranks"`
	Step          int64   `toml:"step"`
	Time          float64 `toml:"time"`
}

// Makefile records the compile-time switches a run was built with, carried
// through to checkpoints so a restart can refuse to resume a run built with
// incompatible options (spec §7).
type Makefile struct {
	Model        string `toml:"model"`
	Gravity      bool   `toml:"gravity"`
	Particles    bool   `toml:"particles"`
	MaxLevel     int    `toml:"max_level"`
	PatchSize    int    `toml:"patch_size"`
	NumFluidVars int    `toml:"num_fluid_vars"`
}

// SymConst records the run's physical/numerical constants, distinct from
// Makefile's compile-time switches (spec §7).
type SymConst struct {
	Gamma       float64 `toml:"gamma"`
	G           float64 `toml:"gravitational_constant"`
	MinDensity  float64 `toml:"min_density"`
	MinPressure float64 `toml:"min_pressure"`
}

// InputPara mirrors the run's input deck: everything a user supplied rather
// than what the build or the physics fixed (spec §7).
type InputPara struct {
	BoxSize       [3]float64          `toml:"box_size"`
	RootGridCells [3]int              `toml:"root_grid_cells"`
	EndTime       float64             `toml:"end_time"`
	OutputDir     string              `toml:"output_dir"`
	StarFormation StarFormationParams `toml:"star_formation"`
}

// RunConfig bundles everything config.go loads from a TOML input file: the
// two static-for-the-run Info pieces plus the input deck, together
// matching one checkpoint's Info group.
type RunConfig struct {
	Makefile  Makefile  `toml:"makefile"`
	SymConst  SymConst  `toml:"sym_const"`
	InputPara InputPara `toml:"input_para"`
}

// LoadRunConfig decodes a TOML configuration file, the run-configuration
// equivalent of GAMER's Input__Parameter deck (spec §7).
func LoadRunConfig(path string) (*RunConfig, error) {
	var cfg RunConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, amrerr.Wrap(amrerr.KindPrecondition, "LoadRunConfig", "decoding "+path, err)
	}
	return &cfg, nil
}

// WriteRunConfig encodes cfg back to a TOML file, used by tooling that
// derives one run's config from another (restart with overrides, parameter
// sweeps).
func WriteRunConfig(path string, cfg *RunConfig) error {
	f, err := os.Create(path)
	if err != nil {
		return amrerr.Wrap(amrerr.KindPrecondition, "WriteRunConfig", "creating "+path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return amrerr.Wrap(amrerr.KindPrecondition, "WriteRunConfig", "encoding "+path, err)
	}
	return nil
}
