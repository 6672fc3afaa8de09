// Package config loads controller settings from defaults, an optional YAML file and
// BRER_* environment variables, in that order of precedence.
package config

import (
	"path/filepath"
	"time"

	"github.com/danielpatrickdp/brer-controller/internal/logging"
	"github.com/danielpatrickdp/brer-controller/internal/memory"
	"github.com/danielpatrickdp/brer-controller/internal/retrain"
	"github.com/danielpatrickdp/brer-controller/internal/state"
	"github.com/danielpatrickdp/brer-controller/internal/trainlog"
)

// #region types
// Config is the full controller configuration.
type Config struct {
	EnsembleDir string           `koanf:"ensemble_dir" validate:"required"`
	EnsembleNum int              `koanf:"ensemble_num" validate:"gte=0"`
	PairsFile   string           `koanf:"pairs_file" validate:"required"`
	Topology    string           `koanf:"topology"`
	Engine      EngineConfig     `koanf:"engine"`
	Defaults    Defaults         `koanf:"defaults"`
	Retrain     retrain.Policy   `koanf:"retrain"`
	Memory      MemoryConfig     `koanf:"memory"`
	TrainLog    trainlog.Columns `koanf:"trainlog"`
	Ledger      LedgerConfig     `koanf:"ledger"`
	Log         logging.Config   `koanf:"log"`
	// Seed fixes target resampling; 0 draws a fresh seed per invocation.
	Seed int64 `koanf:"seed"`
}

// EngineConfig locates the MD engine service.
type EngineConfig struct {
	Addr    string        `koanf:"addr" validate:"required"`
	Timeout time.Duration `koanf:"timeout" validate:"gte=0"`
}

// Defaults seed a member's state the first time it is touched.
type Defaults struct {
	Tau            float64 `koanf:"tau" validate:"gt=0"`
	Tolerance      float64 `koanf:"tolerance" validate:"gt=0"`
	NumSamples     int     `koanf:"num_samples" validate:"gt=0"`
	SamplePeriod   float64 `koanf:"sample_period" validate:"gt=0"`
	ProductionTime float64 `koanf:"production_time" validate:"gt=0"`
	A              float64 `koanf:"a" validate:"gt=0"`
	Target         float64 `koanf:"target" validate:"gt=0"`
}

// MemoryConfig controls bias memory bucketing and provisioning.
type MemoryConfig struct {
	BucketPrecision int  `koanf:"bucket_precision" validate:"gte=0,lte=10"`
	InheritPrevious bool `koanf:"inherit_previous"`
	Reset           bool `koanf:"reset"`
}

// LedgerConfig locates the SQLite history ledger. A relative path is resolved against
// the ensemble directory; an empty path disables the ledger.
type LedgerConfig struct {
	Path string `koanf:"path"`
}
// #endregion types

// #region defaults
// Default returns the configuration used when nothing overrides it.
func Default() Config {
	g := state.DefaultGeneralParams(1)
	return Config{
		EnsembleDir: ".",
		EnsembleNum: 1,
		PairsFile:   "pair_data.json",
		Topology:    "topol.tpr",
		Engine:      EngineConfig{Addr: "localhost:50061"},
		Defaults: Defaults{
			Tau:            g.Tau,
			Tolerance:      g.Tolerance,
			NumSamples:     g.NumSamples,
			SamplePeriod:   g.SamplePeriod,
			ProductionTime: g.ProductionTime,
			A:              50,
			Target:         3.0,
		},
		Retrain:  retrain.DefaultPolicy(),
		Memory:   MemoryConfig{BucketPrecision: memory.DefaultPrecision, InheritPrevious: true},
		TrainLog: trainlog.DefaultColumns(),
		Ledger:   LedgerConfig{Path: "brer.db"},
		Log:      logging.DefaultConfig(),
	}
}
// #endregion defaults

// #region derived
// GeneralParams returns the general parameters of a fresh state for member.
func (c Config) GeneralParams(member int) state.GeneralParams {
	g := state.DefaultGeneralParams(member)
	g.Tau = c.Defaults.Tau
	g.Tolerance = c.Defaults.Tolerance
	g.NumSamples = c.Defaults.NumSamples
	g.SamplePeriod = c.Defaults.SamplePeriod
	g.ProductionTime = c.Defaults.ProductionTime
	return g
}

// Layout returns the member directory layout under EnsembleDir.
func (c Config) Layout() state.Layout {
	return state.Layout{Root: c.EnsembleDir}
}

// LedgerPath resolves Ledger.Path against EnsembleDir.
func (c Config) LedgerPath() string {
	if c.Ledger.Path == "" || filepath.IsAbs(c.Ledger.Path) {
		return c.Ledger.Path
	}
	return filepath.Join(c.EnsembleDir, c.Ledger.Path)
}
// #endregion derived
