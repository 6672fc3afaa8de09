// Package engine describes the MD engine the controller drives and the gRPC transport
// used to reach it.
package engine

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/danielpatrickdp/brer-controller/internal/state"
)

// ErrEngine wraps every failure reported by an engine run.
var ErrEngine = errors.New("md engine failure")

// #region types

// Restraint is the per-restraint configuration of one engine run.
type Restraint struct {
	Name            string  `json:"name"`
	Sites           []int   `json:"sites"`
	Target          float64 `json:"target"`
	A               float64 `json:"A"`
	Alpha           float64 `json:"alpha"`
	Tau             float64 `json:"tau"`
	Tolerance       float64 `json:"tolerance"`
	NumSamples      int     `json:"num_samples"`
	SamplePeriod    float64 `json:"sample_period"`
	LoggingFilename string  `json:"logging_filename"`
}

// Request asks the engine to run one phase in WorkDir. EndTime is the absolute simulation
// time to stop at and is only set for production.
type Request struct {
	EnsembleNum int         `json:"ensemble_num"`
	Iteration   int         `json:"iteration"`
	Phase       state.Phase `json:"phase"`
	WorkDir     string      `json:"workdir"`
	Topology    string      `json:"topology"`
	Checkpoint  string      `json:"checkpoint"`
	EndTime     float64     `json:"end_time,omitempty"`
	Restraints  []Restraint `json:"restraints"`
}

// RestraintResult is the final alpha and target of one restraint.
type RestraintResult struct {
	Name   string  `json:"name"`
	Alpha  float64 `json:"alpha"`
	Target float64 `json:"target"`
}

// Result is returned by a completed run. Time is the absolute simulation time reached.
type Result struct {
	Time       float64           `json:"time"`
	Restraints []RestraintResult `json:"restraints"`
}

// #endregion types

// #region interface

// Engine runs one phase of the simulation.
type Engine interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// Func adapts a plain function to Engine.
type Func func(ctx context.Context, req Request) (Result, error)

// Run calls f.
func (f Func) Run(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// #endregion interface

// #region request

// NewRequest builds the request for the current phase of rs, run in workDir.
func NewRequest(rs state.RunState, workDir, topology string) Request {
	g := rs.General
	req := Request{
		EnsembleNum: g.EnsembleNum,
		Iteration:   g.Iteration,
		Phase:       g.Phase,
		WorkDir:     workDir,
		Topology:    topology,
		Checkpoint:  filepath.Join(workDir, "state.cpt"),
	}
	if g.Phase == state.PhaseProduction {
		req.EndTime = g.StartTime + g.ProductionTime
	}
	for _, name := range rs.Names() {
		p := rs.Pairs[name]
		req.Restraints = append(req.Restraints, Restraint{
			Name:            name,
			Sites:           append([]int(nil), p.Sites...),
			Target:          p.Target,
			A:               p.A,
			Alpha:           p.Alpha,
			Tau:             g.Tau,
			Tolerance:       g.Tolerance,
			NumSamples:      g.NumSamples,
			SamplePeriod:    g.SamplePeriod,
			LoggingFilename: p.LoggingFilename,
		})
	}
	return req
}

// Alphas splits a result into alpha and target maps keyed by restraint name.
func (r Result) Alphas() (alphas, targets map[string]float64) {
	alphas = make(map[string]float64, len(r.Restraints))
	targets = make(map[string]float64, len(r.Restraints))
	for _, rr := range r.Restraints {
		alphas[rr.Name] = rr.Alpha
		targets[rr.Name] = rr.Target
	}
	return alphas, targets
}

// #endregion request
