package state

import (
	"fmt"
	"slices"
	"sort"
)

// #region phase
// Phase names the stage of a BRER iteration.
type Phase string

const (
	PhaseTraining    Phase = "training"
	PhaseConvergence Phase = "convergence"
	PhaseProduction  Phase = "production"
)

// Valid reports whether p is one of the three known phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseTraining, PhaseConvergence, PhaseProduction:
		return true
	}
	return false
}

// Next returns the phase that follows p in the cycle.
func (p Phase) Next() Phase {
	switch p {
	case PhaseTraining:
		return PhaseConvergence
	case PhaseConvergence:
		return PhaseProduction
	default:
		return PhaseTraining
	}
}
// #endregion phase

// #region general-params
// GeneralParams holds the parameters shared by every restraint of a member.
type GeneralParams struct {
	EnsembleNum    int     `json:"ensemble_num"`
	Iteration      int     `json:"iteration"`
	Phase          Phase   `json:"phase"`
	StartTime      float64 `json:"start_time"`
	Tau            float64 `json:"tau"`
	Tolerance      float64 `json:"tolerance"`
	NumSamples     int     `json:"num_samples"`
	SamplePeriod   float64 `json:"sample_period"`
	ProductionTime float64 `json:"production_time"`
}

// DefaultGeneralParams returns the run_brer defaults for a fresh member.
func DefaultGeneralParams(member int) GeneralParams {
	return GeneralParams{
		EnsembleNum:    member,
		Iteration:      0,
		Phase:          PhaseTraining,
		StartTime:      0,
		Tau:            50,
		Tolerance:      0.1,
		NumSamples:     50,
		SamplePeriod:   100,
		ProductionTime: 10000,
	}
}
// #endregion general-params

// #region pair-params
// PairParams holds the parameters unique to one restraint.
type PairParams struct {
	Sites           []int   `json:"sites"`
	LoggingFilename string  `json:"logging_filename"`
	Alpha           float64 `json:"alpha"`
	Target          float64 `json:"target"`
	A               float64 `json:"A"`
}
// #endregion pair-params

// #region run-state
// RunState is the persisted state of one ensemble member.
type RunState struct {
	General GeneralParams         `json:"general parameters"`
	Pairs   map[string]PairParams `json:"pair parameters"`
}

// Names returns the restraint names in sorted order.
func (r RunState) Names() []string {
	names := make([]string, 0, len(r.Pairs))
	for name := range r.Pairs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy so callers can derive a new state without aliasing.
func (r RunState) Clone() RunState {
	out := RunState{General: r.General, Pairs: make(map[string]PairParams, len(r.Pairs))}
	for name, p := range r.Pairs {
		p.Sites = slices.Clone(p.Sites)
		out.Pairs[name] = p
	}
	return out
}

// Targets returns the current target of every restraint.
func (r RunState) Targets() map[string]float64 {
	out := make(map[string]float64, len(r.Pairs))
	for name, p := range r.Pairs {
		out[name] = p.Target
	}
	return out
}

// WithTargets returns a copy with the given targets applied. Unknown names are ignored.
func (r RunState) WithTargets(targets map[string]float64) RunState {
	out := r.Clone()
	for name, t := range targets {
		if p, ok := out.Pairs[name]; ok {
			p.Target = t
			out.Pairs[name] = p
		}
	}
	return out
}

// WithA returns a copy with the given A values applied. Unknown names are ignored.
func (r RunState) WithA(values map[string]float64) RunState {
	out := r.Clone()
	for name, a := range values {
		if p, ok := out.Pairs[name]; ok {
			p.A = a
			out.Pairs[name] = p
		}
	}
	return out
}

// WithAlphas returns a copy with alpha and target updated from an engine run.
func (r RunState) WithAlphas(alphas, targets map[string]float64) RunState {
	out := r.Clone()
	for name, alpha := range alphas {
		if p, ok := out.Pairs[name]; ok {
			p.Alpha = alpha
			if t, ok := targets[name]; ok {
				p.Target = t
			}
			out.Pairs[name] = p
		}
	}
	return out
}

// Next applies the phase transition that follows a completed phase.
// Convergence records endTime as the new start time; production starts a new iteration.
func (r RunState) Next(endTime float64) RunState {
	out := r.Clone()
	out.General.Phase = r.General.Phase.Next()
	switch out.General.Phase {
	case PhaseProduction:
		out.General.StartTime = endTime
	case PhaseTraining:
		out.General.StartTime = 0
		out.General.Iteration++
	}
	return out
}

// Validate checks the state against the fixed restraint name set.
func (r RunState) Validate(names []string) error {
	if !r.General.Phase.Valid() {
		return fmt.Errorf("unknown phase %q", r.General.Phase)
	}
	if r.General.Iteration < 0 {
		return fmt.Errorf("negative iteration %d", r.General.Iteration)
	}
	if len(r.Pairs) != len(names) {
		return fmt.Errorf("%w: state has %d restraints, metadata has %d", ErrNameMismatch, len(r.Pairs), len(names))
	}
	for _, name := range names {
		if _, ok := r.Pairs[name]; !ok {
			return fmt.Errorf("%w: restraint %q missing from state", ErrNameMismatch, name)
		}
	}
	return nil
}
// #endregion run-state

// #region construction
// PairSeed describes one restraint when a member's state is first created.
type PairSeed struct {
	Name   string
	Sites  []int
	Target float64
	A      float64
}

// NewRunState builds a fresh state with alpha 0 for every restraint.
func NewRunState(general GeneralParams, seeds []PairSeed) RunState {
	rs := RunState{General: general, Pairs: make(map[string]PairParams, len(seeds))}
	for _, s := range seeds {
		rs.Pairs[s.Name] = PairParams{
			Sites:           slices.Clone(s.Sites),
			LoggingFilename: s.Name + ".log",
			Alpha:           0,
			Target:          s.Target,
			A:               s.A,
		}
	}
	return rs
}
// #endregion construction
