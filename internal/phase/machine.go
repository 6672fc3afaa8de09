// Package phase advances an ensemble member through training, convergence and
// production, one phase per call.
package phase

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/charmbracelet/log"
	"github.com/danielpatrickdp/brer-controller/internal/engine"
	"github.com/danielpatrickdp/brer-controller/internal/logging"
	"github.com/danielpatrickdp/brer-controller/internal/pairs"
	"github.com/danielpatrickdp/brer-controller/internal/retrain"
	"github.com/danielpatrickdp/brer-controller/internal/state"
	"github.com/danielpatrickdp/brer-controller/internal/trainlog"
)

// #region options
// Options configures a Machine for one ensemble member.
type Options struct {
	Member          int
	Topology        string
	General         state.GeneralParams
	DefaultA        float64
	DefaultTarget   float64
	Policy          retrain.Policy
	Columns         trainlog.Columns
	BucketPrecision int
	InheritMemory   bool
	ResetMemory     bool
	EngineTimeout   time.Duration
	Seed            int64
}
// #endregion options

// #region report
// Report describes one completed (or attempted) phase.
type Report struct {
	RunID     string
	Member    int
	Iteration int
	From      state.Phase
	To        state.Phase
	StartTime float64
	Attempts  int
}
// #endregion report

// #region machine
// Machine is the phase state machine of one ensemble member.
type Machine struct {
	store  *state.Store
	engine engine.Engine
	pairs  *pairs.Set
	opts   Options
	ledger *logging.Ledger
	logger *log.Logger
	rng    *rand.Rand

	// memoryProvisioned is set once the memory file was inherited or reset for this Machine.
	memoryProvisioned bool
}

// New returns a Machine. ledger may be nil.
func New(store *state.Store, eng engine.Engine, set *pairs.Set, opts Options, ledger *logging.Ledger, logger *log.Logger) *Machine {
	if logger == nil {
		logger = log.Default()
	}
	var src rand.Source
	if opts.Seed != 0 {
		src = rand.NewPCG(uint64(opts.Seed), uint64(opts.Seed))
	} else {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Machine{
		store:  store,
		engine: eng,
		pairs:  set,
		opts:   opts,
		ledger: ledger,
		logger: logger.With("member", opts.Member),
		rng:    rand.New(src),
	}
}
// #endregion machine

// #region advance
// Advance executes exactly one phase of the member and persists the transition.
// On failure the state is not advanced; on cancellation the in-phase state is saved so
// the next call resumes the same phase.
func (m *Machine) Advance(ctx context.Context) (Report, error) {
	member := m.opts.Member
	unlock, err := m.store.Lock(member)
	if err != nil {
		return Report{}, err
	}
	defer unlock()

	rs, err := m.store.Load(member, m.initState)
	if err != nil {
		return Report{}, fmt.Errorf("load state: %w", err)
	}

	report := Report{
		RunID:     logging.NewRunID(),
		Member:    member,
		Iteration: rs.General.Iteration,
		From:      rs.General.Phase,
	}
	m.logger.Info("starting phase", "phase", rs.General.Phase, "iteration", rs.General.Iteration)

	var next state.RunState
	switch rs.General.Phase {
	case state.PhaseTraining:
		next, report.Attempts, err = m.train(ctx, rs, report.RunID)
	case state.PhaseConvergence:
		next, err = m.converge(ctx, rs)
	case state.PhaseProduction:
		next, err = m.produce(ctx, rs)
	default:
		err = fmt.Errorf("unknown phase %q", rs.General.Phase)
	}
	if err != nil {
		return report, m.fail(ctx, report, next, err)
	}

	if err := m.store.Save(member, next); err != nil {
		return report, fmt.Errorf("save state: %w", err)
	}
	report.To = next.General.Phase
	report.StartTime = next.General.StartTime
	m.logTransition(report, rs.General.Phase, next.General.Phase, logging.OutcomeAdvanced, "")
	m.logger.Info("phase complete", "from", report.From, "to", report.To,
		"iteration", next.General.Iteration, "start_time", next.General.StartTime)
	return report, nil
}

// fail records an unfinished phase. cur is the latest in-phase state; it is saved only
// when the failure is a cancellation.
func (m *Machine) fail(ctx context.Context, report Report, cur state.RunState, err error) error {
	outcome := logging.OutcomeFailed
	if ctx.Err() != nil {
		outcome = logging.OutcomeCancelled
		if cur.Pairs != nil {
			if serr := m.store.Save(m.opts.Member, cur); serr != nil {
				m.logger.Warn("could not save state after cancellation", "err", serr)
			}
		}
		m.logger.Warn("phase interrupted", "phase", report.From, "iteration", report.Iteration)
	} else {
		m.logger.Error("phase failed", "phase", report.From, "iteration", report.Iteration, "err", err)
	}
	m.logTransition(report, report.From, report.From, outcome, err.Error())
	return err
}

// Run advances up to n phases, stopping at the first error. n <= 0 runs until ctx is done.
func (m *Machine) Run(ctx context.Context, n int) ([]Report, error) {
	var reports []Report
	for i := 0; n <= 0 || i < n; i++ {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		r, err := m.Advance(ctx)
		if err != nil {
			return reports, err
		}
		reports = append(reports, r)
	}
	return reports, nil
}
// #endregion advance

// #region init
// initState builds the first RunState of the member: targets drawn from the pair priors
// and the default A for every restraint.
func (m *Machine) initState() state.RunState {
	targets := m.pairs.Sample(m.rng, m.opts.DefaultTarget)
	seeds := make([]state.PairSeed, 0, len(targets))
	for _, p := range m.pairs.Pairs() {
		seeds = append(seeds, state.PairSeed{
			Name:   p.Name,
			Sites:  p.Sites,
			Target: targets[p.Name],
			A:      m.opts.DefaultA,
		})
	}
	g := m.opts.General
	g.EnsembleNum = m.opts.Member
	return state.NewRunState(g, seeds)
}
// #endregion init

// #region engine
func (m *Machine) runEngine(ctx context.Context, req engine.Request) (engine.Result, error) {
	if m.opts.EngineTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.EngineTimeout)
		defer cancel()
	}
	res, err := m.engine.Run(ctx, req)
	if err != nil {
		if !errors.Is(err, engine.ErrEngine) {
			err = fmt.Errorf("%w: %w", engine.ErrEngine, err)
		}
		return engine.Result{}, fmt.Errorf("%s phase: %w", req.Phase, err)
	}
	return res, nil
}
// #endregion engine

// #region ledger
func (m *Machine) logTransition(r Report, from, to state.Phase, outcome, reason string) {
	err := m.ledger.LogTransition(logging.TransitionRecord{
		RunID:       r.RunID,
		EnsembleNum: r.Member,
		Iteration:   r.Iteration,
		FromPhase:   string(from),
		ToPhase:     string(to),
		StartTime:   r.StartTime,
		Outcome:     outcome,
		Reason:      reason,
	})
	if err != nil {
		m.logger.Warn("ledger write failed", "err", err)
	}
}
// #endregion ledger
