// Package retrain repeats the training phase until every restraint converges, escalating
// the bias strength A of the restraints that did not.
package retrain

import (
	"context"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/danielpatrickdp/brer-controller/internal/state"
)

// #region interfaces

// Checkpoints is the slice of the state store the controller needs.
type Checkpoints interface {
	BackupEngineCheckpoint(member, iteration int, phase state.Phase) (bool, error)
	RelocateEngineCheckpoint(member, iteration int, phase state.Phase) (bool, error)
	Save(member int, rs state.RunState) error
}

// Memory records attempt outcomes and proposes seeds.
type Memory interface {
	Record(name string, target, a float64, converged bool) error
	SeedA(name string, target float64) (float64, bool)
}

// Observation is what one restraint's training log reported for an attempt.
type Observation struct {
	Name        string
	SampleCount float64
	Target      float64
	Alpha       float64
}

// Outcome is the result of one training attempt. Observations holds one entry per
// restraint that wrote a log; restraints without a log are omitted. Alphas and Targets
// hold what the engine reported as applied and take precedence over the log values.
type Outcome struct {
	Observations []Observation
	Alphas       map[string]float64
	Targets      map[string]float64
}

// AttemptFunc runs the engine once for the training phase of rs.
type AttemptFunc func(ctx context.Context, rs state.RunState) (Outcome, error)

// Attempt summarises one finished training attempt.
type Attempt struct {
	Number    int
	Counter   int
	Factor    float64
	Converged bool
	A         map[string]float64
	Failed    []string
}

// #endregion

// #region controller

// Controller drives one training sequence for a member.
type Controller struct {
	policy      Policy
	checkpoints Checkpoints
	memory      Memory
	logger      *log.Logger

	// OnAttempt, when set, is called after every attempt.
	OnAttempt func(Attempt)

	// Resumed is the number of consecutive failed attempts already made for this
	// iteration before an interruption. Train replays them through the policy so the
	// escalation streak and attempt numbering carry over.
	Resumed int
}

// NewController returns a controller using policy.
func NewController(policy Policy, checkpoints Checkpoints, memory Memory, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{policy: policy, checkpoints: checkpoints, memory: memory, logger: logger}
}

// #endregion

// #region train

// Train runs attempts until one converges and returns rs with the converged alphas and
// targets applied. The returned state keeps the training phase; the caller applies the
// transition. On error the returned state holds the latest persisted A values.
func (c *Controller) Train(ctx context.Context, rs state.RunState, run AttemptFunc) (state.RunState, error) {
	member := rs.General.EnsembleNum
	iteration := rs.General.Iteration
	original := rs.Targets()
	counter := c.replay()

	for number := c.Resumed + 1; ; number++ {
		if err := ctx.Err(); err != nil {
			return rs, err
		}
		if _, err := c.checkpoints.BackupEngineCheckpoint(member, iteration, state.PhaseTraining); err != nil {
			return rs, err
		}
		if _, err := c.checkpoints.RelocateEngineCheckpoint(member, iteration, state.PhaseTraining); err != nil {
			return rs, err
		}

		out, err := run(ctx, rs)
		if err != nil {
			return rs, fmt.Errorf("training attempt %d: %w", number, err)
		}
		obs := out.Observations
		if len(obs) == 0 {
			return rs, fmt.Errorf("training attempt %d: %w", number, ErrNoObservations)
		}

		failed, err := c.record(rs, obs)
		if err != nil {
			return rs, err
		}

		attempt := Attempt{Number: number, A: aValues(rs), Failed: failed, Converged: len(failed) == 0}
		if attempt.Converged {
			c.notify(attempt)
			c.logger.Info("training converged", "member", member, "iteration", iteration, "attempts", number)
			alphas, targets := applied(obs, out)
			return rs.WithAlphas(alphas, targets), nil
		}

		next, factor, err := c.policy.Next(counter)
		attempt.Counter = next
		attempt.Factor = factor
		c.notify(attempt)
		if err != nil {
			return rs, err
		}
		counter = next

		rs = rs.WithA(c.escalate(rs, failed, factor)).WithTargets(original)
		if err := c.checkpoints.Save(member, rs); err != nil {
			return rs, fmt.Errorf("persist escalated state: %w", err)
		}
		c.logger.Warn("training did not converge, retrying",
			"member", member, "attempt", number, "counter", counter, "factor", factor, "failed", failed)
	}
}

// replay returns the counter reached after c.Resumed failures. A streak that already hit
// the cap under the abort policy is left where it stopped.
func (c *Controller) replay() int {
	counter := 0
	for i := 0; i < c.Resumed; i++ {
		next, _, err := c.policy.Next(counter)
		if err != nil {
			break
		}
		counter = next
	}
	return counter
}

// applied merges the log values with what the engine reported; the engine wins.
func applied(obs []Observation, out Outcome) (alphas, targets map[string]float64) {
	alphas = make(map[string]float64, len(obs))
	targets = make(map[string]float64, len(obs))
	for _, o := range obs {
		alphas[o.Name] = o.Alpha
		targets[o.Name] = o.Target
	}
	for name, a := range out.Alphas {
		alphas[name] = a
	}
	for name, t := range out.Targets {
		targets[name] = t
	}
	return alphas, targets
}

// record stores every observation in memory and returns the names that did not converge.
func (c *Controller) record(rs state.RunState, obs []Observation) ([]string, error) {
	var failed []string
	for _, o := range obs {
		p, ok := rs.Pairs[o.Name]
		if !ok {
			return nil, fmt.Errorf("observation for unknown restraint %q", o.Name)
		}
		converged := c.policy.Converged(o.SampleCount)
		if err := c.memory.Record(o.Name, p.Target, p.A, converged); err != nil {
			return nil, fmt.Errorf("record %s: %w", o.Name, err)
		}
		if !converged {
			failed = append(failed, o.Name)
		}
	}
	sort.Strings(failed)
	return failed, nil
}

// escalate returns the next A for each failed restraint. A memory seed larger than the
// escalated value wins so A never decreases within a streak.
func (c *Controller) escalate(rs state.RunState, failed []string, factor float64) map[string]float64 {
	out := make(map[string]float64, len(failed))
	for _, name := range failed {
		p := rs.Pairs[name]
		a := p.A * factor
		if seed, ok := c.memory.SeedA(name, p.Target); ok && seed > a {
			a = seed
		}
		out[name] = a
	}
	return out
}

func (c *Controller) notify(a Attempt) {
	if c.OnAttempt != nil {
		c.OnAttempt(a)
	}
}

func aValues(rs state.RunState) map[string]float64 {
	out := make(map[string]float64, len(rs.Pairs))
	for name, p := range rs.Pairs {
		out[name] = p.A
	}
	return out
}

// #endregion
