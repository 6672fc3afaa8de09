package retrain

import (
	"errors"
	"fmt"
)

// #region errors

// ErrRetrainExhausted is returned when the counter reaches the cap under OnCapAbort.
var ErrRetrainExhausted = errors.New("retrain attempts exhausted")

// ErrNoObservations is returned when a training attempt produced no log for any restraint.
var ErrNoObservations = errors.New("training produced no restraint logs")

// #endregion

// #region policy

// Convergence rules for the sample count read from a training log.
const (
	RuleAbove  = "above"
	RuleAtMost = "at_most"
)

// Cap behaviours once the retrain counter reaches CounterCap.
const (
	OnCapReset = "reset"
	OnCapAbort = "abort"
)

// Policy configures the convergence test and the escalation schedule.
type Policy struct {
	SampleThreshold  float64 `koanf:"sample_threshold" validate:"gte=0"`
	Rule             string  `koanf:"rule" validate:"oneof=above at_most"`
	EscalationStreak int     `koanf:"escalation_streak" validate:"gte=1,ltfield=CounterCap"`
	CounterCap       int     `koanf:"counter_cap" validate:"gte=1"`
	StandardFactor   float64 `koanf:"standard_factor" validate:"gte=1"`
	AggressiveFactor float64 `koanf:"aggressive_factor" validate:"gte=1"`
	OnCap            string  `koanf:"on_cap" validate:"oneof=reset abort"`
}

// DefaultPolicy returns the schedule used by run_brer: ×1.1 per failure, ×2 on the fifth
// consecutive failure, counter wrapping to zero at six.
func DefaultPolicy() Policy {
	return Policy{
		SampleThreshold:  400,
		Rule:             RuleAbove,
		EscalationStreak: 5,
		CounterCap:       6,
		StandardFactor:   1.1,
		AggressiveFactor: 2,
		OnCap:            OnCapReset,
	}
}

// Converged applies the sample-count rule to one restraint.
func (p Policy) Converged(samples float64) bool {
	if p.Rule == RuleAtMost {
		return samples <= p.SampleThreshold
	}
	return samples > p.SampleThreshold
}

// Next advances the counter after a failed attempt and returns the factor the failed
// restraints' A is multiplied by.
func (p Policy) Next(counter int) (int, float64, error) {
	next := counter + 1
	if next >= p.CounterCap {
		if p.OnCap == OnCapAbort {
			return counter, 0, fmt.Errorf("%w: %d consecutive failures", ErrRetrainExhausted, next)
		}
		next = 0
	}
	if next == p.EscalationStreak {
		return next, p.AggressiveFactor, nil
	}
	return next, p.StandardFactor, nil
}

// #endregion
