package logging

import "time"

// #region attempt-record
// AttemptRecord is a single row in the training_attempts table.
type AttemptRecord struct {
	ID          string
	RunID       string
	EnsembleNum int
	Iteration   int
	Attempt     int
	Counter     int
	Factor      float64
	Converged   bool
	AValuesJSON string // {"<name>": A} as run
	Failed      string // comma-separated restraint names
	CreatedAt   time.Time
}
// #endregion attempt-record

// #region transition-record
// Outcomes of a phase invocation.
const (
	OutcomeAdvanced  = "advanced"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// TransitionRecord is a single row in the phase_transitions table.
type TransitionRecord struct {
	ID          string
	RunID       string
	EnsembleNum int
	Iteration   int
	FromPhase   string
	ToPhase     string
	StartTime   float64
	Outcome     string
	Reason      string
	CreatedAt   time.Time
}
// #endregion transition-record
