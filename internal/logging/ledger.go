package logging

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const ledgerSchema = `
CREATE TABLE IF NOT EXISTS training_attempts (
    id            TEXT PRIMARY KEY,
    run_id        TEXT NOT NULL,
    ensemble_num  INTEGER NOT NULL,
    iteration     INTEGER NOT NULL,
    attempt       INTEGER NOT NULL,
    counter       INTEGER NOT NULL,
    factor        REAL NOT NULL DEFAULT 0,
    converged     INTEGER NOT NULL DEFAULT 0,
    a_values_json TEXT,
    failed        TEXT,
    created_at    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS phase_transitions (
    id            TEXT PRIMARY KEY,
    run_id        TEXT NOT NULL,
    ensemble_num  INTEGER NOT NULL,
    iteration     INTEGER NOT NULL,
    from_phase    TEXT NOT NULL,
    to_phase      TEXT NOT NULL,
    start_time    REAL NOT NULL DEFAULT 0,
    outcome       TEXT NOT NULL,
    reason        TEXT,
    created_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_member ON training_attempts(ensemble_num, created_at);
CREATE INDEX IF NOT EXISTS idx_transitions_member ON phase_transitions(ensemble_num, created_at);
`
// #endregion schema

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// #region ledger-struct
// Ledger is the SQLite history of training attempts and phase transitions. It is
// auxiliary: the JSON state and memory files remain authoritative. A nil *Ledger accepts
// every write and returns nothing from reads.
type Ledger struct {
	db *sql.DB
}

// OpenLedger opens (creating if needed) the ledger database at path. An empty path
// disables the ledger and returns nil.
func OpenLedger(path string) (*Ledger, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	db.SetMaxOpenConns(1)
	l, err := NewLedger(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// NewLedger initializes the ledger tables on db.
func NewLedger(db *sql.DB) (*Ledger, error) {
	if _, err := db.Exec(ledgerSchema); err != nil {
		return nil, fmt.Errorf("init ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	if l == nil {
		return nil
	}
	return l.db.Close()
}

// NewRunID returns an id grouping the rows written by one phase invocation.
func NewRunID() string {
	return uuid.New().String()
}
// #endregion ledger-struct

// #region log-attempt
// LogAttempt writes one training attempt.
func (l *Ledger) LogAttempt(rec AttemptRecord) error {
	if l == nil {
		return nil
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	converged := 0
	if rec.Converged {
		converged = 1
	}
	_, err := l.db.Exec(
		`INSERT INTO training_attempts (id, run_id, ensemble_num, iteration, attempt, counter, factor, converged, a_values_json, failed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.RunID,
		rec.EnsembleNum,
		rec.Iteration,
		rec.Attempt,
		rec.Counter,
		rec.Factor,
		converged,
		nullIfEmpty(rec.AValuesJSON),
		nullIfEmpty(rec.Failed),
		rec.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("log attempt: %w", err)
	}
	return nil
}
// #endregion log-attempt

// #region log-transition
// LogTransition writes the outcome of one phase invocation.
func (l *Ledger) LogTransition(rec TransitionRecord) error {
	if l == nil {
		return nil
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := l.db.Exec(
		`INSERT INTO phase_transitions (id, run_id, ensemble_num, iteration, from_phase, to_phase, start_time, outcome, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.RunID,
		rec.EnsembleNum,
		rec.Iteration,
		rec.FromPhase,
		rec.ToPhase,
		rec.StartTime,
		rec.Outcome,
		nullIfEmpty(rec.Reason),
		rec.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("log transition: %w", err)
	}
	return nil
}
// #endregion log-transition

// #region queries
// ListAttempts returns the member's most recent attempts, newest first. limit <= 0 means all.
func (l *Ledger) ListAttempts(member, limit int) ([]AttemptRecord, error) {
	if l == nil {
		return nil, nil
	}
	rows, err := l.db.Query(
		`SELECT id, run_id, ensemble_num, iteration, attempt, counter, factor, converged,
		        COALESCE(a_values_json, ''), COALESCE(failed, ''), created_at
		 FROM training_attempts WHERE ensemble_num = ?
		 ORDER BY created_at DESC, attempt DESC LIMIT ?`,
		member, sqlLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var out []AttemptRecord
	for rows.Next() {
		var rec AttemptRecord
		var converged int
		var created string
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.EnsembleNum, &rec.Iteration, &rec.Attempt,
			&rec.Counter, &rec.Factor, &converged, &rec.AValuesJSON, &rec.Failed, &created); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		rec.Converged = converged == 1
		rec.CreatedAt, _ = time.Parse(timeLayout, created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// FailedStreak counts the member's failed attempts in iteration that came after the
// last converged one.
func (l *Ledger) FailedStreak(member, iteration int) (int, error) {
	if l == nil {
		return 0, nil
	}
	var n int
	err := l.db.QueryRow(
		`SELECT COUNT(*) FROM training_attempts
		 WHERE ensemble_num = ? AND iteration = ? AND converged = 0
		   AND attempt > COALESCE((SELECT MAX(attempt) FROM training_attempts
		                           WHERE ensemble_num = ? AND iteration = ? AND converged = 1), 0)`,
		member, iteration, member, iteration,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed streak: %w", err)
	}
	return n, nil
}

// ListTransitions returns the member's most recent phase invocations, newest first.
func (l *Ledger) ListTransitions(member, limit int) ([]TransitionRecord, error) {
	if l == nil {
		return nil, nil
	}
	rows, err := l.db.Query(
		`SELECT id, run_id, ensemble_num, iteration, from_phase, to_phase, start_time, outcome,
		        COALESCE(reason, ''), created_at
		 FROM phase_transitions WHERE ensemble_num = ?
		 ORDER BY created_at DESC LIMIT ?`,
		member, sqlLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var out []TransitionRecord
	for rows.Next() {
		var rec TransitionRecord
		var created string
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.EnsembleNum, &rec.Iteration, &rec.FromPhase,
			&rec.ToPhase, &rec.StartTime, &rec.Outcome, &rec.Reason, &created); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		rec.CreatedAt, _ = time.Parse(timeLayout, created)
		out = append(out, rec)
	}
	return out, rows.Err()
}
// #endregion queries

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
// #endregion helpers
