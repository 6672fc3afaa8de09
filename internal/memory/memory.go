package memory

import (
	"fmt"
	"slices"
	"strconv"
	"sync"
)

// #region memory-struct

// BiasMemory is the append-only record of which A values converged, per restraint and
// per rounded target. When opened from a file every Record is persisted before it returns.
type BiasMemory struct {
	mu        sync.Mutex
	precision int
	entries   map[string]*Entry
	path      string
}

// New returns an empty in-memory BiasMemory for the given restraint names.
func New(names []string, precision int) *BiasMemory {
	m := &BiasMemory{precision: precision, entries: make(map[string]*Entry, len(names))}
	for _, name := range names {
		m.entries[name] = newEntry()
	}
	return m
}

// #endregion

// #region bucket-key

// BucketKey rounds target to precision decimals and formats it as a lookup key.
func BucketKey(target float64, precision int) string {
	return strconv.FormatFloat(target, 'f', precision, 64)
}

// #endregion

// #region record

// Record appends a into the accept bucket when converged is true, the reject bucket
// otherwise. Existing entries are never removed.
func (m *BiasMemory) Record(name string, target, a float64, converged bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRestraint, name)
	}
	key := BucketKey(target, m.precision)
	if converged {
		e.Accept[key] = append(e.Accept[key], a)
	} else {
		e.Reject[key] = append(e.Reject[key], a)
	}
	if m.path == "" {
		return nil
	}
	return m.saveLocked()
}

// #endregion

// #region seed

// SeedA proposes a starting A for name at target. ok is false when no converged attempt
// exists for the target's bucket and the caller should keep its configured A.
//
// The proposal is the median of the accepted values. If that exact value was also
// rejected at the same target it is scaled by 1.1 rather than reused.
func (m *BiasMemory) SeedA(name string, target float64) (a float64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, found := m.entries[name]
	if !found {
		return 0, false
	}
	key := BucketKey(target, m.precision)
	accepted := e.Accept[key]
	if len(accepted) == 0 {
		return 0, false
	}
	med := Median(accepted)
	if slices.Contains(e.Reject[key], med) {
		return med * rejectEscape, true
	}
	return med, true
}

// Median returns the median of values without modifying them. For an even count it is
// the mean of the two middle values. values must not be empty.
func Median(values []float64) float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// #endregion

// #region snapshot

// Entry returns a copy of the evidence recorded for name.
func (m *BiasMemory) Entry(name string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[name]
	if !ok {
		return Entry{}, false
	}
	return Entry{Accept: cloneBuckets(e.Accept), Reject: cloneBuckets(e.Reject)}, true
}

func cloneBuckets(b Buckets) Buckets {
	out := make(Buckets, len(b))
	for k, v := range b {
		out[k] = slices.Clone(v)
	}
	return out
}

// #endregion
