package memory

import "errors"

// #region errors
var (
	// ErrCorrupt marks a memory file that exists but cannot be decoded.
	ErrCorrupt = errors.New("corrupt bias memory")
	// ErrUnknownRestraint is returned for names outside the fixed restraint set.
	ErrUnknownRestraint = errors.New("unknown restraint")
)
// #endregion errors

// #region constants

// DefaultPrecision is the number of decimals a target is rounded to before it is
// used as a bucket key: 3.004 and 2.996 both land in "3.00".
const DefaultPrecision = 2

// rejectEscape scales a seed that is already known to have failed.
const rejectEscape = 1.1

// #endregion

// #region buckets

// Buckets maps a rounded target to the A values observed for it, in insertion order.
type Buckets map[string][]float64

// Entry holds the accept/reject evidence of one restraint.
type Entry struct {
	Accept Buckets `json:"acceptA"`
	Reject Buckets `json:"rejectA"`
}

func newEntry() *Entry {
	return &Entry{Accept: Buckets{}, Reject: Buckets{}}
}

// #endregion
