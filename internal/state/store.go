package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/danielpatrickdp/brer-controller/internal/atomicfile"
)

// #region errors
var (
	// ErrCorrupt marks a state file that exists but cannot be decoded.
	ErrCorrupt = errors.New("corrupt run state")
	// ErrNameMismatch marks a state whose restraints differ from the pair metadata.
	ErrNameMismatch = errors.New("restraint names do not match pair metadata")
	// ErrMemberBusy is returned when another process holds the member lock.
	ErrMemberBusy = errors.New("ensemble member is locked by another process")
)
// #endregion errors

// #region store-struct
// Store persists RunState per ensemble member and relocates engine checkpoints
// between phase directories.
type Store struct {
	layout Layout
	names  []string
	logger *log.Logger
}
// #endregion store-struct

// #region constructor
// NewStore returns a store rooted at layout. names is the fixed restraint set every
// loaded state is validated against.
func NewStore(layout Layout, names []string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{layout: layout, names: names, logger: logger}
}

// Layout returns the directory layout used by the store.
func (s *Store) Layout() Layout {
	return s.layout
}
// #endregion constructor

// #region load
// Load reads the member's state. When no state file exists yet, init is called and its
// result is persisted immediately so the member acquires a durable identity on first touch.
// An existing file that cannot be decoded is reported as ErrCorrupt and never replaced.
func (s *Store) Load(member int, init func() RunState) (RunState, error) {
	path := s.layout.StatePath(member)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		rs := init()
		rs.General.EnsembleNum = member
		if err := rs.Validate(s.names); err != nil {
			return RunState{}, fmt.Errorf("initial state: %w", err)
		}
		if err := s.Save(member, rs); err != nil {
			return RunState{}, err
		}
		s.logger.Info("created run state", "member", member, "path", path)
		return rs, nil
	}
	if err != nil {
		return RunState{}, fmt.Errorf("read state: %w", err)
	}

	var rs RunState
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&rs); err != nil {
		return RunState{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if rs.Pairs == nil {
		return RunState{}, fmt.Errorf("%w: %s: missing pair parameters", ErrCorrupt, path)
	}
	if rs.General.EnsembleNum != member {
		return RunState{}, fmt.Errorf("%w: %s belongs to member %d", ErrCorrupt, path, rs.General.EnsembleNum)
	}
	if err := rs.Validate(s.names); err != nil {
		return RunState{}, fmt.Errorf("validate %s: %w", path, err)
	}
	return rs, nil
}
// #endregion load

// #region save
// Save atomically replaces the member's state file. The previous file, if any, is kept
// as state.json.bak for manual recovery.
func (s *Store) Save(member int, rs RunState) error {
	if rs.General.EnsembleNum != member {
		return fmt.Errorf("save: state belongs to member %d, not %d", rs.General.EnsembleNum, member)
	}
	data, err := json.MarshalIndent(rs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	path := s.layout.StatePath(member)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create member dir: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		if err := atomicfile.Copy(path, path+".bak"); err != nil {
			return fmt.Errorf("backup state: %w", err)
		}
	}
	return atomicfile.WriteFile(path, data, 0o644)
}
// #endregion save

