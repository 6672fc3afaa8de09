package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/danielpatrickdp/brer-controller/internal/atomicfile"
)

// #region open

// Open loads the memory file at path for the given restraints. A missing or empty file
// means no prior evidence. A file that fails to decode or names an unknown restraint is
// reported as ErrCorrupt rather than silently reset. Every later Record is written back
// to path.
func Open(path string, names []string, precision int) (*BiasMemory, error) {
	m := New(names, precision)
	m.path = path

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(data) == 0) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read bias memory: %w", err)
	}

	var raw map[string]*Entry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	for name, e := range raw {
		if _, ok := m.entries[name]; !ok {
			return nil, fmt.Errorf("%w: %s: %w %q", ErrCorrupt, path, ErrUnknownRestraint, name)
		}
		if e == nil {
			continue
		}
		if e.Accept != nil {
			m.entries[name].Accept = e.Accept
		}
		if e.Reject != nil {
			m.entries[name].Reject = e.Reject
		}
	}
	return m, nil
}

// #endregion

// #region save

func (m *BiasMemory) saveLocked() error {
	data, err := json.MarshalIndent(m.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal bias memory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}
	if err := atomicfile.WriteFile(m.path, data, 0o644); err != nil {
		return fmt.Errorf("write bias memory: %w", err)
	}
	return nil
}

// Names returns the restraints tracked by the memory, sorted.
func (m *BiasMemory) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// #endregion

// #region provisioning

// Provision prepares the memory file of a member before it is opened. With reset the
// file is truncated to an empty memory. Otherwise, when dst does not exist and inheritFrom
// names an existing file, that file is copied so the member starts from the evidence of
// its predecessor. It reports which action was taken: "reset", "inherited", "existing"
// or "empty".
func Provision(dst, inheritFrom string, reset bool) (string, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create memory dir: %w", err)
	}
	if reset {
		if err := atomicfile.WriteFile(dst, nil, 0o644); err != nil {
			return "", fmt.Errorf("reset bias memory: %w", err)
		}
		return "reset", nil
	}
	if _, err := os.Stat(dst); err == nil {
		return "existing", nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("stat bias memory: %w", err)
	}
	if inheritFrom != "" {
		if _, err := os.Stat(inheritFrom); err == nil {
			if err := atomicfile.Copy(inheritFrom, dst); err != nil {
				return "", fmt.Errorf("inherit bias memory: %w", err)
			}
			return "inherited", nil
		}
	}
	return "empty", nil
}

// #endregion
