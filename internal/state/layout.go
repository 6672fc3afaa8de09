package state

import (
	"fmt"
	"path/filepath"
	"strconv"
)

const (
	stateFile      = "state.json"
	memoryFile     = "bias_memory.json"
	lockFile       = ".brer.lock"
	checkpointFile = "state.cpt"
)

// Layout maps ensemble members onto the on-disk directory tree:
//
//	<root>/mem_<n>/state.json
//	<root>/mem_<n>/bias_memory.json
//	<root>/mem_<n>/<iteration>/<phase>/state.cpt
type Layout struct {
	Root string
}

// MemberDir returns the directory owned by one ensemble member.
func (l Layout) MemberDir(member int) string {
	return filepath.Join(l.Root, fmt.Sprintf("mem_%d", member))
}

// StatePath returns the path of the member's RunState file.
func (l Layout) StatePath(member int) string {
	return filepath.Join(l.MemberDir(member), stateFile)
}

// MemoryPath returns the path of the member's BiasMemory file.
func (l Layout) MemoryPath(member int) string {
	return filepath.Join(l.MemberDir(member), memoryFile)
}

// LockPath returns the advisory lock file of a member.
func (l Layout) LockPath(member int) string {
	return filepath.Join(l.MemberDir(member), lockFile)
}

// PhaseDir returns the working directory of one phase of one iteration.
func (l Layout) PhaseDir(member, iteration int, phase Phase) string {
	return filepath.Join(l.MemberDir(member), strconv.Itoa(iteration), string(phase))
}

// CheckpointPath returns the engine-native checkpoint inside a phase directory.
func (l Layout) CheckpointPath(member, iteration int, phase Phase) string {
	return filepath.Join(l.PhaseDir(member, iteration, phase), checkpointFile)
}
