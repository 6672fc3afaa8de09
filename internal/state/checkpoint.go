package state

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/danielpatrickdp/brer-controller/internal/atomicfile"
)

// #region relocation-source
// checkpointSource returns where a phase pulls its starting checkpoint from.
// Training and convergence continue from the previous iteration's production run;
// production continues from the current iteration's convergence run.
// ok is false when there is no predecessor (training or convergence of iteration 0).
func (s *Store) checkpointSource(member, iteration int, phase Phase) (string, bool) {
	switch phase {
	case PhaseTraining, PhaseConvergence:
		if iteration < 1 {
			return "", false
		}
		return s.layout.CheckpointPath(member, iteration-1, PhaseProduction), true
	default:
		return s.layout.CheckpointPath(member, iteration, PhaseConvergence), true
	}
}
// #endregion relocation-source

// #region relocate
// RelocateEngineCheckpoint copies the engine checkpoint a phase should start from into the
// phase directory. An existing destination is never overwritten and a missing source is
// not an error; copied reports whether a file was written.
func (s *Store) RelocateEngineCheckpoint(member, iteration int, phase Phase) (bool, error) {
	dst := s.layout.CheckpointPath(member, iteration, phase)
	if _, err := os.Stat(dst); err == nil {
		s.logger.Info("checkpoint already present, not moving any files", "phase", phase, "path", dst)
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("stat checkpoint: %w", err)
	}

	src, ok := s.checkpointSource(member, iteration, phase)
	if !ok {
		return false, nil
	}
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("no checkpoint to relocate", "phase", phase, "source", src)
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("stat checkpoint source: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return false, fmt.Errorf("create phase dir: %w", err)
	}
	if err := atomicfile.Copy(src, dst); err != nil {
		return false, fmt.Errorf("copy checkpoint %s: %w", src, err)
	}
	s.logger.Info("relocated checkpoint", "phase", phase, "from", src, "to", dst)
	return true, nil
}
// #endregion relocate

// #region backup
// BackupEngineCheckpoint renames the checkpoint in a phase directory to state.cpt.bak so
// the next engine run starts from the beginning of the phase. It never deletes files;
// an older backup is replaced by the newer one.
func (s *Store) BackupEngineCheckpoint(member, iteration int, phase Phase) (bool, error) {
	cpt := s.layout.CheckpointPath(member, iteration, phase)
	if _, err := os.Stat(cpt); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("stat checkpoint: %w", err)
	}
	if err := os.Rename(cpt, cpt+".bak"); err != nil {
		return false, fmt.Errorf("backup checkpoint: %w", err)
	}
	s.logger.Warn("checkpoint found in training directory, backed up so the run starts over",
		"path", cpt)
	return true, nil
}
// #endregion backup

// #region phase-dir
// EnsurePhaseDir creates the working directory of a phase and returns its path.
func (s *Store) EnsurePhaseDir(member, iteration int, phase Phase) (string, error) {
	dir := s.layout.PhaseDir(member, iteration, phase)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create phase dir: %w", err)
	}
	return dir, nil
}
// #endregion phase-dir
