package phase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/danielpatrickdp/brer-controller/internal/engine"
	"github.com/danielpatrickdp/brer-controller/internal/logging"
	"github.com/danielpatrickdp/brer-controller/internal/memory"
	"github.com/danielpatrickdp/brer-controller/internal/retrain"
	"github.com/danielpatrickdp/brer-controller/internal/state"
	"github.com/danielpatrickdp/brer-controller/internal/trainlog"
)

// #region training
// train prepares the training phase and hands it to the retrain controller. A fresh
// training phase draws new targets and seeds A from memory; a resumed one (its directory
// already exists) keeps the persisted targets and escalated A.
func (m *Machine) train(ctx context.Context, rs state.RunState, runID string) (state.RunState, int, error) {
	member := m.opts.Member
	iteration := rs.General.Iteration
	layout := m.store.Layout()

	mem, err := m.openMemory()
	if err != nil {
		return rs, 0, err
	}

	resumed := 0
	dir := layout.PhaseDir(member, iteration, state.PhaseTraining)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		rs = rs.WithTargets(m.pairs.Sample(m.rng, m.opts.DefaultTarget))
		seeds := make(map[string]float64)
		for _, name := range rs.Names() {
			if a, ok := mem.SeedA(name, rs.Pairs[name].Target); ok {
				seeds[name] = a
			}
		}
		rs = rs.WithA(seeds)
		m.logger.Info("new training targets", "iteration", iteration, "targets", rs.Targets(), "seeded", len(seeds))
	} else if err != nil {
		return rs, 0, fmt.Errorf("stat training dir: %w", err)
	} else {
		resumed, err = m.ledger.FailedStreak(member, iteration)
		if err != nil {
			m.logger.Warn("ledger read failed, escalation streak restarts", "err", err)
			resumed = 0
		}
		m.logger.Info("resuming training", "iteration", iteration, "failed_attempts", resumed)
	}
	if err := m.store.Save(member, rs); err != nil {
		return rs, 0, fmt.Errorf("save training state: %w", err)
	}
	if _, err := m.store.EnsurePhaseDir(member, iteration, state.PhaseTraining); err != nil {
		return rs, 0, err
	}

	attempts := 0
	ctrl := retrain.NewController(m.opts.Policy, m.store, mem, m.logger)
	ctrl.Resumed = resumed
	ctrl.OnAttempt = func(a retrain.Attempt) {
		attempts = a.Number
		values, _ := json.Marshal(a.A)
		err := m.ledger.LogAttempt(logging.AttemptRecord{
			RunID:       runID,
			EnsembleNum: member,
			Iteration:   iteration,
			Attempt:     a.Number,
			Counter:     a.Counter,
			Factor:      a.Factor,
			Converged:   a.Converged,
			AValuesJSON: string(values),
			Failed:      strings.Join(a.Failed, ","),
		})
		if err != nil {
			m.logger.Warn("ledger write failed", "err", err)
		}
	}

	out, err := ctrl.Train(ctx, rs, func(ctx context.Context, cur state.RunState) (retrain.Outcome, error) {
		return m.trainingAttempt(ctx, cur, dir)
	})
	if err != nil {
		return out, attempts, err
	}
	return out.Next(0), attempts, nil
}

// openMemory provisions the member's memory file once per Machine and opens it.
func (m *Machine) openMemory() (*memory.BiasMemory, error) {
	member := m.opts.Member
	layout := m.store.Layout()
	path := layout.MemoryPath(member)
	if !m.memoryProvisioned {
		inheritFrom := ""
		if m.opts.InheritMemory && member > 0 {
			inheritFrom = layout.MemoryPath(member - 1)
		}
		action, err := memory.Provision(path, inheritFrom, m.opts.ResetMemory)
		if err != nil {
			return nil, err
		}
		m.memoryProvisioned = true
		m.logger.Debug("bias memory provisioned", "action", action, "path", path)
	}
	mem, err := memory.Open(path, m.pairs.Names(), m.opts.BucketPrecision)
	if err != nil {
		return nil, fmt.Errorf("open bias memory: %w", err)
	}
	return mem, nil
}

// trainingAttempt runs the engine once and reads back every restraint's log. Logs left
// by an earlier attempt are renamed to .bak first so they cannot be mistaken for new ones.
// The alphas and targets the engine reports travel with the observations.
func (m *Machine) trainingAttempt(ctx context.Context, rs state.RunState, dir string) (retrain.Outcome, error) {
	for _, name := range rs.Names() {
		path := filepath.Join(dir, rs.Pairs[name].LoggingFilename)
		if _, err := os.Stat(path); err == nil {
			if err := os.Rename(path, path+".bak"); err != nil {
				return retrain.Outcome{}, fmt.Errorf("backup training log: %w", err)
			}
		}
	}

	res, err := m.runEngine(ctx, engine.NewRequest(rs, dir, m.opts.Topology))
	if err != nil {
		return retrain.Outcome{}, err
	}

	var obs []retrain.Observation
	for _, name := range rs.Names() {
		path := filepath.Join(dir, rs.Pairs[name].LoggingFilename)
		rec, err := trainlog.ReadLast(path, m.opts.Columns)
		if errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("no training log, skipping restraint", "restraint", name, "path", path)
			continue
		}
		if err != nil {
			return retrain.Outcome{}, fmt.Errorf("read training log %s: %w", name, err)
		}
		obs = append(obs, retrain.Observation{
			Name:        name,
			SampleCount: rec.SampleCount,
			Target:      rec.Target,
			Alpha:       rec.Alpha,
		})
	}
	alphas, targets := res.Alphas()
	return retrain.Outcome{Observations: obs, Alphas: alphas, Targets: targets}, nil
}
// #endregion training

// #region convergence
// converge runs the fixed-alpha convergence phase and records the engine's end time.
func (m *Machine) converge(ctx context.Context, rs state.RunState) (state.RunState, error) {
	dir, err := m.prepare(rs, state.PhaseConvergence)
	if err != nil {
		return rs, err
	}
	res, err := m.runEngine(ctx, engine.NewRequest(rs, dir, m.opts.Topology))
	if err != nil {
		return rs, err
	}
	return rs.Next(res.Time), nil
}
// #endregion convergence

// #region production
// produce runs production until start_time + production_time.
func (m *Machine) produce(ctx context.Context, rs state.RunState) (state.RunState, error) {
	dir, err := m.prepare(rs, state.PhaseProduction)
	if err != nil {
		return rs, err
	}
	res, err := m.runEngine(ctx, engine.NewRequest(rs, dir, m.opts.Topology))
	if err != nil {
		return rs, err
	}
	return rs.Next(res.Time), nil
}
// #endregion production

// prepare relocates the starting checkpoint and creates the phase directory.
func (m *Machine) prepare(rs state.RunState, phase state.Phase) (string, error) {
	member, iteration := m.opts.Member, rs.General.Iteration
	if _, err := m.store.RelocateEngineCheckpoint(member, iteration, phase); err != nil {
		return "", err
	}
	return m.store.EnsurePhaseDir(member, iteration, phase)
}
