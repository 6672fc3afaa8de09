package retrain

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/danielpatrickdp/brer-controller/internal/memory"
	"github.com/danielpatrickdp/brer-controller/internal/state"
)

// #region fakes

type fakeCheckpoints struct {
	calls  []string
	saved  []state.RunState
	failOn string
}

func (f *fakeCheckpoints) BackupEngineCheckpoint(member, iteration int, phase state.Phase) (bool, error) {
	f.calls = append(f.calls, "backup")
	if f.failOn == "backup" {
		return false, errors.New("disk full")
	}
	return false, nil
}

func (f *fakeCheckpoints) RelocateEngineCheckpoint(member, iteration int, phase state.Phase) (bool, error) {
	f.calls = append(f.calls, "relocate")
	return false, nil
}

func (f *fakeCheckpoints) Save(member int, rs state.RunState) error {
	f.calls = append(f.calls, "save")
	f.saved = append(f.saved, rs.Clone())
	return nil
}

// scripted returns an AttemptFunc whose nth call reports the nth set of sample counts.
func scripted(samples ...map[string]float64) (AttemptFunc, *[]state.RunState) {
	seen := &[]state.RunState{}
	return func(ctx context.Context, rs state.RunState) (Outcome, error) {
		i := len(*seen)
		*seen = append(*seen, rs.Clone())
		if i >= len(samples) {
			i = len(samples) - 1
		}
		var obs []Observation
		for _, name := range rs.Names() {
			n, ok := samples[i][name]
			if !ok {
				continue
			}
			obs = append(obs, Observation{Name: name, SampleCount: n, Target: rs.Pairs[name].Target, Alpha: -float64(i + 1)})
		}
		return Outcome{Observations: obs}, nil
	}, seen
}

func quietLogger() *log.Logger {
	l := log.New(os.Stderr)
	l.SetLevel(log.ErrorLevel)
	return l
}

func startState() state.RunState {
	return state.NewRunState(state.DefaultGeneralParams(1), []state.PairSeed{
		{Name: "P1", Sites: []int{1, 2}, Target: 3.0, A: 50},
		{Name: "P2", Sites: []int{3, 4}, Target: 4.0, A: 50},
	})
}

// #endregion

func TestTrainConvergesFirstAttempt(t *testing.T) {
	cp := &fakeCheckpoints{}
	mem := memory.New([]string{"P1", "P2"}, memory.DefaultPrecision)
	c := NewController(DefaultPolicy(), cp, mem, quietLogger())

	run, seen := scripted(map[string]float64{"P1": 500, "P2": 450})
	out, err := c.Train(context.Background(), startState(), run)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if len(*seen) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(*seen))
	}
	if out.Pairs["P1"].Alpha != -1 {
		t.Fatalf("expected alpha from the log, got %v", out.Pairs["P1"].Alpha)
	}
	if out.General.Phase != state.PhaseTraining {
		t.Fatal("Train must not apply the phase transition")
	}
	if got, ok := mem.SeedA("P1", 3.0); !ok || got != 50 {
		t.Fatalf("expected accepted A=50 in memory, got %v (ok=%v)", got, ok)
	}
	if len(cp.calls) < 2 || cp.calls[0] != "backup" || cp.calls[1] != "relocate" {
		t.Fatalf("expected backup then relocate before the attempt, got %v", cp.calls)
	}
}

func TestTrainEscalatesOnlyFailedRestraints(t *testing.T) {
	cp := &fakeCheckpoints{}
	mem := memory.New([]string{"P1", "P2"}, memory.DefaultPrecision)
	c := NewController(DefaultPolicy(), cp, mem, quietLogger())

	run, seen := scripted(
		map[string]float64{"P1": 100, "P2": 500},
		map[string]float64{"P1": 500, "P2": 500},
	)
	if _, err := c.Train(context.Background(), startState(), run); err != nil {
		t.Fatalf("Train: %v", err)
	}
	second := (*seen)[1]
	if math.Abs(second.Pairs["P1"].A-55) > 1e-9 {
		t.Fatalf("failed restraint should escalate to 55, got %v", second.Pairs["P1"].A)
	}
	if second.Pairs["P2"].A != 50 {
		t.Fatalf("converged restraint must keep A, got %v", second.Pairs["P2"].A)
	}
	if len(cp.saved) != 1 || cp.saved[0].Pairs["P1"].A != second.Pairs["P1"].A {
		t.Fatal("escalated state should be persisted before the retry")
	}
	e, _ := mem.Entry("P1")
	if len(e.Reject["3.00"]) != 1 || len(e.Accept["3.00"]) != 1 {
		t.Fatalf("expected one reject and one accept for P1, got %+v", e)
	}
}

func TestTrainEscalationIsMonotoneWithAggressiveFifthStep(t *testing.T) {
	cp := &fakeCheckpoints{}
	mem := memory.New([]string{"P1", "P2"}, memory.DefaultPrecision)
	c := NewController(DefaultPolicy(), cp, mem, quietLogger())

	fail := map[string]float64{"P1": 10}
	run, seen := scripted(fail, fail, fail, fail, fail, fail, map[string]float64{"P1": 999})

	var factors []float64
	c.OnAttempt = func(a Attempt) {
		if !a.Converged {
			factors = append(factors, a.Factor)
		}
	}
	if _, err := c.Train(context.Background(), startState(), run); err != nil {
		t.Fatalf("Train: %v", err)
	}

	want := []float64{1.1, 1.1, 1.1, 1.1, 2, 1.1}
	if len(factors) != len(want) {
		t.Fatalf("expected %d failures, got %v", len(want), factors)
	}
	for i := range want {
		if factors[i] != want[i] {
			t.Fatalf("failure %d used factor %v, want %v", i+1, factors[i], want[i])
		}
	}
	prev := 0.0
	for i, rs := range *seen {
		a := rs.Pairs["P1"].A
		if a < prev {
			t.Fatalf("A decreased at attempt %d: %v < %v", i+1, a, prev)
		}
		prev = a
		if rs.Pairs["P1"].Target != 3.0 {
			t.Fatalf("attempt %d ran with target %v, want original 3.0", i+1, rs.Pairs["P1"].Target)
		}
	}
}

func TestTrainPrefersEngineReportedAlphas(t *testing.T) {
	c := NewController(DefaultPolicy(), &fakeCheckpoints{}, memory.New([]string{"P1", "P2"}, 2), quietLogger())
	run, _ := scripted(map[string]float64{"P1": 500, "P2": 500})
	withEngine := func(ctx context.Context, rs state.RunState) (Outcome, error) {
		out, err := run(ctx, rs)
		out.Alphas = map[string]float64{"P1": 7.25}
		out.Targets = map[string]float64{"P1": 3.1}
		return out, err
	}

	out, err := c.Train(context.Background(), startState(), withEngine)
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if p := out.Pairs["P1"]; p.Alpha != 7.25 || p.Target != 3.1 {
		t.Fatalf("expected engine alpha 7.25 and target 3.1, got %v and %v", p.Alpha, p.Target)
	}
	if p := out.Pairs["P2"]; p.Alpha != -1 || p.Target != 4.0 {
		t.Fatalf("restraint the engine omitted should fall back to the log, got %v and %v", p.Alpha, p.Target)
	}
}

func TestTrainResumedStreakKeepsAggressiveStep(t *testing.T) {
	c := NewController(DefaultPolicy(), &fakeCheckpoints{}, memory.New([]string{"P1", "P2"}, 2), quietLogger())
	c.Resumed = 4

	var attempts []Attempt
	c.OnAttempt = func(a Attempt) { attempts = append(attempts, a) }
	run, _ := scripted(map[string]float64{"P1": 10}, map[string]float64{"P1": 900})
	if _, err := c.Train(context.Background(), startState(), run); err != nil {
		t.Fatalf("Train: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(attempts))
	}
	if a := attempts[0]; a.Number != 5 || a.Counter != 5 || a.Factor != 2 {
		t.Fatalf("fifth consecutive failure should be attempt 5 with factor 2, got %+v", a)
	}
}

func TestTrainSeedOverridesSmallerEscalation(t *testing.T) {
	cp := &fakeCheckpoints{}
	mem := memory.New([]string{"P1", "P2"}, memory.DefaultPrecision)
	mem.Record("P1", 3.0, 200, true)
	c := NewController(DefaultPolicy(), cp, mem, quietLogger())

	run, seen := scripted(map[string]float64{"P1": 10}, map[string]float64{"P1": 900})
	if _, err := c.Train(context.Background(), startState(), run); err != nil {
		t.Fatalf("Train: %v", err)
	}
	if got := (*seen)[1].Pairs["P1"].A; got != 200 {
		t.Fatalf("expected memory seed 200 to win over 55, got %v", got)
	}
}

func TestTrainAbortPolicy(t *testing.T) {
	cp := &fakeCheckpoints{}
	mem := memory.New([]string{"P1", "P2"}, memory.DefaultPrecision)
	p := DefaultPolicy()
	p.OnCap = OnCapAbort
	c := NewController(p, cp, mem, quietLogger())

	run, seen := scripted(map[string]float64{"P1": 10, "P2": 10})
	_, err := c.Train(context.Background(), startState(), run)
	if !errors.Is(err, ErrRetrainExhausted) {
		t.Fatalf("expected ErrRetrainExhausted, got %v", err)
	}
	if len(*seen) != p.CounterCap {
		t.Fatalf("expected %d attempts before abort, got %d", p.CounterCap, len(*seen))
	}
}

func TestTrainSkipsRestraintsWithoutLog(t *testing.T) {
	cp := &fakeCheckpoints{}
	mem := memory.New([]string{"P1", "P2"}, memory.DefaultPrecision)
	c := NewController(DefaultPolicy(), cp, mem, quietLogger())

	run, _ := scripted(map[string]float64{"P2": 800})
	if _, err := c.Train(context.Background(), startState(), run); err != nil {
		t.Fatalf("Train: %v", err)
	}
	e, _ := mem.Entry("P1")
	if len(e.Accept) != 0 || len(e.Reject) != 0 {
		t.Fatalf("restraint without a log must not be recorded: %+v", e)
	}
}

func TestTrainNoObservations(t *testing.T) {
	c := NewController(DefaultPolicy(), &fakeCheckpoints{}, memory.New([]string{"P1", "P2"}, 2), quietLogger())
	run, _ := scripted(map[string]float64{})
	if _, err := c.Train(context.Background(), startState(), run); !errors.Is(err, ErrNoObservations) {
		t.Fatalf("expected ErrNoObservations, got %v", err)
	}
}

func TestTrainCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewController(DefaultPolicy(), &fakeCheckpoints{}, memory.New([]string{"P1", "P2"}, 2), quietLogger())
	run, seen := scripted(map[string]float64{"P1": 900})
	if _, err := c.Train(ctx, startState(), run); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(*seen) != 0 {
		t.Fatal("no attempt should run after cancellation")
	}
}

func TestTrainBackupFailureStops(t *testing.T) {
	cp := &fakeCheckpoints{failOn: "backup"}
	c := NewController(DefaultPolicy(), cp, memory.New([]string{"P1", "P2"}, 2), quietLogger())
	run, seen := scripted(map[string]float64{"P1": 900})
	if _, err := c.Train(context.Background(), startState(), run); err == nil {
		t.Fatal("expected backup error")
	}
	if len(*seen) != 0 {
		t.Fatal("engine must not run when the checkpoint backup fails")
	}
}
