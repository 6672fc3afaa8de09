package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strconv"

	"github.com/danielpatrickdp/brer-controller/internal/logging"
	"github.com/danielpatrickdp/brer-controller/internal/memory"
	"github.com/danielpatrickdp/brer-controller/internal/pairs"
	"github.com/danielpatrickdp/brer-controller/internal/state"
	"github.com/spf13/cobra"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show a member's persisted state, bias memory or history",
	}
	cmd.AddCommand(newInspectStateCmd(), newInspectMemoryCmd(), newInspectHistoryCmd())
	return cmd
}

// #region state

func newInspectStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print the member's run state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			jsonOut, _ := cmd.Flags().GetBool("json")
			path := cfg.Layout().StatePath(cfg.EnsembleNum)

			data, err := os.ReadFile(path)
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("member %d has no state yet (%s)", cfg.EnsembleNum, path)
			}
			if err != nil {
				return err
			}
			var rs state.RunState
			if err := json.Unmarshal(data, &rs); err != nil {
				return fmt.Errorf("%w: %s: %v", state.ErrCorrupt, path, err)
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), rs)
			}
			printState(cmd.OutOrStdout(), rs)
			return nil
		},
	}
}

func printState(w io.Writer, rs state.RunState) {
	g := rs.General
	fmt.Fprintf(w, "Member:      %d\n", g.EnsembleNum)
	fmt.Fprintf(w, "Iteration:   %d\n", g.Iteration)
	fmt.Fprintf(w, "Phase:       %s\n", g.Phase)
	fmt.Fprintf(w, "Start time:  %.1f ps\n", g.StartTime)
	fmt.Fprintf(w, "Production:  %.1f ps\n\n", g.ProductionTime)

	fmt.Fprintf(w, "%-12s  %-14s  %8s  %10s  %10s\n", "Restraint", "Sites", "Target", "Alpha", "A")
	fmt.Fprintf(w, "%-12s+-%-14s+-%8s+-%10s+-%10s\n", "------------", "--------------", "--------", "----------", "----------")
	for _, name := range rs.Names() {
		p := rs.Pairs[name]
		fmt.Fprintf(w, "%-12s  %-14s  %8.3f  %10.4f  %10.4f\n", name, fmt.Sprint(p.Sites), p.Target, p.Alpha, p.A)
	}
}

// #endregion state

// #region memory

func newInspectMemoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "memory",
		Short: "Print accepted and rejected A values per restraint and target bucket",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			jsonOut, _ := cmd.Flags().GetBool("json")
			set, err := pairs.Load(cfg.PairsFile)
			if err != nil {
				return err
			}
			mem, err := memory.Open(cfg.Layout().MemoryPath(cfg.EnsembleNum), set.Names(), cfg.Memory.BucketPrecision)
			if err != nil {
				return err
			}

			entries := make(map[string]memory.Entry)
			for _, name := range mem.Names() {
				e, _ := mem.Entry(name)
				entries[name] = e
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), entries)
			}
			printMemory(cmd.OutOrStdout(), mem, entries)
			return nil
		},
	}
}

func printMemory(w io.Writer, mem *memory.BiasMemory, entries map[string]memory.Entry) {
	fmt.Fprintf(w, "%-12s  %-8s  %6s  %6s  %10s\n", "Restraint", "Bucket", "Accept", "Reject", "Seed")
	fmt.Fprintf(w, "%-12s+-%-8s+-%6s+-%6s+-%10s\n", "------------", "--------", "------", "------", "----------")
	for _, name := range mem.Names() {
		e := entries[name]
		buckets := make(map[string]bool)
		for b := range e.Accept {
			buckets[b] = true
		}
		for b := range e.Reject {
			buckets[b] = true
		}
		keys := make([]string, 0, len(buckets))
		for b := range buckets {
			keys = append(keys, b)
		}
		sort.Strings(keys)
		for _, b := range keys {
			seed := "—"
			if len(e.Accept[b]) > 0 {
				if a, ok := mem.SeedA(name, parseBucket(b)); ok {
					seed = fmt.Sprintf("%.4f", a)
				}
			}
			fmt.Fprintf(w, "%-12s  %-8s  %6d  %6d  %10s\n", name, b, len(e.Accept[b]), len(e.Reject[b]), seed)
		}
	}
}

func parseBucket(b string) float64 {
	v, _ := strconv.ParseFloat(b, 64)
	return v
}

// #endregion memory

// #region history

func newInspectHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent phase transitions and training attempts from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			jsonOut, _ := cmd.Flags().GetBool("json")
			last, _ := cmd.Flags().GetInt("last")

			path := cfg.LedgerPath()
			if path == "" {
				return fmt.Errorf("ledger disabled (ledger.path is empty)")
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("no ledger at %s: %w", path, err)
			}
			ledger, err := logging.OpenLedger(path)
			if err != nil {
				return err
			}
			defer ledger.Close()

			transitions, err := ledger.ListTransitions(cfg.EnsembleNum, last)
			if err != nil {
				return err
			}
			attempts, err := ledger.ListAttempts(cfg.EnsembleNum, last)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"transitions": transitions,
					"attempts":    attempts,
				})
			}
			printHistory(cmd.OutOrStdout(), transitions, attempts)
			return nil
		},
	}
	cmd.Flags().Int("last", 20, "Show N most recent rows of each kind")
	return cmd
}

func printHistory(w io.Writer, transitions []logging.TransitionRecord, attempts []logging.AttemptRecord) {
	fmt.Fprintf(w, "%-12s  %4s  %-11s  %-11s  %-9s  %10s  %s\n", "Run", "Iter", "From", "To", "Outcome", "Start", "Time")
	fmt.Fprintf(w, "%-12s+-%4s+-%-11s+-%-11s+-%-9s+-%10s+-%s\n",
		"------------", "----", "-----------", "-----------", "---------", "----------", "--------------------")
	for i := len(transitions) - 1; i >= 0; i-- {
		t := transitions[i]
		fmt.Fprintf(w, "%-12s  %4d  %-11s  %-11s  %-9s  %10.1f  %s\n",
			shortID(t.RunID), t.Iteration, t.FromPhase, t.ToPhase, t.Outcome, t.StartTime,
			t.CreatedAt.Format("2006-01-02T15:04:05Z"))
	}

	if len(attempts) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%-12s  %4s  %7s  %7s  %6s  %-9s  %s\n", "Run", "Iter", "Attempt", "Counter", "Factor", "Converged", "Failed")
	for i := len(attempts) - 1; i >= 0; i-- {
		a := attempts[i]
		failed := a.Failed
		if failed == "" {
			failed = "—"
		}
		fmt.Fprintf(w, "%-12s  %4d  %7d  %7d  %6.2f  %-9t  %s\n",
			shortID(a.RunID), a.Iteration, a.Attempt, a.Counter, a.Factor, a.Converged, failed)
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// #endregion history
