package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danielpatrickdp/brer-controller/internal/config"
	"github.com/danielpatrickdp/brer-controller/internal/engine"
	"github.com/danielpatrickdp/brer-controller/internal/logging"
	"github.com/danielpatrickdp/brer-controller/internal/pairs"
	"github.com/danielpatrickdp/brer-controller/internal/phase"
	"github.com/danielpatrickdp/brer-controller/internal/state"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Advance the ensemble member by one or more phases",
		Long: `Run executes the member's next phase on the MD engine and persists the
transition. With --phases N it keeps going for N phases; 0 runs until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			phases, _ := cmd.Flags().GetInt("phases")

			member := cfg.EnsembleNum
			layout := cfg.Layout()
			logPath := cfg.Log.File
			if logPath == "" && cfg.Log.MemberFile {
				logPath = logging.MemberLogPath(layout.MemberDir(member), member)
			}
			logger, closer, err := logging.NewLogger(cfg.Log, cmd.ErrOrStderr(), logPath)
			if err != nil {
				return err
			}
			defer closer.Close()

			set, err := pairs.Load(cfg.PairsFile)
			if err != nil {
				return err
			}
			ledger, err := logging.OpenLedger(cfg.LedgerPath())
			if err != nil {
				return err
			}
			defer ledger.Close()

			client, err := engine.NewClient(cfg.Engine.Addr)
			if err != nil {
				return err
			}
			defer client.Close()

			store := state.NewStore(layout, set.Names(), logger)
			machine := phase.New(store, client, set, phaseOptions(cfg), ledger, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reports, err := machine.Run(ctx, phases)
			for _, r := range reports {
				fmt.Fprintf(cmd.OutOrStdout(), "member %d iteration %d: %s -> %s\n", r.Member, r.Iteration, r.From, r.To)
			}
			return err
		},
	}
	cmd.Flags().Int("phases", 1, "Number of phases to run (0 = until interrupted)")
	return cmd
}

// phaseOptions maps the configuration onto the state machine's options.
func phaseOptions(cfg *config.Config) phase.Options {
	return phase.Options{
		Member:          cfg.EnsembleNum,
		Topology:        cfg.Topology,
		General:         cfg.GeneralParams(cfg.EnsembleNum),
		DefaultA:        cfg.Defaults.A,
		DefaultTarget:   cfg.Defaults.Target,
		Policy:          cfg.Retrain,
		Columns:         cfg.TrainLog,
		BucketPrecision: cfg.Memory.BucketPrecision,
		InheritMemory:   cfg.Memory.InheritPrevious,
		ResetMemory:     cfg.Memory.Reset,
		EngineTimeout:   cfg.Engine.Timeout,
		Seed:            cfg.Seed,
	}
}
