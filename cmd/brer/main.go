package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/danielpatrickdp/brer-controller/internal/config"
	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

// #region main

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "brer",
		Short: "Drive BRER ensemble members through training, convergence and production",
		Long: `brer advances one ensemble member of a bias-resampling ensemble refinement run.

Each invocation loads the member's state, runs the next phase on the MD engine,
and persists the result so an interrupted run resumes where it stopped.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().Int("ensemble-num", 0, "Ensemble member to operate on (overrides config)")
	rootCmd.PersistentFlags().String("ensemble-dir", "", "Ensemble root directory (overrides config)")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newInspectCmd(),
		newSeedCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				printJSON(cmd.OutOrStdout(), map[string]string{"version": version})
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "brer version %s\n", version)
			}
		},
	}
}

// #endregion main

// #region helpers

// loadConfig reads --config and applies flag overrides that were set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	overrides := map[string]any{}
	if cmd.Flags().Changed("ensemble-num") {
		n, _ := cmd.Flags().GetInt("ensemble-num")
		overrides["ensemble_num"] = n
	}
	if cmd.Flags().Changed("ensemble-dir") {
		dir, _ := cmd.Flags().GetString("ensemble-dir")
		overrides["ensemble_dir"] = dir
	}
	return config.Load(path, overrides)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// #endregion helpers
