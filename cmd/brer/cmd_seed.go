package main

import (
	"fmt"

	"github.com/danielpatrickdp/brer-controller/internal/memory"
	"github.com/danielpatrickdp/brer-controller/internal/pairs"
	"github.com/spf13/cobra"
)

func newSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Show the A the bias memory would propose for a restraint and target",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("name")
			target, _ := cmd.Flags().GetFloat64("target")
			jsonOut, _ := cmd.Flags().GetBool("json")

			set, err := pairs.Load(cfg.PairsFile)
			if err != nil {
				return err
			}
			if _, ok := set.Get(name); !ok {
				return fmt.Errorf("unknown restraint %q", name)
			}
			mem, err := memory.Open(cfg.Layout().MemoryPath(cfg.EnsembleNum), set.Names(), cfg.Memory.BucketPrecision)
			if err != nil {
				return err
			}
			a, ok := mem.SeedA(name, target)
			bucket := memory.BucketKey(target, cfg.Memory.BucketPrecision)

			if jsonOut {
				out := map[string]any{"name": name, "bucket": bucket, "found": ok}
				if ok {
					out["A"] = a
				}
				return printJSON(cmd.OutOrStdout(), out)
			}
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s @ %s: no accepted A, default %.4g applies\n", name, bucket, cfg.Defaults.A)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s @ %s: A = %.6g\n", name, bucket, a)
			return nil
		},
	}
	cmd.Flags().String("name", "", "Restraint name")
	cmd.Flags().Float64("target", 0, "Target distance")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("target")
	return cmd
}
