package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/apexgrid/f1data/internal/config"
	"github.com/apexgrid/f1data/internal/store"
	"github.com/apexgrid/f1data/internal/validate"
)

var validateReportPath string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Re-validate the persisted canonical store",
	Long:  "Loads the persisted canonical snapshot, runs all integrity and plausibility checks, and saves a fresh quality report.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		policy, err := config.LoadPolicy(cfg.Pipeline.PolicyPath)
		if err != nil {
			return eris.Wrap(err, "load policy")
		}

		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		ms, err := store.Import(ctx, st, cfg.Pipeline.MergeShards)
		if err != nil {
			return err
		}

		report, err := validate.New(policy).Validate(ctx, ms, nil)
		if err != nil {
			return err
		}
		if err := st.SaveReport(ctx, report); err != nil {
			return err
		}

		if validateReportPath != "" {
			if err := writeReport(validateReportPath, report); err != nil {
				return err
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report.Summary)
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateReportPath, "report", "", "write the full quality report JSON to this path")
	rootCmd.AddCommand(validateCmd)
}
