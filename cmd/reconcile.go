package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/apexgrid/f1data/internal/config"
	"github.com/apexgrid/f1data/internal/model"
	"github.com/apexgrid/f1data/internal/pipeline"
	"github.com/apexgrid/f1data/internal/store"
)

var reconcileReportPath string

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [dump files...]",
	Short: "Reconcile raw-record dumps into the canonical store",
	Long:  "Reads JSON dumps of raw records, runs the normalize/match/merge/validate pipeline, persists the canonical snapshot and quality report.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		policy, err := config.LoadPolicy(cfg.Pipeline.PolicyPath)
		if err != nil {
			return eris.Wrap(err, "load policy")
		}

		var raws []model.RawRecord
		for _, path := range args {
			batch, err := readDump(path)
			if err != nil {
				return err
			}
			raws = append(raws, batch...)
		}
		zap.L().Info("dumps loaded",
			zap.Int("files", len(args)),
			zap.Int("records", len(raws)),
		)

		p, err := pipeline.New(cfg.Pipeline, policy)
		if err != nil {
			return err
		}
		result, err := p.Run(ctx, raws)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}
		if err := store.Export(ctx, st, result.Store); err != nil {
			return err
		}
		if err := st.SaveReport(ctx, result.Report); err != nil {
			return err
		}
		if err := st.EnqueueReview(ctx, result.Review); err != nil {
			return err
		}

		if reconcileReportPath != "" {
			if err := writeReport(reconcileReportPath, result.Report); err != nil {
				return err
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result.Report.Summary)
	},
}

func readDump(path string) ([]model.RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open dump %s", path)
	}
	defer f.Close()

	var raws []model.RawRecord
	if err := json.NewDecoder(f).Decode(&raws); err != nil {
		return nil, eris.Wrapf(err, "decode dump %s", path)
	}
	return raws, nil
}

func writeReport(path string, report *model.QualityReport) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create report file %s", path)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(report), "write report")
}

func init() {
	reconcileCmd.Flags().StringVar(&reconcileReportPath, "report", "", "write the full quality report JSON to this path")
	rootCmd.AddCommand(reconcileCmd)
}
