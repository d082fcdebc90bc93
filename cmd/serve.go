package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/apexgrid/f1data/internal/server"
	"github.com/apexgrid/f1data/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the reconciled dataset over a read-only HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		ms, err := store.Import(ctx, st, cfg.Pipeline.MergeShards)
		if err != nil {
			return err
		}
		report, err := st.LatestReport(ctx)
		if err != nil {
			return err
		}
		review, err := st.ListReview(ctx, store.ReviewFilter{})
		if err != nil {
			return err
		}

		serverCfg := cfg.Server
		if servePort > 0 {
			serverCfg.Port = servePort
		}

		entities, rels := ms.Counts()
		zap.L().Info("snapshot loaded",
			zap.Int("entities", entities),
			zap.Int("relationships", rels),
			zap.Int("review", len(review)),
		)

		return server.New(serverCfg, ms, report, review).ListenAndServe(ctx)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
