// Package server exposes the reconciled dataset over a read-only HTTP
// API: the latest quality report, canonical entities, relationship
// tables and the manual review queue. It never mutates the store.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/apexgrid/f1data/internal/config"
	"github.com/apexgrid/f1data/internal/merge"
	"github.com/apexgrid/f1data/internal/model"
)

// Server serves the canonical store and the last validation report.
type Server struct {
	cfg    config.ServerConfig
	store  *merge.Store
	report *model.QualityReport
	review []model.ReviewCandidate
	http   *http.Server
}

// New builds a Server over an in-memory canonical store and the report
// from the run that produced it.
func New(cfg config.ServerConfig, store *merge.Store, report *model.QualityReport, review []model.ReviewCandidate) *Server {
	s := &Server{cfg: cfg, store: store, report: report, review: review}
	s.http = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	}))

	r.Get("/healthz", s.handleHealth)
	r.Get("/report", s.handleReport)
	r.Get("/anomalies", s.handleAnomalies)
	r.Get("/review", s.handleReview)
	r.Route("/entities/{kind}", func(r chi.Router) {
		r.Get("/", s.handleEntityList)
		r.Get("/{key}", s.handleEntityGet)
	})
	r.Get("/relationships/{kind}", s.handleRelationships)
	return r
}

// ListenAndServe blocks until the context is cancelled, then shuts the
// listener down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("server: listening", zap.String("addr", s.http.Addr))
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return eris.Wrap(err, "server: shutdown")
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server: listen")
		}
		return nil
	}
}
