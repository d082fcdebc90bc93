package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/apexgrid/f1data/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	entities, rels := s.store.Counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"entities":      entities,
		"relationships": rels,
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.report == nil {
		writeError(w, http.StatusNotFound, "no report available")
		return
	}
	writeJSON(w, http.StatusOK, s.report)
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	if s.report == nil {
		writeError(w, http.StatusNotFound, "no report available")
		return
	}
	anomalies := s.report.Anomalies
	if kind := r.URL.Query().Get("kind"); kind != "" {
		filtered := make([]model.Anomaly, 0, len(anomalies))
		for _, a := range anomalies {
			if string(a.Kind) == kind {
				filtered = append(filtered, a)
			}
		}
		anomalies = filtered
	}
	writeJSON(w, http.StatusOK, anomalies)
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	if s.review == nil {
		writeJSON(w, http.StatusOK, []model.ReviewCandidate{})
		return
	}
	writeJSON(w, http.StatusOK, s.review)
}

func parseKind(r *http.Request) (model.EntityKind, bool) {
	kind := model.EntityKind(chi.URLParam(r, "kind"))
	switch kind {
	case model.KindDriver, model.KindConstructor, model.KindCircuit,
		model.KindSeason, model.KindRace, model.KindSession,
		model.KindRaceResult, model.KindLapTime, model.KindPitStop, model.KindTyreStint:
		return kind, true
	}
	return "", false
}

func (s *Server) handleEntityList(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseKind(r)
	if !ok || kind.IsRelationship() {
		writeError(w, http.StatusNotFound, "unknown entity kind")
		return
	}
	entities := s.store.ByKind(kind)
	if entities == nil {
		entities = []*model.CanonicalEntity{}
	}
	writeJSON(w, http.StatusOK, entities)
}

func (s *Server) handleEntityGet(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseKind(r)
	if !ok || kind.IsRelationship() {
		writeError(w, http.StatusNotFound, "unknown entity kind")
		return
	}
	key := model.CanonicalKey(chi.URLParam(r, "key"))
	e, found := s.store.Get(key)
	if !found || e.Kind != kind {
		writeError(w, http.StatusNotFound, "entity not found")
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleRelationships(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseKind(r)
	if !ok || !kind.IsRelationship() {
		writeError(w, http.StatusNotFound, "unknown relationship kind")
		return
	}
	rels := s.store.Relationships(kind)
	if race := r.URL.Query().Get("race"); race != "" {
		filtered := make([]*model.RelationshipRecord, 0, len(rels))
		for _, rel := range rels {
			if string(rel.Key.Race) == race {
				filtered = append(filtered, rel)
			}
		}
		rels = filtered
	}
	if rels == nil {
		rels = []*model.RelationshipRecord{}
	}
	writeJSON(w, http.StatusOK, rels)
}
