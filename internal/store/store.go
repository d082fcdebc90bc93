// Package store persists merged canonical data, quality reports and the
// manual review queue. Two backends exist: SQLite for local single-node
// runs and PostgreSQL for shared deployments.
package store

import (
	"context"
	"time"

	"github.com/apexgrid/f1data/internal/model"
)

// ReviewFilter specifies criteria for listing review queue items.
type ReviewFilter struct {
	Kind   model.EntityKind `json:"kind,omitempty"`
	Limit  int              `json:"limit,omitempty"`
	Offset int              `json:"offset,omitempty"`
}

// Store defines the persistence interface for reconciled data.
type Store interface {
	// Canonical data
	SaveEntities(ctx context.Context, entities []*model.CanonicalEntity) error
	SaveRelationships(ctx context.Context, rels []*model.RelationshipRecord) error
	LoadEntities(ctx context.Context, kind model.EntityKind) ([]*model.CanonicalEntity, error)
	LoadRelationships(ctx context.Context, kind model.EntityKind) ([]*model.RelationshipRecord, error)

	// Reports
	SaveReport(ctx context.Context, report *model.QualityReport) error
	LatestReport(ctx context.Context) (*model.QualityReport, error)

	// Review queue
	EnqueueReview(ctx context.Context, items []model.ReviewCandidate) error
	ListReview(ctx context.Context, filter ReviewFilter) ([]model.ReviewCandidate, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// relColumns is the shared column order for relationship rows across
// both backends.
var relColumns = []string{"kind", "driver_key", "race_key", "ordinal", "fields", "provenance", "updated_at"}

func relRow(r *model.RelationshipRecord, fieldsJSON, provJSON []byte, now time.Time) []any {
	return []any{
		string(r.Kind), string(r.Key.Driver), string(r.Key.Race), r.Key.Ordinal,
		fieldsJSON, provJSON, now,
	}
}
