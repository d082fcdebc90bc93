package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/apexgrid/f1data/internal/db"
	"github.com/apexgrid/f1data/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool, for tests against pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS entities (
	key        TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	fields     JSONB NOT NULL,
	provenance JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS relationships (
	kind       TEXT NOT NULL,
	driver_key TEXT NOT NULL,
	race_key   TEXT NOT NULL,
	ordinal    INTEGER NOT NULL DEFAULT 0,
	fields     JSONB NOT NULL,
	provenance JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (kind, driver_key, race_key, ordinal)
);

CREATE TABLE IF NOT EXISTS reports (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	generated_at TIMESTAMPTZ NOT NULL,
	report       JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS review_queue (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	kind       TEXT NOT NULL,
	record     JSONB NOT NULL,
	best_key   TEXT NOT NULL,
	best_name  TEXT NOT NULL,
	score      DOUBLE PRECISION NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind);
CREATE INDEX IF NOT EXISTS idx_relationships_race ON relationships(kind, race_key);
CREATE INDEX IF NOT EXISTS idx_relationships_driver ON relationships(kind, driver_key);
CREATE INDEX IF NOT EXISTS idx_reports_generated_at ON reports(generated_at DESC);
CREATE INDEX IF NOT EXISTS idx_review_queue_kind ON review_queue(kind);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveEntities(ctx context.Context, entities []*model.CanonicalEntity) error {
	if len(entities) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([][]any, 0, len(entities))
	for _, e := range entities {
		fieldsJSON, err := marshalFields(e.Fields)
		if err != nil {
			return err
		}
		provJSON, err := marshalProvenance(e.Provenance)
		if err != nil {
			return err
		}
		rows = append(rows, []any{string(e.Key), string(e.Kind), fieldsJSON, provJSON, now})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "entities",
		Columns:      []string{"key", "kind", "fields", "provenance", "updated_at"},
		ConflictKeys: []string{"key"},
	}, rows)
	return eris.Wrap(err, "postgres: save entities")
}

func (s *PostgresStore) SaveRelationships(ctx context.Context, rels []*model.RelationshipRecord) error {
	if len(rels) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([][]any, 0, len(rels))
	for _, r := range rels {
		fieldsJSON, err := marshalFields(r.Fields)
		if err != nil {
			return err
		}
		provJSON, err := marshalProvenance(r.Provenance)
		if err != nil {
			return err
		}
		rows = append(rows, relRow(r, fieldsJSON, provJSON, now))
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "relationships",
		Columns:      relColumns,
		ConflictKeys: []string{"kind", "driver_key", "race_key", "ordinal"},
	}, rows)
	return eris.Wrap(err, "postgres: save relationships")
}

func (s *PostgresStore) LoadEntities(ctx context.Context, kind model.EntityKind) ([]*model.CanonicalEntity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, kind, fields, provenance FROM entities WHERE kind = $1 ORDER BY key`,
		string(kind),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load entities")
	}
	defer rows.Close()

	var out []*model.CanonicalEntity
	for rows.Next() {
		var key, k string
		var fieldsJSON, provJSON []byte
		if err := rows.Scan(&key, &k, &fieldsJSON, &provJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan entity")
		}
		e, err := decodeEntity(key, k, fieldsJSON, provJSON)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: load entities iterate")
}

func (s *PostgresStore) LoadRelationships(ctx context.Context, kind model.EntityKind) ([]*model.RelationshipRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT kind, driver_key, race_key, ordinal, fields, provenance FROM relationships
		 WHERE kind = $1 ORDER BY driver_key, race_key, ordinal`,
		string(kind),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load relationships")
	}
	defer rows.Close()

	var out []*model.RelationshipRecord
	for rows.Next() {
		var k, driverKey, raceKey string
		var ordinal int
		var fieldsJSON, provJSON []byte
		if err := rows.Scan(&k, &driverKey, &raceKey, &ordinal, &fieldsJSON, &provJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan relationship")
		}
		r, err := decodeRelationship(k, driverKey, raceKey, ordinal, fieldsJSON, provJSON)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: load relationships iterate")
}

func (s *PostgresStore) SaveReport(ctx context.Context, report *model.QualityReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal report")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO reports (id, generated_at, report) VALUES ($1, $2, $3)`,
		uuid.New().String(), report.GeneratedAt, reportJSON,
	)
	return eris.Wrap(err, "postgres: insert report")
}

func (s *PostgresStore) LatestReport(ctx context.Context) (*model.QualityReport, error) {
	var reportJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT report FROM reports ORDER BY generated_at DESC LIMIT 1`,
	).Scan(&reportJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: latest report")
	}
	var report model.QualityReport
	if err := json.Unmarshal(reportJSON, &report); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal report")
	}
	return &report, nil
}

func (s *PostgresStore) EnqueueReview(ctx context.Context, items []model.ReviewCandidate) error {
	if len(items) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for _, item := range items {
		recordJSON, err := json.Marshal(item.Record)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal review record")
		}
		_, err = s.pool.Exec(ctx,
			`INSERT INTO review_queue (id, kind, record, best_key, best_name, score, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.New().String(), string(item.Record.Kind), recordJSON,
			string(item.BestKey), item.BestName, item.Score, now,
		)
		if err != nil {
			return eris.Wrap(err, "postgres: insert review item")
		}
	}
	return nil
}

func (s *PostgresStore) ListReview(ctx context.Context, filter ReviewFilter) ([]model.ReviewCandidate, error) {
	query := `SELECT record, best_key, best_name, score FROM review_queue WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Kind != "" {
		query += fmt.Sprintf(` AND kind = $%d`, argIdx)
		args = append(args, string(filter.Kind))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list review")
	}
	defer rows.Close()

	var items []model.ReviewCandidate
	for rows.Next() {
		var recordJSON []byte
		var bestKey, bestName string
		var score float64
		if err := rows.Scan(&recordJSON, &bestKey, &bestName, &score); err != nil {
			return nil, eris.Wrap(err, "postgres: scan review item")
		}
		item := model.ReviewCandidate{
			BestKey:  model.CanonicalKey(bestKey),
			BestName: bestName,
			Score:    score,
		}
		if err := json.Unmarshal(recordJSON, &item.Record); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal review record")
		}
		items = append(items, item)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list review iterate")
}
