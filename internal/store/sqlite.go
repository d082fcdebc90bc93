package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/apexgrid/f1data/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS entities (
	key        TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	fields     TEXT NOT NULL,
	provenance TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS relationships (
	kind       TEXT NOT NULL,
	driver_key TEXT NOT NULL,
	race_key   TEXT NOT NULL,
	ordinal    INTEGER NOT NULL DEFAULT 0,
	fields     TEXT NOT NULL,
	provenance TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (kind, driver_key, race_key, ordinal)
);

CREATE TABLE IF NOT EXISTS reports (
	id           TEXT PRIMARY KEY,
	generated_at DATETIME NOT NULL,
	report       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS review_queue (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	record     TEXT NOT NULL,
	best_key   TEXT NOT NULL,
	best_name  TEXT NOT NULL,
	score      REAL NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind);
CREATE INDEX IF NOT EXISTS idx_relationships_race ON relationships(kind, race_key);
CREATE INDEX IF NOT EXISTS idx_relationships_driver ON relationships(kind, driver_key);
CREATE INDEX IF NOT EXISTS idx_reports_generated_at ON reports(generated_at);
CREATE INDEX IF NOT EXISTS idx_review_queue_kind ON review_queue(kind);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveEntities(ctx context.Context, entities []*model.CanonicalEntity) error {
	if len(entities) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO entities (key, kind, fields, provenance, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET fields = excluded.fields, provenance = excluded.provenance, updated_at = excluded.updated_at`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare entity upsert")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, e := range entities {
		fieldsJSON, err := marshalFields(e.Fields)
		if err != nil {
			return err
		}
		provJSON, err := marshalProvenance(e.Provenance)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, string(e.Key), string(e.Kind), string(fieldsJSON), string(provJSON), now); err != nil {
			return eris.Wrapf(err, "sqlite: upsert entity %s", e.Key)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit entities")
}

func (s *SQLiteStore) SaveRelationships(ctx context.Context, rels []*model.RelationshipRecord) error {
	if len(rels) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO relationships (kind, driver_key, race_key, ordinal, fields, provenance, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (kind, driver_key, race_key, ordinal) DO UPDATE SET fields = excluded.fields, provenance = excluded.provenance, updated_at = excluded.updated_at`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare relationship upsert")
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range rels {
		fieldsJSON, err := marshalFields(r.Fields)
		if err != nil {
			return err
		}
		provJSON, err := marshalProvenance(r.Provenance)
		if err != nil {
			return err
		}
		row := relRow(r, fieldsJSON, provJSON, now)
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return eris.Wrapf(err, "sqlite: upsert relationship %s", r.Key.String())
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit relationships")
}

func (s *SQLiteStore) LoadEntities(ctx context.Context, kind model.EntityKind) ([]*model.CanonicalEntity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, kind, fields, provenance FROM entities WHERE kind = ? ORDER BY key`,
		string(kind),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load entities")
	}
	defer rows.Close()

	var out []*model.CanonicalEntity
	for rows.Next() {
		var key, k, fieldsJSON, provJSON string
		if err := rows.Scan(&key, &k, &fieldsJSON, &provJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entity")
		}
		e, err := decodeEntity(key, k, []byte(fieldsJSON), []byte(provJSON))
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: load entities iterate")
}

func (s *SQLiteStore) LoadRelationships(ctx context.Context, kind model.EntityKind) ([]*model.RelationshipRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, driver_key, race_key, ordinal, fields, provenance FROM relationships
		 WHERE kind = ? ORDER BY driver_key, race_key, ordinal`,
		string(kind),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load relationships")
	}
	defer rows.Close()

	var out []*model.RelationshipRecord
	for rows.Next() {
		var k, driverKey, raceKey, fieldsJSON, provJSON string
		var ordinal int
		if err := rows.Scan(&k, &driverKey, &raceKey, &ordinal, &fieldsJSON, &provJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan relationship")
		}
		r, err := decodeRelationship(k, driverKey, raceKey, ordinal, []byte(fieldsJSON), []byte(provJSON))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: load relationships iterate")
}

func (s *SQLiteStore) SaveReport(ctx context.Context, report *model.QualityReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal report")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reports (id, generated_at, report) VALUES (?, ?, ?)`,
		uuid.New().String(), report.GeneratedAt, string(reportJSON),
	)
	return eris.Wrap(err, "sqlite: insert report")
}

func (s *SQLiteStore) LatestReport(ctx context.Context) (*model.QualityReport, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT report FROM reports ORDER BY generated_at DESC LIMIT 1`,
	)
	var reportJSON string
	err := row.Scan(&reportJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest report")
	}
	var report model.QualityReport
	if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal report")
	}
	return &report, nil
}

func (s *SQLiteStore) EnqueueReview(ctx context.Context, items []model.ReviewCandidate) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for _, item := range items {
		recordJSON, err := json.Marshal(item.Record)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal review record")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO review_queue (id, kind, record, best_key, best_name, score, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), string(item.Record.Kind), string(recordJSON),
			string(item.BestKey), item.BestName, item.Score, now,
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert review item")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit review queue")
}

func (s *SQLiteStore) ListReview(ctx context.Context, filter ReviewFilter) ([]model.ReviewCandidate, error) {
	query := `SELECT record, best_key, best_name, score FROM review_queue WHERE 1=1`
	var args []any

	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list review")
	}
	defer rows.Close()

	var items []model.ReviewCandidate
	for rows.Next() {
		var recordJSON, bestKey, bestName string
		var score float64
		if err := rows.Scan(&recordJSON, &bestKey, &bestName, &score); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan review item")
		}
		item := model.ReviewCandidate{
			BestKey:  model.CanonicalKey(bestKey),
			BestName: bestName,
			Score:    score,
		}
		if err := json.Unmarshal([]byte(recordJSON), &item.Record); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal review record")
		}
		items = append(items, item)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list review iterate")
}

// decode helpers shared with the postgres backend.

func decodeEntity(key, kind string, fieldsJSON, provJSON []byte) (*model.CanonicalEntity, error) {
	fields, err := unmarshalFields(fieldsJSON)
	if err != nil {
		return nil, err
	}
	prov, err := unmarshalProvenance(provJSON)
	if err != nil {
		return nil, err
	}
	return &model.CanonicalEntity{
		Key:        model.CanonicalKey(key),
		Kind:       model.EntityKind(kind),
		Fields:     fields,
		Provenance: prov,
	}, nil
}

func decodeRelationship(kind, driverKey, raceKey string, ordinal int, fieldsJSON, provJSON []byte) (*model.RelationshipRecord, error) {
	fields, err := unmarshalFields(fieldsJSON)
	if err != nil {
		return nil, err
	}
	prov, err := unmarshalProvenance(provJSON)
	if err != nil {
		return nil, err
	}
	return &model.RelationshipRecord{
		Kind: model.EntityKind(kind),
		Key: model.NaturalKey{
			Driver:  model.CanonicalKey(driverKey),
			Race:    model.CanonicalKey(raceKey),
			Ordinal: ordinal,
		},
		Fields:     fields,
		Provenance: prov,
	}, nil
}
