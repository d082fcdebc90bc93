package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexgrid/f1data/internal/config"
	"github.com/apexgrid/f1data/internal/model"
)

var fetchedAt = time.Date(2021, 4, 19, 8, 0, 0, 0, time.UTC)

func newPipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := New(config.PipelineConfig{NormalizerWorkers: 4, MergeShards: 8}, config.DefaultPolicy())
	require.NoError(t, err)
	return p
}

func raw(source model.SourceID, kind model.EntityKind, fields map[string]any) model.RawRecord {
	return model.RawRecord{Source: source, Kind: kind, Fields: fields, FetchedAt: fetchedAt}
}

// Two sources describe the same driver with different spellings and
// conventions; the pipeline must produce one entity with the
// higher-priority source winning each contested field.
func TestRun_TwoSourcesOneDriver(t *testing.T) {
	p := newPipeline(t)

	res, err := p.Run(context.Background(), []model.RawRecord{
		raw(model.SourceErgast, model.KindDriver, map[string]any{
			"driver_ref": "max_verstappen",
			"name":       "Max Verstappen",
			"code":       "VER",
			"number":     33,
		}),
		raw(model.SourceWikipedia, model.KindDriver, map[string]any{
			"full_name": "max verstappen",
			"code":      "ver",
			"number":    "33",
		}),
	})
	require.NoError(t, err)

	drivers := res.Store.ByKind(model.KindDriver)
	require.Len(t, drivers, 1)
	d := drivers[0]
	assert.Equal(t, model.NewCanonicalKey(model.KindDriver, "max_verstappen"), d.Key)
	assert.Equal(t, "Max Verstappen", d.Fields["full_name"])
	assert.Equal(t, "VER", d.Fields["code"])
	assert.Equal(t, 33, d.Fields["number"])
	assert.Equal(t, model.SourceErgast, d.Provenance["full_name"].Winner.Source)
	assert.Empty(t, res.Review)
}

// Lap numbering conventions differ per source; after normalization both
// observations land on the same canonical lap tuple and merge.
func TestRun_LapNumberingConverges(t *testing.T) {
	p := newPipeline(t)

	res, err := p.Run(context.Background(), []model.RawRecord{
		raw(model.SourceErgast, model.KindDriver, map[string]any{
			"driver_ref": "max_verstappen", "name": "Max Verstappen", "code": "VER",
		}),
		raw(model.SourceErgast, model.KindRace, map[string]any{
			"raceName": "Emilia Romagna Grand Prix", "season": 2021, "round": 2,
		}),
		// ergast numbers this lap 12; openf1 numbers the same lap 11.
		raw(model.SourceErgast, model.KindLapTime, map[string]any{
			"code": "VER", "year": 2021, "round": 2, "lap": 12, "time": "1:33.702",
		}),
		raw(model.SourceOpenF1, model.KindLapTime, map[string]any{
			"code": "VER", "year": 2021, "round": 2, "lap_number": 11, "duration": "93.708",
		}),
	})
	require.NoError(t, err)

	laps := res.Store.Relationships(model.KindLapTime)
	require.Len(t, laps, 1)
	assert.Equal(t, 12, laps[0].Key.Ordinal)
	// ergast outranks openf1, so its time wins; both stay in provenance.
	assert.Equal(t, 93702, laps[0].Fields["milliseconds"])
	assert.Len(t, laps[0].Provenance["milliseconds"].Attempts, 2)
	assert.Equal(t, 0, res.Report.Summary.ForeignKeyErrors)
}

// An ambiguous name lands in the review set: no merge, no new entity,
// and the report carries the unresolved match.
func TestRun_AmbiguousNameGoesToReview(t *testing.T) {
	p := newPipeline(t)

	_, err := p.Run(context.Background(), []model.RawRecord{
		raw(model.SourceErgast, model.KindDriver, map[string]any{
			"driver_ref": "michael_schumacher", "name": "Michael Schumacher",
		}),
	})
	require.NoError(t, err)

	res, err := p.Run(context.Background(), []model.RawRecord{
		raw(model.SourceStatsF1, model.KindDriver, map[string]any{
			"name": "Mick Schumacher",
		}),
	})
	require.NoError(t, err)

	require.Len(t, res.Review, 1)
	assert.Equal(t, "Michael Schumacher", res.Review[0].BestName)
	assert.Equal(t, 1, res.Report.Summary.ReviewCandidates)
	assert.Equal(t, 1, res.Report.Summary.LowConfidenceMatches)

	// The ambiguous record created nothing.
	drivers := res.Store.ByKind(model.KindDriver)
	require.Len(t, drivers, 1)
	assert.Equal(t, "Michael Schumacher", drivers[0].Fields["full_name"])
}

// A result referencing a driver nobody has ever described still merges
// under a deterministic key and surfaces as a foreign-key error.
func TestRun_DanglingReferenceReported(t *testing.T) {
	p := newPipeline(t)

	res, err := p.Run(context.Background(), []model.RawRecord{
		raw(model.SourceErgast, model.KindRace, map[string]any{
			"raceName": "French Grand Prix", "season": 1963, "round": 4,
		}),
		raw(model.SourceStatsF1, model.KindRaceResult, map[string]any{
			"driver_ref": "ghost_driver", "year": 1963, "round": 4, "position": 7,
		}),
	})
	require.NoError(t, err)

	results := res.Store.Relationships(model.KindRaceResult)
	require.Len(t, results, 1)
	assert.Equal(t, model.NewCanonicalKey(model.KindDriver, "ghost_driver"), results[0].Key.Driver)

	require.Len(t, res.Report.ForeignKeyErrors["race_result"], 1)
	assert.Contains(t, res.Report.ForeignKeyErrors["race_result"][0].Message, "unknown driver")
}

// A relationship record that cannot even be keyed becomes an anomaly
// instead of a row.
func TestRun_UnkeyableRelationshipDropped(t *testing.T) {
	p := newPipeline(t)

	res, err := p.Run(context.Background(), []model.RawRecord{
		raw(model.SourceOpenF1, model.KindLapTime, map[string]any{
			"lap_number": 11, "duration": "93.702",
		}),
	})
	require.NoError(t, err)

	_, rels := res.Store.Counts()
	assert.Equal(t, 0, rels)

	var found bool
	for _, a := range res.Report.Anomalies {
		if a.Kind == model.AnomalyMalformedInput && a.Table == "lap_time" {
			found = true
			assert.Contains(t, a.Message, "missing identifying fields")
		}
	}
	assert.True(t, found)
}

// Running the same batch twice leaves the store unchanged: same keys,
// same values, no duplicated provenance.
func TestRun_Idempotent(t *testing.T) {
	p := newPipeline(t)
	batch := []model.RawRecord{
		raw(model.SourceErgast, model.KindDriver, map[string]any{
			"driver_ref": "max_verstappen", "name": "Max Verstappen", "code": "VER",
		}),
		raw(model.SourceErgast, model.KindRace, map[string]any{
			"raceName": "Dutch Grand Prix", "season": 2021, "round": 13,
		}),
		raw(model.SourceErgast, model.KindRaceResult, map[string]any{
			"code": "VER", "year": 2021, "round": 13, "position": 1,
		}),
	}

	first, err := p.Run(context.Background(), batch)
	require.NoError(t, err)
	second, err := p.Run(context.Background(), batch)
	require.NoError(t, err)

	e1, r1 := first.Store.Counts()
	e2, r2 := second.Store.Counts()
	assert.Equal(t, e1, e2)
	assert.Equal(t, r1, r2)

	drivers := second.Store.ByKind(model.KindDriver)
	require.Len(t, drivers, 1)
	assert.Len(t, drivers[0].Provenance["full_name"].Attempts, 1)
}

func TestRun_Cancelled(t *testing.T) {
	p := newPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, []model.RawRecord{
		raw(model.SourceErgast, model.KindDriver, map[string]any{"driver_ref": "alonso"}),
	})
	assert.Error(t, err)
}

// Batches loaded through encoding/json deliver every number as float64.
// Numeric canonical fields must still coerce to int so an implausible
// lap time trips the range check instead of slipping past it.
func TestRun_JSONDecodedBatchFlagsImplausibleLapTime(t *testing.T) {
	p := newPipeline(t)

	var batch []model.RawRecord
	require.NoError(t, json.Unmarshal([]byte(`[
		{"source": "ergast", "entity_kind": "driver", "fields": {"driver_ref": "max_verstappen", "name": "Max Verstappen", "code": "VER"}, "fetched_at": "2021-04-19T08:00:00Z"},
		{"source": "ergast", "entity_kind": "race", "fields": {"raceName": "Emilia Romagna Grand Prix", "season": 2021, "round": 2}, "fetched_at": "2021-04-19T08:00:00Z"},
		{"source": "ergast", "entity_kind": "lap_time", "fields": {"code": "VER", "year": 2021, "round": 2, "lap": 12, "milliseconds": 2000000}, "fetched_at": "2021-04-19T08:00:00Z"}
	]`), &batch))

	res, err := p.Run(context.Background(), batch)
	require.NoError(t, err)

	laps := res.Store.Relationships(model.KindLapTime)
	require.Len(t, laps, 1)
	assert.Equal(t, 2000000, laps[0].Fields["milliseconds"])

	var found bool
	for _, a := range res.Report.Anomalies {
		if a.Kind == model.AnomalyRangeViolation && a.Field == "milliseconds" {
			found = true
			assert.Contains(t, a.Message, "2000000ms")
		}
	}
	assert.True(t, found, "implausible lap time from a JSON batch must be flagged")
}
