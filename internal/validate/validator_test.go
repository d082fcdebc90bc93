package validate

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexgrid/f1data/internal/config"
	"github.com/apexgrid/f1data/internal/merge"
	"github.com/apexgrid/f1data/internal/model"
)

var reportTime = time.Date(2021, 12, 1, 12, 0, 0, 0, time.UTC)

func seedEntity(t *testing.T, store *merge.Store, kind model.EntityKind, ref string, fields map[string]any) model.CanonicalKey {
	t.Helper()
	key := model.NewCanonicalKey(kind, ref)
	err := store.UpdateEntity(key, kind, func(e *model.CanonicalEntity) error {
		for k, v := range fields {
			e.Fields[k] = v
		}
		return nil
	})
	require.NoError(t, err)
	return key
}

func seedRelationship(t *testing.T, store *merge.Store, kind model.EntityKind, nk model.NaturalKey, fields map[string]any) {
	t.Helper()
	err := store.UpdateRelationship(kind, nk, func(r *model.RelationshipRecord) error {
		for k, v := range fields {
			r.Fields[k] = v
		}
		return nil
	})
	require.NoError(t, err)
}

// raceStore builds a store with one driver, one race and a clean result.
func raceStore(t *testing.T) (*merge.Store, model.CanonicalKey, model.CanonicalKey) {
	t.Helper()
	store := merge.NewStore(4)
	driver := seedEntity(t, store, model.KindDriver, "max_verstappen", map[string]any{
		"full_name": "Max Verstappen",
		"code":      "VER",
	})
	race := seedEntity(t, store, model.KindRace, "2021/3", map[string]any{
		"year":  2021,
		"round": 3,
		"date":  time.Date(2021, 5, 2, 14, 0, 0, 0, time.UTC),
	})
	seedRelationship(t, store, model.KindRaceResult, model.NaturalKey{Driver: driver, Race: race}, map[string]any{
		"position": 1,
		"number":   33,
	})
	return store, driver, race
}

func TestValidate_CleanStore(t *testing.T) {
	store, driver, race := raceStore(t)
	seedRelationship(t, store, model.KindLapTime, model.NaturalKey{Driver: driver, Race: race, Ordinal: 1}, map[string]any{
		"milliseconds": 93702,
	})

	report, err := New(config.DefaultPolicy()).WithNow(reportTime).Validate(context.Background(), store, nil)
	require.NoError(t, err)

	assert.Equal(t, reportTime, report.GeneratedAt)
	assert.Equal(t, 0, report.Summary.ForeignKeyErrors)
	assert.Empty(t, report.Anomalies)
	assert.Equal(t, 2, report.Summary.Entities)
	assert.Equal(t, 2, report.Summary.Relationships)
}

func TestValidate_Deterministic(t *testing.T) {
	run := func() []byte {
		store, driver, race := raceStore(t)
		// A second, dangling result plus an implausible lap time so the
		// report has content to keep stable.
		seedRelationship(t, store, model.KindRaceResult, model.NaturalKey{
			Driver: model.NewCanonicalKey(model.KindDriver, "ghost"),
			Race:   race,
		}, map[string]any{"position": 2})
		seedRelationship(t, store, model.KindLapTime, model.NaturalKey{Driver: driver, Race: race, Ordinal: 1}, map[string]any{
			"milliseconds": 2_000_000,
		})

		report, err := New(config.DefaultPolicy()).WithNow(reportTime).Validate(context.Background(), store, nil)
		require.NoError(t, err)
		data, err := json.Marshal(report)
		require.NoError(t, err)
		return data
	}

	first := run()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, run())
	}
}

func TestValidate_DanglingForeignKeys(t *testing.T) {
	store, _, race := raceStore(t)
	ghost := model.NewCanonicalKey(model.KindDriver, "ghost_driver")
	seedRelationship(t, store, model.KindRaceResult, model.NaturalKey{Driver: ghost, Race: race}, map[string]any{
		"position": 2,
	})

	report, err := New(config.DefaultPolicy()).WithNow(reportTime).Validate(context.Background(), store, nil)
	require.NoError(t, err)

	require.Len(t, report.ForeignKeyErrors["race_result"], 1)
	fk := report.ForeignKeyErrors["race_result"][0]
	assert.Equal(t, model.AnomalyReferentialIntegrity, fk.Kind)
	assert.Equal(t, model.SeverityError, fk.Severity)
	assert.Contains(t, fk.Message, "unknown driver")
	assert.Contains(t, fk.Message, string(ghost))
	assert.Equal(t, 1, report.Summary.ForeignKeyErrors)
}

func TestValidate_RaceReferences(t *testing.T) {
	store := merge.NewStore(4)
	seedEntity(t, store, model.KindSeason, "2021", map[string]any{"year": 2021})
	seedEntity(t, store, model.KindCircuit, "monza", map[string]any{"circuit_ref": "monza"})
	seedEntity(t, store, model.KindRace, "2020/1", map[string]any{
		"year":        2020,
		"round":       1,
		"circuit_ref": "phantom_ring",
	})

	report, err := New(config.DefaultPolicy()).WithNow(reportTime).Validate(context.Background(), store, nil)
	require.NoError(t, err)

	require.Len(t, report.ForeignKeyErrors["races"], 2)
	var messages []string
	for _, a := range report.ForeignKeyErrors["races"] {
		messages = append(messages, a.Message)
	}
	assert.Contains(t, messages, "references unknown season 2020")
	assert.Contains(t, messages, "references unknown circuit phantom_ring")
}

func TestValidate_LapTimeRange(t *testing.T) {
	store, driver, race := raceStore(t)
	seedRelationship(t, store, model.KindLapTime, model.NaturalKey{Driver: driver, Race: race, Ordinal: 1}, map[string]any{
		"milliseconds": 5_000,
	})
	seedRelationship(t, store, model.KindLapTime, model.NaturalKey{Driver: driver, Race: race, Ordinal: 2}, map[string]any{
		"milliseconds": 93_702,
	})

	report, err := New(config.DefaultPolicy()).WithNow(reportTime).Validate(context.Background(), store, nil)
	require.NoError(t, err)

	var ranges []model.Anomaly
	for _, a := range report.Anomalies {
		if a.Kind == model.AnomalyRangeViolation {
			ranges = append(ranges, a)
		}
	}
	require.Len(t, ranges, 1)
	assert.Equal(t, "milliseconds", ranges[0].Field)
	assert.Contains(t, ranges[0].Message, "5000ms")
}

func TestValidate_DuplicatePositions(t *testing.T) {
	store, _, race := raceStore(t)
	other := seedEntity(t, store, model.KindDriver, "lewis_hamilton", map[string]any{
		"full_name": "Lewis Hamilton",
	})
	// Hamilton claims P1 as well, with Verstappen's number.
	seedRelationship(t, store, model.KindRaceResult, model.NaturalKey{Driver: other, Race: race}, map[string]any{
		"position": 1,
		"number":   33,
	})

	report, err := New(config.DefaultPolicy()).WithNow(reportTime).Validate(context.Background(), store, nil)
	require.NoError(t, err)

	var dupes []model.Anomaly
	for _, a := range report.Anomalies {
		if a.Kind == model.AnomalyDuplicateKey {
			dupes = append(dupes, a)
		}
	}
	require.Len(t, dupes, 2)
	fields := []string{dupes[0].Field, dupes[1].Field}
	assert.Contains(t, fields, "position")
	assert.Contains(t, fields, "number")
	for _, a := range dupes {
		assert.Equal(t, model.SeverityError, a.Severity)
		assert.Equal(t, "race="+string(race), a.Key)
	}
}

func TestValidate_InvalidPosition(t *testing.T) {
	store, _, race := raceStore(t)
	other := seedEntity(t, store, model.KindDriver, "lewis_hamilton", nil)
	seedRelationship(t, store, model.KindRaceResult, model.NaturalKey{Driver: other, Race: race}, map[string]any{
		"position": 0,
	})

	report, err := New(config.DefaultPolicy()).WithNow(reportTime).Validate(context.Background(), store, nil)
	require.NoError(t, err)

	var found bool
	for _, a := range report.Anomalies {
		if a.Kind == model.AnomalyRangeViolation && a.Field == "position" {
			found = true
			assert.Equal(t, model.SeverityError, a.Severity)
			assert.Contains(t, a.Message, "invalid position 0")
		}
	}
	assert.True(t, found)
}

func TestValidate_FutureRaceDate(t *testing.T) {
	store, _, _ := raceStore(t)
	seedEntity(t, store, model.KindRace, "2021/22", map[string]any{
		"year":  2021,
		"round": 22,
		"date":  reportTime.Add(48 * time.Hour),
	})

	report, err := New(config.DefaultPolicy()).WithNow(reportTime).Validate(context.Background(), store, nil)
	require.NoError(t, err)

	var found bool
	for _, a := range report.Anomalies {
		if a.Kind == model.AnomalyRangeViolation && a.Field == "date" {
			found = true
			assert.Contains(t, a.Message, "in the future")
		}
	}
	assert.True(t, found)
}

func TestValidate_CrossSourceLapCounts(t *testing.T) {
	store, driver, race := raceStore(t)

	// openf1 saw 5 laps, ergast only 1: past the tolerance of 2.
	observed := func(nk model.NaturalKey, sources ...model.SourceID) {
		err := store.UpdateRelationship(model.KindLapTime, nk, func(r *model.RelationshipRecord) error {
			fp := r.Provenance["milliseconds"]
			for _, src := range sources {
				fp.Attempts = append(fp.Attempts, model.ProvenanceEntry{Source: src, Value: 93702})
			}
			r.Provenance["milliseconds"] = fp
			r.Fields["milliseconds"] = 93702
			return nil
		})
		require.NoError(t, err)
	}
	for lap := 1; lap <= 5; lap++ {
		nk := model.NaturalKey{Driver: driver, Race: race, Ordinal: lap}
		if lap == 1 {
			observed(nk, model.SourceOpenF1, model.SourceErgast)
		} else {
			observed(nk, model.SourceOpenF1)
		}
	}

	report, err := New(config.DefaultPolicy()).WithNow(reportTime).Validate(context.Background(), store, nil)
	require.NoError(t, err)

	var mismatches []model.Anomaly
	for _, a := range report.Anomalies {
		if a.Kind == model.AnomalyCrossSourceMismatch {
			mismatches = append(mismatches, a)
		}
	}
	require.Len(t, mismatches, 1)
	assert.Equal(t, model.SeverityWarning, mismatches[0].Severity)
	assert.Contains(t, mismatches[0].Message, "1 vs 5")
	assert.Equal(t, []model.SourceID{model.SourceErgast, model.SourceOpenF1}, mismatches[0].Sources)
}

func TestValidate_Completeness(t *testing.T) {
	store := merge.NewStore(4)
	seedEntity(t, store, model.KindRace, "2021/9", map[string]any{"year": 2021, "round": 9})
	seedEntity(t, store, model.KindRace, "1955/4", map[string]any{"year": 1955, "round": 4})

	report, err := New(config.DefaultPolicy()).WithNow(reportTime).Validate(context.Background(), store, nil)
	require.NoError(t, err)

	// Both races lack results; only the modern one is expected to have
	// lap data.
	assert.Equal(t, 2, report.Summary.RacesWithoutResults)
	assert.Equal(t, 1, report.Summary.RacesWithoutLapTimes)
}

func TestValidate_PriorAnomaliesFoldedIn(t *testing.T) {
	store, _, _ := raceStore(t)
	prior := []model.Anomaly{{
		Kind:     model.AnomalyUnresolvedMatch,
		Severity: model.SeverityWarning,
		Table:    "driver",
		Message:  "ambiguous match for M Verstapen",
	}}

	report, err := New(config.DefaultPolicy()).WithNow(reportTime).Validate(context.Background(), store, prior)
	require.NoError(t, err)

	require.Len(t, report.Anomalies, 1)
	assert.Equal(t, model.AnomalyUnresolvedMatch, report.Anomalies[0].Kind)
	assert.Equal(t, 1, report.Summary.LowConfidenceMatches)
	assert.Equal(t, 1, report.Summary.Anomalies)
}
