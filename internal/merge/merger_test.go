package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexgrid/f1data/internal/config"
	"github.com/apexgrid/f1data/internal/model"
)

var driverKey = model.NewCanonicalKey(model.KindDriver, "max_verstappen")

func contribution(source model.SourceID, fetchedAt time.Time, fields map[string]any) Contribution {
	return Contribution{
		Record: model.NormalizedRecord{
			Source:    source,
			Kind:      model.KindDriver,
			Fields:    fields,
			FetchedAt: fetchedAt,
		},
		Confidence: 1.0,
	}
}

func TestMergeEntity_PriorityWins(t *testing.T) {
	store := NewStore(4)
	m := New(config.DefaultPolicy(), store)
	at := time.Date(2021, 4, 1, 0, 0, 0, 0, time.UTC)

	// fia outranks wikipedia regardless of contribution order.
	anomalies, err := m.MergeEntity(driverKey, model.KindDriver, []Contribution{
		contribution(model.SourceWikipedia, at, map[string]any{"number": 33}),
		contribution(model.SourceFIA, at, map[string]any{"number": 1}),
	})
	require.NoError(t, err)

	e, ok := store.Get(driverKey)
	require.True(t, ok)
	assert.Equal(t, 1, e.Fields["number"])
	assert.Equal(t, model.SourceFIA, e.Provenance["number"].Winner.Source)

	// The disagreement is flagged but not fatal.
	require.Len(t, anomalies, 1)
	assert.Equal(t, model.AnomalyConflictingValue, anomalies[0].Kind)
	assert.Equal(t, model.SeverityInfo, anomalies[0].Severity)
	assert.Contains(t, anomalies[0].Sources, model.SourceFIA)
	assert.Contains(t, anomalies[0].Sources, model.SourceWikipedia)
}

func TestMergeEntity_LowerPriorityFillsGaps(t *testing.T) {
	store := NewStore(4)
	m := New(config.DefaultPolicy(), store)
	at := time.Date(2021, 4, 1, 0, 0, 0, 0, time.UTC)

	_, err := m.MergeEntity(driverKey, model.KindDriver, []Contribution{
		contribution(model.SourceFIA, at, map[string]any{"number": 33}),
		contribution(model.SourceWikipedia, at, map[string]any{"nationality": "Dutch"}),
	})
	require.NoError(t, err)

	e, _ := store.Get(driverKey)
	assert.Equal(t, 33, e.Fields["number"])
	assert.Equal(t, "Dutch", e.Fields["nationality"])
	assert.Equal(t, model.SourceWikipedia, e.Provenance["nationality"].Winner.Source)
}

func TestMergeEntity_Associative(t *testing.T) {
	at := time.Date(2021, 4, 1, 0, 0, 0, 0, time.UTC)
	low := contribution(model.SourceWikipedia, at, map[string]any{"full_name": "Max Emilian Verstappen"})
	high := contribution(model.SourceFIA, at, map[string]any{"full_name": "Max Verstappen"})

	// All at once.
	oneShot := NewStore(4)
	_, err := New(config.DefaultPolicy(), oneShot).MergeEntity(driverKey, model.KindDriver, []Contribution{low, high})
	require.NoError(t, err)

	// Incrementally, high-priority source first.
	incremental := NewStore(4)
	mi := New(config.DefaultPolicy(), incremental)
	_, err = mi.MergeEntity(driverKey, model.KindDriver, []Contribution{high})
	require.NoError(t, err)
	_, err = mi.MergeEntity(driverKey, model.KindDriver, []Contribution{low})
	require.NoError(t, err)

	a, _ := oneShot.Get(driverKey)
	b, _ := incremental.Get(driverKey)
	assert.Equal(t, a.Fields["full_name"], b.Fields["full_name"])
	assert.Equal(t, "Max Verstappen", b.Fields["full_name"])
	assert.Equal(t, a.Provenance["full_name"].Winner, b.Provenance["full_name"].Winner)
}

func TestMergeEntity_Idempotent(t *testing.T) {
	store := NewStore(4)
	m := New(config.DefaultPolicy(), store)
	at := time.Date(2021, 4, 1, 0, 0, 0, 0, time.UTC)
	c := contribution(model.SourceErgast, at, map[string]any{"full_name": "Max Verstappen", "number": 33})

	_, err := m.MergeEntity(driverKey, model.KindDriver, []Contribution{c})
	require.NoError(t, err)
	_, err = m.MergeEntity(driverKey, model.KindDriver, []Contribution{c})
	require.NoError(t, err)

	e, _ := store.Get(driverKey)
	assert.Equal(t, "Max Verstappen", e.Fields["full_name"])
	// Replaying the same observation does not grow the audit trail.
	assert.Len(t, e.Provenance["full_name"].Attempts, 1)
	assert.Len(t, e.Provenance["number"].Attempts, 1)
}

func TestMergeEntity_FresherObservationSameSourceWins(t *testing.T) {
	store := NewStore(4)
	m := New(config.DefaultPolicy(), store)
	day1 := time.Date(2021, 4, 1, 0, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	_, err := m.MergeEntity(driverKey, model.KindDriver, []Contribution{
		contribution(model.SourceFIA, day1, map[string]any{"number": 33}),
	})
	require.NoError(t, err)
	_, err = m.MergeEntity(driverKey, model.KindDriver, []Contribution{
		contribution(model.SourceFIA, day2, map[string]any{"number": 1}),
	})
	require.NoError(t, err)

	e, _ := store.Get(driverKey)
	assert.Equal(t, 1, e.Fields["number"])
	// Both observations stay auditable.
	assert.Len(t, e.Provenance["number"].Attempts, 2)
}

func TestMergeEntity_UnknownSourceIsFatal(t *testing.T) {
	m := New(config.DefaultPolicy(), NewStore(4))
	at := time.Date(2021, 4, 1, 0, 0, 0, 0, time.UTC)

	_, err := m.MergeEntity(driverKey, model.KindDriver, []Contribution{
		contribution(model.SourceID("mystery"), at, map[string]any{"number": 33}),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no priority configured")
}

func TestMergeEntity_MetaFieldsNeverConflictFlagged(t *testing.T) {
	m := New(config.DefaultPolicy(), NewStore(4))
	at := time.Date(2021, 4, 1, 0, 0, 0, 0, time.UTC)

	anomalies, err := m.MergeEntity(driverKey, model.KindDriver, []Contribution{
		contribution(model.SourceFIA, at, map[string]any{"full_name_ascii": "max verstappen"}),
		contribution(model.SourceWikipedia, at, map[string]any{"full_name_ascii": "m verstappen"}),
	})
	require.NoError(t, err)
	assert.Empty(t, anomalies)
}

func TestMergeRelationship(t *testing.T) {
	store := NewStore(4)
	m := New(config.DefaultPolicy(), store)
	at := time.Date(2021, 4, 1, 0, 0, 0, 0, time.UTC)
	nk := model.NaturalKey{
		Driver:  driverKey,
		Race:    model.NewCanonicalKey(model.KindRace, "2021/3"),
		Ordinal: 12,
	}

	lap := func(source model.SourceID, ms int) Contribution {
		return Contribution{
			Record: model.NormalizedRecord{
				Source:    source,
				Kind:      model.KindLapTime,
				Fields:    map[string]any{"milliseconds": ms, "lap": 12},
				FetchedAt: at,
			},
			Confidence: 1.0,
		}
	}

	anomalies, err := m.MergeRelationship(model.KindLapTime, nk, []Contribution{
		lap(model.SourceOpenF1, 93702),
		lap(model.SourceErgast, 93708),
	})
	require.NoError(t, err)

	rels := store.Relationships(model.KindLapTime)
	require.Len(t, rels, 1)
	// ergast outranks openf1 in the default priority order.
	assert.Equal(t, 93708, rels[0].Fields["milliseconds"])

	require.Len(t, anomalies, 1)
	assert.Equal(t, model.AnomalyConflictingValue, anomalies[0].Kind)
	assert.Equal(t, nk.String(), anomalies[0].Key)
}
