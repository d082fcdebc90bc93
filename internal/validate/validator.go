// Package validate runs post-merge integrity and plausibility checks over
// the canonical store and produces a structured quality report. It is
// read-only and deterministic: validating the same store twice yields
// identical reports.
package validate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/apexgrid/f1data/internal/config"
	"github.com/apexgrid/f1data/internal/merge"
	"github.com/apexgrid/f1data/internal/model"
)

// Validator checks a merged canonical store against the plausibility
// policy. It never mutates the store.
type Validator struct {
	policy *config.Policy
	now    time.Time
}

// New creates a Validator stamping reports with the current time.
func New(policy *config.Policy) *Validator {
	return &Validator{policy: policy, now: time.Now().UTC()}
}

// WithNow fixes the report timestamp, for testing and reproducible runs.
func (v *Validator) WithNow(t time.Time) *Validator {
	v.now = t.UTC()
	return v
}

// relationshipTables lists the relationship kinds the validator walks.
var relationshipTables = []model.EntityKind{
	model.KindRaceResult, model.KindLapTime, model.KindPitStop, model.KindTyreStint,
}

// Validate runs every check and assembles the report. Checks are
// independent and run in parallel; assembly is single-threaded and
// ordered so the output is stable. Anomalies collected by earlier
// pipeline stages are passed in as prior and folded into the same
// report.
func (v *Validator) Validate(ctx context.Context, store *merge.Store, prior []model.Anomaly) (*model.QualityReport, error) {
	report := model.NewQualityReport(v.now)

	var (
		fkErrs     map[string][]model.Anomaly
		rangeAs    []model.Anomaly
		crossAs    []model.Anomaly
		completeAs []model.Anomaly
	)

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error { fkErrs = v.checkReferential(store); return nil })
	g.Go(func() error { rangeAs = v.checkRanges(store); return nil })
	g.Go(func() error { crossAs = v.checkCrossSource(store); return nil })
	g.Go(func() error { completeAs = v.checkCompleteness(store); return nil })
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for table, as := range fkErrs {
		for _, a := range as {
			report.AddForeignKey(table, a)
		}
	}
	for _, a := range rangeAs {
		report.Add(a)
	}
	for _, a := range crossAs {
		report.Add(a)
	}
	for _, a := range completeAs {
		report.Add(a)
	}
	for _, a := range prior {
		report.Add(a)
	}

	entities, rels := store.Counts()
	report.Summary.Entities = entities
	report.Summary.Relationships = rels
	report.Finalize()

	zap.L().Info("validate: report generated",
		zap.Int("foreign_key_errors", report.Summary.ForeignKeyErrors),
		zap.Int("anomalies", report.Summary.Anomalies),
	)
	return report, nil
}

// checkReferential verifies that every relationship record's foreign keys
// resolve, and that each race's season and circuit references do.
// Unresolved references are reported per table, never fatal.
func (v *Validator) checkReferential(store *merge.Store) map[string][]model.Anomaly {
	out := make(map[string][]model.Anomaly)

	add := func(table string, key, msg string) {
		out[table] = append(out[table], model.Anomaly{
			Kind:     model.AnomalyReferentialIntegrity,
			Severity: model.SeverityError,
			Table:    table,
			Key:      key,
			Message:  msg,
		})
	}

	constructors := make(map[string]bool)
	for _, c := range store.ByKind(model.KindConstructor) {
		if ref, ok := c.Fields["constructor_ref"].(string); ok {
			constructors[ref] = true
		}
	}

	for _, kind := range relationshipTables {
		table := string(kind)
		for _, r := range store.Relationships(kind) {
			if _, ok := store.Get(r.Key.Driver); !ok {
				add(table, r.Key.String(), "references unknown driver "+string(r.Key.Driver))
			}
			if _, ok := store.Get(r.Key.Race); !ok {
				add(table, r.Key.String(), "references unknown race "+string(r.Key.Race))
			}
			if kind == model.KindRaceResult {
				if ref, ok := r.Fields["constructor_ref"].(string); ok && len(constructors) > 0 && !constructors[ref] {
					add(table, r.Key.String(), "references unknown constructor "+ref)
				}
			}
		}
	}

	seasons := make(map[int]bool)
	for _, s := range store.ByKind(model.KindSeason) {
		if y, ok := fieldInt(s.Fields["year"]); ok {
			seasons[y] = true
		}
	}
	circuits := make(map[string]bool)
	for _, c := range store.ByKind(model.KindCircuit) {
		if ref, ok := c.Fields["circuit_ref"].(string); ok {
			circuits[ref] = true
		}
	}
	for _, race := range store.ByKind(model.KindRace) {
		year, hasYear := fieldInt(race.Fields["year"])
		if hasYear && len(seasons) > 0 && !seasons[year] {
			add("races", string(race.Key), fmt.Sprintf("references unknown season %d", year))
		}
		if ref, ok := race.Fields["circuit_ref"].(string); ok && len(circuits) > 0 && !circuits[ref] {
			add("races", string(race.Key), "references unknown circuit "+ref)
		}
	}

	return out
}

// checkRanges runs the numeric and temporal plausibility checks.
func (v *Validator) checkRanges(store *merge.Store) []model.Anomaly {
	var out []model.Anomaly
	p := v.policy.Plausibility

	// Lap times inside the plausible window.
	for _, r := range store.Relationships(model.KindLapTime) {
		ms, ok := fieldInt(r.Fields["milliseconds"])
		if !ok {
			continue
		}
		if ms < p.LapTimeMinMs || ms > p.LapTimeMaxMs {
			out = append(out, model.Anomaly{
				Kind:     model.AnomalyRangeViolation,
				Severity: model.SeverityWarning,
				Table:    string(model.KindLapTime),
				Key:      r.Key.String(),
				Field:    "milliseconds",
				Message:  fmt.Sprintf("lap time %dms outside [%d, %d]", ms, p.LapTimeMinMs, p.LapTimeMaxMs),
			})
		}
	}

	// Positions: positive, within the classified entrant count, unique
	// per race; driver numbers unique within a race's entrant set.
	type raceAgg struct {
		entrants  int
		positions map[int][]string
		numbers   map[int][]string
	}
	races := make(map[model.CanonicalKey]*raceAgg)
	for _, r := range store.Relationships(model.KindRaceResult) {
		agg := races[r.Key.Race]
		if agg == nil {
			agg = &raceAgg{positions: make(map[int][]string), numbers: make(map[int][]string)}
			races[r.Key.Race] = agg
		}
		agg.entrants++
		if pos, ok := fieldInt(r.Fields["position"]); ok {
			if pos < 1 {
				out = append(out, model.Anomaly{
					Kind:     model.AnomalyRangeViolation,
					Severity: model.SeverityError,
					Table:    string(model.KindRaceResult),
					Key:      r.Key.String(),
					Field:    "position",
					Message:  fmt.Sprintf("invalid position %d", pos),
				})
			} else {
				agg.positions[pos] = append(agg.positions[pos], string(r.Key.Driver))
			}
		}
		if num, ok := fieldInt(r.Fields["number"]); ok {
			agg.numbers[num] = append(agg.numbers[num], string(r.Key.Driver))
		}
	}
	for _, race := range store.ByKind(model.KindRace) {
		agg := races[race.Key]
		if agg == nil {
			continue
		}
		for pos, drivers := range agg.positions {
			if len(drivers) > 1 {
				out = append(out, model.Anomaly{
					Kind:     model.AnomalyDuplicateKey,
					Severity: model.SeverityError,
					Table:    string(model.KindRaceResult),
					Key:      "race=" + string(race.Key),
					Field:    "position",
					Message:  fmt.Sprintf("position %d claimed by %d drivers", pos, len(drivers)),
				})
			}
			if pos > agg.entrants {
				out = append(out, model.Anomaly{
					Kind:     model.AnomalyRangeViolation,
					Severity: model.SeverityWarning,
					Table:    string(model.KindRaceResult),
					Key:      "race=" + string(race.Key),
					Field:    "position",
					Message:  fmt.Sprintf("position %d exceeds %d classified entrants", pos, agg.entrants),
				})
			}
		}
		for num, drivers := range agg.numbers {
			if len(drivers) > 1 {
				out = append(out, model.Anomaly{
					Kind:     model.AnomalyDuplicateKey,
					Severity: model.SeverityError,
					Table:    string(model.KindRaceResult),
					Key:      "race=" + string(race.Key),
					Field:    "number",
					Message:  fmt.Sprintf("driver number %d used by %d entrants", num, len(drivers)),
				})
			}
		}
	}

	// Race dates must not postdate ingestion.
	for _, race := range store.ByKind(model.KindRace) {
		if d, ok := race.Fields["date"].(time.Time); ok && d.After(v.now) {
			out = append(out, model.Anomaly{
				Kind:     model.AnomalyRangeViolation,
				Severity: model.SeverityWarning,
				Table:    "races",
				Key:      string(race.Key),
				Field:    "date",
				Message:  "race date " + d.Format("2006-01-02") + " is in the future",
			})
		}
	}

	return out
}

// checkCrossSource compares per-driver lap counts between the sources
// that contributed them for the same race. A deviation past the
// tolerance is reported, never auto-corrected.
func (v *Validator) checkCrossSource(store *merge.Store) []model.Anomaly {
	type pair struct {
		driver, race model.CanonicalKey
	}
	counts := make(map[pair]map[model.SourceID]int)

	for _, r := range store.Relationships(model.KindLapTime) {
		k := pair{driver: r.Key.Driver, race: r.Key.Race}
		if counts[k] == nil {
			counts[k] = make(map[model.SourceID]int)
		}
		seen := make(map[model.SourceID]bool)
		for _, fp := range r.Provenance {
			for _, a := range fp.Attempts {
				seen[a.Source] = true
			}
		}
		for src := range seen {
			counts[k][src]++
		}
	}

	var out []model.Anomaly
	for k, bySource := range counts {
		if len(bySource) < 2 {
			continue
		}
		minCount, maxCount := -1, 0
		var sources []model.SourceID
		for src, n := range bySource {
			sources = append(sources, src)
			if minCount < 0 || n < minCount {
				minCount = n
			}
			if n > maxCount {
				maxCount = n
			}
		}
		if maxCount-minCount > v.policy.Plausibility.LapCountTolerance {
			sort.Slice(sources, func(i, j int) bool { return sources[i] < sources[j] })
			out = append(out, model.Anomaly{
				Kind:     model.AnomalyCrossSourceMismatch,
				Severity: model.SeverityWarning,
				Table:    string(model.KindLapTime),
				Key:      model.NaturalKey{Driver: k.driver, Race: k.race}.String(),
				Field:    "lap",
				Message:  fmt.Sprintf("lap counts differ across sources: %d vs %d", minCount, maxCount),
				Sources:  sources,
			})
		}
	}
	return out
}

// checkCompleteness reports races with no results, and races inside the
// lap-data era with no lap times, keyed by race so consumers can decide
// whether to re-fetch or accept the gap.
func (v *Validator) checkCompleteness(store *merge.Store) []model.Anomaly {
	hasResults := make(map[model.CanonicalKey]bool)
	for _, r := range store.Relationships(model.KindRaceResult) {
		hasResults[r.Key.Race] = true
	}
	hasLaps := make(map[model.CanonicalKey]bool)
	for _, r := range store.Relationships(model.KindLapTime) {
		hasLaps[r.Key.Race] = true
	}

	var out []model.Anomaly
	for _, race := range store.ByKind(model.KindRace) {
		if !hasResults[race.Key] {
			out = append(out, model.Anomaly{
				Kind:     model.AnomalyMissingData,
				Severity: model.SeverityWarning,
				Table:    "races",
				Key:      string(race.Key),
				Field:    "results",
				Message:  "race has no results",
			})
		}
		year, ok := fieldInt(race.Fields["year"])
		if ok && year >= v.policy.Plausibility.LapDataFromSeason && !hasLaps[race.Key] {
			out = append(out, model.Anomaly{
				Kind:     model.AnomalyMissingData,
				Severity: model.SeverityInfo,
				Table:    "races",
				Key:      string(race.Key),
				Field:    "lap_times",
				Message:  fmt.Sprintf("no lap times for a %d race", year),
			})
		}
	}
	return out
}

// fieldInt reads a numeric field regardless of how it was decoded.
// JSON dumps deliver numbers as float64; normalized and store-loaded
// records carry int. Non-integral floats do not count as ints.
func fieldInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}
