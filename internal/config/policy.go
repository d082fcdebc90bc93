package config

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/apexgrid/f1data/internal/model"
)

// Policy is the versioned reconciliation policy: source priority, match
// thresholds, per-source conventions, and plausibility ranges. It is
// passed into the matcher, merger, and validator explicitly so a batch is
// reproducible given only (raw records + policy).
type Policy struct {
	Version int `yaml:"version"`

	// Sources is the total priority order, highest priority first.
	// Every source observed in a batch must appear here; a missing entry
	// is a configuration error, fatal to the batch.
	Sources []model.SourceID `yaml:"sources"`

	Match        MatchPolicy                          `yaml:"match"`
	SourceRules  map[model.SourceID]SourceRules       `yaml:"source_rules"`
	Plausibility PlausibilityPolicy                   `yaml:"plausibility"`
	StatusCodes  map[model.SourceID]map[string]string `yaml:"status_codes,omitempty"`

	rank map[model.SourceID]int
}

// MatchPolicy holds the entity-matching thresholds.
type MatchPolicy struct {
	// FuzzyThreshold accepts a fuzzy name match at or above this score.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
	// ReviewFloor routes scores in [ReviewFloor, FuzzyThreshold) to the
	// manual-review set instead of allocating a new entity.
	ReviewFloor float64 `yaml:"review_floor"`
	// NumberNameThreshold is the secondary name-similarity bar an
	// exact-number match must also clear (guards against number reuse).
	NumberNameThreshold float64 `yaml:"number_name_threshold"`
}

// SourceRules captures one source's documented quirks.
type SourceRules struct {
	// Timezone assumed for zoneless timestamps from this source.
	Timezone string `yaml:"timezone"`
	// LapOffset converts the source's lap numbering to 1-based
	// (1 for 0-based sources, 0 for already 1-based).
	LapOffset int `yaml:"lap_offset"`
	// CountsFormationLap subtracts one more when the source counts the
	// formation lap in its numbering.
	CountsFormationLap bool `yaml:"counts_formation_lap"`
}

// PlausibilityPolicy bounds the validator's range checks.
type PlausibilityPolicy struct {
	LapTimeMinMs      int `yaml:"lap_time_min_ms"`
	LapTimeMaxMs      int `yaml:"lap_time_max_ms"`
	MaxLap            int `yaml:"max_lap"`
	LapCountTolerance int `yaml:"lap_count_tolerance"`
	// LapDataFromSeason: seasons at or after this year are expected to
	// have lap time data; earlier gaps are not reported.
	LapDataFromSeason int `yaml:"lap_data_from_season"`
}

// DefaultPolicy returns the built-in policy used when no file is given.
func DefaultPolicy() *Policy {
	p := &Policy{
		Version: 1,
		Sources: []model.SourceID{
			model.SourceFIA, model.SourceErgast, model.SourceOpenF1,
			model.SourceFastF1, model.SourceF1Com, model.SourceStatsF1,
			model.SourceWikipedia,
		},
		Match: MatchPolicy{
			FuzzyThreshold:      0.85,
			ReviewFloor:         0.60,
			NumberNameThreshold: 0.85,
		},
		SourceRules: map[model.SourceID]SourceRules{
			model.SourceOpenF1: {Timezone: "UTC", LapOffset: 1},
			model.SourceFastF1: {Timezone: "UTC"},
			model.SourceF1Com:  {Timezone: "Europe/London"},
		},
		Plausibility: PlausibilityPolicy{
			LapTimeMinMs:      10_000,
			LapTimeMaxMs:      600_000,
			MaxLap:            200,
			LapCountTolerance: 2,
			LapDataFromSeason: 1980,
		},
	}
	p.buildRank()
	return p
}

// LoadPolicy reads a reconciliation policy from a YAML file. Fields left
// unset fall back to the defaults.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "policy: read %s", path)
	}

	// The YAML has a top-level "reconciliation" key.
	var wrapper struct {
		Reconciliation Policy `yaml:"reconciliation"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "policy: parse")
	}

	p := &wrapper.Reconciliation
	def := DefaultPolicy()
	if len(p.Sources) == 0 {
		p.Sources = def.Sources
	}
	if p.Match.FuzzyThreshold == 0 {
		p.Match.FuzzyThreshold = def.Match.FuzzyThreshold
	}
	if p.Match.ReviewFloor == 0 {
		p.Match.ReviewFloor = def.Match.ReviewFloor
	}
	if p.Match.NumberNameThreshold == 0 {
		p.Match.NumberNameThreshold = def.Match.NumberNameThreshold
	}
	if p.Plausibility.LapTimeMinMs == 0 {
		p.Plausibility.LapTimeMinMs = def.Plausibility.LapTimeMinMs
	}
	if p.Plausibility.LapTimeMaxMs == 0 {
		p.Plausibility.LapTimeMaxMs = def.Plausibility.LapTimeMaxMs
	}
	if p.Plausibility.MaxLap == 0 {
		p.Plausibility.MaxLap = def.Plausibility.MaxLap
	}
	if p.Plausibility.LapCountTolerance == 0 {
		p.Plausibility.LapCountTolerance = def.Plausibility.LapCountTolerance
	}
	if p.Plausibility.LapDataFromSeason == 0 {
		p.Plausibility.LapDataFromSeason = def.Plausibility.LapDataFromSeason
	}
	p.buildRank()

	return p, nil
}

func (p *Policy) buildRank() {
	p.rank = make(map[model.SourceID]int, len(p.Sources))
	for i, s := range p.Sources {
		// Higher rank = higher priority; index 0 is the top source.
		p.rank[s] = len(p.Sources) - i
	}
}

// Rank returns the priority rank for a source (higher wins). An unknown
// source is a configuration error: silent fallback would make merges
// non-deterministic, so callers must treat this as fatal.
func (p *Policy) Rank(source model.SourceID) (int, error) {
	if p.rank == nil {
		p.buildRank()
	}
	r, ok := p.rank[source]
	if !ok {
		return 0, eris.Errorf("policy: no priority configured for source %q", source)
	}
	return r, nil
}

// Rules returns the per-source rules, zero-valued when unconfigured.
func (p *Policy) Rules(source model.SourceID) SourceRules {
	return p.SourceRules[source]
}
