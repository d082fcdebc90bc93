// Package merge combines normalized, matched records for the same
// logical entity into one canonical record per field, applying the
// configured source-priority order and recording field-level provenance.
// Merging is associative and idempotent with respect to the priority
// order: batches may arrive incrementally and the outcome is the same as
// merging everything at once.
package merge

import (
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/apexgrid/f1data/internal/config"
	"github.com/apexgrid/f1data/internal/model"
)

// Contribution is one normalized record feeding a merge, with the match
// confidence it arrived with.
type Contribution struct {
	Record     model.NormalizedRecord
	Confidence float64
}

// Merger applies the field-level priority policy to the canonical store.
type Merger struct {
	policy *config.Policy
	store  *Store
}

// New creates a Merger writing into store.
func New(policy *config.Policy, store *Store) *Merger {
	return &Merger{policy: policy, store: store}
}

// Store exposes the canonical store for the validator and exporters.
func (m *Merger) Store() *Store { return m.store }

// matchMetaFields exist for identity resolution, not as canonical facts;
// they are merged like any other field but never conflict-flagged.
var matchMetaFields = map[string]bool{
	"full_name_ascii": true,
	"name_ascii":      true,
}

// MergeEntity merges all contributions for one entity key. The merger
// imposes source-priority order internally, so arrival order from
// parallel normalization does not matter. Configuration gaps (a source
// with no priority entry) are fatal; data conflicts are not.
func (m *Merger) MergeEntity(key model.CanonicalKey, kind model.EntityKind, contribs []Contribution) ([]model.Anomaly, error) {
	if len(contribs) == 0 {
		return nil, nil
	}
	var anomalies []model.Anomaly
	err := m.store.UpdateEntity(key, kind, func(e *model.CanonicalEntity) error {
		as, err := m.mergeFields(e.Fields, e.Provenance, string(kind), string(key), contribs)
		anomalies = as
		return err
	})
	if err != nil {
		return nil, err
	}
	return anomalies, nil
}

// MergeRelationship merges contributions for one relationship tuple.
// A record present in only one source is kept as-is with that source's
// provenance.
func (m *Merger) MergeRelationship(kind model.EntityKind, nk model.NaturalKey, contribs []Contribution) ([]model.Anomaly, error) {
	if len(contribs) == 0 {
		return nil, nil
	}
	var anomalies []model.Anomaly
	err := m.store.UpdateRelationship(kind, nk, func(r *model.RelationshipRecord) error {
		as, err := m.mergeFields(r.Fields, r.Provenance, string(kind), nk.String(), contribs)
		anomalies = as
		return err
	})
	if err != nil {
		return nil, err
	}
	return anomalies, nil
}

// candidate is one observation of one field.
type candidate struct {
	entry model.ProvenanceEntry
	rank  int
}

// mergeFields resolves every field across contributions and the already-
// merged state. The existing winner participates as a candidate, which is
// what makes incremental merging associative: a field is only replaced by
// a strictly higher-priority source, or by a fresher observation from the
// same source.
func (m *Merger) mergeFields(fields map[string]any, prov map[string]model.FieldProvenance, table, keyStr string, contribs []Contribution) ([]model.Anomaly, error) {
	byField := make(map[string][]candidate)

	for _, c := range contribs {
		rank, err := m.policy.Rank(c.Record.Source)
		if err != nil {
			// Silent fallback would make merges non-deterministic.
			return nil, eris.Wrap(err, "merge")
		}
		for field, value := range c.Record.Fields {
			if value == nil {
				continue
			}
			byField[field] = append(byField[field], candidate{
				rank: rank,
				entry: model.ProvenanceEntry{
					Source:     c.Record.Source,
					Value:      value,
					Confidence: c.Confidence,
					ObservedAt: c.Record.FetchedAt,
				},
			})
		}
	}

	// Deterministic field order keeps anomaly output stable.
	fieldNames := make([]string, 0, len(byField))
	for f := range byField {
		fieldNames = append(fieldNames, f)
	}
	sort.Strings(fieldNames)

	var anomalies []model.Anomaly
	for _, field := range fieldNames {
		cands := byField[field]

		if existing, ok := prov[field]; ok {
			rank, err := m.policy.Rank(existing.Winner.Source)
			if err != nil {
				return nil, eris.Wrap(err, "merge: existing provenance")
			}
			cands = append(cands, candidate{entry: existing.Winner, rank: rank})
		}

		// Highest priority wins; ties within one source go to the most
		// recent fetch.
		sort.SliceStable(cands, func(i, j int) bool {
			if cands[i].rank != cands[j].rank {
				return cands[i].rank > cands[j].rank
			}
			return cands[i].entry.ObservedAt.After(cands[j].entry.ObservedAt)
		})
		winner := cands[0]

		if !matchMetaFields[field] {
			if a := conflictAnomaly(table, keyStr, field, winner, cands); a != nil {
				anomalies = append(anomalies, *a)
			}
		}

		fields[field] = winner.entry.Value
		fp := prov[field]
		fp.Winner = winner.entry
		for _, c := range cands {
			appendAttempt(&fp, c.entry)
		}
		prov[field] = fp
	}

	return anomalies, nil
}

// conflictAnomaly flags disagreement between sources on a field even when
// the priority order resolves it. Low severity: the merge succeeded, the
// report just keeps it auditable.
func conflictAnomaly(table, keyStr, field string, winner candidate, cands []candidate) *model.Anomaly {
	winnerStr := model.FieldString(winner.entry.Value)
	var disagreeing []model.SourceID
	seen := map[model.SourceID]bool{winner.entry.Source: true}
	for _, c := range cands[1:] {
		if model.FieldString(c.entry.Value) == winnerStr || seen[c.entry.Source] {
			continue
		}
		seen[c.entry.Source] = true
		disagreeing = append(disagreeing, c.entry.Source)
	}
	if len(disagreeing) == 0 {
		return nil
	}
	sources := append([]model.SourceID{winner.entry.Source}, disagreeing...)
	zap.L().Debug("merge: conflicting values resolved by priority",
		zap.String("table", table),
		zap.String("key", keyStr),
		zap.String("field", field),
	)
	return &model.Anomaly{
		Kind:     model.AnomalyConflictingValue,
		Severity: model.SeverityInfo,
		Table:    table,
		Key:      keyStr,
		Field:    field,
		Message:  "sources disagree; kept " + winnerStr + " from " + string(winner.entry.Source),
		Sources:  sources,
	}
}

// appendAttempt keeps the per-field audit trail append-only while staying
// idempotent: re-merging the same observation does not duplicate it.
func appendAttempt(fp *model.FieldProvenance, entry model.ProvenanceEntry) {
	for _, a := range fp.Attempts {
		if a.Source == entry.Source &&
			a.ObservedAt.Equal(entry.ObservedAt) &&
			model.FieldString(a.Value) == model.FieldString(entry.Value) {
			return
		}
	}
	fp.Attempts = append(fp.Attempts, entry)
}
