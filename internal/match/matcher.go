// Package match resolves cross-source references to the same real-world
// entity into stable canonical keys, using exact-key and fuzzy-similarity
// strategies with confidence scoring. Matching is deterministic: the same
// records against the same index always yield the same keys.
package match

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/apexgrid/f1data/internal/config"
	"github.com/apexgrid/f1data/internal/model"
	"github.com/apexgrid/f1data/internal/normalize"
)

// EntityIndex is the read view of the canonical store the matcher works
// against. Implementations must return entities in a stable order.
type EntityIndex interface {
	ByKind(kind model.EntityKind) []*model.CanonicalEntity
	Get(key model.CanonicalKey) (*model.CanonicalEntity, bool)
}

// Result is the matcher's output for one batch of normalized records.
type Result struct {
	Candidates []model.MatchCandidate
	Review     []model.ReviewCandidate
}

// Matcher resolves normalized entity records against an existing index.
type Matcher struct {
	policy *config.Policy
	sim    Similarity
}

// New creates a Matcher. A nil similarity falls back to the default
// levenshtein strategy.
func New(policy *config.Policy, sim Similarity) *Matcher {
	if sim == nil {
		sim = NewLevenshtein()
	}
	return &Matcher{policy: policy, sim: sim}
}

// overlay makes entities allocated earlier in the same batch visible to
// later records without mutating the underlying index.
type overlay struct {
	base    EntityIndex
	byKind  map[model.EntityKind][]*model.CanonicalEntity
	entries map[model.CanonicalKey]*model.CanonicalEntity
}

func newOverlay(base EntityIndex) *overlay {
	return &overlay{
		base:    base,
		byKind:  make(map[model.EntityKind][]*model.CanonicalEntity),
		entries: make(map[model.CanonicalKey]*model.CanonicalEntity),
	}
}

func (o *overlay) ByKind(kind model.EntityKind) []*model.CanonicalEntity {
	existing := o.base.ByKind(kind)
	added := o.byKind[kind]
	if len(added) == 0 {
		return existing
	}
	out := make([]*model.CanonicalEntity, 0, len(existing)+len(added))
	out = append(out, existing...)
	return append(out, added...)
}

func (o *overlay) Get(key model.CanonicalKey) (*model.CanonicalEntity, bool) {
	if e, ok := o.entries[key]; ok {
		return e, true
	}
	return o.base.Get(key)
}

func (o *overlay) add(e *model.CanonicalEntity) {
	if _, exists := o.Get(e.Key); exists {
		return
	}
	o.byKind[e.Kind] = append(o.byKind[e.Kind], e)
	o.entries[e.Key] = e
}

// Match resolves each record in order. Records whose best fuzzy score
// lands in the review band are routed to Result.Review: neither merged
// (risking false fusion) nor allocated fresh keys (risking identity
// fragmentation).
func (m *Matcher) Match(records []model.NormalizedRecord, index EntityIndex) Result {
	var res Result
	ov := newOverlay(index)

	for _, rec := range records {
		cand, review := m.matchOne(rec, ov)
		if review != nil {
			res.Review = append(res.Review, *review)
			continue
		}
		if cand.NewEntity {
			seed := model.NewCanonicalEntity(cand.Key, rec.Kind)
			seedNames(seed, rec)
			ov.add(seed)
		}
		res.Candidates = append(res.Candidates, cand)
	}

	if len(res.Review) > 0 {
		zap.L().Info("match: records routed to manual review",
			zap.Int("count", len(res.Review)),
		)
	}
	return res
}

func (m *Matcher) matchOne(rec model.NormalizedRecord, index EntityIndex) (model.MatchCandidate, *model.ReviewCandidate) {
	// 1. Exact match on a structurally unique key for the kind.
	if key, ok := m.exactStructural(rec, index); ok {
		return model.MatchCandidate{Record: rec, Key: key, Confidence: 1.0, Method: model.MethodExactCode}, nil
	}

	// 2. Drivers: exact (number, season) confirmed by name similarity,
	// guarding against number reuse across eras.
	if rec.Kind == model.KindDriver {
		if key, ok := m.exactNumber(rec, index); ok {
			return model.MatchCandidate{Record: rec, Key: key, Confidence: 1.0, Method: model.MethodExactNumber}, nil
		}
	}

	// 3. Fuzzy name match against every existing entity of the kind.
	name := displayName(rec)
	if name != "" {
		best, bestScore := m.bestFuzzy(rec, name, index)
		if best != nil && bestScore >= m.policy.Match.FuzzyThreshold {
			zap.L().Debug("match: fuzzy accept",
				zap.String("name", name),
				zap.String("key", string(best.Key)),
				zap.Float64("score", bestScore),
			)
			return model.MatchCandidate{Record: rec, Key: best.Key, Confidence: bestScore, Method: model.MethodFuzzyName}, nil
		}
		if best != nil && bestScore >= m.policy.Match.ReviewFloor {
			return model.MatchCandidate{}, &model.ReviewCandidate{
				Record:   rec,
				BestKey:  best.Key,
				BestName: entityName(best),
				Score:    bestScore,
			}
		}
	}

	// 4. Nothing cleared the threshold: allocate a key, first-seen wins.
	key := model.NewCanonicalKey(rec.Kind, naturalRef(rec))
	return model.MatchCandidate{Record: rec, Key: key, Confidence: 1.0, NewEntity: true}, nil
}

// exactStructural matches on the key already known to be globally unique
// for the kind: driver code, circuit/constructor ref, (year, round) for
// races, year for seasons.
func (m *Matcher) exactStructural(rec model.NormalizedRecord, index EntityIndex) (model.CanonicalKey, bool) {
	switch rec.Kind {
	case model.KindDriver:
		if code := rec.String("code"); code != "" {
			for _, e := range index.ByKind(rec.Kind) {
				if s, _ := e.Fields["code"].(string); s == code {
					return e.Key, true
				}
			}
		}
	case model.KindCircuit, model.KindConstructor:
		refField := string(rec.Kind) + "_ref"
		if ref := rec.String(refField); ref != "" {
			for _, e := range index.ByKind(rec.Kind) {
				if s, _ := e.Fields[refField].(string); s == ref {
					return e.Key, true
				}
			}
		}
	case model.KindRace:
		year, okY := rec.Int("year")
		round, okR := rec.Int("round")
		if okY && okR {
			for _, e := range index.ByKind(rec.Kind) {
				ey, _ := e.Fields["year"].(int)
				er, _ := e.Fields["round"].(int)
				if ey == year && er == round {
					return e.Key, true
				}
			}
		}
	case model.KindSeason:
		if year, ok := rec.Int("year"); ok {
			for _, e := range index.ByKind(rec.Kind) {
				if ey, _ := e.Fields["year"].(int); ey == year {
					return e.Key, true
				}
			}
		}
	}
	return "", false
}

func (m *Matcher) exactNumber(rec model.NormalizedRecord, index EntityIndex) (model.CanonicalKey, bool) {
	number, ok := rec.Int("number")
	if !ok {
		return "", false
	}
	name := displayName(rec)
	season, hasSeason := rec.Int("year")

	for _, e := range index.ByKind(model.KindDriver) {
		en, _ := e.Fields["number"].(int)
		if en != number {
			continue
		}
		if hasSeason {
			if es, ok := e.Fields["year"].(int); ok && es != season {
				continue
			}
		}
		if name == "" {
			continue
		}
		if m.sim.Score(name, entityName(e)) >= m.policy.Match.NumberNameThreshold {
			return e.Key, true
		}
	}
	return "", false
}

func (m *Matcher) bestFuzzy(rec model.NormalizedRecord, name string, index EntityIndex) (*model.CanonicalEntity, float64) {
	var best *model.CanonicalEntity
	bestScore := 0.0

	for _, e := range index.ByKind(rec.Kind) {
		existing := entityName(e)
		if existing == "" {
			continue
		}
		score := m.sim.Score(name, existing)
		switch {
		case score > bestScore:
			best, bestScore = e, score
		case score == bestScore && best != nil:
			// Tie-break: nationality + date-of-birth agreement, then
			// most recent prior observation.
			if tieBreak(rec, e, best) {
				best = e
			}
		}
	}
	return best, bestScore
}

// tieBreak reports whether challenger beats incumbent for a tied score.
func tieBreak(rec model.NormalizedRecord, challenger, incumbent *model.CanonicalEntity) bool {
	ca, ia := bioAgreement(rec, challenger), bioAgreement(rec, incumbent)
	if ca != ia {
		return ca > ia
	}
	return lastObserved(challenger).After(lastObserved(incumbent))
}

func bioAgreement(rec model.NormalizedRecord, e *model.CanonicalEntity) int {
	agree := 0
	if nat := rec.String("nationality"); nat != "" {
		if en, _ := e.Fields["nationality"].(string); en == nat {
			agree++
		}
	}
	if dob, ok := rec.Time("date_of_birth"); ok {
		if edob, ok := e.Fields["date_of_birth"].(time.Time); ok && edob.Equal(dob) {
			agree++
		}
	}
	return agree
}

func lastObserved(e *model.CanonicalEntity) time.Time {
	var latest time.Time
	for _, p := range e.Provenance {
		if p.Winner.ObservedAt.After(latest) {
			latest = p.Winner.ObservedAt
		}
	}
	return latest
}

// naturalRef picks the stable reference a new entity's key derives from:
// an explicit ref field when the source supplies one, otherwise the
// folded name, otherwise the strongest identifying fields available.
func naturalRef(rec model.NormalizedRecord) string {
	if ref := rec.String(string(rec.Kind) + "_ref"); ref != "" {
		return ref
	}
	switch rec.Kind {
	case model.KindRace:
		year, _ := rec.Int("year")
		round, _ := rec.Int("round")
		if year != 0 {
			return fmt.Sprintf("%d/%d", year, round)
		}
	case model.KindSeason:
		if year, ok := rec.Int("year"); ok {
			return fmt.Sprintf("%d", year)
		}
	}
	if name := displayName(rec); name != "" {
		return normalize.Ref(name)
	}
	if code := rec.String("code"); code != "" {
		return code
	}
	if number, ok := rec.Int("number"); ok {
		return fmt.Sprintf("number_%d", number)
	}
	return string(rec.Kind)
}

func displayName(rec model.NormalizedRecord) string {
	if n := rec.String("full_name"); n != "" {
		return n
	}
	return rec.String("name")
}

func entityName(e *model.CanonicalEntity) string {
	if n, _ := e.Fields["full_name"].(string); n != "" {
		return n
	}
	n, _ := e.Fields["name"].(string)
	return n
}

// seedNames copies the identifying fields from the allocating record onto
// a freshly created entity so later records in the same batch can match
// it. The merger still owns authoritative field values.
func seedNames(e *model.CanonicalEntity, rec model.NormalizedRecord) {
	for _, f := range []string{
		"full_name", "full_name_ascii", "name", "name_ascii", "code",
		"number", "year", "round", "nationality", "date_of_birth",
		"driver_ref", "circuit_ref", "constructor_ref",
	} {
		if v, ok := rec.Fields[f]; ok && v != nil {
			e.Fields[f] = v
		}
	}
}
