package match

import (
	"fmt"

	"github.com/apexgrid/f1data/internal/model"
)

// ResolveTuple resolves a relationship record (lap time, result, pit
// stop, stint) to its natural key. References that cannot be matched to
// an existing entity still get a deterministic key derived from the raw
// reference, so the record merges and the validator reports the dangling
// foreign key instead of the record silently vanishing.
func (m *Matcher) ResolveTuple(rec model.NormalizedRecord, index EntityIndex) (model.NaturalKey, bool) {
	driver, driverFound := m.resolveDriver(rec, index)
	race, raceFound := m.resolveRace(rec, index)
	if driver == "" || race == "" {
		return model.NaturalKey{}, false
	}

	key := model.NaturalKey{Driver: driver, Race: race}
	switch rec.Kind {
	case model.KindLapTime:
		lap, ok := rec.Int("lap")
		if !ok {
			return model.NaturalKey{}, false
		}
		key.Ordinal = lap
	case model.KindPitStop:
		stop, ok := rec.Int("stop")
		if !ok {
			return model.NaturalKey{}, false
		}
		key.Ordinal = stop
	case model.KindTyreStint:
		stint, ok := rec.Int("stint")
		if !ok {
			return model.NaturalKey{}, false
		}
		key.Ordinal = stint
	}

	return key, driverFound && raceFound
}

func (m *Matcher) resolveDriver(rec model.NormalizedRecord, index EntityIndex) (model.CanonicalKey, bool) {
	if code := rec.String("code"); code != "" {
		for _, e := range index.ByKind(model.KindDriver) {
			if s, _ := e.Fields["code"].(string); s == code {
				return e.Key, true
			}
		}
	}
	if number, ok := rec.Int("number"); ok {
		name := displayName(rec)
		for _, e := range index.ByKind(model.KindDriver) {
			en, _ := e.Fields["number"].(int)
			if en != number {
				continue
			}
			// Without a name on the record, the number alone has to do.
			if name == "" || m.sim.Score(name, entityName(e)) >= m.policy.Match.NumberNameThreshold {
				return e.Key, true
			}
		}
	}
	if name := displayName(rec); name != "" {
		if best, score := m.bestFuzzy(driverView(rec), name, index); best != nil && score >= m.policy.Match.FuzzyThreshold {
			return best.Key, true
		}
	}

	// Dangling but deterministic: the validator will flag it.
	if ref := driverRawRef(rec); ref != "" {
		return model.NewCanonicalKey(model.KindDriver, ref), false
	}
	return "", false
}

func (m *Matcher) resolveRace(rec model.NormalizedRecord, index EntityIndex) (model.CanonicalKey, bool) {
	year, okY := rec.Int("year")
	round, okR := rec.Int("round")
	if !okY {
		return "", false
	}
	if okR {
		for _, e := range index.ByKind(model.KindRace) {
			ey, _ := e.Fields["year"].(int)
			er, _ := e.Fields["round"].(int)
			if ey == year && er == round {
				return e.Key, true
			}
		}
		return model.NewCanonicalKey(model.KindRace, fmt.Sprintf("%d/%d", year, round)), false
	}
	return "", false
}

// driverView re-kinds a relationship record so fuzzy matching scans the
// driver index.
func driverView(rec model.NormalizedRecord) model.NormalizedRecord {
	rec.Kind = model.KindDriver
	return rec
}

func driverRawRef(rec model.NormalizedRecord) string {
	if ref := rec.String("driver_ref"); ref != "" {
		return ref
	}
	if code := rec.String("code"); code != "" {
		return code
	}
	if number, ok := rec.Int("number"); ok {
		return fmt.Sprintf("number_%d", number)
	}
	return ""
}
