// Package normalize canonicalizes raw per-source records into the common
// intermediate shape the matcher and merger consume: timestamps in UTC,
// lap numbers 1-based, identifiers cleaned, statuses mapped to the
// canonical enum. Normalization is a pure function of (record, policy);
// field-level failures drop the field and flag it, never the record.
package normalize

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/apexgrid/f1data/internal/config"
	"github.com/apexgrid/f1data/internal/model"
)

// fieldAliases folds source-specific field names into the canonical
// vocabulary before value normalization.
var fieldAliases = map[string]string{
	"driver_code":   "code",
	"driver_number": "number",
	"lap_number":    "lap",
	"dob":           "date_of_birth",
	"raceName":      "name",
	"season":        "year",
	"duration":      "time",
}

// driver records call their name field "name" or "full_name" depending
// on the source; drivers canonically use full_name.
var driverAliases = map[string]string{
	"name": "full_name",
}

// Normalizer canonicalizes raw records according to the policy's
// per-source rules.
type Normalizer struct {
	policy *config.Policy
	locs   map[model.SourceID]*time.Location
}

// New builds a Normalizer, resolving every configured source timezone up
// front. An unresolvable timezone is a configuration error.
func New(policy *config.Policy) (*Normalizer, error) {
	locs := make(map[model.SourceID]*time.Location, len(policy.SourceRules))
	for src, rules := range policy.SourceRules {
		if rules.Timezone == "" {
			continue
		}
		loc, err := time.LoadLocation(rules.Timezone)
		if err != nil {
			return nil, eris.Wrapf(err, "normalize: timezone %q for source %s", rules.Timezone, src)
		}
		locs[src] = loc
	}
	return &Normalizer{policy: policy, locs: locs}, nil
}

// Normalize canonicalizes one raw record. It never fails wholesale:
// unparsable fields are dropped and reported as anomalies, the rest of
// the record survives.
func (n *Normalizer) Normalize(raw model.RawRecord) (model.NormalizedRecord, []model.Anomaly) {
	out := model.NormalizedRecord{
		Source:    raw.Source,
		Kind:      raw.Kind,
		Fields:    make(map[string]any, len(raw.Fields)),
		FetchedAt: raw.FetchedAt.UTC(),
	}
	var anomalies []model.Anomaly

	drop := func(field string, kind model.AnomalyKind, msg string) {
		anomalies = append(anomalies, model.Anomaly{
			Kind:     kind,
			Severity: model.SeverityWarning,
			Table:    string(raw.Kind),
			Field:    field,
			Message:  msg,
			Sources:  []model.SourceID{raw.Source},
		})
	}

	for key, value := range raw.Fields {
		if value == nil {
			continue
		}
		canon := n.canonicalField(raw.Kind, key)

		switch canon {
		case "date", "date_start", "date_of_birth":
			t, err := n.normalizeTimestamp(raw.Source, value)
			if err != nil {
				drop(canon, model.AnomalyMalformedInput, err.Error())
				continue
			}
			out.Fields[canon] = t

		case "lap":
			lap, ok := n.normalizeLap(raw.Source, value)
			if !ok {
				drop(canon, model.AnomalyRangeViolation,
					fmt.Sprintf("lap %v outside [1, %d]", value, n.policy.Plausibility.MaxLap))
				continue
			}
			out.Fields[canon] = lap

		case "status":
			status, known := Status(model.FieldString(value), n.policy.StatusCodes[raw.Source])
			if !known {
				drop(canon, model.AnomalyMalformedInput,
					fmt.Sprintf("unknown status code %q", model.FieldString(value)))
			}
			out.Fields[canon] = status

		case "code":
			code, ok := DriverCode(model.FieldString(value))
			if !ok {
				drop(canon, model.AnomalyMalformedInput,
					fmt.Sprintf("invalid driver code %q", model.FieldString(value)))
				continue
			}
			out.Fields[canon] = code

		case "time":
			ms, err := ParseRaceTime(model.FieldString(value))
			if err != nil {
				drop(canon, model.AnomalyMalformedInput, err.Error())
				continue
			}
			out.Fields["milliseconds"] = ms

		case "compound":
			out.Fields[canon] = TyreCompound(model.FieldString(value))

		case "full_name":
			display := TitleName(CollapseSpaces(model.FieldString(value)))
			if display == "" {
				continue
			}
			out.Fields[canon] = display
			out.Fields["full_name_ascii"] = FoldASCII(display)

		case "name":
			var display string
			if raw.Kind == model.KindCircuit {
				display = CircuitName(model.FieldString(value))
			} else {
				display = TitleName(CollapseSpaces(model.FieldString(value)))
			}
			if display == "" {
				continue
			}
			out.Fields[canon] = display
			out.Fields["name_ascii"] = FoldASCII(display)

		case "driver_ref", "circuit_ref", "constructor_ref":
			ref := Ref(model.FieldString(value))
			if ref == "" {
				continue
			}
			out.Fields[canon] = ref

		case "position", "number", "year", "round", "stop", "stint", "laps", "points", "milliseconds":
			i, ok := coercePositiveInt(value, canon == "points" || canon == "laps")
			if !ok {
				drop(canon, model.AnomalyMalformedInput,
					fmt.Sprintf("invalid %s %v", canon, value))
				continue
			}
			out.Fields[canon] = i

		default:
			out.Fields[canon] = value
		}
	}

	return out, anomalies
}

func (n *Normalizer) canonicalField(kind model.EntityKind, key string) string {
	if kind == model.KindDriver {
		if canon, ok := driverAliases[key]; ok {
			return canon
		}
	}
	if canon, ok := fieldAliases[key]; ok {
		return canon
	}
	return key
}

func (n *Normalizer) normalizeTimestamp(source model.SourceID, value any) (time.Time, error) {
	switch t := value.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		loc := n.locs[source]
		return ParseTimestamp(t, loc)
	default:
		return time.Time{}, eris.Errorf("timestamp: unsupported type %T", value)
	}
}

// normalizeLap converts a source's lap numbering to the canonical
// 1-based convention and rejects values outside [1, MaxLap].
func (n *Normalizer) normalizeLap(source model.SourceID, value any) (int, bool) {
	raw, ok := coerceAnyInt(value)
	if !ok {
		return 0, false
	}
	rules := n.policy.Rules(source)
	lap := raw + rules.LapOffset
	if rules.CountsFormationLap {
		lap--
	}
	if lap < 1 || lap > n.policy.Plausibility.MaxLap {
		return 0, false
	}
	return lap, true
}

func coerceAnyInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		var i int
		if _, err := fmt.Sscanf(n, "%d", &i); err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

func coercePositiveInt(v any, allowZero bool) (int, bool) {
	i, ok := coerceAnyInt(v)
	if !ok {
		return 0, false
	}
	if i < 0 || (i == 0 && !allowZero) {
		return 0, false
	}
	return i, true
}
