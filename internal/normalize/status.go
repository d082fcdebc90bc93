package normalize

import (
	"strings"

	"github.com/apexgrid/f1data/internal/model"
)

// defaultStatusCodes maps raw status strings (upper-cased) to canonical
// statuses. Per-source overrides from the policy are consulted first.
var defaultStatusCodes = map[string]model.Status{
	"FINISHED":       model.StatusFinished,
	"F":              model.StatusFinished,
	"CLASSIFIED":     model.StatusFinished,
	"DNF":            model.StatusDNF,
	"DID NOT FINISH": model.StatusDNF,
	"NOT CLASSIFIED": model.StatusDNF,
	"NC":             model.StatusDNF,
	"RETIRED":        model.StatusDNF,
	"R":              model.StatusDNF,
	"DNS":            model.StatusDNS,
	"DID NOT START":  model.StatusDNS,
	"DSQ":            model.StatusDSQ,
	"DISQUALIFIED":   model.StatusDSQ,
	"EX":             model.StatusDSQ,
	"WD":             model.StatusWithdrew,
	"WITHDREW":       model.StatusWithdrew,
}

// statusValues canonicalizes the status names allowed as override
// values in policy files, independent of case.
var statusValues = map[string]model.Status{
	"FINISHED": model.StatusFinished,
	"DNF":      model.StatusDNF,
	"DNS":      model.StatusDNS,
	"DSQ":      model.StatusDSQ,
	"WITHDREW": model.StatusWithdrew,
}

// Status maps a raw status string through the per-source override table,
// the default table, then substring patterns. Unknown codes come back as
// StatusUnknown with ok=false so callers can flag them; they are never
// silently dropped. An override mapping to a name outside the canonical
// set is treated the same way rather than silently ignored.
func Status(raw string, overrides map[string]string) (model.Status, bool) {
	upper := strings.ToUpper(strings.TrimSpace(raw))
	if upper == "" {
		return model.StatusUnknown, false
	}

	if mapped, ok := overrides[upper]; ok {
		if s, ok := statusValues[strings.ToUpper(strings.TrimSpace(mapped))]; ok {
			return s, true
		}
		return model.StatusUnknown, false
	}
	if s, ok := defaultStatusCodes[upper]; ok {
		return s, true
	}

	switch {
	case strings.Contains(upper, "DNF"), strings.Contains(upper, "NOT FINISH"):
		return model.StatusDNF, true
	case strings.Contains(upper, "DNS"), strings.Contains(upper, "NOT START"):
		return model.StatusDNS, true
	case strings.Contains(upper, "DSQ"), strings.Contains(upper, "DISQUAL"):
		return model.StatusDSQ, true
	case strings.Contains(upper, "FINISH"), strings.Contains(upper, "COMPLETED"):
		return model.StatusFinished, true
	}

	return model.StatusUnknown, false
}

// tyreCompounds folds source compound names into the current Pirelli
// naming. Legacy softest-band names collapse to C5.
var tyreCompounds = map[string]string{
	"SOFT":         "SOFT",
	"MEDIUM":       "MEDIUM",
	"HARD":         "HARD",
	"INTERMEDIATE": "INTERMEDIATE",
	"WET":          "WET",
	"C1":           "C1",
	"C2":           "C2",
	"C3":           "C3",
	"C4":           "C4",
	"C5":           "C5",
	"SUPERSOFT":    "C5",
	"ULTRASOFT":    "C5",
	"HYPERSOFT":    "C5",
}

// TyreCompound normalizes a tyre compound name; unknown compounds pass
// through upper-cased rather than being discarded.
func TyreCompound(raw string) string {
	upper := strings.ToUpper(strings.TrimSpace(raw))
	if mapped, ok := tyreCompounds[upper]; ok {
		return mapped
	}
	return upper
}
