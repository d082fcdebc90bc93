package model

import "sort"

// AnomalyKind is the closed taxonomy of reportable deviations. Anomalies
// accumulate into the quality report; they are never thrown.
type AnomalyKind string

const (
	AnomalyMalformedInput       AnomalyKind = "malformed_input"
	AnomalyUnresolvedMatch      AnomalyKind = "unresolved_match"
	AnomalyReferentialIntegrity AnomalyKind = "referential_integrity"
	AnomalyConflictingValue     AnomalyKind = "conflicting_value"
	AnomalyRangeViolation       AnomalyKind = "range_violation"
	AnomalyDuplicateKey         AnomalyKind = "duplicate_key"
	AnomalyCrossSourceMismatch  AnomalyKind = "cross_source_mismatch"
	AnomalyMissingData          AnomalyKind = "missing_data"
)

// Severity grades an anomaly for report consumers.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Anomaly is one typed, reportable deviation from an expected invariant.
type Anomaly struct {
	Kind     AnomalyKind `json:"kind"`
	Severity Severity    `json:"severity"`
	Table    string      `json:"table,omitempty"`
	Key      string      `json:"key,omitempty"`
	Field    string      `json:"field,omitempty"`
	Message  string      `json:"message"`
	Sources  []SourceID  `json:"sources,omitempty"`
}

// SortAnomalies orders anomalies deterministically so two validation runs
// over the same store produce byte-equal reports.
func SortAnomalies(as []Anomaly) {
	sort.SliceStable(as, func(i, j int) bool {
		if as[i].Kind != as[j].Kind {
			return as[i].Kind < as[j].Kind
		}
		if as[i].Table != as[j].Table {
			return as[i].Table < as[j].Table
		}
		if as[i].Key != as[j].Key {
			return as[i].Key < as[j].Key
		}
		if as[i].Field != as[j].Field {
			return as[i].Field < as[j].Field
		}
		return as[i].Message < as[j].Message
	})
}
