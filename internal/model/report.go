package model

import "time"

// ReportSummary holds the counters consumers check first.
type ReportSummary struct {
	ForeignKeyErrors     int `json:"foreign_key_errors"`
	Anomalies            int `json:"anomalies"`
	Entities             int `json:"entities"`
	Relationships        int `json:"relationships"`
	RacesWithoutResults  int `json:"races_without_results"`
	RacesWithoutLapTimes int `json:"races_without_lap_times"`
	ReviewCandidates     int `json:"review_candidates"`
	LowConfidenceMatches int `json:"low_confidence_matches"`
}

// QualityReport is the validator's output: a pure snapshot, regenerated
// fresh each run, never partially updated.
type QualityReport struct {
	GeneratedAt      time.Time            `json:"generated_at"`
	ForeignKeyErrors map[string][]Anomaly `json:"foreign_key_errors"`
	Anomalies        []Anomaly            `json:"anomalies"`
	Summary          ReportSummary        `json:"summary"`
}

// NewQualityReport returns an empty report stamped at t.
func NewQualityReport(t time.Time) *QualityReport {
	return &QualityReport{
		GeneratedAt:      t.UTC(),
		ForeignKeyErrors: make(map[string][]Anomaly),
	}
}

// Add appends a general anomaly.
func (r *QualityReport) Add(a Anomaly) {
	r.Anomalies = append(r.Anomalies, a)
}

// AddForeignKey appends a referential-integrity anomaly under its table.
func (r *QualityReport) AddForeignKey(table string, a Anomaly) {
	r.ForeignKeyErrors[table] = append(r.ForeignKeyErrors[table], a)
}

// Finalize sorts every anomaly list and fills in the summary counters.
// Must be called exactly once, after all checks have completed.
func (r *QualityReport) Finalize() {
	SortAnomalies(r.Anomalies)
	fkCount := 0
	for table := range r.ForeignKeyErrors {
		SortAnomalies(r.ForeignKeyErrors[table])
		fkCount += len(r.ForeignKeyErrors[table])
	}
	r.Summary.ForeignKeyErrors = fkCount
	r.Summary.Anomalies = len(r.Anomalies)
	for _, a := range r.Anomalies {
		switch a.Kind {
		case AnomalyMissingData:
			switch a.Field {
			case "results":
				r.Summary.RacesWithoutResults++
			case "lap_times":
				r.Summary.RacesWithoutLapTimes++
			}
		case AnomalyUnresolvedMatch:
			r.Summary.LowConfidenceMatches++
		}
	}
}
