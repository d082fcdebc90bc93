package model

import (
	"fmt"
	"strconv"
	"time"
)

// RawRecord is one observation delivered by a fetcher. Immutable once
// ingested; the pipeline never edits it, only produces a normalized copy.
type RawRecord struct {
	Source    SourceID       `json:"source"`
	Kind      EntityKind     `json:"entity_kind"`
	Fields    map[string]any `json:"fields"`
	FetchedAt time.Time      `json:"fetched_at"`
}

// NormalizedRecord is a RawRecord after timestamp, identifier, lap and
// status normalization. Field values are canonical: timestamps are UTC
// time.Time, laps are 1-based ints, statuses are Status values.
type NormalizedRecord struct {
	Source    SourceID       `json:"source"`
	Kind      EntityKind     `json:"entity_kind"`
	Fields    map[string]any `json:"fields"`
	FetchedAt time.Time      `json:"fetched_at"`
}

// String returns the field as a string, or "" when absent or not a string.
func (r NormalizedRecord) String(key string) string {
	s, _ := r.Fields[key].(string)
	return s
}

// Int returns the field coerced to int and whether the coercion succeeded.
func (r NormalizedRecord) Int(key string) (int, bool) {
	return coerceInt(r.Fields[key])
}

// Time returns the field as a time.Time and whether it was one.
func (r NormalizedRecord) Time(key string) (time.Time, bool) {
	t, ok := r.Fields[key].(time.Time)
	return t, ok
}

// Has reports whether the field is present and non-nil.
func (r NormalizedRecord) Has(key string) bool {
	v, ok := r.Fields[key]
	return ok && v != nil
}

func coerceInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// FieldString renders any field value for anomaly messages and natural keys.
func FieldString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", t)
	}
}
