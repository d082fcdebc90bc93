package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// keyNamespace seeds deterministic canonical keys. Re-running the matcher
// over the same input must mint the same keys, so keys are SHA1 namespace
// UUIDs over (kind, first-seen natural reference), never random.
var keyNamespace = uuid.MustParse("6b1f6f0e-9a5d-4c87-9a73-5b1d24c2c9e1")

// CanonicalKey is the stable, source-independent identifier for one
// real-world entity. Assigned once, never reused.
type CanonicalKey string

// NewCanonicalKey derives the key for an entity kind and its first-seen
// natural reference (driver ref, circuit ref, "2021/3" for a race, ...).
func NewCanonicalKey(kind EntityKind, naturalRef string) CanonicalKey {
	seed := string(kind) + "/" + strings.ToLower(strings.TrimSpace(naturalRef))
	return CanonicalKey(uuid.NewSHA1(keyNamespace, []byte(seed)).String())
}

// ProvenanceEntry records one source observation of a field value.
type ProvenanceEntry struct {
	Source     SourceID  `json:"source"`
	Value      any       `json:"value"`
	Confidence float64   `json:"confidence"`
	ObservedAt time.Time `json:"observed_at"`
}

// FieldProvenance is the append-only audit trail for one canonical field.
// Winner is the accepted value; Attempts keeps every contributing
// observation so superseded values stay auditable.
type FieldProvenance struct {
	Winner   ProvenanceEntry   `json:"winner"`
	Attempts []ProvenanceEntry `json:"attempts,omitempty"`
}

// CanonicalEntity is one reconciled real-world entity. Only the merger
// mutates it; every populated field carries provenance.
type CanonicalEntity struct {
	Key        CanonicalKey               `json:"key"`
	Kind       EntityKind                 `json:"kind"`
	Fields     map[string]any             `json:"fields"`
	Provenance map[string]FieldProvenance `json:"provenance"`
}

// NewCanonicalEntity returns an empty entity for the given key and kind.
func NewCanonicalEntity(key CanonicalKey, kind EntityKind) *CanonicalEntity {
	return &CanonicalEntity{
		Key:        key,
		Kind:       kind,
		Fields:     make(map[string]any),
		Provenance: make(map[string]FieldProvenance),
	}
}

// NaturalKey identifies a relationship record: the entity tuple plus an
// ordinal (lap number, stop number, stint number; 0 where not applicable).
type NaturalKey struct {
	Driver  CanonicalKey `json:"driver"`
	Race    CanonicalKey `json:"race"`
	Ordinal int          `json:"ordinal"`
}

// String renders the tuple for reports and log lines.
func (k NaturalKey) String() string {
	if k.Ordinal == 0 {
		return fmt.Sprintf("driver=%s race=%s", k.Driver, k.Race)
	}
	return fmt.Sprintf("driver=%s race=%s n=%d", k.Driver, k.Race, k.Ordinal)
}

// RelationshipRecord is a reconciled fact tying entities together: a race
// result, a lap time, a pit stop, a stint. Exactly one logical record
// exists per (kind, natural key) tuple; duplicates across sources merge
// into it rather than inserting twice.
type RelationshipRecord struct {
	Kind       EntityKind                 `json:"kind"`
	Key        NaturalKey                 `json:"key"`
	Fields     map[string]any             `json:"fields"`
	Provenance map[string]FieldProvenance `json:"provenance"`
}

// NewRelationshipRecord returns an empty relationship record.
func NewRelationshipRecord(kind EntityKind, key NaturalKey) *RelationshipRecord {
	return &RelationshipRecord{
		Kind:       kind,
		Key:        key,
		Fields:     make(map[string]any),
		Provenance: make(map[string]FieldProvenance),
	}
}
