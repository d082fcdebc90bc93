package model

// SourceID identifies one upstream data source. The set of known sources
// is closed: fetchers tag every record they hand over with one of these.
type SourceID string

// Known sources, in no particular order. Priority between them is
// configuration, not a property of the source itself.
const (
	SourceFIA       SourceID = "fia"
	SourceErgast    SourceID = "ergast"
	SourceOpenF1    SourceID = "openf1"
	SourceFastF1    SourceID = "fastf1"
	SourceF1Com     SourceID = "f1com"
	SourceStatsF1   SourceID = "statsf1"
	SourceWikipedia SourceID = "wikipedia"
)

// KnownSources lists every source the pipeline understands.
func KnownSources() []SourceID {
	return []SourceID{
		SourceFIA, SourceErgast, SourceOpenF1, SourceFastF1,
		SourceF1Com, SourceStatsF1, SourceWikipedia,
	}
}

// EntityKind classifies what a record describes: either a real-world
// entity that goes through identity matching, or a relationship fact
// keyed by a tuple of canonical keys.
type EntityKind string

const (
	KindDriver      EntityKind = "driver"
	KindConstructor EntityKind = "constructor"
	KindCircuit     EntityKind = "circuit"
	KindSeason      EntityKind = "season"
	KindRace        EntityKind = "race"
	KindSession     EntityKind = "session"

	KindRaceResult EntityKind = "race_result"
	KindLapTime    EntityKind = "lap_time"
	KindPitStop    EntityKind = "pit_stop"
	KindTyreStint  EntityKind = "tyre_stint"
)

// IsRelationship reports whether records of this kind are keyed by a
// natural tuple instead of being matched as entities.
func (k EntityKind) IsRelationship() bool {
	switch k {
	case KindRaceResult, KindLapTime, KindPitStop, KindTyreStint:
		return true
	}
	return false
}
