package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// zonedLayouts carry their own offset; zonelessLayouts need the source's
// documented timezone applied before converting to UTC.
var (
	zonedLayouts = []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05Z07:00",
	}
	zonelessLayouts = []string{
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02",
		"02/01/2006",
	}
)

// ParseTimestamp parses a timestamp in any supported layout and returns
// it in UTC. Zoneless input is interpreted in loc (the source's
// documented zone; pass time.UTC when none is configured).
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, eris.New("timestamp: empty")
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	for _, layout := range zonelessLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("timestamp: unparsable %q", s)
}

var raceTimePattern = regexp.MustCompile(`^(?:(\d+):)?(\d+):(\d{2}(?:\.\d+)?)$|^(\d+(?:\.\d+)?)$`)

// ParseRaceTime converts a lap/sector/gap time string to milliseconds.
// Accepts "M:SS.mmm", "H:MM:SS.mmm", bare seconds, and a leading "+"
// (gap notation).
func ParseRaceTime(s string) (int, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "+"))
	if s == "" {
		return 0, eris.New("race time: empty")
	}

	// Strip stray characters sources attach (lap counts, annotations).
	clean := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r == ':' || r == '.' {
			return r
		}
		return -1
	}, s)

	m := raceTimePattern.FindStringSubmatch(clean)
	if m == nil {
		return 0, eris.Errorf("race time: unparsable %q", s)
	}

	if m[4] != "" { // bare seconds
		secs, err := strconv.ParseFloat(m[4], 64)
		if err != nil {
			return 0, eris.Wrapf(err, "race time: %q", s)
		}
		return int(secs*1000 + 0.5), nil
	}

	var hours, minutes int
	var err error
	if m[1] != "" {
		if hours, err = strconv.Atoi(m[1]); err != nil {
			return 0, eris.Wrapf(err, "race time: %q", s)
		}
	}
	if minutes, err = strconv.Atoi(m[2]); err != nil {
		return 0, eris.Wrapf(err, "race time: %q", s)
	}
	secs, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return 0, eris.Wrapf(err, "race time: %q", s)
	}

	total := float64(hours)*3600 + float64(minutes)*60 + secs
	return int(total*1000 + 0.5), nil
}
