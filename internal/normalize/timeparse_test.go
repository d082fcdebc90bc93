package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp_Zoned(t *testing.T) {
	got, err := ParseTimestamp("2021-03-28T18:03:12+03:00", nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, 3, 28, 15, 3, 12, 0, time.UTC), got)
	assert.Equal(t, time.UTC, got.Location())
}

func TestParseTimestamp_ZonelessUsesSourceZone(t *testing.T) {
	london, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)

	// BST in July: 14:00 local is 13:00 UTC.
	got, err := ParseTimestamp("2021-07-18 14:00:00", london)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, 7, 18, 13, 0, 0, 0, time.UTC), got)
}

func TestParseTimestamp_ZonelessDefaultsToUTC(t *testing.T) {
	got, err := ParseTimestamp("2021-07-18T14:00:00", nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2021, 7, 18, 14, 0, 0, 0, time.UTC), got)
}

func TestParseTimestamp_DateOnly(t *testing.T) {
	got, err := ParseTimestamp("1985-09-07", nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(1985, 9, 7, 0, 0, 0, 0, time.UTC), got)

	// Day-first form some sources use.
	got, err = ParseTimestamp("07/09/1985", nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(1985, 9, 7, 0, 0, 0, 0, time.UTC), got)
}

func TestParseTimestamp_Invalid(t *testing.T) {
	_, err := ParseTimestamp("", nil)
	assert.Error(t, err)

	_, err = ParseTimestamp("not a time", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unparsable")
}

func TestParseRaceTime(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ms    int
	}{
		{"minutes seconds millis", "1:23.456", 83456},
		{"hours minutes seconds", "1:32:03.897", 5523897},
		{"bare seconds", "23.456", 23456},
		{"bare integer seconds", "25", 25000},
		{"gap notation", "+5.3", 5300},
		{"whitespace", " 1:23.456 ", 83456},
		{"annotated", "1:23.456*", 83456},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms, err := ParseRaceTime(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.ms, ms)
		})
	}
}

func TestParseRaceTime_Invalid(t *testing.T) {
	for _, input := range []string{"", "abc", "::"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseRaceTime(input)
			assert.Error(t, err)
		})
	}
}
