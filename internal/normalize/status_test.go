package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apexgrid/f1data/internal/config"
	"github.com/apexgrid/f1data/internal/model"
)

func TestStatus_Defaults(t *testing.T) {
	tests := []struct {
		raw    string
		status model.Status
		ok     bool
	}{
		{"Finished", model.StatusFinished, true},
		{"finished", model.StatusFinished, true},
		{"F", model.StatusFinished, true},
		{"DNF", model.StatusDNF, true},
		{"Retired", model.StatusDNF, true},
		{"NC", model.StatusDNF, true},
		{"DNS", model.StatusDNS, true},
		{"Did Not Start", model.StatusDNS, true},
		{"Disqualified", model.StatusDSQ, true},
		{"EX", model.StatusDSQ, true},
		{"WD", model.StatusWithdrew, true},
		{"", model.StatusUnknown, false},
		{"Engine", model.StatusUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			status, ok := Status(tt.raw, nil)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestStatus_SubstringFallback(t *testing.T) {
	status, ok := Status("DNF - Gearbox", nil)
	assert.True(t, ok)
	assert.Equal(t, model.StatusDNF, status)

	status, ok = Status("Race Finished Normally", nil)
	assert.True(t, ok)
	assert.Equal(t, model.StatusFinished, status)
}

func TestStatus_SourceOverrides(t *testing.T) {
	overrides := map[string]string{
		"AB.":  "DNF",
		"NP.":  "DNS",
		"DSQ.": "DSQ",
	}

	status, ok := Status("ab.", overrides)
	assert.True(t, ok)
	assert.Equal(t, model.StatusDNF, status)

	status, ok = Status("np.", overrides)
	assert.True(t, ok)
	assert.Equal(t, model.StatusDNS, status)

	// Override values are case-insensitive; policy files write them
	// lowercase.
	status, ok = Status("ab.", map[string]string{"AB.": "dnf"})
	assert.True(t, ok)
	assert.Equal(t, model.StatusDNF, status)

	// An override mapping to garbage is flagged, not silently skipped.
	status, ok = Status("F", map[string]string{"F": "NotAStatus"})
	assert.False(t, ok)
	assert.Equal(t, model.StatusUnknown, status)
}

// The policy file in the repository root configures statsf1 overrides
// with lowercase values; they must resolve to canonical statuses.
func TestStatus_ShippedPolicyOverrides(t *testing.T) {
	p, err := config.LoadPolicy("../../policy.yaml")
	require.NoError(t, err)

	status, ok := Status("AB.", p.StatusCodes["statsf1"])
	assert.True(t, ok)
	assert.Equal(t, model.StatusDNF, status)

	status, ok = Status("NP.", p.StatusCodes["statsf1"])
	assert.True(t, ok)
	assert.Equal(t, model.StatusDNS, status)
}

func TestTyreCompound(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"soft", "SOFT"},
		{"HYPERSOFT", "C5"},
		{"ultrasoft", "C5"},
		{"c3", "C3"},
		{"intermediate", "INTERMEDIATE"},
		{"PROTOTYPE", "PROTOTYPE"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, TyreCompound(tt.input))
		})
	}
}
