package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seolytics/ranktrack/internal/model"
)

func TestObservation_Valid(t *testing.T) {
	checked := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	obs, err := Observation(RawCheck{
		Domain:    "  HTTPS://WWW.BrightSmile.com/services?utm=x  ",
		Keyword:   "  dental implants ",
		Rank:      float64(15),
		Source:    "serpapi",
		CheckedAt: checked,
	})
	require.NoError(t, err)

	assert.Equal(t, "brightsmile.com", obs.Domain)
	assert.Equal(t, "dental implants", obs.Keyword)
	require.NotNil(t, obs.Rank)
	assert.Equal(t, 15, *obs.Rank)
	assert.True(t, obs.InTop100)
	assert.Equal(t, checked, obs.CheckedAt)
	assert.Equal(t, 3, obs.Month())
	assert.Equal(t, 2025, obs.Year())
}

func TestObservation_KeywordCasePreserved(t *testing.T) {
	obs, err := Observation(RawCheck{Domain: "a.com", Keyword: "Invisalign NYC", Source: "serpapi"})
	require.NoError(t, err)
	assert.Equal(t, "Invisalign NYC", obs.Keyword)
}

func TestObservation_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		raw   RawCheck
		field string
	}{
		{"empty domain", RawCheck{Keyword: "x"}, "domain"},
		{"whitespace domain", RawCheck{Domain: "   ", Keyword: "x"}, "domain"},
		{"empty keyword", RawCheck{Domain: "a.com"}, "keyword"},
		{"whitespace keyword", RawCheck{Domain: "a.com", Keyword: " \t"}, "keyword"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Observation(tt.raw)
			require.Error(t, err)
			assert.True(t, model.IsValidation(err))
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestObservation_DefaultsCheckedAt(t *testing.T) {
	before := time.Now().UTC()
	obs, err := Observation(RawCheck{Domain: "a.com", Keyword: "x", Source: "serpapi"})
	require.NoError(t, err)
	assert.False(t, obs.CheckedAt.Before(before))
}

func TestObservation_RankAbsentMeansNotInTop100(t *testing.T) {
	obs, err := Observation(RawCheck{Domain: "a.com", Keyword: "x", Source: "serpapi"})
	require.NoError(t, err)
	assert.Nil(t, obs.Rank)
	assert.False(t, obs.InTop100)
}

func TestRank(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want *int
	}{
		{"nil", nil, nil},
		{"positive int", 12, intp(12)},
		{"positive float", float64(7), intp(7)},
		{"zero", 0, nil},
		{"negative", -3, nil},
		{"fractional", 4.5, nil},
		{"string", "100+", nil},
		{"bool", true, nil},
		{"int64", int64(42), intp(42)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Rank(tt.in)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func TestDomain(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Example.com", "example.com"},
		{"https://WWW.Example.com/x", "example.com"},
		{"http://example.com?q=1", "example.com"},
		{"example.com.", "example.com"},
		{"  smiles.dental  ", "smiles.dental"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Domain(tt.in), "Domain(%q)", tt.in)
	}
}

func intp(v int) *int { return &v }
