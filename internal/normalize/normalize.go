// Package normalize turns raw rank-check results into canonical Observations.
package normalize

import (
	"strings"
	"time"

	"github.com/seolytics/ranktrack/internal/model"
)

// RawCheck is a rank-check result as delivered by an external provider.
// Rank arrives as an untyped value because providers disagree on how to
// report "not ranked" (null, 0, -1, "-", "100+").
type RawCheck struct {
	Client       string    `json:"client,omitempty"`
	Domain       string    `json:"domain"`
	Keyword      string    `json:"keyword"`
	KeywordID    string    `json:"keywordId,omitempty"`
	Rank         any       `json:"rank,omitempty"`
	Difficulty   *int      `json:"difficulty,omitempty"`
	Location     string    `json:"location,omitempty"`
	LocationCode int       `json:"locationCode,omitempty"`
	Source       string    `json:"source"`
	CheckedAt    time.Time `json:"checkedAt,omitempty"`
}

// Observation validates and cleans a raw check into a canonical Observation.
// A failed validation rejects the whole check; nothing reaches the store.
func Observation(raw RawCheck) (model.Observation, error) {
	domain := Domain(raw.Domain)
	if domain == "" {
		return model.Observation{}, model.NewValidationError("domain", "is empty")
	}

	keyword := strings.TrimSpace(raw.Keyword)
	if keyword == "" {
		return model.Observation{}, model.NewValidationError("keyword", "is empty")
	}

	checkedAt := raw.CheckedAt
	if checkedAt.IsZero() {
		checkedAt = time.Now().UTC()
	}

	obs := model.Observation{
		Domain:       domain,
		Keyword:      keyword,
		Rank:         Rank(raw.Rank),
		Difficulty:   raw.Difficulty,
		Location:     strings.TrimSpace(raw.Location),
		LocationCode: raw.LocationCode,
		Source:       strings.TrimSpace(raw.Source),
		CheckedAt:    checkedAt.UTC(),
	}
	obs.InTop100 = obs.Rank != nil

	if c := strings.TrimSpace(raw.Client); c != "" {
		obs.Client = &c
	}
	if id := strings.TrimSpace(raw.KeywordID); id != "" {
		obs.KeywordID = &id
	}

	return obs, nil
}

// Rank normalizes a provider rank value. Anything that is not a positive
// integer maps to nil ("not ranked"); values are never rounded or defaulted.
func Rank(v any) *int {
	var r int
	switch n := v.(type) {
	case nil:
		return nil
	case int:
		r = n
	case int64:
		r = int(n)
	case float64:
		// JSON numbers decode as float64; accept only whole values.
		if n != float64(int(n)) {
			return nil
		}
		r = int(n)
	default:
		return nil
	}
	if r <= 0 {
		return nil
	}
	return &r
}

// Domain normalizes a domain for matching: trim, lowercase, strip scheme,
// leading www. and any path. Used identically at ingestion and repair time.
func Domain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	for _, scheme := range []string{"https://", "http://"} {
		d = strings.TrimPrefix(d, scheme)
	}
	d = strings.TrimPrefix(d, "www.")
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	return strings.TrimSuffix(d, ".")
}
