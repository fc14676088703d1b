// Package bucket folds observations into monthly aggregation buckets.
//
// Apply is a pure function: the store passes it the existing bucket for the
// observation's composite key (nil on first sight) plus the most recent prior
// bucket for the same keyword, and persists whatever comes back under its
// atomic upsert. All idempotence and ordering rules live here so both store
// drivers behave identically.
package bucket

import (
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/seolytics/ranktrack/internal/model"
)

// CheckPeriod enforces the closed-month invariant: once a month has rolled
// over, normal ingestion may not write into it. Backfill sets allowClosed.
func CheckPeriod(obs model.Observation, now time.Time, allowClosed bool) error {
	if allowClosed {
		return nil
	}
	now = now.UTC()
	if obs.Year() < now.Year() || (obs.Year() == now.Year() && obs.Month() < int(now.Month())) {
		return &model.ClosedPeriodError{Month: obs.Month(), Year: obs.Year()}
	}
	return nil
}

// Apply folds obs into existing. A nil existing creates the bucket, carrying
// PreviousRank from prev (the most recent prior bucket for the same keyword,
// nil if none). Re-applying an identical observation is a no-op: checks are
// deduped by (checkedAt, source) and the bucket's rank always reflects the
// most recent check in the month.
func Apply(existing, prev *model.MonthlyBucket, obs model.Observation) (model.MonthlyBucket, error) {
	if existing == nil {
		return create(prev, obs), nil
	}

	b := *existing
	if b.Keyword != obs.Keyword || b.Month != obs.Month() || b.Year != obs.Year() {
		return model.MonthlyBucket{}, eris.Errorf(
			"bucket: key mismatch: bucket (%s %04d-%02d) vs observation (%s %04d-%02d)",
			b.Keyword, b.Year, b.Month, obs.Keyword, obs.Year(), obs.Month(),
		)
	}

	check := model.WeeklyCheck{Rank: obs.Rank, CheckedAt: obs.CheckedAt, Source: obs.Source}
	b.WeeklyChecks = appendCheck(b.WeeklyChecks, check)

	// The month's current rank is whatever the latest check saw, regardless
	// of arrival order.
	latest := b.WeeklyChecks[len(b.WeeklyChecks)-1]
	b.Rank = latest.Rank
	b.CheckedAt = latest.CheckedAt
	b.Source = latest.Source
	b.InTop100 = b.Rank != nil
	b.RankChange = rankChange(b.PreviousRank, b.Rank)

	if b.Client == nil && obs.Client != nil {
		b.Client = obs.Client
	}
	if b.KeywordID == nil && obs.KeywordID != nil {
		b.KeywordID = obs.KeywordID
	}
	if obs.Difficulty != nil {
		b.Difficulty = obs.Difficulty
	}

	return b, nil
}

func create(prev *model.MonthlyBucket, obs model.Observation) model.MonthlyBucket {
	b := model.MonthlyBucket{
		Domain:       obs.Domain,
		Keyword:      obs.Keyword,
		Rank:         obs.Rank,
		InTop100:     obs.Rank != nil,
		Difficulty:   obs.Difficulty,
		Location:     obs.Location,
		LocationCode: obs.LocationCode,
		Source:       obs.Source,
		CheckedAt:    obs.CheckedAt,
		Month:        obs.Month(),
		Year:         obs.Year(),
		Client:       obs.Client,
		KeywordID:    obs.KeywordID,
		WeeklyChecks: []model.WeeklyCheck{{Rank: obs.Rank, CheckedAt: obs.CheckedAt, Source: obs.Source}},
	}
	if prev != nil {
		b.PreviousRank = prev.Rank
	}
	b.RankChange = rankChange(b.PreviousRank, b.Rank)
	return b
}

// appendCheck inserts check keeping checkedAt order, deduping by
// (checkedAt, source).
func appendCheck(checks []model.WeeklyCheck, check model.WeeklyCheck) []model.WeeklyCheck {
	for _, c := range checks {
		if c.CheckedAt.Equal(check.CheckedAt) && c.Source == check.Source {
			return checks
		}
	}
	out := make([]model.WeeklyCheck, len(checks), len(checks)+1)
	copy(out, checks)
	out = append(out, check)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CheckedAt.Before(out[j].CheckedAt)
	})
	return out
}

// rankChange computes previous - current; positive means improvement since a
// lower rank number is better. Nil when either side is absent.
func rankChange(prev, curr *int) *int {
	if prev == nil || curr == nil {
		return nil
	}
	d := *prev - *curr
	return &d
}
