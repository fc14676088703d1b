// Package trend classifies keyword rank movement between monthly buckets.
package trend

import (
	"fmt"
	"sort"
	"time"

	"github.com/seolytics/ranktrack/internal/model"
)

// Classify labels the movement between the previous and current month's
// ranks. Lower rank numbers are better. A nil rank means the keyword was
// outside the tracked range that month.
func Classify(prev, curr *int) model.Trend {
	switch {
	case curr != nil && prev == nil:
		return model.TrendNew
	case curr == nil && prev != nil:
		return model.TrendLost
	case curr == nil && prev == nil:
		return model.TrendStable
	case *curr < *prev:
		return model.TrendImproved
	case *curr > *prev:
		return model.TrendDeclined
	default:
		return model.TrendStable
	}
}

// MonthName renders a period for the read contract, e.g. "March 2025".
func MonthName(month, year int) string {
	return fmt.Sprintf("%s %d", time.Month(month).String(), year)
}

// MonthKey renders the sortable period key, e.g. "2025-03".
func MonthKey(month, year int) string {
	return fmt.Sprintf("%04d-%02d", year, month)
}

// BuildTimeline derives the full timeline entry for one keyword from its
// monthly buckets. Months with no bucket are simply absent from history.
// Trend compares the two most recent buckets; TotalChange spans from the
// first ranked month to the current one, so a keyword can be stable
// month-to-month while still showing long-run movement.
func BuildTimeline(keyword string, buckets []model.MonthlyBucket) model.KeywordTimelineEntry {
	entry := model.KeywordTimelineEntry{Keyword: keyword, Trend: model.TrendStable}
	if len(buckets) == 0 {
		return entry
	}

	sorted := make([]model.MonthlyBucket, len(buckets))
	copy(sorted, buckets)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Year != sorted[j].Year {
			return sorted[i].Year < sorted[j].Year
		}
		return sorted[i].Month < sorted[j].Month
	})

	var (
		firstRank *int
		ranked    []int
	)
	for _, b := range sorted {
		entry.History = append(entry.History, model.HistoryPoint{
			MonthName:    MonthName(b.Month, b.Year),
			Rank:         b.Rank,
			WeeklyChecks: b.WeeklyChecks,
		})
		if b.Rank == nil {
			continue
		}
		if firstRank == nil {
			v := *b.Rank
			firstRank = &v
		}
		ranked = append(ranked, *b.Rank)
	}

	curr := sorted[len(sorted)-1]
	entry.CurrentRank = curr.Rank

	var prevRank *int
	if len(sorted) >= 2 {
		prevRank = sorted[len(sorted)-2].Rank
	}
	entry.Trend = Classify(prevRank, curr.Rank)

	if firstRank != nil && curr.Rank != nil {
		change := *firstRank - *curr.Rank
		entry.TotalChange = &change
	}

	if len(ranked) > 0 {
		best, worst, sum := ranked[0], ranked[0], 0
		for _, r := range ranked {
			if r < best {
				best = r
			}
			if r > worst {
				worst = r
			}
			sum += r
		}
		entry.BestRank = &best
		entry.WorstRank = &worst
		entry.AverageRank = float64(sum) / float64(len(ranked))
	}

	return entry
}
