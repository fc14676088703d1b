// Package aggregate builds the dashboard read contract from stored buckets.
//
// Everything here is a pure function over already-committed MonthlyBuckets:
// no I/O, safe to recompute on every read or cache per (client, range).
package aggregate

import (
	"sort"

	"go.uber.org/zap"

	"github.com/seolytics/ranktrack/internal/model"
	"github.com/seolytics/ranktrack/internal/trend"
)

const (
	// topPerformerMaxRank is the rank ceiling for the topPerformers category.
	topPerformerMaxRank = 30
	// attentionMinRank is the rank floor that flags a keyword regardless of trend.
	attentionMinRank = 50
	// maxSampleKeywords caps the sample list carried for insight generation.
	maxSampleKeywords = 3
)

// BuildReport computes the full read contract from one client-or-domain's
// buckets. A keyword whose buckets violate engine invariants is reported as
// TrendUnknown and listed as an issue; it never blanks the rest of the
// report. Buckets with a nil client are aggregated like any other (grouping
// happens upstream by the store's client-or-domain key), but the missing
// linkage is surfaced as a warning issue so the repair job has a trail in
// the read path, not only in logs.
func BuildReport(buckets []model.MonthlyBucket) (model.Report, []model.KeywordIssue) {
	var report model.Report
	var issues []model.KeywordIssue

	byKeyword := make(map[string][]model.MonthlyBucket)
	var order []string
	for _, b := range buckets {
		if _, seen := byKeyword[b.Keyword]; !seen {
			order = append(order, b.Keyword)
		}
		byKeyword[b.Keyword] = append(byKeyword[b.Keyword], b)
	}
	sort.Strings(order)

	for _, keyword := range order {
		kwBuckets := byKeyword[keyword]
		if reason := validate(keyword, kwBuckets); reason != "" {
			issues = append(issues, model.KeywordIssue{Keyword: keyword, Reason: reason})
			report.KeywordTimeline = append(report.KeywordTimeline, model.KeywordTimelineEntry{
				Keyword: keyword,
				Trend:   model.TrendUnknown,
			})
			zap.L().Warn("keyword excluded from aggregation",
				zap.String("keyword", keyword),
				zap.String("reason", reason),
			)
			continue
		}

		if ub := firstUnlinked(kwBuckets); ub != nil {
			inc := &model.LinkageInconsistency{BucketID: ub.ID, Domain: ub.Domain}
			issues = append(issues, model.KeywordIssue{Keyword: keyword, Reason: inc.Error()})
			zap.L().Warn("keyword aggregated by domain fallback",
				zap.String("keyword", keyword),
				zap.Error(inc),
			)
		}

		entry := trend.BuildTimeline(keyword, kwBuckets)
		report.KeywordTimeline = append(report.KeywordTimeline, entry)

		countSummary(&report.Summary, entry.Trend)
		categorize(&report, entry)
	}

	report.MonthlyStats = buildMonthlyStats(buckets)
	return report, issues
}

// firstUnlinked returns the first bucket with no client linkage, or nil.
func firstUnlinked(buckets []model.MonthlyBucket) *model.MonthlyBucket {
	for i := range buckets {
		if buckets[i].Client == nil {
			return &buckets[i]
		}
	}
	return nil
}

// validate checks the invariants the classifier depends on. Returns a
// human-readable reason, or "" when the keyword is aggregable.
func validate(keyword string, buckets []model.MonthlyBucket) string {
	if keyword == "" {
		return "empty keyword"
	}
	seen := make(map[[2]int]bool, len(buckets))
	for _, b := range buckets {
		if b.Month < 1 || b.Month > 12 || b.Year == 0 {
			return "bucket has invalid period"
		}
		key := [2]int{b.Year, b.Month}
		if seen[key] {
			return "duplicate bucket for period"
		}
		seen[key] = true
	}
	return ""
}

func countSummary(s *model.Summary, t model.Trend) {
	switch t {
	case model.TrendImproved:
		s.Improved++
	case model.TrendDeclined:
		s.Declined++
	case model.TrendStable:
		s.Unchanged++
	case model.TrendNew:
		s.New++
	case model.TrendLost:
		s.Lost++
	}
}

// categorize assigns a keyword to at most one performance category. The
// predicates are evaluated in fixed order so membership is single-bucket.
func categorize(report *model.Report, entry model.KeywordTimelineEntry) {
	switch {
	case entry.Trend == model.TrendImproved && entry.CurrentRank != nil && *entry.CurrentRank <= topPerformerMaxRank:
		report.PerformanceCategories.TopPerformers++
		if len(report.TopPerformerSamples) < maxSampleKeywords {
			report.TopPerformerSamples = append(report.TopPerformerSamples, entry.Keyword)
		}
	case entry.Trend == model.TrendDeclined || (entry.CurrentRank != nil && *entry.CurrentRank > attentionMinRank):
		report.PerformanceCategories.NeedAttention++
	case entry.Trend == model.TrendLost:
		report.PerformanceCategories.LostVisibility++
	case entry.Trend == model.TrendStable:
		report.PerformanceCategories.Stable++
	}
}

func buildMonthlyStats(buckets []model.MonthlyBucket) []model.MonthlyStatsEntry {
	type acc struct {
		month, year int
		rankSum     int
		ranked      int
		keywords    int
		checks      int
	}
	byPeriod := make(map[string]*acc)
	for _, b := range buckets {
		if b.Month < 1 || b.Month > 12 || b.Year == 0 {
			continue
		}
		key := trend.MonthKey(b.Month, b.Year)
		a := byPeriod[key]
		if a == nil {
			a = &acc{month: b.Month, year: b.Year}
			byPeriod[key] = a
		}
		a.keywords++
		a.checks += len(b.WeeklyChecks)
		if b.Rank != nil {
			a.rankSum += *b.Rank
			a.ranked++
		}
	}

	keys := make([]string, 0, len(byPeriod))
	for k := range byPeriod {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	stats := make([]model.MonthlyStatsEntry, 0, len(keys))
	for _, k := range keys {
		a := byPeriod[k]
		entry := model.MonthlyStatsEntry{
			MonthKey:      k,
			MonthName:     trend.MonthName(a.month, a.year),
			TotalKeywords: a.keywords,
			Stats:         model.MonthStats{TotalChecks: a.checks},
		}
		if a.ranked > 0 {
			entry.AverageRank = float64(a.rankSum) / float64(a.ranked)
		}
		stats = append(stats, entry)
	}
	return stats
}
