package model

import (
	"time"
)

// Trend classifies a keyword's rank movement between two consecutive months.
type Trend string

const (
	TrendImproved Trend = "improved"
	TrendDeclined Trend = "declined"
	TrendStable   Trend = "stable"
	TrendNew      Trend = "new"
	TrendLost     Trend = "lost"
	// TrendUnknown marks a keyword whose buckets could not be aggregated.
	// It isolates a malformed keyword without blanking the whole report.
	TrendUnknown Trend = "unknown"
)

// Observation is one timestamped rank measurement for a keyword on a domain.
// Observations are created by ingestion and never mutated afterwards.
type Observation struct {
	Client       *string   `json:"client,omitempty"`
	Domain       string    `json:"domain"`
	Keyword      string    `json:"keyword"`
	KeywordID    *string   `json:"keywordId,omitempty"`
	Rank         *int      `json:"rank"` // nil = not in tracked range
	InTop100     bool      `json:"inTop100"`
	Difficulty   *int      `json:"difficulty,omitempty"`
	Location     string    `json:"location,omitempty"`
	LocationCode int       `json:"locationCode,omitempty"`
	Source       string    `json:"source"`
	CheckedAt    time.Time `json:"checkedAt"`
}

// Month and Year derive the canonical calendar period of an observation.
// Period assignment uses calendar months in UTC, not rolling windows.
func (o Observation) Month() int { return int(o.CheckedAt.UTC().Month()) }
func (o Observation) Year() int  { return o.CheckedAt.UTC().Year() }

// ClientKey is the grouping key for an observation: the client when linked,
// otherwise the normalized domain.
func (o Observation) ClientKey() string {
	if o.Client != nil && *o.Client != "" {
		return *o.Client
	}
	return o.Domain
}

// WeeklyCheck is one sub-monthly rank check folded into a MonthlyBucket.
type WeeklyCheck struct {
	Rank      *int      `json:"rank"`
	CheckedAt time.Time `json:"checkedAt"`
	Source    string    `json:"source"`
}

// MonthlyBucket is the unique aggregation unit per (client-or-domain, keyword,
// month, year). Rank is the rank of the most recent check in the month;
// PreviousRank is carried from the prior month's bucket.
type MonthlyBucket struct {
	ID           string        `json:"id,omitempty"`
	Domain       string        `json:"domain"`
	Keyword      string        `json:"keyword"`
	Rank         *int          `json:"rank"`
	InTop100     bool          `json:"inTop100"`
	Difficulty   *int          `json:"difficulty,omitempty"`
	Location     string        `json:"location,omitempty"`
	LocationCode int           `json:"locationCode,omitempty"`
	Source       string        `json:"source"`
	CheckedAt    time.Time     `json:"checkedAt"`
	Month        int           `json:"month"`
	Year         int           `json:"year"`
	PreviousRank *int          `json:"previousRank"`
	RankChange   *int          `json:"rankChange"`
	Client       *string       `json:"client"`
	KeywordID    *string       `json:"keywordId,omitempty"`
	WeeklyChecks []WeeklyCheck `json:"weeklyChecks"`
}

// ClientKey mirrors Observation.ClientKey for stored buckets.
func (b MonthlyBucket) ClientKey() string {
	if b.Client != nil && *b.Client != "" {
		return *b.Client
	}
	return b.Domain
}

// PeriodAfter reports whether the bucket's period is strictly later than
// (month, year).
func (b MonthlyBucket) PeriodAfter(month, year int) bool {
	if b.Year != year {
		return b.Year > year
	}
	return b.Month > month
}

// HistoryPoint is one month in a keyword's timeline. Rank is nil for a month
// the keyword was not in the tracked range; months with no bucket at all do
// not appear (never interpolated or zero-filled).
type HistoryPoint struct {
	MonthName    string        `json:"monthName"`
	Rank         *int          `json:"rank"`
	WeeklyChecks []WeeklyCheck `json:"weeklyChecks"`
}

// KeywordTimelineEntry is the derived per-keyword view across the whole
// tracked window. It is recomputed from MonthlyBuckets on every read.
type KeywordTimelineEntry struct {
	Keyword     string         `json:"keyword"`
	CurrentRank *int           `json:"currentRank"`
	BestRank    *int           `json:"bestRank"`
	WorstRank   *int           `json:"worstRank"`
	AverageRank float64        `json:"averageRank"`
	Trend       Trend          `json:"trend"`
	TotalChange *int           `json:"totalChange"`
	History     []HistoryPoint `json:"history"`
}

// Summary holds corpus-wide trend counts, one bucket per keyword.
type Summary struct {
	Improved  int `json:"improved"`
	Declined  int `json:"declined"`
	Unchanged int `json:"unchanged"`
	New       int `json:"new"`
	Lost      int `json:"lost"`
}

// PerformanceCategories are named, non-overlapping partitions of the keyword
// set. Counts only; membership rules live in the aggregate package.
type PerformanceCategories struct {
	TopPerformers  int `json:"topPerformers"`
	NeedAttention  int `json:"needAttention"`
	LostVisibility int `json:"lostVisibility"`
	Stable         int `json:"stable"`
}

// MonthlyStatsEntry is one month of corpus-wide stats in the read contract.
type MonthlyStatsEntry struct {
	MonthKey      string     `json:"monthKey"` // "2025-03"
	MonthName     string     `json:"monthName"`
	AverageRank   float64    `json:"averageRank"`
	TotalKeywords int        `json:"totalKeywords"`
	Stats         MonthStats `json:"stats"`
}

// MonthStats holds per-month check counts.
type MonthStats struct {
	TotalChecks int `json:"totalChecks"`
}

// Report is the read contract consumed by presentation layers. Sample keyword
// lists feed the insight rules and are excluded from the serialized shape.
type Report struct {
	Summary               Summary                `json:"summary"`
	MonthlyStats          []MonthlyStatsEntry    `json:"monthlyStats"`
	KeywordTimeline       []KeywordTimelineEntry `json:"keywordTimeline"`
	PerformanceCategories PerformanceCategories  `json:"performanceCategories"`

	TopPerformerSamples []string `json:"-"`
}

// InsightType grades an insight for presentation.
type InsightType string

const (
	InsightSuccess InsightType = "success"
	InsightWarning InsightType = "warning"
	InsightDanger  InsightType = "danger"
	InsightInfo    InsightType = "info"
)

// Insight is a rule-generated recommendation derived from aggregate state.
// Insights are a read-time projection and are never persisted.
type Insight struct {
	Type        InsightType `json:"type"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Actionable  bool        `json:"actionable"`
}

// KeywordIssue reports a keyword that could not be aggregated cleanly. The
// keyword is rendered with TrendUnknown; the rest of the report is unaffected.
type KeywordIssue struct {
	Keyword string `json:"keyword"`
	Reason  string `json:"reason"`
}

// Client is a directory entry used for linkage and repair only.
type Client struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Website string `json:"website"`
}
