package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/seolytics/ranktrack/internal/aggregate"
	"github.com/seolytics/ranktrack/internal/insight"
	"github.com/seolytics/ranktrack/internal/model"
	"github.com/seolytics/ranktrack/internal/store"
)

// ReportConfig controls report caching.
type ReportConfig struct {
	// CacheTTL is the lifetime of a cached report over fully closed months.
	// Default: 5m.
	CacheTTL time.Duration

	// OpenMonthTTL is the shorter lifetime used when the requested range
	// includes the current month, whose buckets still mutate. Default: 30s.
	OpenMonthTTL time.Duration

	// Now overrides the clock. Tests only.
	Now func() time.Time
}

// ReportResult bundles the read contract with its derived projections.
type ReportResult struct {
	Report   model.Report         `json:"report"`
	Insights []model.Insight      `json:"insights"`
	Issues   []model.KeywordIssue `json:"issues,omitempty"`
}

type cacheEntry struct {
	result  ReportResult
	expires time.Time
}

// Reporter assembles reports from stored buckets with a per-(filter) cache.
// Any ingestion write invalidates the whole cache: reports are cross-keyword
// aggregates, so per-key invalidation would still be wrong for summaries.
type Reporter struct {
	store store.Store
	cfg   ReportConfig

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewReporter creates a Reporter over a store.
func NewReporter(st store.Store, cfg ReportConfig) *Reporter {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.OpenMonthTTL <= 0 {
		cfg.OpenMonthTTL = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reporter{store: st, cfg: cfg, cache: make(map[string]cacheEntry)}
}

// Report builds (or returns a cached copy of) the read contract for a filter,
// plus insights and per-keyword issues.
func (r *Reporter) Report(ctx context.Context, filter store.BucketFilter) (ReportResult, error) {
	key := cacheKey(filter)
	now := r.cfg.Now()

	r.mu.Lock()
	if entry, ok := r.cache[key]; ok && now.Before(entry.expires) {
		r.mu.Unlock()
		return entry.result, nil
	}
	r.mu.Unlock()

	buckets, err := r.store.ListBuckets(ctx, filter)
	if err != nil {
		return ReportResult{}, err
	}

	report, issues := aggregate.BuildReport(buckets)
	result := ReportResult{
		Report:   report,
		Insights: insight.Generate(report),
		Issues:   issues,
	}

	ttl := r.cfg.CacheTTL
	if includesOpenMonth(filter, now) {
		ttl = r.cfg.OpenMonthTTL
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{result: result, expires: now.Add(ttl)}
	r.mu.Unlock()

	zap.L().Debug("report built",
		zap.String("filter", key),
		zap.Int("buckets", len(buckets)),
		zap.Int("issues", len(issues)),
		zap.Duration("cache_ttl", ttl),
	)
	return result, nil
}

// Invalidate drops all cached reports. Wired as an Ingestor OnWrite hook so
// a write is immediately visible to the next read.
func (r *Reporter) Invalidate(model.MonthlyBucket) {
	r.mu.Lock()
	r.cache = make(map[string]cacheEntry)
	r.mu.Unlock()
}

func cacheKey(f store.BucketFilter) string {
	return fmt.Sprintf("c=%s|d=%s|k=%s|%s..%s|l=%d", f.Client, f.Domain, f.Keyword, f.From, f.To, f.Limit)
}

// includesOpenMonth reports whether the filter range reaches the current
// month. An unbounded upper range always does.
func includesOpenMonth(f store.BucketFilter, now time.Time) bool {
	if f.To == "" {
		return true
	}
	return f.To >= now.UTC().Format("2006-01")
}
