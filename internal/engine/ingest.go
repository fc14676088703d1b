// Package engine orchestrates the write and read paths: normalized
// observations fold into monthly buckets through the store, and reports are
// assembled (and cached) from stored buckets.
package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/seolytics/ranktrack/internal/bucket"
	"github.com/seolytics/ranktrack/internal/model"
	"github.com/seolytics/ranktrack/internal/normalize"
	"github.com/seolytics/ranktrack/internal/resilience"
	"github.com/seolytics/ranktrack/internal/store"
)

// IngestConfig controls the ingestion path.
type IngestConfig struct {
	// StoreTimeout bounds each upsert attempt. Default: 5s.
	StoreTimeout time.Duration

	// Retry governs transient-failure retries around the store upsert.
	Retry resilience.RetryConfig

	// MaxConcurrent bounds batch fan-out. Default: 8.
	MaxConcurrent int

	// RatePerSecond throttles batch ingestion; 0 disables the limiter.
	RatePerSecond float64

	// AllowClosed permits writes into months that have already rolled over.
	// Only the backfill path sets this.
	AllowClosed bool

	// Now overrides the clock for the closed-period check. Tests only.
	Now func() time.Time
}

// Ingestor folds observations into monthly buckets.
type Ingestor struct {
	store   store.Store
	cfg     IngestConfig
	limiter *rate.Limiter

	// onWrite hooks run after every successful upsert (cache invalidation).
	onWrite []func(model.MonthlyBucket)
}

// NewIngestor creates an Ingestor over a store.
func NewIngestor(st store.Store, cfg IngestConfig) *Ingestor {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}

	return &Ingestor{store: st, cfg: cfg, limiter: limiter}
}

// OnWrite registers a hook invoked after each successful upsert. Must be
// called before ingestion starts.
func (i *Ingestor) OnWrite(fn func(model.MonthlyBucket)) {
	i.onWrite = append(i.onWrite, fn)
}

// Ingest normalizes one raw check and folds it into its monthly bucket.
// Validation and closed-period rejections return before any store access;
// store failures are retried while transient, with each attempt bounded by
// StoreTimeout.
func (i *Ingestor) Ingest(ctx context.Context, raw normalize.RawCheck) (model.MonthlyBucket, error) {
	obs, err := normalize.Observation(raw)
	if err != nil {
		return model.MonthlyBucket{}, err
	}
	if err := bucket.CheckPeriod(obs, i.cfg.Now(), i.cfg.AllowClosed); err != nil {
		return model.MonthlyBucket{}, err
	}

	if i.limiter != nil {
		if err := i.limiter.Wait(ctx); err != nil {
			return model.MonthlyBucket{}, err
		}
	}

	key := store.BucketKey{
		ClientKey: obs.ClientKey(),
		Keyword:   obs.Keyword,
		Month:     obs.Month(),
		Year:      obs.Year(),
	}

	retryCfg := i.cfg.Retry
	if retryCfg.OnRetry == nil {
		retryCfg.OnRetry = resilience.RetryLogger("store", "upsert_bucket")
	}

	folded, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (model.MonthlyBucket, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, i.cfg.StoreTimeout)
		defer cancel()

		b, err := i.store.UpsertBucket(attemptCtx, key, func(existing, prev *model.MonthlyBucket) (model.MonthlyBucket, error) {
			return bucket.Apply(existing, prev, obs)
		})
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return model.MonthlyBucket{}, &model.StoreTimeoutError{Err: err}
		}
		return b, err
	})
	if err != nil {
		return model.MonthlyBucket{}, err
	}

	for _, fn := range i.onWrite {
		fn(folded)
	}
	return folded, nil
}

// BatchIssue records one failed observation in a batch.
type BatchIssue struct {
	Index   int    `json:"index"`
	Keyword string `json:"keyword"`
	Reason  string `json:"reason"`
}

// BatchResult summarizes a batch ingestion run.
type BatchResult struct {
	Total     int          `json:"total"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Issues    []BatchIssue `json:"issues,omitempty"`
}

// IngestBatch processes raw checks concurrently with per-observation
// isolation: one failed check is recorded and skipped, never aborting the
// rest of the batch. The store upsert is atomic per composite key, so
// same-key checks landing on different workers still fold correctly.
func (i *Ingestor) IngestBatch(ctx context.Context, raws []normalize.RawCheck) (BatchResult, error) {
	result := BatchResult{Total: len(raws)}
	if len(raws) == 0 {
		zap.L().Info("batch ingest: nothing to do")
		return result, nil
	}

	zap.L().Info("batch ingest starting",
		zap.Int("checks", len(raws)),
		zap.Int("concurrency", i.cfg.MaxConcurrent),
	)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.cfg.MaxConcurrent)

	for idx, raw := range raws {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			_, err := i.Ingest(gctx, raw)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				result.Issues = append(result.Issues, BatchIssue{
					Index:   idx,
					Keyword: raw.Keyword,
					Reason:  err.Error(),
				})
				zap.L().Warn("batch ingest: check failed",
					zap.Int("index", idx),
					zap.String("keyword", raw.Keyword),
					zap.Error(err),
				)
				return nil // don't abort batch on individual failure
			}
			result.Succeeded++
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}
	sort.Slice(result.Issues, func(a, b int) bool { return result.Issues[a].Index < result.Issues[b].Index })

	zap.L().Info("batch ingest complete",
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}
