package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/seolytics/ranktrack/internal/engine"
	"github.com/seolytics/ranktrack/internal/resilience"
	"github.com/seolytics/ranktrack/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.Path
		if path == "" {
			path = "ranktrack.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.Pool.MaxConns,
			MinConns: cfg.Store.Pool.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func newIngestor(st store.Store, allowClosed bool) *engine.Ingestor {
	return engine.NewIngestor(st, engine.IngestConfig{
		StoreTimeout: time.Duration(cfg.Ingest.StoreTimeoutMs) * time.Millisecond,
		Retry: resilience.FromRetryConfig(
			cfg.Ingest.MaxAttempts,
			cfg.Ingest.InitialBackoffMs,
			cfg.Ingest.MaxBackoffMs,
			cfg.Ingest.Multiplier,
			cfg.Ingest.JitterFraction,
		),
		MaxConcurrent: cfg.Ingest.MaxConcurrent,
		RatePerSecond: cfg.Ingest.RatePerSecond,
		AllowClosed:   allowClosed || cfg.Ingest.AllowClosed,
	})
}

func newReporter(st store.Store) *engine.Reporter {
	return engine.NewReporter(st, engine.ReportConfig{
		CacheTTL:     time.Duration(cfg.Report.CacheTTLSecs) * time.Second,
		OpenMonthTTL: time.Duration(cfg.Report.OpenMonthTTLSecs) * time.Second,
	})
}
