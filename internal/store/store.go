package store

import (
	"context"

	"github.com/seolytics/ranktrack/internal/model"
)

// BucketKey is the composite key of a MonthlyBucket and the unit of mutual
// exclusion for ingestion writes. ClientKey is the client ID when linkage is
// known at ingestion time, otherwise the normalized domain.
type BucketKey struct {
	ClientKey string
	Keyword   string
	Month     int
	Year      int
}

// BucketFilter selects buckets for the read path. Client and Domain are
// alternatives; Domain is the fallback grouping for unlinked buckets.
// From/To are inclusive period keys in "YYYY-MM" form; empty means unbounded.
type BucketFilter struct {
	Client  string
	Domain  string
	Keyword string
	From    string
	To      string
	Limit   int
}

// ApplyFunc folds an observation into the bucket under the store's upsert
// lock. existing is nil when the key has never been seen; prev is the most
// recent earlier bucket for the same (clientKey, keyword), nil if none.
type ApplyFunc func(existing, prev *model.MonthlyBucket) (model.MonthlyBucket, error)

// Store is the persistence interface for the rank engine. UpsertBucket is
// the engine's only write path and must be atomic per BucketKey: two
// concurrent upserts for the same key never create two buckets.
type Store interface {
	UpsertBucket(ctx context.Context, key BucketKey, apply ApplyFunc) (model.MonthlyBucket, error)
	FindBucket(ctx context.Context, key BucketKey) (*model.MonthlyBucket, error)
	ListBuckets(ctx context.Context, filter BucketFilter) ([]model.MonthlyBucket, error)

	// Linkage repair. ListUnlinked returns buckets with client = null;
	// LinkClient sets the client without touching rank data.
	ListUnlinked(ctx context.Context, limit int) ([]model.MonthlyBucket, error)
	LinkClient(ctx context.Context, bucketID, clientID string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// periodKey is the sortable integer form of (year, month) used by both
// drivers for prior-bucket lookup and range filtering.
func periodKey(month, year int) int {
	return year*100 + month
}
