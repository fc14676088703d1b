// Package repair reconciles buckets that were ingested before their client
// was known. Linking writes only the client column; rank history is never
// touched, so the job is safe to re-run at any time.
package repair

import (
	"context"

	"go.uber.org/zap"

	"github.com/seolytics/ranktrack/internal/model"
	"github.com/seolytics/ranktrack/internal/normalize"
	"github.com/seolytics/ranktrack/internal/store"
)

// Linker matches unlinked buckets to a client directory by normalized domain.
type Linker struct {
	store     store.Store
	batchSize int
}

// NewLinker creates a Linker reading unlinked buckets in batches.
func NewLinker(st store.Store, batchSize int) *Linker {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Linker{store: st, batchSize: batchSize}
}

// Result summarizes one reconciliation run.
type Result struct {
	Scanned   int `json:"scanned"`
	Linked    int `json:"linked"`
	Unmatched int `json:"unmatched"`
}

// Run links every unlinked bucket whose domain matches a client's website.
// Buckets with no matching client are left untouched and logged; they still
// aggregate by domain. Re-running is a no-op once everything matchable is
// linked.
func (l *Linker) Run(ctx context.Context, clients []model.Client) (Result, error) {
	byDomain := make(map[string]string, len(clients))
	for _, c := range clients {
		domain := normalize.Domain(c.Website)
		if domain == "" || c.ID == "" {
			continue
		}
		byDomain[domain] = c.ID
	}

	var result Result
	seen := make(map[string]bool)

	// Unmatched buckets stay unlinked, so a fixed page size would keep
	// returning the same front of the list. The limit grows each pass until a
	// fetch comes back short, which means every unlinked bucket was seen.
	limit := l.batchSize
	for {
		buckets, err := l.store.ListUnlinked(ctx, limit)
		if err != nil {
			return result, err
		}

		for _, b := range buckets {
			if seen[b.ID] {
				continue
			}
			seen[b.ID] = true
			result.Scanned++

			clientID, ok := byDomain[normalize.Domain(b.Domain)]
			if !ok {
				result.Unmatched++
				zap.L().Warn("no client for unlinked bucket",
					zap.String("bucket_id", b.ID),
					zap.String("domain", b.Domain),
					zap.Error(&model.LinkageInconsistency{BucketID: b.ID, Domain: b.Domain}),
				)
				continue
			}

			if err := l.store.LinkClient(ctx, b.ID, clientID); err != nil {
				return result, err
			}
			result.Linked++
		}

		if len(buckets) < limit {
			break
		}
		limit += l.batchSize
	}

	zap.L().Info("linkage repair complete",
		zap.Int("scanned", result.Scanned),
		zap.Int("linked", result.Linked),
		zap.Int("unmatched", result.Unmatched),
	)
	return result, nil
}
