package engine

import (
	"context"
	"sync"

	"github.com/seolytics/ranktrack/internal/model"
	"github.com/seolytics/ranktrack/internal/store"
)

// mockStore is an in-memory Store with failure injection for engine tests.
type mockStore struct {
	mu      sync.Mutex
	buckets map[store.BucketKey]model.MonthlyBucket

	upsertCalls int
	listCalls   int

	// failUpserts makes the next N upserts return failErr.
	failUpserts int
	failErr     error
	listErr     error
}

func newMockStore() *mockStore {
	return &mockStore{buckets: make(map[store.BucketKey]model.MonthlyBucket)}
}

func (m *mockStore) UpsertBucket(ctx context.Context, key store.BucketKey, apply store.ApplyFunc) (model.MonthlyBucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.upsertCalls++
	if m.failUpserts > 0 {
		m.failUpserts--
		return model.MonthlyBucket{}, m.failErr
	}

	var existing *model.MonthlyBucket
	if b, ok := m.buckets[key]; ok {
		cp := b
		existing = &cp
	}

	var prev *model.MonthlyBucket
	for k, b := range m.buckets {
		if k.ClientKey != key.ClientKey || k.Keyword != key.Keyword {
			continue
		}
		if k.Year*100+k.Month >= key.Year*100+key.Month {
			continue
		}
		if prev == nil || b.PeriodAfter(prev.Month, prev.Year) {
			cp := b
			prev = &cp
		}
	}

	folded, err := apply(existing, prev)
	if err != nil {
		return model.MonthlyBucket{}, err
	}
	if folded.ID == "" {
		folded.ID = "mock-bucket"
	}
	m.buckets[key] = folded
	return folded, nil
}

func (m *mockStore) FindBucket(ctx context.Context, key store.BucketKey) (*model.MonthlyBucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.buckets[key]; ok {
		cp := b
		return &cp, nil
	}
	return nil, nil
}

func (m *mockStore) ListBuckets(ctx context.Context, filter store.BucketFilter) ([]model.MonthlyBucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []model.MonthlyBucket
	for _, b := range m.buckets {
		out = append(out, b)
	}
	return out, nil
}

func (m *mockStore) ListUnlinked(ctx context.Context, limit int) ([]model.MonthlyBucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.MonthlyBucket
	for _, b := range m.buckets {
		if b.Client == nil {
			out = append(out, b)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *mockStore) LinkClient(ctx context.Context, bucketID, clientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, b := range m.buckets {
		if b.ID == bucketID {
			b.Client = &clientID
			m.buckets[k] = b
			return nil
		}
	}
	return nil
}

func (m *mockStore) Migrate(ctx context.Context) error { return nil }
func (m *mockStore) Close() error                      { return nil }
