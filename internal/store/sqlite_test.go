package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seolytics/ranktrack/internal/bucket"
	"github.com/seolytics/ranktrack/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testObs(keyword string, rank *int, checkedAt time.Time) model.Observation {
	return model.Observation{
		Domain:    "brightsmile.com",
		Keyword:   keyword,
		Rank:      rank,
		InTop100:  rank != nil,
		Source:    "serpapi",
		CheckedAt: checkedAt,
	}
}

func keyFor(obs model.Observation) BucketKey {
	return BucketKey{
		ClientKey: obs.ClientKey(),
		Keyword:   obs.Keyword,
		Month:     obs.Month(),
		Year:      obs.Year(),
	}
}

func upsertObs(t *testing.T, st Store, obs model.Observation) model.MonthlyBucket {
	t.Helper()
	b, err := st.UpsertBucket(context.Background(), keyFor(obs), func(existing, prev *model.MonthlyBucket) (model.MonthlyBucket, error) {
		return bucket.Apply(existing, prev, obs)
	})
	require.NoError(t, err)
	return b
}

func TestSQLite_UpsertBucket_CreateAndAppend(t *testing.T) {
	st := newTestSQLiteStore(t)

	first := testObs("dental implants", intp(45), time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC))
	b := upsertObs(t, st, first)
	assert.NotEmpty(t, b.ID)
	require.NotNil(t, b.Rank)
	assert.Equal(t, 45, *b.Rank)

	second := testObs("dental implants", intp(40), time.Date(2025, 1, 19, 0, 0, 0, 0, time.UTC))
	b = upsertObs(t, st, second)
	require.Len(t, b.WeeklyChecks, 2)
	require.NotNil(t, b.Rank)
	assert.Equal(t, 40, *b.Rank)

	// Still exactly one bucket for the period.
	buckets, err := st.ListBuckets(context.Background(), BucketFilter{Domain: "brightsmile.com"})
	require.NoError(t, err)
	assert.Len(t, buckets, 1)
}

func TestSQLite_UpsertBucket_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)

	obs := testObs("smile makeover", intp(15), time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	b1 := upsertObs(t, st, obs)
	b2 := upsertObs(t, st, obs)

	require.Len(t, b2.WeeklyChecks, 1)
	assert.Equal(t, *b1.Rank, *b2.Rank)
	assert.Equal(t, b1.ID, b2.ID)

	stored, err := st.FindBucket(context.Background(), keyFor(obs))
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Len(t, stored.WeeklyChecks, 1)
}

func TestSQLite_UpsertBucket_CarriesPreviousRank(t *testing.T) {
	st := newTestSQLiteStore(t)

	upsertObs(t, st, testObs("dental implants", intp(45), time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)))
	feb := upsertObs(t, st, testObs("dental implants", intp(22), time.Date(2025, 2, 5, 0, 0, 0, 0, time.UTC)))

	require.NotNil(t, feb.PreviousRank)
	assert.Equal(t, 45, *feb.PreviousRank)
	require.NotNil(t, feb.RankChange)
	assert.Equal(t, 23, *feb.RankChange)
}

func TestSQLite_UpsertBucket_PreviousRankSkipsGap(t *testing.T) {
	st := newTestSQLiteStore(t)

	// January, then March: the prior bucket is January even with February missing.
	upsertObs(t, st, testObs("veneers", intp(30), time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)))
	mar := upsertObs(t, st, testObs("veneers", intp(20), time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)))

	require.NotNil(t, mar.PreviousRank)
	assert.Equal(t, 30, *mar.PreviousRank)
}

func TestSQLite_UpsertBucket_NilRankRoundTrips(t *testing.T) {
	st := newTestSQLiteStore(t)

	obs := testObs("emergency dentist", nil, time.Date(2025, 2, 5, 0, 0, 0, 0, time.UTC))
	upsertObs(t, st, obs)

	stored, err := st.FindBucket(context.Background(), keyFor(obs))
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Nil(t, stored.Rank)
	assert.False(t, stored.InTop100)
	require.Len(t, stored.WeeklyChecks, 1)
	assert.Nil(t, stored.WeeklyChecks[0].Rank)
}

func TestSQLite_FindBucket_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	b, err := st.FindBucket(context.Background(), BucketKey{
		ClientKey: "nowhere.com", Keyword: "nothing", Month: 1, Year: 2025,
	})
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestSQLite_ListBuckets_Filters(t *testing.T) {
	st := newTestSQLiteStore(t)

	for m := 1; m <= 4; m++ {
		upsertObs(t, st, testObs("dental implants", intp(50-m), time.Date(2025, time.Month(m), 10, 0, 0, 0, 0, time.UTC)))
	}
	upsertObs(t, st, testObs("veneers", intp(9), time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)))

	all, err := st.ListBuckets(context.Background(), BucketFilter{Domain: "brightsmile.com"})
	require.NoError(t, err)
	assert.Len(t, all, 5)

	ranged, err := st.ListBuckets(context.Background(), BucketFilter{
		Domain: "brightsmile.com", From: "2025-02", To: "2025-03",
	})
	require.NoError(t, err)
	assert.Len(t, ranged, 3)

	kw, err := st.ListBuckets(context.Background(), BucketFilter{Keyword: "veneers"})
	require.NoError(t, err)
	assert.Len(t, kw, 1)
}

func TestSQLite_ListBuckets_BadRange(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.ListBuckets(context.Background(), BucketFilter{From: "03-2025"})
	assert.Error(t, err)

	_, err = st.ListBuckets(context.Background(), BucketFilter{From: "2025-04", To: "2025-01"})
	assert.Error(t, err)
}

func TestSQLite_LinkClient(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	obs := testObs("implants", intp(5), time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	b := upsertObs(t, st, obs)

	unlinked, err := st.ListUnlinked(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unlinked, 1)

	require.NoError(t, st.LinkClient(ctx, b.ID, "client-42"))

	unlinked, err = st.ListUnlinked(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unlinked)

	// Rank data untouched; reads by client now resolve.
	linked, err := st.ListBuckets(ctx, BucketFilter{Client: "client-42"})
	require.NoError(t, err)
	require.Len(t, linked, 1)
	require.NotNil(t, linked[0].Rank)
	assert.Equal(t, 5, *linked[0].Rank)
	assert.Len(t, linked[0].WeeklyChecks, 1)
}

func TestSQLite_LinkClient_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.LinkClient(context.Background(), "missing-id", "client-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLite_ClientKeySeparatesTenants(t *testing.T) {
	st := newTestSQLiteStore(t)

	// Same keyword and period on two domains: two distinct buckets.
	a := testObs("dentist near me", intp(12), time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))
	b := a
	b.Domain = "othersmile.com"
	upsertObs(t, st, a)
	upsertObs(t, st, b)

	all, err := st.ListBuckets(context.Background(), BucketFilter{Keyword: "dentist near me"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLite_UpsertBucket_SecondHandleSameKey(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "shared.db")

	open := func() *SQLiteStore {
		st, err := NewSQLite(dbPath)
		require.NoError(t, err)
		t.Cleanup(func() { st.Close() }) //nolint:errcheck
		return st
	}
	st1 := open()
	require.NoError(t, st1.Migrate(context.Background()))
	st2 := open()

	// Two store handles on one file racing the same composite key: the
	// second writer waits at BEGIN IMMEDIATE instead of failing, and both
	// checks land in the single bucket.
	first := testObs("implants", intp(20), time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC))
	second := testObs("implants", intp(15), time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC))

	errs := make(chan error, 2)
	race := func(st *SQLiteStore, obs model.Observation) {
		_, err := st.UpsertBucket(context.Background(), keyFor(obs), func(existing, prev *model.MonthlyBucket) (model.MonthlyBucket, error) {
			return bucket.Apply(existing, prev, obs)
		})
		errs <- err
	}
	go race(st1, first)
	go race(st2, second)
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	stored, err := st1.FindBucket(context.Background(), keyFor(first))
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Len(t, stored.WeeklyChecks, 2)
	require.NotNil(t, stored.Rank)
	assert.Equal(t, 15, *stored.Rank)
}

func intp(v int) *int { return &v }
