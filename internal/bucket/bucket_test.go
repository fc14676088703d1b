package bucket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seolytics/ranktrack/internal/model"
)

func obsAt(keyword string, rank *int, checkedAt time.Time) model.Observation {
	return model.Observation{
		Domain:    "brightsmile.com",
		Keyword:   keyword,
		Rank:      rank,
		InTop100:  rank != nil,
		Source:    "serpapi",
		CheckedAt: checkedAt,
	}
}

func TestApply_CreatesBucket(t *testing.T) {
	checked := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	b, err := Apply(nil, nil, obsAt("smile makeover", intp(15), checked))
	require.NoError(t, err)

	assert.Equal(t, 3, b.Month)
	assert.Equal(t, 2025, b.Year)
	require.NotNil(t, b.Rank)
	assert.Equal(t, 15, *b.Rank)
	assert.True(t, b.InTop100)
	assert.Nil(t, b.PreviousRank)
	assert.Nil(t, b.RankChange)
	require.Len(t, b.WeeklyChecks, 1)
}

func TestApply_CarriesPreviousRank(t *testing.T) {
	prev := &model.MonthlyBucket{
		Keyword: "dental implants", Month: 1, Year: 2025, Rank: intp(45),
	}
	checked := time.Date(2025, 2, 5, 0, 0, 0, 0, time.UTC)
	b, err := Apply(nil, prev, obsAt("dental implants", intp(22), checked))
	require.NoError(t, err)

	require.NotNil(t, b.PreviousRank)
	assert.Equal(t, 45, *b.PreviousRank)
	require.NotNil(t, b.RankChange)
	assert.Equal(t, 23, *b.RankChange) // 45 - 22, positive = improvement
}

func TestApply_Idempotent(t *testing.T) {
	checked := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	obs := obsAt("smile makeover", intp(15), checked)

	b1, err := Apply(nil, nil, obs)
	require.NoError(t, err)
	b2, err := Apply(&b1, nil, obs)
	require.NoError(t, err)

	require.Len(t, b2.WeeklyChecks, 1)
	assert.Equal(t, *b1.Rank, *b2.Rank)
	assert.Equal(t, b1.RankChange, b2.RankChange)
}

func TestApply_RankFollowsLatestCheck(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2025, 3, d, 0, 0, 0, 0, time.UTC) }

	b, err := Apply(nil, nil, obsAt("emergency dentist", intp(20), day(15)))
	require.NoError(t, err)

	// Earlier check arrives late: order by checkedAt, rank stays at the
	// latest check's value.
	b, err = Apply(&b, nil, obsAt("emergency dentist", intp(30), day(8)))
	require.NoError(t, err)

	require.Len(t, b.WeeklyChecks, 2)
	assert.Equal(t, 8, b.WeeklyChecks[0].CheckedAt.Day())
	assert.Equal(t, 15, b.WeeklyChecks[1].CheckedAt.Day())
	require.NotNil(t, b.Rank)
	assert.Equal(t, 20, *b.Rank)
	assert.Equal(t, 15, b.CheckedAt.Day())

	b, err = Apply(&b, nil, obsAt("emergency dentist", intp(12), day(22)))
	require.NoError(t, err)
	require.NotNil(t, b.Rank)
	assert.Equal(t, 12, *b.Rank)
}

func TestApply_LatestCheckNotRanked(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2025, 3, d, 0, 0, 0, 0, time.UTC) }
	prev := &model.MonthlyBucket{Keyword: "veneers", Month: 2, Year: 2025, Rank: intp(8)}

	b, err := Apply(nil, prev, obsAt("veneers", intp(9), day(3)))
	require.NoError(t, err)
	b, err = Apply(&b, prev, obsAt("veneers", nil, day(20)))
	require.NoError(t, err)

	assert.Nil(t, b.Rank)
	assert.False(t, b.InTop100)
	assert.Nil(t, b.RankChange)
	require.NotNil(t, b.PreviousRank)
	assert.Equal(t, 8, *b.PreviousRank)
}

func TestApply_KeyMismatch(t *testing.T) {
	checked := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	b, err := Apply(nil, nil, obsAt("a", intp(1), checked))
	require.NoError(t, err)

	_, err = Apply(&b, nil, obsAt("b", intp(2), checked))
	assert.Error(t, err)

	_, err = Apply(&b, nil, obsAt("a", intp(2), checked.AddDate(0, 1, 0)))
	assert.Error(t, err)
}

func TestApply_NullClientTolerated(t *testing.T) {
	checked := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	b, err := Apply(nil, nil, obsAt("implants", intp(5), checked))
	require.NoError(t, err)
	assert.Nil(t, b.Client)
	assert.Equal(t, "brightsmile.com", b.ClientKey())

	// A later observation that knows the client fills the gap in place.
	obs := obsAt("implants", intp(5), checked.Add(time.Hour))
	client := "client-42"
	obs.Client = &client
	b, err = Apply(&b, nil, obs)
	require.NoError(t, err)
	require.NotNil(t, b.Client)
	assert.Equal(t, "client-42", b.ClientKey())
}

func TestCheckPeriod(t *testing.T) {
	now := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)

	current := obsAt("x", intp(1), time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC))
	assert.NoError(t, CheckPeriod(current, now, false))

	past := obsAt("x", intp(1), time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC))
	err := CheckPeriod(past, now, false)
	require.Error(t, err)
	assert.True(t, model.IsClosedPeriod(err))

	assert.NoError(t, CheckPeriod(past, now, true))

	lastYear := obsAt("x", intp(1), time.Date(2024, 12, 2, 0, 0, 0, 0, time.UTC))
	assert.Error(t, CheckPeriod(lastYear, now, false))
}

func intp(v int) *int { return &v }
