package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seolytics/ranktrack/internal/model"
)

func statusBucket(domain, keyword string, month, year int, client *string) model.MonthlyBucket {
	return model.MonthlyBucket{
		ID:        domain + keyword,
		Domain:    domain,
		Keyword:   keyword,
		Month:     month,
		Year:      year,
		Client:    client,
		CheckedAt: time.Date(year, time.Month(month), 15, 0, 0, 0, 0, time.UTC),
	}
}

func TestBuildStatus(t *testing.T) {
	clientID := "client-1"
	buckets := []model.MonthlyBucket{
		statusBucket("brightsmile.com", "implants", 1, 2025, &clientID),
		statusBucket("brightsmile.com", "implants", 2, 2025, &clientID),
		statusBucket("brightsmile.com", "veneers", 2, 2025, &clientID),
		statusBucket("orphan.com", "crowns", 3, 2025, nil),
	}

	report := buildStatus(buckets)
	assert.Equal(t, 4, report.TotalBuckets)
	assert.Equal(t, 1, report.Unlinked)
	require.Len(t, report.Domains, 2)

	bs := report.Domains[0]
	assert.Equal(t, "brightsmile.com", bs.Domain)
	assert.Equal(t, 3, bs.Buckets)
	assert.Equal(t, 2, bs.Keywords)
	assert.Equal(t, []string{"2025-01", "2025-02"}, bs.Months)

	assert.Equal(t, "orphan.com", report.Domains[1].Domain)
	assert.Equal(t, []string{"2025-03"}, report.Domains[1].Months)
}

func TestBuildStatus_Empty(t *testing.T) {
	report := buildStatus(nil)
	assert.Zero(t, report.TotalBuckets)
	assert.Zero(t, report.Unlinked)
	assert.Empty(t, report.Domains)
}
