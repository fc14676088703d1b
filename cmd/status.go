package main

import (
	"os/signal"
	"sort"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/seolytics/ranktrack/internal/model"
	"github.com/seolytics/ranktrack/internal/store"
	"github.com/seolytics/ranktrack/internal/trend"
)

// domainStatus summarizes tracked history for one domain.
type domainStatus struct {
	Domain   string   `json:"domain"`
	Buckets  int      `json:"buckets"`
	Keywords int      `json:"keywords"`
	Months   []string `json:"months"`
}

// statusReport is the output of the status command.
type statusReport struct {
	TotalBuckets int            `json:"totalBuckets"`
	Unlinked     int            `json:"unlinked"`
	Domains      []domainStatus `json:"domains"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored rank data coverage",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		buckets, err := st.ListBuckets(ctx, store.BucketFilter{})
		if err != nil {
			return eris.Wrap(err, "list buckets")
		}

		return printJSON(cmd.OutOrStdout(), buildStatus(buckets))
	},
}

func buildStatus(buckets []model.MonthlyBucket) statusReport {
	report := statusReport{TotalBuckets: len(buckets)}

	type acc struct {
		keywords map[string]bool
		months   map[string]bool
		buckets  int
	}
	byDomain := make(map[string]*acc)
	for _, b := range buckets {
		if b.Client == nil {
			report.Unlinked++
		}
		a := byDomain[b.Domain]
		if a == nil {
			a = &acc{keywords: make(map[string]bool), months: make(map[string]bool)}
			byDomain[b.Domain] = a
		}
		a.buckets++
		a.keywords[b.Keyword] = true
		a.months[trend.MonthKey(b.Month, b.Year)] = true
	}

	domains := make([]string, 0, len(byDomain))
	for d := range byDomain {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	for _, d := range domains {
		a := byDomain[d]
		months := make([]string, 0, len(a.months))
		for m := range a.months {
			months = append(months, m)
		}
		sort.Strings(months)
		report.Domains = append(report.Domains, domainStatus{
			Domain:   d,
			Buckets:  a.buckets,
			Keywords: len(a.keywords),
			Months:   months,
		})
	}
	return report
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
