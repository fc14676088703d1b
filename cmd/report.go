package main

import (
	"encoding/json"
	"io"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/seolytics/ranktrack/internal/store"
)

var (
	reportClient   string
	reportDomain   string
	reportKeyword  string
	reportFrom     string
	reportTo       string
	reportInsights bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the aggregated rank report as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if reportClient == "" && reportDomain == "" {
			return eris.New("either --client or --domain is required")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		result, err := newReporter(st).Report(ctx, store.BucketFilter{
			Client:  reportClient,
			Domain:  reportDomain,
			Keyword: reportKeyword,
			From:    reportFrom,
			To:      reportTo,
		})
		if err != nil {
			return eris.Wrap(err, "build report")
		}

		if reportInsights {
			return printJSON(cmd.OutOrStdout(), result)
		}
		return printJSON(cmd.OutOrStdout(), result.Report)
	},
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	reportCmd.Flags().StringVar(&reportClient, "client", "", "filter by client")
	reportCmd.Flags().StringVar(&reportDomain, "domain", "", "filter by domain")
	reportCmd.Flags().StringVar(&reportKeyword, "keyword", "", "filter by keyword")
	reportCmd.Flags().StringVar(&reportFrom, "from", "", "start period (YYYY-MM)")
	reportCmd.Flags().StringVar(&reportTo, "to", "", "end period (YYYY-MM)")
	reportCmd.Flags().BoolVar(&reportInsights, "insights", false, "include insights and issues")
	rootCmd.AddCommand(reportCmd)
}
