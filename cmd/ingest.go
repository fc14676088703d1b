package main

import (
	"bufio"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seolytics/ranktrack/internal/normalize"
)

var (
	ingestClient    string
	ingestDomain    string
	ingestKeyword   string
	ingestKeywordID string
	ingestRank      int
	ingestNotRanked bool
	ingestSource    string
	ingestCheckedAt string
	ingestLocation  string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a single rank check",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		raw := normalize.RawCheck{
			Client:    ingestClient,
			Domain:    ingestDomain,
			Keyword:   ingestKeyword,
			KeywordID: ingestKeywordID,
			Source:    ingestSource,
			Location:  ingestLocation,
		}
		if !ingestNotRanked {
			raw.Rank = ingestRank
		}
		if ingestCheckedAt != "" {
			ts, err := time.Parse(time.RFC3339, ingestCheckedAt)
			if err != nil {
				return eris.Wrap(err, "parse --checked-at")
			}
			raw.CheckedAt = ts
		}

		b, err := newIngestor(st, false).Ingest(ctx, raw)
		if err != nil {
			return eris.Wrap(err, "ingest")
		}

		zap.L().Info("check ingested",
			zap.String("keyword", b.Keyword),
			zap.String("domain", b.Domain),
			zap.Int("month", b.Month),
			zap.Int("year", b.Year),
			zap.Int("weekly_checks", len(b.WeeklyChecks)),
		)
		return printJSON(cmd.OutOrStdout(), b)
	},
}

var ingestBatchFile string

var ingestBatchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Ingest rank checks from a JSON-lines file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		raws, err := readChecksFile(ingestBatchFile)
		if err != nil {
			return err
		}

		result, err := newIngestor(st, false).IngestBatch(ctx, raws)
		if err != nil {
			return eris.Wrap(err, "batch ingest")
		}
		return printJSON(cmd.OutOrStdout(), result)
	},
}

// readChecksFile parses a JSON-lines file of raw checks. A malformed line is
// a hard error: partial batches are easier to reason about when the file
// itself is known-good before any write happens.
func readChecksFile(path string) ([]normalize.RawCheck, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open checks file %s", path)
	}
	defer f.Close() //nolint:errcheck

	var raws []normalize.RawCheck
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		var raw normalize.RawCheck
		if err := json.Unmarshal(text, &raw); err != nil {
			return nil, eris.Wrapf(err, "parse line %d", line)
		}
		raws = append(raws, raw)
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrap(err, "read checks file")
	}
	return raws, nil
}

func init() {
	ingestCmd.Flags().StringVar(&ingestClient, "client", "", "client identifier (optional)")
	ingestCmd.Flags().StringVar(&ingestDomain, "domain", "", "domain the keyword is tracked for")
	ingestCmd.Flags().StringVar(&ingestKeyword, "keyword", "", "keyword text")
	ingestCmd.Flags().StringVar(&ingestKeywordID, "keyword-id", "", "provider keyword ID (optional)")
	ingestCmd.Flags().IntVar(&ingestRank, "rank", 0, "rank position (1-100)")
	ingestCmd.Flags().BoolVar(&ingestNotRanked, "not-ranked", false, "keyword was outside the tracked range")
	ingestCmd.Flags().StringVar(&ingestSource, "source", "manual", "check source")
	ingestCmd.Flags().StringVar(&ingestCheckedAt, "checked-at", "", "check timestamp (RFC3339, default now)")
	ingestCmd.Flags().StringVar(&ingestLocation, "location", "", "search location (optional)")
	_ = ingestCmd.MarkFlagRequired("domain")
	_ = ingestCmd.MarkFlagRequired("keyword")

	ingestBatchCmd.Flags().StringVar(&ingestBatchFile, "file", "", "JSON-lines file of raw checks")
	_ = ingestBatchCmd.MarkFlagRequired("file")

	ingestCmd.AddCommand(ingestBatchCmd)
	rootCmd.AddCommand(ingestCmd)
}
