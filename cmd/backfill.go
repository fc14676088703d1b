package main

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seolytics/ranktrack/internal/db"
	"github.com/seolytics/ranktrack/internal/model"
	"github.com/seolytics/ranktrack/internal/store"
)

var (
	backfillChecksFile  string
	backfillBucketsFile string
	backfillAllowClosed bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Load historical rank data, including closed months",
	Long: `Backfill writes rank history into months that have already rolled over.

With --file, raw checks are folded through the normal ingestion path.
With --buckets, fully reconstructed monthly buckets are loaded directly;
on Postgres this lands in bulk via COPY.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if (backfillChecksFile == "") == (backfillBucketsFile == "") {
			return eris.New("exactly one of --file or --buckets is required")
		}
		if !backfillAllowClosed {
			return eris.New("backfill writes closed months; pass --allow-closed to confirm")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if backfillChecksFile != "" {
			raws, err := readChecksFile(backfillChecksFile)
			if err != nil {
				return err
			}
			result, err := newIngestor(st, true).IngestBatch(ctx, raws)
			if err != nil {
				return eris.Wrap(err, "backfill checks")
			}
			return printJSON(cmd.OutOrStdout(), result)
		}

		buckets, err := readBucketsFile(backfillBucketsFile)
		if err != nil {
			return err
		}
		loaded, err := loadBuckets(ctx, st, buckets)
		if err != nil {
			return err
		}
		zap.L().Info("backfill complete", zap.Int64("buckets", loaded))
		return printJSON(cmd.OutOrStdout(), map[string]int64{"loaded": loaded})
	},
}

func readBucketsFile(path string) ([]model.MonthlyBucket, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open buckets file %s", path)
	}
	defer f.Close() //nolint:errcheck

	var buckets []model.MonthlyBucket
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var b model.MonthlyBucket
		if err := json.Unmarshal(scanner.Bytes(), &b); err != nil {
			return nil, eris.Wrapf(err, "parse line %d", line)
		}
		if b.Domain == "" || b.Keyword == "" || b.Month < 1 || b.Month > 12 || b.Year == 0 {
			return nil, eris.Errorf("line %d: bucket is missing domain, keyword, or period", line)
		}
		buckets = append(buckets, b)
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrap(err, "read buckets file")
	}
	return buckets, nil
}

// loadBuckets lands reconstructed buckets. On Postgres the whole set goes
// through one COPY-backed bulk upsert; other drivers fall back to per-bucket
// store upserts.
func loadBuckets(ctx context.Context, st store.Store, buckets []model.MonthlyBucket) (int64, error) {
	if pg, ok := st.(*store.PostgresStore); ok {
		rows := make([][]any, 0, len(buckets))
		now := time.Now().UTC()
		for _, b := range buckets {
			id := b.ID
			if id == "" {
				id = uuid.New().String()
			}
			checksJSON, err := json.Marshal(b.WeeklyChecks)
			if err != nil {
				return 0, eris.Wrap(err, "backfill: marshal weekly checks")
			}
			rows = append(rows, []any{
				id, b.Client, b.ClientKey(), b.Domain, b.Keyword, b.KeywordID,
				b.Rank, b.InTop100, b.Difficulty, b.Location, b.LocationCode,
				b.Source, b.CheckedAt.UTC(), b.Month, b.Year,
				b.PreviousRank, b.RankChange, checksJSON, now,
			})
		}
		return db.BulkUpsert(ctx, pg.Pool(), db.UpsertConfig{
			Table: "rank_buckets",
			Columns: []string{
				"id", "client", "client_key", "domain", "keyword", "keyword_id",
				"rank", "in_top100", "difficulty", "location", "location_code",
				"source", "checked_at", "month", "year",
				"previous_rank", "rank_change", "weekly_checks", "updated_at",
			},
			ConflictKeys: []string{"client_key", "keyword", "month", "year"},
		}, rows)
	}

	var loaded int64
	for _, b := range buckets {
		key := store.BucketKey{ClientKey: b.ClientKey(), Keyword: b.Keyword, Month: b.Month, Year: b.Year}
		_, err := st.UpsertBucket(ctx, key, func(existing, prev *model.MonthlyBucket) (model.MonthlyBucket, error) {
			if existing != nil {
				b.ID = existing.ID
			}
			return b, nil
		})
		if err != nil {
			return loaded, eris.Wrapf(err, "backfill: load bucket %s/%s %d-%02d", b.ClientKey(), b.Keyword, b.Year, b.Month)
		}
		loaded++
	}
	return loaded, nil
}

func init() {
	backfillCmd.Flags().StringVar(&backfillChecksFile, "file", "", "JSON-lines file of raw checks")
	backfillCmd.Flags().StringVar(&backfillBucketsFile, "buckets", "", "JSON-lines file of reconstructed monthly buckets")
	backfillCmd.Flags().BoolVar(&backfillAllowClosed, "allow-closed", false, "confirm writing into closed months")
	rootCmd.AddCommand(backfillCmd)
}
