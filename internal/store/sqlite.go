package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/seolytics/ranktrack/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB

	// Serializes upserts within this process. Writers from other handles
	// or processes serialize at BEGIN IMMEDIATE (see NewSQLite); the mutex
	// keeps local contention off SQLite's busy handler.
	mu sync.Mutex
}

// NewSQLite opens a SQLite database at the given path. Pragmas ride on the
// DSN so every pooled connection gets them. _txlock=immediate makes BeginTx
// take the write lock up front: a second handle upserting the same key
// waits at BEGIN (up to busy_timeout) instead of failing mid-fold.
func NewSQLite(path string) (*SQLiteStore, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	dsn := path + sep + "_txlock=immediate" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS rank_buckets (
	id            TEXT PRIMARY KEY,
	client        TEXT,
	client_key    TEXT NOT NULL,
	domain        TEXT NOT NULL,
	keyword       TEXT NOT NULL,
	keyword_id    TEXT,
	rank          INTEGER,
	in_top100     INTEGER NOT NULL DEFAULT 0,
	difficulty    INTEGER,
	location      TEXT NOT NULL DEFAULT '',
	location_code INTEGER NOT NULL DEFAULT 0,
	source        TEXT NOT NULL DEFAULT '',
	checked_at    DATETIME NOT NULL,
	month         INTEGER NOT NULL,
	year          INTEGER NOT NULL,
	previous_rank INTEGER,
	rank_change   INTEGER,
	weekly_checks TEXT NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_rank_buckets_key
	ON rank_buckets(client_key, keyword, month, year);
CREATE INDEX IF NOT EXISTS idx_rank_buckets_domain ON rank_buckets(domain);
CREATE INDEX IF NOT EXISTS idx_rank_buckets_client ON rank_buckets(client);
CREATE INDEX IF NOT EXISTS idx_rank_buckets_period ON rank_buckets(year, month);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const bucketColumns = `id, client, domain, keyword, keyword_id, rank, in_top100,
	difficulty, location, location_code, source, checked_at, month, year,
	previous_rank, rank_change, weekly_checks`

// UpsertBucket runs the fold inside a transaction so the read-modify-write
// is atomic per composite key. The unique index on (client_key, keyword,
// month, year) backstops the one-bucket invariant.
func (s *SQLiteStore) UpsertBucket(ctx context.Context, key BucketKey, apply ApplyFunc) (model.MonthlyBucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.MonthlyBucket{}, eris.Wrap(err, "sqlite: begin upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	existing, err := scanOptionalBucket(tx.QueryRowContext(ctx,
		`SELECT `+bucketColumns+` FROM rank_buckets
		 WHERE client_key = ? AND keyword = ? AND month = ? AND year = ?`,
		key.ClientKey, key.Keyword, key.Month, key.Year,
	))
	if err != nil {
		return model.MonthlyBucket{}, err
	}

	prev, err := scanOptionalBucket(tx.QueryRowContext(ctx,
		`SELECT `+bucketColumns+` FROM rank_buckets
		 WHERE client_key = ? AND keyword = ? AND (year * 100 + month) < ?
		 ORDER BY year DESC, month DESC LIMIT 1`,
		key.ClientKey, key.Keyword, periodKey(key.Month, key.Year),
	))
	if err != nil {
		return model.MonthlyBucket{}, err
	}

	folded, err := apply(existing, prev)
	if err != nil {
		return model.MonthlyBucket{}, err
	}
	if folded.ID == "" {
		folded.ID = uuid.New().String()
	}

	checksJSON, err := json.Marshal(folded.WeeklyChecks)
	if err != nil {
		return model.MonthlyBucket{}, eris.Wrap(err, "sqlite: marshal weekly checks")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO rank_buckets
		 (id, client, client_key, domain, keyword, keyword_id, rank, in_top100,
		  difficulty, location, location_code, source, checked_at, month, year,
		  previous_rank, rank_change, weekly_checks, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (client_key, keyword, month, year) DO UPDATE SET
		   rank = excluded.rank, in_top100 = excluded.in_top100,
		   difficulty = excluded.difficulty, source = excluded.source,
		   checked_at = excluded.checked_at, previous_rank = excluded.previous_rank,
		   rank_change = excluded.rank_change, client = excluded.client,
		   keyword_id = excluded.keyword_id, weekly_checks = excluded.weekly_checks,
		   updated_at = excluded.updated_at`,
		folded.ID, folded.Client, key.ClientKey, folded.Domain, folded.Keyword,
		folded.KeywordID, folded.Rank, boolToInt(folded.InTop100), folded.Difficulty,
		folded.Location, folded.LocationCode, folded.Source, folded.CheckedAt.UTC(),
		folded.Month, folded.Year, folded.PreviousRank, folded.RankChange,
		string(checksJSON), time.Now().UTC(),
	)
	if err != nil {
		return model.MonthlyBucket{}, eris.Wrapf(err, "sqlite: upsert bucket %s/%s", key.ClientKey, key.Keyword)
	}

	if err := tx.Commit(); err != nil {
		return model.MonthlyBucket{}, eris.Wrap(err, "sqlite: commit upsert")
	}
	if existing != nil {
		folded.ID = existing.ID
	}
	return folded, nil
}

func (s *SQLiteStore) FindBucket(ctx context.Context, key BucketKey) (*model.MonthlyBucket, error) {
	return scanOptionalBucket(s.db.QueryRowContext(ctx,
		`SELECT `+bucketColumns+` FROM rank_buckets
		 WHERE client_key = ? AND keyword = ? AND month = ? AND year = ?`,
		key.ClientKey, key.Keyword, key.Month, key.Year,
	))
}

func (s *SQLiteStore) ListBuckets(ctx context.Context, filter BucketFilter) ([]model.MonthlyBucket, error) {
	from, to, err := periodBounds(filter)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + bucketColumns + ` FROM rank_buckets WHERE 1=1`
	var args []any

	if filter.Client != "" {
		query += ` AND client = ?`
		args = append(args, filter.Client)
	}
	if filter.Domain != "" {
		query += ` AND domain = ?`
		args = append(args, filter.Domain)
	}
	if filter.Keyword != "" {
		query += ` AND keyword = ?`
		args = append(args, filter.Keyword)
	}
	if from > 0 {
		query += ` AND (year * 100 + month) >= ?`
		args = append(args, from)
	}
	if to > 0 {
		query += ` AND (year * 100 + month) <= ?`
		args = append(args, to)
	}
	query += ` ORDER BY keyword, year, month`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list buckets")
	}
	defer rows.Close()

	var buckets []model.MonthlyBucket
	for rows.Next() {
		b, err := scanBucket(rows)
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, *b)
	}
	return buckets, eris.Wrap(rows.Err(), "sqlite: list buckets iterate")
}

func (s *SQLiteStore) ListUnlinked(ctx context.Context, limit int) ([]model.MonthlyBucket, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bucketColumns+` FROM rank_buckets
		 WHERE client IS NULL ORDER BY domain, keyword, year, month LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unlinked")
	}
	defer rows.Close()

	var buckets []model.MonthlyBucket
	for rows.Next() {
		b, err := scanBucket(rows)
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, *b)
	}
	return buckets, eris.Wrap(rows.Err(), "sqlite: list unlinked iterate")
}

// LinkClient sets the client on one bucket. Rank data and the composite key
// are untouched; repaired buckets keep their domain-based key.
func (s *SQLiteStore) LinkClient(ctx context.Context, bucketID, clientID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE rank_buckets SET client = ?, updated_at = ? WHERE id = ?`,
		clientID, time.Now().UTC(), bucketID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: link client %s", bucketID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("bucket not found: %s", bucketID)
	}
	return nil
}

// helpers

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanBucket(row scannable) (*model.MonthlyBucket, error) {
	var (
		b            model.MonthlyBucket
		client       sql.NullString
		keywordID    sql.NullString
		rank         sql.NullInt64
		difficulty   sql.NullInt64
		previousRank sql.NullInt64
		rankChange   sql.NullInt64
		checksJSON   string
	)

	err := row.Scan(&b.ID, &client, &b.Domain, &b.Keyword, &keywordID, &rank,
		&b.InTop100, &difficulty, &b.Location, &b.LocationCode, &b.Source,
		&b.CheckedAt, &b.Month, &b.Year, &previousRank, &rankChange, &checksJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan bucket")
	}

	if client.Valid {
		b.Client = &client.String
	}
	if keywordID.Valid {
		b.KeywordID = &keywordID.String
	}
	b.Rank = nullInt(rank)
	b.Difficulty = nullInt(difficulty)
	b.PreviousRank = nullInt(previousRank)
	b.RankChange = nullInt(rankChange)

	if err := json.Unmarshal([]byte(checksJSON), &b.WeeklyChecks); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal weekly checks")
	}
	return &b, nil
}

func scanOptionalBucket(row scannable) (*model.MonthlyBucket, error) {
	b, err := scanBucket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return b, err
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
