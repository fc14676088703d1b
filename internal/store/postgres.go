package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/seolytics/ranktrack/internal/db"
	"github.com/seolytics/ranktrack/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot ingestion path.
var preparedStatements = map[string]string{
	"find_bucket": `SELECT ` + bucketColumns + ` FROM rank_buckets
		WHERE client_key = $1 AND keyword = $2 AND month = $3 AND year = $4`,
	"find_prior_bucket": `SELECT ` + bucketColumns + ` FROM rank_buckets
		WHERE client_key = $1 AND keyword = $2 AND (year * 100 + month) < $3
		ORDER BY year DESC, month DESC LIMIT 1`,
	"link_client": `UPDATE rank_buckets SET client = $1, updated_at = $2 WHERE id = $3`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need direct
// query access (bulk backfill).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS rank_buckets (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	client        TEXT,
	client_key    TEXT NOT NULL,
	domain        TEXT NOT NULL,
	keyword       TEXT NOT NULL,
	keyword_id    TEXT,
	rank          INTEGER,
	in_top100     BOOLEAN NOT NULL DEFAULT false,
	difficulty    INTEGER,
	location      TEXT NOT NULL DEFAULT '',
	location_code INTEGER NOT NULL DEFAULT 0,
	source        TEXT NOT NULL DEFAULT '',
	checked_at    TIMESTAMPTZ NOT NULL,
	month         INTEGER NOT NULL CHECK (month BETWEEN 1 AND 12),
	year          INTEGER NOT NULL,
	previous_rank INTEGER,
	rank_change   INTEGER,
	weekly_checks JSONB NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_rank_buckets_key
	ON rank_buckets(client_key, keyword, month, year);
CREATE INDEX IF NOT EXISTS idx_rank_buckets_domain ON rank_buckets(domain);
CREATE INDEX IF NOT EXISTS idx_rank_buckets_client ON rank_buckets(client);
CREATE INDEX IF NOT EXISTS idx_rank_buckets_period ON rank_buckets(year, month);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// UpsertBucket folds inside a transaction. An existing row is locked FOR
// UPDATE so concurrent upserts for the same composite key serialize on it.
// A create/create race cannot lock a row that is not there yet, so the
// insert uses ON CONFLICT DO NOTHING: the loser detects the conflict and
// re-runs the fold against the row the winner committed, rather than
// overwriting it and dropping the winner's checks.
func (s *PostgresStore) UpsertBucket(ctx context.Context, key BucketKey, apply ApplyFunc) (model.MonthlyBucket, error) {
	// The second attempt folds onto a row that is already committed, so
	// looping further would mean the bucket keeps vanishing between
	// transactions. Treat that as a real failure.
	for attempt := 0; attempt < 3; attempt++ {
		folded, done, err := s.upsertOnce(ctx, key, apply)
		if err != nil || done {
			return folded, err
		}
	}
	return model.MonthlyBucket{}, eris.Errorf("postgres: upsert bucket %s/%s: create race did not settle", key.ClientKey, key.Keyword)
}

// upsertOnce runs one read-fold-write transaction. done=false with a nil
// error means the insert lost a create/create race and the fold must be
// re-run against the committed row.
func (s *PostgresStore) upsertOnce(ctx context.Context, key BucketKey, apply ApplyFunc) (model.MonthlyBucket, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.MonthlyBucket{}, false, eris.Wrap(err, "postgres: begin upsert")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	existing, err := scanOptionalBucket(tx.QueryRow(ctx,
		`SELECT `+bucketColumns+` FROM rank_buckets
		 WHERE client_key = $1 AND keyword = $2 AND month = $3 AND year = $4
		 FOR UPDATE`,
		key.ClientKey, key.Keyword, key.Month, key.Year,
	))
	if err != nil {
		return model.MonthlyBucket{}, false, err
	}

	prev, err := scanOptionalBucket(tx.QueryRow(ctx,
		`SELECT `+bucketColumns+` FROM rank_buckets
		 WHERE client_key = $1 AND keyword = $2 AND (year * 100 + month) < $3
		 ORDER BY year DESC, month DESC LIMIT 1`,
		key.ClientKey, key.Keyword, periodKey(key.Month, key.Year),
	))
	if err != nil {
		return model.MonthlyBucket{}, false, err
	}

	folded, err := apply(existing, prev)
	if err != nil {
		return model.MonthlyBucket{}, false, err
	}
	if folded.ID == "" {
		folded.ID = uuid.New().String()
	}

	checksJSON, err := json.Marshal(folded.WeeklyChecks)
	if err != nil {
		return model.MonthlyBucket{}, false, eris.Wrap(err, "postgres: marshal weekly checks")
	}

	if existing != nil {
		_, err = tx.Exec(ctx,
			`UPDATE rank_buckets SET
			   client = $1, keyword_id = $2, rank = $3, in_top100 = $4,
			   difficulty = $5, source = $6, checked_at = $7, previous_rank = $8,
			   rank_change = $9, weekly_checks = $10, updated_at = $11
			 WHERE id = $12`,
			folded.Client, folded.KeywordID, folded.Rank, folded.InTop100,
			folded.Difficulty, folded.Source, folded.CheckedAt.UTC(),
			folded.PreviousRank, folded.RankChange, checksJSON, time.Now().UTC(),
			existing.ID,
		)
		if err != nil {
			return model.MonthlyBucket{}, false, eris.Wrapf(err, "postgres: update bucket %s/%s", key.ClientKey, key.Keyword)
		}
		if err := tx.Commit(ctx); err != nil {
			return model.MonthlyBucket{}, false, eris.Wrap(err, "postgres: commit upsert")
		}
		folded.ID = existing.ID
		return folded, true, nil
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO rank_buckets
		 (id, client, client_key, domain, keyword, keyword_id, rank, in_top100,
		  difficulty, location, location_code, source, checked_at, month, year,
		  previous_rank, rank_change, weekly_checks, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		 ON CONFLICT (client_key, keyword, month, year) DO NOTHING`,
		folded.ID, folded.Client, key.ClientKey, folded.Domain, folded.Keyword,
		folded.KeywordID, folded.Rank, folded.InTop100, folded.Difficulty,
		folded.Location, folded.LocationCode, folded.Source, folded.CheckedAt.UTC(),
		folded.Month, folded.Year, folded.PreviousRank, folded.RankChange,
		checksJSON, time.Now().UTC(),
	)
	if err != nil {
		return model.MonthlyBucket{}, false, eris.Wrapf(err, "postgres: upsert bucket %s/%s", key.ClientKey, key.Keyword)
	}
	if tag.RowsAffected() == 0 {
		// Another writer created the bucket after our empty read.
		return model.MonthlyBucket{}, false, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return model.MonthlyBucket{}, false, eris.Wrap(err, "postgres: commit upsert")
	}
	return folded, true, nil
}

func (s *PostgresStore) FindBucket(ctx context.Context, key BucketKey) (*model.MonthlyBucket, error) {
	return scanOptionalBucket(s.pool.QueryRow(ctx,
		`SELECT `+bucketColumns+` FROM rank_buckets
		 WHERE client_key = $1 AND keyword = $2 AND month = $3 AND year = $4`,
		key.ClientKey, key.Keyword, key.Month, key.Year,
	))
}

func (s *PostgresStore) ListBuckets(ctx context.Context, filter BucketFilter) ([]model.MonthlyBucket, error) {
	from, to, err := periodBounds(filter)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + bucketColumns + ` FROM rank_buckets WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Client != "" {
		query += fmt.Sprintf(` AND client = $%d`, argIdx)
		args = append(args, filter.Client)
		argIdx++
	}
	if filter.Domain != "" {
		query += fmt.Sprintf(` AND domain = $%d`, argIdx)
		args = append(args, filter.Domain)
		argIdx++
	}
	if filter.Keyword != "" {
		query += fmt.Sprintf(` AND keyword = $%d`, argIdx)
		args = append(args, filter.Keyword)
		argIdx++
	}
	if from > 0 {
		query += fmt.Sprintf(` AND (year * 100 + month) >= $%d`, argIdx)
		args = append(args, from)
		argIdx++
	}
	if to > 0 {
		query += fmt.Sprintf(` AND (year * 100 + month) <= $%d`, argIdx)
		args = append(args, to)
		argIdx++
	}
	query += ` ORDER BY keyword, year, month`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list buckets")
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
	return buckets, eris.Wrap(rows.Err(), "postgres: list buckets iterate")
}

func (s *PostgresStore) ListUnlinked(ctx context.Context, limit int) ([]model.MonthlyBucket, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+bucketColumns+` FROM rank_buckets
		 WHERE client IS NULL ORDER BY domain, keyword, year, month LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unlinked")
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
	return buckets, eris.Wrap(rows.Err(), "postgres: list unlinked iterate")
}

func (s *PostgresStore) LinkClient(ctx context.Context, bucketID, clientID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rank_buckets SET client = $1, updated_at = $2 WHERE id = $3`,
		clientID, time.Now().UTC(), bucketID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: link client %s", bucketID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("bucket not found: %s", bucketID)
	}
	return nil
}
