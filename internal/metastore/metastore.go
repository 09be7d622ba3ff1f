// Package metastore is the read-only adapter over the indexed game metadata
// table. Every query is parameterized, bounded by an acquire timeout and
// retried with backoff when the failure looks transient.
package metastore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/freeeve/chessarchive/internal/apperr"
	"github.com/freeeve/chessarchive/internal/game"
	"github.com/freeeve/chessarchive/internal/retry"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it in tests.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Config holds pool sizing and query budget.
type Config struct {
	URL            string
	MinConns       int32
	MaxConns       int32
	AcquireTimeout time.Duration
	Retry          retry.Config
	Logger         zerolog.Logger
}

// Store reads game records.
type Store struct {
	pool           Pool
	acquireTimeout time.Duration
	retry          retry.Config
	log            zerolog.Logger
}

// Open creates a pgx pool and verifies connectivity.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	pgxCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, eris.Wrap(err, "metastore: parse config")
	}

	maxConns := int32(16)
	minConns := int32(2)
	if cfg.MaxConns > 0 {
		maxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		minConns = cfg.MinConns
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "metastore: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "metastore: ping")
	}

	cfg.Logger.Info().
		Int32("min_conns", minConns).
		Int32("max_conns", maxConns).
		Msg("metadata store connected")

	return New(pool, cfg), nil
}

// New wraps an existing pool.
func New(pool Pool, cfg Config) *Store {
	timeout := cfg.AcquireTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	rc := cfg.Retry
	if rc.OnRetry == nil {
		rc.OnRetry = retry.Logger(cfg.Logger, "metastore")
	}
	return &Store{
		pool:           pool,
		acquireTimeout: timeout,
		retry:          rc,
		log:            cfg.Logger,
	}
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return apperr.Unavailable("metadata store unreachable", err)
	}
	return nil
}

const recordColumns = `id, white, black, result, date, COALESCE(round, ''), COALESCE(event, ''), ` +
	`COALESCE(eco, ''), COALESCE(opening, ''), COALESCE(ply_count, 0), COALESCE(partition, '')`

// Filter selects records. Zero fields are ignored.
type Filter struct {
	Player   string // matches either side
	White    string
	Black    string
	Event    string
	ECO      string
	Opening  string
	Result   game.Result
	DateFrom time.Time
	DateTo   time.Time
	Limit    int
	Offset   int
}

// Get returns one record by id.
func (s *Store) Get(ctx context.Context, id int64) (*game.Record, error) {
	return run(ctx, s, "get", func(ctx context.Context) (*game.Record, error) {
		row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM games WHERE id = $1`, id)
		rec, err := scanRecord(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(fmt.Sprintf("game %d not found", id))
		}
		if err != nil {
			return nil, eris.Wrapf(err, "metastore: get %d", id)
		}
		return rec, nil
	})
}

// Search returns one page of matching records, ordered by date descending
// then id ascending, and the total match count.
func (s *Store) Search(ctx context.Context, f Filter) ([]game.Record, int, error) {
	where, args := buildWhere(f)

	total, err := run(ctx, s, "count", func(ctx context.Context) (int, error) {
		var n int
		if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM games`+where, args...).Scan(&n); err != nil {
			return 0, eris.Wrap(err, "metastore: count")
		}
		return n, nil
	})
	if err != nil {
		return nil, 0, err
	}
	if total == 0 || f.Offset >= total {
		return []game.Record{}, total, nil
	}

	limitArg := len(args) + 1
	sql := fmt.Sprintf(`SELECT %s FROM games%s ORDER BY date DESC, id ASC LIMIT $%d OFFSET $%d`,
		recordColumns, where, limitArg, limitArg+1)
	pageArgs := append(append([]any{}, args...), f.Limit, f.Offset)

	records, err := run(ctx, s, "search", func(ctx context.Context) ([]game.Record, error) {
		rows, err := s.pool.Query(ctx, sql, pageArgs...)
		if err != nil {
			return nil, eris.Wrap(err, "metastore: search")
		}
		defer rows.Close()

		out := make([]game.Record, 0, f.Limit)
		for rows.Next() {
			rec, err := scanRecord(rows)
			if err != nil {
				return nil, eris.Wrap(err, "metastore: scan")
			}
			out = append(out, *rec)
		}
		if err := rows.Err(); err != nil {
			return nil, eris.Wrap(err, "metastore: rows")
		}
		return out, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// Column names an entity the search index is built from.
type Column uint8

const (
	ColumnPlayer Column = iota
	ColumnEvent
	ColumnOpening
)

// NameCount is a distinct name with its corpus frequency.
type NameCount struct {
	Name  string
	Count int
}

var nameCountSQL = map[Column]string{
	ColumnPlayer: `SELECT name, count(*) AS n FROM (SELECT white AS name FROM games UNION ALL SELECT black FROM games) p
		WHERE name <> '' GROUP BY name HAVING count(*) >= $1 ORDER BY name`,
	ColumnEvent: `SELECT event, count(*) AS n FROM games WHERE event <> '' GROUP BY event HAVING count(*) >= $1 ORDER BY event`,
	ColumnOpening: `SELECT opening, count(*) AS n FROM games WHERE opening <> '' GROUP BY opening HAVING count(*) >= $1 ORDER BY opening`,
}

// NameCounts streams distinct names for col with at least minFreq games.
func (s *Store) NameCounts(ctx context.Context, col Column, minFreq int) ([]NameCount, error) {
	sql, ok := nameCountSQL[col]
	if !ok {
		return nil, eris.Errorf("metastore: unknown column %d", col)
	}
	// Aggregations over the full corpus are allowed longer than a page query.
	ctx, cancel := context.WithTimeout(ctx, 30*s.acquireTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, sql, minFreq)
	if err != nil {
		return nil, classify(eris.Wrap(err, "metastore: name counts"))
	}
	defer rows.Close()

	var out []NameCount
	for rows.Next() {
		var nc NameCount
		if err := rows.Scan(&nc.Name, &nc.Count); err != nil {
			return nil, classify(eris.Wrap(err, "metastore: scan name count"))
		}
		out = append(out, nc)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(eris.Wrap(err, "metastore: name count rows"))
	}
	return out, nil
}

func buildWhere(f Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(args))))
	}

	if f.Player != "" {
		add("(white = ? OR black = ?)", f.Player)
	}
	if f.White != "" {
		add("white = ?", f.White)
	}
	if f.Black != "" {
		add("black = ?", f.Black)
	}
	if f.Event != "" {
		add("event = ?", f.Event)
	}
	if f.ECO != "" {
		add("eco = ?", f.ECO)
	}
	if f.Opening != "" {
		add("opening = ?", f.Opening)
	}
	if f.Result != game.ResultUnknown {
		add("result = ?", f.Result.String())
	}
	if !f.DateFrom.IsZero() {
		add("date >= ?", f.DateFrom)
	}
	if !f.DateTo.IsZero() {
		add("date <= ?", f.DateTo)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanRecord(row pgx.Row) (*game.Record, error) {
	var (
		rec    game.Record
		result string
		plies  int32
	)
	if err := row.Scan(&rec.ID, &rec.White, &rec.Black, &result, &rec.Date, &rec.Round, &rec.Event,
		&rec.ECO, &rec.Opening, &plies, &rec.PartitionHint); err != nil {
		return nil, err
	}
	rec.Result = game.ParseResult(result)
	rec.PlyCount = int(plies)
	return &rec, nil
}

// run executes one scoped checkout with the acquire timeout and retries.
func run[T any](ctx context.Context, s *Store, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	rc := s.retry
	rc.ShouldRetry = func(err error) bool {
		return apperr.KindOf(err) != apperr.KindNotFound && (retry.IsTransient(err) || errors.Is(err, context.DeadlineExceeded))
	}
	v, err := retry.Do(ctx, rc, func(ctx context.Context) (T, error) {
		ctx, cancel := context.WithTimeout(ctx, s.acquireTimeout)
		defer cancel()
		return fn(ctx)
	})
	if err != nil {
		var zero T
		if apperr.KindOf(err) == apperr.KindNotFound {
			return zero, err
		}
		s.log.Warn().Err(err).Str("op", op).Msg("metadata query failed")
		return zero, classify(err)
	}
	return v, nil
}

func classify(err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || retry.IsTransient(err) {
		return apperr.Unavailable("metadata store unavailable", err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return apperr.Internal("metadata query failed", err)
}
