package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freeeve/chessarchive/internal/config"
	"github.com/freeeve/chessarchive/internal/game"
	"github.com/freeeve/chessarchive/internal/metastore"
	"github.com/freeeve/chessarchive/internal/movearchive"
	"github.com/freeeve/chessarchive/internal/query"
)

const mayPGN = `[Event "Norway Chess"]
[White "Magnus Carlsen"]
[Black "Viswanathan Anand"]
[Date "2013.05.08"]
[Result "1/2-1/2"]

1. e4 e5 2. Nf3 1/2-1/2
`

var recordCols = []string{"id", "white", "black", "result", "date", "round", "event", "eco", "opening", "ply_count", "partition"}

// testConfig loads a config file pointing every store at dir.
func testConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	archive := filepath.Join(dir, "archive")
	require.NoError(t, os.MkdirAll(archive, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(archive, "2013-05.pgn"), []byte(mayPGN), 0o644))

	yaml := "database:\n  retry_attempts: 1\n  retry_backoff: 1ms\n" +
		"moves:\n  driver: sqlite\n  sqlite_path: " + filepath.Join(dir, "moves.db") + "\n" +
		"archive:\n  dir: " + archive + "\n" +
		"search:\n  eco_dir: \"\"\n  rebuild_spec: \"\"\n"
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func newMockMeta(t *testing.T, cfg *config.Config) (*metastore.Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return metastore.New(mock, metaConfig(cfg, zerolog.Nop())), mock
}

func TestAssembleServesDetail(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, t.TempDir())
	meta, mock := newMockMeta(t, cfg)
	// The initial index build runs against an empty mock and fails; the
	// service still starts.
	mock.MatchExpectationsInOrder(false)

	a, err := assemble(ctx, cfg, zerolog.Nop(), meta)
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Start(ctx, ""))
	assert.Equal(t, 0, a.Names.Index().Len())

	date := time.Date(2013, 5, 8, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		mock.ExpectQuery(`FROM games WHERE id = \$1`).
			WithArgs(int64(9001)).
			WillReturnRows(pgxmock.NewRows(recordCols).
				AddRow(int64(9001), "Carlsen, Magnus", "Anand, Viswanathan", "1/2-1/2", date,
					"", "", "", "", int32(0), ""))
	}

	d, err := a.Query.GetGameDetail(ctx, 9001, true)
	require.NoError(t, err)
	require.NotNil(t, d.MoveText, "%+v", d.MoveTextError)
	assert.Equal(t, query.SourceExtracted, d.Source)
	assert.Equal(t, "1. e4 e5 2. Nf3 1/2-1/2", d.MoveText.Text)

	// Extracted move text is persisted to the sqlite store.
	stored, err := a.moves.Get(ctx, 9001)
	require.NoError(t, err)
	assert.Equal(t, game.MoveText{GameID: 9001, Text: "1. e4 e5 2. Nf3 1/2-1/2", Plies: 3}, stored)

	d, err = a.Query.GetGameDetail(ctx, 9001, true)
	require.NoError(t, err)
	assert.Equal(t, query.SourcePrecomputed, d.Source)
}

func TestAssembleBadAliasFileClosesStores(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Search.AliasFile = filepath.Join(t.TempDir(), "missing.tsv")
	meta, mock := newMockMeta(t, cfg)
	mock.ExpectClose()

	_, err := assemble(context.Background(), cfg, zerolog.Nop(), meta)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet(), "metadata pool not closed")
}

func TestBuildRejectsBadDatabaseURL(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Database.URL = "postgres://localhost:badport/db"

	_, err := Build(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
}

func TestOpenMoves(t *testing.T) {
	ctx := context.Background()

	for _, driver := range []string{"none", ""} {
		m, err := openMoves(ctx, config.MovesConfig{Driver: driver})
		require.NoError(t, err)
		assert.IsType(t, movearchive.Nop{}, m)
	}

	m, err := openMoves(ctx, config.MovesConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "m.db")})
	require.NoError(t, err)
	assert.IsType(t, &movearchive.SQLite{}, m)
	assert.NoError(t, m.Close())

	m, err = openMoves(ctx, config.MovesConfig{Driver: "cassandra"})
	require.Error(t, err)
	assert.True(t, m == nil, "failed open must return a nil interface")

	m, err = openMoves(ctx, config.MovesConfig{Driver: "redis", RedisURL: "not-a-url"})
	require.Error(t, err)
	assert.True(t, m == nil, "failed open must return a nil interface")
}

func TestCloseZeroApp(t *testing.T) {
	var a App
	assert.NoError(t, a.Close())
}
