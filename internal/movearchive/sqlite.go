package movearchive

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rotisserie/eris"

	"github.com/freeeve/chessarchive/internal/game"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS move_text (
	game_id INTEGER PRIMARY KEY,
	text    TEXT NOT NULL,
	plies   INTEGER NOT NULL DEFAULT 0
);`

// SQLite keeps move text in a single-table sqlite file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the move text database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, eris.Wrap(err, "movearchive: open sqlite")
	}

	// WAL lets readers proceed while extracted text is written back.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "movearchive: enable WAL")
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "movearchive: create schema")
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)

	return &SQLite{db: db}, nil
}

func (s *SQLite) Get(ctx context.Context, gameID int64) (game.MoveText, error) {
	mt := game.MoveText{GameID: gameID}
	err := s.db.QueryRowContext(ctx, `SELECT text, plies FROM move_text WHERE game_id = ?`, gameID).
		Scan(&mt.Text, &mt.Plies)
	if errors.Is(err, sql.ErrNoRows) {
		return game.MoveText{}, ErrNotFound
	}
	if err != nil {
		return game.MoveText{}, eris.Wrapf(err, "movearchive: get %d", gameID)
	}
	return mt, nil
}

// Put stores move text. Existing rows are replaced; extraction is idempotent
// so a replacement carries the same text.
func (s *SQLite) Put(ctx context.Context, mt game.MoveText) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO move_text (game_id, text, plies) VALUES (?, ?, ?)
		 ON CONFLICT(game_id) DO UPDATE SET text = excluded.text, plies = excluded.plies`,
		mt.GameID, mt.Text, mt.Plies)
	if err != nil {
		return eris.Wrapf(err, "movearchive: put %d", mt.GameID)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
