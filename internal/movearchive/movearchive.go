// Package movearchive stores precomputed move text keyed by game id.
package movearchive

import (
	"context"
	"errors"

	"github.com/freeeve/chessarchive/internal/game"
)

// ErrNotFound is returned when no move text is stored for a game.
var ErrNotFound = errors.New("move text not found")

// Archive is key-based get/put of move text by game id.
type Archive interface {
	Get(ctx context.Context, gameID int64) (game.MoveText, error)
	Put(ctx context.Context, mt game.MoveText) error
	Close() error
}

// Nop is an archive with nothing in it that drops writes.
type Nop struct{}

func (Nop) Get(ctx context.Context, gameID int64) (game.MoveText, error) {
	return game.MoveText{}, ErrNotFound
}

func (Nop) Put(ctx context.Context, mt game.MoveText) error { return nil }

func (Nop) Close() error { return nil }
