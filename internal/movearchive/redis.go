package movearchive

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/freeeve/chessarchive/internal/game"
)

// Redis keeps move text in hashes under "moves:<id>".
type Redis struct {
	rdb    *redis.Client
	prefix string
}

// OpenRedis connects to redisURL and verifies the connection.
func OpenRedis(ctx context.Context, redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, eris.Wrap(err, "movearchive: parse redis url")
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, eris.Wrap(err, "movearchive: redis ping")
	}
	return NewRedis(rdb), nil
}

// NewRedis wraps an existing client.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb, prefix: "moves:"}
}

func (r *Redis) key(gameID int64) string {
	return r.prefix + strconv.FormatInt(gameID, 10)
}

func (r *Redis) Get(ctx context.Context, gameID int64) (game.MoveText, error) {
	vals, err := r.rdb.HMGet(ctx, r.key(gameID), "text", "plies").Result()
	if errors.Is(err, redis.Nil) {
		return game.MoveText{}, ErrNotFound
	}
	if err != nil {
		return game.MoveText{}, eris.Wrapf(err, "movearchive: redis get %d", gameID)
	}
	return decodeHash(gameID, vals)
}

func decodeHash(gameID int64, vals []any) (game.MoveText, error) {
	if len(vals) != 2 || vals[0] == nil {
		return game.MoveText{}, ErrNotFound
	}
	text, ok := vals[0].(string)
	if !ok || text == "" {
		return game.MoveText{}, ErrNotFound
	}
	mt := game.MoveText{GameID: gameID, Text: text}
	if s, ok := vals[1].(string); ok {
		mt.Plies, _ = strconv.Atoi(s)
	}
	return mt, nil
}

// Put stores move text without expiry; the corpus is immutable.
func (r *Redis) Put(ctx context.Context, mt game.MoveText) error {
	err := r.rdb.HSet(ctx, r.key(mt.GameID), "text", mt.Text, "plies", mt.Plies).Err()
	if err != nil {
		return eris.Wrapf(err, "movearchive: redis put %d", mt.GameID)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
