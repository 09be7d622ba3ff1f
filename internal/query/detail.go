package query

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/freeeve/chessarchive/internal/apperr"
	"github.com/freeeve/chessarchive/internal/game"
	"github.com/freeeve/chessarchive/internal/movearchive"
	"github.com/freeeve/chessarchive/internal/movetext"
	"github.com/freeeve/chessarchive/internal/tiercache"
)

// Source says which tier supplied the move text.
type Source string

const (
	SourceNone        Source = ""
	SourcePrecomputed Source = "precomputed"
	SourceCached      Source = "cached"
	SourceExtracted   Source = "extracted"
)

// MoveTextError explains why a detail has no move text.
type MoveTextError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Detail is one game record with optional move text.
type Detail struct {
	Record        game.Record    `json:"record"`
	MoveText      *game.MoveText `json:"move_text,omitempty"`
	Source        Source         `json:"source,omitempty"`
	Elapsed       time.Duration  `json:"elapsed"`
	MoveTextError *MoveTextError `json:"move_text_error,omitempty"`
}

// state is a step of the move text lookup.
type state uint8

const (
	stateCheckPrecomputed state = iota
	stateCheckCache
	stateExtracting
	stateFound
	stateNotFound
	stateError
)

func (s state) String() string {
	switch s {
	case stateCheckPrecomputed:
		return "check_precomputed"
	case stateCheckCache:
		return "check_cache"
	case stateExtracting:
		return "extracting"
	case stateFound:
		return "found"
	case stateNotFound:
		return "not_found"
	default:
		return "error"
	}
}

// GetGameDetail returns the record for id. With includeMoveText it resolves
// move text in order: precomputed archive, cache, extraction. A missing
// record is NotFound and never triggers extraction. A move text failure does
// not fail the call; the record comes back with MoveTextError set.
func (s *Service) GetGameDetail(ctx context.Context, id int64, includeMoveText bool) (Detail, error) {
	start := time.Now()
	if id <= 0 {
		return Detail{}, apperr.Validation("id must be a positive integer")
	}

	rec, err := s.meta.Get(ctx, id)
	if err != nil {
		return Detail{}, err
	}
	s.fillOpening(rec)

	d := Detail{Record: *rec}
	if !includeMoveText {
		d.Elapsed = time.Since(start)
		return d, nil
	}

	key := moveKey(id)
	var (
		mt    game.MoveText
		cause error
	)
	st := stateCheckPrecomputed
	for st < stateFound {
		switch st {
		case stateCheckPrecomputed:
			st = stateCheckCache
			got, err := s.moves.Get(ctx, id)
			switch {
			case err == nil && !got.Empty():
				mt, d.Source, st = got, SourcePrecomputed, stateFound
			case err != nil && !errors.Is(err, movearchive.ErrNotFound):
				// The precomputed tier is an optimization; fall through.
				s.log.Warn().Err(err).Int64("game_id", id).Msg("move archive lookup failed")
			}

		case stateCheckCache:
			st = stateExtracting
			if got, ok := s.moveCache.Get(key); ok {
				mt, d.Source, st = got, SourceCached, stateFound
			}

		case stateExtracting:
			got, cached, err := s.extractMoves(ctx, key, rec)
			switch {
			case err == nil:
				mt, st = got, stateFound
				d.Source = SourceExtracted
				if cached {
					d.Source = SourceCached
				}
			case apperr.KindOf(err) == apperr.KindNotFound:
				cause, st = err, stateNotFound
			default:
				cause, st = err, stateError
			}
		}
	}

	switch st {
	case stateFound:
		d.MoveText = &mt
		s.classify(&d)
	default:
		d.MoveTextError = &MoveTextError{Kind: apperr.KindOf(cause).String(), Message: apperr.SafeMessage(cause)}
		s.log.Warn().
			Err(cause).
			Int64("game_id", id).
			Str("state", st.String()).
			Msg("move text unavailable")
	}
	d.Elapsed = time.Since(start)
	return d, nil
}

// extractMoves runs (or joins) the extraction for one game after the cache
// lookup has already missed. The caller waits at most ExtractionDeadline; the
// extraction itself keeps running and fills the cache.
func (s *Service) extractMoves(ctx context.Context, key string, rec *game.Record) (game.MoveText, bool, error) {
	if s.extractor == nil {
		return game.MoveText{}, false, apperr.NotFound("move text not available")
	}

	wctx, cancel := context.WithTimeout(ctx, s.cfg.ExtractionDeadline)
	defer cancel()

	criteria := rec.Criteria()
	mt, cached, err := s.moveCache.Load(wctx, key, func(lctx context.Context) (game.MoveText, error) {
		mt, err := s.extractor.Extract(lctx, criteria)
		if err != nil {
			return game.MoveText{}, err
		}
		if s.cfg.PersistExtracted {
			if err := s.moves.Put(lctx, mt); err != nil {
				s.log.Warn().Err(err).Int64("game_id", mt.GameID).Msg("persist extracted move text failed")
			}
		}
		return mt, nil
	})
	if err != nil && wctx.Err() != nil && errors.Is(err, wctx.Err()) {
		return game.MoveText{}, false, apperr.ExtractionTimeout("move text extraction is still running, retry shortly", err)
	}
	return mt, cached, err
}

// fillOpening names the opening from the ECO code or, failing that, leaves
// the record as stored.
func (s *Service) fillOpening(rec *game.Record) {
	if rec.Opening != "" || s.eco == nil || rec.ECO == "" {
		return
	}
	if name, ok := s.eco.Name(rec.ECO); ok {
		rec.Opening = name
	}
}

// classify fills ECO and Opening from move text when the record has neither.
func (s *Service) classify(d *Detail) {
	if s.eco == nil || d.MoveText == nil || d.Record.ECO != "" {
		return
	}
	_, sans := movetext.Normalize(d.MoveText.Text)
	if o := s.eco.Classify(sans); o != nil {
		d.Record.ECO = o.ECO
		if d.Record.Opening == "" {
			d.Record.Opening = o.Name
		}
	}
}

func moveKey(id int64) string {
	return tiercache.Fingerprint("moves", map[string]string{"id": strconv.FormatInt(id, 10)})
}
