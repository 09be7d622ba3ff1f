// Package prefetch warms the move text caches for a batch of games by
// running them through the query coordinator with a bounded worker pool.
package prefetch

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/freeeve/chessarchive/internal/apperr"
	"github.com/freeeve/chessarchive/internal/query"
)

// Detailer resolves a game with its move text.
type Detailer interface {
	GetGameDetail(ctx context.Context, id int64, includeMoveText bool) (query.Detail, error)
}

// Config configures a Worker.
type Config struct {
	Workers       int            // concurrent lookups, default 4
	ProgressEvery int            // log progress every N games, default 500
	Logger        zerolog.Logger
}

// Report summarizes one run.
type Report struct {
	Total       int            `json:"total"`
	Precomputed int            `json:"precomputed"`
	Cached      int            `json:"cached"`
	Extracted   int            `json:"extracted"`
	Missing     int            `json:"missing"`
	Failed      int            `json:"failed"`
	Errors      map[string]int `json:"errors,omitempty"`
	Elapsed     time.Duration  `json:"elapsed"`
}

// Worker fans game ids out to a pool of goroutines.
type Worker struct {
	cfg Config
	d   Detailer
	log zerolog.Logger
}

// NewWorker creates a prefetch worker.
func NewWorker(cfg Config, d Detailer) *Worker {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = 500
	}
	return &Worker{cfg: cfg, d: d, log: cfg.Logger}
}

type outcome struct {
	id     int64
	source query.Source
	kind   string
	err    error
}

// Run resolves every id. Games whose record is missing or whose move text
// cannot be found are counted, not fatal. Run stops early only when ctx ends.
func (w *Worker) Run(ctx context.Context, ids []int64) (Report, error) {
	start := time.Now()
	rep := Report{Total: len(ids), Errors: map[string]int{}}
	if len(ids) == 0 {
		return rep, nil
	}

	numWorkers := min(w.cfg.Workers, len(ids))
	w.log.Info().Int("games", len(ids)).Int("workers", numWorkers).Msg("prefetch started")

	idChan := make(chan int64, len(ids))
	resultChan := make(chan outcome, len(ids))

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range idChan {
				if ctx.Err() != nil {
					resultChan <- outcome{id: id, kind: apperr.KindOf(ctx.Err()).String(), err: ctx.Err()}
					continue
				}
				resultChan <- w.one(ctx, id)
			}
		}()
	}

	for _, id := range ids {
		idChan <- id
	}
	close(idChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	done := 0
	for res := range resultChan {
		done++
		switch {
		case res.err != nil:
			rep.Failed++
			rep.Errors[res.kind]++
			w.log.Debug().Err(res.err).Int64("game_id", res.id).Msg("prefetch lookup failed")
		case res.kind != "":
			rep.Missing++
			rep.Errors[res.kind]++
		case res.source == query.SourcePrecomputed:
			rep.Precomputed++
		case res.source == query.SourceCached:
			rep.Cached++
		default:
			rep.Extracted++
		}
		if done%w.cfg.ProgressEvery == 0 {
			w.log.Info().Int("done", done).Int("total", len(ids)).Msg("prefetch progress")
		}
	}

	rep.Elapsed = time.Since(start)
	if len(rep.Errors) == 0 {
		rep.Errors = nil
	}
	w.log.Info().
		Int("total", rep.Total).
		Int("precomputed", rep.Precomputed).
		Int("cached", rep.Cached).
		Int("extracted", rep.Extracted).
		Int("missing", rep.Missing).
		Int("failed", rep.Failed).
		Dur("elapsed", rep.Elapsed).
		Msg("prefetch finished")

	if err := ctx.Err(); err != nil {
		return rep, eris.Wrap(err, "prefetch interrupted")
	}
	return rep, nil
}

func (w *Worker) one(ctx context.Context, id int64) outcome {
	d, err := w.d.GetGameDetail(ctx, id, true)
	if err != nil {
		return outcome{id: id, kind: apperr.KindOf(err).String(), err: err}
	}
	if d.MoveTextError != nil {
		return outcome{id: id, kind: d.MoveTextError.Kind}
	}
	return outcome{id: id, source: d.Source}
}

// ReadIDs parses one game id per line. Blank lines and # comments are
// skipped.
func ReadIDs(r io.Reader) ([]int64, error) {
	var ids []int64
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil || id <= 0 {
			return nil, eris.Errorf("line %d: invalid game id %q", line, s)
		}
		ids = append(ids, id)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "read ids")
	}
	return ids, nil
}
