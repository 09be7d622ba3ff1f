package search

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/freeeve/chessarchive/internal/eco"
	"github.com/freeeve/chessarchive/internal/metastore"
)

// NameCount is a raw name with its corpus frequency.
type NameCount struct {
	Name  string
	Count int
}

// Source supplies names of one entity type. Sources that do not know a type
// return nil.
type Source interface {
	Names(ctx context.Context, t EntityType) ([]NameCount, error)
}

// MetaSource reads distinct names and frequencies from the metadata store.
type MetaSource struct {
	Store   *metastore.Store
	MinFreq int
}

var entityColumns = map[EntityType]metastore.Column{
	EntityPlayer:     metastore.ColumnPlayer,
	EntityOpening:    metastore.ColumnOpening,
	EntityTournament: metastore.ColumnEvent,
}

func (s MetaSource) Names(ctx context.Context, t EntityType) ([]NameCount, error) {
	col, ok := entityColumns[t]
	if !ok {
		return nil, nil
	}
	rows, err := s.Store.NameCounts(ctx, col, s.MinFreq)
	if err != nil {
		return nil, err
	}
	out := make([]NameCount, len(rows))
	for i, r := range rows {
		out[i] = NameCount{Name: r.Name, Count: r.Count}
	}
	return out, nil
}

// ECOSource contributes every named opening from the ECO database, so
// openings absent from the metadata still show up in suggestions.
type ECOSource struct {
	DB *eco.Database
}

func (s ECOSource) Names(_ context.Context, t EntityType) ([]NameCount, error) {
	if t != EntityOpening || s.DB == nil {
		return nil, nil
	}
	names := s.DB.Names()
	out := make([]NameCount, len(names))
	for i, n := range names {
		out[i] = NameCount{Name: n}
	}
	return out, nil
}

// Builder produces a complete Index from its sources.
type Builder struct {
	Sources     []Source
	Aliases     *Aliases
	MaxDistance int
	Now         func() time.Time
}

// Build reads every source and returns a new Index. It never mutates a
// previously built Index.
func (b *Builder) Build(ctx context.Context) (*Index, error) {
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}

	var entries []Entry
	for _, t := range EntityTypes {
		merged := make(map[string]*Entry) // normalized canonical -> entry
		rawCount := make(map[string]int)  // winning raw spelling's own count
		for _, src := range b.Sources {
			names, err := src.Names(ctx, t)
			if err != nil {
				return nil, eris.Wrapf(err, "search: build %s", t)
			}
			for _, nc := range names {
				name := nc.Name
				if c, ok := b.Aliases.Resolve(t, name); ok {
					name = c
				}
				n := Normalize(name)
				if n == "" {
					continue
				}
				e, ok := merged[n]
				if !ok {
					e = &Entry{Canonical: name, Type: t, Variants: []string{n}}
					merged[n] = e
				}
				e.Frequency += nc.Count
				// The most common raw spelling becomes the display name.
				if nc.Count > rawCount[n] || (nc.Count == rawCount[n] && name < e.Canonical) {
					rawCount[n] = nc.Count
					e.Canonical = name
				}
			}
		}
		for _, e := range merged {
			e.Variants = append(e.Variants, b.Aliases.For(t, e.Canonical)...)
			sort.Strings(e.Variants[1:])
			entries = append(entries, *e)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		a, c := entries[i], entries[j]
		if a.Type != c.Type {
			return a.Type < c.Type
		}
		if a.Frequency != c.Frequency {
			return a.Frequency > c.Frequency
		}
		return a.Canonical < c.Canonical
	})

	maxDist := b.MaxDistance
	if maxDist <= 0 {
		maxDist = 2
	}
	return NewIndex(entries, maxDist, now()), nil
}

// Holder owns the live Index pointer. Rebuilds are serialized; readers load
// the current pointer without locking.
type Holder struct {
	builder *Builder
	log     zerolog.Logger
	current atomic.Pointer[Index]
	mu      sync.Mutex // serializes rebuilds

	onRebuild func(*Index)
	cron      *cron.Cron
}

// NewHolder returns a holder serving an empty index until the first Rebuild.
func NewHolder(b *Builder, log zerolog.Logger) *Holder {
	h := &Holder{builder: b, log: log.With().Str("component", "search").Logger()}
	h.current.Store(NewIndex(nil, b.MaxDistance, time.Time{}))
	return h
}

// Index returns the live index.
func (h *Holder) Index() *Index {
	return h.current.Load()
}

// Aliases returns the alias table used by the builder.
func (h *Holder) Aliases() *Aliases {
	return h.builder.Aliases
}

// OnRebuild registers fn to run after every successful swap, before Rebuild
// returns. It replaces any earlier callback.
func (h *Holder) OnRebuild(fn func(*Index)) {
	h.mu.Lock()
	h.onRebuild = fn
	h.mu.Unlock()
}

// Rebuild builds a new index and swaps it in. On failure the previous index
// keeps serving.
func (h *Holder) Rebuild(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	start := time.Now()
	idx, err := h.builder.Build(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("index rebuild failed, keeping previous index")
		return err
	}
	h.current.Store(idx)
	if h.onRebuild != nil {
		h.onRebuild(idx)
	}
	h.log.Info().
		Int("players", idx.Count(EntityPlayer)).
		Int("openings", idx.Count(EntityOpening)).
		Int("tournaments", idx.Count(EntityTournament)).
		Dur("elapsed", time.Since(start)).
		Msg("search index rebuilt")
	return nil
}

// Schedule runs Rebuild on a cron spec (e.g. "@every 24h" or "0 4 * * *")
// until StopSchedule. ctx bounds each rebuild.
func (h *Holder) Schedule(ctx context.Context, spec string) error {
	if spec == "" {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		_ = h.Rebuild(ctx)
	}); err != nil {
		return eris.Wrapf(err, "search: invalid rebuild schedule %q", spec)
	}
	c.Start()
	h.cron = c
	h.log.Info().Str("schedule", spec).Msg("index rebuild scheduled")
	return nil
}

// StopSchedule stops the cron runner and waits for a running rebuild.
func (h *Holder) StopSchedule() {
	if h.cron == nil {
		return
	}
	<-h.cron.Stop().Done()
	h.cron = nil
}
