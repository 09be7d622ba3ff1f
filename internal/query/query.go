// Package query is the entry point for archive reads. It validates and
// normalizes requests, serves listings from the metadata store and resolves
// move text through the precomputed archive, the cache and finally the
// extraction engine.
package query

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/freeeve/chessarchive/internal/eco"
	"github.com/freeeve/chessarchive/internal/extract"
	"github.com/freeeve/chessarchive/internal/game"
	"github.com/freeeve/chessarchive/internal/metastore"
	"github.com/freeeve/chessarchive/internal/movearchive"
	"github.com/freeeve/chessarchive/internal/search"
	"github.com/freeeve/chessarchive/internal/tiercache"
)

// MetaStore is the metadata store surface the service needs.
type MetaStore interface {
	Get(ctx context.Context, id int64) (*game.Record, error)
	Search(ctx context.Context, f metastore.Filter) ([]game.Record, int, error)
	Ping(ctx context.Context) error
}

// Extractor recovers move text from the flat-file archive.
type Extractor interface {
	Extract(ctx context.Context, c game.Criteria) (game.MoveText, error)
}

// Config tunes the service. Zero fields take defaults.
type Config struct {
	ExtractionDeadline time.Duration // default 25s
	DefaultPageSize    int           // default 20
	MaxPageSize        int           // default 100
	MaxSuggestions     int           // default 25
	PersistExtracted   bool
	Logger             zerolog.Logger
}

// Deps are the collaborators. Moves, Names and ECO may be nil.
type Deps struct {
	Meta      MetaStore
	Moves     movearchive.Archive
	Extractor Extractor
	MoveCache *tiercache.Manager[game.MoveText]
	PageCache *tiercache.Manager[Page]
	Names     *search.Holder
	ECO       *eco.Database
}

// Service implements search, game detail, suggestions and cache stats.
type Service struct {
	cfg       Config
	meta      MetaStore
	moves     movearchive.Archive
	extractor Extractor
	moveCache *tiercache.Manager[game.MoveText]
	pageCache *tiercache.Manager[Page]
	names     *search.Holder
	eco       *eco.Database
	validate  *validator.Validate
	log       zerolog.Logger
}

// New wires a service. A Names holder gets a rebuild hook that empties the
// page cache.
func New(d Deps, cfg Config) *Service {
	if cfg.ExtractionDeadline <= 0 {
		cfg.ExtractionDeadline = 25 * time.Second
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 20
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 100
	}
	if cfg.MaxSuggestions <= 0 {
		cfg.MaxSuggestions = 25
	}
	if d.Moves == nil {
		d.Moves = movearchive.Nop{}
	}
	if d.MoveCache == nil {
		d.MoveCache = tiercache.New[game.MoveText](tiercache.Config{Name: "moves", Logger: cfg.Logger})
	}
	if d.PageCache == nil {
		d.PageCache = tiercache.New[Page](tiercache.Config{Name: "pages", Logger: cfg.Logger})
	}
	s := &Service{
		cfg:       cfg,
		meta:      d.Meta,
		moves:     d.Moves,
		extractor: d.Extractor,
		moveCache: d.MoveCache,
		pageCache: d.PageCache,
		names:     d.Names,
		eco:       d.ECO,
		validate:  newValidator(),
		log:       cfg.Logger.With().Str("component", "query").Logger(),
	}
	if s.names != nil {
		// Cached pages hold names resolved against the index being replaced.
		s.names.OnRebuild(func(*search.Index) { s.pageCache.Clear() })
	}
	return s
}

// Health reports whether the metadata store is reachable.
func (s *Service) Health(ctx context.Context) error {
	return s.meta.Ping(ctx)
}

// CacheStats is the observability snapshot.
type CacheStats struct {
	HotSize    int               `json:"hot_size"`
	WarmSize   int               `json:"warm_size"`
	HitRate    float64           `json:"hit_rate"`
	Moves      tiercache.Stats   `json:"moves"`
	Pages      tiercache.Stats   `json:"pages"`
	Extraction *extract.Counters `json:"extraction,omitempty"`
	Index      *IndexStats       `json:"search_index,omitempty"`
}

// IndexStats describes the live search index.
type IndexStats struct {
	BuiltAt     time.Time `json:"built_at"`
	Players     int       `json:"players"`
	Openings    int       `json:"openings"`
	Tournaments int       `json:"tournaments"`
}

// CacheStats reports cache sizes and hit rates. The top-level figures
// describe the move text cache.
func (s *Service) CacheStats() CacheStats {
	moves := s.moveCache.Stats()
	out := CacheStats{
		HotSize:  moves.HotSize,
		WarmSize: moves.WarmSize,
		HitRate:  moves.HitRate,
		Moves:    moves,
		Pages:    s.pageCache.Stats(),
	}
	if c, ok := s.extractor.(interface{ Counters() extract.Counters }); ok {
		counters := c.Counters()
		out.Extraction = &counters
	}
	if s.names != nil {
		idx := s.names.Index()
		out.Index = &IndexStats{
			BuiltAt:     idx.BuiltAt(),
			Players:     idx.Count(search.EntityPlayer),
			Openings:    idx.Count(search.EntityOpening),
			Tournaments: idx.Count(search.EntityTournament),
		}
	}
	return out
}
