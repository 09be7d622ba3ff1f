// Package app assembles the archive service from configuration. Both the
// HTTP server and archivectl start from here.
package app

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/freeeve/chessarchive/internal/config"
	"github.com/freeeve/chessarchive/internal/eco"
	"github.com/freeeve/chessarchive/internal/extract"
	"github.com/freeeve/chessarchive/internal/game"
	"github.com/freeeve/chessarchive/internal/metastore"
	"github.com/freeeve/chessarchive/internal/movearchive"
	"github.com/freeeve/chessarchive/internal/pgnfile"
	"github.com/freeeve/chessarchive/internal/query"
	"github.com/freeeve/chessarchive/internal/retry"
	"github.com/freeeve/chessarchive/internal/search"
	"github.com/freeeve/chessarchive/internal/tiercache"
)

// App owns every long-lived component.
type App struct {
	Query     *query.Service
	Names     *search.Holder
	Extractor *extract.Engine

	meta      *metastore.Store
	moves     movearchive.Archive
	moveCache *tiercache.Manager[game.MoveText]
	pageCache *tiercache.Manager[query.Page]
	log       zerolog.Logger
}

// Build opens the stores, discovers the archive, loads the ECO table and
// alias file, and builds the first search index. A failed index build is
// logged; the service starts with an empty index and the next rebuild
// retries.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	meta, err := metastore.Open(ctx, metaConfig(cfg, log))
	if err != nil {
		return nil, err
	}
	return assemble(ctx, cfg, log, meta)
}

func metaConfig(cfg *config.Config, log zerolog.Logger) metastore.Config {
	return metastore.Config{
		URL:            cfg.Database.URL,
		MinConns:       cfg.Database.MinConns,
		MaxConns:       cfg.Database.MaxConns,
		AcquireTimeout: cfg.Database.AcquireTimeout,
		Retry: retry.Config{
			MaxAttempts:    cfg.Database.RetryAttempts,
			InitialBackoff: cfg.Database.RetryBackoff,
			OnRetry:        retry.Logger(log, "metastore"),
		},
		Logger: log.With().Str("component", "metastore").Logger(),
	}
}

// assemble builds everything above an open metadata store. The App owns meta
// from here on and closes it on failure.
func assemble(ctx context.Context, cfg *config.Config, log zerolog.Logger, meta *metastore.Store) (*App, error) {
	a := &App{log: log, meta: meta}

	var err error
	a.moves, err = openMoves(ctx, cfg.Moves)
	if err != nil {
		a.Close()
		return nil, err
	}
	log.Info().Str("driver", cfg.Moves.Driver).Msg("move archive opened")

	aliases, err := search.LoadAliases(cfg.Search.AliasFile)
	if err != nil {
		a.Close()
		return nil, err
	}

	catalog, err := pgnfile.Discover(cfg.Archive.Dir)
	if err != nil {
		a.Close()
		return nil, eris.Wrap(err, "discover archive")
	}
	log.Info().Str("dir", cfg.Archive.Dir).Int("partitions", catalog.Len()).Msg("archive catalog loaded")

	a.Extractor = extract.New(extract.Config{
		Catalog:      catalog,
		BoundaryDays: cfg.Archive.BoundaryDays,
		Concurrency:  cfg.Archive.ScanConcurrency,
		Scan: pgnfile.ScanOptions{
			ChunkSize:    cfg.Archive.ChunkSize,
			MaxGameBytes: cfg.Archive.MaxGameBytes,
		},
		Aliases: aliases,
		Logger:  log.With().Str("component", "extract").Logger(),
	})

	var ecoDB *eco.Database
	if cfg.Search.ECODir != "" {
		ecoDB = eco.NewDatabase()
		if err := ecoDB.LoadDir(cfg.Search.ECODir); err != nil {
			log.Warn().Err(err).Str("dir", cfg.Search.ECODir).Msg("failed to load ECO database")
			ecoDB = nil
		} else {
			log.Info().Int("openings", ecoDB.Count()).Msg("ECO database loaded")
		}
	}

	sources := []search.Source{search.MetaSource{Store: meta, MinFreq: cfg.Search.MinFreq}}
	if ecoDB != nil {
		sources = append(sources, search.ECOSource{DB: ecoDB})
	}
	a.Names = search.NewHolder(&search.Builder{
		Sources:     sources,
		Aliases:     aliases,
		MaxDistance: cfg.Search.MaxDistance,
	}, log)
	if err := a.Names.Rebuild(ctx); err != nil {
		log.Warn().Err(err).Msg("initial search index build failed")
	}

	cc := cfg.Cache
	a.moveCache = tiercache.New[game.MoveText](tiercache.Config{
		Name:               "moves",
		HotCapacity:        cc.HotCapacity,
		HotTTL:             cc.HotTTL,
		WarmCapacity:       cc.WarmCapacity,
		WarmTTL:            cc.WarmTTL,
		PromotionThreshold: cc.PromotionThreshold,
		PromotionWindow:    cc.PromotionWindow,
		SweepInterval:      cc.SweepInterval,
		Logger:             log.With().Str("component", "cache").Logger(),
	})
	a.pageCache = tiercache.New[query.Page](tiercache.Config{
		Name:               "pages",
		HotCapacity:        cc.HotCapacity,
		HotTTL:             cc.HotTTL,
		WarmCapacity:       cc.PageCapacity,
		WarmTTL:            cc.PageTTL,
		PromotionThreshold: cc.PromotionThreshold,
		PromotionWindow:    cc.PromotionWindow,
		SweepInterval:      cc.SweepInterval,
		Logger:             log.With().Str("component", "cache").Logger(),
	})

	a.Query = query.New(query.Deps{
		Meta:      meta,
		Moves:     a.moves,
		Extractor: a.Extractor,
		MoveCache: a.moveCache,
		PageCache: a.pageCache,
		Names:     a.Names,
		ECO:       ecoDB,
	}, query.Config{
		ExtractionDeadline: cfg.Query.ExtractionDeadline,
		DefaultPageSize:    cfg.Query.DefaultPageSize,
		MaxPageSize:        cfg.Query.MaxPageSize,
		PersistExtracted:   cfg.Moves.PersistExtracted,
		Logger:             log.With().Str("component", "query").Logger(),
	})
	return a, nil
}

// Start launches the cache sweepers and, when rebuildSpec is set, the scheduled
// index rebuild.
func (a *App) Start(ctx context.Context, rebuildSpec string) error {
	a.moveCache.Start()
	a.pageCache.Start()
	if rebuildSpec == "" {
		return nil
	}
	return a.Names.Schedule(ctx, rebuildSpec)
}

// Close stops background work and releases the stores. It is safe on a
// partially built App.
func (a *App) Close() error {
	if a.Names != nil {
		a.Names.StopSchedule()
	}
	if a.moveCache != nil {
		a.moveCache.Stop()
	}
	if a.pageCache != nil {
		a.pageCache.Stop()
	}
	var err error
	if a.moves != nil {
		err = a.moves.Close()
	}
	if a.meta != nil {
		a.meta.Close()
	}
	return err
}

func openMoves(ctx context.Context, mc config.MovesConfig) (movearchive.Archive, error) {
	switch mc.Driver {
	case "redis":
		r, err := movearchive.OpenRedis(ctx, mc.RedisURL)
		if err != nil {
			return nil, err
		}
		return r, nil
	case "sqlite":
		s, err := movearchive.OpenSQLite(mc.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "none", "":
		return movearchive.Nop{}, nil
	default:
		return nil, eris.Errorf("unknown move archive driver %q", mc.Driver)
	}
}
