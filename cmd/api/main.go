package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/freeeve/chessarchive/internal/app"
	"github.com/freeeve/chessarchive/internal/config"
	"github.com/freeeve/chessarchive/internal/httpapi"
	"github.com/freeeve/chessarchive/internal/logx"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config file (default ./config.yaml if present)")
		addr       = flag.String("addr", "", "listen address (overrides server.addr)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		l := logx.NewLogger()
		l.Fatal().Err(err).Msg("load config")
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger := logx.New(logx.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup")
	}
	if err := a.Start(ctx, cfg.Search.RebuildSpec); err != nil {
		_ = a.Close()
		logger.Fatal().Err(err).Msg("start background jobs")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      httpapi.NewRouter(logger, a.Query, cfg.Server.Pprof),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("api server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown error")
	}
	if err := a.Close(); err != nil {
		logger.Warn().Err(err).Msg("close stores")
	}

	logger.Info().Msg("shutdown complete")
}
