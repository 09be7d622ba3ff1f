package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/freeeve/chessarchive/internal/app"
	"github.com/freeeve/chessarchive/internal/config"
	"github.com/freeeve/chessarchive/internal/logx"
)

var (
	configPath string
	cfg        *config.Config
	logger     zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "archivectl",
	Short: "Query the chess game archive",
	Long:  "Searches game metadata, resolves move text through the archive tiers and warms the caches.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c
		// Logs go to stderr so stdout stays machine-readable.
		logger = logx.New(logx.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Out: os.Stderr})
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ./config.yaml if present)")
	rootCmd.AddCommand(searchCmd, gameCmd, suggestCmd, prefetchCmd)
}

// openApp builds the service for one command invocation.
func openApp(ctx context.Context) (*app.App, error) {
	return app.Build(ctx, cfg, logger)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
