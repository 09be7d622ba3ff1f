package main

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/freeeve/chessarchive/internal/prefetch"
)

var prefetchCmd = &cobra.Command{
	Use:   "prefetch [file]",
	Short: "Warm move text for a list of game ids",
	Long:  "Reads one game id per line from file (or stdin) and resolves each game's move text, extracting from the archive where needed.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var in io.Reader = cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return eris.Wrap(err, "prefetch: open id list")
			}
			defer f.Close()
			in = f
		}
		ids, err := prefetch.ReadIDs(in)
		if err != nil {
			return err
		}

		workers, _ := cmd.Flags().GetInt("workers")

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		w := prefetch.NewWorker(prefetch.Config{
			Workers: workers,
			Logger:  logger.With().Str("component", "prefetch").Logger(),
		}, a.Query)
		rep, err := w.Run(ctx, ids)
		if perr := printJSON(cmd.OutOrStdout(), rep); perr != nil && err == nil {
			err = perr
		}
		return err
	},
}

func init() {
	prefetchCmd.Flags().Int("workers", 4, "concurrent lookups")
}
