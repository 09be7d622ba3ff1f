package main

import (
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var gameCmd = &cobra.Command{
	Use:   "game <id>",
	Short: "Show one game with its move text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return eris.Errorf("invalid game id %q", args[0])
		}
		noMoves, _ := cmd.Flags().GetBool("no-moves")

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := a.Query.GetGameDetail(ctx, id, !noMoves)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), d)
	},
}

func init() {
	gameCmd.Flags().Bool("no-moves", false, "skip move text resolution")
}
