package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var suggestCmd = &cobra.Command{
	Use:   "suggest <prefix>",
	Short: "Complete player, opening or tournament names",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		entityType, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.Query.Suggest(ctx, args[0], entityType, limit)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), s)
	},
}

func init() {
	suggestCmd.Flags().String("type", "", "player, opening or tournament (default all)")
	suggestCmd.Flags().Int("limit", 10, "candidates per type")
}
