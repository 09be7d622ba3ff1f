package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/freeeve/chessarchive/internal/query"
)

var searchFlagNames = []string{"player", "white", "black", "event", "opening", "eco", "result", "date-from", "date-to"}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "List games matching metadata filters",
	Example: `  archivectl search --player carlsen --date-from 2012.01.01 --limit 10
  archivectl search --eco B90 --result 0-1`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		f, p, err := filtersFromFlags(cmd.Flags())
		if err != nil {
			return err
		}

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		page, err := a.Query.Search(ctx, f, p)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), page)
	},
}

func init() {
	for _, name := range searchFlagNames {
		searchCmd.Flags().String(name, "", name+" filter")
	}
	searchCmd.Flags().Int("limit", 0, "page size (0 = default)")
	searchCmd.Flags().Int("offset", 0, "rows to skip")
}

// filtersFromFlags maps only the flags the user set; an unset flag stays nil
// so it does not filter.
func filtersFromFlags(fs *pflag.FlagSet) (query.Filters, query.Pagination, error) {
	opt := func(name string) *string {
		if !fs.Changed(name) {
			return nil
		}
		v, _ := fs.GetString(name)
		return &v
	}
	f := query.Filters{
		Player:   opt("player"),
		White:    opt("white"),
		Black:    opt("black"),
		Event:    opt("event"),
		Opening:  opt("opening"),
		ECO:      opt("eco"),
		Result:   opt("result"),
		DateFrom: opt("date-from"),
		DateTo:   opt("date-to"),
	}
	limit, err := fs.GetInt("limit")
	if err != nil {
		return f, query.Pagination{}, err
	}
	offset, err := fs.GetInt("offset")
	if err != nil {
		return f, query.Pagination{}, err
	}
	return f, query.Pagination{Limit: limit, Offset: offset}, nil
}
