package main

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/aminoscout/internal/query"
)

var logQueryCmd = &cobra.Command{
	Use:   "log-query <text...>",
	Short: "Record a search that missed the catalog",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("log-query"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return eris.Wrap(err, "init store")
		}
		defer st.Close() //nolint:errcheck

		fq, err := query.NewLogger(st).Log(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		if fq == nil {
			cmd.Println("query too short, not logged")
			return nil
		}
		cmd.Printf("logged %q (id %d, seen %d)\n", fq.NormalizedQuery, fq.ID, fq.SeenCount)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logQueryCmd)
}
