package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/aminoscout/internal/model"
	"github.com/sells-group/aminoscout/internal/pipeline"
)

var (
	statusReviewLimit int
	statusJSON        bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue counts and the needs_review backlog",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "status")
		if err != nil {
			return err
		}
		defer env.Close()

		rep, err := env.Pipeline.Status(ctx, statusReviewLimit)
		if err != nil {
			return err
		}
		if statusJSON {
			return printJSON(rep)
		}
		return writeStatus(cmd.OutOrStdout(), rep)
	},
}

func writeStatus(out io.Writer, rep pipeline.StatusReport) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tCOUNT")
	for _, st := range model.AllStatuses {
		fmt.Fprintf(w, "%s\t%d\n", st, rep.Counts[st])
	}
	if len(rep.Review) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "ID\tQUERY\tSEEN\tNOTE")
		for _, fq := range rep.Review {
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", fq.ID, fq.NormalizedQuery, fq.SeenCount, fq.Note)
		}
	}
	return w.Flush()
}

func init() {
	statusCmd.Flags().IntVar(&statusReviewLimit, "review-limit", 20, "max needs_review rows to list")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the report as JSON")
	rootCmd.AddCommand(statusCmd)
}
