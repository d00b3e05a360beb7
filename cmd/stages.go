package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/aminoscout/internal/pipeline"
)

var (
	triageLimit   int
	discoverLimit int
	discoverTopK  int
	extractLimit  int
)

var triageCmd = &cobra.Command{
	Use:   "triage",
	Short: "Classify new failed queries as food or junk",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "triage")
		if err != nil {
			return err
		}
		defer env.Close()
		defer env.pushMetrics()

		stats, err := env.Pipeline.Triage(ctx, limitOr(triageLimit, cfg.Pipeline.TriageLimit))
		if err != nil {
			env.Log.Error("triage failed", zap.Error(err))
			return err
		}
		return printJSON(stats)
	},
}

var candidatesCmd = &cobra.Command{
	Use:   "candidates",
	Short: "Search Crossref and PubMed for queued queries",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "candidates")
		if err != nil {
			return err
		}
		defer env.Close()
		defer env.pushMetrics()

		stats, err := env.Pipeline.GenerateCandidates(ctx,
			limitOr(discoverLimit, cfg.Pipeline.DiscoverLimit),
			limitOr(discoverTopK, cfg.Pipeline.TopK),
		)
		if err != nil {
			env.Log.Error("candidate discovery failed", zap.Error(err))
			return err
		}
		return printJSON(stats)
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract amino acid tables for queries with candidates",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "extract")
		if err != nil {
			return err
		}
		defer env.Close()
		defer env.pushMetrics()

		stats, err := env.Pipeline.Extract(ctx, limitOr(extractLimit, cfg.Pipeline.ExtractLimit))
		if err != nil {
			env.Log.Error("extraction failed", zap.Error(err))
			return err
		}
		return printJSON(stats)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run triage, candidate discovery and extraction in order",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()
		defer env.pushMetrics()

		env.Log.Info("run started")
		stats, err := env.Pipeline.Run(ctx, runLimits())
		if err != nil {
			env.Log.Error("run failed", zap.Error(err))
			_ = printJSON(stats)
			return err
		}
		env.Log.Info("run complete",
			zap.Int("queued", stats.Triage.Queued),
			zap.Int("candidates_inserted", stats.Candidates.Candidates),
			zap.Int("resolved", stats.Extract.Resolved),
			zap.Int("needs_review", stats.Extract.NeedsReview),
		)
		return printJSON(stats)
	},
}

// limitOr returns flag when it was set, else the configured default.
func limitOr(flag, configured int) int {
	if flag > 0 {
		return flag
	}
	return configured
}

func runLimits() pipeline.RunLimits {
	return pipeline.RunLimits{
		Triage:   limitOr(triageLimit, cfg.Pipeline.TriageLimit),
		Discover: limitOr(discoverLimit, cfg.Pipeline.DiscoverLimit),
		TopK:     limitOr(discoverTopK, cfg.Pipeline.TopK),
		Extract:  limitOr(extractLimit, cfg.Pipeline.ExtractLimit),
	}
}

func init() {
	triageCmd.Flags().IntVar(&triageLimit, "limit", 0, "max new queries to triage (default pipeline.triage_limit)")
	candidatesCmd.Flags().IntVar(&discoverLimit, "limit", 0, "max queued queries to search (default pipeline.discover_limit)")
	candidatesCmd.Flags().IntVar(&discoverTopK, "top-k", 0, "candidates kept per query (default pipeline.top_k)")
	extractCmd.Flags().IntVar(&extractLimit, "limit", 0, "max queries to extract (default pipeline.extract_limit)")

	runCmd.Flags().IntVar(&triageLimit, "triage-limit", 0, "max new queries to triage")
	runCmd.Flags().IntVar(&discoverLimit, "discover-limit", 0, "max queued queries to search")
	runCmd.Flags().IntVar(&discoverTopK, "top-k", 0, "candidates kept per query")
	runCmd.Flags().IntVar(&extractLimit, "extract-limit", 0, "max queries to extract")

	rootCmd.AddCommand(triageCmd, candidatesCmd, extractCmd, runCmd)
}
