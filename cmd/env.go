package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/aminoscout/internal/classify"
	"github.com/sells-group/aminoscout/internal/discovery"
	"github.com/sells-group/aminoscout/internal/fetcher"
	"github.com/sells-group/aminoscout/internal/fulltext"
	"github.com/sells-group/aminoscout/internal/metrics"
	"github.com/sells-group/aminoscout/internal/pipeline"
	"github.com/sells-group/aminoscout/internal/store"
	"github.com/sells-group/aminoscout/pkg/crossref"
	"github.com/sells-group/aminoscout/pkg/pmc"
	"github.com/sells-group/aminoscout/pkg/pubmed"
)

// pipelineEnv holds the initialized collaborators for one command.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Metrics  *metrics.Metrics
	RunID    string
	Log      *zap.Logger

	closers []func() error
}

// Close releases the store and any cache connection.
func (e *pipelineEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("close failed", zap.Error(err))
		}
	}
}

// initPipeline validates the config for command and builds only the
// collaborators its stages touch.
func initPipeline(ctx context.Context, command string) (*pipelineEnv, error) {
	if err := cfg.Validate(command); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	env := &pipelineEnv{
		Metrics: metrics.New(true),
		RunID:   runID,
		Log:     zap.L().With(zap.String("command", command), zap.String("run_id", runID)),
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	env.Store = st
	env.closers = append(env.closers, st.Close)

	deps := pipeline.Deps{Store: st, Metrics: env.Metrics}

	needClassifier := command == "triage" || command == "run"
	needProviders := command == "candidates" || command == "run"
	needRetriever := command == "extract" || command == "run"

	var f *fetcher.HTTPFetcher
	if needProviders || needRetriever {
		f = fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:  cfg.HTTP.UserAgent,
			Timeout:    cfg.HTTP.Timeout(),
			MaxRetries: cfg.HTTP.MaxRetries,
			Backoff:    cfg.HTTP.Backoff(),
			RateDelay:  cfg.HTTP.RateLimit(),
			Observe:    env.Metrics.ObserveHTTP,
		})
	}

	if needClassifier {
		cl, err := classify.New(classify.Options{
			Strategy:            cfg.Classifier.Strategy,
			SimilarityThreshold: cfg.Classifier.SimilarityThreshold,
			LearnedThreshold:    cfg.Classifier.LearnedThreshold,
			SeedsPath:           cfg.Classifier.SeedsPath,
		}, st)
		if err != nil {
			env.Close()
			return nil, eris.Wrap(err, "init classifier")
		}
		deps.Classifier = cl
	}

	if needProviders {
		cr := crossref.NewClient(f,
			crossref.WithBaseURL(cfg.Crossref.BaseURL),
			crossref.WithMailto(cfg.Crossref.Mailto),
		)
		pm := pubmed.NewClient(f,
			pubmed.WithBaseURL(cfg.NCBI.EUtilsBaseURL),
			pubmed.WithIdentity(cfg.NCBI.Tool, cfg.NCBI.Email, cfg.NCBI.APIKey),
		)
		deps.Discoverer = discovery.NewDiscoverer(cfg.Crossref.Rows,
			discovery.NewCrossrefProvider(cr).WithLimit(cfg.Crossref.Rows),
			discovery.NewPubMedProvider(pm).WithLimit(cfg.NCBI.PubMedRetmax),
		)
	}

	if needRetriever {
		cache, err := initCache(ctx, env)
		if err != nil {
			env.Close()
			return nil, err
		}
		client := pmc.NewClient(f,
			pmc.WithIDConvURL(cfg.NCBI.IDConvBaseURL),
			pmc.WithEUtilsURL(cfg.NCBI.EUtilsBaseURL),
			pmc.WithIdentity(cfg.NCBI.Tool, cfg.NCBI.Email, cfg.NCBI.APIKey),
		)
		deps.Retriever = fulltext.NewRetriever(cache, client, fulltext.WithCacheObserver(env.Metrics.ObserveCache))
	}

	env.Pipeline = pipeline.New(cfg.Pipeline, deps)
	return env, nil
}

func initCache(ctx context.Context, env *pipelineEnv) (fulltext.Cache, error) {
	switch cfg.Cache.Backend {
	case "redis":
		rc, err := fulltext.OpenRedisCache(ctx, cfg.Cache.RedisURL, cfg.Cache.RedisPrefix)
		if err != nil {
			return nil, eris.Wrap(err, "init redis cache")
		}
		env.closers = append(env.closers, rc.Close)
		return rc, nil
	default:
		dc, err := fulltext.NewDiskCache(cfg.Cache.Dir)
		if err != nil {
			return nil, eris.Wrap(err, "init disk cache")
		}
		return dc, nil
	}
}

// pushMetrics sends the run's metrics to the Pushgateway when one is
// configured. Failures are logged, never returned.
func (e *pipelineEnv) pushMetrics() {
	if cfg.Metrics.PushgatewayURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Metrics.Push(ctx, cfg.Metrics.PushgatewayURL, cfg.Metrics.JobName, e.RunID); err != nil {
		e.Log.Warn("metrics push failed", zap.Error(err))
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
