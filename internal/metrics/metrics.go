// Package metrics holds the Prometheus instruments for pipeline jobs and the
// ops server.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rotisserie/eris"
)

const namespace = "aminoscout"

// Metrics holds every instrument on its own registry, so tests and
// concurrent jobs never collide on global registration.
//
// Metrics:
//   - aminoscout_stage_transitions_total{stage,status}
//   - aminoscout_candidates_inserted_total
//   - aminoscout_provider_failures_total{provider}
//   - aminoscout_fulltext_cache_lookups_total{result}
//   - aminoscout_http_attempts_total{host,outcome}
//   - aminoscout_facts_upserted_total
//   - aminoscout_stage_duration_seconds{stage}
type Metrics struct {
	Registry *prometheus.Registry

	StageTransitions   *prometheus.CounterVec
	CandidatesInserted prometheus.Counter
	ProviderFailures   *prometheus.CounterVec
	CacheLookups       *prometheus.CounterVec
	HTTPAttempts       *prometheus.CounterVec
	FactsUpserted      prometheus.Counter
	StageDuration      *prometheus.HistogramVec
}

// New creates and registers all instruments. withRuntime adds the Go and
// process collectors, which only make sense for the long-running server.
func New(withRuntime bool) *Metrics {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		StageTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_transitions_total",
			Help:      "Failed queries written by each stage, by resulting status.",
		}, []string{"stage", "status"}),
		CandidatesInserted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_inserted_total",
			Help:      "Paper candidates inserted after dedup.",
		}),
		ProviderFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_failures_total",
			Help:      "Literature provider searches that failed.",
		}, []string{"provider"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fulltext_cache_lookups_total",
			Help:      "Full-text cache lookups by result (hit or miss).",
		}, []string{"result"}),
		HTTPAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_attempts_total",
			Help:      "Outbound HTTP attempts by host and outcome.",
		}, []string{"host", "outcome"}),
		FactsUpserted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "facts_upserted_total",
			Help:      "Amino-acid facts written by extraction.",
		}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of one stage run.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"stage"}),
	}
}

// ObserveHTTP matches fetcher.HTTPOptions.Observe.
func (m *Metrics) ObserveHTTP(host, outcome string) {
	m.HTTPAttempts.WithLabelValues(host, outcome).Inc()
}

// ObserveCache matches fulltext.WithCacheObserver.
func (m *Metrics) ObserveCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// Transition counts one row written by stage with the given status.
func (m *Metrics) Transition(stage, status string) {
	m.StageTransitions.WithLabelValues(stage, status).Inc()
}

// TimeStage returns a func that records the elapsed time for stage.
func (m *Metrics) TimeStage(stage string) func() {
	start := time.Now()
	return func() {
		m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Push sends the registry to a Pushgateway, grouped by run id so
// consecutive batch runs do not overwrite each other.
func (m *Metrics) Push(ctx context.Context, gatewayURL, job, runID string) error {
	p := push.New(gatewayURL, job).Gatherer(m.Registry)
	if runID != "" {
		p = p.Grouping("run_id", runID)
	}
	if err := p.PushContext(ctx); err != nil {
		return eris.Wrap(err, "metrics: push")
	}
	return nil
}
