package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	// Fetch outcomes: success, not_modified, failure
	FetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedtranslator_fetch_total",
			Help: "Total number of feed fetches by outcome",
		},
		[]string{"status"},
	)

	EntriesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feedtranslator_entries_created_total",
			Help: "Total number of new entries stored by the fetcher",
		},
	)

	// Tokens consumed by stage: title, content, summary
	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedtranslator_tokens_total",
			Help: "Total number of model tokens consumed",
		},
		[]string{"stage"},
	)

	CharactersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feedtranslator_characters_total",
			Help: "Total number of characters sent to translation engines",
		},
	)

	// Job outcomes: success, failure, timeout
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedtranslator_jobs_total",
			Help: "Total number of per-feed pipeline jobs by result",
		},
		[]string{"result"},
	)

	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feedtranslator_job_duration_seconds",
			Help:    "Per-feed pipeline job duration in seconds",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	CacheRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedtranslator_cache_refresh_total",
			Help: "Total number of cache refresh requests",
		},
		[]string{"kind", "result"},
	)

	// Agent calls by outcome: success, failure, rejected
	AgentRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedtranslator_agent_requests_total",
			Help: "Total number of translation/summarization agent calls",
		},
		[]string{"agent", "result"},
	)

	// 0 = closed, 1 = half-open, 2 = open
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedtranslator_circuit_breaker_state",
			Help: "Circuit breaker state per agent",
		},
		[]string{"agent"},
	)
)

// Push sends the default registry to a Prometheus Pushgateway. Used by
// one-shot CLI runs, which exit before any scrape.
func Push(ctx context.Context, gatewayURL, job string) error {
	if err := push.New(gatewayURL, job).Gatherer(prometheus.DefaultGatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}
