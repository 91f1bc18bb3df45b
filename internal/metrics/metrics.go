package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	GenerationTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ballista_generation_tokens_total",
		Help: "The total number of tokens generated across all benchmark iterations",
	})

	GenerationDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "ballista_generation_duration_seconds",
		Help: "Duration of full batched generation calls",
	})

	PerTokenLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ballista_per_token_latency_seconds",
		Help:    "Per-token generation latency samples",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
	})

	ActiveRanks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ballista_active_ranks",
		Help: "Number of live benchmark worker processes",
	})

	LaunchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ballista_launch_retries_total",
		Help: "Distributed launches retried because the master port was in use",
	})

	IterationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ballista_iterations_total",
		Help: "Benchmark iterations by outcome",
	}, []string{"outcome"})
)

// RecordGeneration records one timed generation call.
func RecordGeneration(tokens int, duration, perToken time.Duration) {
	GenerationTokensTotal.Add(float64(tokens))
	GenerationDuration.Observe(duration.Seconds())
	PerTokenLatency.Observe(perToken.Seconds())
	IterationsTotal.WithLabelValues("ok").Inc()
}

// RecordIterationError marks a failed iteration.
func RecordIterationError() {
	IterationsTotal.WithLabelValues("error").Inc()
}

// RecordLaunchRetry marks a launch retried due to a port collision.
func RecordLaunchRetry() {
	LaunchRetries.Inc()
}

// Serve exposes /metrics on addr; errors are reported through errFn since the
// listener outlives the caller.
func Serve(addr string, errFn func(error)) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil && errFn != nil {
			errFn(err)
		}
	}()
}
