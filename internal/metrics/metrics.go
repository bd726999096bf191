// Package metrics implements the Prometheus instrumentation SPEC_FULL.md's
// AMBIENT STACK calls for (module 14): one gauge/counter/histogram per
// §8-observable invariant (window suspension, queue depth, ack outcome
// mix, backoff wait, persist commit latency, DNS cache hit rate), plus
// the HTTP exposition server the teacher's own metrics package runs
// alongside its daemon.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	// WindowFreeToSend tracks, per source, whether its window counter
	// currently admits new reads (1) or is suspended (0) — §4.3/§7's
	// BackpressureSuspended condition made observable.
	WindowFreeToSend = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "logcored_source_window_free_to_send",
			Help: "1 if the source's window counter currently admits reads, 0 if suspended",
		},
		[]string{"source"},
	)

	// WindowSuspendedTotal counts how many times a source's window has
	// transitioned into the suspended state.
	WindowSuspendedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logcored_source_window_suspended_total",
			Help: "Total number of times a source's window counter transitioned to suspended",
		},
		[]string{"source"},
	)

	// QueueDepth reports a destination's current FIFO occupancy.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "logcored_destination_queue_depth",
			Help: "Current number of entries queued for a destination",
		},
		[]string{"destination"},
	)

	// AckOutcomesTotal counts every terminal AckRecord resolution by
	// outcome (processed/suspended/aborted), per §4.6's three-outcome
	// model.
	AckOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logcored_ack_outcomes_total",
			Help: "Total number of resolved AckRecords by outcome",
		},
		[]string{"outcome"},
	)

	// DeliveryAttemptsTotal counts every destination delivery attempt by
	// its per-attempt outcome (success/retry/drop/disconnect).
	DeliveryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logcored_delivery_attempts_total",
			Help: "Total number of delivery attempts by outcome",
		},
		[]string{"destination", "outcome"},
	)

	// BackoffWaitSeconds observes the wait duration a destination slept
	// for before its next retry.
	BackoffWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "logcored_backoff_wait_seconds",
			Help:    "Wait duration before a destination's next retry attempt",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"destination"},
	)

	// CircuitBreakerState reports a destination breaker's current state,
	// matching circuit.State's own iota order: 0=closed, 1=open,
	// 2=half-open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "logcored_circuit_breaker_state",
			Help: "Current circuit breaker state: 0=closed, 1=open, 2=half-open",
		},
		[]string{"destination"},
	)

	// PersistCommitDuration observes how long a persist.Store.Commit
	// call took.
	PersistCommitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "logcored_persist_commit_duration_seconds",
			Help:    "Time spent in persist.Store.Commit",
			Buckets: prometheus.DefBuckets,
		},
	)

	// DNSCacheLookupsTotal counts dnscache.Cache.Lookup calls by result
	// (hit/miss), so hit rate is derivable as hit/(hit+miss).
	DNSCacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logcored_dns_cache_lookups_total",
			Help: "Total DNS cache lookups by result",
		},
		[]string{"result"},
	)

	// ParseErrorsTotal counts messages tagged .classifier.invalid at a
	// source, per §7's "still forwarded, tagged" parse-failure handling.
	ParseErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logcored_parse_errors_total",
			Help: "Total number of messages that failed RFC parsing and were tagged invalid",
		},
		[]string{"source"},
	)
)

// RecordWindowSuspended updates the per-source window gauges when a
// source's window transitions to the suspended state.
func RecordWindowSuspended(source string) {
	WindowFreeToSend.WithLabelValues(source).Set(0)
	WindowSuspendedTotal.WithLabelValues(source).Inc()
}

// RecordWindowResumed marks a source's window as free to send again.
func RecordWindowResumed(source string) {
	WindowFreeToSend.WithLabelValues(source).Set(1)
}

// RecordAckOutcome records one resolved AckRecord's terminal outcome.
func RecordAckOutcome(outcome string) {
	AckOutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordDeliveryAttempt records one destination delivery attempt.
func RecordDeliveryAttempt(destination, outcome string) {
	DeliveryAttemptsTotal.WithLabelValues(destination, outcome).Inc()
}

// RecordBackoffWait observes the wait duration before a retry.
func RecordBackoffWait(destination string, wait time.Duration) {
	BackoffWaitSeconds.WithLabelValues(destination).Observe(wait.Seconds())
}

// RecordPersistCommit observes a Commit call's duration.
func RecordPersistCommit(d time.Duration) {
	PersistCommitDuration.Observe(d.Seconds())
}

// RecordDNSCacheLookup records a cache lookup's hit/miss result.
func RecordDNSCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	DNSCacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordParseError records a source's parse failure.
func RecordParseError(source string) {
	ParseErrorsTotal.WithLabelValues(source).Inc()
}

// Server exposes the registered collectors over HTTP, mirroring the
// teacher's own MetricsServer: a promhttp handler plus a liveness probe,
// started in a background goroutine and stopped via Shutdown.
type Server struct {
	server *http.Server
	logger *logrus.Logger
}

// NewServer builds a metrics HTTP server bound to addr. Start is
// non-blocking; call Shutdown to stop it.
func NewServer(addr string, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return &Server{
		server: &http.Server{Addr: addr, Handler: mux},
		logger: logger,
	}
}

// Start launches the HTTP listener in the background.
func (s *Server) Start() {
	s.logger.WithField("addr", s.server.Addr).Info("starting metrics server")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("metrics server error")
		}
	}()
}

// Shutdown gracefully stops the HTTP listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
