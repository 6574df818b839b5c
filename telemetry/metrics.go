// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	SourcesScanned    prometheus.Counter
	SourcesSuppressed prometheus.Counter
	BatchesFetched    prometheus.Counter
	MessagesMatched   prometheus.Counter
	WindowsFetched    prometheus.Counter
	WindowsFailed     prometheus.Counter
	RecoveryProbes    prometheus.Counter
	RecoveryHits      prometheus.Counter
	RecoveryMisses    prometheus.Counter
	FetchErrors       *prometheus.CounterVec // label: class

	// Histograms (seconds)
	ScanDuration     prometheus.Observer
	RecoveryDuration prometheus.Observer

	// Gauges
	ActiveWorkers *prometheus.GaugeVec // label: pool
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		SourcesScanned = promauto.NewCounter(prometheus.CounterOpts{Name: "chatgrep_sources_scanned_total", Help: "Number of sources whose scan completed"})
		SourcesSuppressed = promauto.NewCounter(prometheus.CounterOpts{Name: "chatgrep_sources_suppressed_total", Help: "Number of sources finished without any match"})
		BatchesFetched = promauto.NewCounter(prometheus.CounterOpts{Name: "chatgrep_batches_fetched_total", Help: "Number of message batches fetched"})
		MessagesMatched = promauto.NewCounter(prometheus.CounterOpts{Name: "chatgrep_messages_matched_total", Help: "Number of messages accepted by the filter"})
		WindowsFetched = promauto.NewCounter(prometheus.CounterOpts{Name: "chatgrep_windows_fetched_total", Help: "Number of time windows fetched"})
		WindowsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "chatgrep_windows_failed_total", Help: "Number of time windows whose fetch failed"})
		RecoveryProbes = promauto.NewCounter(prometheus.CounterOpts{Name: "chatgrep_recovery_probes_total", Help: "Number of mirror existence probes issued"})
		RecoveryHits = promauto.NewCounter(prometheus.CounterOpts{Name: "chatgrep_recovery_hits_total", Help: "Number of recoveries that found a mirror"})
		RecoveryMisses = promauto.NewCounter(prometheus.CounterOpts{Name: "chatgrep_recovery_misses_total", Help: "Number of recoveries where no mirror had the content"})
		FetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatgrep_fetch_errors_total", Help: "Fetch errors that ended a source, by class"}, []string{"class"})
		ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chatgrep_scan_duration_seconds", Help: "Time to scan one source", Buckets: []float64{0.5, 1, 5, 15, 60, 300, 900}})
		RecoveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chatgrep_recovery_duration_seconds", Help: "Time to race one recovery across mirrors", Buckets: prometheus.DefBuckets})
		ActiveWorkers = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "chatgrep_active_workers", Help: "Workers currently running, by pool"}, []string{"pool"})
	})
}

// Inc increments c if metrics were initialized.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// CountFetchError records a fetch error of the given class.
func CountFetchError(class string) {
	if FetchErrors != nil {
		FetchErrors.WithLabelValues(class).Inc()
	}
}

// SetActiveWorkers records the number of busy workers in a pool.
func SetActiveWorkers(pool string, n int) {
	if ActiveWorkers != nil {
		ActiveWorkers.WithLabelValues(pool).Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
