package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Navigation metrics
	navigationOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framestep_navigation_ops_total",
		Help: "Total frame navigation operations",
	}, []string{"op"})

	// Extraction metrics
	extractionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framestep_extractions_total",
		Help: "Total still extractions by outcome",
	}, []string{"outcome"})

	extractionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "framestep_extraction_duration_seconds",
		Help:    "Still extraction duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	}, []string{"outcome"})

	// Still cache metrics
	stillCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framestep_still_cache_lookups_total",
		Help: "Still cache lookups by result",
	}, []string{"result"})

	// Session metrics
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "framestep_sessions_active",
		Help: "Number of open frame navigation sessions",
	})

	sessionsReapedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "framestep_sessions_reaped_total",
		Help: "Sessions closed for being idle",
	})

	// Media metrics
	seekDecodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "framestep_seek_decode_duration_seconds",
		Help:    "Time spent decoding a frame for a seek",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
	})

	seekDecodeErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "framestep_seek_decode_errors_total",
		Help: "Seeks whose frame could not be decoded",
	})
)

// RecordNavigation counts a navigation operation (goto, next, previous).
func RecordNavigation(op string) {
	navigationOpsTotal.WithLabelValues(op).Inc()
}

// RecordExtraction records the outcome and duration of a still extraction.
func RecordExtraction(outcome string, duration time.Duration) {
	extractionsTotal.WithLabelValues(outcome).Inc()
	extractionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordStillCacheLookup records a cache hit, miss or error.
func RecordStillCacheLookup(result string) {
	stillCacheLookups.WithLabelValues(result).Inc()
}

// SetActiveSessions sets the number of open sessions.
func SetActiveSessions(count int) {
	sessionsActive.Set(float64(count))
}

// IncrementSessionsReaped counts a session closed by the idle reaper.
func IncrementSessionsReaped() {
	sessionsReapedTotal.Inc()
}

// RecordSeekDecode records how long a seek took to decode its frame.
func RecordSeekDecode(duration time.Duration, err error) {
	seekDecodeDuration.Observe(duration.Seconds())
	if err != nil {
		seekDecodeErrorsTotal.Inc()
	}
}
