// Package metrics defines the Prometheus metrics the proxy exports
// alongside its structured log, so the external dashboard can scrape
// a /metrics endpoint instead of (or in addition to) parsing the log
// file. Grounded directly on the teacher's metrics package, which
// registers its vectors via promauto at package-load time.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks the number of connections currently
	// being forwarded.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "modbusproxy_active_connections",
			Help: "Number of client connections currently proxied.",
		})

	// FramesTotal counts frames forwarded, by direction.
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modbusproxy_frames_total",
			Help: "Frames forwarded, labeled by direction (up/down).",
		}, []string{"direction"})

	// BytesTotal counts bytes forwarded, by direction.
	BytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modbusproxy_bytes_total",
			Help: "Bytes forwarded, labeled by direction (up/down).",
		}, []string{"direction"})

	// StrayResponseTotal counts backend responses with no matching
	// pending request.
	StrayResponseTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "modbusproxy_stray_response_total",
			Help: "Backend responses received with no matching pending request.",
		})

	// TIDMismatchTotal counts responses whose tid did not match the
	// pending head while tid_strict is on and tid_rewrite is off. Other
	// mismatches that are not rewritten count as stray responses.
	TIDMismatchTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "modbusproxy_tid_mismatch_total",
			Help: "Backend responses whose tid mismatched the pending head in strict mode.",
		})

	// TIDRewriteTotal counts responses relabeled to the pending head's tid.
	TIDRewriteTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "modbusproxy_tid_rewrite_total",
			Help: "Backend responses whose tid was rewritten to match pending.",
		})

	// UIDMismatchTotal counts uid warnings under strict_uid.
	UIDMismatchTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "modbusproxy_uid_mismatch_total",
			Help: "Responses whose unit id differed from the pending head's.",
		})

	// PendingDepthHistogram tracks the size of the pending FIFO at the
	// end of every backend-facing event.
	PendingDepthHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "modbusproxy_pending_depth",
			Help:    "Pending FIFO depth observed after each reconciliation event.",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 8, 13, 21, 34, 55},
		})

	// ConnectionDurationHistogram tracks connection lifetime in seconds.
	ConnectionDurationHistogram = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "modbusproxy_connection_duration_seconds",
			Help:    "Connection lifetime, from accept to teardown.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16),
		})
)
