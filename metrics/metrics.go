package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "skyfare"

type Metrics struct {
	SearchesTotal    prometheus.Counter
	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	SnapshotsSaved   prometheus.Counter
	SnapshotsSkipped prometheus.Counter
	SessionsTotal    *prometheus.CounterVec
	CyclesSkipped    prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		SearchesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_total",
			Help:      "Aggregated searches served.",
		}),
		ProviderRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Provider queries by provider and outcome.",
		}, []string{"provider", "status"}),
		ProviderLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_seconds",
			Help:      "Provider query latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		SnapshotsSaved: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_snapshots_saved_total",
			Help:      "Price snapshots written.",
		}),
		SnapshotsSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_snapshots_skipped_total",
			Help:      "Offers skipped as fresh duplicates or invalid.",
		}),
		SessionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracking_sessions_total",
			Help:      "Tracking sessions by terminal status.",
		}, []string{"status"}),
		CyclesSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracking_cycles_skipped_total",
			Help:      "Cycle triggers skipped because a cycle was already running.",
		}),
	}
}

// Listen exposes /metrics on addr. Blocks; run it in a goroutine.
func Listen(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
