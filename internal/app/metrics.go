package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// relatedRequestsTotal counts resolutions by outcome
	// (ok, empty, not_found, unavailable, integrity, bad_request, unauthorized).
	relatedRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lineage",
		Subsystem: "related",
		Name:      "requests_total",
		Help:      "Related-change resolutions by outcome",
	}, []string{"outcome"})

	relatedDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "lineage",
		Subsystem: "related",
		Name:      "duration_seconds",
		Help:      "Time spent resolving related changes",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	relatedCandidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "lineage",
		Subsystem: "related",
		Name:      "candidates",
		Help:      "Candidate changes returned by the index per resolution",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})

	relatedStaleReloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lineage",
		Subsystem: "related",
		Name:      "stale_reloads_total",
		Help:      "Candidate changes reloaded from the store because the index lagged",
	})

	relatedDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lineage",
		Subsystem: "related",
		Name:      "dropped_total",
		Help:      "Indexed candidate changes that no longer exist in the store",
	})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lineage",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status code",
	}, []string{"route", "status"})
)

// MetricsObserver feeds per-resolution figures into Prometheus. It satisfies
// related.Observer.
type MetricsObserver struct{}

func (MetricsObserver) ObserveCandidates(n int) {
	relatedCandidates.Observe(float64(n))
}

func (MetricsObserver) ObserveReconcile(reloaded, dropped int) {
	relatedStaleReloadsTotal.Add(float64(reloaded))
	relatedDroppedTotal.Add(float64(dropped))
}
