// Package metrics exposes Prometheus instruments for the ingestion pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_upstream_requests_total",
		Help: "Requests sent to upstream hosts by component and outcome.",
	}, []string{"component", "outcome"})

	UpstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ingest_upstream_request_duration_seconds",
		Help:    "Latency of upstream requests including body read.",
		Buckets: prometheus.DefBuckets,
	}, []string{"component"})

	ListingsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_listings_total",
		Help: "Listings handled by the sync engine by result (upserted, skipped, failed).",
	}, []string{"source", "result"})

	Images = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_images_total",
		Help: "Listing images by result (downloaded, skipped, failed).",
	}, []string{"result"})

	Runs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_runs_total",
		Help: "Finished ingest runs by final status.",
	}, []string{"source", "status"})

	DiscoveredEndpoints = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ingest_discovered_endpoints",
		Help: "Endpoints found by the most recent discovery per source.",
	}, []string{"source"})
)

// ObserveRequest records one upstream request.
func ObserveRequest(component string, err error, seconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	UpstreamRequests.WithLabelValues(component, outcome).Inc()
	UpstreamLatency.WithLabelValues(component).Observe(seconds)
}
