// Package metrics holds the Prometheus collectors for the order pipeline.
// Collectors register on a dedicated registry so tests never collide on the
// global default.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry backs the /metrics endpoint.
var Registry = prometheus.NewRegistry()

var (
	// ScrapeSessionsTotal counts finished scraping sessions.
	ScrapeSessionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "printlot_scrape_sessions_total",
			Help: "Total number of completed scraping sessions.",
		},
	)

	// AdapterRunsTotal counts per-adapter outcomes within sessions.
	AdapterRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printlot_adapter_runs_total",
			Help: "Total number of adapter runs by outcome.",
		},
		[]string{"adapter", "outcome"}, // outcome: success/failed
	)

	// VehiclesIngestedTotal counts normalized rows written per dealership.
	VehiclesIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printlot_vehicles_ingested_total",
			Help: "Total number of vehicle rows ingested.",
		},
		[]string{"dealership"},
	)

	// OrderRunsTotal counts emitted order runs by mode and final status.
	OrderRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printlot_order_runs_total",
			Help: "Total number of order runs by mode and status.",
		},
		[]string{"mode", "status"},
	)

	// QueueJobDuration observes end-to-end queue job latency.
	QueueJobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "printlot_queue_job_duration_seconds",
			Help:    "Duration of queue jobs from dequeue to final state.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	// VINLogAppendsTotal counts VIN log entries written by order type.
	VINLogAppendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printlot_vin_log_appends_total",
			Help: "Total number of VIN log entries appended.",
		},
		[]string{"order_type"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		ScrapeSessionsTotal,
		AdapterRunsTotal,
		VehiclesIngestedTotal,
		OrderRunsTotal,
		QueueJobDuration,
		VINLogAppendsTotal,
	)
}
