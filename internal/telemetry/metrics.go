package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	ReportsEnqueued  = prometheus.NewCounter(prometheus.CounterOpts{Name: "reports_enqueued_total", Help: "Report jobs created"})
	ReportsCompleted = prometheus.NewCounter(prometheus.CounterOpts{Name: "reports_completed_total", Help: "Report jobs that reached COMPLETE"})
	ReportsFailed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "reports_failed_total", Help: "Report jobs that reached ERROR"})
	ReportsReclaimed = prometheus.NewCounter(prometheus.CounterOpts{Name: "reports_reclaimed_total", Help: "Stale in-progress jobs moved to ERROR"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "report_rate_limit_rejects_total", Help: "Enqueue requests rejected by rate limiter"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "reports_inflight", Help: "Report jobs being built by this process"})
	BuildDuration    = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "report_build_seconds",
		Help:    "Time from claim to terminal status",
		Buckets: prometheus.DefBuckets,
	})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			ReportsEnqueued,
			ReportsCompleted,
			ReportsFailed,
			ReportsReclaimed,
			RateLimitRejects,
			InFlightGauge,
			BuildDuration,
		)
	})
	return promhttp.Handler()
}
