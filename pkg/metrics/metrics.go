package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PackagesTotal counts tracked packages by their Package Database
	// variant (installing/updating/restoring/installed/removing).
	PackagesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "embassyd_packages_total",
			Help: "Total number of tracked packages by database variant",
		},
		[]string{"variant"},
	)

	// MainServicesTotal counts Installed packages by their supervised
	// MainStatus (stopped/starting/running/stopping/failed).
	MainServicesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "embassyd_main_services_total",
			Help: "Total number of installed packages by main service status",
		},
		[]string{"status"},
	)

	// BrokenPackagesTotal is the size of the broken-packages set.
	BrokenPackagesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "embassyd_broken_packages_total",
			Help: "Total number of packages marked broken after a failed install",
		},
	)

	// InstallsTotal counts completed Installer.Install calls by outcome.
	InstallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embassyd_installs_total",
			Help: "Total number of package installs by outcome",
		},
		[]string{"outcome"},
	)

	InstallDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "embassyd_install_duration_seconds",
			Help:    "Time taken to install a package, from archive fetch to interface bind",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	// ReconciliationDuration/Cycles cover the boot reconciliation sweep.
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "embassyd_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation sweep in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "embassyd_reconciliation_cycles_total",
			Help: "Total number of reconciliation sweeps completed",
		},
	)

	// HealthChecksTotal counts pkg/supervisor health check outcomes.
	HealthChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embassyd_health_checks_total",
			Help: "Total number of package health checks by outcome",
		},
		[]string{"package", "outcome"},
	)

	// IngressRequestsTotal/Duration cover pkg/ingress's reverse proxy.
	IngressRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embassyd_ingress_requests_total",
			Help: "Total number of ingress requests by host and backend",
		},
		[]string{"host", "backend"},
	)

	IngressRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "embassyd_ingress_request_duration_seconds",
			Help:    "Ingress request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"host", "backend"},
	)

	// CacheHitsTotal/MissesTotal cover pkg/cache's content-addressed probe.
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "embassyd_cache_hits_total",
			Help: "Total number of content cache hits",
		},
	)

	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "embassyd_cache_misses_total",
			Help: "Total number of content cache misses",
		},
	)
)

func init() {
	prometheus.MustRegister(PackagesTotal)
	prometheus.MustRegister(MainServicesTotal)
	prometheus.MustRegister(BrokenPackagesTotal)
	prometheus.MustRegister(InstallsTotal)
	prometheus.MustRegister(InstallDuration)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(HealthChecksTotal)
	prometheus.MustRegister(IngressRequestsTotal)
	prometheus.MustRegister(IngressRequestDuration)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing an operation and recording it to a
// histogram once it completes.
type Timer struct {
	start time.Time
}

// NewTimer starts a Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the Timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
