/*
Package metrics exposes embassyd's Prometheus metrics and health/
readiness endpoints.

Collector periodically snapshots pkg/store into the package/main-service
gauges; everything else (install outcomes, reconciliation sweeps, health
checks, ingress requests, cache hits/misses) is recorded directly by the
package that observes it (pkg/installer, pkg/reconciler, pkg/supervisor,
pkg/ingress, pkg/cache) as it happens. HealthChecker tracks named
component health for /health, /ready and /live.
*/
package metrics
