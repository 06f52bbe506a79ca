/*
Package metrics provides Prometheus metrics collection and exposition
for fbuildd: operation counts and durations, active-operation and
compile-queue depth gauges, lock contention counters, and open serial
session counts. Metrics are registered once at package init and
exposed over the same local HTTP transport used for the request API, at
/metrics.

Package metrics also provides health, readiness and liveness handlers:
health reports unhealthy when any component registered with
RegisterComponent is unhealthy, and readiness reports ready only when
the four critical components (singleton, lockmgr, opregistry,
compqueue) are registered and healthy; readiness does not look at
daemon shutdown. pkg/transport serves /metrics from the registry these
collectors live in, but answers /health and /ready with its own
handlers rather than these.
*/
package metrics
