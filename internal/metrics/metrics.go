// Package metrics holds the Prometheus collectors for the fetch pipeline.
package metrics

import (
    "net/http"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
    "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
    // Registry holds the application-specific collectors.
    Registry = prometheus.NewRegistry()

    fetchAttempts = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "navprovider",
            Subsystem: "quote",
            Name:      "attempts_total",
            Help:      "Quote request attempts by outcome.",
        },
        []string{"outcome"},
    )

    blockEvents = prometheus.NewCounter(
        prometheus.CounterOpts{
            Namespace: "navprovider",
            Subsystem: "quote",
            Name:      "block_events_total",
            Help:      "Responses classified as anti-automation challenges.",
        },
    )

    warmups = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "navprovider",
            Subsystem: "session",
            Name:      "warmups_total",
            Help:      "Landing-page warm-up requests by result.",
        },
        []string{"result"},
    )

    builds = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "navprovider",
            Subsystem: "snapshot",
            Name:      "builds_total",
            Help:      "Snapshot aggregation passes by result.",
        },
        []string{"result"},
    )

    buildDuration = prometheus.NewHistogram(
        prometheus.HistogramOpts{
            Namespace: "navprovider",
            Subsystem: "snapshot",
            Name:      "build_duration_seconds",
            Help:      "Duration of snapshot aggregation passes.",
            Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~1m
        },
    )

    symbolErrors = prometheus.NewGauge(
        prometheus.GaugeOpts{
            Namespace: "navprovider",
            Subsystem: "snapshot",
            Name:      "symbol_errors",
            Help:      "Error-annotated records in the latest snapshot.",
        },
    )

    cacheLookups = prometheus.NewCounterVec(
        prometheus.CounterOpts{
            Namespace: "navprovider",
            Subsystem: "cache",
            Name:      "lookups_total",
            Help:      "Snapshot cache lookups by result.",
        },
        []string{"result"},
    )
)

func init() {
    Registry.MustRegister(
        fetchAttempts,
        blockEvents,
        warmups,
        builds,
        buildDuration,
        symbolErrors,
        cacheLookups,
        collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
        collectors.NewGoCollector(),
    )
}

// Handler exposes the registry.
func Handler() http.Handler {
    return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Attempt records one quote attempt. outcome is "ok", "blocked", "parse" or "network".
func Attempt(outcome string) { fetchAttempts.WithLabelValues(outcome).Inc() }

func Blocked() { blockEvents.Inc() }

func Warmup(ok bool) { warmups.WithLabelValues(result(ok)).Inc() }

// Build records a finished aggregation pass.
func Build(ok bool, took time.Duration, failedSymbols int) {
    builds.WithLabelValues(result(ok)).Inc()
    if !ok { return }
    buildDuration.Observe(took.Seconds())
    symbolErrors.Set(float64(failedSymbols))
}

// CacheLookup records a lookup; result is "hit", "miss" or "stale".
func CacheLookup(result string) { cacheLookups.WithLabelValues(result).Inc() }

func result(ok bool) string {
    if ok { return "ok" }
    return "error"
}
