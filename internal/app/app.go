// Package app wires the session manager, fetcher, aggregator and cache from
// a loaded config. Both binaries start here.
package app

import (
    "go.uber.org/zap"

    "navprovider/internal/aggregate"
    "navprovider/internal/config"
    "navprovider/internal/provider/cache"
    "navprovider/internal/provider/nse"
    "navprovider/internal/provider/ratelimit"
    "navprovider/internal/session"
)

type App struct {
    Symbols    []string
    Sessions   *session.Manager
    Fetcher    *nse.Fetcher
    Aggregator *aggregate.Aggregator
    Snapshots  *cache.Snapshots
}

// New builds the pipeline. Nothing touches the network until the first
// snapshot is requested.
func New(cfg config.Config, logger *zap.Logger) *App {
    if logger == nil { logger = zap.NewNop() }
    limiter := ratelimit.PerMinute(cfg.Upstream.MaxRequestsPerMinute, cfg.Upstream.Burst)

    // The client timeout is a ceiling; each request carries its own deadline.
    ceiling := max(cfg.Upstream.RequestTimeout(), cfg.Upstream.WarmUpTimeout())
    sessions := session.NewManager(session.Config{
        HomeURL:       cfg.Upstream.HomeURL,
        WarmUpTimeout: cfg.Upstream.WarmUpTimeout(),
        UserAgents:    cfg.Upstream.UserAgents,
    },
        session.WithClientFactory(session.DefaultClientFactory(ceiling, limiter)),
        session.WithLogger(logger.Named("session")),
    )

    fetcher := nse.New(nse.Config{
        QuoteURL:       cfg.Upstream.QuoteURL,
        RequestTimeout: cfg.Upstream.RequestTimeout(),
        MaxAttempts:    cfg.Retry.MaxAttempts,
        BaseDelay:      cfg.Retry.BaseDelay(),
        JitterMax:      cfg.Retry.Jitter(),
    }, nse.WithLogger(logger.Named("nse")))

    agg := aggregate.New(aggregate.Config{
        PolitenessDelay: cfg.Snapshot.Politeness(),
        FailureDelay:    cfg.Snapshot.FailureDelay(),
        INAVEpsilon:     cfg.Snapshot.INAVEpsilon,
    }, sessions, fetcher, aggregate.WithLogger(logger.Named("aggregate")))

    return &App{
        Symbols:    append([]string(nil), cfg.Snapshot.Symbols...),
        Sessions:   sessions,
        Fetcher:    fetcher,
        Aggregator: agg,
        Snapshots: &cache.Snapshots{
            B:      agg,
            TTL:    cfg.Snapshot.CacheTTL(),
            Logger: logger.Named("cache"),
        },
    }
}
