package cache

import (
    "context"
    "strings"
    "sync"
    "time"

    "go.uber.org/zap"
    "golang.org/x/sync/singleflight"

    "navprovider/internal/metrics"
    "navprovider/internal/provider"
)

// Builder produces a fresh snapshot for a symbol sequence.
type Builder interface {
    BuildSnapshot(ctx context.Context, symbols []string) (*provider.Snapshot, error)
}

// entry stores one snapshot with the time it was stored.
type entry struct {
    storedAt time.Time
    snap     *provider.Snapshot
}

// Snapshots memoizes snapshots per symbol sequence for TTL. Concurrent
// callers for the same sequence share one build, and builds for different
// sequences never overlap, so the upstream sees at most one pass at a time.
type Snapshots struct {
    B   Builder
    TTL time.Duration
    // Now is the clock; nil means time.Now.
    Now    func() time.Time
    Logger *zap.Logger

    mu      sync.RWMutex
    items   map[string]entry // key: symbol sequence
    buildMu sync.Mutex
    sf      singleflight.Group
}

// GetSnapshot returns the cached snapshot for symbols while it is younger
// than TTL, otherwise builds and stores a new one. If a build fails and an
// older snapshot exists, that stale snapshot is returned with the error.
func (c *Snapshots) GetSnapshot(ctx context.Context, symbols []string) (*provider.Snapshot, error) {
    key := Key(symbols)
    if snap, ok := c.fresh(key); ok {
        metrics.CacheLookup("hit")
        return snap, nil
    }

    snap, shared, err := c.load(ctx, key, symbols)
    if err != nil { return c.fallback(symbols, err) }
    metrics.CacheLookup("miss")
    if shared { c.logger().Debug("snapshot build shared", zap.Int("symbols", len(symbols))) }
    return snap, nil
}

func (c *Snapshots) load(ctx context.Context, key string, symbols []string) (*provider.Snapshot, bool, error) {
    v, err, shared := c.sf.Do(key, func() (any, error) {
        // Another flight may have stored while we waited on the group.
        if snap, ok := c.fresh(key); ok { return snap, nil }

        c.buildMu.Lock()
        defer c.buildMu.Unlock()
        snap, err := c.B.BuildSnapshot(ctx, symbols)
        if err != nil { return nil, err }

        c.mu.Lock()
        if c.items == nil { c.items = make(map[string]entry, 1) }
        c.items[key] = entry{storedAt: c.now(), snap: snap}
        c.mu.Unlock()
        return snap, nil
    })
    if err != nil { return nil, shared, err }
    return v.(*provider.Snapshot), shared, nil
}

func (c *Snapshots) fallback(symbols []string, err error) (*provider.Snapshot, error) {
    if stale := c.Last(symbols); stale != nil {
        metrics.CacheLookup("stale")
        c.logger().Warn("serving stale snapshot", zap.String("snapshot", stale.ID), zap.Error(err))
        return stale, err
    }
    return nil, err
}

// Last returns the newest stored snapshot for symbols regardless of age.
func (c *Snapshots) Last(symbols []string) *provider.Snapshot {
    c.mu.RLock()
    defer c.mu.RUnlock()
    if e, ok := c.items[Key(symbols)]; ok { return e.snap }
    return nil
}

// Age returns how old the stored snapshot for symbols is.
func (c *Snapshots) Age(symbols []string) (time.Duration, bool) {
    c.mu.RLock()
    e, ok := c.items[Key(symbols)]
    c.mu.RUnlock()
    if !ok { return 0, false }
    return c.now().Sub(e.storedAt), true
}

func (c *Snapshots) fresh(key string) (*provider.Snapshot, bool) {
    if c.TTL <= 0 { return nil, false }
    c.mu.RLock()
    e, ok := c.items[key]
    c.mu.RUnlock()
    if !ok || c.now().Sub(e.storedAt) >= c.TTL { return nil, false }
    return e.snap, true
}

func (c *Snapshots) now() time.Time {
    if c.Now != nil { return c.Now() }
    return time.Now()
}

func (c *Snapshots) logger() *zap.Logger {
    if c.Logger != nil { return c.Logger }
    return zap.NewNop()
}

// Key identifies a symbol sequence; order matters.
func Key(symbols []string) string { return strings.Join(symbols, "\x1f") }
