package main

import (
    "compress/gzip"
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "os"
    "os/signal"
    "strings"
    "sync"
    "syscall"
    "time"

    "github.com/joho/godotenv"
    "github.com/robfig/cron/v3"
    "go.uber.org/zap"

    "navprovider/internal/app"
    "navprovider/internal/config"
    "navprovider/internal/logging"
    "navprovider/internal/metrics"
    "navprovider/internal/provider"
)

// snapshotSource is what the HTTP layer needs from the cache.
type snapshotSource interface {
    GetSnapshot(ctx context.Context, symbols []string) (*provider.Snapshot, error)
}

type snapshotResponse struct {
    Snapshot *provider.Snapshot `json:"snapshot"`
    Error    string             `json:"error,omitempty"`
    // Stale is set when Snapshot is an older build served because the
    // latest one failed.
    Stale bool `json:"stale"`
}

func main() {
    _ = godotenv.Load()

    cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
    if err != nil { fmt.Fprintf(os.Stderr, "config: %v\n", err); os.Exit(1) }
    if err := cfg.Validate(); err != nil { fmt.Fprintf(os.Stderr, "config: %v\n", err); os.Exit(1) }

    logger, err := logging.New(cfg.LogLevel)
    if err != nil { fmt.Fprintf(os.Stderr, "logger: %v\n", err); os.Exit(1) }
    defer func() { _ = logger.Sync() }()

    a := app.New(cfg, logger)

    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()

    var sched *cron.Cron
    if cfg.Server.RefreshSec > 0 {
        sched = newRefresher(ctx, cfg.Server.Refresh(), a, logger)
        sched.Start()
    }

    mux := http.NewServeMux()
    mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte(`{"status":"ok"}`))
    })
    mux.Handle("/metrics", metrics.Handler())
    mux.HandleFunc("/api/snapshot", func(w http.ResponseWriter, r *http.Request) {
        if r.Method != http.MethodGet {
            http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
            return
        }
        symbols, err := selectSymbols(r.URL.Query().Get("symbols"), a.Symbols)
        if err != nil {
            http.Error(w, err.Error(), http.StatusBadRequest)
            return
        }
        timeout := time.Duration(cfg.Server.RequestTimeoutSec) * time.Second
        writeSnapshot(w, r.Context(), a.Snapshots, symbols, timeout)
    })

    srv := &http.Server{
        Addr:              ":" + cfg.Server.Port,
        Handler:           withJSONHeaders(withGzip(recoverPanic(logger, mux))),
        ReadHeaderTimeout: 5 * time.Second,
        ReadTimeout:       15 * time.Second,
        WriteTimeout:      time.Duration(cfg.Server.RequestTimeoutSec+10) * time.Second,
        IdleTimeout:       60 * time.Second,
        ErrorLog:          zap.NewStdLog(logger.Named("http")),
    }

    go func() {
        logger.Info("server listening", zap.String("addr", srv.Addr), zap.Int("symbols", len(a.Symbols)))
        if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            logger.Fatal("server", zap.Error(err))
        }
    }()

    <-ctx.Done()
    logger.Info("shutting down")
    if sched != nil { <-sched.Stop().Done() }
    shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    _ = srv.Shutdown(shutdownCtx)
}

// newRefresher keeps the configured universe cached so HTTP callers normally
// hit a fresh entry. Ticks go through the cache like any caller, so a tick
// inside the TTL window does not rebuild. A tick that finds the previous
// pass still running is skipped.
func newRefresher(ctx context.Context, every time.Duration, a *app.App, logger *zap.Logger) *cron.Cron {
    clog := cron.VerbosePrintfLogger(zap.NewStdLog(logger.Named("cron")))
    c := cron.New(cron.WithLogger(clog), cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)))
    refresh := func() {
        snap, err := a.Snapshots.GetSnapshot(ctx, a.Symbols)
        if err != nil {
            logger.Warn("refresh failed", zap.Error(err))
            return
        }
        logger.Debug("refreshed", zap.String("snapshot", snap.ID), zap.Int("errors", len(snap.Errors())))
    }
    // every is whole seconds from config, so the schedule always parses.
    if _, err := c.AddFunc("@every "+every.String(), refresh); err != nil {
        logger.Fatal("schedule refresh", zap.Error(err))
    }
    go refresh()
    return c
}

// selectSymbols returns the configured universe, or the requested subset of
// it in request order.
func selectSymbols(q string, universe []string) ([]string, error) {
    if strings.TrimSpace(q) == "" { return universe, nil }
    known := make(map[string]struct{}, len(universe))
    for _, s := range universe { known[s] = struct{}{} }
    symbols := splitCSV(q)
    for _, s := range symbols {
        if _, ok := known[s]; !ok { return nil, fmt.Errorf("unknown symbol %q", s) }
    }
    if len(symbols) == 0 { return nil, errors.New("symbols cannot be empty") }
    return symbols, nil
}

func writeSnapshot(w http.ResponseWriter, rctx context.Context, src snapshotSource, symbols []string, timeout time.Duration) {
    // A client hanging up must not cancel a build other callers share.
    ctx, cancel := context.WithTimeout(context.WithoutCancel(rctx), timeout)
    defer cancel()

    snap, err := src.GetSnapshot(ctx, symbols)
    resp := snapshotResponse{Snapshot: snap}
    if err != nil {
        if snap == nil {
            http.Error(w, err.Error(), http.StatusBadGateway)
            return
        }
        resp.Error = err.Error()
        resp.Stale = true
    }
    w.WriteHeader(http.StatusOK)
    enc := json.NewEncoder(w)
    enc.SetEscapeHTML(false)
    _ = enc.Encode(resp)
}

func withJSONHeaders(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if r.URL.Path != "/metrics" {
            w.Header().Set("Content-Type", "application/json; charset=utf-8")
        }
        w.Header().Set("Access-Control-Allow-Origin", "*")
        w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
        w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
        if r.Method == http.MethodOptions {
            w.WriteHeader(http.StatusNoContent)
            return
        }
        next.ServeHTTP(w, r)
    })
}

// withGzip compresses response when client supports gzip.
func withGzip(next http.Handler) http.Handler {
    var gzPool = sync.Pool{New: func() any {
        w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
        return w
    }}
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        // promhttp negotiates its own compression.
        if r.URL.Path == "/metrics" || !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
            next.ServeHTTP(w, r)
            return
        }
        gz := gzPool.Get().(*gzip.Writer)
        gz.Reset(w)
        defer func() {
            _ = gz.Close()
            gz.Reset(io.Discard)
            gzPool.Put(gz)
        }()
        w.Header().Set("Content-Encoding", "gzip")
        w.Header().Add("Vary", "Accept-Encoding")
        next.ServeHTTP(gzipResponseWriter{ResponseWriter: w, Writer: gz}, r)
    })
}

type gzipResponseWriter struct {
    http.ResponseWriter
    Writer io.Writer
}

func (g gzipResponseWriter) Write(b []byte) (int, error) {
    return g.Writer.Write(b)
}

// recoverPanic protects handlers from panics.
func recoverPanic(logger *zap.Logger, next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        defer func() {
            if rec := recover(); rec != nil {
                logger.Error("handler panic", zap.Any("panic", rec), zap.String("path", r.URL.Path))
                http.Error(w, "internal server error", http.StatusInternalServerError)
            }
        }()
        next.ServeHTTP(w, r)
    })
}

func splitCSV(s string) []string {
    parts := strings.Split(s, ",")
    out := make([]string, 0, len(parts))
    for _, p := range parts {
        p = strings.TrimSpace(p)
        if p != "" { out = append(out, p) }
    }
    return out
}
