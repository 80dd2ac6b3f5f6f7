package config

import (
    "encoding/json"
    "errors"
    "fmt"
    "os"
    "path/filepath"
    "strings"
    "time"

    "gopkg.in/yaml.v3"
)

// DefaultSymbols is the NSE gold ETF universe, in display order.
var DefaultSymbols = []string{
    "GOLDBEES", "SETFGOLD", "GOLD1", "GOLDIETF", "HDFCGOLD", "GOLDSHARE",
    "BSLGOLDETF", "AXISGOLD", "GOLDETFADD", "QGOLDHALF", "LICMFGOLD",
    "IVZINGOLD", "GROWWGOLD", "GOLDETF", "GOLD360", "BBNPPGOLD", "UNIONGOLD",
    "TATAGOLD", "EGOLD", "AONEGOLD", "GOLDCASE", "MOGSEC",
}

type Server struct {
    Port              string `json:"port" yaml:"port"`
    RequestTimeoutSec int    `json:"request_timeout_sec" yaml:"request_timeout_sec"`
    // RefreshSec is the cron cadence that keeps the cache warm; 0 disables it.
    // It must not be shorter than the cache TTL.
    RefreshSec int `json:"refresh_sec" yaml:"refresh_sec"`
}

type Upstream struct {
    HomeURL               string   `json:"home_url" yaml:"home_url"`
    QuoteURL              string   `json:"quote_url" yaml:"quote_url"`
    // UserAgents replaces the built-in identity pool when non-empty.
    UserAgents            []string `json:"user_agents" yaml:"user_agents"`
    RequestTimeoutSec     int      `json:"request_timeout_sec" yaml:"request_timeout_sec"`
    WarmUpTimeoutSec      int      `json:"warmup_timeout_sec" yaml:"warmup_timeout_sec"`
    MaxRequestsPerMinute  int      `json:"max_requests_per_minute" yaml:"max_requests_per_minute"`
    Burst                 int      `json:"burst" yaml:"burst"`
}

type Retry struct {
    MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`
    BaseDelayMs int `json:"base_delay_ms" yaml:"base_delay_ms"`
    JitterMs    int `json:"jitter_ms" yaml:"jitter_ms"`
}

type Snapshot struct {
    Symbols         []string `json:"symbols" yaml:"symbols"`
    CacheTTLSeconds int      `json:"cache_ttl_sec" yaml:"cache_ttl_sec"`
    PolitenessMs    int      `json:"politeness_ms" yaml:"politeness_ms"`
    FailureDelayMs  int      `json:"failure_delay_ms" yaml:"failure_delay_ms"`
    INAVEpsilon     float64  `json:"inav_epsilon" yaml:"inav_epsilon"`
}

type Config struct {
    Server   Server   `json:"server" yaml:"server"`
    Upstream Upstream `json:"upstream" yaml:"upstream"`
    Retry    Retry    `json:"retry" yaml:"retry"`
    Snapshot Snapshot `json:"snapshot" yaml:"snapshot"`
    LogLevel string   `json:"log_level" yaml:"log_level"`
}

func Default() Config {
    return Config{
        Server: Server{Port: "8080", RequestTimeoutSec: 60, RefreshSec: 120},
        Upstream: Upstream{
            HomeURL:  "https://www.nseindia.com/",
            QuoteURL: "https://www.nseindia.com/api/quote-equity?symbol={symbol}",
            RequestTimeoutSec: 12,
            WarmUpTimeoutSec:  12,
        },
        Retry: Retry{MaxAttempts: 4, BaseDelayMs: 1200, JitterMs: 600},
        Snapshot: Snapshot{
            Symbols:         append([]string(nil), DefaultSymbols...),
            CacheTTLSeconds: 120,
            PolitenessMs:    200,
            FailureDelayMs:  600,
            INAVEpsilon:     1e-9,
        },
        LogLevel: "info",
    }
}

// Load reads config from path, as YAML when the extension is .yaml or .yml
// and JSON otherwise. If path is empty it falls back to config.json in the
// working directory; a missing file yields defaults. Environment variables
// override file values.
func Load(path string) (Config, error) {
    cfg := Default()
    if path == "" {
        if _, err := os.Stat("config.json"); err == nil {
            path = "config.json"
        }
    }
    if path != "" {
        b, err := os.ReadFile(path)
        if err != nil && !errors.Is(err, os.ErrNotExist) {
            return cfg, fmt.Errorf("read config: %w", err)
        }
        if err == nil {
            if err := decode(path, b, &cfg); err != nil {
                return cfg, fmt.Errorf("parse config: %w", err)
            }
        }
    }
    applyEnv(&cfg)
    return cfg, nil
}

func decode(path string, b []byte, cfg *Config) error {
    switch strings.ToLower(filepath.Ext(path)) {
    case ".yaml", ".yml":
        return yaml.Unmarshal(b, cfg)
    default:
        return json.Unmarshal(b, cfg)
    }
}

func applyEnv(cfg *Config) {
    if v := os.Getenv("PORT"); v != "" { cfg.Server.Port = v }
    if v := os.Getenv("NAV_REFRESH_SEC"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x >= 0 { cfg.Server.RefreshSec = x }
    }
    if v := os.Getenv("NAV_SYMBOLS"); v != "" { cfg.Snapshot.Symbols = splitCSV(v) }
    if v := os.Getenv("NAV_CACHE_TTL_SEC"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x >= 0 { cfg.Snapshot.CacheTTLSeconds = x }
    }
    if v := os.Getenv("NAV_POLITENESS_MS"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x >= 0 { cfg.Snapshot.PolitenessMs = x }
    }
    if v := os.Getenv("NAV_FAILURE_DELAY_MS"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x >= 0 { cfg.Snapshot.FailureDelayMs = x }
    }
    if v := os.Getenv("NAV_HOME_URL"); v != "" { cfg.Upstream.HomeURL = v }
    if v := os.Getenv("NAV_QUOTE_URL"); v != "" { cfg.Upstream.QuoteURL = v }
    if v := os.Getenv("NAV_USER_AGENTS"); v != "" { cfg.Upstream.UserAgents = splitLines(v) }
    if v := os.Getenv("NAV_REQUEST_TIMEOUT_SEC"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Upstream.RequestTimeoutSec = x }
    }
    if v := os.Getenv("NAV_WARMUP_TIMEOUT_SEC"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Upstream.WarmUpTimeoutSec = x }
    }
    if v := os.Getenv("NAV_MAX_RPM"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x >= 0 { cfg.Upstream.MaxRequestsPerMinute = x }
    }
    if v := os.Getenv("NAV_BURST"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Upstream.Burst = x }
    }
    if v := os.Getenv("NAV_MAX_ATTEMPTS"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x > 0 { cfg.Retry.MaxAttempts = x }
    }
    if v := os.Getenv("NAV_BASE_DELAY_MS"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x >= 0 { cfg.Retry.BaseDelayMs = x }
    }
    if v := os.Getenv("NAV_JITTER_MS"); v != "" {
        var x int; fmt.Sscanf(v, "%d", &x); if x >= 0 { cfg.Retry.JitterMs = x }
    }
    if v := os.Getenv("LOG_LEVEL"); v != "" { cfg.LogLevel = strings.ToLower(v) }
}

// Validate rejects values the core cannot run with.
func (c Config) Validate() error {
    var errs []error
    if len(c.Snapshot.Symbols) == 0 { errs = append(errs, errors.New("snapshot.symbols is empty")) }
    seen := make(map[string]struct{}, len(c.Snapshot.Symbols))
    for _, s := range c.Snapshot.Symbols {
        if _, dup := seen[s]; dup { errs = append(errs, fmt.Errorf("snapshot.symbols: duplicate %q", s)) }
        seen[s] = struct{}{}
    }
    if c.Upstream.HomeURL == "" { errs = append(errs, errors.New("upstream.home_url is empty")) }
    if !strings.Contains(c.Upstream.QuoteURL, "{symbol}") {
        errs = append(errs, errors.New("upstream.quote_url has no {symbol} placeholder"))
    }
    if c.Retry.MaxAttempts < 1 { errs = append(errs, errors.New("retry.max_attempts must be at least 1")) }
    if c.Snapshot.CacheTTLSeconds < 0 { errs = append(errs, errors.New("snapshot.cache_ttl_sec is negative")) }
    if c.Server.RefreshSec > 0 && c.Snapshot.CacheTTLSeconds > 0 && c.Server.RefreshSec < c.Snapshot.CacheTTLSeconds {
        errs = append(errs, fmt.Errorf("server.refresh_sec (%d) is shorter than snapshot.cache_ttl_sec (%d)", c.Server.RefreshSec, c.Snapshot.CacheTTLSeconds))
    }
    if c.Snapshot.PolitenessMs < 0 || c.Snapshot.FailureDelayMs < 0 {
        errs = append(errs, errors.New("snapshot delays must not be negative"))
    }
    if c.Snapshot.FailureDelayMs < c.Snapshot.PolitenessMs {
        errs = append(errs, fmt.Errorf("snapshot.failure_delay_ms (%d) is shorter than snapshot.politeness_ms (%d)", c.Snapshot.FailureDelayMs, c.Snapshot.PolitenessMs))
    }
    if c.Snapshot.INAVEpsilon < 0 { errs = append(errs, errors.New("snapshot.inav_epsilon is negative")) }
    return errors.Join(errs...)
}

func (u Upstream) RequestTimeout() time.Duration { return time.Duration(u.RequestTimeoutSec) * time.Second }
func (u Upstream) WarmUpTimeout() time.Duration  { return time.Duration(u.WarmUpTimeoutSec) * time.Second }
func (r Retry) BaseDelay() time.Duration         { return time.Duration(r.BaseDelayMs) * time.Millisecond }
func (r Retry) Jitter() time.Duration            { return time.Duration(r.JitterMs) * time.Millisecond }
func (s Snapshot) CacheTTL() time.Duration       { return time.Duration(s.CacheTTLSeconds) * time.Second }
func (s Snapshot) Politeness() time.Duration     { return time.Duration(s.PolitenessMs) * time.Millisecond }
func (s Snapshot) FailureDelay() time.Duration   { return time.Duration(s.FailureDelayMs) * time.Millisecond }
func (s Server) Refresh() time.Duration          { return time.Duration(s.RefreshSec) * time.Second }

func splitCSV(s string) []string {
    parts := strings.Split(s, ",")
    out := make([]string, 0, len(parts))
    for _, p := range parts {
        p = strings.TrimSpace(p)
        if p != "" { out = append(out, p) }
    }
    return out
}

// User-Agent strings contain commas, so the env list is newline separated.
func splitLines(s string) []string {
    var out []string
    for _, p := range strings.Split(s, "\n") {
        p = strings.TrimSpace(p)
        if p != "" { out = append(out, p) }
    }
    return out
}
