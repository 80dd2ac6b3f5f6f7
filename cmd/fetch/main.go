package main

import (
    "context"
    "encoding/json"
    "flag"
    "fmt"
    "io"
    "os"
    "os/signal"
    "strings"
    "syscall"
    "text/tabwriter"
    "time"

    "github.com/joho/godotenv"
    "go.uber.org/zap"

    "navprovider/internal/app"
    "navprovider/internal/config"
    "navprovider/internal/logging"
    "navprovider/internal/provider"
)

func main() {
    _ = godotenv.Load()

    var symbolsCSV string
    var configPath string
    var format string
    var logLevel string
    var timeout int

    flag.StringVar(&symbolsCSV, "symbols", "", "comma-separated symbols (default: configured universe)")
    flag.StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to config.json or config.yaml (optional)")
    flag.StringVar(&format, "format", "table", "output format: table or json")
    flag.StringVar(&logLevel, "log-level", "warn", "log level written to stderr")
    flag.IntVar(&timeout, "timeout", 0, "overall deadline in seconds (0 = none)")
    flag.Parse()

    cfg, err := config.Load(configPath)
    if err != nil { fatalf("config: %v", err) }
    if symbolsCSV != "" { cfg.Snapshot.Symbols = splitCSV(symbolsCSV) }
    if err := cfg.Validate(); err != nil { fatalf("config: %v", err) }
    if format != "table" && format != "json" { fatalf("unknown format %q", format) }

    logger, err := logging.New(logLevel)
    if err != nil { fatalf("logger: %v", err) }
    defer func() { _ = logger.Sync() }()

    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()
    if timeout > 0 {
        var cancel context.CancelFunc
        ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
        defer cancel()
    }

    a := app.New(cfg, logger)
    snap, err := a.Aggregator.BuildSnapshot(ctx, a.Symbols)
    if err != nil {
        logger.Error("snapshot failed", zap.Error(err))
        fatalf("snapshot: %v", err)
    }

    switch format {
    case "json":
        enc := json.NewEncoder(os.Stdout)
        enc.SetIndent("", "  ")
        enc.SetEscapeHTML(false)
        if err := enc.Encode(snap); err != nil { fatalf("encode: %v", err) }
    default:
        if err := renderTable(os.Stdout, snap); err != nil { fatalf("write: %v", err) }
    }
}

// renderTable prints one row per record, then the error panel when any
// symbol failed. Missing numbers print as "-".
func renderTable(w io.Writer, snap *provider.Snapshot) error {
    tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
    fmt.Fprintln(tw, "Symbol\tLTP\tiNAV OK\tiNAV\tDisc/Prem %\t")
    for _, r := range snap.Records {
        fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n",
            r.Symbol, num(r.LastPrice, 2), yesNo(r.INAVOK), num(r.INAV, 2), num(r.DiscountPremium, 3))
    }
    if err := tw.Flush(); err != nil { return err }

    fmt.Fprintf(w, "\nUpdated %s (took %s)\n", snap.CreatedAt.Local().Format("2006-01-02 15:04:05"), snap.Took.Round(time.Millisecond))
    if errs := snap.Errors(); len(errs) > 0 {
        fmt.Fprintf(w, "\nErrors / blocked symbols (%d):\n", len(errs))
        for _, r := range errs {
            fmt.Fprintf(w, "  %s: %s\n", r.Symbol, r.Error)
        }
    }
    return nil
}

func num(v *float64, places int) string {
    if v == nil { return "-" }
    return fmt.Sprintf("%.*f", places, *v)
}

func yesNo(b bool) string {
    if b { return "yes" }
    return "no"
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

func fatalf(format string, args ...any) {
    fmt.Fprintf(os.Stderr, format+"\n", args...)
    os.Exit(1)
}
