package aggregate

import (
    "context"
    "errors"
    "math"
    "time"

    "github.com/google/uuid"
    "github.com/shopspring/decimal"
    "go.uber.org/zap"

    "navprovider/internal/metrics"
    "navprovider/internal/provider"
)

// SessionProvider hands out warm sessions.
type SessionProvider interface {
    GetSession(ctx context.Context) (provider.Session, error)
    Invalidate()
}

// QuoteFetcher fetches one symbol on a session.
type QuoteFetcher interface {
    FetchQuote(ctx context.Context, sess provider.Session, symbol string) (provider.RawQuote, error)
}

// Config holds the pacing and arithmetic knobs of a pass.
type Config struct {
    // PolitenessDelay follows every successful symbol.
    PolitenessDelay time.Duration
    // FailureDelay follows every failed symbol; normally larger.
    FailureDelay time.Duration
    // INAVEpsilon treats |iNAV| <= epsilon as missing.
    INAVEpsilon float64
}

func DefaultConfig() Config {
    return Config{
        PolitenessDelay: 200 * time.Millisecond,
        FailureDelay:    600 * time.Millisecond,
        INAVEpsilon:     1e-9,
    }
}

// Aggregator builds snapshots one symbol at a time.
type Aggregator struct {
    cfg      Config
    sessions SessionProvider
    fetcher  QuoteFetcher
    sleep    provider.SleepFunc
    now      func() time.Time
    logger   *zap.Logger
}

type Option func(*Aggregator)

func WithSleep(s provider.SleepFunc) Option { return func(a *Aggregator) { a.sleep = s } }

func WithClock(now func() time.Time) Option { return func(a *Aggregator) { a.now = now } }

func WithLogger(l *zap.Logger) Option { return func(a *Aggregator) { a.logger = l } }

func New(cfg Config, sessions SessionProvider, fetcher QuoteFetcher, opts ...Option) *Aggregator {
    if cfg.PolitenessDelay < 0 { cfg.PolitenessDelay = 0 }
    if cfg.FailureDelay < 0 { cfg.FailureDelay = 0 }
    if cfg.INAVEpsilon < 0 { cfg.INAVEpsilon = 0 }
    a := &Aggregator{
        cfg:      cfg,
        sessions: sessions,
        fetcher:  fetcher,
        sleep:    provider.Sleep,
        now:      time.Now,
        logger:   zap.NewNop(),
    }
    for _, opt := range opts { opt(a) }
    return a
}

// BuildSnapshot fetches every symbol in order and returns one record per
// symbol. Per-symbol failures become error records. The pass fails only when
// no session could be obtained before the first symbol, or when ctx ends.
func (a *Aggregator) BuildSnapshot(ctx context.Context, symbols []string) (*provider.Snapshot, error) {
    start := a.now()
    snap := &provider.Snapshot{
        ID:      uuid.NewString(),
        Records: make([]provider.Record, 0, len(symbols)),
    }
    logger := a.logger.With(zap.String("snapshot", snap.ID))

    hadSession := false
    for i, sym := range symbols {
        if err := ctx.Err(); err != nil {
            metrics.Build(false, 0, 0)
            return nil, err
        }

        rec, err := a.fetchOne(ctx, sym, &hadSession)
        if err != nil {
            metrics.Build(false, 0, 0)
            logger.Error("snapshot aborted", zap.String("symbol", sym), zap.Error(err))
            return nil, err
        }
        snap.Records = append(snap.Records, rec)

        delay := a.cfg.PolitenessDelay
        if rec.Failed() {
            delay = a.cfg.FailureDelay
            logger.Warn("symbol failed", zap.String("symbol", sym), zap.Int("index", i), zap.String("error", rec.Error))
        }
        if err := a.sleep(ctx, delay); err != nil {
            metrics.Build(false, 0, 0)
            return nil, err
        }
    }

    snap.CreatedAt = a.now()
    snap.Took = snap.CreatedAt.Sub(start)
    failed := len(snap.Errors())
    metrics.Build(true, snap.Took, failed)
    logger.Info("snapshot built",
        zap.Int("symbols", len(symbols)),
        zap.Int("failed", failed),
        zap.Duration("took", snap.Took),
    )
    return snap, nil
}

// fetchOne returns the record for sym. The error return is reserved for
// failures that abort the pass.
func (a *Aggregator) fetchOne(ctx context.Context, sym string, hadSession *bool) (provider.Record, error) {
    sess, err := a.sessions.GetSession(ctx)
    if err != nil {
        if !*hadSession || ctx.Err() != nil {
            return provider.Record{}, err
        }
        return ErrorRecord(sym, err), nil
    }
    *hadSession = true

    q, err := a.fetcher.FetchQuote(ctx, sess, sym)
    if err != nil {
        if ctx.Err() != nil {
            return provider.Record{}, ctx.Err()
        }
        var fe *provider.FetchError
        if errors.As(err, &fe) && fe.Blocked() {
            // The identity is burnt; the next symbol starts over.
            a.sessions.Invalidate()
        }
        return ErrorRecord(sym, err), nil
    }
    return NewRecord(sym, q, a.cfg.INAVEpsilon), nil
}

// NewRecord derives the output row for a successful fetch.
func NewRecord(symbol string, q provider.RawQuote, epsilon float64) provider.Record {
    r := provider.Record{
        Symbol:    symbol,
        LastPrice: q.LastPrice,
        INAVOK:    q.INAVAvailable,
    }
    if q.INAVAvailable {
        r.INAV = q.INAV
        r.DiscountPremium = DiscountPremium(q.LastPrice, q.INAV, epsilon)
    }
    return r
}

// ErrorRecord is the row for a symbol whose fetch failed.
func ErrorRecord(symbol string, err error) provider.Record {
    return provider.Record{Symbol: symbol, Error: err.Error()}
}

// DiscountPremium returns (ltp - inav) / inav * 100 rounded half away from
// zero to 3 places, or nil when either input is missing or |inav| <= epsilon.
func DiscountPremium(ltp, inav *float64, epsilon float64) *float64 {
    if ltp == nil || inav == nil { return nil }
    if !finite(*ltp) || !finite(*inav) { return nil }
    if math.Abs(*inav) <= epsilon || *inav == 0 { return nil }
    l := decimal.NewFromFloat(*ltp)
    n := decimal.NewFromFloat(*inav)
    pct := l.Sub(n).Div(n).Mul(decimal.NewFromInt(100)).Round(3)
    v := pct.InexactFloat64()
    return &v
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
