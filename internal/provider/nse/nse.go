// Package nse fetches equity quotes from the NSE India website, which
// answers automated clients with HTML challenge pages instead of JSON.
package nse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"navprovider/internal/metrics"
	"navprovider/internal/provider"

	"go.uber.org/zap"
)

//go:generate mockgen -package=nse_test -destination=mock_session_test.go navprovider/internal/provider Session

const (
	// DefaultQuoteURL is the per-symbol quote endpoint; {symbol} is replaced.
	DefaultQuoteURL = "https://www.nseindia.com/api/quote-equity?symbol={symbol}"

	maxBody = 2 << 20
)

// Config controls retry and timeout behaviour.
type Config struct {
	QuoteURL       string
	RequestTimeout time.Duration
	// MaxAttempts is the total number of tries per symbol, first included.
	MaxAttempts int
	// BaseDelay is multiplied by the attempt number between tries.
	BaseDelay time.Duration
	// JitterMax bounds the uniform random delay added to each wait.
	JitterMax time.Duration
}

// DefaultConfig mirrors the cadence that keeps the site from escalating.
func DefaultConfig() Config {
	return Config{
		QuoteURL:       DefaultQuoteURL,
		RequestTimeout: 12 * time.Second,
		MaxAttempts:    4,
		BaseDelay:      1200 * time.Millisecond,
		JitterMax:      600 * time.Millisecond,
	}
}

// Fetcher retrieves one symbol's quote with bounded retries.
type Fetcher struct {
	cfg    Config
	rng    *rand.Rand
	sleep  provider.SleepFunc
	logger *zap.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithRand sets the jitter source.
func WithRand(r *rand.Rand) Option {
	return func(f *Fetcher) {
		f.rng = r
	}
}

// WithSleep replaces the function used to wait between attempts.
func WithSleep(s provider.SleepFunc) Option {
	return func(f *Fetcher) {
		f.sleep = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) {
		f.logger = l
	}
}

// New creates a Fetcher. Zero config fields take their defaults.
func New(cfg Config, opts ...Option) *Fetcher {
	def := DefaultConfig()
	if cfg.QuoteURL == "" { cfg.QuoteURL = def.QuoteURL }
	if cfg.RequestTimeout <= 0 { cfg.RequestTimeout = def.RequestTimeout }
	if cfg.MaxAttempts <= 0 { cfg.MaxAttempts = def.MaxAttempts }
	if cfg.BaseDelay < 0 { cfg.BaseDelay = 0 }
	if cfg.JitterMax < 0 { cfg.JitterMax = 0 }
	f := &Fetcher{
		cfg:    cfg,
		sleep:  provider.Sleep,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.rng == nil {
		f.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return f
}

// QuoteURL returns the request URL for symbol.
func (f *Fetcher) QuoteURL(symbol string) string {
	return strings.ReplaceAll(f.cfg.QuoteURL, "{symbol}", url.QueryEscape(symbol))
}

// Backoff returns the wait after the given failed attempt (1-based).
func (f *Fetcher) Backoff(attempt int) time.Duration {
	d := f.cfg.BaseDelay * time.Duration(attempt)
	if f.cfg.JitterMax > 0 {
		d += time.Duration(f.rng.Int64N(int64(f.cfg.JitterMax)))
	}
	return d
}

// FetchQuote returns the parsed quote for symbol. A block response re-warms
// sess before the next try. After MaxAttempts failures it returns a
// *provider.FetchError wrapping the last failure.
func (f *Fetcher) FetchQuote(ctx context.Context, sess provider.Session, symbol string) (provider.RawQuote, error) {
	logger := f.logger.With(zap.String("symbol", symbol), zap.String("session", sess.ID()))

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		attempts = attempt
		q, err := f.attempt(ctx, sess, symbol)
		if err == nil {
			metrics.Attempt("ok")
			return q, nil
		}
		lastErr = err
		metrics.Attempt(outcome(err))

		if ctx.Err() != nil || attempt == f.cfg.MaxAttempts {
			break
		}
		delay := f.Backoff(attempt)
		logger.Debug("quote attempt failed", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		if err := f.sleep(ctx, delay); err != nil {
			break
		}
	}
	return provider.RawQuote{}, &provider.FetchError{Symbol: symbol, Attempts: attempts, Err: lastErr}
}

func (f *Fetcher) attempt(ctx context.Context, sess provider.Session, symbol string) (provider.RawQuote, error) {
	u := f.QuoteURL(symbol)
	res, err := sess.Get(ctx, u, f.cfg.RequestTimeout)
	if err != nil {
		return provider.RawQuote{}, fmt.Errorf("%w: GET %s: %w", provider.ErrNetwork, u, err)
	}
	defer res.Body.Close()

	ctype := res.Header.Get("Content-Type")
	if !isJSON(ctype) || res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, maxBody))
		return provider.RawQuote{}, f.blocked(ctx, sess, symbol, res.StatusCode, ctype)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return provider.RawQuote{}, fmt.Errorf("%w: GET %s: unexpected status code: %d", provider.ErrNetwork, u, res.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		return provider.RawQuote{}, fmt.Errorf("%w: reading body: %w", provider.ErrNetwork, err)
	}
	return ParseQuote(body)
}

// blocked handles a challenge page: count it, re-warm the session and
// return the attempt's failure.
func (f *Fetcher) blocked(ctx context.Context, sess provider.Session, symbol string, status int, ctype string) error {
	metrics.Blocked()
	f.logger.Warn("blocked response",
		zap.String("symbol", symbol),
		zap.String("session", sess.ID()),
		zap.Int("status", status),
		zap.String("content_type", ctype),
	)
	err := fmt.Errorf("%w: status %d (%s)", provider.ErrBlocked, status, ctype)
	if rerr := sess.Rewarm(ctx); rerr != nil {
		return fmt.Errorf("%w; re-warm: %w", err, rerr)
	}
	return err
}

func isJSON(ctype string) bool {
	mt, _, err := mime.ParseMediaType(ctype)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

func outcome(err error) string {
	switch {
	case errors.Is(err, provider.ErrBlocked):
		return "blocked"
	case errors.Is(err, provider.ErrParse):
		return "parse"
	default:
		return "network"
	}
}
