package session

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync/atomic"
	"time"

	"navprovider/internal/httpx"
	"navprovider/internal/metrics"
	"navprovider/internal/provider"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

// Session is one browser-like identity: a User-Agent, a header set and a
// cookie jar, all bound to one HTTP client.
type Session struct {
	id          string
	userAgent   string
	header      http.Header
	jar         http.CookieJar
	client      HTTPClient
	homeURL     string
	warmTimeout time.Duration
	warmups     atomic.Int64
	logger      *zap.Logger
}

func newSession(homeURL, userAgent string, warmTimeout time.Duration, factory ClientFactory, logger *zap.Logger) (*Session, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	header := http.Header{}
	header.Set("User-Agent", userAgent)
	for k, v := range httpx.BrowserHeaders(homeURL) {
		header.Set(k, v)
	}
	id := uuid.NewString()
	return &Session{
		id:          id,
		userAgent:   userAgent,
		header:      header,
		jar:         jar,
		client:      factory(jar),
		homeURL:     homeURL,
		warmTimeout: warmTimeout,
		logger:      logger.With(zap.String("session", id)),
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// UserAgent returns the identity string chosen for this session.
func (s *Session) UserAgent() string { return s.userAgent }

// Warmups returns how many landing-page requests this session has issued.
func (s *Session) Warmups() int64 { return s.warmups.Load() }

// Cookies returns the cookies the session would send to u.
func (s *Session) Cookies(u *url.URL) []*http.Cookie { return s.jar.Cookies(u) }

// Get issues a GET bounded by timeout. The caller closes the body.
func (s *Session) Get(ctx context.Context, rawURL string, timeout time.Duration) (*http.Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		resp, err := s.do(ctx, rawURL)
		if err != nil {
			cancel()
			return nil, err
		}
		resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}
	return s.do(ctx, rawURL)
}

func (s *Session) do(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = s.header.Clone()
	return s.client.Do(req)
}

// Rewarm repeats the landing-page request on this session.
func (s *Session) Rewarm(ctx context.Context) error {
	return s.warm(ctx)
}

func (s *Session) warm(ctx context.Context) error {
	s.warmups.Add(1)
	res, err := s.Get(ctx, s.homeURL, s.warmTimeout)
	if err != nil {
		metrics.Warmup(false)
		return &provider.WarmUpError{URL: s.homeURL, Err: err}
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4<<20))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		metrics.Warmup(false)
		return &provider.WarmUpError{URL: s.homeURL, Err: fmt.Errorf("unexpected status code: %d", res.StatusCode)}
	}
	metrics.Warmup(true)
	s.logger.Debug("session warmed", zap.Int64("warmups", s.warmups.Load()))
	return nil
}

// cancelBody releases the per-request timeout once the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
