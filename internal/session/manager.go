package session

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"navprovider/internal/provider"

	"go.uber.org/zap"
)

// DefaultUserAgents is the identity pool sessions draw from.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_6) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
}

// Config controls how sessions are built and warmed.
type Config struct {
	// HomeURL is the landing page that hands out anti-bot cookies.
	HomeURL string
	// WarmUpTimeout bounds the landing-page request.
	WarmUpTimeout time.Duration
	// UserAgents is the pool one identity is drawn from per session.
	UserAgents []string
}

// Manager owns the current session. It hands out only warm sessions and
// rebuilds after Invalidate.
type Manager struct {
	cfg     Config
	factory ClientFactory
	rng     *rand.Rand
	logger  *zap.Logger

	mu      sync.Mutex
	current *Session
	built   int
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClientFactory sets the transport used by new sessions.
func WithClientFactory(f ClientFactory) ManagerOption {
	return func(m *Manager) {
		m.factory = f
	}
}

// WithRand sets the random source used to pick identities.
func WithRand(r *rand.Rand) ManagerOption {
	return func(m *Manager) {
		m.rng = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a Manager. No network traffic happens until the first
// GetSession.
func NewManager(cfg Config, opts ...ManagerOption) *Manager {
	if cfg.WarmUpTimeout <= 0 {
		cfg.WarmUpTimeout = 12 * time.Second
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = DefaultUserAgents
	}
	m := &Manager{
		cfg:    cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.factory == nil {
		m.factory = DefaultClientFactory(cfg.WarmUpTimeout, nil)
	}
	if m.rng == nil {
		m.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return m
}

// GetSession returns the current warm session, building and warming a new
// one when there is none. A failed warm-up returns a *provider.WarmUpError
// and leaves no session behind.
func (m *Manager) GetSession(ctx context.Context) (provider.Session, error) {
	s, err := m.Current(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Current is GetSession returning the concrete type.
func (m *Manager) Current(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		return m.current, nil
	}
	if m.cfg.HomeURL == "" {
		return nil, &provider.WarmUpError{Err: errors.New("missing landing page URL")}
	}

	ua := m.cfg.UserAgents[m.rng.IntN(len(m.cfg.UserAgents))]
	s, err := newSession(m.cfg.HomeURL, ua, m.cfg.WarmUpTimeout, m.factory, m.logger)
	if err != nil {
		return nil, &provider.WarmUpError{URL: m.cfg.HomeURL, Err: err}
	}
	if err := s.warm(ctx); err != nil {
		m.logger.Warn("session warm-up failed", zap.String("session", s.id), zap.Error(err))
		return nil, err
	}
	m.current = s
	m.built++
	m.logger.Info("session ready", zap.String("session", s.id), zap.String("user_agent", ua))
	return s, nil
}

// Invalidate drops the current session; the next GetSession builds a new one.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.logger.Info("session invalidated", zap.String("session", m.current.id))
	}
	m.current = nil
}

// Built returns how many sessions have been successfully warmed.
func (m *Manager) Built() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.built
}
