package ratelimit

import (
    "net/http"
    "time"

    "golang.org/x/time/rate"
)

// Doer is the subset of http.Client used by upstream callers.
type Doer interface {
    Do(req *http.Request) (*http.Response, error)
}

// Client gates every request through a token bucket shared by all sessions,
// so warm-ups, re-warms and quote requests together respect one ceiling.
// Waiting honours the request context.
type Client struct {
    D Doer
    L *rate.Limiter
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
    if c.L != nil {
        if err := c.L.Wait(req.Context()); err != nil { return nil, err }
    }
    return c.D.Do(req)
}

// PerMinute builds a limiter allowing rpm requests per minute with the given
// burst. It returns nil when rpm <= 0, which disables limiting.
func PerMinute(rpm, burst int) *rate.Limiter {
    if rpm <= 0 { return nil }
    if burst <= 0 { burst = 1 }
    return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), burst)
}

// Wrap returns d gated by l, or d itself when l is nil.
func Wrap(d Doer, l *rate.Limiter) Doer {
    if l == nil { return d }
    return &Client{D: d, L: l}
}
