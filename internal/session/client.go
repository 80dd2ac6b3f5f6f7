package session

import (
	"net/http"
	"time"

	"navprovider/internal/httpx"
	"navprovider/internal/provider/ratelimit"

	"golang.org/x/time/rate"
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=session_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientFactory builds the transport for a new session. The jar belongs to
// the session and must be used for every request it makes.
type ClientFactory func(jar http.CookieJar) HTTPClient

// DefaultClientFactory returns a factory producing httpx clients bounded by
// timeout and gated by limiter when limiter is non-nil.
func DefaultClientFactory(timeout time.Duration, limiter *rate.Limiter) ClientFactory {
	return func(jar http.CookieJar) HTTPClient {
		return ratelimit.Wrap(httpx.New(timeout, jar), limiter)
	}
}
