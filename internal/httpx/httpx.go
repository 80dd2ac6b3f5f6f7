package httpx

import (
    "net"
    "net/http"
    "time"
)

// Client is a small wrapper around http.Client with tuned transport
// defaults. Identity headers are set by the caller on each request.
type Client struct {
    HTTP *http.Client
}

// New returns a client with tuned transport defaults. jar may be nil.
// Per-request deadlines come from the request context; timeout is a hard
// ceiling on top of that.
func New(timeout time.Duration, jar http.CookieJar) *Client {
    transport := &http.Transport{
        Proxy: http.ProxyFromEnvironment,
        DialContext: (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
        MaxIdleConns:          20,
        MaxIdleConnsPerHost:   10,
        ForceAttemptHTTP2:     true,
        IdleConnTimeout:       90 * time.Second,
        TLSHandshakeTimeout:   5 * time.Second,
        ExpectContinueTimeout: 1 * time.Second,
    }
    return &Client{HTTP: &http.Client{Timeout: timeout, Transport: transport, Jar: jar}}
}

// BrowserHeaders are the headers a desktop browser sends for an XHR against
// the quote API.
func BrowserHeaders(referer string) map[string]string {
    return map[string]string{
        "Accept":          "application/json, text/plain, */*",
        "Accept-Language": "en-US,en;q=0.9",
        "Referer":         referer,
        "Connection":      "keep-alive",
    }
}

func (c *Client) Do(req *http.Request) (*http.Response, error) {
    return c.HTTP.Do(req)
}
