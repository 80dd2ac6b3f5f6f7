package provider

import (
    "context"
    "net/http"
    "time"
)

// RawQuote is the parsed quote payload for one symbol. It only lives for the
// duration of one fetch.
type RawQuote struct {
    LastPrice     *float64
    INAVAvailable bool
    // INAV is only meaningful when INAVAvailable is true.
    INAV *float64
}

// Record is one row of a snapshot. Numeric fields are nil when unknown; an
// error record has every numeric field nil, INAVOK false and Error set.
type Record struct {
    Symbol          string   `json:"symbol"`
    LastPrice       *float64 `json:"ltp"`
    INAVOK          bool     `json:"inav_ok"`
    INAV            *float64 `json:"inav"`
    DiscountPremium *float64 `json:"disc_prem_pct"`
    Error           string   `json:"error,omitempty"`
}

// Failed reports whether the record is an error annotation.
func (r Record) Failed() bool { return r.Error != "" }

// Snapshot is an ordered, immutable collection of records, one per
// requested symbol in request order.
type Snapshot struct {
    ID        string        `json:"id"`
    CreatedAt time.Time     `json:"created_at"`
    Took      time.Duration `json:"took_ns"`
    Records   []Record      `json:"records"`
}

// Errors returns the error-annotated records in snapshot order.
func (s *Snapshot) Errors() []Record {
    if s == nil { return nil }
    var out []Record
    for _, r := range s.Records {
        if r.Failed() { out = append(out, r) }
    }
    return out
}

// Session is a warmed network identity as seen by quote fetchers.
type Session interface {
    // ID identifies the session in logs.
    ID() string
    // Get issues a GET against url bounded by timeout, carrying the
    // session's identity headers and cookies.
    Get(ctx context.Context, url string, timeout time.Duration) (*http.Response, error)
    // Rewarm repeats the landing-page request on the same session.
    Rewarm(ctx context.Context) error
}
