package provider

import (
    "errors"
    "fmt"
)

// Transient failure classes for a single quote attempt.
var (
    ErrBlocked = errors.New("blocked")
    ErrParse   = errors.New("parse failure")
    ErrNetwork = errors.New("network failure")
)

// FetchError is returned once every attempt for a symbol has failed.
type FetchError struct {
    Symbol   string
    Attempts int
    Err      error
}

func (e *FetchError) Error() string {
    return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Symbol, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Blocked reports whether the last failure was a block event.
func (e *FetchError) Blocked() bool { return errors.Is(e.Err, ErrBlocked) }

// WarmUpError means the landing-page request that acquires cookies failed.
type WarmUpError struct {
    URL string
    Err error
}

func (e *WarmUpError) Error() string { return fmt.Sprintf("warm-up %s: %v", e.URL, e.Err) }

func (e *WarmUpError) Unwrap() error { return e.Err }

// IsWarmUp reports whether err carries a WarmUpError.
func IsWarmUp(err error) bool {
    var w *WarmUpError
    return errors.As(err, &w)
}
