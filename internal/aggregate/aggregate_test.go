package aggregate

import (
    "context"
    "errors"
    "fmt"
    "math"
    "net/http"
    "testing"
    "time"

    "navprovider/internal/provider"
)

type fakeSession struct{ id string }

func (f fakeSession) ID() string { return f.id }
func (f fakeSession) Get(context.Context, string, time.Duration) (*http.Response, error) {
    return nil, errors.New("not used")
}
func (f fakeSession) Rewarm(context.Context) error { return nil }

// fakeSessions fails GetSession for the calls listed in failOn (0-based).
type fakeSessions struct {
    calls       int
    failOn      map[int]error
    invalidated int
}

func (f *fakeSessions) GetSession(context.Context) (provider.Session, error) {
    n := f.calls
    f.calls++
    if err, ok := f.failOn[n]; ok { return nil, err }
    return fakeSession{id: fmt.Sprintf("s%d", f.invalidated)}, nil
}

func (f *fakeSessions) Invalidate() { f.invalidated++ }

type result struct {
    q   provider.RawQuote
    err error
}

type fakeFetcher struct {
    results map[string]result
    seen    []string
}

func (f *fakeFetcher) FetchQuote(_ context.Context, _ provider.Session, symbol string) (provider.RawQuote, error) {
    f.seen = append(f.seen, symbol)
    r, ok := f.results[symbol]
    if !ok {
        ltp, inav := 100.0, 99.0
        return provider.RawQuote{LastPrice: &ltp, INAVAvailable: true, INAV: &inav}, nil
    }
    return r.q, r.err
}

type sleeps []time.Duration

func (s *sleeps) sleep(ctx context.Context, d time.Duration) error {
    *s = append(*s, d)
    return ctx.Err()
}

func f64(v float64) *float64 { return &v }

func newTestAggregator(sessions SessionProvider, fetcher QuoteFetcher, s *sleeps) *Aggregator {
    return New(DefaultConfig(), sessions, fetcher, WithSleep(s.sleep))
}

func TestBuildSnapshot_PreservesInputOrder(t *testing.T) {
    perms := [][]string{
        {"GOLDBEES", "SETFGOLD", "GOLD1", "MOGSEC"},
        {"MOGSEC", "GOLD1", "GOLDBEES", "SETFGOLD"},
        {"GOLD1", "MOGSEC", "SETFGOLD", "GOLDBEES"},
    }
    for _, symbols := range perms {
        ff := &fakeFetcher{results: map[string]result{
            "GOLD1": {err: &provider.FetchError{Symbol: "GOLD1", Attempts: 4, Err: provider.ErrParse}},
        }}
        a := newTestAggregator(&fakeSessions{}, ff, &sleeps{})
        snap, err := a.BuildSnapshot(context.Background(), symbols)
        if err != nil { t.Fatalf("build: %v", err) }
        if len(snap.Records) != len(symbols) { t.Fatalf("want %d records, got %d", len(symbols), len(snap.Records)) }
        for i, r := range snap.Records {
            if r.Symbol != symbols[i] { t.Fatalf("record %d: want %s got %s", i, symbols[i], r.Symbol) }
        }
        for i, s := range ff.seen {
            if s != symbols[i] { t.Fatalf("fetch order %d: want %s got %s", i, symbols[i], s) }
        }
    }
}

func TestBuildSnapshot_IsolatesFailedSymbol(t *testing.T) {
    ltp, inav := 71.25, 70.95
    ff := &fakeFetcher{results: map[string]result{
        "GOLDBEES": {q: provider.RawQuote{LastPrice: &ltp, INAVAvailable: true, INAV: &inav}},
        "QGOLDHALF": {err: &provider.FetchError{Symbol: "QGOLDHALF", Attempts: 4, Err: fmt.Errorf("%w: status 502", provider.ErrNetwork)}},
    }}
    s := &sleeps{}
    sess := &fakeSessions{}
    a := newTestAggregator(sess, ff, s)

    snap, err := a.BuildSnapshot(context.Background(), []string{"GOLDBEES", "QGOLDHALF", "GOLD360"})
    if err != nil { t.Fatalf("build: %v", err) }

    bad := snap.Records[1]
    if bad.Error == "" || bad.LastPrice != nil || bad.INAV != nil || bad.DiscountPremium != nil || bad.INAVOK {
        t.Fatalf("unexpected error record: %+v", bad)
    }
    good := snap.Records[0]
    if good.Error != "" || good.DiscountPremium == nil || *good.DiscountPremium != 0.423 {
        t.Fatalf("unexpected good record: %+v", good)
    }
    if snap.Records[2].Error != "" { t.Fatalf("neighbour affected: %+v", snap.Records[2]) }
    if errs := snap.Errors(); len(errs) != 1 || errs[0].Symbol != "QGOLDHALF" {
        t.Fatalf("Errors(): %+v", errs)
    }

    // success, failure, success
    want := sleeps{200 * time.Millisecond, 600 * time.Millisecond, 200 * time.Millisecond}
    if fmt.Sprint(*s) != fmt.Sprint(want) { t.Fatalf("delays: want %v got %v", want, *s) }
    if sess.invalidated != 0 { t.Fatalf("network failure must not invalidate the session") }
}

func TestBuildSnapshot_BlockedSymbolInvalidatesSession(t *testing.T) {
    ff := &fakeFetcher{results: map[string]result{
        "GOLDCASE": {err: &provider.FetchError{Symbol: "GOLDCASE", Attempts: 4, Err: fmt.Errorf("%w: status 200 (text/html)", provider.ErrBlocked)}},
    }}
    sess := &fakeSessions{}
    a := newTestAggregator(sess, ff, &sleeps{})

    snap, err := a.BuildSnapshot(context.Background(), []string{"GOLDCASE", "AONEGOLD"})
    if err != nil { t.Fatalf("build: %v", err) }
    if sess.invalidated != 1 { t.Fatalf("want 1 invalidation, got %d", sess.invalidated) }
    if snap.Records[0].Error == "" || snap.Records[1].Error != "" { t.Fatalf("records: %+v", snap.Records) }
}

func TestBuildSnapshot_WarmUpFailureAbortsPass(t *testing.T) {
    warm := &provider.WarmUpError{URL: "https://www.nseindia.com/", Err: errors.New("unexpected status code: 403")}
    ff := &fakeFetcher{}
    a := newTestAggregator(&fakeSessions{failOn: map[int]error{0: warm}}, ff, &sleeps{})

    snap, err := a.BuildSnapshot(context.Background(), []string{"GOLDBEES", "SETFGOLD"})
    if snap != nil { t.Fatalf("no partial snapshot expected, got %+v", snap) }
    if !provider.IsWarmUp(err) { t.Fatalf("want warm-up error, got %v", err) }
    if len(ff.seen) != 0 { t.Fatalf("fetcher must not run: %v", ff.seen) }
}

func TestBuildSnapshot_LaterWarmUpFailureIsIsolated(t *testing.T) {
    warm := &provider.WarmUpError{URL: "https://www.nseindia.com/", Err: errors.New("timeout")}
    ff := &fakeFetcher{}
    a := newTestAggregator(&fakeSessions{failOn: map[int]error{1: warm}}, ff, &sleeps{})

    snap, err := a.BuildSnapshot(context.Background(), []string{"GOLDBEES", "SETFGOLD", "GOLD1"})
    if err != nil { t.Fatalf("build: %v", err) }
    if snap.Records[1].Error == "" || snap.Records[0].Error != "" || snap.Records[2].Error != "" {
        t.Fatalf("records: %+v", snap.Records)
    }
}

func TestBuildSnapshot_CanceledContext(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    cancel()
    a := newTestAggregator(&fakeSessions{}, &fakeFetcher{}, &sleeps{})
    if _, err := a.BuildSnapshot(ctx, []string{"GOLDBEES"}); !errors.Is(err, context.Canceled) {
        t.Fatalf("want context.Canceled, got %v", err)
    }
}

func TestBuildSnapshot_Timestamps(t *testing.T) {
    t0 := time.Date(2025, 3, 4, 9, 15, 0, 0, time.UTC)
    ticks := []time.Time{t0, t0.Add(5 * time.Second)}
    now := func() time.Time { v := ticks[0]; ticks = ticks[1:]; return v }
    a := New(DefaultConfig(), &fakeSessions{}, &fakeFetcher{}, WithSleep((&sleeps{}).sleep), WithClock(now))

    snap, err := a.BuildSnapshot(context.Background(), []string{"GOLDBEES"})
    if err != nil { t.Fatalf("build: %v", err) }
    if !snap.CreatedAt.Equal(t0.Add(5*time.Second)) || snap.Took != 5*time.Second || snap.ID == "" {
        t.Fatalf("unexpected metadata: %+v", snap)
    }
}

func TestDiscountPremium(t *testing.T) {
    cases := []struct {
        name      string
        ltp, inav *float64
        want      *float64
    }{
        {"premium", f64(71.25), f64(70.95), f64(0.423)},
        {"discount", f64(69.80), f64(70.00), f64(-0.286)},
        {"at par", f64(50), f64(50), f64(0)},
        {"zero ltp", f64(0), f64(25), f64(-100)},
        {"large values", f64(987654.321), f64(900000), f64(9.739)},
        {"negative inav", f64(1), f64(-2), f64(-150)},
        {"zero inav", f64(10), f64(0), nil},
        {"near-zero inav", f64(10), f64(1e-12), nil},
        {"nil inav", f64(10), nil, nil},
        {"nil ltp", nil, f64(10), nil},
        {"nan inav", f64(10), f64(math.NaN()), nil},
    }
    for _, tc := range cases {
        got := DiscountPremium(tc.ltp, tc.inav, 1e-9)
        switch {
        case tc.want == nil && got != nil:
            t.Fatalf("%s: want nil, got %v", tc.name, *got)
        case tc.want != nil && got == nil:
            t.Fatalf("%s: want %v, got nil", tc.name, *tc.want)
        case tc.want != nil && *got != *tc.want:
            t.Fatalf("%s: want %v, got %v", tc.name, *tc.want, *got)
        }
    }
}

func TestDiscountPremium_EpsilonIsConfigurable(t *testing.T) {
    if got := DiscountPremium(f64(1), f64(0.001), 0.01); got != nil {
        t.Fatalf("inav inside epsilon must be treated as missing, got %v", *got)
    }
    if got := DiscountPremium(f64(1), f64(0.001), 0); got == nil || *got != 99900 {
        t.Fatalf("exact-zero guard only: got %v", got)
    }
}

func TestNewRecord_NullDiscountIffINAVMissing(t *testing.T) {
    ltp := 10.0
    inav := 9.0
    quotes := []provider.RawQuote{
        {LastPrice: &ltp, INAVAvailable: true, INAV: &inav},
        {LastPrice: &ltp, INAVAvailable: false, INAV: &inav},
        {LastPrice: &ltp, INAVAvailable: true, INAV: nil},
    }
    for i, q := range quotes {
        r := NewRecord("GOLDBEES", q, 1e-9)
        inavMissing := !q.INAVAvailable || q.INAV == nil
        if (r.DiscountPremium == nil) != inavMissing {
            t.Fatalf("case %d: disc=%v inavMissing=%v", i, r.DiscountPremium, inavMissing)
        }
        if !q.INAVAvailable && r.INAV != nil { t.Fatalf("case %d: iNAV must be hidden when flag is off", i) }
    }
}
