package nse

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"navprovider/internal/provider"

	"github.com/tidwall/gjson"
)

// ParseQuote extracts the price fields from a quote-equity payload:
//
//	{"priceInfo": {"lastPrice": 71.2, "checkINAV": true, "iNavValue": "70.95"}}
//
// Numbers may be JSON numbers or numeric strings; anything else reads as nil.
func ParseQuote(body []byte) (provider.RawQuote, error) {
	if !gjson.ValidBytes(body) {
		return provider.RawQuote{}, fmt.Errorf("%w: invalid JSON (%d bytes)", provider.ErrParse, len(body))
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return provider.RawQuote{}, fmt.Errorf("%w: expected object, got %s", provider.ErrParse, root.Type)
	}
	pi := root.Get("priceInfo")

	q := provider.RawQuote{
		LastPrice:     number(pi.Get("lastPrice")),
		INAVAvailable: pi.Get("checkINAV").Bool(),
	}
	if q.INAVAvailable {
		q.INAV = number(pi.Get("iNavValue"))
	}
	return q, nil
}

func number(r gjson.Result) *float64 {
	var v float64
	switch r.Type {
	case gjson.Number:
		v = r.Num
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil {
			return nil
		}
		v = f
	default:
		return nil
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
