package api

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/coinfeed/internal/model"
)

// ErrInvalidNumber is returned for empty, malformed, non-finite or out-of-range numbers.
var ErrInvalidNumber = errors.New("invalid number")

// ParseDecimal strictly parses an exchange decimal string ("50000.01000000").
// Unlike strconv.ParseFloat it rejects "NaN", "Inf" and hex forms.
func ParseDecimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty string: %w", ErrInvalidNumber)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", s, ErrInvalidNumber)
	}

	f := d.InexactFloat64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("%q out of range: %w", s, ErrInvalidNumber)
	}
	return f, nil
}

// ParseNonNegative parses a decimal that must be >= 0 (prices, volumes).
func ParseNonNegative(s string) (float64, error) {
	f, err := ParseDecimal(s)
	if err != nil {
		return 0, err
	}
	if f < 0 {
		return 0, fmt.Errorf("%q is negative: %w", s, ErrInvalidNumber)
	}
	return f, nil
}

// MillisToTime converts milliseconds since epoch to time.Time (zero for 0).
func MillisToTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// ToEntry converts a 24h ticker and its klines to a model.Entry.
// Any field that fails to parse invalidates the whole entry.
func (t *Ticker24hr) ToEntry(klines []Kline, window int) (model.Entry, error) {
	e := model.Entry{Symbol: model.NormalizeSymbol(t.Symbol)}

	nonNegative := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"lastPrice", t.LastPrice, &e.Price},
		{"openPrice", t.OpenPrice, &e.OpenPrice},
		{"highPrice", t.HighPrice, &e.High},
		{"lowPrice", t.LowPrice, &e.Low},
		{"volume", t.Volume, &e.Volume},
		{"quoteVolume", t.QuoteVolume, &e.QuoteVolume},
	}
	for _, f := range nonNegative {
		v, err := ParseNonNegative(f.raw)
		if err != nil {
			return model.Entry{}, fmt.Errorf("%s %s: %w", e.Symbol, f.name, err)
		}
		*f.dst = v
	}

	change, err := ParseDecimal(t.PriceChangePercent)
	if err != nil {
		return model.Entry{}, fmt.Errorf("%s priceChangePercent: %w", e.Symbol, err)
	}
	e.ChangePercent = change

	history := make([]float64, 0, len(klines))
	for i, k := range klines {
		v, err := ParseNonNegative(k.Close)
		if err != nil {
			return model.Entry{}, fmt.Errorf("%s kline %d close: %w", e.Symbol, i, err)
		}
		history = model.AppendHistory(history, v, window)
	}
	e.History = history

	asOf := MillisToTime(t.CloseTime)
	if asOf.IsZero() {
		asOf = time.Now()
	}
	e.UpdatedAt = asOf
	e.SnapshotAt = asOf

	return e, nil
}
