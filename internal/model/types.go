package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// DefaultHistoryWindow is the number of recent close prices kept per symbol.
const DefaultHistoryWindow = 24

// ErrInvalidValue is returned when a price or volume field is negative or not finite.
var ErrInvalidValue = errors.New("invalid value")

// Symbol identifies one tradable instrument (e.g. "BTCUSDT").
type Symbol string

// NormalizeSymbol trims and upper-cases an exchange symbol.
func NormalizeSymbol(s string) Symbol {
	return Symbol(strings.ToUpper(strings.TrimSpace(s)))
}

// Lower returns the lower-case form used in stream names.
func (s Symbol) Lower() string {
	return strings.ToLower(string(s))
}

// -----------------------------------------------------------------------------
// Market State
// -----------------------------------------------------------------------------

// Entry is the per-symbol market record held by the store.
type Entry struct {
	Symbol        Symbol    `json:"symbol"`
	Price         float64   `json:"price"`          // Last trade price
	OpenPrice     float64   `json:"open_price"`     // 24h open
	High          float64   `json:"high"`           // 24h high
	Low           float64   `json:"low"`            // 24h low
	ChangePercent float64   `json:"change_percent"` // 24h change, may be negative
	Volume        float64   `json:"volume"`         // 24h base volume
	QuoteVolume   float64   `json:"quote_volume"`   // 24h quote volume
	History       []float64 `json:"history"`        // Recent close prices, oldest first

	UpdatedAt   time.Time `json:"updated_at"`   // As-of time of the last mutation
	SnapshotAt  time.Time `json:"snapshot_at"`  // As-of time of the last snapshot
	IncrementAt time.Time `json:"increment_at"` // Event time of the last increment

	Live FieldMask `json:"-"` // Fields written by increments since the last snapshot that superseded them
}

// FieldMask is a set of Entry fields.
type FieldMask uint8

const (
	FieldPrice FieldMask = 1 << iota
	FieldOpenPrice
	FieldHigh
	FieldLow
	FieldChangePercent
	FieldVolume
	FieldQuoteVolume
)

// Has reports whether every field in f is set in m.
func (m FieldMask) Has(f FieldMask) bool {
	return m&f == f
}

// Clone returns a deep copy of the entry.
func (e Entry) Clone() Entry {
	c := e
	if e.History != nil {
		c.History = make([]float64, len(e.History))
		copy(c.History, e.History)
	}
	return c
}

// Validate checks the non-negative, finite invariants.
func (e Entry) Validate() error {
	checks := []struct {
		name string
		v    float64
	}{
		{"price", e.Price},
		{"open_price", e.OpenPrice},
		{"high", e.High},
		{"low", e.Low},
		{"volume", e.Volume},
		{"quote_volume", e.QuoteVolume},
	}
	for _, c := range checks {
		if err := checkNonNegative(c.name, c.v); err != nil {
			return err
		}
	}
	if !isFinite(e.ChangePercent) {
		return fmt.Errorf("change_percent: %w", ErrInvalidValue)
	}
	for i, v := range e.History {
		if err := checkNonNegative(fmt.Sprintf("history[%d]", i), v); err != nil {
			return err
		}
	}
	return nil
}

// Fields is a partial Entry carried by a push message.
// Nil fields are absent and must not be written.
type Fields struct {
	Price         *float64
	OpenPrice     *float64
	High          *float64
	Low           *float64
	ChangePercent *float64
	Volume        *float64
	QuoteVolume   *float64

	EventTime time.Time // Exchange event time (zero if the payload has none)
}

// Empty reports whether no field is present.
func (f Fields) Empty() bool {
	return f.Price == nil && f.OpenPrice == nil && f.High == nil && f.Low == nil &&
		f.ChangePercent == nil && f.Volume == nil && f.QuoteVolume == nil
}

// Validate checks every present field.
func (f Fields) Validate() error {
	checks := []struct {
		name string
		v    *float64
	}{
		{"price", f.Price},
		{"open_price", f.OpenPrice},
		{"high", f.High},
		{"low", f.Low},
		{"volume", f.Volume},
		{"quote_volume", f.QuoteVolume},
	}
	for _, c := range checks {
		if c.v == nil {
			continue
		}
		if err := checkNonNegative(c.name, *c.v); err != nil {
			return err
		}
	}
	if f.ChangePercent != nil && !isFinite(*f.ChangePercent) {
		return fmt.Errorf("change_percent: %w", ErrInvalidValue)
	}
	return nil
}

// Merge writes the present fields into e and marks them in e.Live.
// Absent fields keep their value.
func (e *Entry) Merge(f Fields) {
	set := func(dst *float64, v *float64, bit FieldMask) {
		if v != nil {
			*dst = *v
			e.Live |= bit
		}
	}
	set(&e.Price, f.Price, FieldPrice)
	set(&e.OpenPrice, f.OpenPrice, FieldOpenPrice)
	set(&e.High, f.High, FieldHigh)
	set(&e.Low, f.Low, FieldLow)
	set(&e.ChangePercent, f.ChangePercent, FieldChangePercent)
	set(&e.Volume, f.Volume, FieldVolume)
	set(&e.QuoteVolume, f.QuoteVolume, FieldQuoteVolume)
}

// Float returns a pointer to v, for building Fields.
func Float(v float64) *float64 {
	return &v
}

// -----------------------------------------------------------------------------
// History
// -----------------------------------------------------------------------------

// AppendHistory appends v and evicts the oldest values beyond window.
func AppendHistory(h []float64, v float64, window int) []float64 {
	h = append(h, v)
	return TrimHistory(h, window)
}

// TrimHistory keeps at most the window most recent values.
func TrimHistory(h []float64, window int) []float64 {
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	if len(h) <= window {
		return h
	}
	out := make([]float64, window)
	copy(out, h[len(h)-window:])
	return out
}

func checkNonNegative(name string, v float64) error {
	if !isFinite(v) || v < 0 {
		return fmt.Errorf("%s=%v: %w", name, v, ErrInvalidValue)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
