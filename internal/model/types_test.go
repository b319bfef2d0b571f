package model

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		in   string
		want Symbol
	}{
		{"btcusdt", "BTCUSDT"},
		{"  EthUsdt ", "ETHUSDT"},
		{"BNBUSDT", "BNBUSDT"},
	}
	for _, tt := range tests {
		if got := NormalizeSymbol(tt.in); got != tt.want {
			t.Errorf("NormalizeSymbol(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if got := Symbol("BTCUSDT").Lower(); got != "btcusdt" {
		t.Errorf("Lower() = %q, want %q", got, "btcusdt")
	}
}

func TestEntry_Merge_PartialFields(t *testing.T) {
	e := Entry{Symbol: "BTCUSDT", Price: 90, Volume: 5, High: 95}

	e.Merge(Fields{Price: Float(100)})

	if e.Price != 100 {
		t.Errorf("Price = %v, want 100", e.Price)
	}
	if e.Volume != 5 {
		t.Errorf("Volume = %v, want 5", e.Volume)
	}
	if e.High != 95 {
		t.Errorf("High = %v, want 95", e.High)
	}
}

func TestEntry_Merge_ZeroIsWritten(t *testing.T) {
	e := Entry{ChangePercent: 3.5}

	e.Merge(Fields{ChangePercent: Float(0)})

	if e.ChangePercent != 0 {
		t.Errorf("ChangePercent = %v, want 0", e.ChangePercent)
	}
}

func TestEntry_Merge_MarksLiveFields(t *testing.T) {
	var e Entry

	e.Merge(Fields{Price: Float(100), Volume: Float(2)})
	e.Merge(Fields{High: Float(110)})

	want := FieldPrice | FieldVolume | FieldHigh
	if e.Live != want {
		t.Errorf("Live = %08b, want %08b", e.Live, want)
	}
	if e.Live.Has(FieldChangePercent) {
		t.Error("Live has change percent, never written")
	}
	if !e.Clone().Live.Has(FieldPrice | FieldHigh) {
		t.Error("Clone dropped Live")
	}
}

func TestEntry_Clone(t *testing.T) {
	e := Entry{Symbol: "ETHUSDT", History: []float64{1, 2, 3}}

	c := e.Clone()
	c.History[0] = 99

	if e.History[0] != 1 {
		t.Errorf("original History[0] = %v, want 1", e.History[0])
	}
}

func TestEntry_Validate(t *testing.T) {
	tests := []struct {
		name    string
		entry   Entry
		wantErr bool
	}{
		{"valid", Entry{Price: 1, Volume: 2, ChangePercent: -4.2}, false},
		{"negative price", Entry{Price: -1}, true},
		{"nan volume", Entry{Volume: math.NaN()}, true},
		{"inf change", Entry{ChangePercent: math.Inf(1)}, true},
		{"negative history", Entry{History: []float64{1, -2}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entry.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidValue) {
				t.Errorf("Validate() error = %v, want ErrInvalidValue", err)
			}
		})
	}
}

func TestFields_ValidateAndEmpty(t *testing.T) {
	if !(Fields{EventTime: time.Now()}).Empty() {
		t.Error("Fields with only EventTime should be empty")
	}
	if (Fields{Low: Float(1)}).Empty() {
		t.Error("Fields with Low should not be empty")
	}

	if err := (Fields{ChangePercent: Float(-12)}).Validate(); err != nil {
		t.Errorf("negative change percent should be valid, got %v", err)
	}
	if err := (Fields{Price: Float(math.Inf(-1))}).Validate(); err == nil {
		t.Error("expected error for infinite price")
	}
}

func TestAppendHistory_EvictsOldest(t *testing.T) {
	var h []float64
	for i := 1; i <= 5; i++ {
		h = AppendHistory(h, float64(i), 3)
	}

	if len(h) != 3 {
		t.Fatalf("len(h) = %d, want 3", len(h))
	}
	for i, want := range []float64{3, 4, 5} {
		if h[i] != want {
			t.Errorf("h[%d] = %v, want %v", i, h[i], want)
		}
	}
}

func TestTrimHistory_DefaultWindow(t *testing.T) {
	h := make([]float64, 30)
	if got := len(TrimHistory(h, 0)); got != DefaultHistoryWindow {
		t.Errorf("len = %d, want %d", got, DefaultHistoryWindow)
	}
}
