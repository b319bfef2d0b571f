package api

import (
	"encoding/json"
	"fmt"
)

// Ticker24hr from GET /ticker/24hr?symbol=...
// Numeric values arrive as decimal strings.
type Ticker24hr struct {
	Symbol             string `json:"symbol"`
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
	LastPrice          string `json:"lastPrice"`
	OpenPrice          string `json:"openPrice"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
	OpenTime           int64  `json:"openTime"`  // ms since epoch
	CloseTime          int64  `json:"closeTime"` // ms since epoch
}

// Kline is one candle from GET /klines. The wire format is a positional array:
// [openTime, open, high, low, close, volume, closeTime, quoteVolume, ...].
type Kline struct {
	OpenTime  int64
	Open      string
	High      string
	Low       string
	Close     string
	Volume    string
	CloseTime int64
}

// UnmarshalJSON decodes the positional array form.
func (k *Kline) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 7 {
		return fmt.Errorf("kline has %d fields, want at least 7", len(raw))
	}

	targets := []any{&k.OpenTime, &k.Open, &k.High, &k.Low, &k.Close, &k.Volume, &k.CloseTime}
	for i, target := range targets {
		if err := json.Unmarshal(raw[i], target); err != nil {
			return fmt.Errorf("kline field %d: %w", i, err)
		}
	}
	return nil
}

// KlinesOptions configures a GetKlines request.
type KlinesOptions struct {
	Interval string // e.g. "1h"
	Limit    int
}

// RatesResponse from GET /latest/{base}
type RatesResponse struct {
	Base            string             `json:"base"`
	Date            string             `json:"date"`
	TimeLastUpdated int64              `json:"time_last_updated"` // seconds since epoch
	Rates           map[string]float64 `json:"rates"`
}
