package config

import (
	"strings"
	"time"
)

// Default values for optional configuration fields.
const (
	DefaultRestURL          = "https://api.binance.com/api/v3"
	DefaultStreamURL        = "wss://stream.binance.com:9443"
	DefaultStreamChannel    = "ticker"
	DefaultAPITimeout       = 30 * time.Second
	DefaultMaxRetries       = 3
	DefaultDominantSymbol   = "BTCUSDT"
	DefaultRateURL          = "https://api.exchangerate-api.com/v4"
	DefaultBaseCurrency     = "USD"
	DefaultTargetCurrency   = "IDR"
	DefaultRateRefresh      = 10 * time.Minute
	DefaultFallbackRate     = 16000
	DefaultReconnectDelay   = 3 * time.Second
	DefaultPingInterval     = 15 * time.Second
	DefaultPingTimeout      = 30 * time.Second
	DefaultStreamBufferSize = 1000
	DefaultPollInterval     = 30 * time.Second
	DefaultPollTimeout      = 10 * time.Second
	DefaultPollConcurrency  = 10
	DefaultKlineInterval    = "1h"
	DefaultHistoryWindow    = 24
	DefaultStaleAfter       = 60 * time.Second
	DefaultServerPort       = 8080
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
)

// DefaultSymbols is used when no symbols are configured.
var DefaultSymbols = []string{
	"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT", "XRPUSDT",
	"ADAUSDT", "DOGEUSDT", "DOTUSDT", "MATICUSDT", "LTCUSDT",
}

// DefaultSupply holds rough circulating supply estimates for market cap approximation.
var DefaultSupply = map[string]float64{
	"BTCUSDT":   19_600_000,
	"ETHUSDT":   120_000_000,
	"BNBUSDT":   154_000_000,
	"SOLUSDT":   425_000_000,
	"XRPUSDT":   54_000_000_000,
	"ADAUSDT":   35_000_000_000,
	"DOGEUSDT":  141_000_000_000,
	"DOTUSDT":   1_200_000_000,
	"MATICUSDT": 9_300_000_000,
	"LTCUSDT":   73_000_000,
}

// ApplyDefaults fills unset fields and normalizes symbol and currency case.
func (c *FeedConfig) ApplyDefaults() {
	if len(c.Symbols) == 0 {
		c.Symbols = append([]string(nil), DefaultSymbols...)
	}
	for i, s := range c.Symbols {
		c.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	if c.DominantSymbol == "" {
		c.DominantSymbol = DefaultDominantSymbol
	}
	c.DominantSymbol = strings.ToUpper(c.DominantSymbol)

	supply := make(map[string]float64, len(DefaultSupply)+len(c.Supply))
	for k, v := range DefaultSupply {
		supply[k] = v
	}
	for k, v := range c.Supply {
		supply[strings.ToUpper(k)] = v
	}
	c.Supply = supply

	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.StreamURL == "" {
		c.API.StreamURL = DefaultStreamURL
	}
	if c.API.StreamChannel == "" {
		c.API.StreamChannel = DefaultStreamChannel
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Rate defaults
	if c.Rate.URL == "" {
		c.Rate.URL = DefaultRateURL
	}
	if c.Rate.BaseCurrency == "" {
		c.Rate.BaseCurrency = DefaultBaseCurrency
	}
	if c.Rate.TargetCurrency == "" {
		c.Rate.TargetCurrency = DefaultTargetCurrency
	}
	c.Rate.BaseCurrency = strings.ToUpper(c.Rate.BaseCurrency)
	c.Rate.TargetCurrency = strings.ToUpper(c.Rate.TargetCurrency)
	if c.Rate.RefreshInterval == 0 {
		c.Rate.RefreshInterval = DefaultRateRefresh
	}
	if c.Rate.FallbackRate == 0 {
		c.Rate.FallbackRate = DefaultFallbackRate
	}

	// Feed defaults
	if c.Stream.ReconnectDelay == 0 {
		c.Stream.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Stream.PingInterval == 0 {
		c.Stream.PingInterval = DefaultPingInterval
	}
	if c.Stream.PingTimeout == 0 {
		c.Stream.PingTimeout = DefaultPingTimeout
	}
	if c.Stream.BufferSize == 0 {
		c.Stream.BufferSize = DefaultStreamBufferSize
	}

	// Poller defaults
	if c.Poller.Interval == 0 {
		c.Poller.Interval = DefaultPollInterval
	}
	if c.Poller.Timeout == 0 {
		c.Poller.Timeout = DefaultPollTimeout
	}
	if c.Poller.Concurrency == 0 {
		c.Poller.Concurrency = DefaultPollConcurrency
	}
	if c.Poller.KlineInterval == "" {
		c.Poller.KlineInterval = DefaultKlineInterval
	}
	if c.Poller.HistoryWindow == 0 {
		c.Poller.HistoryWindow = DefaultHistoryWindow
	}
	if c.Poller.StaleAfter == 0 {
		c.Poller.StaleAfter = DefaultStaleAfter
	}

	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}
