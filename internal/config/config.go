package config

import "time"

// FeedConfig is the root configuration for a marketfeed instance.
type FeedConfig struct {
	Symbols        []string           `yaml:"symbols"`
	DominantSymbol string             `yaml:"dominant_symbol"`
	Supply         map[string]float64 `yaml:"supply"` // Circulating supply estimate per symbol
	API            APIConfig          `yaml:"api"`
	Rate           RateConfig         `yaml:"rate"`
	Stream         StreamConfig       `yaml:"feed"`
	Poller         PollerConfig       `yaml:"poller"`
	Server         ServerConfig       `yaml:"server"`
	Log            LogConfig          `yaml:"log"`
}

// APIConfig holds exchange REST and stream settings.
type APIConfig struct {
	RestURL       string        `yaml:"rest_url"`
	StreamURL     string        `yaml:"stream_url"`
	StreamChannel string        `yaml:"stream_channel"` // "ticker" or "miniTicker"
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    int           `yaml:"max_retries"`
}

// RateConfig holds fiat conversion settings.
type RateConfig struct {
	URL             string        `yaml:"url"`
	BaseCurrency    string        `yaml:"base_currency"`
	TargetCurrency  string        `yaml:"target_currency"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	FallbackRate    float64       `yaml:"fallback_rate"` // Used until the first successful refresh
}

// StreamConfig holds WebSocket feed settings.
type StreamConfig struct {
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	ReconnectMaxDelay time.Duration `yaml:"reconnect_max_delay"` // > reconnect_delay enables exponential backoff
	PingInterval      time.Duration `yaml:"ping_interval"`
	PingTimeout       time.Duration `yaml:"ping_timeout"`
	BufferSize        int           `yaml:"buffer_size"`
}

// PollerConfig holds snapshot loader and fallback poller settings.
type PollerConfig struct {
	Interval      time.Duration `yaml:"interval"`
	Timeout       time.Duration `yaml:"timeout"` // Per-symbol request timeout
	Concurrency   int           `yaml:"concurrency"`
	KlineInterval string        `yaml:"kline_interval"`
	HistoryWindow int           `yaml:"history_window"`
	StaleAfter    time.Duration `yaml:"stale_after"`
	Always        bool          `yaml:"always"` // Poll every tick, even while the feed is open
}

// ServerConfig holds the HTTP read surface settings.
type ServerConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
