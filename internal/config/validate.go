package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *FeedConfig) Validate() error {
	if len(c.Symbols) == 0 {
		return errors.New("symbols is required")
	}
	seen := make(map[string]bool, len(c.Symbols))
	for i, s := range c.Symbols {
		if s == "" {
			return fmt.Errorf("symbols[%d] is empty", i)
		}
		if seen[s] {
			return fmt.Errorf("symbols[%d] %q is duplicated", i, s)
		}
		seen[s] = true
	}
	if c.DominantSymbol == "" {
		return errors.New("dominant_symbol is required")
	}
	for sym, v := range c.Supply {
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("supply.%s must be > 0, got %v", sym, v)
		}
	}

	if c.API.RestURL == "" {
		return errors.New("api.rest_url is required")
	}
	if c.API.StreamURL == "" {
		return errors.New("api.stream_url is required")
	}
	if c.API.StreamChannel != "ticker" && c.API.StreamChannel != "miniTicker" {
		return fmt.Errorf("api.stream_channel must be ticker or miniTicker, got %q", c.API.StreamChannel)
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	if err := c.Rate.validate(); err != nil {
		return err
	}

	if c.Stream.ReconnectDelay <= 0 {
		return errors.New("feed.reconnect_delay must be > 0")
	}
	if c.Stream.ReconnectMaxDelay < 0 {
		return errors.New("feed.reconnect_max_delay must be >= 0")
	}
	if c.Stream.BufferSize < 1 {
		return errors.New("feed.buffer_size must be >= 1")
	}

	if c.Poller.Interval <= 0 {
		return errors.New("poller.interval must be > 0")
	}
	if c.Poller.Concurrency < 1 {
		return errors.New("poller.concurrency must be >= 1")
	}
	if c.Poller.HistoryWindow < 1 {
		return errors.New("poller.history_window must be >= 1")
	}

	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > 65535) {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (r *RateConfig) validate() error {
	if r.URL == "" {
		return errors.New("rate.url is required")
	}
	if r.TargetCurrency == "" {
		return errors.New("rate.target_currency is required")
	}
	if !(r.FallbackRate > 0) || math.IsInf(r.FallbackRate, 0) {
		return fmt.Errorf("rate.fallback_rate must be > 0, got %v", r.FallbackRate)
	}
	if r.RefreshInterval <= 0 {
		return errors.New("rate.refresh_interval must be > 0")
	}
	return nil
}

// SlogLevel maps the configured level name to a slog.Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level %q is not one of debug, info, warn, error", l.Level)
}
