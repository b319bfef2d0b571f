package rate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/coinfeed/internal/api"
)

// ErrRateUnavailable is returned when a refresh cannot produce a usable rate.
var ErrRateUnavailable = errors.New("rate unavailable")

// Source fetches conversion rates. Implemented by *api.Client.
type Source interface {
	GetLatestRates(ctx context.Context, base string) (*api.RatesResponse, error)
}

// Config holds Converter configuration.
type Config struct {
	Base            string        // e.g. "USD"
	Target          string        // e.g. "IDR"
	RefreshInterval time.Duration // Refresh loop period
	RequestTimeout  time.Duration // Per-refresh timeout
	Fallback        float64       // Served until the first successful refresh, must be > 0
}

// Stats describes refresh activity.
type Stats struct {
	Rate        float64   `json:"rate"`
	LastSuccess time.Time `json:"last_success"`
	LastError   string    `json:"last_error,omitempty"`
	Successes   int64     `json:"successes"`
	Failures    int64     `json:"failures"`
}

// Converter holds the current conversion rate.
type Converter struct {
	cfg    Config
	source Source
	logger *slog.Logger

	current atomic.Uint64 // math.Float64bits of the rate

	mu          sync.Mutex
	lastSuccess time.Time
	lastErr     error
	successes   int64
	failures    int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConverter creates a Converter seeded with cfg.Fallback.
func NewConverter(cfg Config, source Source, logger *slog.Logger) (*Converter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !usable(cfg.Fallback) {
		return nil, fmt.Errorf("fallback rate %v must be positive and finite", cfg.Fallback)
	}
	if cfg.Target == "" {
		return nil, errors.New("target currency is required")
	}
	if cfg.Base == "" {
		cfg.Base = "USD"
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 10 * time.Minute
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	cfg.Base = strings.ToUpper(cfg.Base)
	cfg.Target = strings.ToUpper(cfg.Target)

	c := &Converter{
		cfg:    cfg,
		source: source,
		logger: logger.With("component", "rate", "pair", cfg.Base+"/"+cfg.Target),
	}
	c.current.Store(math.Float64bits(cfg.Fallback))
	return c, nil
}

// Target returns the target currency code.
func (c *Converter) Target() string {
	return c.cfg.Target
}

// Current returns the cached rate. It never blocks and is always > 0.
func (c *Converter) Current() float64 {
	return math.Float64frombits(c.current.Load())
}

// Refresh fetches the rate once. On failure the cached rate is left unchanged
// and the error wraps ErrRateUnavailable.
func (c *Converter) Refresh(ctx context.Context) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	v, err := c.fetch(ctx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrRateUnavailable, err)
		c.mu.Lock()
		c.lastErr = err
		c.failures++
		c.mu.Unlock()
		return c.Current(), err
	}

	c.current.Store(math.Float64bits(v))
	c.mu.Lock()
	c.lastSuccess = time.Now()
	c.lastErr = nil
	c.successes++
	c.mu.Unlock()
	return v, nil
}

func (c *Converter) fetch(ctx context.Context) (float64, error) {
	resp, err := c.source.GetLatestRates(ctx, c.cfg.Base)
	if err != nil {
		return 0, err
	}
	v, ok := resp.Rates[c.cfg.Target]
	if !ok {
		return 0, fmt.Errorf("no %s rate in response", c.cfg.Target)
	}
	if !usable(v) {
		return 0, fmt.Errorf("%s rate %v is not positive and finite", c.cfg.Target, v)
	}
	return v, nil
}

// Start begins the background refresh loop. The first refresh happens after
// one interval; callers that need a fresh rate up front call Refresh first.
func (c *Converter) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.refreshLoop()
	}()

	c.logger.Info("rate converter started", "interval", c.cfg.RefreshInterval, "rate", c.Current())
	return nil
}

// Stop stops the refresh loop.
func (c *Converter) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("rate converter stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Converter) refreshLoop() {
	ticker := time.NewTicker(c.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			prev := c.Current()
			v, err := c.Refresh(c.ctx)
			if err != nil {
				if c.ctx.Err() != nil {
					return
				}
				c.logger.Warn("rate refresh failed, keeping last rate", "rate", v, "error", err)
				continue
			}
			if v != prev {
				c.logger.Debug("rate updated", "previous", prev, "rate", v)
			}
		}
	}
}

// Stats returns refresh statistics.
func (c *Converter) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Rate:        c.Current(),
		LastSuccess: c.lastSuccess,
		Successes:   c.successes,
		Failures:    c.failures,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

func usable(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
