package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/coinfeed/internal/api"
	"github.com/rickgao/coinfeed/internal/model"
)

// ErrNoDataAvailable is returned when a non-empty request produced no entries.
var ErrNoDataAvailable = errors.New("no data available")

// Exchange provides REST market data. Implemented by *api.Client.
type Exchange interface {
	GetTicker24hr(ctx context.Context, symbol string) (*api.Ticker24hr, error)
	GetKlines(ctx context.Context, symbol string, opts api.KlinesOptions) ([]api.Kline, error)
}

// LoaderConfig holds snapshot loader configuration.
type LoaderConfig struct {
	Concurrency   int           // Max symbols in flight (default: 10)
	Timeout       time.Duration // Per-symbol timeout (default: 10s)
	KlineInterval string        // Candle interval for history (default: "1h")
	HistoryWindow int           // Candles per symbol (default: 24)
}

// Loader fetches full snapshots for a set of symbols.
type Loader struct {
	cfg    LoaderConfig
	client Exchange
	logger *slog.Logger
}

// NewLoader creates a Loader.
func NewLoader(cfg LoaderConfig, client Exchange, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.KlineInterval == "" {
		cfg.KlineInterval = "1h"
	}
	if cfg.HistoryWindow < 1 {
		cfg.HistoryWindow = model.DefaultHistoryWindow
	}
	return &Loader{
		cfg:    cfg,
		client: client,
		logger: logger.With("component", "loader"),
	}
}

// LoadAll fetches every symbol independently. Failed symbols are logged and
// left out of the result. If none succeed the error wraps ErrNoDataAvailable.
func (l *Loader) LoadAll(ctx context.Context, symbols []model.Symbol) (map[model.Symbol]model.Entry, error) {
	start := time.Now()
	result := make(map[model.Symbol]model.Entry, len(symbols))
	if len(symbols) == 0 {
		return result, nil
	}

	var (
		mu     sync.Mutex
		failed int
		g      errgroup.Group
	)
	g.SetLimit(l.cfg.Concurrency)

	for _, sym := range symbols {
		sym := sym // per-iteration copy (go 1.21 loop semantics)
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			e, err := l.loadOne(ctx, sym)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				l.logger.Warn("failed to load symbol", "symbol", sym, "error", err)
				return nil
			}
			result[sym] = e
			return nil
		})
	}
	g.Wait()

	l.logger.Debug("snapshot load complete",
		"symbols", len(symbols),
		"loaded", len(result),
		"failed", failed,
		"duration", time.Since(start),
	)

	if len(result) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: 0 of %d symbols loaded", ErrNoDataAvailable, len(symbols))
	}
	return result, nil
}

// loadOne fetches ticker and klines for one symbol in parallel.
func (l *Loader) loadOne(ctx context.Context, sym model.Symbol) (model.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	var (
		ticker *api.Ticker24hr
		klines []api.Kline
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ticker, err = l.client.GetTicker24hr(gctx, string(sym))
		return err
	})
	g.Go(func() error {
		var err error
		klines, err = l.client.GetKlines(gctx, string(sym), api.KlinesOptions{
			Interval: l.cfg.KlineInterval,
			Limit:    l.cfg.HistoryWindow,
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return model.Entry{}, err
	}

	e, err := ticker.ToEntry(klines, l.cfg.HistoryWindow)
	if err != nil {
		return model.Entry{}, err
	}
	if e.Symbol != sym {
		return model.Entry{}, fmt.Errorf("response symbol %s does not match %s", e.Symbol, sym)
	}
	return e, nil
}
