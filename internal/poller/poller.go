package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/coinfeed/internal/model"
)

// Store receives loaded snapshots.
type Store interface {
	Symbols() []model.Symbol
	ApplySnapshot(entries map[model.Symbol]model.Entry) int
	Stale(maxAge time.Duration, now time.Time) []model.Symbol
}

// FeedStatus reports whether the push feed is delivering.
type FeedStatus interface {
	Connected() bool
}

// Config holds poller configuration.
type Config struct {
	Interval   time.Duration // Poll interval (default: 30s)
	StaleAfter time.Duration // Entry age that triggers a poll while the feed is up (default: 60s)
	Always     bool          // Poll on every tick regardless of feed state
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:   30 * time.Second,
		StaleAfter: 60 * time.Second,
	}
}

// Stats contains poller counters.
type Stats struct {
	Polls    int64     `json:"polls"`
	Skipped  int64     `json:"skipped"`
	Failures int64     `json:"failures"`
	Applied  int64     `json:"applied"`
	LastPoll time.Time `json:"last_poll"`
}

// Poller periodically reloads snapshots when the feed cannot be relied on.
type Poller struct {
	cfg    Config
	loader *Loader
	store  Store
	feed   FeedStatus
	logger *slog.Logger

	polls    atomic.Int64
	skipped  atomic.Int64
	failures atomic.Int64
	applied  atomic.Int64
	lastPoll atomic.Int64 // unix nanos

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller. feed may be nil, in which case every tick polls.
func New(cfg Config, loader *Loader, store Store, feed FeedStatus, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	return &Poller{
		cfg:    cfg,
		loader: loader,
		store:  store,
		feed:   feed,
		logger: logger.With("component", "poller"),
	}
}

// Start begins the polling loop. The first tick fires after one interval;
// the cold-start load is done by the caller through PollOnce.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("snapshot poller started",
		"interval", p.cfg.Interval,
		"stale_after", p.cfg.StaleAfter,
		"always", p.cfg.Always,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("snapshot poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			reason, ok := p.shouldPoll(time.Now())
			if !ok {
				p.skipped.Add(1)
				continue
			}
			p.logger.Debug("fallback poll", "reason", reason)
			p.PollOnce(p.ctx)
		}
	}
}

// shouldPoll decides whether a tick loads snapshots.
func (p *Poller) shouldPoll(now time.Time) (string, bool) {
	if p.cfg.Always {
		return "always", true
	}
	if p.feed == nil || !p.feed.Connected() {
		return "feed down", true
	}
	if stale := p.store.Stale(p.cfg.StaleAfter, now); len(stale) > 0 {
		return "stale entries", true
	}
	return "", false
}

// PollOnce loads every configured symbol and applies the result to the store.
// Returns the number of entries applied.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	start := time.Now()
	p.polls.Add(1)
	p.lastPoll.Store(start.UnixNano())

	symbols := p.store.Symbols()
	entries, err := p.loader.LoadAll(ctx, symbols)
	if err != nil {
		p.failures.Add(1)
		p.logger.Warn("poll cycle failed", "symbols", len(symbols), "error", err)
		return 0, err
	}

	n := p.store.ApplySnapshot(entries)
	p.applied.Add(int64(n))

	p.logger.Info("poll cycle complete",
		"symbols", len(symbols),
		"applied", n,
		"missing", len(symbols)-len(entries),
		"duration", time.Since(start),
	)
	return n, nil
}

// Stats returns poller counters.
func (p *Poller) Stats() Stats {
	s := Stats{
		Polls:    p.polls.Load(),
		Skipped:  p.skipped.Load(),
		Failures: p.failures.Load(),
		Applied:  p.applied.Load(),
	}
	if ns := p.lastPoll.Load(); ns != 0 {
		s.LastPoll = time.Unix(0, ns)
	}
	return s
}
