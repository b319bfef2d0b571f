package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/coinfeed/internal/connection"
	"github.com/rickgao/coinfeed/internal/model"
)

// Applier receives decoded increments. Implemented by *market.Store.
type Applier interface {
	ApplyIncrement(sym model.Symbol, f model.Fields) (bool, error)
}

// Router decodes raw stream messages and applies them to the store.
type Router struct {
	cfg    Config
	logger *slog.Logger

	// Input from the Feed
	input <-chan connection.RawMessage
	store Applier

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	received      atomic.Int64
	decoded       atomic.Int64
	applied       atomic.Int64
	ignored       atomic.Int64
	skipped       atomic.Int64
	decodeErrors  atomic.Int64
	applyErrors   atomic.Int64
	lastMessageAt atomic.Int64 // unix nanos
}

// New creates a new Message Router.
func New(cfg Config, input <-chan connection.RawMessage, store Applier, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = DefaultConfig().LogEvery
	}

	return &Router{
		cfg:    cfg,
		logger: logger.With("component", "router"),
		input:  input,
		store:  store,
	}
}

// Start begins routing messages.
func (r *Router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.routeLoop()

	r.logger.Info("message router started")
	return nil
}

// Stop gracefully shuts down the router.
func (r *Router) Stop(ctx context.Context) error {
	r.logger.Info("stopping message router")

	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("message router stopped")
		return nil
	case <-ctx.Done():
		r.logger.Warn("message router stop timed out")
		return ctx.Err()
	}
}

// Stats returns current statistics.
func (r *Router) Stats() Stats {
	s := Stats{
		Received:     r.received.Load(),
		Decoded:      r.decoded.Load(),
		Applied:      r.applied.Load(),
		Ignored:      r.ignored.Load(),
		Skipped:      r.skipped.Load(),
		DecodeErrors: r.decodeErrors.Load(),
		ApplyErrors:  r.applyErrors.Load(),
	}
	if ns := r.lastMessageAt.Load(); ns != 0 {
		s.LastMessageAt = time.Unix(0, ns)
	}
	return s
}

// routeLoop is the main routing goroutine.
func (r *Router) routeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case raw, ok := <-r.input:
			if !ok {
				r.logger.Info("input channel closed")
				return
			}
			r.Route(raw)
		}
	}
}

// Route decodes one message and applies it. Each accepted message results
// in exactly one ApplyIncrement call.
func (r *Router) Route(raw connection.RawMessage) {
	r.received.Add(1)
	r.lastMessageAt.Store(raw.ReceivedAt.UnixNano())

	inc, err := Decode(raw.Data)
	switch {
	case err == nil:
	case errors.Is(err, ErrControl), errors.Is(err, ErrUnsupported):
		r.skipped.Add(1)
		r.logger.Debug("skipping message", "reason", err)
		return
	default:
		if n := r.decodeErrors.Add(1); n == 1 || n%r.cfg.LogEvery == 0 {
			r.logger.Warn("failed to decode message",
				"error", err,
				"session", raw.Session.String(),
				"decode_errors", n,
			)
		}
		return
	}
	r.decoded.Add(1)

	ok, err := r.store.ApplyIncrement(inc.Symbol, inc.Fields)
	switch {
	case err != nil:
		r.applyErrors.Add(1)
		r.logger.Warn("failed to apply increment", "symbol", inc.Symbol, "error", err)
	case ok:
		r.applied.Add(1)
	default:
		r.ignored.Add(1)
	}
}
