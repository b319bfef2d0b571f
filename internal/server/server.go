package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rickgao/coinfeed/internal/connection"
	"github.com/rickgao/coinfeed/internal/market"
	"github.com/rickgao/coinfeed/internal/model"
	"github.com/rickgao/coinfeed/internal/poller"
	"github.com/rickgao/coinfeed/internal/rate"
	"github.com/rickgao/coinfeed/internal/router"
)

// Store is the read side of the market table. Implemented by *market.Store.
type Store interface {
	Has(sym model.Symbol) bool
	Get(sym model.Symbol) (model.Entry, bool)
	SnapshotAll() []model.Entry
	SnapshotAllSeq() ([]model.Entry, uint64)
	Ready() bool
	Stale(maxAge time.Duration, now time.Time) []model.Symbol
	Subscribe(l market.Listener) (unsubscribe func())
	Stats() market.Stats
}

// FeedStatus is implemented by *connection.Feed.
type FeedStatus interface {
	Stats() connection.FeedStats
}

// RateSource is implemented by *rate.Converter.
type RateSource interface {
	Current() float64
	Target() string
	Stats() rate.Stats
}

// RouterStatus is implemented by *router.Router.
type RouterStatus interface {
	Stats() router.Stats
}

// PollerStatus is implemented by *poller.Poller.
type PollerStatus interface {
	Stats() poller.Stats
}

// Deps are the components the server reads from. Router and Poller are optional.
type Deps struct {
	Store  Store
	Feed   FeedStatus
	Rate   RateSource
	Router RouterStatus
	Poller PollerStatus
}

// Config holds server configuration.
type Config struct {
	Port           int
	StaleAfter     time.Duration // Entry age reported as stale by /health
	DominantSymbol model.Symbol
	Supply         market.Supply
	TopN           int // Default top movers count for /summary
	ClientBuffer   int // Per-client WebSocket send buffer
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Port:           8080,
		StaleAfter:     60 * time.Second,
		DominantSymbol: "BTCUSDT",
		TopN:           5,
		ClientBuffer:   64,
	}
}

// Server serves the HTTP and WebSocket surface.
type Server struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	engine *gin.Engine
	http   *http.Server
	hub    *Hub

	unsubscribe func()
	errCh       chan error
}

// New creates a Server. Store, Feed and Rate are required.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Store == nil || deps.Feed == nil || deps.Rate == nil {
		return nil, errors.New("server: store, feed and rate are required")
	}

	def := DefaultConfig()
	if cfg.Port <= 0 {
		cfg.Port = def.Port
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.DominantSymbol == "" {
		cfg.DominantSymbol = def.DominantSymbol
	}
	if cfg.TopN <= 0 {
		cfg.TopN = def.TopN
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = def.ClientBuffer
	}

	logger = logger.With("component", "server")
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		hub:    NewHub(cfg.ClientBuffer, logger),
		errCh:  make(chan error, 1),
	}
	s.engine = s.routes()
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the gin engine, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start subscribes the hub to store updates and begins listening.
func (s *Server) Start(ctx context.Context) error {
	s.unsubscribe = s.deps.Store.Subscribe(s.broadcast)

	go func() {
		s.logger.Info("http server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
			s.errCh <- err
		}
	}()
	return nil
}

// Err delivers a listen failure, if any.
func (s *Server) Err() <-chan error {
	return s.errCh
}

// Stop shuts down the HTTP server and disconnects WebSocket clients.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping http server")
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	err := s.http.Shutdown(ctx)
	s.hub.Close()
	return err
}

// broadcast is the store listener feeding the hub.
func (s *Server) broadcast(u market.Update) error {
	if s.hub.Count() == 0 {
		return nil
	}
	r := s.deps.Rate.Current()
	entries := make([]model.Entry, len(u.Entries))
	for i, e := range u.Entries {
		entries[i] = market.ToFiat(e, r)
	}
	return s.hub.Broadcast(streamMessage{
		Type:     string(u.Kind),
		Seq:      u.Seq,
		Currency: s.deps.Rate.Target(),
		Rate:     r,
		Entries:  entries,
		At:       u.At,
	})
}
