package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/coinfeed/internal/api"
	"github.com/rickgao/coinfeed/internal/config"
	"github.com/rickgao/coinfeed/internal/connection"
	"github.com/rickgao/coinfeed/internal/market"
	"github.com/rickgao/coinfeed/internal/model"
	"github.com/rickgao/coinfeed/internal/poller"
	"github.com/rickgao/coinfeed/internal/rate"
	"github.com/rickgao/coinfeed/internal/router"
	"github.com/rickgao/coinfeed/internal/server"
	"github.com/rickgao/coinfeed/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/marketfeed.yaml", "path to config file")
	envPath := flag.String("env", ".env", "optional dotenv file loaded before config expansion")
	flag.Parse()

	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envPath, err)
		os.Exit(1)
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("starting marketfeed",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	symbols := make([]model.Symbol, len(cfg.Symbols))
	for i, s := range cfg.Symbols {
		symbols[i] = model.NormalizeSymbol(s)
	}
	supply := make(market.Supply, len(cfg.Supply))
	for s, v := range cfg.Supply {
		supply[model.NormalizeSymbol(s)] = v
	}

	logger.Info("configuration loaded",
		"symbols", len(symbols),
		"rest_url", cfg.API.RestURL,
		"stream_url", cfg.API.StreamURL,
		"target_currency", cfg.Rate.TargetCurrency,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	exchange := api.NewClient(cfg.API.RestURL,
		api.WithName("exchange"),
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
	)
	rates := api.NewClient(cfg.Rate.URL,
		api.WithName("rates"),
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
	)

	store := market.New(symbols, market.Config{HistoryWindow: cfg.Poller.HistoryWindow}, logger)
	store.Start(ctx)

	converter, err := rate.NewConverter(rate.Config{
		Base:            cfg.Rate.BaseCurrency,
		Target:          cfg.Rate.TargetCurrency,
		RefreshInterval: cfg.Rate.RefreshInterval,
		RequestTimeout:  cfg.API.Timeout,
		Fallback:        cfg.Rate.FallbackRate,
	}, rates, logger)
	if err != nil {
		logger.Error("failed to create rate converter", "error", err)
		os.Exit(1)
	}
	if r, err := converter.Refresh(ctx); err != nil {
		logger.Warn("initial rate refresh failed, using fallback", "rate", r, "error", err)
	}

	feedCfg := connection.DefaultFeedConfig()
	feedCfg.StreamURL = cfg.API.StreamURL
	feedCfg.Symbols = symbols
	feedCfg.Channel = cfg.API.StreamChannel
	feedCfg.ReconnectDelay = cfg.Stream.ReconnectDelay
	feedCfg.ReconnectMaxDelay = cfg.Stream.ReconnectMaxDelay
	feedCfg.MessageBufferSize = cfg.Stream.BufferSize
	feedCfg.Client.PingInterval = cfg.Stream.PingInterval
	feedCfg.Client.PingTimeout = cfg.Stream.PingTimeout
	feed := connection.NewFeed(feedCfg, logger)

	loader := poller.NewLoader(poller.LoaderConfig{
		Concurrency:   cfg.Poller.Concurrency,
		Timeout:       cfg.Poller.Timeout,
		KlineInterval: cfg.Poller.KlineInterval,
		HistoryWindow: cfg.Poller.HistoryWindow,
	}, exchange, logger)
	poll := poller.New(poller.Config{
		Interval:   cfg.Poller.Interval,
		StaleAfter: cfg.Poller.StaleAfter,
		Always:     cfg.Poller.Always,
	}, loader, store, feed, logger)

	// Cold start: one full snapshot before the stream takes over.
	if n, err := poll.PollOnce(ctx); err != nil {
		logger.Warn("initial snapshot failed, waiting for stream and poller", "error", err)
	} else {
		logger.Info("initial snapshot loaded", "entries", n, "ready", store.Ready())
	}

	rtr := router.New(router.DefaultConfig(), feed.Messages(), store, logger)

	// Start order: consumer before producer.
	rtr.Start(ctx)
	feed.Start(ctx)
	poll.Start(ctx)
	converter.Start(ctx)

	var srv *server.Server
	if cfg.Server.Enabled {
		srv, err = server.New(server.Config{
			Port:           cfg.Server.Port,
			StaleAfter:     cfg.Poller.StaleAfter,
			DominantSymbol: model.NormalizeSymbol(cfg.DominantSymbol),
			Supply:         supply,
		}, server.Deps{
			Store:  store,
			Feed:   feed,
			Rate:   converter,
			Router: rtr,
			Poller: poll,
		}, logger)
		if err != nil {
			logger.Error("failed to create server", "error", err)
			os.Exit(1)
		}
		srv.Start(ctx)
	}

	logger.Info("marketfeed running", "stream", feed.URL())

	if srv != nil {
		select {
		case <-ctx.Done():
		case err := <-srv.Err():
			logger.Error("server failed, shutting down", "error", err)
		}
	} else {
		<-ctx.Done()
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if srv != nil {
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Warn("server shutdown", "error", err)
		}
	}
	converter.Stop(shutdownCtx)
	poll.Stop(shutdownCtx)
	feed.Stop(shutdownCtx)
	rtr.Stop(shutdownCtx)
	store.Stop(shutdownCtx)

	logger.Info("marketfeed stopped")
}

// newLogger builds the process logger from validated log settings.
func newLogger(cfg config.LogConfig) *slog.Logger {
	level, _ := cfg.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
