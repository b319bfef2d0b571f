// streamtest connects to the exchange stream and prints decoded increments.
// Usage: go run ./cmd/streamtest --config configs/marketfeed.yaml [--verbose]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/coinfeed/internal/config"
	"github.com/rickgao/coinfeed/internal/connection"
	"github.com/rickgao/coinfeed/internal/model"
	"github.com/rickgao/coinfeed/internal/router"
)

func main() {
	configPath := flag.String("config", "configs/marketfeed.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print raw message JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	feedCfg := connection.DefaultFeedConfig()
	feedCfg.StreamURL = cfg.API.StreamURL
	feedCfg.Channel = cfg.API.StreamChannel
	feedCfg.ReconnectDelay = cfg.Stream.ReconnectDelay
	for _, s := range cfg.Symbols {
		feedCfg.Symbols = append(feedCfg.Symbols, model.NormalizeSymbol(s))
	}

	feed := connection.NewFeed(feedCfg, logger)
	feed.OnStateChange(func(from, to connection.State) {
		fmt.Printf("[STATE] %s -> %s\n", from, to)
	})
	if err := feed.Start(ctx); err != nil {
		logger.Error("failed to start feed", "error", err)
		os.Exit(1)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := feed.Stats()
				logger.Info("stats",
					"state", st.State,
					"opens", st.Opens,
					"received", st.Received,
					"dropped", st.Dropped,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop", "url", feed.URL())

	for raw := range feed.Messages() {
		printMessage(raw, *verbose)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	feed.Stop(shutdownCtx)

	logger.Info("shutdown complete")
}

func printMessage(raw connection.RawMessage, verbose bool) {
	if verbose {
		fmt.Printf("[RAW] %s\n", raw.Data)
	}

	inc, err := router.Decode(raw.Data)
	switch {
	case errors.Is(err, router.ErrControl), errors.Is(err, router.ErrUnsupported):
		fmt.Printf("[SKIP] %v\n", err)
		return
	case err != nil:
		fmt.Printf("[ERROR] %v\n", err)
		return
	}

	fields := map[string]interface{}{}
	put := func(name string, v *float64) {
		if v != nil {
			fields[name] = *v
		}
	}
	f := inc.Fields
	put("price", f.Price)
	put("open", f.OpenPrice)
	put("high", f.High)
	put("low", f.Low)
	put("change_pct", f.ChangePercent)
	put("volume", f.Volume)
	put("quote_volume", f.QuoteVolume)

	data, _ := json.Marshal(fields)
	fmt.Printf("[%s] %s %s event_time=%s\n",
		inc.Event, inc.Symbol, data, f.EventTime.Format(time.RFC3339Nano))
}
