package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// GetTicker24hr fetches 24h rolling statistics for a symbol.
func (c *Client) GetTicker24hr(ctx context.Context, symbol string) (*Ticker24hr, error) {
	query := url.Values{}
	query.Set("symbol", strings.ToUpper(symbol))

	var resp Ticker24hr
	if err := c.get(ctx, "/ticker/24hr", query, &resp); err != nil {
		return nil, fmt.Errorf("get ticker %s: %w", symbol, err)
	}
	if resp.Symbol == "" {
		return nil, fmt.Errorf("get ticker %s: empty symbol in response", symbol)
	}

	return &resp, nil
}

// GetKlines fetches recent candles for a symbol, oldest first.
func (c *Client) GetKlines(ctx context.Context, symbol string, opts KlinesOptions) ([]Kline, error) {
	query := url.Values{}
	query.Set("symbol", strings.ToUpper(symbol))

	interval := opts.Interval
	if interval == "" {
		interval = "1h"
	}
	query.Set("interval", interval)
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}

	var resp []Kline
	if err := c.get(ctx, "/klines", query, &resp); err != nil {
		return nil, fmt.Errorf("get klines %s: %w", symbol, err)
	}

	return resp, nil
}
