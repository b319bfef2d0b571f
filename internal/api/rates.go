package api

import (
	"context"
	"fmt"
	"strings"
)

// GetLatestRates fetches conversion rates from base to every listed currency.
func (c *Client) GetLatestRates(ctx context.Context, base string) (*RatesResponse, error) {
	var resp RatesResponse
	if err := c.get(ctx, "/latest/"+strings.ToUpper(base), nil, &resp); err != nil {
		return nil, fmt.Errorf("get rates %s: %w", base, err)
	}
	return &resp, nil
}
