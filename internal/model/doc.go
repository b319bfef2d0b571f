// Package model defines shared data types used across the market feed.
//
// Conventions:
//   - Prices: float64 in quote-currency units (USDT for the default symbol set)
//   - Timestamps: time.Time, exchange event time when the payload carries one
//   - Symbols: exchange-native upper-case tickers (e.g. "BTCUSDT")
package model
