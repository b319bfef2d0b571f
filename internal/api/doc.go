// Package api provides REST clients for the exchange and the fiat rate source.
//
// Exchange endpoints (Binance spot, public, no auth):
//   - GET /ticker/24hr?symbol=BTCUSDT
//   - GET /klines?symbol=BTCUSDT&interval=1h&limit=24
//
// Rate endpoint (exchangerate-api v4):
//   - GET /latest/USD
//
// Numeric strings are parsed strictly; see ParseDecimal.
package api
