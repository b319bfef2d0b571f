// Package server exposes the market table over HTTP and WebSocket.
//
// Routes:
//   - GET /health         feed state, stale symbols, rate and build info
//   - GET /markets        all entries, converted to the target currency
//   - GET /markets/:symbol one entry
//   - GET /summary        totals, top movers and dominance
//   - GET /ws             snapshot on connect, then every store update
//
// Pass ?currency=quote to any market route to skip fiat conversion.
package server
