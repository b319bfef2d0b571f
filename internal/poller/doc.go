// Package poller implements the Market Snapshot Loader and the fallback poller.
//
// The Loader:
//   - Fetches a 24h ticker plus recent klines per symbol over REST
//   - Runs symbols concurrently with a bounded worker count and per-symbol timeout
//   - Omits failed symbols; an entirely empty result is ErrNoDataAvailable
//
// The Poller re-runs the Loader on an interval, but only while the stream
// feed is down or some entry has gone stale, and applies results to the store.
package poller
