// Package market implements the Market State Store.
//
// The Store:
//   - Holds one entry per configured symbol, keyed at construction
//   - Merges REST snapshots (full overwrite) and stream increments (partial merge)
//   - Serializes every apply under a single lock so readers never see a half-applied update
//   - Notifies subscribers in apply order from a dedicated dispatcher goroutine
//
// Aggregates (totals, top movers, dominance, fiat conversion) are pure functions
// over SnapshotAll and live in stats.go.
package market
