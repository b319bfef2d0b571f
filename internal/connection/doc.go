// Package connection implements the stream feed.
//
// The Feed:
//   - Owns at most one WebSocket transport for the configured symbol set
//   - Moves through Connecting -> Open -> Closed -> Connecting until stopped
//   - Reconnects after a fixed delay, or with capped exponential backoff
//   - Forwards every inbound frame, stamped with its receive time and
//     transport session, to the Message Router
package connection
