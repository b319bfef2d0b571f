// Package router turns raw stream frames into store increments.
//
// Decode handles one frame at a time:
//   - combined-stream envelopes ({"stream":..,"data":{..}}) and bare events
//   - 24hrTicker and 24hrMiniTicker events; other events are ErrUnsupported
//   - subscription acknowledgements are ErrControl
//   - anything malformed is ErrDecode
//
// Router reads Feed.Messages and calls ApplyIncrement once per decoded frame.
package router
