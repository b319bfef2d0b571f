package router

import (
	"errors"
	"time"

	"github.com/rickgao/coinfeed/internal/model"
)

var (
	// ErrDecode is returned for malformed stream messages.
	ErrDecode = errors.New("decode stream message")

	// ErrControl marks subscription acknowledgements and other non-data frames.
	ErrControl = errors.New("control message")

	// ErrUnsupported marks data events of a type the router does not handle.
	ErrUnsupported = errors.New("unsupported event")
)

// Stream event types.
const (
	EventTicker     = "24hrTicker"
	EventMiniTicker = "24hrMiniTicker"
)

// Increment is one decoded push update for a single symbol.
type Increment struct {
	Event  string
	Symbol model.Symbol
	Fields model.Fields
}

// Config holds configuration for the Message Router.
type Config struct {
	// LogEvery throttles decode-error logging to one line per N errors.
	LogEvery int64 // Default: 100
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		LogEvery: 100,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	Received      int64     `json:"received"`
	Decoded       int64     `json:"decoded"`
	Applied       int64     `json:"applied"`
	Ignored       int64     `json:"ignored"` // Unknown symbols and outdated increments
	Skipped       int64     `json:"skipped"` // Control frames and unsupported events
	DecodeErrors  int64     `json:"decode_errors"`
	ApplyErrors   int64     `json:"apply_errors"`
	LastMessageAt time.Time `json:"last_message_at"`
}
