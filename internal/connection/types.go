package connection

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/coinfeed/internal/model"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping or pong)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// TransportError wraps a dial, read or heartbeat failure. Any TransportError
// closes the transport and triggers a reconnect.
type TransportError struct {
	Op  string // "dial", "read", "heartbeat"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// State is the feed connection state.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// RawMessage is a message from the Feed to the Message Router.
type RawMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	Session    uuid.UUID // Transport session the message arrived on
	ReceivedAt time.Time // Local timestamp when WS Client received message
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // Full stream URL including the streams query
	HandshakeTimeout time.Duration // Dial handshake timeout
	PingInterval     time.Duration // How often we ping the server
	PingTimeout      time.Duration // Max time without any inbound frame or pong before the connection is stale
	WriteTimeout     time.Duration // Deadline for control frames
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     15 * time.Second,
		PingTimeout:      30 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1000,
	}
}

// FeedConfig configures the Feed.
type FeedConfig struct {
	StreamURL         string         // Stream host, e.g. wss://stream.binance.com:9443
	Symbols           []model.Symbol // Symbols to subscribe
	Channel           string         // "ticker" or "miniTicker"
	ReconnectDelay    time.Duration  // Wait after a close before reconnecting
	ReconnectMaxDelay time.Duration  // Backoff ceiling; <= ReconnectDelay means fixed delay
	MessageBufferSize int            // Buffer size for output message channel
	Client            ClientConfig   // Per-transport settings (URL is filled in by the Feed)
}

// DefaultFeedConfig returns sensible defaults.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		Channel:           "ticker",
		ReconnectDelay:    3 * time.Second,
		MessageBufferSize: 1000,
		Client:            DefaultClientConfig(),
	}
}

// StreamURL builds a combined-stream URL for symbols on channel:
// {base}/stream?streams=btcusdt@ticker/ethusdt@ticker
func StreamURL(base string, symbols []model.Symbol, channel string) string {
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = s.Lower() + "@" + channel
	}
	return strings.TrimRight(base, "/") + "/stream?streams=" + strings.Join(streams, "/")
}
