package connection

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/coinfeed/internal/model"
)

func TestStreamURL(t *testing.T) {
	got := StreamURL("wss://stream.binance.com:9443/", []model.Symbol{"BTCUSDT", "ETHUSDT"}, "ticker")
	want := "wss://stream.binance.com:9443/stream?streams=btcusdt@ticker/ethusdt@ticker"
	if got != want {
		t.Errorf("StreamURL() = %q, want %q", got, want)
	}
}

func TestFeed_Backoff(t *testing.T) {
	tests := []struct {
		name     string
		base     time.Duration
		max      time.Duration
		attempt  int64
		expected time.Duration
	}{
		{"fixed first", 3 * time.Second, 0, 1, 3 * time.Second},
		{"fixed many", 3 * time.Second, 0, 50, 3 * time.Second},
		{"fixed when max equals base", 3 * time.Second, 3 * time.Second, 5, 3 * time.Second},
		{"exp first", time.Second, 8 * time.Second, 1, time.Second},
		{"exp second", time.Second, 8 * time.Second, 2, 2 * time.Second},
		{"exp third", time.Second, 8 * time.Second, 3, 4 * time.Second},
		{"exp capped", time.Second, 8 * time.Second, 4, 8 * time.Second},
		{"exp far past cap", time.Second, 8 * time.Second, 1000, 8 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFeed(FeedConfig{ReconnectDelay: tt.base, ReconnectMaxDelay: tt.max}, nil)
			if got := f.backoff(tt.attempt); got != tt.expected {
				t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.expected)
			}
		})
	}
}

type transition struct {
	from, to State
	at       time.Time
}

// recordTransitions installs a state hook and returns an accessor.
func recordTransitions(f *Feed) func() []transition {
	var mu sync.Mutex
	var got []transition
	f.OnStateChange(func(from, to State) {
		mu.Lock()
		got = append(got, transition{from, to, time.Now()})
		mu.Unlock()
	})
	return func() []transition {
		mu.Lock()
		defer mu.Unlock()
		out := make([]transition, len(got))
		copy(out, got)
		return out
	}
}

func stopFeed(t *testing.T, f *Feed) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func testFeedConfig(server *httptest.Server, delay time.Duration) FeedConfig {
	cfg := DefaultFeedConfig()
	cfg.StreamURL = wsURL(server)
	cfg.Symbols = []model.Symbol{"BTCUSDT"}
	cfg.ReconnectDelay = delay
	cfg.Client.PingInterval = time.Second
	return cfg
}

func TestFeed_ReconnectsAfterImmediateClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {})
	defer server.Close()

	delay := 100 * time.Millisecond
	f := NewFeed(testFeedConfig(server, delay), nil)
	transitions := recordTransitions(f)

	if f.State() != StateConnecting {
		t.Errorf("initial State = %v, want connecting", f.State())
	}

	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopFeed(t, f)

	deadline := time.Now().Add(3 * time.Second)
	for f.Stats().Opens < 3 && time.Now().Before(deadline) {
		if a := f.Stats().Attempts; a > 1 {
			t.Fatalf("Attempts = %d, counter not reset on open", a)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if f.Stats().Opens < 3 {
		t.Fatalf("Opens = %d, want >= 3", f.Stats().Opens)
	}

	// Every Closed -> ... -> Open gap should be the reconnect delay plus slack.
	var closedAt time.Time
	for _, tr := range transitions() {
		switch tr.to {
		case StateClosed:
			closedAt = tr.at
		case StateOpen:
			if closedAt.IsZero() {
				continue
			}
			gap := tr.at.Sub(closedAt)
			if gap < delay-10*time.Millisecond || gap > delay+500*time.Millisecond {
				t.Errorf("reopen gap = %v, want about %v", gap, delay)
			}
		}
	}
}

func TestFeed_ForwardsMessagesWithSession(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for i := 0; i < 3; i++ {
			conn.WriteMessage(websocket.TextMessage, []byte(`{"e":"24hrTicker","s":"BTCUSDT","c":"1"}`))
		}
		readUntilClosed(conn)
	})
	defer server.Close()

	f := NewFeed(testFeedConfig(server, time.Second), nil)
	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopFeed(t, f)

	var session uuid.UUID
	for i := 0; i < 3; i++ {
		select {
		case msg := <-f.Messages():
			if msg.Session == uuid.Nil {
				t.Error("message has no session")
			}
			if i > 0 && msg.Session != session {
				t.Error("session changed without reconnect")
			}
			session = msg.Session
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for message %d", i)
		}
	}

	if !f.Connected() {
		t.Error("Connected() = false while open")
	}
	if f.Stats().Session != session.String() {
		t.Errorf("Stats().Session = %q, want %q", f.Stats().Session, session)
	}
}

func TestFeed_DropsWhenBufferFull(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for i := 0; i < 5; i++ {
			conn.WriteMessage(websocket.TextMessage, []byte(`{"e":"24hrTicker","s":"BTCUSDT","c":"1"}`))
		}
		readUntilClosed(conn)
	})
	defer server.Close()

	cfg := testFeedConfig(server, time.Second)
	cfg.MessageBufferSize = 1
	f := NewFeed(cfg, nil)
	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopFeed(t, f)

	// Nothing reads Messages until all five frames are accounted for.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st := f.Stats(); st.Received+st.Dropped == 5 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	st := f.Stats()
	if st.Received != 1 {
		t.Errorf("Received = %d, want 1", st.Received)
	}
	if st.Dropped != 4 {
		t.Errorf("Dropped = %d, want 4", st.Dropped)
	}
	if n := len(f.Messages()); n != 1 {
		t.Errorf("buffered messages = %d, want 1", n)
	}
}

func TestFeed_RecoversFromDialFailures(t *testing.T) {
	var requests atomic.Int32
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		readUntilClosed(conn)
	}))
	defer server.Close()

	f := NewFeed(testFeedConfig(server, 20*time.Millisecond), nil)
	if err := f.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopFeed(t, f)

	deadline := time.Now().Add(2 * time.Second)
	for !f.Connected() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !f.Connected() {
		t.Fatal("feed never opened")
	}

	st := f.Stats()
	if st.TotalAttempts != 3 {
		t.Errorf("TotalAttempts = %d, want 3", st.TotalAttempts)
	}
	if st.Attempts != 0 {
		t.Errorf("Attempts = %d, want 0 after open", st.Attempts)
	}
}

func TestFeed_StopClosesMessages(t *testing.T) {
	server := mockWSServer(t, readUntilClosed)
	defer server.Close()

	f := NewFeed(testFeedConfig(server, time.Second), nil)
	f.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for !f.Connected() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	stopFeed(t, f)

	select {
	case _, ok := <-f.Messages():
		if ok {
			t.Error("unexpected message after Stop")
		}
	case <-time.After(time.Second):
		t.Fatal("Messages not closed after Stop")
	}
	if f.Connected() {
		t.Error("Connected() = true after Stop")
	}
}

// countingClient is a fake transport that fails shortly after connecting
// and tracks how many instances are live at once.
type countingClient struct {
	live    *atomic.Int32
	maxLive *atomic.Int32
	errs    chan error
	msgs    chan TimestampedMessage
	once    sync.Once
}

func (c *countingClient) Connect(ctx context.Context) error {
	n := c.live.Add(1)
	for {
		m := c.maxLive.Load()
		if n <= m || c.maxLive.CompareAndSwap(m, n) {
			break
		}
	}
	go func() {
		time.Sleep(5 * time.Millisecond)
		c.errs <- &TransportError{Op: "read", Err: errors.New("reset")}
	}()
	return nil
}

func (c *countingClient) Close() error {
	c.once.Do(func() { c.live.Add(-1) })
	return nil
}

func (c *countingClient) Messages() <-chan TimestampedMessage { return c.msgs }
func (c *countingClient) Errors() <-chan error               { return c.errs }
func (c *countingClient) IsConnected() bool                  { return true }

func TestFeed_AtMostOneLiveTransport(t *testing.T) {
	var live, maxLive, created atomic.Int32

	f := NewFeed(FeedConfig{StreamURL: "ws://unused", ReconnectDelay: time.Millisecond}, nil)
	f.newClient = func(cfg ClientConfig, logger *slog.Logger) Client {
		created.Add(1)
		return &countingClient{
			live:    &live,
			maxLive: &maxLive,
			errs:    make(chan error, 1),
			msgs:    make(chan TimestampedMessage),
		}
	}

	f.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for created.Load() < 20 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	stopFeed(t, f)

	if created.Load() < 20 {
		t.Fatalf("created %d transports, want >= 20", created.Load())
	}
	if m := maxLive.Load(); m != 1 {
		t.Errorf("max live transports = %d, want 1", m)
	}
	if l := live.Load(); l != 0 {
		t.Errorf("live transports after Stop = %d, want 0", l)
	}
}
