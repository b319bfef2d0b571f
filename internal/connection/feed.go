package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// FeedStats provides statistics about the feed.
type FeedStats struct {
	State         string    `json:"state"`
	Session       string    `json:"session,omitempty"`
	Attempts      int64     `json:"attempts"` // Connect attempts since the last successful open
	TotalAttempts int64     `json:"total_attempts"`
	Opens         int64     `json:"opens"`
	Received      int64     `json:"received"`
	Dropped       int64     `json:"dropped"`
	LastOpenAt    time.Time `json:"last_open_at"`
}

// Feed keeps one live stream transport for a fixed symbol set and
// reconnects it whenever it closes.
type Feed struct {
	cfg       FeedConfig
	logger    *slog.Logger
	newClient func(ClientConfig, *slog.Logger) Client

	messages chan RawMessage

	state    atomic.Int32
	session  atomic.Value // uuid.UUID
	onChange func(from, to State)

	attempts      atomic.Int64
	totalAttempts atomic.Int64
	opens         atomic.Int64
	received      atomic.Int64
	dropped       atomic.Int64
	lastOpenAt    atomic.Int64 // unix nanos

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFeed creates a new Feed in the Connecting state.
func NewFeed(cfg FeedConfig, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultFeedConfig()
	if cfg.Channel == "" {
		cfg.Channel = def.Channel
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.MessageBufferSize < 1 {
		cfg.MessageBufferSize = def.MessageBufferSize
	}
	cfg.Client.URL = StreamURL(cfg.StreamURL, cfg.Symbols, cfg.Channel)

	f := &Feed{
		cfg:       cfg,
		logger:    logger.With("component", "feed"),
		newClient: NewClient,
		messages:  make(chan RawMessage, cfg.MessageBufferSize),
	}
	f.state.Store(int32(StateConnecting))
	f.session.Store(uuid.Nil)
	return f
}

// OnStateChange registers fn to be called on every state transition.
// Must be called before Start. fn runs on the feed goroutine and must not block.
func (f *Feed) OnStateChange(fn func(from, to State)) {
	f.onChange = fn
}

// Start begins the connect/read/reconnect loop in the background.
func (f *Feed) Start(ctx context.Context) error {
	f.ctx, f.cancel = context.WithCancel(ctx)

	f.wg.Add(1)
	go f.run()

	f.logger.Info("feed started",
		"url", f.cfg.Client.URL,
		"symbols", len(f.cfg.Symbols),
		"reconnect_delay", f.cfg.ReconnectDelay,
		"reconnect_max_delay", f.cfg.ReconnectMaxDelay,
	)
	return nil
}

// Stop closes the live transport and waits for the loop to exit.
// The Messages channel is closed once the loop has exited.
func (f *Feed) Stop(ctx context.Context) error {
	f.logger.Info("stopping feed")

	if f.cancel != nil {
		f.cancel()
	}

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		f.logger.Info("feed stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Messages returns channel of raw messages for the Message Router.
func (f *Feed) Messages() <-chan RawMessage {
	return f.messages
}

// State returns the current connection state.
func (f *Feed) State() State {
	return State(f.state.Load())
}

// Connected reports whether the feed is Open.
func (f *Feed) Connected() bool {
	return f.State() == StateOpen
}

// URL returns the stream URL the feed dials.
func (f *Feed) URL() string {
	return f.cfg.Client.URL
}

// Stats returns current statistics.
func (f *Feed) Stats() FeedStats {
	s := FeedStats{
		State:         f.State().String(),
		Attempts:      f.attempts.Load(),
		TotalAttempts: f.totalAttempts.Load(),
		Opens:         f.opens.Load(),
		Received:      f.received.Load(),
		Dropped:       f.dropped.Load(),
	}
	if id := f.session.Load().(uuid.UUID); id != uuid.Nil {
		s.Session = id.String()
	}
	if ns := f.lastOpenAt.Load(); ns != 0 {
		s.LastOpenAt = time.Unix(0, ns)
	}
	return s
}

func (f *Feed) setState(to State) {
	from := State(f.state.Swap(int32(to)))
	if from == to {
		return
	}
	f.logger.Debug("feed state", "from", from, "to", to)
	if f.onChange != nil {
		f.onChange(from, to)
	}
}

// run is the supervising loop. Each iteration owns exactly one client and
// retires it before the next dial.
func (f *Feed) run() {
	defer f.wg.Done()
	defer close(f.messages)

	for {
		if f.ctx.Err() != nil {
			return
		}

		f.setState(StateConnecting)
		attempt := f.attempts.Add(1)
		f.totalAttempts.Add(1)

		session := uuid.New()
		client := f.newClient(f.cfg.Client, f.logger.With("session", session.String()))

		if err := client.Connect(f.ctx); err != nil {
			client.Close()
			f.setState(StateClosed)
			if f.ctx.Err() != nil {
				return
			}
			delay := f.backoff(attempt)
			f.logger.Warn("feed connect failed",
				"attempt", attempt,
				"retry_in", delay,
				"error", err,
			)
			if !f.sleep(delay) {
				return
			}
			continue
		}

		f.attempts.Store(0)
		f.opens.Add(1)
		f.lastOpenAt.Store(time.Now().UnixNano())
		f.session.Store(session)
		f.setState(StateOpen)
		f.logger.Info("feed open", "session", session.String())

		err := f.pump(client, session)
		client.Close()
		f.setState(StateClosed)

		if f.ctx.Err() != nil {
			return
		}

		delay := f.backoff(1)
		f.logger.Warn("feed transport closed",
			"session", session.String(),
			"retry_in", delay,
			"error", err,
		)
		if !f.sleep(delay) {
			return
		}
	}
}

// pump forwards client messages until the client fails or the feed stops.
func (f *Feed) pump(client Client, session uuid.UUID) error {
	for {
		select {
		case <-f.ctx.Done():
			return f.ctx.Err()

		case err := <-client.Errors():
			return err

		case msg, ok := <-client.Messages():
			if !ok {
				return errors.New("client message channel closed")
			}

			raw := RawMessage{
				Data:       msg.Data,
				Session:    session,
				ReceivedAt: msg.ReceivedAt,
			}

			select {
			case f.messages <- raw:
				f.received.Add(1)
			case <-f.ctx.Done():
				return f.ctx.Err()
			default:
				f.dropped.Add(1)
				f.logger.Warn("message buffer full, dropping")
			}
		}
	}
}

// backoff returns the wait before connect attempt+1. With no ceiling above
// the base delay the wait is fixed.
func (f *Feed) backoff(attempt int64) time.Duration {
	wait := f.cfg.ReconnectDelay
	maxWait := f.cfg.ReconnectMaxDelay
	if maxWait <= wait {
		return wait
	}
	for i := int64(1); i < attempt; i++ {
		wait *= 2
		if wait >= maxWait {
			return maxWait
		}
	}
	return wait
}

// sleep waits d or until the feed stops. Returns false if stopped.
func (f *Feed) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-f.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
