package market

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/coinfeed/internal/model"
)

// DefaultQueueCapacity is the initial capacity of the notification queue.
const DefaultQueueCapacity = 256

// Kind identifies the apply that produced an Update.
type Kind string

const (
	KindSnapshot  Kind = "snapshot"
	KindIncrement Kind = "increment"
)

// Update is delivered to listeners after a successful apply.
// Entries are copies of the changed entries as they were right after the apply.
type Update struct {
	Seq     uint64
	Kind    Kind
	Entries []model.Entry
	At      time.Time
}

// Listener receives store updates. A returned error is logged and does not
// affect other listeners or later applies.
type Listener func(Update) error

// Config holds Store configuration.
type Config struct {
	HistoryWindow int // Max history length kept per entry
	QueueCapacity int // Initial notification queue capacity (the queue grows)
}

// Stats contains store counters.
type Stats struct {
	Snapshots      int64 // Snapshot entries written
	Increments     int64 // Increments merged
	Ignored        int64 // Entries or increments for symbols outside the configured set
	Rejected       int64 // Invalid entries or fields
	Outdated       int64 // Increments older than the entry's snapshot
	ListenerErrors int64 // Listener errors and panics
	Queue          QueueStats
}

// Store is the in-memory market state table. The symbol set is fixed at
// construction; entries are created by the first apply for each symbol.
type Store struct {
	logger *slog.Logger
	window int

	// mu is held for the whole of one apply.
	mu      sync.RWMutex
	order   []model.Symbol
	known   map[model.Symbol]struct{}
	entries map[model.Symbol]*model.Entry
	seq     uint64

	listenersMu sync.RWMutex
	listeners   map[uint64]Listener
	nextID      uint64

	queue *growableQueue[Update]

	snapshots      atomic.Int64
	increments     atomic.Int64
	ignored        atomic.Int64
	rejected       atomic.Int64
	outdated       atomic.Int64
	listenerErrors atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// New creates a Store for the given symbols. Duplicates are dropped.
func New(symbols []model.Symbol, cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = model.DefaultHistoryWindow
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}

	s := &Store{
		logger:    logger.With("component", "store"),
		window:    cfg.HistoryWindow,
		known:     make(map[model.Symbol]struct{}, len(symbols)),
		entries:   make(map[model.Symbol]*model.Entry, len(symbols)),
		listeners: make(map[uint64]Listener),
		queue:     newGrowableQueue[Update](cfg.QueueCapacity),
	}
	for _, sym := range symbols {
		if _, dup := s.known[sym]; dup {
			continue
		}
		s.known[sym] = struct{}{}
		s.order = append(s.order, sym)
	}
	return s
}

// Start launches the notification dispatcher.
func (s *Store) Start(ctx context.Context) error {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.dispatchLoop()
		}()
		s.logger.Info("store started", "symbols", len(s.order))
	})
	return nil
}

// Stop closes the notification queue and waits for the dispatcher to deliver
// what is already queued.
func (s *Store) Stop(ctx context.Context) error {
	s.stopOnce.Do(s.queue.Close)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("store stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Symbols returns the configured symbols in configuration order.
func (s *Store) Symbols() []model.Symbol {
	out := make([]model.Symbol, len(s.order))
	copy(out, s.order)
	return out
}

// Has reports whether sym is in the configured set.
func (s *Store) Has(sym model.Symbol) bool {
	_, ok := s.known[sym]
	return ok
}

// ApplySnapshot overwrites the entry of every configured symbol present in
// entries. Symbols missing from entries keep their current entry. Returns the
// number of entries written.
//
// If the stored entry has an increment strictly newer than the snapshot's
// as-of time, the fields increments have written are kept. Every other field
// comes from the snapshot.
func (s *Store) ApplySnapshot(entries map[model.Symbol]model.Entry) int {
	for sym := range entries {
		if !s.Has(sym) {
			s.ignored.Add(1)
		}
	}

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []model.Entry
	for _, sym := range s.order {
		in, ok := entries[sym]
		if !ok {
			continue
		}
		if err := in.Validate(); err != nil {
			s.rejected.Add(1)
			s.logger.Warn("rejected snapshot entry", "symbol", sym, "error", err)
			continue
		}

		next := in.Clone()
		next.Symbol = sym
		next.History = model.TrimHistory(next.History, s.window)

		asOf := next.SnapshotAt
		if asOf.IsZero() {
			asOf = next.UpdatedAt
		}
		if asOf.IsZero() {
			asOf = now
		}
		next.SnapshotAt = asOf
		next.UpdatedAt = asOf
		next.IncrementAt = time.Time{}
		next.Live = 0

		if cur := s.entries[sym]; cur != nil {
			next.IncrementAt = cur.IncrementAt
			if cur.IncrementAt.After(asOf) {
				keepLiveFields(&next, cur)
				next.Live = cur.Live
				next.UpdatedAt = cur.UpdatedAt
			}
		}

		s.entries[sym] = &next
		changed = append(changed, next.Clone())
	}

	if len(changed) == 0 {
		return 0
	}
	s.snapshots.Add(int64(len(changed)))
	s.enqueueLocked(KindSnapshot, changed, now)
	return len(changed)
}

// ApplyIncrement merges the present fields into the entry for sym.
// Returns (false, nil) for symbols outside the configured set, empty field
// sets and increments older than the entry's snapshot; (false, err) for
// invalid fields.
func (s *Store) ApplyIncrement(sym model.Symbol, f model.Fields) (bool, error) {
	if !s.Has(sym) {
		s.ignored.Add(1)
		return false, nil
	}
	if err := f.Validate(); err != nil {
		s.rejected.Add(1)
		return false, fmt.Errorf("apply increment %s: %w", sym, err)
	}
	if f.Empty() {
		return false, nil
	}

	now := time.Now()
	at := f.EventTime
	if at.IsZero() {
		at = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[sym]
	if e == nil {
		e = &model.Entry{Symbol: sym}
		s.entries[sym] = e
	} else if !f.EventTime.IsZero() && f.EventTime.Before(e.SnapshotAt) {
		s.outdated.Add(1)
		return false, nil
	}

	e.Merge(f)
	e.IncrementAt = at
	e.UpdatedAt = at

	s.increments.Add(1)
	s.enqueueLocked(KindIncrement, []model.Entry{e.Clone()}, now)
	return true, nil
}

// Get returns a copy of the entry for sym.
func (s *Store) Get(sym model.Symbol) (model.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[sym]
	if !ok {
		return model.Entry{}, false
	}
	return e.Clone(), true
}

// SnapshotAll returns copies of all present entries in configuration order,
// read at a single point in time.
func (s *Store) SnapshotAll() []model.Entry {
	entries, _ := s.SnapshotAllSeq()
	return entries
}

// SnapshotAllSeq is SnapshotAll plus the Seq of the last apply the entries
// reflect. Updates with Seq <= seq are already contained in them.
func (s *Store) SnapshotAllSeq() ([]model.Entry, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Entry, 0, len(s.entries))
	for _, sym := range s.order {
		if e, ok := s.entries[sym]; ok {
			out = append(out, e.Clone())
		}
	}
	return out, s.seq
}

// Ready reports whether every configured symbol has an entry.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries) == len(s.order)
}

// Stale returns the configured symbols that have no entry or whose last
// update is older than maxAge at now.
func (s *Store) Stale(maxAge time.Duration, now time.Time) []model.Symbol {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stale []model.Symbol
	for _, sym := range s.order {
		e, ok := s.entries[sym]
		if !ok || now.Sub(e.UpdatedAt) > maxAge {
			stale = append(stale, sym)
		}
	}
	return stale
}

// Subscribe registers l and returns a function that removes it.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
		})
	}
}

// Stats returns store counters.
func (s *Store) Stats() Stats {
	return Stats{
		Snapshots:      s.snapshots.Load(),
		Increments:     s.increments.Load(),
		Ignored:        s.ignored.Load(),
		Rejected:       s.rejected.Load(),
		Outdated:       s.outdated.Load(),
		ListenerErrors: s.listenerErrors.Load(),
		Queue:          s.queue.stats(),
	}
}

// enqueueLocked queues a notification. Caller holds mu, so queue order is
// apply order.
func (s *Store) enqueueLocked(kind Kind, entries []model.Entry, at time.Time) {
	s.seq++

	s.listenersMu.RLock()
	n := len(s.listeners)
	s.listenersMu.RUnlock()
	if n == 0 {
		return
	}

	s.queue.Push(Update{Seq: s.seq, Kind: kind, Entries: entries, At: at})
}

func (s *Store) dispatchLoop() {
	for {
		u, ok := s.queue.Pop()
		if !ok {
			return
		}

		s.listenersMu.RLock()
		ids := make([]uint64, 0, len(s.listeners))
		for id := range s.listeners {
			ids = append(ids, id)
		}
		s.listenersMu.RUnlock()
		slices.Sort(ids)

		for _, id := range ids {
			s.listenersMu.RLock()
			l, ok := s.listeners[id]
			s.listenersMu.RUnlock()
			if ok {
				s.notify(id, l, u)
			}
		}
	}
}

// notify runs one listener, isolating errors and panics.
func (s *Store) notify(id uint64, l Listener, u Update) {
	defer func() {
		if r := recover(); r != nil {
			s.listenerErrors.Add(1)
			s.logger.Error("listener panicked", "listener", id, "seq", u.Seq, "panic", r)
		}
	}()

	if err := l(u); err != nil {
		s.listenerErrors.Add(1)
		s.logger.Warn("listener failed", "listener", id, "seq", u.Seq, "error", err)
	}
}

// keepLiveFields copies the fields of cur that increments have written into next.
func keepLiveFields(next *model.Entry, cur *model.Entry) {
	fields := []struct {
		bit      model.FieldMask
		dst, src *float64
	}{
		{model.FieldPrice, &next.Price, &cur.Price},
		{model.FieldOpenPrice, &next.OpenPrice, &cur.OpenPrice},
		{model.FieldHigh, &next.High, &cur.High},
		{model.FieldLow, &next.Low, &cur.Low},
		{model.FieldChangePercent, &next.ChangePercent, &cur.ChangePercent},
		{model.FieldVolume, &next.Volume, &cur.Volume},
		{model.FieldQuoteVolume, &next.QuoteVolume, &cur.QuoteVolume},
	}
	for _, f := range fields {
		if cur.Live.Has(f.bit) {
			*f.dst = *f.src
		}
	}
}
