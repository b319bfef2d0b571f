package router

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/coinfeed/internal/connection"
	"github.com/rickgao/coinfeed/internal/market"
	"github.com/rickgao/coinfeed/internal/model"
)

type applyCall struct {
	sym model.Symbol
	f   model.Fields
}

// recordingApplier records every ApplyIncrement call.
type recordingApplier struct {
	mu    sync.Mutex
	calls []applyCall
	known map[model.Symbol]bool
}

func (a *recordingApplier) ApplyIncrement(sym model.Symbol, f model.Fields) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, applyCall{sym, f})
	if err := f.Validate(); err != nil {
		return false, err
	}
	return a.known[sym], nil
}

func (a *recordingApplier) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func raw(data string) connection.RawMessage {
	return connection.RawMessage{Data: []byte(data), Session: uuid.New(), ReceivedAt: time.Now()}
}

func TestDefaultConfig(t *testing.T) {
	if cfg := DefaultConfig(); cfg.LogEvery != 100 {
		t.Errorf("LogEvery = %d, want 100", cfg.LogEvery)
	}
}

func TestRouter_StartStop(t *testing.T) {
	input := make(chan connection.RawMessage, 10)
	r := New(DefaultConfig(), input, &recordingApplier{}, nil)

	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if err := r.Stop(stopCtx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestRouter_StopsWhenInputCloses(t *testing.T) {
	input := make(chan connection.RawMessage)
	r := New(DefaultConfig(), input, &recordingApplier{}, nil)
	r.Start(context.Background())

	close(input)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestRouter_Route(t *testing.T) {
	applier := &recordingApplier{known: map[model.Symbol]bool{"BTCUSDT": true}}
	r := New(DefaultConfig(), nil, applier, nil)

	r.Route(raw(`{"stream":"btcusdt@ticker","data":{"e":"24hrTicker","s":"BTCUSDT","c":"50500"}}`))
	r.Route(raw(`{"e":"24hrTicker","s":"DOGEUSDT","c":"0.1"}`))
	r.Route(raw(`{"e":"24hrTicker","s":"BTCUSDT","c":"-5"}`))
	r.Route(raw(`{"result":null,"id":1}`))
	r.Route(raw(`{"e":"kline","s":"BTCUSDT"}`))
	r.Route(raw(`not json`))
	r.Route(raw(`{"e":"24hrTicker","s":"BTCUSDT","c":"oops"}`))

	st := r.Stats()
	want := Stats{
		Received:     7,
		Decoded:      3,
		Applied:      1,
		Ignored:      1,
		Skipped:      2,
		DecodeErrors: 2,
		ApplyErrors:  1,
	}
	st.LastMessageAt = time.Time{}
	if st != want {
		t.Errorf("Stats() = %+v, want %+v", st, want)
	}

	if n := applier.count(); n != 3 {
		t.Errorf("ApplyIncrement called %d times, want 3", n)
	}
}

func TestRouter_OneApplyPerMessage(t *testing.T) {
	input := make(chan connection.RawMessage, 100)
	applier := &recordingApplier{known: map[model.Symbol]bool{"BTCUSDT": true}}
	r := New(DefaultConfig(), input, applier, nil)
	r.Start(context.Background())
	defer r.Stop(context.Background())

	for i := 0; i < 50; i++ {
		input <- raw(fmt.Sprintf(`{"e":"24hrTicker","s":"BTCUSDT","c":"%d"}`, 50000+i))
	}

	deadline := time.Now().Add(2 * time.Second)
	for applier.count() < 50 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	applier.mu.Lock()
	defer applier.mu.Unlock()
	if len(applier.calls) != 50 {
		t.Fatalf("ApplyIncrement called %d times, want 50", len(applier.calls))
	}
	for i, c := range applier.calls {
		if want := float64(50000 + i); *c.f.Price != want {
			t.Errorf("call %d price = %v, want %v (order)", i, *c.f.Price, want)
		}
	}
}

func TestRouter_EndToEndWithStore(t *testing.T) {
	store := market.New([]model.Symbol{"BTCUSDT", "ETHUSDT"}, market.Config{}, nil)
	ctx := context.Background()
	store.Start(ctx)
	defer store.Stop(ctx)

	updates := make(chan market.Update, 10)
	unsubscribe := store.Subscribe(func(u market.Update) error {
		updates <- u
		return nil
	})
	defer unsubscribe()

	n := store.ApplySnapshot(map[model.Symbol]model.Entry{
		"BTCUSDT": {Symbol: "BTCUSDT", Price: 50000, Volume: 10, History: []float64{49000, 50000}},
	})
	if n != 1 {
		t.Fatalf("ApplySnapshot() = %d, want 1", n)
	}

	input := make(chan connection.RawMessage, 10)
	r := New(DefaultConfig(), input, store, nil)
	r.Start(ctx)
	defer r.Stop(ctx)

	eventMs := time.Now().Add(time.Second).UnixMilli()
	input <- raw(fmt.Sprintf(`{"stream":"btcusdt@ticker","data":{"e":"24hrTicker","E":%d,"s":"BTCUSDT","c":"50500"}}`, eventMs))

	var got []market.Update
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case u := <-updates:
			got = append(got, u)
		case <-timeout:
			t.Fatalf("received %d updates, want 2", len(got))
		}
	}

	if got[0].Kind != market.KindSnapshot || got[1].Kind != market.KindIncrement {
		t.Errorf("update kinds = %s, %s; want snapshot, increment", got[0].Kind, got[1].Kind)
	}

	e, ok := store.Get("BTCUSDT")
	if !ok {
		t.Fatal("BTCUSDT missing from store")
	}
	if e.Price != 50500 {
		t.Errorf("Price = %v, want 50500", e.Price)
	}
	if e.Volume != 10 {
		t.Errorf("Volume = %v, want 10", e.Volume)
	}
	if len(e.History) != 2 {
		t.Errorf("History length = %d, want 2", len(e.History))
	}

	if st := r.Stats(); st.Applied != 1 {
		t.Errorf("router Applied = %d, want 1", st.Applied)
	}
}
