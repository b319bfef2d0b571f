package rate

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/coinfeed/internal/api"
)

// fakeSource returns queued results in order, repeating the last one.
type fakeSource struct {
	mu      sync.Mutex
	results []fakeResult
	calls   int
}

type fakeResult struct {
	rates map[string]float64
	err   error
}

func (f *fakeSource) GetLatestRates(ctx context.Context, base string) (*api.RatesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++
	r := f.results[i]
	if r.err != nil {
		return nil, r.err
	}
	return &api.RatesResponse{Base: base, Rates: r.rates}, nil
}

func newTestConverter(t *testing.T, src Source) *Converter {
	t.Helper()
	c, err := NewConverter(Config{Base: "usd", Target: "idr", Fallback: 16000, RefreshInterval: 20 * time.Millisecond}, src, nil)
	if err != nil {
		t.Fatalf("NewConverter failed: %v", err)
	}
	return c
}

func TestNewConverter_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero fallback", Config{Target: "IDR"}},
		{"negative fallback", Config{Target: "IDR", Fallback: -1}},
		{"infinite fallback", Config{Target: "IDR", Fallback: math.Inf(1)}},
		{"no target", Config{Fallback: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewConverter(tt.cfg, &fakeSource{}, nil); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestConverter_CurrentStartsAtFallback(t *testing.T) {
	c := newTestConverter(t, &fakeSource{})
	if c.Current() != 16000 {
		t.Errorf("Current() = %v, want 16000", c.Current())
	}
	if c.Target() != "IDR" {
		t.Errorf("Target() = %q, want IDR", c.Target())
	}
}

func TestConverter_Refresh(t *testing.T) {
	src := &fakeSource{results: []fakeResult{{rates: map[string]float64{"IDR": 15600.5}}}}
	c := newTestConverter(t, src)

	v, err := c.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if v != 15600.5 || c.Current() != 15600.5 {
		t.Errorf("Refresh() = %v, Current() = %v; want 15600.5", v, c.Current())
	}

	st := c.Stats()
	if st.Successes != 1 || st.LastSuccess.IsZero() || st.LastError != "" {
		t.Errorf("Stats = %+v", st)
	}
}

func TestConverter_RefreshFailureKeepsLastGood(t *testing.T) {
	tests := []struct {
		name   string
		result fakeResult
	}{
		{"network error", fakeResult{err: errors.New("connection refused")}},
		{"missing currency", fakeResult{rates: map[string]float64{"EUR": 0.9}}},
		{"zero rate", fakeResult{rates: map[string]float64{"IDR": 0}}},
		{"negative rate", fakeResult{rates: map[string]float64{"IDR": -3}}},
		{"NaN rate", fakeResult{rates: map[string]float64{"IDR": math.NaN()}}},
		{"infinite rate", fakeResult{rates: map[string]float64{"IDR": math.Inf(1)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{results: []fakeResult{
				{rates: map[string]float64{"IDR": 15500}},
				tt.result,
			}}
			c := newTestConverter(t, src)

			if _, err := c.Refresh(context.Background()); err != nil {
				t.Fatalf("first Refresh failed: %v", err)
			}

			v, err := c.Refresh(context.Background())
			if !errors.Is(err, ErrRateUnavailable) {
				t.Errorf("error = %v, want ErrRateUnavailable", err)
			}
			if v != 15500 || c.Current() != 15500 {
				t.Errorf("rate = %v / %v after failure, want 15500", v, c.Current())
			}
			if c.Stats().Failures != 1 {
				t.Errorf("Failures = %d, want 1", c.Stats().Failures)
			}
		})
	}
}

func TestConverter_RefreshAgainstHTTP(t *testing.T) {
	var fail atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"base":"USD","rates":{"IDR":15750}}`))
	}))
	defer server.Close()

	client := api.NewClient(server.URL, api.WithRetries(0, 0))
	c := newTestConverter(t, client)

	if _, err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	fail.Store(true)
	if _, err := c.Refresh(context.Background()); !errors.Is(err, ErrRateUnavailable) {
		t.Errorf("error = %v, want ErrRateUnavailable", err)
	}
	if c.Current() != 15750 {
		t.Errorf("Current() = %v, want 15750", c.Current())
	}
}

func TestConverter_StartStop(t *testing.T) {
	src := &fakeSource{results: []fakeResult{
		{err: errors.New("timeout")},
		{rates: map[string]float64{"IDR": 15900}},
	}}
	c := newTestConverter(t, src)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for c.Current() != 15900 && time.Now().Before(deadline) {
		if r := c.Current(); !(r > 0) || math.IsInf(r, 0) {
			t.Fatalf("Current() = %v, must stay positive and finite", r)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if c.Current() != 15900 {
		t.Errorf("Current() = %v, want 15900 after loop recovered", c.Current())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
