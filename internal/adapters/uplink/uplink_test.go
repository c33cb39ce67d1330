package uplink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JupitersGhost/ChaosMagnet/internal/domain"
	"github.com/JupitersGhost/ChaosMagnet/internal/ports"
)

type countObs struct {
	mu       sync.Mutex
	counters map[string]float64
	events   []string
}

func newCountObs() *countObs {
	return &countObs{counters: map[string]float64{}}
}

func (m *countObs) LogInfo(msg string, fields ...ports.Field)                {}
func (m *countObs) LogError(msg string, err error, fields ...ports.Field)    {}
func (m *countObs) LogCritical(msg string, err error, fields ...ports.Field) {}
func (m *countObs) SetGauge(name string, v float64)                          {}
func (m *countObs) ObserveLatency(name string, seconds float64)              {}

func (m *countObs) IncCounter(name string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += v
}

func (m *countObs) RecordEvent(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, msg)
}

func (m *countObs) Events(max int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

func (m *countObs) counter(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

func testFrame(seq uint64) *domain.NetworkFrame {
	return &domain.NetworkFrame{
		Node:       "node-a",
		Seq:        seq,
		Timestamp:  time.Now().UnixNano(),
		PayloadHex: strings.Repeat("3c", 32),
		Digest:     strings.Repeat("01", 32),
		RawShannon: 7.8,
		RawMin:     7.1,
		Health:     "pass",
	}
}

func TestSendDeliversFrame(t *testing.T) {
	var got domain.NetworkFrame
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode frame: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	obs := newCountObs()
	c, err := New(Config{URL: srv.URL, Enabled: true}, obs)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if err := c.Send(context.Background(), testFrame(7)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.Seq != 7 || got.Node != "node-a" || got.Digest == "" {
		t.Fatalf("collector received wrong frame: %+v", got)
	}
	if obs.counter("chaos_uplink_sent_total") != 1 {
		t.Fatalf("sent counter not incremented")
	}
}

func TestSendRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	obs := newCountObs()
	c, err := New(Config{URL: srv.URL, Enabled: true, MaxAttempts: 3, BaseBackoff: ports.Duration(time.Millisecond)}, obs)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if err := c.Send(context.Background(), testFrame(1)); err != nil {
		t.Fatalf("send should succeed on third attempt: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestSendDropsAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	obs := newCountObs()
	c, err := New(Config{URL: srv.URL, Enabled: true, MaxAttempts: 3, BaseBackoff: ports.Duration(time.Millisecond)}, obs)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	if err := c.Send(context.Background(), testFrame(2)); err == nil {
		t.Fatalf("send should report the drop")
	}
	if calls.Load() != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", calls.Load())
	}
	if obs.counter("chaos_uplink_dropped_total") != 1 {
		t.Fatalf("dropped counter not incremented")
	}
	if len(obs.Events(0)) == 0 {
		t.Fatalf("drop should record an event")
	}
}

func TestDisabledClientIsNoop(t *testing.T) {
	obs := newCountObs()
	c, err := New(Config{Enabled: false}, obs)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := c.Send(context.Background(), testFrame(1)); err != nil {
		t.Fatalf("disabled send must be a no-op: %v", err)
	}
	if obs.counter("chaos_uplink_sent_total") != 0 {
		t.Fatalf("disabled client must not count sends")
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New(Config{URL: "not a url", Enabled: true}, newCountObs()); err == nil {
		t.Fatalf("expected error for invalid url")
	}
}
