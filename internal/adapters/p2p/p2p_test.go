package p2p

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/JupitersGhost/ChaosMagnet/internal/domain"
	"github.com/JupitersGhost/ChaosMagnet/internal/ports"
)

type recordObs struct {
	mu       sync.Mutex
	counters map[string]float64
	events   []string
}

func newRecordObs() *recordObs {
	return &recordObs{counters: map[string]float64{}}
}

func (m *recordObs) LogInfo(msg string, fields ...ports.Field)                {}
func (m *recordObs) LogError(msg string, err error, fields ...ports.Field)    {}
func (m *recordObs) LogCritical(msg string, err error, fields ...ports.Field) {}
func (m *recordObs) SetGauge(name string, v float64)                          {}
func (m *recordObs) ObserveLatency(name string, seconds float64)              {}

func (m *recordObs) IncCounter(name string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += v
}

func (m *recordObs) RecordEvent(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, msg)
}

func (m *recordObs) Events(max int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

func (m *recordObs) counter(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

func validFrame() *domain.NetworkFrame {
	return &domain.NetworkFrame{
		Node:       "peer-b",
		Seq:        42,
		Timestamp:  1700000000,
		PayloadHex: strings.Repeat("ab", 32),
		Digest:     strings.Repeat("cd", 32),
		RawShannon: 7.9,
		RawMin:     7.2,
		Health:     "pass",
	}
}

func postFrame(t *testing.T, handler http.Handler, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestIngestAcceptsValidFrame(t *testing.T) {
	obs := newRecordObs()
	node, err := NewNode(Config{Enabled: true, ListenAddr: "127.0.0.1:0"}, obs)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	body, _ := json.Marshal(validFrame())
	rec := postFrame(t, node.Handler(), body)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if node.ReceivedCount() != 1 {
		t.Fatalf("received count = %d, want 1", node.ReceivedCount())
	}
	if obs.counter("chaos_p2p_received_total") != 1 {
		t.Fatalf("p2p counter not incremented")
	}
	if len(obs.Events(0)) != 1 {
		t.Fatalf("ingest should record exactly one event")
	}
}

func TestIngestRejectsMalformedFrames(t *testing.T) {
	node, err := NewNode(Config{Enabled: true, ListenAddr: "127.0.0.1:0"}, newRecordObs())
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	handler := node.Handler()

	cases := []struct {
		name string
		body []byte
	}{
		{"not json", []byte("{nope")},
		{"missing node", mustJSON(t, &domain.NetworkFrame{PayloadHex: "ab", Digest: "cd"})},
		{"payload not hex", mustJSON(t, &domain.NetworkFrame{Node: "x", PayloadHex: "zz", Digest: "cd"})},
		{"digest not hex", mustJSON(t, &domain.NetworkFrame{Node: "x", PayloadHex: "ab", Digest: "qq"})},
	}
	for _, tc := range cases {
		rec := postFrame(t, handler, tc.body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tc.name, rec.Code)
		}
	}

	if node.ReceivedCount() != 0 {
		t.Fatalf("rejected frames must not be counted")
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestIngestRejectsGet(t *testing.T) {
	node, err := NewNode(Config{Enabled: true, ListenAddr: "127.0.0.1:0"}, newRecordObs())
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/ingest", nil)
	rec := httptest.NewRecorder()
	node.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestBroadcastReachesPeer(t *testing.T) {
	var got domain.NetworkFrame
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ingest" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	peerAddr := strings.TrimPrefix(srv.URL, "http://")
	node, err := NewNode(Config{Enabled: true, ListenAddr: "127.0.0.1:0", Peers: []string{peerAddr}}, newRecordObs())
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	node.Broadcast(context.Background(), validFrame())
	if got.Seq != 42 || got.Node != "peer-b" {
		t.Fatalf("peer received wrong frame: %+v", got)
	}
}

func TestConfigValidation(t *testing.T) {
	if _, err := NewNode(Config{Enabled: true, ListenAddr: "no-port"}, newRecordObs()); err == nil {
		t.Fatalf("expected error for listen addr without port")
	}
	if _, err := NewNode(Config{Enabled: true, ListenAddr: "127.0.0.1:9443", Peers: []string{"bad"}}, newRecordObs()); err == nil {
		t.Fatalf("expected error for bad peer addr")
	}
	if _, err := NewNode(Config{Enabled: false, ListenAddr: "whatever"}, newRecordObs()); err != nil {
		t.Fatalf("disabled node should skip validation: %v", err)
	}
}
