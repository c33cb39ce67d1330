package chaosmagnet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/JupitersGhost/ChaosMagnet/internal/adapters/p2p"
	"github.com/JupitersGhost/ChaosMagnet/internal/adapters/queue"
	"github.com/JupitersGhost/ChaosMagnet/internal/adapters/uplink"
	"github.com/JupitersGhost/ChaosMagnet/internal/adapters/vault"
	"github.com/JupitersGhost/ChaosMagnet/internal/app/config"
	"github.com/JupitersGhost/ChaosMagnet/internal/domain"
	"github.com/JupitersGhost/ChaosMagnet/internal/ports"
)

type quietObs struct {
	mu     sync.Mutex
	events []string
}

func (m *quietObs) LogInfo(msg string, fields ...ports.Field)                {}
func (m *quietObs) LogError(msg string, err error, fields ...ports.Field)    {}
func (m *quietObs) LogCritical(msg string, err error, fields ...ports.Field) {}
func (m *quietObs) IncCounter(name string, v float64)                        {}
func (m *quietObs) SetGauge(name string, v float64)                          {}
func (m *quietObs) ObserveLatency(name string, seconds float64)              {}

func (m *quietObs) RecordEvent(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, msg)
}

func (m *quietObs) Events(max int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

type pushHarvester struct {
	id string

	mu  sync.Mutex
	out chan<- *domain.RawSample
	seq uint64
}

func (p *pushHarvester) ID() string { return p.id }

func (p *pushHarvester) Start(out chan<- *domain.RawSample) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out = out
	return nil
}

func (p *pushHarvester) Stop() error { return nil }
func (p *pushHarvester) Err() error  { return nil }

func (p *pushHarvester) emit(payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out == nil {
		return
	}
	p.seq++
	select {
	case p.out <- &domain.RawSample{SourceID: p.id, Timestamp: time.Now(), Seq: p.seq, Payload: payload}:
	default:
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.NodeID = "test-node"
	cfg.Vault.Dir = t.TempDir()
	cfg.Metrics.Addr = "127.0.0.1:0"
	cfg.Engine.MixInterval = ports.Duration(10 * time.Millisecond)
	cfg.Engine.WindowSize = 64
	cfg.Engine.MintFloorBits = 100
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return cfg
}

func TestRuntimeLifecycleWithCustomSource(t *testing.T) {
	cfg := testConfig(t)
	fv, err := vault.NewFileVault(cfg.Vault.Dir)
	if err != nil {
		t.Fatalf("vault: %v", err)
	}

	h := &pushHarvester{id: "bench"}
	rt, err := NewRuntime(cfg,
		WithoutDefaultSources(),
		WithHarvester(h, 7.0, true),
		WithVault(fv),
		WithQueue(queue.NewMemQueue(256)),
		WithObservability(&quietObs{}),
	)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}

	if err := rt.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i)
	}
	h.emit(payload)

	deadline := time.Now().Add(3 * time.Second)
	for rt.Engine().Snapshot().AggregateConservativeBits() < 100 {
		if time.Now().After(deadline) {
			t.Fatalf("entropy never accumulated")
		}
		time.Sleep(5 * time.Millisecond)
	}

	bundle, path, err := rt.Engine().RequestMint()
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if bundle.BundleID == "" || path == "" {
		t.Fatalf("incomplete mint result: %+v %s", bundle, path)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rt.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestNewRuntimeRequiresConfig(t *testing.T) {
	if _, err := NewRuntime(nil); err == nil {
		t.Fatalf("nil config must be rejected")
	}
}

func TestNewRuntimeRegistersConfiguredSources(t *testing.T) {
	cfg := testConfig(t)
	rt, err := NewRuntime(cfg, WithObservability(&quietObs{}))
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}

	snap := rt.Engine().Snapshot()
	for _, id := range []string{"osrng", "jitter", "sysstat", "trng", "hid", "audio", "video"} {
		st, ok := snap.Sources[id]
		if !ok {
			t.Fatalf("source %s not registered", id)
		}
		if st.Lifecycle != domain.LifecycleDisabled {
			t.Fatalf("source %s should start disabled, got %s", id, st.Lifecycle)
		}
	}
	if _, ok := snap.Sources["opcua"]; ok {
		t.Fatalf("opcua must not register without a session config")
	}
}

func TestConfigureUplinkValidatesBeforeSwap(t *testing.T) {
	cfg := testConfig(t)
	rt, err := NewRuntime(cfg, WithObservability(&quietObs{}))
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}

	if err := rt.ConfigureUplink(uplink.Config{Enabled: true, URL: "not a url"}); err == nil {
		t.Fatalf("malformed uplink config must be rejected")
	}
	if cfg.Uplink.Enabled {
		t.Fatalf("rejected config must leave state unchanged")
	}

	if err := rt.ConfigureUplink(uplink.Config{Enabled: true, URL: "http://collector.local/frames"}); err != nil {
		t.Fatalf("valid uplink config rejected: %v", err)
	}
	if !cfg.Uplink.Enabled || cfg.Uplink.URL != "http://collector.local/frames" {
		t.Fatalf("uplink config not applied: %+v", cfg.Uplink)
	}
}

func TestConfigureP2PValidatesBeforeSwap(t *testing.T) {
	cfg := testConfig(t)
	rt, err := NewRuntime(cfg, WithObservability(&quietObs{}))
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}

	if err := rt.ConfigureP2P(p2p.Config{Enabled: true, ListenAddr: "no-port", Peers: []string{"10.0.0.2:9443"}}); err == nil {
		t.Fatalf("malformed p2p config must be rejected")
	}
	if cfg.P2P.Enabled {
		t.Fatalf("rejected config must leave state unchanged")
	}

	if err := rt.ConfigureP2P(p2p.Config{Enabled: true, ListenAddr: "127.0.0.1:0", Peers: []string{"10.0.0.2:9443"}}); err != nil {
		t.Fatalf("valid p2p config rejected: %v", err)
	}
	if len(cfg.P2P.Peers) != 1 {
		t.Fatalf("p2p config not applied: %+v", cfg.P2P)
	}
}

func TestDuplicateSourceRejected(t *testing.T) {
	cfg := testConfig(t)
	_, err := NewRuntime(cfg,
		WithObservability(&quietObs{}),
		WithHarvester(&pushHarvester{id: "osrng"}, 7.0, false),
	)
	if err == nil {
		t.Fatalf("duplicate source id must be rejected")
	}
}
