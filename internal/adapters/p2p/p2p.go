// Package p2p exchanges entropy frames with peer nodes over HTTP. Incoming
// frames are validated, counted, and logged for situational awareness only;
// peer material is never mixed into the local pool, so a hostile peer cannot
// influence locally minted keys.
package p2p

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JupitersGhost/ChaosMagnet/internal/domain"
	"github.com/JupitersGhost/ChaosMagnet/internal/ports"
)

type Config struct {
	Enabled    bool           `yaml:"enabled"`
	ListenAddr string         `yaml:"listen_addr"`
	Peers      []string       `yaml:"peers"`
	Interval   ports.Duration `yaml:"interval"`
	Timeout    ports.Duration `yaml:"timeout"`
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":9443"
	}
	if c.Interval <= 0 {
		c.Interval = ports.Duration(15 * time.Second)
	}
	if c.Timeout <= 0 {
		c.Timeout = ports.Duration(3 * time.Second)
	}
}

func (c *Config) validate() error {
	if !c.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("p2p: invalid listen addr %q: %w", c.ListenAddr, err)
	}
	for _, peer := range c.Peers {
		if _, _, err := net.SplitHostPort(peer); err != nil {
			return fmt.Errorf("p2p: invalid peer addr %q: %w", peer, err)
		}
	}
	return nil
}

type Node struct {
	cfg    Config
	obs    ports.Observability
	client *http.Client

	received atomic.Uint64

	mu     sync.Mutex
	server *http.Server
}

func NewNode(cfg Config, obs ports.Observability) (*Node, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Node{
		cfg:    cfg,
		obs:    obs,
		client: &http.Client{Timeout: cfg.Timeout.Std()},
	}, nil
}

func (n *Node) Enabled() bool         { return n.cfg.Enabled }
func (n *Node) ReceivedCount() uint64 { return n.received.Load() }

// Handler exposes the ingest endpoint for tests and for mounting on a
// shared mux.
func (n *Node) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ingest", n.handleIngest)
	return mux
}

func (n *Node) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var frame domain.NetworkFrame
	if err := json.NewDecoder(r.Body).Decode(&frame); err != nil {
		http.Error(w, "malformed frame", http.StatusBadRequest)
		return
	}
	if frame.Node == "" || frame.PayloadHex == "" {
		http.Error(w, "missing node or payload", http.StatusBadRequest)
		return
	}
	if _, err := hex.DecodeString(frame.PayloadHex); err != nil {
		http.Error(w, "payload is not hex", http.StatusBadRequest)
		return
	}
	if _, err := hex.DecodeString(frame.Digest); err != nil {
		http.Error(w, "digest is not hex", http.StatusBadRequest)
		return
	}

	// Observe only. The frame is deliberately not fed to the pool.
	n.received.Add(1)
	n.obs.IncCounter("chaos_p2p_received_total", 1)
	n.obs.RecordEvent(fmt.Sprintf("P2P: frame from %s seq=%d health=%s", frame.Node, frame.Seq, frame.Health))

	w.WriteHeader(http.StatusOK)
}

// Listen serves the ingest endpoint until ctx is cancelled.
func (n *Node) Listen(ctx context.Context) error {
	if !n.cfg.Enabled {
		return nil
	}

	srv := &http.Server{
		Addr:              n.cfg.ListenAddr,
		Handler:           n.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	n.mu.Lock()
	n.server = srv
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("p2p: listen on %s: %w", n.cfg.ListenAddr, err)
	}
	return nil
}

// Broadcast posts one frame to every configured peer. Unreachable peers are
// logged and skipped; a partial broadcast is not an error.
func (n *Node) Broadcast(ctx context.Context, frame *domain.NetworkFrame) {
	if !n.cfg.Enabled || frame == nil {
		return
	}

	body, err := json.Marshal(frame)
	if err != nil {
		n.obs.LogError("p2p frame marshal failed", err)
		return
	}

	for _, peer := range n.cfg.Peers {
		url := fmt.Sprintf("http://%s/ingest", peer)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			n.obs.LogError("p2p request build failed", err)
			continue
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			n.obs.LogError("p2p peer unreachable", err, ports.Field{Key: "peer", Value: peer})
			continue
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			n.obs.LogError("p2p peer rejected frame",
				fmt.Errorf("status %d", resp.StatusCode), ports.Field{Key: "peer", Value: peer})
		}
	}
}

// Run broadcasts a fresh frame every Interval until ctx is cancelled.
func (n *Node) Run(ctx context.Context, frameFn func() *domain.NetworkFrame) {
	if !n.cfg.Enabled || len(n.cfg.Peers) == 0 {
		return
	}
	ticker := time.NewTicker(n.cfg.Interval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if frame := frameFn(); frame != nil {
				n.Broadcast(ctx, frame)
			}
		}
	}
}
