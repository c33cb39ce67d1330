// Package chaosmagnet is the embedding surface: it wires the default
// adapters (harvesters, queue, vault, Prometheus observability, uplink, P2P)
// around the engine and exposes lifecycle hooks plus functional options so
// callers can swap any dependency.
package chaosmagnet

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JupitersGhost/ChaosMagnet/internal/adapters/harvest"
	"github.com/JupitersGhost/ChaosMagnet/internal/adapters/observability"
	"github.com/JupitersGhost/ChaosMagnet/internal/adapters/p2p"
	"github.com/JupitersGhost/ChaosMagnet/internal/adapters/queue"
	"github.com/JupitersGhost/ChaosMagnet/internal/adapters/uplink"
	"github.com/JupitersGhost/ChaosMagnet/internal/adapters/vault"
	"github.com/JupitersGhost/ChaosMagnet/internal/app/config"
	"github.com/JupitersGhost/ChaosMagnet/internal/app/engine"
	"github.com/JupitersGhost/ChaosMagnet/internal/domain"
	"github.com/JupitersGhost/ChaosMagnet/internal/mint"
	"github.com/JupitersGhost/ChaosMagnet/internal/ports"
)

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	harvesters    []harvesterSpec
	skipDefaults  bool
	vault         ports.BundleVault
	archive       ports.BundleArchive
	queue         ports.SampleQueue
	observability ports.Observability
	taps          []FrameTap
}

type harvesterSpec struct {
	h           ports.Harvester
	hMinClaimed float64
	autoEnable  bool
}

// WithHarvester registers an extra noise source alongside the configured
// defaults. autoEnable starts it with the runtime.
func WithHarvester(h ports.Harvester, hMinClaimed float64, autoEnable bool) RuntimeOption {
	return func(o *runtimeOverrides) {
		if h != nil {
			o.harvesters = append(o.harvesters, harvesterSpec{h: h, hMinClaimed: hMinClaimed, autoEnable: autoEnable})
		}
	}
}

// WithoutDefaultSources skips the config-driven harvesters entirely, leaving
// only sources added through WithHarvester.
func WithoutDefaultSources() RuntimeOption {
	return func(o *runtimeOverrides) { o.skipDefaults = true }
}

// WithVault injects a custom bundle store.
func WithVault(v ports.BundleVault) RuntimeOption {
	return func(o *runtimeOverrides) { o.vault = v }
}

// WithArchive injects a custom audit archive instead of the Postgres one.
func WithArchive(a ports.BundleArchive) RuntimeOption {
	return func(o *runtimeOverrides) { o.archive = a }
}

// WithQueue swaps the in-memory staging queue.
func WithQueue(q ports.SampleQueue) RuntimeOption {
	return func(o *runtimeOverrides) { o.queue = q }
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs ports.Observability) RuntimeOption {
	return func(o *runtimeOverrides) { o.observability = obs }
}

// WithFrameTap registers a local consumer of outbound entropy frames.
func WithFrameTap(tap FrameTap) RuntimeOption {
	return func(o *runtimeOverrides) {
		if tap != nil {
			o.taps = append(o.taps, tap)
		}
	}
}

// Runtime owns the engine and every distribution surface for one node.
type Runtime struct {
	cfg    *config.Config
	obs    ports.Observability
	engine *engine.Engine
	minter *mint.Minter
	taps   []FrameTap

	autoEnable []string
	db         *sql.DB
	metricsSrv *http.Server

	mu         sync.Mutex
	uplink     *uplink.Client
	p2p        *p2p.Node
	started    bool
	distCancel context.CancelFunc
}

// Conf loads YAML from disk and builds a Runtime.
func Conf(path string, opts ...RuntimeOption) (*Runtime, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return NewRuntime(cfg, opts...)
}

// NewRuntime bootstraps the default adapters around an in-memory Config.
func NewRuntime(cfg *config.Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	obs := overrides.observability
	if obs == nil {
		obs = observability.NewPromObs(nil)
	}

	q := overrides.queue
	if q == nil {
		q = queue.NewMemQueue(cfg.Policy.MaxQueueLen)
	}

	bundleVault := overrides.vault
	if bundleVault == nil {
		fv, err := vault.NewFileVault(cfg.Vault.Dir)
		if err != nil {
			return nil, err
		}
		bundleVault = fv
	}

	minter := mint.New(bundleVault, obs, cfg.Engine.MintFloorBits)

	var db *sql.DB
	switch {
	case overrides.archive != nil:
		minter.SetArchive(overrides.archive)
	case cfg.Vault.ArchiveConnString != "":
		var err error
		db, err = sql.Open("postgres", cfg.Vault.ArchiveConnString)
		if err != nil {
			return nil, err
		}
		minter.SetArchive(vault.NewPgArchive(db, cfg.Vault.ArchiveTable))
	}

	eng := engine.New(engine.Options{
		WindowSize:     cfg.Engine.WindowSize,
		MixInterval:    cfg.Engine.MixInterval.Std(),
		PoolTargetBits: cfg.Engine.PoolTargetBits,
		AlphaExp:       cfg.Engine.AlphaExp,
		AutoMintCycles: cfg.Engine.AutoMintCycles,
		Policy:         cfg.Policy,
	}, q, obs, minter)

	rt := &Runtime{
		cfg:    cfg,
		obs:    obs,
		engine: eng,
		minter: minter,
		taps:   overrides.taps,
		db:     db,
	}

	if !overrides.skipDefaults {
		if err := rt.addConfiguredSources(); err != nil {
			return nil, err
		}
	}
	for _, spec := range overrides.harvesters {
		if err := eng.AddSource(spec.h, spec.hMinClaimed); err != nil {
			return nil, err
		}
		if spec.autoEnable {
			rt.autoEnable = append(rt.autoEnable, spec.h.ID())
		}
	}

	up, err := uplink.New(cfg.Uplink, obs)
	if err != nil {
		return nil, err
	}
	rt.uplink = up

	node, err := p2p.NewNode(cfg.P2P, obs)
	if err != nil {
		return nil, err
	}
	rt.p2p = node

	// Every successful mint also pushes a frame to the collector.
	eng.SetMintHook(func(*domain.Bundle) { rt.sendFrameNow() })

	return rt, nil
}

func (r *Runtime) sendFrameNow() {
	r.mu.Lock()
	up := r.uplink
	r.mu.Unlock()
	if up == nil || !up.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = up.Send(ctx, r.engine.BuildFrame(r.cfg.NodeID))
}

func (r *Runtime) addConfiguredSources() error {
	src := r.cfg.Sources

	add := func(h ports.Harvester, sc config.SourceConfig) error {
		if err := r.engine.AddSource(h, sc.HMinClaimed); err != nil {
			return err
		}
		if sc.Enabled {
			r.autoEnable = append(r.autoEnable, h.ID())
		}
		return nil
	}

	if err := add(harvest.NewOSRNG("osrng", src.OSRNG.Interval.Std()), src.OSRNG); err != nil {
		return err
	}
	if err := add(harvest.NewJitter("jitter", src.Jitter.Interval.Std()), src.Jitter); err != nil {
		return err
	}
	if err := add(harvest.NewSysStat("sysstat", src.SysStat.Interval.Std()), src.SysStat); err != nil {
		return err
	}
	if err := add(harvest.NewTRNG("trng", src.TRNG.Device, src.TRNG.Interval.Std()), src.TRNG); err != nil {
		return err
	}
	if err := add(harvest.NewHID("hid", src.HID.Device), src.HID); err != nil {
		return err
	}
	if err := add(harvest.NewAudio("audio"), src.Audio); err != nil {
		return err
	}
	if err := add(harvest.NewVideo("video", src.Video.Device, src.Video.Interval.Std()), src.Video); err != nil {
		return err
	}

	// OPC UA needs a valid session config, so it is only registered when
	// the operator turned it on.
	if src.OPCUA.Enabled {
		h, err := harvest.NewOPCUA("opcua", src.OPCUA.Session)
		if err != nil {
			return err
		}
		if err := add(h, src.OPCUA.SourceConfig); err != nil {
			return err
		}
	}
	return nil
}

// Engine exposes the control and query surface.
func (r *Runtime) Engine() *engine.Engine { return r.engine }

// Observability exposes the metrics/event backend, mainly for the CLI.
func (r *Runtime) Observability() ports.Observability { return r.obs }

// Start launches the engine, the configured sources, the metrics endpoint,
// and the distribution loops. It returns immediately; use Run to block.
func (r *Runtime) Start() error {
	if err := r.engine.Start(); err != nil {
		return err
	}

	for _, id := range r.autoEnable {
		if err := r.engine.EnableSource(id); err != nil {
			// A missing device parks the source in Error; the node keeps
			// running on its remaining sources.
			r.obs.LogError("source failed to start", err, ports.Field{Key: "source", Value: id})
		}
	}

	r.startMetrics()

	r.mu.Lock()
	r.started = true
	r.startDistributionLocked()
	r.mu.Unlock()
	return nil
}

// startDistributionLocked launches the uplink, P2P, and tap loops under a
// fresh context. Caller holds r.mu.
func (r *Runtime) startDistributionLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	r.distCancel = cancel

	frameFn := func() *domain.NetworkFrame { return r.engine.BuildFrame(r.cfg.NodeID) }

	if up := r.uplink; up.Enabled() {
		go up.Run(ctx, frameFn)
	}
	if node := r.p2p; node.Enabled() {
		go func() {
			if err := node.Listen(ctx); err != nil {
				r.obs.LogError("p2p listener exited", err)
			}
		}()
		go node.Run(ctx, frameFn)
	}
	if len(r.taps) > 0 {
		go r.runTaps(ctx, frameFn)
	}
}

// ConfigureUplink swaps the collector target at runtime. A malformed config
// is rejected and the previous uplink keeps running.
func (r *Runtime) ConfigureUplink(cfg uplink.Config) error {
	up, err := uplink.New(cfg, r.obs)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.Uplink = cfg
	r.uplink = up
	if r.started {
		r.restartDistributionLocked()
	}
	r.obs.RecordEvent("UPLINK: reconfigured")
	return nil
}

// ConfigureP2P swaps the listen address and peer list at runtime. A
// malformed config is rejected and the previous node keeps running.
func (r *Runtime) ConfigureP2P(cfg p2p.Config) error {
	node, err := p2p.NewNode(cfg, r.obs)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.P2P = cfg
	r.p2p = node
	if r.started {
		r.restartDistributionLocked()
	}
	r.obs.RecordEvent("P2P: reconfigured")
	return nil
}

func (r *Runtime) restartDistributionLocked() {
	if r.distCancel != nil {
		r.distCancel()
	}
	r.startDistributionLocked()
}

// Run starts the runtime and blocks until ctx is cancelled, then shuts down.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Shutdown(shutdownCtx)
}

// Shutdown stops distribution, the sources, the engine, and the servers.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var errs []error

	r.mu.Lock()
	if r.distCancel != nil {
		r.distCancel()
		r.distCancel = nil
	}
	r.started = false
	r.mu.Unlock()
	if r.metricsSrv != nil {
		if err := r.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}
	if err := r.engine.Close(); err != nil {
		errs = append(errs, err)
	}
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Runtime) runTaps(ctx context.Context, frameFn func() *domain.NetworkFrame) {
	interval := r.cfg.Uplink.Interval.Std()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame := frameFn()
			for _, tap := range r.taps {
				tap(frame)
			}
		}
	}
}

func (r *Runtime) startMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.metricsSrv = &http.Server{
		Addr:    r.cfg.Metrics.Addr,
		Handler: mux,
	}

	go func() {
		if err := r.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server exited: %v", err)
		}
	}()
}
