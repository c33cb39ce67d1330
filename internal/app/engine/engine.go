// Package engine serializes everything that touches the entropy pool: one
// conditioning goroutine consumes harvested samples, runs the health checks
// and estimators, and mixes healthy raw bytes into the pool on a fixed
// cadence. The control surface mutates source lifecycles through the same
// lock, so snapshots are always internally consistent.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/JupitersGhost/ChaosMagnet/internal/domain"
	"github.com/JupitersGhost/ChaosMagnet/internal/entropy"
	"github.com/JupitersGhost/ChaosMagnet/internal/mint"
	"github.com/JupitersGhost/ChaosMagnet/internal/ports"
)

// Options fixes the conditioning parameters for the engine lifetime.
type Options struct {
	WindowSize     int
	MixInterval    time.Duration
	PoolTargetBits float64
	AlphaExp       int
	AutoMintCycles int
	Policy         ports.Policy
}

func (o *Options) applyDefaults() {
	if o.WindowSize <= 0 {
		o.WindowSize = entropy.DefaultWindowSize
	}
	if o.MixInterval <= 0 {
		o.MixInterval = 250 * time.Millisecond
	}
	if o.PoolTargetBits <= 0 {
		o.PoolTargetBits = entropy.DefaultTargetBits
	}
	if o.AlphaExp <= 0 {
		o.AlphaExp = entropy.DefaultAlphaExp
	}
	if o.Policy.MaxBatchSize <= 0 {
		o.Policy.MaxBatchSize = 1_000
	}
	if o.Policy.MaxQueueLen <= 0 {
		o.Policy.MaxQueueLen = 10_000
	}
	if o.Policy.IdleSleep <= 0 {
		o.Policy.IdleSleep = ports.Duration(5 * time.Millisecond)
	}
	if o.Policy.OnQueueFull == "" {
		o.Policy.OnQueueFull = "drop"
	}
}

// source pairs a harvester with its per-source statistical state. All fields
// below the harvester are owned by the engine lock.
type source struct {
	h           ports.Harvester
	hMinClaimed float64

	state   *domain.SourceState
	checker *entropy.Checker
	window  *entropy.Window
}

type Engine struct {
	opts   Options
	queue  ports.SampleQueue
	obs    ports.Observability
	minter *mint.Minter

	in   chan *domain.RawSample
	stop chan struct{}
	wg   sync.WaitGroup

	mu       sync.RWMutex
	pool     *entropy.Pool
	sources  map[string]*source
	started  bool
	seq      uint64
	mintHook func(*domain.Bundle)
}

func New(opts Options, queue ports.SampleQueue, obs ports.Observability, minter *mint.Minter) *Engine {
	opts.applyDefaults()
	return &Engine{
		opts:    opts,
		queue:   queue,
		obs:     obs,
		minter:  minter,
		in:      make(chan *domain.RawSample, opts.Policy.MaxQueueLen),
		stop:    make(chan struct{}),
		pool:    entropy.NewPool(opts.PoolTargetBits),
		sources: make(map[string]*source),
	}
}

// AddSource registers a harvester. Sources start disabled; EnableSource
// acquires the device and begins sampling. Must be called before Start.
func (e *Engine) AddSource(h ports.Harvester, hMinClaimed float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("engine: cannot add source %s after start", h.ID())
	}
	id := h.ID()
	if _, ok := e.sources[id]; ok {
		return fmt.Errorf("engine: duplicate source %s", id)
	}
	e.sources[id] = &source{
		h:           h,
		hMinClaimed: hMinClaimed,
		state: &domain.SourceState{
			SourceID:   id,
			Lifecycle:  domain.LifecycleDisabled,
			LastHealth: domain.HealthPass,
		},
		checker: entropy.NewChecker(hMinClaimed, e.opts.AlphaExp, e.opts.WindowSize),
		window:  entropy.NewWindow(e.opts.WindowSize),
	}
	return nil
}

// Start launches the conditioning loop. Sources are enabled individually.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine: already started")
	}
	e.started = true
	e.mu.Unlock()

	e.wg.Add(1)
	go e.conditionLoop()
	return nil
}

// EnableSource transitions a source Disabled/Error -> Starting -> Running.
// A device fault at acquisition parks the source in Error.
func (e *Engine) EnableSource(id string) error {
	e.mu.Lock()
	src, ok := e.sources[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("engine: unknown source %s", id)
	}
	if src.state.Enabled {
		e.mu.Unlock()
		return nil
	}
	src.state.Lifecycle = domain.LifecycleStarting
	e.mu.Unlock()

	// Clears any previous fault before the retry.
	_ = src.h.Stop()
	err := src.h.Start(e.in)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		src.state.Lifecycle = domain.LifecycleError
		e.obs.RecordEvent(fmt.Sprintf("SOURCE: %s failed to start: %v", id, err))
		return err
	}
	src.state.Enabled = true
	src.state.Lifecycle = domain.LifecycleRunning
	e.obs.RecordEvent(fmt.Sprintf("SOURCE: %s enabled", id))
	return nil
}

// DisableSource is a cooperative drain: production stops, but samples the
// source already handed off are still conditioned. Its accumulated entropy
// no longer counts toward the aggregate because Enabled gates the sum.
func (e *Engine) DisableSource(id string) error {
	e.mu.Lock()
	src, ok := e.sources[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("engine: unknown source %s", id)
	}
	src.state.Enabled = false
	src.state.Lifecycle = domain.LifecycleStopping
	e.mu.Unlock()

	err := src.h.Stop()

	e.mu.Lock()
	src.state.Lifecycle = domain.LifecycleDisabled
	e.mu.Unlock()
	e.obs.RecordEvent(fmt.Sprintf("SOURCE: %s disabled", id))
	return err
}

func (e *Engine) conditionLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.opts.MixInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case s := <-e.in:
			e.condition(s)
		case <-ticker.C:
			e.pollFaults()
			e.mixTick()
		}
	}
}

// condition runs one sample through its source's health checks and
// estimators, then stages the payload for the next mix.
func (e *Engine) condition(s *domain.RawSample) {
	if s == nil || len(s.Payload) == 0 {
		return
	}

	e.mu.Lock()
	src, ok := e.sources[s.SourceID]
	if !ok {
		e.mu.Unlock()
		return
	}

	prev := src.state.LastHealth
	health := src.checker.Update(s.Payload)
	src.state.LastHealth = health
	src.state.Metrics.SampleCount++

	for _, win := range src.window.Append(s.Payload) {
		est := entropy.Measure(win)
		src.state.Metrics.Shannon = est.Shannon
		src.state.Metrics.MinEntropy = est.MinEntropy
		src.state.Metrics.Collision = est.Collision
		src.state.Metrics.AccumulatedBits += est.ConservativeBits(len(win))
	}
	e.mu.Unlock()

	if health != prev {
		if health == domain.HealthFail {
			e.obs.RecordEvent(fmt.Sprintf("HEALTH: %s failed statistical checks", s.SourceID))
		} else {
			e.obs.RecordEvent(fmt.Sprintf("HEALTH: %s recovered", s.SourceID))
		}
	}

	if health != domain.HealthPass {
		e.obs.IncCounter("chaos_samples_rejected_total", 1)
		return
	}

	if e.enqueueWithPolicy(s) {
		e.obs.IncCounter("chaos_samples_total", 1)
	} else {
		e.obs.IncCounter("chaos_samples_rejected_total", 1)
	}
	e.obs.SetGauge("chaos_queue_length", float64(e.queue.Len()))
}

func (e *Engine) enqueueWithPolicy(s *domain.RawSample) bool {
	for {
		if e.queue.Enqueue(s) {
			return true
		}
		switch e.opts.Policy.OnQueueFull {
		case "block":
			time.Sleep(e.opts.Policy.IdleSleep.Std())
		case "drop", "reject":
			return false
		default:
			e.obs.LogError("queue policy invalid", fmt.Errorf("policy=%s", e.opts.Policy.OnQueueFull))
			return false
		}
	}
}

// pollFaults promotes harvester device faults into the Error lifecycle so
// the control surface can see and retry them.
func (e *Engine) pollFaults() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, src := range e.sources {
		if src.state.Lifecycle != domain.LifecycleRunning {
			continue
		}
		if err := src.h.Err(); err != nil {
			src.state.Enabled = false
			src.state.Lifecycle = domain.LifecycleError
			e.obs.RecordEvent(fmt.Sprintf("SOURCE: %s fault: %v", id, err))
		}
	}
}

// mixTick folds every staged healthy payload into the pool. Health is
// checked again at mix time: a source that failed after staging contributes
// nothing.
func (e *Engine) mixTick() {
	batch := e.queue.DequeueBatch(e.opts.Policy.MaxBatchSize)
	if len(batch) == 0 {
		return
	}

	start := time.Now()

	e.mu.Lock()
	var raw []byte
	for _, s := range batch {
		src, ok := e.sources[s.SourceID]
		if !ok || src.state.LastHealth != domain.HealthPass {
			continue
		}
		raw = append(raw, s.Payload...)
	}
	if len(raw) > 0 {
		e.pool.Mix(raw)
	}
	snapBits := e.aggregateBitsLocked()
	poolSnap := e.pool.Snapshot(snapBits)
	e.mu.Unlock()

	if len(raw) > 0 {
		e.obs.IncCounter("chaos_mix_cycles_total", 1)
		e.obs.ObserveLatency("chaos_mix_duration_seconds", time.Since(start).Seconds())
	}
	e.obs.SetGauge("chaos_pool_fill_fraction", poolSnap.FillFraction)
	e.obs.SetGauge("chaos_accumulated_entropy_bits", snapBits)
	e.obs.SetGauge("chaos_queue_length", float64(e.queue.Len()))

	if e.opts.AutoMintCycles > 0 && e.minter != nil && poolSnap.MixCycles > 0 &&
		poolSnap.MixCycles%uint64(e.opts.AutoMintCycles) == 0 {
		if _, _, err := e.RequestMint(); err != nil {
			e.obs.LogInfo("auto mint skipped", ports.Field{Key: "reason", Value: err.Error()})
		}
	}
}

func (e *Engine) aggregateBitsLocked() float64 {
	var total float64
	for _, src := range e.sources {
		if src.state.Enabled && src.state.LastHealth == domain.HealthPass {
			total += src.state.Metrics.AccumulatedBits
		}
	}
	return total
}

// Snapshot returns a deep copy of the engine state. Pool bytes and source
// states are captured in one read section.
func (e *Engine) Snapshot() *domain.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	sources := make(map[string]*domain.SourceState, len(e.sources))
	for id, src := range e.sources {
		st := *src.state
		sources[id] = &st
	}
	snap := &domain.Snapshot{
		Taken:   time.Now(),
		Sources: sources,
	}
	snap.Pool = e.pool.Snapshot(snap.AggregateConservativeBits())
	return snap
}

// SetMintHook registers a callback fired after every successful mint,
// including auto-mints. The hook runs on its own goroutine and must not be
// changed after Start.
func (e *Engine) SetMintHook(fn func(*domain.Bundle)) {
	e.mu.Lock()
	e.mintHook = fn
	e.mu.Unlock()
}

// RequestMint mints a bundle from the current snapshot.
func (e *Engine) RequestMint() (*domain.Bundle, string, error) {
	if e.minter == nil {
		return nil, "", fmt.Errorf("engine: no minter configured")
	}
	bundle, path, err := e.minter.Mint(e.Snapshot())
	if err != nil {
		e.obs.IncCounter("chaos_mint_failures_total", 1)
		return nil, "", err
	}

	e.mu.RLock()
	hook := e.mintHook
	e.mu.RUnlock()
	if hook != nil {
		go hook(bundle)
	}
	return bundle, path, nil
}

// NextFrameSeq returns a monotonically increasing sequence for outbound
// network frames.
func (e *Engine) NextFrameSeq() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seq++
	return e.seq
}

// Reset zeroes the pool and every source's accumulated statistics. Running
// sources keep running; their windows and checkers restart clean.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pool.Reset()
	for _, src := range e.sources {
		src.state.Metrics = domain.EntropyMetrics{}
		src.state.LastHealth = domain.HealthPass
		src.checker = entropy.NewChecker(src.hMinClaimed, e.opts.AlphaExp, e.opts.WindowSize)
		src.window.Reset()
	}
	e.obs.RecordEvent("ENGINE: state reset")
}

// Close stops every source and the conditioning loop.
func (e *Engine) Close() error {
	e.mu.Lock()
	ids := make([]string, 0, len(e.sources))
	for id := range e.sources {
		ids = append(ids, id)
	}
	started := e.started
	e.started = false
	e.mu.Unlock()

	// Stop every source, including faulted ones still holding a device.
	var firstErr error
	for _, id := range ids {
		if err := e.DisableSource(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if started {
		close(e.stop)
		e.wg.Wait()
	}
	return firstErr
}
