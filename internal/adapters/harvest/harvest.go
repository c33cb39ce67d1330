// Package harvest implements the noise sources. Each harvester owns one
// device handle, samples at its natural cadence, and hands raw payloads to
// the conditioning pipeline over a shared channel. A full channel drops the
// sample; harvesters never block on downstream pressure.
package harvest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JupitersGhost/ChaosMagnet/internal/domain"
	"github.com/JupitersGhost/ChaosMagnet/internal/ports"
)

var _ ports.Harvester = (*runner)(nil)

// runner is the shared lifecycle for tick-driven harvesters. Variants supply
// open/sample/close hooks; blocking-read sources (HID, audio) implement the
// Harvester port directly instead.
type runner struct {
	id       string
	interval time.Duration

	open   func() error
	sample func() ([]byte, error)
	close  func() error

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	err     error
	seq     uint64
}

func (r *runner) ID() string { return r.id }

func (r *runner) Start(out chan<- *domain.RawSample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("harvest: %s already started", r.id)
	}
	if r.open != nil {
		if err := r.open(); err != nil {
			return fmt.Errorf("harvest: open %s: %w", r.id, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.started = true
	r.err = nil

	r.wg.Add(1)
	go r.loop(ctx, out)
	return nil
}

func (r *runner) loop(ctx context.Context, out chan<- *domain.RawSample) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, err := r.sample()
			if err != nil {
				r.setErr(err)
				return
			}
			if len(payload) == 0 {
				continue
			}
			r.emit(out, payload)
		}
	}
}

func (r *runner) emit(out chan<- *domain.RawSample, payload []byte) {
	r.mu.Lock()
	r.seq++
	seq := r.seq
	r.mu.Unlock()

	s := &domain.RawSample{
		SourceID:  r.id,
		Timestamp: time.Now(),
		Seq:       seq,
		Payload:   payload,
	}
	select {
	case out <- s:
	default:
		// Downstream is saturated; this sample is lost, not queued.
	}
}

func (r *runner) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *runner) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *runner) Stop() error {
	r.mu.Lock()
	if !r.started {
		r.err = nil
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.started = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()

	var closeErr error
	if r.close != nil {
		closeErr = r.close()
	}

	r.mu.Lock()
	r.err = nil
	r.mu.Unlock()
	return closeErr
}
