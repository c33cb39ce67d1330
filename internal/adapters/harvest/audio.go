package harvest

import (
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/JupitersGhost/ChaosMagnet/internal/domain"
	"github.com/JupitersGhost/ChaosMagnet/internal/ports"
)

var _ ports.Harvester = (*Audio)(nil)

const (
	audioChunk   = 256
	audioMinGap  = 250 * time.Millisecond
	audioLowBits = 0x0f
)

// Audio harvests microphone noise through the default capture device. Only
// the low nibble of every 16-bit PCM sample is kept, where amplifier and
// thermal noise live. The capture callback is throttled so a hot microphone
// cannot flood the pipeline.
type Audio struct {
	id string

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	started bool
	err     error
	seq     uint64
	pending []byte
	lastOut time.Time
}

func NewAudio(id string) *Audio {
	if id == "" {
		id = "audio"
	}
	return &Audio{id: id}
}

func (a *Audio) ID() string { return a.id }

func (a *Audio) Start(out chan<- *domain.RawSample) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return fmt.Errorf("harvest: %s already started", a.id)
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("harvest: audio context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = 44100

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			a.onCapture(input, out)
		},
	}

	device, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("harvest: audio device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("harvest: audio start: %w", err)
	}

	a.ctx = mctx
	a.device = device
	a.started = true
	a.err = nil
	a.pending = a.pending[:0]
	return nil
}

// onCapture runs on the miniaudio thread. It strips PCM samples to their low
// nibbles, packs two nibbles per byte, and emits at most one sample per
// audioMinGap.
func (a *Audio) onCapture(input []byte, out chan<- *domain.RawSample) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return
	}

	// S16 mono: low byte of each 16-bit sample is input[2i].
	for i := 0; i+1 < len(input) && len(a.pending) < audioChunk*2; i += 4 {
		a.pending = append(a.pending, input[i]&audioLowBits)
	}
	if len(a.pending) < audioChunk*2 || time.Since(a.lastOut) < audioMinGap {
		return
	}

	payload := make([]byte, audioChunk)
	for i := range payload {
		payload[i] = a.pending[2*i]<<4 | a.pending[2*i+1]
	}
	a.pending = a.pending[:0]
	a.lastOut = time.Now()
	a.seq++

	s := &domain.RawSample{
		SourceID:  a.id,
		Timestamp: time.Now(),
		Seq:       a.seq,
		Payload:   payload,
	}
	select {
	case out <- s:
	default:
	}
}

func (a *Audio) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

func (a *Audio) Stop() error {
	a.mu.Lock()
	if !a.started {
		a.err = nil
		a.mu.Unlock()
		return nil
	}
	device := a.device
	mctx := a.ctx
	a.started = false
	a.device = nil
	a.ctx = nil
	a.mu.Unlock()

	if device != nil {
		device.Uninit()
	}
	if mctx != nil {
		mctx.Uninit()
		mctx.Free()
	}

	a.mu.Lock()
	a.err = nil
	a.mu.Unlock()
	return nil
}
