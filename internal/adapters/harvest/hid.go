package harvest

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/JupitersGhost/ChaosMagnet/internal/domain"
	"github.com/JupitersGhost/ChaosMagnet/internal/ports"
)

var _ ports.Harvester = (*HID)(nil)

// inputEvent mirrors the Linux kernel struct input_event on 64-bit
// platforms: 16 bytes of timeval followed by type, code, and value.
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

const inputEventSize = 24

// HID harvests human input timing from a /dev/input event device. Reads
// block until the user acts, so it runs its own read loop instead of the
// tick-driven runner; Stop closes the device to unblock the read.
type HID struct {
	id     string
	device string

	mu      sync.Mutex
	f       *os.File
	wg      sync.WaitGroup
	started bool
	err     error
	seq     uint64
}

func NewHID(id, device string) *HID {
	if id == "" {
		id = "hid"
	}
	return &HID{id: id, device: device}
}

func (h *HID) ID() string { return h.id }

func (h *HID) Start(out chan<- *domain.RawSample) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return fmt.Errorf("harvest: %s already started", h.id)
	}
	if h.device == "" {
		return fmt.Errorf("harvest: %s requires a device path", h.id)
	}

	f, err := os.Open(h.device)
	if err != nil {
		return fmt.Errorf("harvest: open %s: %w", h.device, err)
	}

	h.f = f
	h.started = true
	h.err = nil

	h.wg.Add(1)
	go h.readLoop(f, out)
	return nil
}

func (h *HID) readLoop(f *os.File, out chan<- *domain.RawSample) {
	defer h.wg.Done()

	buf := make([]byte, inputEventSize)
	var prevNanos int64

	for {
		if _, err := io.ReadFull(f, buf); err != nil {
			h.mu.Lock()
			if h.started {
				// Device fault; a Stop-initiated close lands here too but
				// started is already false by then.
				h.err = err
			}
			h.mu.Unlock()
			return
		}

		var ev inputEvent
		ev.Sec = int64(binary.LittleEndian.Uint64(buf[0:8]))
		ev.Usec = int64(binary.LittleEndian.Uint64(buf[8:16]))
		ev.Type = binary.LittleEndian.Uint16(buf[16:18])
		ev.Code = binary.LittleEndian.Uint16(buf[18:20])
		ev.Value = int32(binary.LittleEndian.Uint32(buf[20:24]))

		// Sync events carry no operator entropy.
		if ev.Type == 0 {
			continue
		}

		nanos := time.Now().UnixNano()
		delta := nanos - prevNanos
		prevNanos = nanos

		payload := []byte{
			byte(delta), byte(delta >> 8), byte(delta >> 16),
			byte(ev.Code), byte(ev.Code >> 8),
			byte(ev.Value),
			byte(ev.Usec),
		}

		h.mu.Lock()
		h.seq++
		seq := h.seq
		h.mu.Unlock()

		s := &domain.RawSample{
			SourceID:  h.id,
			Timestamp: time.Now(),
			Seq:       seq,
			Payload:   payload,
		}
		select {
		case out <- s:
		default:
		}
	}
}

func (h *HID) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *HID) Stop() error {
	h.mu.Lock()
	if !h.started {
		h.err = nil
		h.mu.Unlock()
		return nil
	}
	f := h.f
	h.started = false
	h.f = nil
	h.mu.Unlock()

	var closeErr error
	if f != nil {
		closeErr = f.Close()
	}
	h.wg.Wait()

	h.mu.Lock()
	h.err = nil
	h.mu.Unlock()
	return closeErr
}
