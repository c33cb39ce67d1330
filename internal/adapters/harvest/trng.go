package harvest

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

const trngChunk = 64

// NewTRNG reads a hardware RNG character device, /dev/hwrng by default.
// Absence of the device is a fault at Start, not a crash; the engine parks
// the source in its error state until an operator retries.
func NewTRNG(id, device string, interval time.Duration) *runner {
	if id == "" {
		id = "trng"
	}
	if device == "" {
		device = "/dev/hwrng"
	}
	if interval <= 0 {
		interval = time.Second
	}

	var (
		mu sync.Mutex
		f  *os.File
	)
	return &runner{
		id:       id,
		interval: interval,
		open: func() error {
			handle, err := os.Open(device)
			if err != nil {
				return err
			}
			mu.Lock()
			f = handle
			mu.Unlock()
			return nil
		},
		sample: func() ([]byte, error) {
			mu.Lock()
			handle := f
			mu.Unlock()
			if handle == nil {
				return nil, fmt.Errorf("trng: %s not open", device)
			}
			buf := make([]byte, trngChunk)
			if _, err := io.ReadFull(handle, buf); err != nil {
				return nil, fmt.Errorf("trng: read %s: %w", device, err)
			}
			return buf, nil
		},
		close: func() error {
			mu.Lock()
			handle := f
			f = nil
			mu.Unlock()
			if handle == nil {
				return nil
			}
			return handle.Close()
		},
	}
}
