package harvest

import (
	"fmt"
	"sync"
	"time"

	"github.com/blackjack/webcam"
)

const videoStride = 64

// NewVideo harvests camera sensor noise. Only the low nibble of a sparse
// subsample of each frame is kept, where thermal and shot noise dominate the
// scene content, then XORed against the previous frame to strip static bias.
func NewVideo(id, device string, interval time.Duration) *runner {
	if id == "" {
		id = "video"
	}
	if device == "" {
		device = "/dev/video0"
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}

	var (
		mu   sync.Mutex
		cam  *webcam.Webcam
		prev []byte
	)
	return &runner{
		id:       id,
		interval: interval,
		open: func() error {
			c, err := webcam.Open(device)
			if err != nil {
				return err
			}
			if err := c.StartStreaming(); err != nil {
				c.Close()
				return err
			}
			mu.Lock()
			cam = c
			prev = nil
			mu.Unlock()
			return nil
		},
		sample: func() ([]byte, error) {
			mu.Lock()
			c := cam
			mu.Unlock()
			if c == nil {
				return nil, fmt.Errorf("video: %s not open", device)
			}

			if err := c.WaitForFrame(5); err != nil {
				return nil, fmt.Errorf("video: wait frame: %w", err)
			}
			frame, err := c.ReadFrame()
			if err != nil {
				return nil, fmt.Errorf("video: read frame: %w", err)
			}
			if len(frame) == 0 {
				return nil, nil
			}

			noise := make([]byte, 0, len(frame)/videoStride+1)
			for i := 0; i < len(frame); i += videoStride {
				noise = append(noise, frame[i]&0x0f)
			}

			mu.Lock()
			defer mu.Unlock()
			if prev == nil {
				// First frame carries scene structure; prime the delta
				// filter and emit nothing.
				prev = noise
				return nil, nil
			}
			raw := append([]byte(nil), noise...)
			n := len(noise)
			if len(prev) < n {
				n = len(prev)
			}
			for i := 0; i < n; i++ {
				noise[i] ^= prev[i]
			}
			prev = raw
			return noise, nil
		},
		close: func() error {
			mu.Lock()
			c := cam
			cam = nil
			prev = nil
			mu.Unlock()
			if c == nil {
				return nil
			}
			c.StopStreaming()
			return c.Close()
		},
	}
}
