package harvest

import (
	"runtime"
	"time"
)

const jitterDeltas = 256

// NewJitter harvests CPU timing jitter: the low byte of the interval between
// consecutive clock reads, perturbed by scheduler handoffs. Per-byte min
// entropy is low, which the conservative accounting reflects.
func NewJitter(id string, interval time.Duration) *runner {
	if id == "" {
		id = "jitter"
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &runner{
		id:       id,
		interval: interval,
		sample: func() ([]byte, error) {
			buf := make([]byte, jitterDeltas)
			prev := time.Now().UnixNano()
			for i := range buf {
				runtime.Gosched()
				now := time.Now().UnixNano()
				buf[i] = byte(now - prev)
				prev = now
			}
			return buf, nil
		},
	}
}
