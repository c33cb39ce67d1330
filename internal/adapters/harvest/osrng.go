package harvest

import (
	"crypto/rand"
	"time"
)

const osrngChunk = 256

// NewOSRNG reads the operating system CSPRNG. It is the baseline source:
// always present, near-uniform output, useful for calibrating the health
// checks and keeping the pool warm when physical sources are offline.
func NewOSRNG(id string, interval time.Duration) *runner {
	if id == "" {
		id = "osrng"
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &runner{
		id:       id,
		interval: interval,
		sample: func() ([]byte, error) {
			buf := make([]byte, osrngChunk)
			if _, err := rand.Read(buf); err != nil {
				return nil, err
			}
			return buf, nil
		},
	}
}
