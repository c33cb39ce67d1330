package domain

import "time"

// Lifecycle tracks a harvester through its state machine. The only exit from
// Error is an explicit Stop followed by a Start retry.
type Lifecycle string

const (
	LifecycleDisabled Lifecycle = "disabled"
	LifecycleStarting Lifecycle = "starting"
	LifecycleRunning  Lifecycle = "running"
	LifecycleStopping Lifecycle = "stopping"
	LifecycleError    Lifecycle = "error"
)

// HealthResult is the outcome of the per-source statistical health checks.
type HealthResult string

const (
	HealthPass HealthResult = "pass"
	HealthFail HealthResult = "fail"
)

// EntropyMetrics holds the conservative entropy figures for one source.
// Invariant: 0 <= MinEntropy <= Collision <= Shannon <= 8 (bits per byte).
type EntropyMetrics struct {
	Shannon         float64 `json:"shannon_bits_per_byte"`
	MinEntropy      float64 `json:"min_entropy_bits_per_byte"`
	Collision       float64 `json:"collision_entropy_bits_per_byte"`
	AccumulatedBits float64 `json:"accumulated_true_entropy_bits"`
	SampleCount     uint64  `json:"sample_count"`
}

// SourceState is the engine's view of one harvester. It persists for the
// engine lifetime and is mutated only through the serialized conditioning
// path and the control surface.
type SourceState struct {
	SourceID   string         `json:"source_id"`
	Enabled    bool           `json:"enabled"`
	Lifecycle  Lifecycle      `json:"lifecycle"`
	LastHealth HealthResult   `json:"last_health"`
	Metrics    EntropyMetrics `json:"metrics"`
}

// PoolSnapshot is a consistent copy of the extraction pool state.
type PoolSnapshot struct {
	Bytes           [32]byte  `json:"-"`
	Hex             string    `json:"pool_hex"`
	FillFraction    float64   `json:"fill_fraction"`
	RawByteCount    uint64    `json:"accumulated_raw_byte_count"`
	ExtractionRatio float64   `json:"extraction_ratio"`
	MixCycles       uint64    `json:"mix_cycle_count"`
	LastMix         time.Time `json:"last_mix"`
}

// Snapshot is the consistent engine view handed to the minter, the
// distributors, and the control surface. Pool and source states are taken
// in the same read section so they never disagree.
type Snapshot struct {
	Taken   time.Time               `json:"taken"`
	Pool    PoolSnapshot            `json:"pool"`
	Sources map[string]*SourceState `json:"sources"`
}

// AggregateConservativeBits sums the accumulated worst-case entropy across
// enabled, healthy sources. This is the figure the minter gates on and the
// numerator of the pool fill fraction.
func (s *Snapshot) AggregateConservativeBits() float64 {
	var total float64
	for _, st := range s.Sources {
		if st.Enabled && st.LastHealth == HealthPass {
			total += st.Metrics.AccumulatedBits
		}
	}
	return total
}
