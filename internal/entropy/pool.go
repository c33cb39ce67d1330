package entropy

import (
	"encoding/hex"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/JupitersGhost/ChaosMagnet/internal/domain"
)

// PoolSize is the fixed size of the extraction pool in bytes.
const PoolSize = 32

// DefaultTargetBits is the pool-entropy goal used for the fill fraction
// when none is configured: a full 256-bit pool.
const DefaultTargetBits = 256

// Pool is the single serialized cryptographic state. Each conditioning
// cycle replaces the 32 pool bytes with SHA3-256(pool || raw), a one-way
// compression that destroys exploitable structure in the raw input while
// carrying all prior accumulated entropy forward. The old state is
// unrecoverable from the new one.
//
// Pool is not safe for concurrent use; the conditioning consumer is its
// only writer and readers take snapshots through the engine.
type Pool struct {
	state      [PoolSize]byte
	targetBits float64

	rawBytes  uint64
	mixCycles uint64
	lastMix   time.Time
}

// NewPool returns an all-zero pool with the given entropy target in bits.
func NewPool(targetBits float64) *Pool {
	if targetBits <= 0 {
		targetBits = DefaultTargetBits
	}
	return &Pool{targetBits: targetBits}
}

// Mix consumes raw bytes into the pool. Mixing with an empty input still
// rotates the state. Deterministic: identical (state, raw) pairs always
// produce the identical next state.
func (p *Pool) Mix(raw []byte) {
	buf := make([]byte, 0, PoolSize+len(raw))
	buf = append(buf, p.state[:]...)
	buf = append(buf, raw...)
	p.state = sha3.Sum256(buf)

	p.rawBytes += uint64(len(raw))
	p.mixCycles++
	p.lastMix = time.Now()
}

// Bytes returns a copy of the current 32-byte pool state.
func (p *Pool) Bytes() [PoolSize]byte { return p.state }

// ExtractionRatio is accumulated raw bytes over total bytes extracted.
func (p *Pool) ExtractionRatio() float64 {
	if p.mixCycles == 0 {
		return 0
	}
	return float64(p.rawBytes) / float64(PoolSize*p.mixCycles)
}

// Snapshot captures the pool state together with the fill fraction derived
// from the aggregate conservative entropy estimate, capped at 1.0.
func (p *Pool) Snapshot(accumulatedBits float64) domain.PoolSnapshot {
	fill := accumulatedBits / p.targetBits
	if fill > 1 {
		fill = 1
	}
	if fill < 0 {
		fill = 0
	}
	return domain.PoolSnapshot{
		Bytes:           p.state,
		Hex:             hex.EncodeToString(p.state[:]),
		FillFraction:    fill,
		RawByteCount:    p.rawBytes,
		ExtractionRatio: p.ExtractionRatio(),
		MixCycles:       p.mixCycles,
		LastMix:         p.lastMix,
	}
}

// Reset returns the pool to its all-zero initial state. Exposed for the
// explicit engine reset only.
func (p *Pool) Reset() {
	p.state = [PoolSize]byte{}
	p.rawBytes = 0
	p.mixCycles = 0
	p.lastMix = time.Time{}
}
