package engine

import (
	"encoding/binary"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/JupitersGhost/ChaosMagnet/internal/domain"
)

// BuildFrame assembles the outbound wire unit from the current snapshot.
// The payload is the whitened 32-byte pool state; the digest binds it to
// the node and sequence so a receiver can detect corrupted or replayed
// frames even on this unauthenticated channel.
func (e *Engine) BuildFrame(nodeID string) *domain.NetworkFrame {
	snap := e.Snapshot()
	seq := e.NextFrameSeq()

	payload := snap.Pool.Bytes[:]

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], seq)
	h := sha3.New256()
	h.Write(payload)
	h.Write([]byte(nodeID))
	h.Write(seqBuf[:])
	digest := h.Sum(nil)

	var (
		shannon, minEnt float64
		measured        int
		health          = "pass"
	)
	for _, st := range snap.Sources {
		if !st.Enabled {
			continue
		}
		if st.LastHealth != domain.HealthPass {
			health = "fail"
		}
		if st.Metrics.SampleCount > 0 {
			shannon += st.Metrics.Shannon
			minEnt += st.Metrics.MinEntropy
			measured++
		}
	}
	if measured > 0 {
		shannon /= float64(measured)
		minEnt /= float64(measured)
	}

	return &domain.NetworkFrame{
		Node:       nodeID,
		Seq:        seq,
		Timestamp:  time.Now().Unix(),
		PayloadHex: hex.EncodeToString(payload),
		Digest:     hex.EncodeToString(digest),
		RawShannon: shannon,
		RawMin:     minEnt,
		Health:     health,
	}
}
