// Package mint turns a consistent engine snapshot into an immutable
// post-quantum key bundle. Minting reads the snapshot only; it never
// mutates the pool and never stalls live harvesting.
package mint

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/awnumar/memguard"
	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/kyber/kyber512"
	"github.com/cloudflare/circl/sign/dilithium/mode2"
	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	"github.com/JupitersGhost/ChaosMagnet/internal/domain"
	"github.com/JupitersGhost/ChaosMagnet/internal/ports"
)

// ErrPoolBelowThreshold rejects a mint whose aggregate conservative entropy
// across enabled, healthy sources is under the configured floor.
var ErrPoolBelowThreshold = errors.New("chaosmagnet: aggregate entropy below mint threshold")

// Domain-separation labels for sub-seed expansion. The pool bytes are never
// used directly as key material; each primitive gets its own cSHAKE stream.
const (
	kemSeedLabel = "chaosmagnet-kem-v1"
	sigSeedLabel = "chaosmagnet-sig-v1"
)

// Minter derives Kyber512 KEM and Dilithium2 signature keypairs from
// domain-separated expansions of the pool snapshot, signs the snapshot
// digest, and persists the bundle through the vault.
type Minter struct {
	vault     ports.BundleVault
	archive   ports.BundleArchive
	obs       ports.Observability
	floorBits float64
	scheme    kem.Scheme
}

// New builds a minter gated on floorBits of accumulated conservative entropy.
func New(vault ports.BundleVault, obs ports.Observability, floorBits float64) *Minter {
	return &Minter{
		vault:     vault,
		obs:       obs,
		floorBits: floorBits,
		scheme:    kyber512.Scheme(),
	}
}

// SetArchive attaches an optional audit archive. Archive failures are
// logged, never fatal to the mint.
func (m *Minter) SetArchive(a ports.BundleArchive) { m.archive = a }

// Mint validates the snapshot against the entropy floor, derives both
// keypairs, signs the snapshot digest, and atomically persists the bundle.
// Sub-seeds and ephemeral secret buffers are wiped before return; the
// persisted bundle still contains the KEM secret key by design.
func (m *Minter) Mint(snap *domain.Snapshot) (*domain.Bundle, string, error) {
	if snap == nil {
		return nil, "", fmt.Errorf("mint: snapshot is required")
	}

	agg := snap.AggregateConservativeBits()
	if agg < m.floorBits {
		return nil, "", fmt.Errorf("%w: have %.1f bits, need %.1f", ErrPoolBelowThreshold, agg, m.floorBits)
	}

	pool := snap.Pool.Bytes

	kemSeed := memguard.NewBufferFromBytes(deriveSubSeed(pool[:], kemSeedLabel, m.scheme.SeedSize()))
	defer kemSeed.Destroy()
	sigSeed := memguard.NewBufferFromBytes(deriveSubSeed(pool[:], sigSeedLabel, mode2.SeedSize))
	defer sigSeed.Destroy()

	kemPub, kemPriv := m.scheme.DeriveKeyPair(kemSeed.Bytes())
	kemPubBytes, err := kemPub.MarshalBinary()
	if err != nil {
		return nil, "", fmt.Errorf("mint: marshal kem public key: %w", err)
	}
	kemPrivBytes, err := kemPriv.MarshalBinary()
	if err != nil {
		return nil, "", fmt.Errorf("mint: marshal kem secret key: %w", err)
	}
	defer memguard.WipeBytes(kemPrivBytes)

	var seed [mode2.SeedSize]byte
	copy(seed[:], sigSeed.Bytes())
	sigPub, sigPriv := mode2.NewKeyFromSeed(&seed)
	memguard.WipeBytes(seed[:])

	now := time.Now().UTC()
	digest := SnapshotDigest(snap, now)

	sig := make([]byte, mode2.SignatureSize)
	mode2.SignTo(sigPriv, digest[:], sig)

	sigPubBytes, err := sigPub.MarshalBinary()
	if err != nil {
		return nil, "", fmt.Errorf("mint: marshal signer public key: %w", err)
	}

	bundle := &domain.Bundle{
		BundleID:        uuid.NewString(),
		Timestamp:       now,
		KEMPublicKey:    hex.EncodeToString(kemPubBytes),
		KEMSecretKey:    hex.EncodeToString(kemPrivBytes),
		SignerPublicKey: hex.EncodeToString(sigPubBytes),
		Signature:       hex.EncodeToString(sig),
		PoolSnapshot:    snap.Pool.Hex,
		AccumulatedBits: agg,
		SourceMetrics:   copyMetrics(snap),
		HealthState:     copyHealth(snap),
	}

	path, err := m.vault.Store(bundle)
	if err != nil {
		return nil, "", fmt.Errorf("mint: persist bundle: %w", err)
	}

	if m.archive != nil {
		if err := m.archive.Archive(bundle); err != nil {
			m.obs.LogError("bundle_archive_failed", err,
				ports.Field{Key: "bundle_id", Value: bundle.BundleID})
		}
	}

	m.obs.IncCounter("chaos_mints_total", 1)
	m.obs.RecordEvent(fmt.Sprintf("VAULT: minted bundle %s (%.0f bits accumulated)", bundle.BundleID[:8], agg))
	return bundle, path, nil
}

// SnapshotDigest is the signed digest covering the pool snapshot, every
// source's metrics and health state, and the mint timestamp. Source order
// is canonical so the digest is reproducible for verification.
func SnapshotDigest(snap *domain.Snapshot, ts time.Time) [32]byte {
	h := sha3.New256()
	h.Write(snap.Pool.Bytes[:])
	_ = binary.Write(h, binary.LittleEndian, ts.UnixNano())

	ids := make([]string, 0, len(snap.Sources))
	for id := range snap.Sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		st := snap.Sources[id]
		h.Write([]byte(id))
		h.Write([]byte{0})
		_ = binary.Write(h, binary.LittleEndian, st.Metrics.Shannon)
		_ = binary.Write(h, binary.LittleEndian, st.Metrics.MinEntropy)
		_ = binary.Write(h, binary.LittleEndian, st.Metrics.Collision)
		_ = binary.Write(h, binary.LittleEndian, st.Metrics.AccumulatedBits)
		_ = binary.Write(h, binary.LittleEndian, st.Metrics.SampleCount)
		if st.LastHealth == domain.HealthPass {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	}

	var d [32]byte
	copy(d[:], h.Sum(nil))
	return d
}

// VerifyBundle checks the bundle's Dilithium2 signature against a digest.
func VerifyBundle(b *domain.Bundle, digest [32]byte) (bool, error) {
	pubBytes, err := hex.DecodeString(b.SignerPublicKey)
	if err != nil {
		return false, fmt.Errorf("decode signer public key: %w", err)
	}
	sig, err := hex.DecodeString(b.Signature)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}

	var pk mode2.PublicKey
	if err := pk.UnmarshalBinary(pubBytes); err != nil {
		return false, fmt.Errorf("unmarshal signer public key: %w", err)
	}
	return mode2.Verify(&pk, digest[:], sig), nil
}

func deriveSubSeed(pool []byte, label string, n int) []byte {
	h := sha3.NewCShake256(nil, []byte(label))
	h.Write(pool)
	out := make([]byte, n)
	_, _ = h.Read(out)
	return out
}

func copyMetrics(snap *domain.Snapshot) map[string]domain.EntropyMetrics {
	out := make(map[string]domain.EntropyMetrics, len(snap.Sources))
	for id, st := range snap.Sources {
		out[id] = st.Metrics
	}
	return out
}

func copyHealth(snap *domain.Snapshot) map[string]domain.HealthResult {
	out := make(map[string]domain.HealthResult, len(snap.Sources))
	for id, st := range snap.Sources {
		out[id] = st.LastHealth
	}
	return out
}
