package domain

import "time"

// Bundle is the immutable artifact of a successful mint: both post-quantum
// keypairs plus an auditable snapshot of the entropy state that produced
// them. Persisted as one JSON file per mint and never rewritten.
type Bundle struct {
	BundleID        string                    `json:"bundle_id"`
	Timestamp       time.Time                 `json:"timestamp"`
	KEMPublicKey    string                    `json:"kem_public_key"`
	KEMSecretKey    string                    `json:"kem_secret_key"`
	SignerPublicKey string                    `json:"signer_public_key"`
	Signature       string                    `json:"signature"`
	PoolSnapshot    string                    `json:"pool_snapshot"`
	AccumulatedBits float64                   `json:"accumulated_true_entropy_bits"`
	SourceMetrics   map[string]EntropyMetrics `json:"per_source_metrics"`
	HealthState     map[string]HealthResult   `json:"health_state"`
}

// NetworkFrame is the unauthenticated wire unit pushed to the uplink
// collector and exchanged with P2P peers. It carries whitened pool output
// only; raw noise never leaves the process.
type NetworkFrame struct {
	Node       string  `json:"node"`
	Seq        uint64  `json:"seq"`
	Timestamp  int64   `json:"timestamp"`
	PayloadHex string  `json:"payload_hex"`
	Digest     string  `json:"digest"`
	RawShannon float64 `json:"entropy_estimate_raw_shannon"`
	RawMin     float64 `json:"entropy_estimate_raw_min"`
	Health     string  `json:"health"`
}
