package domain

import "time"

// RawSample is the canonical unit of harvested noise in ChaosMagnet. It is
// produced by exactly one harvester, consumed by the conditioning stage, and
// never retained beyond its health/estimate window.
type RawSample struct {
	SourceID  string    `json:"source_id"`
	Timestamp time.Time `json:"ts"`
	Seq       uint64    `json:"seq"`
	Payload   []byte    `json:"payload"`
}
