package ports

import "github.com/JupitersGhost/ChaosMagnet/internal/domain"

// Harvester streams raw noise samples from one physical or OS-level source
// into the conditioning pipeline. Implementations own their device handle
// and release it on every exit path, including error transitions.
type Harvester interface {
	// ID returns the stable source identifier used in metrics and snapshots.
	ID() string
	// Start begins sampling into out at the source's natural cadence.
	// It must not block the caller beyond device acquisition.
	Start(out chan<- *domain.RawSample) error
	// Stop suppresses future production and releases the device. Samples
	// already handed off are not recalled. Stop also clears a fault so a
	// subsequent Start can retry.
	Stop() error
	// Err reports a device fault (absent device, permission denied)
	// observed after a successful Start. Nil while healthy.
	Err() error
}
