package ports

import "github.com/JupitersGhost/ChaosMagnet/internal/domain"

// BundleVault persists minted bundles, one immutable file per mint.
type BundleVault interface {
	// Store writes the bundle atomically and returns the persisted path.
	// A bundle is never rewritten once stored.
	Store(b *domain.Bundle) (string, error)
}

// BundleArchive mirrors bundle audit rows (never secret material) into an
// external store for fleet-wide inspection. Optional; archive failures must
// not fail a mint.
type BundleArchive interface {
	Archive(b *domain.Bundle) error
	Name() string
}
