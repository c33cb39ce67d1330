package chaosmagnet

import (
	base "github.com/JupitersGhost/ChaosMagnet/pkg/chaosmagnet"

	"github.com/JupitersGhost/ChaosMagnet/internal/adapters/p2p"
	"github.com/JupitersGhost/ChaosMagnet/internal/adapters/uplink"
	"github.com/JupitersGhost/ChaosMagnet/internal/app/config"
	"github.com/JupitersGhost/ChaosMagnet/internal/domain"
	"github.com/JupitersGhost/ChaosMagnet/internal/mint"
	"github.com/JupitersGhost/ChaosMagnet/internal/ports"
)

// Re-exported errors for convenience.
var ErrPoolBelowThreshold = mint.ErrPoolBelowThreshold

// Type aliases so consumers can import github.com/JupitersGhost/ChaosMagnet
// directly.
type (
	Config        = config.Config
	EngineConfig  = config.EngineConfig
	SourceConfig  = config.SourceConfig
	VaultConfig   = config.VaultConfig
	MetricsConfig = config.MetricsConfig
	UplinkConfig  = uplink.Config
	P2PConfig     = p2p.Config

	Runtime       = base.Runtime
	RuntimeOption = base.RuntimeOption
	FrameTap      = base.FrameTap

	RawSample    = domain.RawSample
	Snapshot     = domain.Snapshot
	SourceState  = domain.SourceState
	PoolSnapshot = domain.PoolSnapshot
	Bundle       = domain.Bundle
	NetworkFrame = domain.NetworkFrame
	HealthResult = domain.HealthResult
	Lifecycle    = domain.Lifecycle

	Harvester     = ports.Harvester
	BundleVault   = ports.BundleVault
	BundleArchive = ports.BundleArchive
	SampleQueue   = ports.SampleQueue
	Observability = ports.Observability
	Policy        = ports.Policy
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// Runtime builders.
func Conf(path string, opts ...RuntimeOption) (*Runtime, error) {
	return base.Conf(path, opts...)
}

func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

// Runtime options.
func WithHarvester(h Harvester, hMinClaimed float64, autoEnable bool) RuntimeOption {
	return base.WithHarvester(h, hMinClaimed, autoEnable)
}

func WithoutDefaultSources() RuntimeOption {
	return base.WithoutDefaultSources()
}

func WithVault(v BundleVault) RuntimeOption {
	return base.WithVault(v)
}

func WithArchive(a BundleArchive) RuntimeOption {
	return base.WithArchive(a)
}

func WithQueue(q SampleQueue) RuntimeOption {
	return base.WithQueue(q)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

func WithFrameTap(tap FrameTap) RuntimeOption {
	return base.WithFrameTap(tap)
}

// Frame taps.
func NewChannelTap(buffer int) (FrameTap, <-chan *NetworkFrame, func()) {
	return base.NewChannelTap(buffer)
}
