// Package config loads and validates the YAML runtime configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JupitersGhost/ChaosMagnet/internal/adapters/harvest"
	"github.com/JupitersGhost/ChaosMagnet/internal/adapters/p2p"
	"github.com/JupitersGhost/ChaosMagnet/internal/adapters/uplink"
	"github.com/JupitersGhost/ChaosMagnet/internal/entropy"
	"github.com/JupitersGhost/ChaosMagnet/internal/ports"
)

type Config struct {
	NodeID  string        `yaml:"node_id"`
	Policy  ports.Policy  `yaml:"policy"`
	Engine  EngineConfig  `yaml:"engine"`
	Sources SourcesConfig `yaml:"sources"`
	Vault   VaultConfig   `yaml:"vault"`
	Uplink  uplink.Config `yaml:"uplink"`
	P2P     p2p.Config    `yaml:"p2p"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type EngineConfig struct {
	WindowSize     int            `yaml:"window_size"`
	MixInterval    ports.Duration `yaml:"mix_interval"`
	PoolTargetBits float64        `yaml:"pool_target_bits"`
	MintFloorBits  float64        `yaml:"mint_floor_bits"`
	AlphaExp       int            `yaml:"alpha_exp"`
	AutoMintCycles int            `yaml:"auto_mint_cycles"`
}

// SourceConfig is shared by every harvester variant. HMinClaimed is the
// operator's per-byte min-entropy claim for the source; the health checks
// are calibrated against it, so an optimistic claim trips them faster.
type SourceConfig struct {
	Enabled     bool           `yaml:"enabled"`
	HMinClaimed float64        `yaml:"h_min_claimed"`
	Device      string         `yaml:"device"`
	Interval    ports.Duration `yaml:"interval"`
}

type OPCUASourceConfig struct {
	SourceConfig `yaml:",inline"`
	Session      harvest.OPCUAConfig `yaml:"session"`
}

type SourcesConfig struct {
	OSRNG   SourceConfig      `yaml:"osrng"`
	Jitter  SourceConfig      `yaml:"jitter"`
	SysStat SourceConfig      `yaml:"sysstat"`
	TRNG    SourceConfig      `yaml:"trng"`
	HID     SourceConfig      `yaml:"hid"`
	Audio   SourceConfig      `yaml:"audio"`
	Video   SourceConfig      `yaml:"video"`
	OPCUA   OPCUASourceConfig `yaml:"opcua"`
}

type VaultConfig struct {
	Dir               string `yaml:"dir"`
	ArchiveConnString string `yaml:"archive_conn_string"`
	ArchiveTable      string `yaml:"archive_table"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.NodeID == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "chaosmagnet"
		}
		c.NodeID = host
	}

	if c.Policy.MaxQueueLen == 0 {
		c.Policy.MaxQueueLen = 10_000
	}
	if c.Policy.MaxBatchSize == 0 {
		c.Policy.MaxBatchSize = 1_000
	}
	if c.Policy.IdleSleep == 0 {
		c.Policy.IdleSleep = ports.Duration(5 * time.Millisecond)
	}
	if c.Policy.OnQueueFull == "" {
		c.Policy.OnQueueFull = "drop"
	}

	if c.Engine.WindowSize == 0 {
		c.Engine.WindowSize = entropy.DefaultWindowSize
	}
	if c.Engine.MixInterval == 0 {
		c.Engine.MixInterval = ports.Duration(250 * time.Millisecond)
	}
	if c.Engine.PoolTargetBits == 0 {
		c.Engine.PoolTargetBits = entropy.DefaultTargetBits
	}
	if c.Engine.MintFloorBits == 0 {
		c.Engine.MintFloorBits = entropy.DefaultTargetBits
	}
	if c.Engine.AlphaExp == 0 {
		c.Engine.AlphaExp = entropy.DefaultAlphaExp
	}

	defaults := map[*SourceConfig]struct {
		hMin   float64
		device string
	}{
		&c.Sources.OSRNG:              {hMin: 7.5},
		&c.Sources.Jitter:             {hMin: 1.0},
		&c.Sources.SysStat:            {hMin: 0.5},
		&c.Sources.TRNG:               {hMin: 7.0, device: "/dev/hwrng"},
		&c.Sources.HID:                {hMin: 1.5, device: "/dev/input/event0"},
		&c.Sources.Audio:              {hMin: 2.0},
		&c.Sources.Video:              {hMin: 2.0, device: "/dev/video0"},
		&c.Sources.OPCUA.SourceConfig: {hMin: 0.5},
	}
	for sc, d := range defaults {
		if sc.HMinClaimed == 0 {
			sc.HMinClaimed = d.hMin
		}
		if sc.Device == "" {
			sc.Device = d.device
		}
	}

	if c.Vault.Dir == "" {
		c.Vault.Dir = "./keys"
	}
	if c.Vault.ArchiveTable == "" {
		c.Vault.ArchiveTable = "bundles"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
}

func (c *Config) Validate() error {
	if c.Engine.WindowSize < 16 {
		return fmt.Errorf("engine.window_size must be at least 16, got %d", c.Engine.WindowSize)
	}
	if c.Engine.AlphaExp < 1 {
		return fmt.Errorf("engine.alpha_exp must be positive, got %d", c.Engine.AlphaExp)
	}
	if c.Engine.PoolTargetBits <= 0 {
		return fmt.Errorf("engine.pool_target_bits must be positive")
	}
	if c.Engine.MintFloorBits <= 0 {
		return fmt.Errorf("engine.mint_floor_bits must be positive")
	}
	if c.Engine.AutoMintCycles < 0 {
		return fmt.Errorf("engine.auto_mint_cycles must not be negative")
	}

	checks := map[string]SourceConfig{
		"osrng":   c.Sources.OSRNG,
		"jitter":  c.Sources.Jitter,
		"sysstat": c.Sources.SysStat,
		"trng":    c.Sources.TRNG,
		"hid":     c.Sources.HID,
		"audio":   c.Sources.Audio,
		"video":   c.Sources.Video,
		"opcua":   c.Sources.OPCUA.SourceConfig,
	}
	for name, sc := range checks {
		if sc.HMinClaimed <= 0 || sc.HMinClaimed > 8 {
			return fmt.Errorf("sources.%s.h_min_claimed must be in (0, 8], got %g", name, sc.HMinClaimed)
		}
	}

	if c.Sources.OPCUA.Enabled {
		if c.Sources.OPCUA.Session.Endpoint == "" {
			return fmt.Errorf("sources.opcua.session.endpoint is required when opcua is enabled")
		}
		if len(c.Sources.OPCUA.Session.NodeIDs) == 0 {
			return fmt.Errorf("sources.opcua.session.node_ids is required when opcua is enabled")
		}
	}

	if c.Policy.MaxQueueLen < 1 {
		return fmt.Errorf("policy.max_queue_len must be positive, got %d", c.Policy.MaxQueueLen)
	}
	if c.Policy.MaxBatchSize < 1 {
		return fmt.Errorf("policy.max_batch_size must be positive, got %d", c.Policy.MaxBatchSize)
	}
	if c.Policy.IdleSleep < 0 {
		return fmt.Errorf("policy.idle_sleep must not be negative, got %s", c.Policy.IdleSleep)
	}
	switch c.Policy.OnQueueFull {
	case "drop", "reject", "block":
	default:
		return fmt.Errorf("policy.on_queue_full must be drop, reject, or block, got %q", c.Policy.OnQueueFull)
	}

	if c.Vault.Dir == "" {
		return fmt.Errorf("vault.dir is required")
	}
	if c.Uplink.Enabled && c.Uplink.URL == "" {
		return fmt.Errorf("uplink.url is required when uplink is enabled")
	}
	return nil
}
