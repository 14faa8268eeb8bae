package state

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/goccy/go-yaml"
)

var (
	NodeConfigPath = "node.yaml"
	MeshConfigPath = "mesh.yaml"
)

// NodeCfg is local node-level configuration.
type NodeCfg struct {
	Id           NodeId     `yaml:"id"`
	Name         string     `yaml:"name"`
	Capabilities Capability `yaml:"capabilities,omitempty"`
	Firmware     string     `yaml:"firmware,omitempty"`
	DataDir      string     `yaml:"data_dir,omitempty"` // if not empty, the event journal is written here
	LogPath      string     `yaml:"log_path,omitempty"` // if not empty, bramble will write logs to this file
}

// MeshCfg is network-wide configuration shared by every node.
type MeshCfg struct {
	Network     string   `yaml:"network"`
	MaxHops     uint8    `yaml:"max_hops,omitempty"`
	TimeSources []NodeId `yaml:"time_sources,omitempty"` // stratum-1 nodes
	Intervals   struct {
		Heartbeat time.Duration `yaml:"heartbeat,omitempty"`
		Beacon    time.Duration `yaml:"beacon,omitempty"`
		Sync      time.Duration `yaml:"sync,omitempty"`
	} `yaml:"intervals,omitempty"`
}

// IsTimeSource reports whether node is a configured stratum-1 clock.
func (c *MeshCfg) IsTimeSource(node NodeId) bool {
	return slices.Contains(c.TimeSources, node)
}

// HopLimit returns the configured hop ceiling, falling back to the default.
func (c *MeshCfg) HopLimit() uint8 {
	if c.MaxHops == 0 {
		return MaxHops
	}
	return c.MaxHops
}

func NodeConfigValidator(cfg *NodeCfg) error {
	if cfg.Id == Broadcast {
		return fmt.Errorf("node id 0 is the broadcast address")
	}
	if cfg.Name == "" {
		return fmt.Errorf("node name must not be empty")
	}
	if cfg.Capabilities == 0 {
		cfg.Capabilities = CapBasic
	}
	return nil
}

func MeshConfigValidator(cfg *MeshCfg) error {
	if cfg.Network == "" {
		return fmt.Errorf("network name must not be empty")
	}
	if slices.Contains(cfg.TimeSources, Broadcast) {
		return fmt.Errorf("time source id 0 is the broadcast address")
	}
	seen := make(map[NodeId]bool)
	for _, id := range cfg.TimeSources {
		if seen[id] {
			return fmt.Errorf("duplicate time source %d", id)
		}
		seen[id] = true
	}
	return nil
}

// LoadNodeConfig reads and validates the node config at path.
func LoadNodeConfig(path string) (NodeCfg, error) {
	var cfg NodeCfg
	file, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(file, &cfg); err != nil {
		return cfg, err
	}
	return cfg, NodeConfigValidator(&cfg)
}

// LoadMeshConfig reads and validates the network config at path.
func LoadMeshConfig(path string) (MeshCfg, error) {
	var cfg MeshCfg
	file, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(file, &cfg); err != nil {
		return cfg, err
	}
	return cfg, MeshConfigValidator(&cfg)
}

// ApplyIntervals overrides the package tunables with any configured values.
func (c *MeshCfg) ApplyIntervals() {
	if c.Intervals.Heartbeat > 0 {
		HeartbeatInterval = c.Intervals.Heartbeat
	}
	if c.Intervals.Beacon > 0 {
		BeaconInterval = c.Intervals.Beacon
	}
	if c.Intervals.Sync > 0 {
		SyncInterval = c.Intervals.Sync
		SyncTimeout = c.Intervals.Sync
		ReferenceStaleAfter = 3 * c.Intervals.Sync
	}
}
