// Package bootconfig loads the small YAML document that tells the PCI
// enumerator and VirtIO block device what to probe at boot, instead of the
// hardcoded bus-scan bounds a minimal kernel might otherwise bake in.
// Grounded on canonical-snapd's own heavy reliance on gopkg.in/yaml.v2 for
// its on-disk configuration (snapd's overlord/configstate and friends
// unmarshal YAML documents the same direct way this package does).
package bootconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Transport selects which VirtIO transport the block device driver binds.
type Transport string

const (
	TransportLegacyPCI Transport = "legacy-pci"
	TransportMMIO       Transport = "mmio"
)

// Config is the boot-time configuration surface for this repository's
// core: where to look for a VirtIO block device, and how big a queue to
// accept.
type Config struct {
	// PCIBusLo/PCIBusHi bound the bus range the PCI enumerator scans
	// (spec.md C2); a real machine rarely needs the full 0..255 range
	// scanned, and virtualized hosts commonly place VirtIO functions on
	// bus 0.
	PCIBusLo uint8 `yaml:"pci_bus_lo"`
	PCIBusHi uint8 `yaml:"pci_bus_hi"`

	// Transport chooses legacy-pci or mmio (spec.md §6.1/§6.2).
	Transport Transport `yaml:"transport"`

	// MaxQueueSize is the queue-size ceiling the configuration declares;
	// Validate and cmd/kernel's boot log read it, while virtioblk checks the
	// device's queue_size against virtqueue.MaxQueueSize (256), not this
	// field.
	MaxQueueSize int `yaml:"max_queue_size"`

	// DiskGeometry describes the disk: scheme's backing devices (C5),
	// indexed the way disk:<N> resolves a decimal device index.
	Disks []DiskGeometry `yaml:"disks"`
}

// DiskGeometry names one backing block device the disk: scheme can open.
type DiskGeometry struct {
	Index      int    `yaml:"index"`
	NumBlocks  uint64 `yaml:"num_blocks"`
	ReadOnly   bool   `yaml:"read_only"`
	DebugLabel string `yaml:"label"`
}

// Default returns the configuration this repository boots with if no YAML
// document is supplied, matching the conservative bounds spec.md implies
// (queue size ceiling 256, legacy-PCI transport, bus 0 only).
func Default() Config {
	return Config{
		PCIBusLo:     0,
		PCIBusHi:     0,
		Transport:    TransportLegacyPCI,
		MaxQueueSize: 256,
		Disks:        []DiskGeometry{{Index: 0, NumBlocks: 0, DebugLabel: "disk0"}},
	}
}

// Load reads and parses a YAML boot-config document from path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("bootconfig: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML boot-config document, validating the fields the
// rest of the core relies on being sane.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("bootconfig: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the rest of the core cannot act on.
func (c Config) Validate() error {
	if c.PCIBusLo > c.PCIBusHi {
		return fmt.Errorf("bootconfig: pci_bus_lo (%d) > pci_bus_hi (%d)", c.PCIBusLo, c.PCIBusHi)
	}
	if c.Transport != TransportLegacyPCI && c.Transport != TransportMMIO {
		return fmt.Errorf("bootconfig: unknown transport %q", c.Transport)
	}
	if c.MaxQueueSize <= 0 || c.MaxQueueSize > 256 || c.MaxQueueSize&(c.MaxQueueSize-1) != 0 {
		return fmt.Errorf("bootconfig: max_queue_size %d must be a power of two in (0,256]", c.MaxQueueSize)
	}
	seen := map[int]bool{}
	for _, d := range c.Disks {
		if seen[d.Index] {
			return fmt.Errorf("bootconfig: duplicate disk index %d", d.Index)
		}
		seen[d.Index] = true
	}
	return nil
}
