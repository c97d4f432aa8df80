// Package chipdb is the device registry for WCH bootloader chips.
//
// The backing table ships embedded in the binary as YAML chip-definition
// data. Lookups are total: an unknown (chip id, device type) pair resolves
// to a synthesized descriptor with conservative defaults instead of an
// error, so identification never blocks on an incomplete database.
package chipdb

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed chips.yaml
var embeddedChips []byte

// Family tags a chip with its product line, which determines the
// capability defaults the bootloader protocol cares about.
type Family int

const (
	// FamilyUnknown marks a synthesized descriptor for a chip absent
	// from the table.
	FamilyUnknown Family = iota
	// FamilyCH32V are the RISC-V general purpose parts.
	FamilyCH32V
	// FamilyCH32F are the Cortex-M general purpose parts.
	FamilyCH32F
	// FamilyCH55x are the 8051 USB parts.
	FamilyCH55x
	// FamilyCH58x are the RISC-V BLE parts.
	FamilyCH58x
)

func (f Family) String() string {
	switch f {
	case FamilyCH32V:
		return "CH32V"
	case FamilyCH32F:
		return "CH32F"
	case FamilyCH55x:
		return "CH55x"
	case FamilyCH58x:
		return "CH58x"
	default:
		return "Unknown"
	}
}

// UnmarshalYAML decodes a family from its lowercase table tag.
func (f *Family) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch s {
	case "ch32v":
		*f = FamilyCH32V
	case "ch32f":
		*f = FamilyCH32F
	case "ch55x":
		*f = FamilyCH55x
	case "ch58x":
		*f = FamilyCH58x
	default:
		return fmt.Errorf("chipdb: unknown family %q", s)
	}
	return nil
}

// Chip describes one microcontroller model: its two-part identity key,
// memory sizes and protocol capabilities. Immutable once loaded.
type Chip struct {
	Name       string `yaml:"name"`
	ChipID     uint8  `yaml:"chip_id"`
	DeviceType uint8  `yaml:"device_type"`
	FlashSize  uint32 `yaml:"flash_size"`
	EEPROMSize uint32 `yaml:"eeprom_size"`
	Family     Family `yaml:"family"`

	// EraseSectorsMin overrides the minimum erasable sector count.
	// Zero means one sector.
	EraseSectorsMin uint32 `yaml:"min_erase_sectors,omitempty"`
}

// SupportsCodeFlashProtect reports whether the chip has a read-protect
// register the unprotect sequence must clear before flashing.
func (c Chip) SupportsCodeFlashProtect() bool {
	return c.Family == FamilyCH32V || c.Family == FamilyCH32F
}

// SupportsEncrypt reports whether chunks are XOR-obfuscated with the
// session key on the wire.
func (c Chip) SupportsEncrypt() bool {
	return c.Family != FamilyUnknown
}

// MinEraseSectors is the smallest sector count the bootloader will erase.
func (c Chip) MinEraseSectors() uint32 {
	if c.EraseSectorsMin > 0 {
		return c.EraseSectorsMin
	}
	return 1
}

// SectorSize is the erase granularity in bytes.
func (c Chip) SectorSize() uint32 {
	return 1024
}

// UIDSize is the length of the unique id trailing the config registers.
func (c Chip) UIDSize() int {
	if c.Family == FamilyCH55x {
		return 4
	}
	return 8
}

func (c Chip) String() string {
	return fmt.Sprintf("%s[0x%02x%02x]", c.Name, c.ChipID, c.DeviceType)
}

type key struct {
	chipID     uint8
	deviceType uint8
}

// DB is a read-only chip table keyed by (chip id, device type). Safe for
// concurrent use.
type DB struct {
	chips map[key]Chip
}

// Load reads a YAML chip table.
func Load(r io.Reader) (*DB, error) {
	var doc struct {
		Chips []Chip `yaml:"chips"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("chipdb: decode chip table: %w", err)
	}

	chips := make(map[key]Chip, len(doc.Chips))
	for _, c := range doc.Chips {
		k := key{c.ChipID, c.DeviceType}
		if _, dup := chips[k]; dup {
			return nil, fmt.Errorf("chipdb: duplicate chip key 0x%02x%02x", c.ChipID, c.DeviceType)
		}
		chips[k] = c
	}
	return &DB{chips: chips}, nil
}

var (
	defaultOnce sync.Once
	defaultDB   *DB
	defaultErr  error
)

// Default returns the registry backed by the embedded chip-definition
// data, loaded once per process.
func Default() (*DB, error) {
	defaultOnce.Do(func() {
		defaultDB, defaultErr = Load(bytes.NewReader(embeddedChips))
	})
	return defaultDB, defaultErr
}

// Lookup resolves a (chip id, device type) pair to its descriptor.
//
// Lookup is total: a pair missing from the table yields a descriptor of
// FamilyUnknown with 64KiB of flash and no EEPROM, so callers always have
// something to reason about.
func (db *DB) Lookup(chipID, deviceType uint8) Chip {
	if c, ok := db.chips[key{chipID, deviceType}]; ok {
		return c
	}
	return Chip{
		Name:       fmt.Sprintf("Unknown[%02x%02x]", chipID, deviceType),
		ChipID:     chipID,
		DeviceType: deviceType,
		FlashSize:  64 * 1024,
		Family:     FamilyUnknown,
	}
}

// IsSupported reports whether the pair is present in the table. Unlike
// Lookup it never synthesizes.
func (db *DB) IsSupported(chipID, deviceType uint8) bool {
	_, ok := db.chips[key{chipID, deviceType}]
	return ok
}
