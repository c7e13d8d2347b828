// Copyright 2026 The Mars Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"mars.dev/mars/pkg/earlyinit"
	"mars.dev/mars/pkg/fdt"
	"mars.dev/mars/pkg/hostarch"
	"mars.dev/mars/pkg/memregion"
)

// Range is a physical address range in a board description.
type Range struct {
	Base uint64 `toml:"base" yaml:"base" json:"base"`
	Size uint64 `toml:"size" yaml:"size" json:"size"`
}

// Region returns r as a memory region.
func (r Range) Region() memregion.Region {
	return memregion.Region{Base: hostarch.PhysAddr(r.Base), Size: r.Size}
}

// FirmwareEntry is one entry of a board's firmware memory map.
type FirmwareEntry struct {
	Type  string `toml:"type" yaml:"type" json:"type"`
	Start uint64 `toml:"start" yaml:"start" json:"start"`
	Pages uint64 `toml:"pages" yaml:"pages" json:"pages"`
}

// Board describes the machine bring-up runs on: its RAM, the device tree
// it is given and where the loader put things.
type Board struct {
	Name string `toml:"name" yaml:"name" json:"name"`

	// Memory is the RAM of the board. Each range becomes a memory node.
	Memory []Range `toml:"memory" yaml:"memory" json:"memory"`

	// Reserved ranges go into the device tree's reserve map.
	Reserved []Range `toml:"reserved" yaml:"reserved" json:"reserved"`

	// Kernel is the path of the kernel ELF image, relative to the board
	// description.
	Kernel string `toml:"kernel" yaml:"kernel" json:"kernel"`

	// LoadAddress is where the kernel image is placed.
	LoadAddress uint64 `toml:"load_address" yaml:"load_address" json:"load_address"`

	// DTBAddress is where the device tree is placed.
	DTBAddress uint64 `toml:"dtb_address" yaml:"dtb_address" json:"dtb_address"`

	// PoolAddress is the physical address of the early table pool.
	PoolAddress uint64 `toml:"pool_address" yaml:"pool_address" json:"pool_address"`

	// FirmwareMap is an optional firmware memory map.
	FirmwareMap []FirmwareEntry `toml:"firmware_map" yaml:"firmware_map" json:"firmware_map"`

	// dir is the directory the description was read from.
	dir string
}

// boardSchema constrains JSON board descriptions.
const boardSchema = `{
  "type": "object",
  "required": ["memory"],
  "additionalProperties": false,
  "definitions": {
    "range": {
      "type": "object",
      "required": ["base", "size"],
      "additionalProperties": false,
      "properties": {
        "base": {"type": "integer", "minimum": 0},
        "size": {"type": "integer", "minimum": 1}
      }
    }
  },
  "properties": {
    "name": {"type": "string"},
    "memory": {"type": "array", "minItems": 1, "items": {"$ref": "#/definitions/range"}},
    "reserved": {"type": "array", "maxItems": 128, "items": {"$ref": "#/definitions/range"}},
    "kernel": {"type": "string"},
    "load_address": {"type": "integer", "minimum": 0},
    "dtb_address": {"type": "integer", "minimum": 0},
    "pool_address": {"type": "integer", "minimum": 0},
    "firmware_map": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type", "start", "pages"],
        "additionalProperties": false,
        "properties": {
          "type": {"type": "string"},
          "start": {"type": "integer", "minimum": 0},
          "pages": {"type": "integer", "minimum": 0}
        }
      }
    }
  }
}`

// LoadBoard reads a board description. The format follows the file
// extension: TOML, YAML or JSON.
func LoadBoard(path string) (*Board, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	b, err := ParseBoard(filepath.Ext(path), data)
	if err != nil {
		return nil, fmt.Errorf("board %q: %w", path, err)
	}
	b.dir = filepath.Dir(path)
	return b, nil
}

// ParseBoard decodes and validates a board description in the format
// named by ext.
func ParseBoard(ext string, data []byte) (*Board, error) {
	b := &Board{}
	switch strings.ToLower(ext) {
	case ".toml":
		md, err := toml.Decode(string(data), b)
		if err != nil {
			return nil, err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown keys %v", undecoded)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(b); err != nil {
			return nil, err
		}
	case ".json":
		res, err := gojsonschema.Validate(gojsonschema.NewStringLoader(boardSchema), gojsonschema.NewBytesLoader(data))
		if err != nil {
			return nil, err
		}
		if !res.Valid() {
			var msgs []string
			for _, e := range res.Errors() {
				msgs = append(msgs, e.String())
			}
			return nil, fmt.Errorf("invalid board: %s", strings.Join(msgs, "; "))
		}
		if err := json.Unmarshal(data, b); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown board format %q", ext)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Validate checks that the description is usable: memory is present and
// does not overlap, and the loader's addresses are page-aligned and inside
// memory.
func (b *Board) Validate() error {
	if len(b.Memory) == 0 {
		return errors.New("no memory")
	}
	mem := b.MemoryRegions()
	for i, r := range mem {
		if r.Empty() {
			return fmt.Errorf("memory range %v is empty", r)
		}
		if _, ok := r.Base.AddLength(r.Size); !ok {
			return fmt.Errorf("memory range %v wraps", r)
		}
		for _, o := range mem[:i] {
			if r.Overlaps(o) {
				return fmt.Errorf("memory ranges %v and %v overlap", o, r)
			}
		}
	}
	if len(b.Reserved) > fdt.MaxReserved {
		return fmt.Errorf("%d reserved ranges, at most %d allowed", len(b.Reserved), fdt.MaxReserved)
	}
	for _, a := range []struct {
		name string
		addr uint64
	}{
		{"load_address", b.LoadAddress},
		{"dtb_address", b.DTBAddress},
		{"pool_address", b.PoolAddress},
	} {
		pa := hostarch.PhysAddr(a.addr)
		if !pa.IsPageAligned() {
			return fmt.Errorf("%s %v is not page-aligned", a.name, pa)
		}
		if !inside(mem, pa) {
			return fmt.Errorf("%s %v is outside memory", a.name, pa)
		}
	}
	for _, e := range b.FirmwareMap {
		if _, err := earlyinit.ParseMemoryType(e.Type); err != nil {
			return err
		}
	}
	return nil
}

func inside(mem []memregion.Region, pa hostarch.PhysAddr) bool {
	for _, r := range mem {
		if r.Contains(pa) {
			return true
		}
	}
	return false
}

// MemoryRegions returns the board's RAM.
func (b *Board) MemoryRegions() []memregion.Region {
	rs := make([]memregion.Region, 0, len(b.Memory))
	for _, r := range b.Memory {
		rs = append(rs, r.Region())
	}
	return rs
}

// KernelPath returns the kernel image path, resolved against the directory
// of the description. override, if set, wins.
func (b *Board) KernelPath(override string) string {
	if override != "" {
		return override
	}
	if b.Kernel == "" || filepath.IsAbs(b.Kernel) {
		return b.Kernel
	}
	return filepath.Join(b.dir, b.Kernel)
}

// FirmwareDescriptors returns the firmware memory map.
func (b *Board) FirmwareDescriptors() ([]earlyinit.MemoryDescriptor, error) {
	var descs []earlyinit.MemoryDescriptor
	for _, e := range b.FirmwareMap {
		t, err := earlyinit.ParseMemoryType(e.Type)
		if err != nil {
			return nil, err
		}
		descs = append(descs, earlyinit.MemoryDescriptor{
			Type:      t,
			PhysStart: hostarch.PhysAddr(e.Start),
			PageCount: e.Pages,
		})
	}
	return descs, nil
}

// DeviceTree returns a flattened device tree describing the board: a root
// with two address and two size cells, a chosen node and one memory node
// per memory range.
func (b *Board) DeviceTree() ([]byte, error) {
	t := fdt.NewBuilder()
	for _, r := range b.Reserved {
		t.Reserve(r.Region())
	}
	t.BeginNode("")
	t.PropertyU32("#address-cells", 2)
	t.PropertyU32("#size-cells", 2)
	if b.Name != "" {
		t.PropertyString("model", b.Name)
	}
	t.BeginNode("chosen")
	t.EndNode()
	for _, r := range b.MemoryRegions() {
		t.BeginNode(fmt.Sprintf("memory@%x", uint64(r.Base)))
		t.PropertyString("device_type", "memory")
		t.PropertyReg(2, 2, r)
		t.EndNode()
	}
	t.EndNode()
	return t.Finish()
}
