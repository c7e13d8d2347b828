// Copyright 2020 The gVisor Authors.
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
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"mars.dev/mars/pkg/earlyinit"
	"mars.dev/mars/pkg/fdt"
	"mars.dev/mars/pkg/hostarch"
	"mars.dev/mars/pkg/memregion"
)

func TestDefault(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	// All defaults doesn't require setting flags.
	if flags := c.ToFlags(); len(flags) > 0 {
		t.Errorf("default flags not set correctly for: %s", flags)
	}
}

func TestFromFlags(t *testing.T) {
	testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(testFlags)
	for name, val := range map[string]string{
		"board":       "virt.toml",
		"debug":       "true",
		"max-regions": "8",
		"log-format":  "json",
	} {
		if err := testFlags.Set(name, val); err != nil {
			t.Errorf("Flag set: %v", err)
		}
	}

	c, err := NewFromFlags(testFlags)
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		Board:      "virt.toml",
		LogFormat:  "json",
		Debug:      true,
		MaxRegions: 8,
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("Config mismatch (-want +got):\n%s", diff)
	}

	flags := c.ToFlags()
	if len(flags) != 4 {
		t.Errorf("wrong number of flags set, want: 4, got: %d: %s", len(flags), flags)
	}
}

func TestValidationFail(t *testing.T) {
	for name, val := range map[string]string{
		"log-format":  "xml",
		"max-regions": "0",
	} {
		t.Run(name, func(t *testing.T) {
			testFlags := flag.NewFlagSet("test", flag.ContinueOnError)
			RegisterFlags(testFlags)
			if err := testFlags.Set(name, val); err != nil {
				t.Fatalf("Flag set: %v", err)
			}
			if _, err := NewFromFlags(testFlags); err == nil || !strings.Contains(err.Error(), name) {
				t.Errorf("NewFromFlags() = %v, want an error naming %q", err, name)
			}
		})
	}
}

const virtTOML = `
name = "virt"
kernel = "kernel.elf"
load_address = 0x40200000
dtb_address = 0x44000000
pool_address = 0x45000000

[[memory]]
base = 0x40000000
size = 0x10000000

[[reserved]]
base = 0x48000000
size = 0x100000

[[firmware_map]]
type = "Conventional"
start = 0x40000000
pages = 0x10000
`

const virtYAML = `
name: virt
kernel: kernel.elf
load_address: 0x40200000
dtb_address: 0x44000000
pool_address: 0x45000000
memory:
  - {base: 0x40000000, size: 0x10000000}
reserved:
  - {base: 0x48000000, size: 0x100000}
firmware_map:
  - {type: Conventional, start: 0x40000000, pages: 0x10000}
`

const virtJSON = `{
  "name": "virt",
  "kernel": "kernel.elf",
  "load_address": 1075838976,
  "dtb_address": 1140850688,
  "pool_address": 1157627904,
  "memory": [{"base": 1073741824, "size": 268435456}],
  "reserved": [{"base": 1207959552, "size": 1048576}],
  "firmware_map": [{"type": "Conventional", "start": 1073741824, "pages": 65536}]
}`

func TestParseBoard(t *testing.T) {
	want := &Board{
		Name:        "virt",
		Memory:      []Range{{Base: 0x4000_0000, Size: 0x1000_0000}},
		Reserved:    []Range{{Base: 0x4800_0000, Size: 0x10_0000}},
		Kernel:      "kernel.elf",
		LoadAddress: 0x4020_0000,
		DTBAddress:  0x4400_0000,
		PoolAddress: 0x4500_0000,
		FirmwareMap: []FirmwareEntry{{Type: "Conventional", Start: 0x4000_0000, Pages: 0x10000}},
	}
	for ext, data := range map[string]string{
		".toml": virtTOML,
		".yaml": virtYAML,
		".json": virtJSON,
	} {
		b, err := ParseBoard(ext, []byte(data))
		if err != nil {
			t.Errorf("ParseBoard(%s): %v", ext, err)
			continue
		}
		if diff := cmp.Diff(want, b, cmp.AllowUnexported(Board{})); diff != "" {
			t.Errorf("ParseBoard(%s) mismatch (-want +got):\n%s", ext, diff)
		}
	}
}

func TestParseBoardErrors(t *testing.T) {
	for _, tc := range []struct {
		name, ext, data string
	}{
		{"unknown format", ".ini", virtTOML},
		{"unknown toml key", ".toml", virtTOML + "\nflavour = 1\n"},
		{"unknown yaml key", ".yaml", virtYAML + "flavour: 1\n"},
		{"json schema", ".json", `{"memory": []}`},
		{"json unknown key", ".json", `{"memory": [{"base": 0, "size": 1}], "flavour": 1}`},
		{"no memory", ".toml", `name = "empty"`},
		{"overlap", ".yaml", "memory: [{base: 0, size: 0x8000}, {base: 0x4000, size: 0x4000}]\n"},
		{"unaligned", ".yaml", "memory: [{base: 0, size: 0x100000}]\nload_address: 0x1000\n"},
		{"outside", ".yaml", "memory: [{base: 0x100000, size: 0x100000}]\n"},
		{"bad type", ".yaml", "memory: [{base: 0, size: 0x100000}]\nfirmware_map: [{type: ram, start: 0, pages: 1}]\n"},
	} {
		if _, err := ParseBoard(tc.ext, []byte(tc.data)); err == nil {
			t.Errorf("%s: ParseBoard succeeded", tc.name)
		}
	}
}

func TestLoadBoard(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "virt.toml")
	if err := os.WriteFile(path, []byte(virtTOML), 0644); err != nil {
		t.Fatal(err)
	}
	b, err := LoadBoard(path)
	if err != nil {
		t.Fatalf("LoadBoard: %v", err)
	}
	if got, want := b.KernelPath(""), filepath.Join(dir, "kernel.elf"); got != want {
		t.Errorf("KernelPath() = %q, want %q", got, want)
	}
	if got := b.KernelPath("other.elf"); got != "other.elf" {
		t.Errorf("KernelPath(other.elf) = %q", got)
	}
	if _, err := LoadBoard(filepath.Join(dir, "missing.toml")); err == nil {
		t.Errorf("LoadBoard of a missing file succeeded")
	}
}

func TestDeviceTree(t *testing.T) {
	b, err := ParseBoard(".toml", []byte(virtTOML))
	if err != nil {
		t.Fatalf("ParseBoard: %v", err)
	}
	blob, err := b.DeviceTree()
	if err != nil {
		t.Fatalf("DeviceTree: %v", err)
	}
	f, err := fdt.New(blob)
	if err != nil {
		t.Fatalf("fdt.New: %v", err)
	}
	got, err := f.UsableRegions(earlyinit.DefaultMaxRegions)
	if err != nil {
		t.Fatalf("UsableRegions: %v", err)
	}
	want := []memregion.Region{
		{Base: 0x4000_0000, Size: 0x800_0000},
		{Base: 0x4810_0000, Size: 0x7f0_0000},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("UsableRegions mismatch (-want +got):\n%s", diff)
	}

	descs, err := b.FirmwareDescriptors()
	if err != nil {
		t.Fatalf("FirmwareDescriptors: %v", err)
	}
	wantDescs := []earlyinit.MemoryDescriptor{{Type: earlyinit.Conventional, PhysStart: hostarch.PhysAddr(0x4000_0000), PageCount: 0x10000}}
	if diff := cmp.Diff(wantDescs, descs); diff != "" {
		t.Errorf("FirmwareDescriptors mismatch (-want +got):\n%s", diff)
	}
}
