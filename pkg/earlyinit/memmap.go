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

package earlyinit

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"mars.dev/mars/pkg/hostarch"
	"mars.dev/mars/pkg/log"
	"mars.dev/mars/pkg/ring0/pagetables"
)

// FirmwarePageSize is the page size firmware memory maps count in.
const FirmwarePageSize = 4096

// MemoryType is a firmware memory map entry type, numbered as UEFI does.
type MemoryType uint32

// Memory types.
const (
	Reserved MemoryType = iota
	LoaderCode
	LoaderData
	BootServicesCode
	BootServicesData
	RuntimeServicesCode
	RuntimeServicesData
	Conventional
	Unusable
	ACPIReclaim
	ACPINonVolatile
	MMIO
	MMIOPortSpace
	PALCode
	Persistent
)

var memoryTypeNames = [...]string{
	Reserved:            "Reserved",
	LoaderCode:          "LoaderCode",
	LoaderData:          "LoaderData",
	BootServicesCode:    "BootServicesCode",
	BootServicesData:    "BootServicesData",
	RuntimeServicesCode: "RuntimeServicesCode",
	RuntimeServicesData: "RuntimeServicesData",
	Conventional:        "Conventional",
	Unusable:            "Unusable",
	ACPIReclaim:         "ACPIReclaim",
	ACPINonVolatile:     "ACPINonVolatile",
	MMIO:                "MMIO",
	MMIOPortSpace:       "MMIOPortSpace",
	PALCode:             "PALCode",
	Persistent:          "Persistent",
}

// String implements fmt.Stringer.String.
func (t MemoryType) String() string {
	if int(t) < len(memoryTypeNames) {
		return memoryTypeNames[t]
	}
	return fmt.Sprintf("MemoryType(%#x)", uint32(t))
}

// ParseMemoryType returns the type named s, as printed by String.
func ParseMemoryType(s string) (MemoryType, error) {
	for t, name := range memoryTypeNames {
		if strings.EqualFold(name, s) {
			return MemoryType(t), nil
		}
	}
	return 0, fmt.Errorf("unknown memory type %q", s)
}

// MemoryDescriptor is one firmware memory map entry.
type MemoryDescriptor struct {
	Type      MemoryType
	PhysStart hostarch.PhysAddr

	// PageCount counts FirmwarePageSize pages.
	PageCount uint64
}

// String implements fmt.Stringer.String.
func (d MemoryDescriptor) String() string {
	return fmt.Sprintf("%v %v +%d pages", d.Type, d.PhysStart, d.PageCount)
}

var (
	dataOpts = pagetables.MapOpts{
		AccessPermission: pagetables.PrivilegedReadWrite,
		Shareability:     pagetables.OuterShareable,
		MemoryType:       hostarch.MemoryTypeNormal,
	}
	codeOpts = pagetables.MapOpts{
		AccessPermission:  pagetables.PrivilegedReadOnly,
		Shareability:      pagetables.InnerShareable,
		PrivilegedExecute: true,
		MemoryType:        hostarch.MemoryTypeNormal,
	}
	tableOpts = pagetables.MapOpts{
		AccessPermission: pagetables.PrivilegedReadOnly,
		Shareability:     pagetables.InnerShareable,
		MemoryType:       hostarch.MemoryTypeNormal,
	}
	nvsOpts = pagetables.MapOpts{
		AccessPermission: pagetables.PrivilegedReadOnly,
		Shareability:     pagetables.OuterShareable,
		MemoryType:       hostarch.MemoryTypeDevice,
	}
	deviceOpts = pagetables.MapOpts{
		AccessPermission: pagetables.PrivilegedReadWrite,
		Shareability:     pagetables.OuterShareable,
		MemoryType:       hostarch.MemoryTypeDevice,
	}
)

// Classify returns the attributes memory of type t is mapped with. ok is
// false for types that are not mapped at all.
func Classify(t MemoryType) (opts pagetables.MapOpts, ok bool) {
	switch t {
	case Conventional, LoaderData, BootServicesData, RuntimeServicesData:
		return dataOpts, true
	case LoaderCode, BootServicesCode, RuntimeServicesCode:
		return codeOpts, true
	case ACPIReclaim:
		return tableOpts, true
	case ACPINonVolatile:
		return nvsOpts, true
	case MMIO, MMIOPortSpace:
		return deviceOpts, true
	default:
		return pagetables.MapOpts{}, false
	}
}

// MapFirmwareMap maps every entry of descs at dmap plus its physical
// address, widened to whole pages. A page shared by two entries takes the
// attributes of the lower one. Entries of unmapped types, and empty ones,
// are skipped. It returns the number of entries mapped.
func MapFirmwareMap(pt *pagetables.PageTables, descs []MemoryDescriptor, dmap hostarch.VirtAddr) int {
	sorted := slices.Clone(descs)
	slices.SortStableFunc(sorted, func(a, b MemoryDescriptor) int {
		return cmp.Compare(a.PhysStart, b.PhysStart)
	})

	var (
		mapped  int
		covered hostarch.PhysAddr
	)
	for _, d := range sorted {
		opts, ok := Classify(d.Type)
		if !ok {
			log.Infof("earlyinit: not mapping firmware memory %v", d)
			continue
		}
		if d.PageCount == 0 {
			continue
		}
		last, ok := d.PhysStart.AddLength(d.PageCount * FirmwarePageSize)
		if !ok {
			panic(fmt.Sprintf("firmware memory %v overflows", d))
		}
		end, ok := last.RoundUp()
		if !ok {
			panic(fmt.Sprintf("firmware memory %v overflows", d))
		}
		start := max(d.PhysStart.RoundDown(), covered)
		if start >= end {
			continue
		}
		log.Debugf("earlyinit: mapping firmware memory %v at %v %v", d, dmap+hostarch.VirtAddr(start), opts)
		pt.MapRegion(start, dmap+hostarch.VirtAddr(start), uint64(end-start), opts)
		covered = end
		mapped++
	}
	return mapped
}
