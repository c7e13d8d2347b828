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

// Package earlyinit brings up memory management for the kernel: it finds
// usable memory in the device tree, hands it to the page allocator and
// builds both the early and the final translation tables.
package earlyinit

import (
	"fmt"

	"mars.dev/mars/pkg/fdt"
	"mars.dev/mars/pkg/hostarch"
	"mars.dev/mars/pkg/log"
	"mars.dev/mars/pkg/memregion"
	"mars.dev/mars/pkg/pgalloc"
	"mars.dev/mars/pkg/physmem"
	"mars.dev/mars/pkg/ring0"
	"mars.dev/mars/pkg/ring0/pagetables"
)

// DefaultMaxRegions bounds the usable regions read from the device tree
// when BootInfo.MaxRegions is zero.
const DefaultMaxRegions = 64

// BootInfo is what the loader hands over.
type BootInfo struct {
	// DTB is the flattened device tree, found at DTBAddr.
	DTB     []byte
	DTBAddr hostarch.PhysAddr

	// Load and Segments describe the kernel image.
	Load     LoadDescriptor
	Segments []Segment

	// MemoryMap is the firmware memory map. If it is empty the usable
	// regions are direct mapped instead.
	MemoryMap []MemoryDescriptor

	// PoolBase is the physical address of the early table pool.
	PoolBase hostarch.PhysAddr

	// MaxRegions bounds the regions read from DTB.
	MaxRegions int
}

// AddressSpace is the result of bring-up.
type AddressSpace struct {
	// Regions are the regions donated to Pages.
	Regions []memregion.Region

	// Pages allocates from Regions.
	Pages *pgalloc.PageAllocator

	// Early are the tables built from the static pool.
	Early          *pagetables.PageTables
	EarlyRegisters ring0.Registers

	// Kernel are the tables built from Pages.
	Kernel    *pagetables.PageTables
	Registers ring0.Registers
}

// bootReserved returns the physical ranges bring-up must not donate.
func (b *BootInfo) bootReserved() []memregion.Region {
	return []memregion.Region{
		{Base: b.Load.PhysicalBase, Size: b.Load.Size},
		{Base: b.PoolBase, Size: pagetables.PoolSlots * hostarch.PageSize},
		{Base: b.DTBAddr, Size: uint64(len(b.DTB))},
	}
}

// usableRegions returns the page-aligned memory described by the device
// tree, less the image, the pool and the tree itself.
func usableRegions(info *BootInfo, mem *physmem.Memory) ([]memregion.Region, error) {
	f, err := fdt.New(info.DTB)
	if err != nil {
		return nil, fmt.Errorf("device tree: %w", err)
	}
	capacity := info.MaxRegions
	if capacity == 0 {
		capacity = DefaultMaxRegions
	}
	regions, err := f.UsableRegions(capacity)
	if err != nil {
		return nil, fmt.Errorf("device tree: %w", err)
	}

	reserved := info.bootReserved()
	var usable []memregion.Region
	for _, r := range regions {
		r = memregion.PageAlign(r)
		if r.Empty() {
			continue
		}
		frags, err := memregion.Subtract(r, reserved, fdt.MaxFragments)
		if err != nil {
			return nil, fmt.Errorf("region %v: %w", r, err)
		}
		for _, frag := range frags {
			frag = memregion.PageAlign(frag)
			if frag.Empty() {
				continue
			}
			if !mem.Contains(frag.Base, frag.Size) {
				return nil, fmt.Errorf("region %v is not backed by memory", frag)
			}
			usable = append(usable, frag)
		}
	}
	return memregion.SortAndMerge(usable), nil
}

// Bringup runs memory bring-up against mem, which stands in for physical
// memory and must back every usable region.
//
// Malformed device trees, capacity overruns and invalid kernel images are
// returned as errors. Running out of tables panics.
func Bringup(info BootInfo, mem *physmem.Memory) (*AddressSpace, error) {
	regions, err := usableRegions(&info, mem)
	if err != nil {
		return nil, err
	}
	for _, r := range regions {
		log.Infof("earlyinit: usable memory %v", r)
	}

	pages := pgalloc.New(mem)
	pages.Init(regions)
	if pages.TotalPages() == 0 {
		log.Warningf("earlyinit: no usable memory")
	}

	pool := pagetables.NewPoolAllocator(info.PoolBase)
	early := EarlyTables(pool, info.Load, info.DTBAddr)
	if log.IsLogging(log.Debug) {
		base, size := pool.Range()
		log.Debugf("earlyinit: early tables use %d of %d pool slots in [%v, +%#x)", pool.Used(), pagetables.PoolSlots, base, size)
	}

	kernel, err := kernelTables(pages, &info, regions)
	if err != nil {
		return nil, err
	}

	as := &AddressSpace{
		Regions:        regions,
		Pages:          pages,
		Early:          early,
		EarlyRegisters: ring0.RegistersFor(early),
		Kernel:         kernel,
		Registers:      ring0.RegistersFor(kernel),
	}
	log.Infof("earlyinit: %d pages free, %d early tables, %d kernel tables", pages.FreePages(), early.Tables(), kernel.Tables())
	return as, nil
}

// kernelTables builds the final tables from pages. On error every table
// is returned to pages.
func kernelTables(pages *pgalloc.PageAllocator, info *BootInfo, regions []memregion.Region) (*pagetables.PageTables, error) {
	alloc := pagetables.NewPageAllocator(pages)
	kernel := pagetables.New(alloc)
	if err := MapKernel(kernel, info.Load, info.Segments); err != nil {
		alloc.Release()
		return nil, fmt.Errorf("kernel image: %w", err)
	}
	if len(info.MemoryMap) > 0 {
		n := MapFirmwareMap(kernel, info.MemoryMap, hostarch.DirectMapBase)
		log.Infof("earlyinit: mapped %d of %d firmware memory map entries", n, len(info.MemoryMap))
	} else {
		for _, r := range regions {
			kernel.MapRegion(r.Base, hostarch.DirectMap(r.Base), r.Size, dataOpts)
		}
	}
	kernel.MapRegion(0, ring0.IOMapBase, ring0.IOMapSize, earlyIOOpts)
	return kernel, nil
}
