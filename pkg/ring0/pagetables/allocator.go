// Copyright 2018 Google Inc.
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

package pagetables

import (
	"fmt"

	"mars.dev/mars/pkg/hostarch"
	"mars.dev/mars/pkg/pgalloc"
	"mars.dev/mars/pkg/physmem"
)

// Allocator is used to allocate and map PTEs.
//
// Note that allocators may be called concurrently.
type Allocator interface {
	// NewPTEs returns a new, zeroed set of PTEs, or nil if none can be
	// allocated.
	NewPTEs() *PTEs

	// PhysicalFor gives the physical address for a set of PTEs.
	PhysicalFor(ptes *PTEs) hostarch.PhysAddr

	// LookupPTEs looks up PTEs by physical address.
	LookupPTEs(physical hostarch.PhysAddr) *PTEs
}

// PoolSlots is the capacity of a PoolAllocator.
const PoolSlots = 64

// PoolAllocator hands out tables from a fixed array of slots, one after the
// other. Slots are never reused; once they run out, NewPTEs keeps failing.
//
// It serves before any page allocator exists. Slot i sits at physical
// address base + i*PageSize.
type PoolAllocator struct {
	base  hostarch.PhysAddr
	used  int
	slots [PoolSlots]PTEs
}

// NewPoolAllocator returns a pool whose slots start at the page-aligned
// physical address base.
func NewPoolAllocator(base hostarch.PhysAddr) *PoolAllocator {
	if !base.IsPageAligned() {
		panic(fmt.Sprintf("pool base %v is not page-aligned", base))
	}
	return &PoolAllocator{base: base}
}

// NewPTEs implements Allocator.NewPTEs.
func (a *PoolAllocator) NewPTEs() *PTEs {
	if a.used == PoolSlots {
		return nil
	}
	ptes := &a.slots[a.used]
	a.used++
	return ptes
}

// PhysicalFor implements Allocator.PhysicalFor.
func (a *PoolAllocator) PhysicalFor(ptes *PTEs) hostarch.PhysAddr {
	for i := 0; i < a.used; i++ {
		if &a.slots[i] == ptes {
			return a.base + hostarch.PhysAddr(i*hostarch.PageSize)
		}
	}
	panic(fmt.Sprintf("PTEs %p do not belong to the pool", ptes))
}

// LookupPTEs implements Allocator.LookupPTEs.
func (a *PoolAllocator) LookupPTEs(physical hostarch.PhysAddr) *PTEs {
	if physical < a.base || !physical.IsPageAligned() {
		return nil
	}
	i := uint64(physical-a.base) / hostarch.PageSize
	if i >= uint64(a.used) {
		return nil
	}
	return &a.slots[i]
}

// Used returns the number of slots handed out.
func (a *PoolAllocator) Used() int {
	return a.used
}

// Range returns the physical range covered by the pool's slots.
func (a *PoolAllocator) Range() (base hostarch.PhysAddr, size uint64) {
	return a.base, PoolSlots * hostarch.PageSize
}

// PageAllocator takes tables from a physical page allocator. Tables are
// pages of that allocator's memory.
type PageAllocator struct {
	pages *pgalloc.PageAllocator
	mem   *physmem.Memory

	// physical maps tables handed out to their pages.
	physical map[*PTEs]hostarch.PhysAddr
}

// NewPageAllocator returns an allocator drawing from pages.
func NewPageAllocator(pages *pgalloc.PageAllocator) *PageAllocator {
	return &PageAllocator{
		pages:    pages,
		mem:      pages.Memory(),
		physical: make(map[*PTEs]hostarch.PhysAddr),
	}
}

// NewPTEs implements Allocator.NewPTEs.
func (a *PageAllocator) NewPTEs() *PTEs {
	addr, err := a.pages.AllocPage()
	if err != nil {
		return nil
	}
	a.mem.Zero(addr, hostarch.PageSize)
	ptes := ptesAt(a.mem, addr)
	a.physical[ptes] = addr
	return ptes
}

// PhysicalFor implements Allocator.PhysicalFor.
func (a *PageAllocator) PhysicalFor(ptes *PTEs) hostarch.PhysAddr {
	addr, ok := a.physical[ptes]
	if !ok {
		panic(fmt.Sprintf("PTEs %p were not allocated here", ptes))
	}
	return addr
}

// LookupPTEs implements Allocator.LookupPTEs.
func (a *PageAllocator) LookupPTEs(physical hostarch.PhysAddr) *PTEs {
	if !physical.IsPageAligned() || !a.mem.Contains(physical, hostarch.PageSize) {
		return nil
	}
	return ptesAt(a.mem, physical)
}

// Release returns every table to the page allocator. The tables must no
// longer be in use.
func (a *PageAllocator) Release() {
	for ptes, addr := range a.physical {
		a.pages.FreePage(addr)
		delete(a.physical, ptes)
	}
}
