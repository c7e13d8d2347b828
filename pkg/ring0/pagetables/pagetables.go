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

// Package pagetables builds AArch64 stage 1 translation tables for a 16K
// granule and 48-bit virtual addresses.
//
// There are two roots: one for the low half of the address space (TTBR0)
// and one for the high half (TTBR1). Tables come from an Allocator, so the
// same builder serves both before and after a page allocator exists.
//
// Tables only grow: entries go from invalid to table or leaf, and leaves may
// be overwritten. Nothing is ever unmapped.
//
// PageTables is not synchronized; callers build an address space from a
// single goroutine.
package pagetables

import (
	"errors"
	"fmt"

	"mars.dev/mars/pkg/hostarch"
)

// ErrOutOfTables is the panic value (wrapped) when the allocator cannot
// provide a table. There is no fallback storage for tables, so running out
// while building an address space is fatal.
var ErrOutOfTables = errors.New("out of translation tables")

const (
	lowerRoot = iota
	upperRoot
	numRoots
)

// PageTables is a pair of translation table trees.
type PageTables struct {
	// Allocator is used to allocate nodes.
	Allocator Allocator

	roots        [numRoots]*PTEs
	rootPhysical [numRoots]hostarch.PhysAddr

	// tables counts tables allocated, including the roots.
	tables int
}

// New returns new PageTables with empty roots for both halves.
func New(a Allocator) *PageTables {
	p := &PageTables{Allocator: a}
	for i := range p.roots {
		p.roots[i] = p.allocTable()
		p.rootPhysical[i] = a.PhysicalFor(p.roots[i])
	}
	return p
}

// allocTable returns a new zeroed table, panicking if none is left.
func (p *PageTables) allocTable() *PTEs {
	ptes := p.Allocator.NewPTEs()
	if ptes == nil {
		panic(fmt.Errorf("%w: %d tables in use", ErrOutOfTables, p.tables))
	}
	*ptes = PTEs{}
	p.tables++
	return ptes
}

// setPageTable points pte at ptes.
func (p *PageTables) setPageTable(pte *PTE, ptes *PTEs) {
	pte.setTable(p.Allocator.PhysicalFor(ptes))
}

// getPageTable returns the table pte points at.
func (p *PageTables) getPageTable(pte *PTE) *PTEs {
	ptes := p.Allocator.LookupPTEs(pte.Address())
	if ptes == nil {
		panic(fmt.Sprintf("table descriptor %v points at unknown table", *pte))
	}
	return ptes
}

// RootPhysical returns the physical addresses of the low and high roots,
// for TTBR0_EL1 and TTBR1_EL1.
func (p *PageTables) RootPhysical() (lower, upper hostarch.PhysAddr) {
	return p.rootPhysical[lowerRoot], p.rootPhysical[upperRoot]
}

// Tables returns the number of tables allocated, including both roots.
func (p *PageTables) Tables() int {
	return p.tables
}

// mapVisitor installs leaves.
type mapVisitor struct {
	virtual  hostarch.VirtAddr
	physical hostarch.PhysAddr
	opts     MapOpts
}

func (v *mapVisitor) visit(start hostarch.VirtAddr, pte *PTE, level int) {
	pte.setLeaf(level, v.physical+hostarch.PhysAddr(start-v.virtual), v.opts)
}

func (*mapVisitor) requiresAlloc() bool { return true }

// MapRegion maps [virtual, virtual+size) to [physical, physical+size).
//
// Block leaves are used when physical, virtual and size are all block
// aligned; otherwise page leaves. Existing tables on the way are reused and
// existing leaves at the target level are overwritten, so mapping the same
// region twice leaves the tables unchanged.
//
// Precondition: physical, virtual and size are page-aligned, and the range
// lies in one half of the address space. Anything else panics, as does a
// block leaf in the way of a page mapping or a table in the way of a block.
func (p *PageTables) MapRegion(physical hostarch.PhysAddr, virtual hostarch.VirtAddr, size uint64, opts MapOpts) {
	if !physical.IsPageAligned() || !virtual.IsPageAligned() || !hostarch.IsPageAligned(size) {
		panic(fmt.Sprintf("MapRegion(%v, %v, %#x): not page-aligned", physical, virtual, size))
	}
	if _, ok := physical.AddLength(size); !ok {
		panic(fmt.Sprintf("MapRegion(%v, %v, %#x): physical range overflows", physical, virtual, size))
	}
	target := pageLevel
	if physical.IsBlockAligned() && virtual.IsBlockAligned() && hostarch.IsBlockAligned(size) {
		target = blockLevel
	}
	w := walker{
		pageTables: p,
		visitor:    &mapVisitor{virtual: virtual, physical: physical, opts: opts},
		target:     target,
	}
	w.iterateRange(virtual, size)
}

// lookupVisitor records the leaf covering one address.
type lookupVisitor struct {
	addr     hostarch.VirtAddr
	physical hostarch.PhysAddr
	opts     MapOpts
	found    bool
}

func (v *lookupVisitor) visit(start hostarch.VirtAddr, pte *PTE, level int) {
	leafStart := start &^ hostarch.VirtAddr(levelSize(level)-1)
	v.physical = pte.Address() + hostarch.PhysAddr(v.addr-leafStart)
	v.opts = pte.Opts()
	v.found = true
}

func (*lookupVisitor) requiresAlloc() bool { return false }

// Lookup returns the physical address and attributes addr maps to.
func (p *PageTables) Lookup(addr hostarch.VirtAddr) (physical hostarch.PhysAddr, opts MapOpts, ok bool) {
	if !addr.IsCanonical() {
		return 0, MapOpts{}, false
	}
	v := lookupVisitor{addr: addr}
	w := walker{pageTables: p, visitor: &v}
	w.iterateRange(addr.RoundDown(), hostarch.PageSize)
	return v.physical, v.opts, v.found
}

// Mapping is one leaf.
type Mapping struct {
	Level    int
	Virtual  hostarch.VirtAddr
	Physical hostarch.PhysAddr
	Size     uint64
	Opts     MapOpts
}

// String implements fmt.Stringer.String.
func (m Mapping) String() string {
	return fmt.Sprintf("L%d %v -> %v +%#x %v", m.Level, m.Virtual, m.Physical, m.Size, m.Opts)
}

type mappingsVisitor struct {
	mappings []Mapping
}

func (v *mappingsVisitor) visit(start hostarch.VirtAddr, pte *PTE, level int) {
	v.mappings = append(v.mappings, Mapping{
		Level:    level,
		Virtual:  start,
		Physical: pte.Address(),
		Size:     levelSize(level),
		Opts:     pte.Opts(),
	})
}

func (*mappingsVisitor) requiresAlloc() bool { return false }

// Mappings returns every leaf in ascending virtual address order.
func (p *PageTables) Mappings() []Mapping {
	var v mappingsVisitor
	w := walker{pageTables: p, visitor: &v}
	w.iterateRange(0, 1<<hostarch.VABits)
	w.iterateRange(hostarch.UpperBottom, 1<<hostarch.VABits)
	return v.mappings
}
