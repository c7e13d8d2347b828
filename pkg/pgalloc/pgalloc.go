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

// Package pgalloc provides the physical page allocator used during early
// boot.
//
// Each donated region gives up a prefix of whole pages for its own metadata:
// one free-list node per remaining page, plus a chunk header describing the
// region. The free list is a doubly linked list threaded through those
// nodes; a page is allocated exactly when its node is off the list.
//
// Lock order: PageAllocator.mu is a leaf lock.
package pgalloc

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"mars.dev/mars/pkg/hostarch"
	"mars.dev/mars/pkg/log"
	"mars.dev/mars/pkg/memregion"
	"mars.dev/mars/pkg/physmem"
	"mars.dev/mars/pkg/sync"
)

// ErrNoMemory is returned by AllocPage when no page is free. Callers may
// recover from it.
var ErrNoMemory = errors.New("no free pages")

// maxReserveIterations bounds the search for a region's metadata size.
const maxReserveIterations = 8

// dryLog reports allocation failures without flooding the log.
var dryLog = log.BasicRateLimitedLogger(time.Second)

// Chunk describes one donated region.
type Chunk struct {
	// Nodes is the address of the node array, equal to MetaBase.
	Nodes hostarch.PhysAddr

	// Pages is the number of allocatable pages.
	Pages uint64

	// DataBase is the first allocatable page.
	DataBase hostarch.PhysAddr

	// MetaBase and MetaBytes describe the reserved prefix.
	MetaBase  hostarch.PhysAddr
	MetaBytes uint64
}

// DataEnd returns the end of the allocatable pages.
func (c Chunk) DataEnd() hostarch.PhysAddr {
	return c.DataBase + hostarch.PhysAddr(c.Pages*hostarch.PageSize)
}

// PageAllocator hands out single pages of physical memory.
type PageAllocator struct {
	mem *physmem.Memory

	// mu serializes every change to the lists below.
	mu sync.TicketLock

	// chunkHead is the most recently donated chunk. Protected by mu.
	chunkHead hostarch.PhysAddr

	// freeHead and freeTail are the ends of the free list. Protected by mu.
	freeHead hostarch.PhysAddr
	freeTail hostarch.PhysAddr

	totalPages     atomic.Uint64
	allocatedPages atomic.Uint64
}

// New returns an allocator with no memory. Donated regions must lie inside
// mem.
func New(mem *physmem.Memory) *PageAllocator {
	return &PageAllocator{
		mem:       mem,
		chunkHead: none,
		freeHead:  none,
		freeTail:  none,
	}
}

// Memory returns the memory pages are allocated from.
func (p *PageAllocator) Memory() *physmem.Memory {
	return p.mem
}

// Init donates every region in regions. Regions that are empty or not
// page-aligned are skipped with a warning.
func (p *PageAllocator) Init(regions []memregion.Region) {
	for _, r := range regions {
		if r.Empty() || !r.Base.IsPageAligned() || !hostarch.IsPageAligned(r.Size) {
			log.Warningf("pgalloc: skipping unaligned or empty region %v", r)
			continue
		}
		p.AddRange(r)
	}
}

// reservedPages returns the number of leading pages a region of total pages
// must give up for its metadata.
//
// The metadata size depends on the number of usable pages, which depends on
// the metadata size; iterate until the two agree. Near a page boundary the
// iteration can alternate between two counts, of which only the larger
// leaves room; it is chosen.
func reservedPages(total uint64) uint64 {
	var reserved, prev uint64
	for i := 0; i < maxReserveIterations; i++ {
		usable := total - reserved
		bytes := usable*nodeSize + chunkSize
		bytes = (bytes + metaAlign - 1) &^ (metaAlign - 1)
		bytes, _ = hostarch.PageRoundUp(bytes)
		needed := bytes / hostarch.PageSize
		if needed == reserved {
			return reserved
		}
		if i > 0 && needed == prev {
			return max(prev, reserved)
		}
		prev, reserved = reserved, needed
	}
	panic(fmt.Sprintf("pgalloc: metadata size for %d pages did not converge", total))
}

// AddRange donates r. r must be non-empty, page-aligned and inside the
// allocator's memory; anything else panics. A region too small to hold its
// own metadata and one page is skipped.
func (p *PageAllocator) AddRange(r memregion.Region) {
	if r.Empty() || !r.Base.IsPageAligned() || !hostarch.IsPageAligned(r.Size) {
		panic(fmt.Sprintf("pgalloc: AddRange(%v): region must be non-empty and page-aligned", r))
	}
	if !p.mem.Contains(r.Base, r.Size) {
		panic(fmt.Sprintf("pgalloc: AddRange(%v): region is not backed by memory", r))
	}

	total := r.Size / hostarch.PageSize
	reserved := reservedPages(total)
	if reserved >= total {
		log.Warningf("pgalloc: region %v too small for its metadata, skipping", r)
		return
	}
	usable := total - reserved

	ch := Chunk{
		Nodes:     r.Base,
		Pages:     usable,
		DataBase:  r.Base + hostarch.PhysAddr(reserved*hostarch.PageSize),
		MetaBase:  r.Base,
		MetaBytes: reserved * hostarch.PageSize,
	}

	p.mu.Lock()

	// Nodes in address order, linked among themselves and spliced onto
	// the tail of the free list.
	first := ch.Nodes
	last := ch.Nodes + hostarch.PhysAddr((usable-1)*nodeSize)
	for i := uint64(0); i < usable; i++ {
		addr := ch.Nodes + hostarch.PhysAddr(i*nodeSize)
		prev, next := addr-nodeSize, addr+nodeSize
		if i == 0 {
			prev = p.freeTail
		}
		if i == usable-1 {
			next = none
		}
		node{p.mem, addr}.init(ch.DataBase+hostarch.PhysAddr(i*hostarch.PageSize), prev, next)
	}
	if p.freeTail == none {
		p.freeHead = first
	} else {
		node{p.mem, p.freeTail}.setNext(first)
	}
	p.freeTail = last

	// The chunk header sits at the end of the reserved prefix.
	hdr := ch.MetaBase + hostarch.PhysAddr(ch.MetaBytes-chunkSize)
	chunkRecord{p.mem, hdr}.init(ch, p.chunkHead)
	p.chunkHead = hdr

	p.totalPages.Add(usable)
	p.mu.Unlock()

	log.Infof("pgalloc: added %v: %d pages usable, %d reserved for metadata", r, usable, reserved)
}

// AllocPage removes the page at the head of the free list and returns its
// address. It returns ErrNoMemory if the list is empty. The page is not
// zeroed.
func (p *PageAllocator) AllocPage() (hostarch.PhysAddr, error) {
	p.mu.Lock()
	head := p.freeHead
	if head == none {
		p.mu.Unlock()
		dryLog.Warningf("pgalloc: out of pages (%d allocated)", p.allocatedPages.Load())
		return 0, ErrNoMemory
	}
	n := node{p.mem, head}
	if next := n.next(); next == none {
		p.freeHead, p.freeTail = none, none
	} else {
		node{p.mem, next}.setPrev(none)
		p.freeHead = next
	}
	n.setNext(none)
	n.setPrev(none)
	p.allocatedPages.Add(1)
	addr := n.pageBase()
	p.mu.Unlock()
	return addr, nil
}

// FreePage returns the page at addr to the tail of the free list.
//
// addr must be a page previously returned by AllocPage and not freed since.
// Any other address panics.
func (p *PageAllocator) FreePage(addr hostarch.PhysAddr) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n, ok := p.nodeFor(addr)
	if !ok {
		panic(fmt.Sprintf("pgalloc: FreePage(%v): not a known page", addr))
	}
	if n.addr == p.freeHead || n.prev() != none {
		panic(fmt.Sprintf("pgalloc: FreePage(%v): page is already free", addr))
	}

	n.setPrev(p.freeTail)
	n.setNext(none)
	if p.freeTail == none {
		p.freeHead = n.addr
	} else {
		node{p.mem, p.freeTail}.setNext(n.addr)
	}
	p.freeTail = n.addr
	p.allocatedPages.Add(^uint64(0))
}

// nodeFor finds the node of the page at addr by scanning the chunk list.
// Preconditions: p.mu is locked.
func (p *PageAllocator) nodeFor(addr hostarch.PhysAddr) (node, bool) {
	for c := p.chunkHead; c != none; {
		rec := chunkRecord{p.mem, c}
		ch := rec.info()
		if addr >= ch.DataBase && addr < ch.DataEnd() {
			off := uint64(addr - ch.DataBase)
			if !hostarch.IsPageAligned(off) {
				panic(fmt.Sprintf("pgalloc: %v is not page-aligned", addr))
			}
			n := node{p.mem, ch.Nodes + hostarch.PhysAddr(off/hostarch.PageSize*nodeSize)}
			if base := n.pageBase(); base != addr {
				panic(fmt.Sprintf("pgalloc: node for %v records page %v", addr, base))
			}
			return n, true
		}
		c = rec.next()
	}
	return node{}, false
}

// TotalPages returns the number of allocatable pages donated so far.
func (p *PageAllocator) TotalPages() uint64 {
	return p.totalPages.Load()
}

// AllocatedPages returns the number of pages currently allocated.
func (p *PageAllocator) AllocatedPages() uint64 {
	return p.allocatedPages.Load()
}

// FreePages walks the free list and returns its length.
func (p *PageAllocator) FreePages() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var n uint64
	for a := p.freeHead; a != none; a = (node{p.mem, a}).next() {
		n++
	}
	return n
}

// Chunks returns the donated chunks, most recent first.
func (p *PageAllocator) Chunks() []Chunk {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Chunk
	for c := p.chunkHead; c != none; {
		rec := chunkRecord{p.mem, c}
		out = append(out, rec.info())
		c = rec.next()
	}
	return out
}
