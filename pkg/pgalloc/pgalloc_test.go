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

package pgalloc

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"mars.dev/mars/pkg/hostarch"
	"mars.dev/mars/pkg/memregion"
	"mars.dev/mars/pkg/physmem"
	"mars.dev/mars/pkg/sync"
)

const page = hostarch.PageSize

func newAllocator(t *testing.T, regions ...memregion.Region) *PageAllocator {
	t.Helper()
	mem, err := physmem.New(regions)
	if err != nil {
		t.Fatalf("physmem.New: %v", err)
	}
	t.Cleanup(func() { mem.Close() })
	return New(mem)
}

// mustPanic runs f and checks that it panics with a message containing want.
func mustPanic(t *testing.T, want string, f func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if r == nil {
			t.Errorf("no panic, want one containing %q", want)
			return
		}
		if got := fmt.Sprint(r); !strings.Contains(got, want) {
			t.Errorf("panic %q, want one containing %q", got, want)
		}
	}()
	f()
}

func checkCounts(t *testing.T, p *PageAllocator) {
	t.Helper()
	if got, want := p.AllocatedPages()+p.FreePages(), p.TotalPages(); got != want {
		t.Errorf("allocated %d + free %d != total %d", p.AllocatedPages(), p.FreePages(), want)
	}
}

func TestReservedPages(t *testing.T) {
	for _, tc := range []struct {
		total, want uint64
	}{
		{1, 1},
		{4, 1},
		{681, 1},
		{682, 2},
		{2048, 3},
		{1 << 20, 1534},
	} {
		got := reservedPages(tc.total)
		if got != tc.want {
			t.Errorf("reservedPages(%d) = %d, want %d", tc.total, got, tc.want)
		}
		usable := tc.total - got
		if need := usable*nodeSize + chunkSize; need > got*page {
			t.Errorf("reservedPages(%d) = %d leaves %d bytes for %d bytes of metadata", tc.total, got, got*page, need)
		}
	}
}

func TestSmallRegion(t *testing.T) {
	r := memregion.Region{Base: 0x4000_0000, Size: 4 * page}
	p := newAllocator(t, r)
	p.AddRange(r)

	if got := p.TotalPages(); got != 3 {
		t.Fatalf("TotalPages = %d, want 3", got)
	}
	dataBase := r.Base + page
	seen := make(map[hostarch.PhysAddr]bool)
	for i := 0; i < 3; i++ {
		addr, err := p.AllocPage()
		if err != nil {
			t.Fatalf("AllocPage %d: %v", i, err)
		}
		if !addr.IsPageAligned() || addr < dataBase || addr >= r.End() {
			t.Errorf("AllocPage %d = %v, outside [%v, %v)", i, addr, dataBase, r.End())
		}
		if seen[addr] {
			t.Errorf("AllocPage %d = %v returned twice", i, addr)
		}
		seen[addr] = true
		checkCounts(t, p)
	}
	if _, err := p.AllocPage(); !errors.Is(err, ErrNoMemory) {
		t.Errorf("AllocPage on an empty pool = %v, want %v", err, ErrNoMemory)
	}
	if got := p.AllocatedPages(); got != 3 {
		t.Errorf("AllocatedPages = %d, want 3", got)
	}
}

func TestFreeAppendsToTail(t *testing.T) {
	r := memregion.Region{Base: 0, Size: 8 * page}
	p := newAllocator(t, r)
	p.AddRange(r)

	first, err := p.AllocPage()
	if err != nil {
		t.Fatalf("AllocPage: %v", err)
	}
	// Pages come out in address order.
	if want := hostarch.PhysAddr(page); first != want {
		t.Errorf("first page = %v, want %v", first, want)
	}
	p.FreePage(first)
	checkCounts(t, p)

	var order []hostarch.PhysAddr
	for {
		addr, err := p.AllocPage()
		if err != nil {
			break
		}
		order = append(order, addr)
	}
	want := []hostarch.PhysAddr{2 * page, 3 * page, 4 * page, 5 * page, 6 * page, 7 * page, page}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("allocation order mismatch (-want +got):\n%s", diff)
	}
	for _, addr := range order {
		p.FreePage(addr)
	}
	if got := p.FreePages(); got != 7 {
		t.Errorf("FreePages = %d, want 7", got)
	}
	if got := p.AllocatedPages(); got != 0 {
		t.Errorf("AllocatedPages = %d, want 0", got)
	}
}

func TestInit(t *testing.T) {
	regions := []memregion.Region{
		{Base: 0x4000_0000, Size: 16 * page},
		{Base: 0x8000_0000, Size: 32 * page},
	}
	p := newAllocator(t, append(regions, memregion.Region{Base: 0x9000_0000, Size: 4 * page})...)
	p.Init(append(regions,
		memregion.Region{Base: 0x9000_0000, Size: 0},
		memregion.Region{Base: 0x9000_0000 + 0x1000, Size: page},
	))

	if got, want := p.TotalPages(), uint64(15+31); got != want {
		t.Errorf("TotalPages = %d, want %d", got, want)
	}
	want := []Chunk{
		{Nodes: 0x8000_0000, Pages: 31, DataBase: 0x8000_0000 + page, MetaBase: 0x8000_0000, MetaBytes: page},
		{Nodes: 0x4000_0000, Pages: 15, DataBase: 0x4000_0000 + page, MetaBase: 0x4000_0000, MetaBytes: page},
	}
	if diff := cmp.Diff(want, p.Chunks()); diff != "" {
		t.Errorf("Chunks mismatch (-want +got):\n%s", diff)
	}

	// The free list runs through the first region, then the second.
	addr, err := p.AllocPage()
	if err != nil || addr != 0x4000_0000+page {
		t.Errorf("AllocPage = %v, %v; want %v", addr, err, hostarch.PhysAddr(0x4000_0000+page))
	}
	checkCounts(t, p)
}

func TestRegionTooSmall(t *testing.T) {
	r := memregion.Region{Base: 0x4000_0000, Size: page}
	p := newAllocator(t, r)
	p.AddRange(r)
	if got := p.TotalPages(); got != 0 {
		t.Errorf("TotalPages = %d, want 0", got)
	}
	if got := len(p.Chunks()); got != 0 {
		t.Errorf("%d chunks, want 0", got)
	}
}

func TestInvalidUse(t *testing.T) {
	r := memregion.Region{Base: 0x4000_0000, Size: 4 * page}
	p := newAllocator(t, r)

	mustPanic(t, "page-aligned", func() { p.AddRange(memregion.Region{Base: r.Base + 1, Size: page}) })
	mustPanic(t, "page-aligned", func() { p.AddRange(memregion.Region{Base: r.Base, Size: page + 8}) })
	mustPanic(t, "page-aligned", func() { p.AddRange(memregion.Region{Base: r.Base}) })
	mustPanic(t, "not backed", func() { p.AddRange(memregion.Region{Base: 0x5000_0000, Size: page}) })

	p.AddRange(r)
	addr, err := p.AllocPage()
	if err != nil {
		t.Fatalf("AllocPage: %v", err)
	}

	mustPanic(t, "not a known page", func() { p.FreePage(0x1000_0000) })
	mustPanic(t, "not a known page", func() { p.FreePage(r.Base) })
	mustPanic(t, "not page-aligned", func() { p.FreePage(addr + 8) })

	p.FreePage(addr)
	mustPanic(t, "already free", func() { p.FreePage(addr) })

	// Freeing a page that was never allocated is a double free too.
	mustPanic(t, "already free", func() { p.FreePage(addr + page) })
	checkCounts(t, p)
}

func TestConcurrentAllocation(t *testing.T) {
	regions := []memregion.Region{
		{Base: 0x4000_0000, Size: 64 * page},
		{Base: 0x8000_0000, Size: 64 * page},
	}
	p := newAllocator(t, regions...)
	p.Init(regions)
	total := p.TotalPages()

	var (
		g    errgroup.Group
		mu   sync.Mutex
		seen = make(map[hostarch.PhysAddr]int)
	)
	const workers = 8
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			var mine []hostarch.PhysAddr
			for {
				addr, err := p.AllocPage()
				if errors.Is(err, ErrNoMemory) {
					break
				}
				if err != nil {
					return err
				}
				mine = append(mine, addr)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, addr := range mine {
				seen[addr]++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if uint64(len(seen)) != total {
		t.Errorf("%d distinct pages allocated, want %d", len(seen), total)
	}
	for addr, n := range seen {
		if n != 1 {
			t.Errorf("page %v allocated %d times", addr, n)
		}
	}

	// Free everything concurrently and check the books balance.
	addrs := make(chan hostarch.PhysAddr, len(seen))
	for addr := range seen {
		addrs <- addr
	}
	close(addrs)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for addr := range addrs {
				p.FreePage(addr)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if got := p.FreePages(); got != total {
		t.Errorf("FreePages = %d, want %d", got, total)
	}
	checkCounts(t, p)
}
