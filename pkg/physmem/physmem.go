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

// Package physmem backs ranges of guest physical memory with anonymous host
// mappings, so that structures placed "in physical memory" by the allocator
// and table builder are real bytes.
//
// Every access names a physical address. An access that is not entirely
// inside one mapped segment is a bug in the caller and panics.
package physmem

import (
	"fmt"
	"slices"

	"golang.org/x/sys/unix"

	"mars.dev/mars/pkg/cleanup"
	"mars.dev/mars/pkg/hostarch"
	"mars.dev/mars/pkg/log"
	"mars.dev/mars/pkg/memregion"
)

// segment is one mapped region.
type segment struct {
	memregion.Region
	data []byte
}

// Memory is a set of mapped physical ranges.
//
// Memory does not synchronize access; callers serialize their own updates.
type Memory struct {
	segs []segment
}

// New maps every region in regions. Regions must not overlap. Empty regions
// are ignored.
func New(regions []memregion.Region) (*Memory, error) {
	m := &Memory{}
	cu := cleanup.Make(func() { m.Close() })
	defer cu.Clean()

	for _, r := range regions {
		if r.Empty() {
			continue
		}
		if uint64(int(r.Size)) != r.Size || int(r.Size) < 0 {
			return nil, fmt.Errorf("region %v too large to map", r)
		}
		for _, s := range m.segs {
			if s.Overlaps(r) {
				return nil, fmt.Errorf("region %v overlaps %v", r, s.Region)
			}
		}
		data, err := unix.Mmap(-1, 0, int(r.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
		if err != nil {
			return nil, fmt.Errorf("mapping %v: %w", r, err)
		}
		m.segs = append(m.segs, segment{Region: r, data: data})
		log.Debugf("physmem: mapped %v", r)
	}
	slices.SortFunc(m.segs, func(a, b segment) int {
		switch {
		case a.Base < b.Base:
			return -1
		case a.Base > b.Base:
			return 1
		}
		return 0
	})
	cu.Release()
	return m, nil
}

// Close unmaps all segments. Memory must not be used afterwards.
func (m *Memory) Close() error {
	var firstErr error
	for _, s := range m.segs {
		if err := unix.Munmap(s.data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.segs = nil
	return firstErr
}

// Regions returns the mapped regions in ascending order.
func (m *Memory) Regions() []memregion.Region {
	out := make([]memregion.Region, 0, len(m.segs))
	for _, s := range m.segs {
		out = append(out, s.Region)
	}
	return out
}

// Contains returns true if [addr, addr+n) lies inside one segment.
func (m *Memory) Contains(addr hostarch.PhysAddr, n uint64) bool {
	_, ok := m.find(addr, n)
	return ok
}

func (m *Memory) find(addr hostarch.PhysAddr, n uint64) ([]byte, bool) {
	i, _ := slices.BinarySearchFunc(m.segs, addr, func(s segment, a hostarch.PhysAddr) int {
		switch {
		case s.End() <= a:
			return -1
		case s.Base > a:
			return 1
		}
		return 0
	})
	if i == len(m.segs) {
		return nil, false
	}
	s := m.segs[i]
	if addr < s.Base {
		return nil, false
	}
	off := uint64(addr - s.Base)
	if off > s.Size || n > s.Size-off {
		return nil, false
	}
	return s.data[off : off+n], true
}

// Bytes returns the host view of [addr, addr+n).
func (m *Memory) Bytes(addr hostarch.PhysAddr, n uint64) []byte {
	b, ok := m.find(addr, n)
	if !ok {
		panic(fmt.Sprintf("physmem: access to [%#x, %#x+%#x) outside mapped memory", uint64(addr), uint64(addr), n))
	}
	return b
}

// Zero clears [addr, addr+n).
func (m *Memory) Zero(addr hostarch.PhysAddr, n uint64) {
	clear(m.Bytes(addr, n))
}
