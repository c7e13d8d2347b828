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

package physmem

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"mars.dev/mars/pkg/hostarch"
	"mars.dev/mars/pkg/memregion"
)

func newMemory(t *testing.T, regions ...memregion.Region) *Memory {
	t.Helper()
	m, err := New(regions)
	if err != nil {
		t.Fatalf("New(%v): %v", regions, err)
	}
	t.Cleanup(func() {
		if err := m.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return m
}

func TestLoadStore(t *testing.T) {
	m := newMemory(t,
		memregion.Region{Base: 0x8000_0000, Size: 0x8000},
		memregion.Region{Base: 0x4000_0000, Size: 0x4000},
	)
	want := []memregion.Region{
		{Base: 0x4000_0000, Size: 0x4000},
		{Base: 0x8000_0000, Size: 0x8000},
	}
	if diff := cmp.Diff(want, m.Regions()); diff != "" {
		t.Errorf("Regions mismatch (-want +got):\n%s", diff)
	}

	for _, addr := range []hostarch.PhysAddr{0x4000_0000, 0x4000_3ff8, 0x8000_4000} {
		if got := m.Load64(addr); got != 0 {
			t.Errorf("fresh memory at %v = %#x, want 0", addr, got)
		}
		m.Store64(addr, uint64(addr)|1)
		if got := m.Load64(addr); got != uint64(addr)|1 {
			t.Errorf("Load64(%v) = %#x, want %#x", addr, got, uint64(addr)|1)
		}
	}

	m.Zero(0x4000_0000, 0x4000)
	if got := m.Load64(0x4000_3ff8); got != 0 {
		t.Errorf("Load64 after Zero = %#x, want 0", got)
	}
	if got := m.Load64(0x8000_4000); got == 0 {
		t.Errorf("Zero cleared another segment")
	}
}

func TestContains(t *testing.T) {
	m := newMemory(t, memregion.Region{Base: 0x4000_0000, Size: 0x4000})
	for _, tc := range []struct {
		addr hostarch.PhysAddr
		n    uint64
		want bool
	}{
		{0x4000_0000, 0x4000, true},
		{0x4000_0000, 0x4001, false},
		{0x4000_3fff, 1, true},
		{0x4000_4000, 1, false},
		{0x3fff_ffff, 2, false},
		{0x4000_0008, ^uint64(0), false},
	} {
		if got := m.Contains(tc.addr, tc.n); got != tc.want {
			t.Errorf("Contains(%v, %#x) = %t, want %t", tc.addr, tc.n, got, tc.want)
		}
	}
}

func TestOverlapRejected(t *testing.T) {
	if _, err := New([]memregion.Region{
		{Base: 0x4000_0000, Size: 0x8000},
		{Base: 0x4000_4000, Size: 0x8000},
	}); err == nil {
		t.Errorf("New accepted overlapping regions")
	}
}

func TestOutOfRangePanics(t *testing.T) {
	m := newMemory(t, memregion.Region{Base: 0x4000_0000, Size: 0x4000})
	defer func() {
		if recover() == nil {
			t.Errorf("Load64 outside memory did not panic")
		}
	}()
	m.Load64(0x4000_4000)
}
