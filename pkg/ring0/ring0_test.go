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

package ring0

import (
	"testing"

	"mars.dev/mars/pkg/hostarch"
	"mars.dev/mars/pkg/ring0/pagetables"
)

func TestKernelTCR(t *testing.T) {
	if got, want := uint64(KernelTCR), uint64(0x65_7510_b510); got != want {
		t.Errorf("KernelTCR = %#x, want %#x", got, want)
	}
}

func TestLayout(t *testing.T) {
	for _, tc := range []struct {
		name string
		addr hostarch.VirtAddr
		want hostarch.VirtAddr
	}{
		{"BootInfoWindow", BootInfoWindow, 0xffff800ffe000000},
		{"IOMap end", IOMapBase + IOMapSize, 0xffff801040000000},
	} {
		if tc.addr != tc.want {
			t.Errorf("%s = %v, want %v", tc.name, tc.addr, tc.want)
		}
	}
	if KernelBase+KernelBlocks*hostarch.BlockSize > BootInfoWindow {
		t.Errorf("kernel image overlaps the boot information window")
	}
	if hostarch.DirectMap(1<<47) > KernelBase {
		t.Errorf("direct map reaches the kernel image")
	}
}

func TestIOMap(t *testing.T) {
	if got, ok := IOMap(0x0900_0000); !ok || got != 0xffff801009000000 {
		t.Errorf("IOMap(0x09000000) = %v, %v, want 0xffff801009000000, true", got, ok)
	}
	if _, ok := IOMap(IOMapSize); ok {
		t.Errorf("IOMap(%#x) succeeded past the window", IOMapSize)
	}
}

func TestRegistersFor(t *testing.T) {
	pt := pagetables.New(pagetables.NewPoolAllocator(0x4000_0000))
	r := RegistersFor(pt)
	if r.TTBR0 != 0x4000_0000 || r.TTBR1 != 0x4000_0000+hostarch.PageSize {
		t.Errorf("roots = %#x, %#x, want the first two pool slots", r.TTBR0, r.TTBR1)
	}
	if r.MAIR != 0xff04 {
		t.Errorf("MAIR = %#x, want 0xff04", r.MAIR)
	}
}
