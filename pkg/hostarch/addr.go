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

package hostarch

import "fmt"

// PhysAddr is a physical address.
type PhysAddr uint64

// VirtAddr is a virtual address.
type VirtAddr uint64

// String implements fmt.Stringer.String.
func (p PhysAddr) String() string {
	return fmt.Sprintf("%#x", uint64(p))
}

// String implements fmt.Stringer.String.
func (v VirtAddr) String() string {
	return fmt.Sprintf("%#x", uint64(v))
}

// RoundDown returns the address rounded down to the nearest page boundary.
func (p PhysAddr) RoundDown() PhysAddr {
	return p &^ (PageSize - 1)
}

// RoundUp returns the address rounded up to the nearest page boundary. ok is
// true iff rounding up did not wrap around.
func (p PhysAddr) RoundUp() (addr PhysAddr, ok bool) {
	addr = PhysAddr(p + PageSize - 1).RoundDown()
	ok = addr >= p
	return
}

// IsPageAligned returns true if p is a multiple of the page size.
func (p PhysAddr) IsPageAligned() bool {
	return IsPageAligned(uint64(p))
}

// IsBlockAligned returns true if p is a multiple of the block size.
func (p PhysAddr) IsBlockAligned() bool {
	return IsBlockAligned(uint64(p))
}

// AddLength adds the given length to start and returns the result. ok is true
// iff adding the length did not overflow.
func (p PhysAddr) AddLength(length uint64) (end PhysAddr, ok bool) {
	end = p + PhysAddr(length)
	ok = end >= p
	return
}

// PageOffset returns the offset of p into its page.
func (p PhysAddr) PageOffset() uint64 {
	return uint64(p & (PageSize - 1))
}

// RoundDown returns the address rounded down to the nearest page boundary.
func (v VirtAddr) RoundDown() VirtAddr {
	return v &^ (PageSize - 1)
}

// RoundUp returns the address rounded up to the nearest page boundary. ok is
// true iff rounding up did not wrap around.
func (v VirtAddr) RoundUp() (addr VirtAddr, ok bool) {
	addr = VirtAddr(v + PageSize - 1).RoundDown()
	ok = addr >= v
	return
}

// IsPageAligned returns true if v is a multiple of the page size.
func (v VirtAddr) IsPageAligned() bool {
	return IsPageAligned(uint64(v))
}

// IsBlockAligned returns true if v is a multiple of the block size.
func (v VirtAddr) IsBlockAligned() bool {
	return IsBlockAligned(uint64(v))
}

// AddLength adds the given length to start and returns the result. ok is true
// iff adding the length did not overflow.
func (v VirtAddr) AddLength(length uint64) (end VirtAddr, ok bool) {
	end = v + VirtAddr(length)
	ok = end >= v
	return
}

// IsHighHalf returns true if v is translated through TTBR1.
func (v VirtAddr) IsHighHalf() bool {
	return v>>63 != 0
}

// IsCanonical returns true if v lies in either translated half.
func (v VirtAddr) IsCanonical() bool {
	return v <= LowerTop || v >= UpperBottom
}
