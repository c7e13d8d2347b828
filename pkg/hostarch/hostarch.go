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

// Package hostarch describes the address layout of the AArch64 translation
// regime built at boot: a 16K granule with 48-bit virtual addresses split
// between a low half (TTBR0) and a high half (TTBR1).
package hostarch

const (
	// PageShift is the binary log of the granule size.
	PageShift = 14

	// PageSize is the granule size.
	PageSize = 1 << PageShift

	// BlockShift is the binary log of a level-2 block mapping.
	// For 16K pages: PageShift + (PageShift - 3) = 14 + 11 = 25.
	BlockShift = PageShift + (PageShift - 3)

	// BlockSize is the size of a level-2 block mapping (32MB).
	BlockSize = 1 << BlockShift

	// EntriesPerTable is the number of 8-byte descriptors in one table.
	EntriesPerTable = PageSize / 8

	// VABits is the number of significant virtual address bits.
	VABits = 48

	// LowerTop is the last address of the TTBR0 half.
	LowerTop = VirtAddr(1<<VABits - 1)

	// UpperBottom is the first address of the TTBR1 half.
	UpperBottom = VirtAddr(0xffff000000000000)

	// DirectMapBase is where the direct map of physical memory begins.
	DirectMapBase = UpperBottom
)

// IsPageAligned returns true if n is a multiple of the page size.
func IsPageAligned(n uint64) bool {
	return n&(PageSize-1) == 0
}

// IsBlockAligned returns true if n is a multiple of the block size.
func IsBlockAligned(n uint64) bool {
	return n&(BlockSize-1) == 0
}

// PageRoundUp rounds n up to a page multiple. ok is false on overflow.
func PageRoundUp(n uint64) (uint64, bool) {
	r := (n + PageSize - 1) &^ (PageSize - 1)
	return r, r >= n
}

// PageRoundDown rounds n down to a page multiple.
func PageRoundDown(n uint64) uint64 {
	return n &^ (PageSize - 1)
}

// DirectMap returns the direct-map alias of the given physical address.
func DirectMap(pa PhysAddr) VirtAddr {
	return DirectMapBase + VirtAddr(pa)
}
