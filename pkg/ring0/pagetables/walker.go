// Copyright 2019 The gVisor Authors.
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
)

// visitor is called for entries found by a walker.
type visitor interface {
	// visit is called on each leaf (or, when allocating, each entry at
	// the target level). start is the first address of the walked range
	// covered by pte, and level is the level of the table holding pte.
	visit(start hostarch.VirtAddr, pte *PTE, level int)

	// requiresAlloc indicates that missing tables on the way to the
	// target level should be allocated.
	requiresAlloc() bool
}

// walker walks one half of a set of page tables.
type walker struct {
	pageTables *PageTables
	visitor    visitor

	// target is the leaf level when allocating.
	target int
}

// half returns the root index and base address of the half holding va.
func half(va hostarch.VirtAddr) (int, hostarch.VirtAddr) {
	if va.IsHighHalf() {
		return upperRoot, hostarch.UpperBottom
	}
	return lowerRoot, 0
}

// iterateRange walks [start, start+length).
//
// Precondition: start must be page-aligned.
//
// Precondition: the range must lie inside one canonical half. A range that
// does not is a caller bug and panics.
func (w *walker) iterateRange(start hostarch.VirtAddr, length uint64) {
	if !start.IsPageAligned() {
		panic(fmt.Sprintf("unaligned start %v", start))
	}
	if length == 0 {
		return
	}
	last := start + hostarch.VirtAddr(length-1)
	if last < start || !start.IsCanonical() || !last.IsCanonical() || start.IsHighHalf() != last.IsHighHalf() {
		panic(fmt.Sprintf("range [%v, +%#x) spans non-canonical addresses", start, length))
	}
	root, base := half(start)
	off := uint64(start - base)
	w.iterateLevel(w.pageTables.roots[root], 0, base, off, off+length)
}

// iterateLevel walks offsets [start, end) of table, which sits at level.
// Offsets are relative to base, the first address of the half.
func (w *walker) iterateLevel(table *PTEs, level int, base hostarch.VirtAddr, start, end uint64) {
	size := levelSize(level)
	for index := (start >> levelShift[level]) & levelMask[level]; start < end && index <= levelMask[level]; index++ {
		var (
			pte  = &table[index]
			next = (start &^ (size - 1)) + size
			stop = min(next, end)
		)

		if w.visitor.requiresAlloc() {
			if level == w.target {
				if pte.IsTable(level) {
					panic(fmt.Sprintf("level %d leaf at %v would replace a table", level, base+hostarch.VirtAddr(start)))
				}
				w.visitor.visit(base+hostarch.VirtAddr(start), pte, level)
				start = next
				continue
			}
			if !pte.Valid() {
				w.pageTables.setPageTable(pte, w.pageTables.allocTable())
			} else if !pte.IsTable(level) {
				panic(fmt.Sprintf("level %d leaf at %v is in the way of a level %d mapping", level, base+hostarch.VirtAddr(start), w.target))
			}
			w.iterateLevel(w.pageTables.getPageTable(pte), level+1, base, start, stop)
			start = next
			continue
		}

		switch {
		case !pte.Valid():
		case pte.IsTable(level):
			w.iterateLevel(w.pageTables.getPageTable(pte), level+1, base, start, stop)
		default:
			w.visitor.visit(base+hostarch.VirtAddr(start), pte, level)
		}
		start = next
	}
}
