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

package memregion

import (
	"github.com/google/btree"
)

// Set collects regions and produces them sorted by base with overlapping and
// touching regions merged.
//
// A Set has a fixed capacity, counted in inserted regions (not distinct
// ones), standing in for the fixed output buffer boot code writes into.
type Set struct {
	tree     *btree.BTreeG[Region]
	inserted int
	capacity int
}

func lessBase(a, b Region) bool {
	return a.Base < b.Base
}

// NewSet returns an empty Set that accepts at most capacity insertions.
func NewSet(capacity int) *Set {
	return &Set{
		tree:     btree.NewG(8, lessBase),
		capacity: capacity,
	}
}

// Insert adds r to the set. Empty regions are ignored.
func (s *Set) Insert(r Region) error {
	if r.Empty() {
		return nil
	}
	if s.inserted >= s.capacity {
		return ErrTooManyRegions
	}
	s.inserted++
	if old, ok := s.tree.Get(r); ok && old.End() > r.End() {
		// Same base; the longer region subsumes r.
		return nil
	}
	s.tree.ReplaceOrInsert(r)
	return nil
}

// Len returns the number of regions inserted so far.
func (s *Set) Len() int {
	return s.inserted
}

// Merged returns the regions in ascending order of base. A region merges into
// its predecessor when it starts at or before the predecessor's end.
func (s *Set) Merged() []Region {
	var out []Region
	s.tree.Ascend(func(r Region) bool {
		if n := len(out); n > 0 {
			last := &out[n-1]
			if r.Base <= last.End() {
				if end := r.End(); end > last.End() {
					last.Size = uint64(end - last.Base)
				}
				return true
			}
		}
		out = append(out, r)
		return true
	})
	return out
}

// SortAndMerge sorts regions by base and merges overlapping or touching
// neighbours.
func SortAndMerge(regions []Region) []Region {
	s := NewSet(len(regions))
	for _, r := range regions {
		// Cannot fail: the capacity covers every region.
		s.Insert(r)
	}
	return s.Merged()
}
