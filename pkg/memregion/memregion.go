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

// Package memregion describes ranges of physical memory and the set
// operations used to turn raw firmware ranges into usable memory.
package memregion

import (
	"errors"
	"fmt"

	"mars.dev/mars/pkg/hostarch"
)

var (
	// ErrTooManyFragments is returned when subtracting reservations splits a
	// region into more fragments than the caller allows.
	ErrTooManyFragments = errors.New("too many fragments")

	// ErrTooManyRegions is returned when a Set is full.
	ErrTooManyRegions = errors.New("too many regions")
)

// Region is a range of physical memory. A zero Size means the region is
// absent.
type Region struct {
	Base hostarch.PhysAddr
	Size uint64
}

// String implements fmt.Stringer.String.
func (r Region) String() string {
	return fmt.Sprintf("[%#x, %#x)", uint64(r.Base), uint64(r.End()))
}

// End returns the first address past r, saturating at the top of the address
// space.
func (r Region) End() hostarch.PhysAddr {
	end, ok := r.Base.AddLength(r.Size)
	if !ok {
		return hostarch.PhysAddr(^uint64(0))
	}
	return end
}

// Empty returns true if r covers no memory.
func (r Region) Empty() bool {
	return r.Size == 0
}

// Contains returns true if addr lies inside r.
func (r Region) Contains(addr hostarch.PhysAddr) bool {
	return addr >= r.Base && addr < r.End()
}

// Overlaps returns true if r and o share at least one address.
func (r Region) Overlaps(o Region) bool {
	return !r.Empty() && !o.Empty() && r.Base < o.End() && o.Base < r.End()
}

// PageAlign shrinks r to whole pages: the base is rounded up and the end
// rounded down. The result is empty if no whole page remains.
func PageAlign(r Region) Region {
	base, ok := r.Base.RoundUp()
	if !ok {
		return Region{}
	}
	end := r.End().RoundDown()
	if end <= base {
		return Region{}
	}
	return Region{Base: base, Size: uint64(end - base)}
}

// Subtract removes every reservation from r and returns what is left.
//
// The result starts as {r}. Each reservation that overlaps a fragment
// replaces it with the part strictly before the reservation and the part
// strictly after it. Fragments are returned in no particular order. If at
// any point more than maxFrags fragments exist, ErrTooManyFragments is
// returned.
func Subtract(r Region, reserves []Region, maxFrags int) ([]Region, error) {
	if maxFrags < 1 {
		return nil, ErrTooManyFragments
	}
	frags := make([]Region, 1, maxFrags)
	frags[0] = r

	for _, res := range reserves {
		if res.Empty() {
			continue
		}
		rStart, rEnd := res.Base, res.End()

		for i := 0; i < len(frags); {
			f := frags[i]
			fStart, fEnd := f.Base, f.End()
			if fEnd <= rStart || fStart >= rEnd {
				i++
				continue
			}

			// Drop f, keeping order of the others, and append
			// the surviving sides.
			next := make([]Region, 0, maxFrags)
			next = append(next, frags[:i]...)
			next = append(next, frags[i+1:]...)
			if rStart > fStart {
				next = append(next, Region{Base: fStart, Size: uint64(rStart - fStart)})
			}
			if rEnd < fEnd {
				next = append(next, Region{Base: rEnd, Size: uint64(fEnd - rEnd)})
			}
			if len(next) > maxFrags {
				return nil, ErrTooManyFragments
			}
			// The fragments now at i and beyond have not been
			// compared against this reservation (or are pieces
			// that cannot overlap it), so i stays put.
			frags = next
		}
	}
	return frags, nil
}
