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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"mars.dev/mars/pkg/hostarch"
)

var sortRegions = cmpopts.SortSlices(func(a, b Region) bool { return a.Base < b.Base })

func TestSubtract(t *testing.T) {
	for _, tc := range []struct {
		name     string
		region   Region
		reserves []Region
		want     []Region
	}{
		{
			name:   "no reserves",
			region: Region{0x4000_0000, 0x1000_0000},
			want:   []Region{{0x4000_0000, 0x1000_0000}},
		},
		{
			name:     "disjoint",
			region:   Region{0x4000_0000, 0x1000},
			reserves: []Region{{0x8000_0000, 0x1000}},
			want:     []Region{{0x4000_0000, 0x1000}},
		},
		{
			name:     "head",
			region:   Region{0x4000_0000, 0x1000_0000},
			reserves: []Region{{0x4000_0000, 0x1000}},
			want:     []Region{{0x4000_1000, 0x0fff_f000}},
		},
		{
			name:     "tail",
			region:   Region{0x4000_0000, 0x1000_0000},
			reserves: []Region{{0x4fff_0000, 0x2_0000}},
			want:     []Region{{0x4000_0000, 0x0fff_0000}},
		},
		{
			name:     "middle",
			region:   Region{0x4000_0000, 0x1000_0000},
			reserves: []Region{{0x4800_0000, 0x10_0000}},
			want: []Region{
				{0x4000_0000, 0x0800_0000},
				{0x4810_0000, 0x07f0_0000},
			},
		},
		{
			name:     "fully covered",
			region:   Region{0x4000_0000, 0x1000},
			reserves: []Region{{0x3fff_0000, 0x10_0000}},
			want:     []Region{},
		},
		{
			name:   "several",
			region: Region{0, 0x10_0000},
			reserves: []Region{
				{0x1_0000, 0x1000},
				{0x0, 0},
				{0x8_0000, 0x1_0000},
				{0xf_0000, 0x1_0000},
			},
			want: []Region{
				{0, 0x1_0000},
				{0x1_1000, 0x6_f000},
				{0x9_0000, 0x6_0000},
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Subtract(tc.region, tc.reserves, 32)
			if err != nil {
				t.Fatalf("Subtract: %v", err)
			}
			if diff := cmp.Diff(tc.want, got, sortRegions, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("Subtract mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// A reservation strictly inside a region leaves two fragments that, together
// with the reservation, tile the region exactly.
func TestSubtractReconstructs(t *testing.T) {
	region := Region{0x4000_0000, 0x4000_0000}
	for _, res := range []Region{
		{0x4000_4000, 0x4000},
		{0x5000_0000, 0x1234_5000},
		{0x7fff_bfff, 0x4000},
	} {
		frags, err := Subtract(region, []Region{res}, 32)
		if err != nil {
			t.Fatalf("Subtract(%v): %v", res, err)
		}
		if len(frags) != 2 {
			t.Fatalf("Subtract(%v) = %v, want two fragments", res, frags)
		}
		pieces := SortAndMerge(append(frags, res))
		if diff := cmp.Diff([]Region{region}, pieces); diff != "" {
			t.Errorf("fragments plus %v do not rebuild the region (-want +got):\n%s", res, diff)
		}
		var total uint64
		for _, f := range frags {
			if f.Overlaps(res) {
				t.Errorf("fragment %v overlaps reservation %v", f, res)
			}
			total += f.Size
		}
		if total+res.Size != region.Size {
			t.Errorf("sizes do not add up: %#x + %#x != %#x", total, res.Size, region.Size)
		}
	}
}

func TestSubtractTooManyFragments(t *testing.T) {
	var reserves []Region
	for i := 0; i < 8; i++ {
		reserves = append(reserves, Region{hostarch.PhysAddr(0x1000 + i*0x2000), 0x1000})
	}
	if _, err := Subtract(Region{0, 0x10_0000}, reserves, 4); !errors.Is(err, ErrTooManyFragments) {
		t.Errorf("Subtract = %v, want %v", err, ErrTooManyFragments)
	}
	if _, err := Subtract(Region{0, 0x10_0000}, reserves, 9); err != nil {
		t.Errorf("Subtract with room for 9 fragments: %v", err)
	}
}

func TestSetMerged(t *testing.T) {
	s := NewSet(8)
	for _, r := range []Region{
		{0x9000_0000, 0x1000},
		{0x4000_0000, 0x1000},
		{0x4000_1000, 0x1000}, // touches
		{0x4000_0800, 0x4000}, // overlaps
		{0x6000_0000, 0x2000},
		{0x6000_0000, 0x1000}, // same base, shorter
		{0x7000_0000, 0},      // empty
	} {
		if err := s.Insert(r); err != nil {
			t.Fatalf("Insert(%v): %v", r, err)
		}
	}
	want := []Region{
		{0x4000_0000, 0x4800},
		{0x6000_0000, 0x2000},
		{0x9000_0000, 0x1000},
	}
	got := s.Merged()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Merged mismatch (-want +got):\n%s", diff)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Base <= got[i-1].End() {
			t.Errorf("regions %v and %v are not disjoint and sorted", got[i-1], got[i])
		}
	}
}

func TestSetCapacity(t *testing.T) {
	s := NewSet(2)
	for i := 0; i < 2; i++ {
		if err := s.Insert(Region{hostarch.PhysAddr(i) << 20, 0x1000}); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}
	if err := s.Insert(Region{0x1000_0000, 0x1000}); !errors.Is(err, ErrTooManyRegions) {
		t.Errorf("Insert past capacity = %v, want %v", err, ErrTooManyRegions)
	}
}

func TestPageAlign(t *testing.T) {
	for _, tc := range []struct {
		in, want Region
	}{
		{Region{0x4000_1000, 0x0fff_f000}, Region{0x4000_4000, 0x0fff_c000}},
		{Region{0x4000_0000, 0x4000}, Region{0x4000_0000, 0x4000}},
		{Region{0x4000_0001, 0x4000}, Region{}},
		{Region{0, 0}, Region{}},
	} {
		if got := PageAlign(tc.in); got != tc.want {
			t.Errorf("PageAlign(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
