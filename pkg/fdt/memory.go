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

package fdt

import (
	"strings"

	"mars.dev/mars/pkg/binary"
	"mars.dev/mars/pkg/hostarch"
	"mars.dev/mars/pkg/log"
	"mars.dev/mars/pkg/memregion"
)

// memoryScanner is the Visitor behind UsableRegions.
//
// Cell counts and names are indexed by depth. A node starts with its
// parent's cell counts; its own #address-cells and #size-cells only apply to
// its children's reg properties.
type memoryScanner struct {
	reserves []memregion.Region
	out      *memregion.Set

	addressCells [MaxDepth]uint32
	sizeCells    [MaxDepth]uint32
	names        [MaxDepth]string
}

func (s *memoryScanner) BeginNode(depth int, name string) error {
	s.names[depth] = name
	s.addressCells[depth] = s.addressCells[depth-1]
	s.sizeCells[depth] = s.sizeCells[depth-1]
	return nil
}

func (s *memoryScanner) EndNode(int) error {
	return nil
}

func (s *memoryScanner) Property(depth int, name string, value []byte) error {
	switch name {
	case "#address-cells":
		if v, ok := binary.Uint32At(value, 0); ok {
			s.addressCells[depth] = v
		}
	case "#size-cells":
		if v, ok := binary.Uint32At(value, 0); ok {
			s.sizeCells[depth] = v
		}
	case "device_type":
		if v := string(value); v == "memory" || v == "memory\x00" {
			s.names[depth] = "memory"
		}
	case "reg":
		if strings.HasPrefix(s.names[depth], "memory") {
			return s.reg(depth, value)
		}
	}
	return nil
}

func (s *memoryScanner) reg(depth int, value []byte) error {
	parent := depth - 1
	if parent < 0 {
		parent = 0
	}
	aCells, sCells := uint64(s.addressCells[parent]), uint64(s.sizeCells[parent])
	tupleBytes := (aCells + sCells) * 4
	if tupleBytes == 0 || uint64(len(value))%tupleBytes != 0 {
		log.Debugf("Ignoring reg of %q: %d bytes with %d/%d cells", s.names[depth], len(value), aCells, sCells)
		return nil
	}
	for off := 0; off < len(value); off += int(tupleBytes) {
		base := readCells(value[off:], int(aCells))
		size := readCells(value[off+int(aCells)*4:], int(sCells))
		r := memregion.Region{Base: hostarch.PhysAddr(base), Size: size}
		frags, err := memregion.Subtract(r, s.reserves, MaxFragments)
		if err != nil {
			return err
		}
		for _, frag := range frags {
			if err := s.out.Insert(frag); err != nil {
				return err
			}
		}
	}
	return nil
}

// readCells decodes n big-endian cells from b, saturating at the largest
// uint64 when the value does not fit. b must hold n cells.
func readCells(b []byte, n int) uint64 {
	var v uint64
	saturated := false
	for i := 0; i < n; i++ {
		cell := binary.BigEndian.Uint32(b[i*4:])
		if v>>32 != 0 {
			saturated = true
		}
		v = v<<32 | uint64(cell)
	}
	if saturated {
		return ^uint64(0)
	}
	return v
}
