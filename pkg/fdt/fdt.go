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

// Package fdt reads flattened device tree blobs far enough to find usable
// physical memory.
//
// The resolver works within fixed bounds: at most MaxReserved reserve map
// entries, MaxDepth levels of nesting and MaxFragments pieces per memory
// range once reservations are cut out. Exceeding any bound is an error; no
// input is silently clamped.
package fdt

import (
	"fmt"

	"mars.dev/mars/pkg/binary"
	"mars.dev/mars/pkg/hostarch"
	"mars.dev/mars/pkg/memregion"
)

// Magic identifies a device tree blob.
const Magic = 0xd00dfeed

// Structure block tokens.
const (
	TokenBeginNode uint32 = 0x1
	TokenEndNode   uint32 = 0x2
	TokenProp      uint32 = 0x3
	TokenNop       uint32 = 0x4
	TokenEnd       uint32 = 0x9
)

// Resolver bounds.
const (
	MaxReserved  = 128
	MaxDepth     = 64
	MaxFragments = 32
)

// Supported format versions.
const (
	// Version is the version written by Builder.
	Version = 17

	// LastCompatibleVersion is the oldest version a Version blob is
	// compatible with.
	LastCompatibleVersion = 16

	minVersion = 16
)

// HeaderSize is the size of the fixed header.
const HeaderSize = 40

// reserveEntrySize is the size of one reserve map entry.
const reserveEntrySize = 16

// Header is the fixed header at the start of every blob. All fields are
// big-endian on the wire.
type Header struct {
	Magic                 uint32
	TotalSize             uint32
	StructOffset          uint32
	StringsOffset         uint32
	ReserveMapOffset      uint32
	Version               uint32
	LastCompatibleVersion uint32
	BootCPU               uint32
	StringsSize           uint32
	StructSize            uint32
}

// FDT is a validated device tree blob.
type FDT struct {
	blob    []byte
	header  Header
	structs []byte
	strings []byte
}

// New validates the header of blob and returns a view of it. blob is not
// copied.
func New(blob []byte) (*FDT, error) {
	var h Header
	if len(blob) < HeaderSize || !binary.Unmarshal(blob, &h) {
		return nil, fmt.Errorf("%w: %d byte header", ErrTruncated, len(blob))
	}
	if h.Magic != Magic {
		return nil, fmt.Errorf("%w: %#x", ErrBadMagic, h.Magic)
	}
	total := uint64(h.TotalSize)
	if total > uint64(len(blob)) {
		return nil, fmt.Errorf("%w: header claims %d bytes, have %d", ErrTruncated, total, len(blob))
	}
	if h.Version < minVersion || h.LastCompatibleVersion > Version {
		return nil, fmt.Errorf("%w: version %d, last compatible %d", ErrBadVersion, h.Version, h.LastCompatibleVersion)
	}
	if uint64(h.StructOffset) >= total || uint64(h.StringsOffset) >= total {
		return nil, fmt.Errorf("%w: block offsets %#x/%#x outside %#x bytes", ErrBadStructure, h.StructOffset, h.StringsOffset, total)
	}
	if uint64(h.StringsOffset)+uint64(h.StringsSize) > total {
		return nil, fmt.Errorf("%w: strings block overruns blob", ErrBadStructure)
	}
	// StructSize first appears in version 17.
	structEnd := total
	if h.Version >= 17 {
		structEnd = uint64(h.StructOffset) + uint64(h.StructSize)
		if structEnd > total {
			return nil, fmt.Errorf("%w: structure block overruns blob", ErrBadStructure)
		}
	}
	return &FDT{
		blob:    blob[:total],
		header:  h,
		structs: blob[h.StructOffset:structEnd],
		strings: blob[h.StringsOffset : h.StringsOffset+h.StringsSize],
	}, nil
}

// Header returns the blob header.
func (f *FDT) Header() Header {
	return f.header
}

// ReservedMap returns the reserve map entries, stopping at the zero/zero
// sentinel. It fails with ErrTooManyReserves if more than MaxReserved entries
// precede the sentinel.
func (f *FDT) ReservedMap() ([]memregion.Region, error) {
	off := int(f.header.ReserveMapOffset)
	if off == 0 {
		return nil, nil
	}
	var out []memregion.Region
	for ; ; off += reserveEntrySize {
		addr, ok := binary.Uint64At(f.blob, off)
		if !ok {
			return nil, fmt.Errorf("%w: reserve map entry at %#x", ErrTruncated, off)
		}
		size, ok := binary.Uint64At(f.blob, off+8)
		if !ok {
			return nil, fmt.Errorf("%w: reserve map entry at %#x", ErrTruncated, off)
		}
		if addr == 0 && size == 0 {
			return out, nil
		}
		if len(out) == MaxReserved {
			return nil, ErrTooManyReserves
		}
		out = append(out, memregion.Region{Base: hostarch.PhysAddr(addr), Size: size})
	}
}

// UsableRegions returns the physical memory described by memory nodes with
// every reserve map range cut out, sorted by base and merged. At most
// capacity fragments may be produced before merging.
//
// A node is a memory node if its name starts with "memory" or it carries
// device_type = "memory". Its reg property is decoded with the cell counts
// of its parent; the root defaults to two address cells and one size cell.
func (f *FDT) UsableRegions(capacity int) ([]memregion.Region, error) {
	reserves, err := f.ReservedMap()
	if err != nil {
		return nil, err
	}
	s := &memoryScanner{
		reserves: reserves,
		out:      memregion.NewSet(capacity),
	}
	s.addressCells[0] = 2
	s.sizeCells[0] = 1
	if err := f.Walk(s); err != nil {
		return nil, err
	}
	return s.out.Merged(), nil
}
