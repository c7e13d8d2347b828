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
	"fmt"

	"mars.dev/mars/pkg/binary"
	"mars.dev/mars/pkg/memregion"
)

// Builder encodes a device tree blob.
//
// Nodes are written in call order; BeginNode and EndNode calls must pair up
// before Finish. Property names are deduplicated in the strings block.
type Builder struct {
	reserves []memregion.Region
	structs  []byte
	strings  []byte
	names    map[string]uint32
	depth    int

	// BootCPU is written to the header.
	BootCPU uint32
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{names: make(map[string]uint32)}
}

// Reserve adds r to the reserve map.
func (b *Builder) Reserve(r memregion.Region) {
	b.reserves = append(b.reserves, r)
}

// BeginNode opens a node. The root node has an empty name.
func (b *Builder) BeginNode(name string) {
	b.structs = binary.AppendUint32(b.structs, TokenBeginNode)
	b.structs = binary.Pad(binary.AppendCString(b.structs, name), 4)
	b.depth++
}

// EndNode closes the innermost open node.
func (b *Builder) EndNode() {
	if b.depth == 0 {
		panic("EndNode without open node")
	}
	b.structs = binary.AppendUint32(b.structs, TokenEndNode)
	b.depth--
}

// Nop emits a NOP token.
func (b *Builder) Nop() {
	b.structs = binary.AppendUint32(b.structs, TokenNop)
}

// Property adds a raw property to the innermost open node.
func (b *Builder) Property(name string, value []byte) {
	off, ok := b.names[name]
	if !ok {
		off = uint32(len(b.strings))
		b.strings = binary.AppendCString(b.strings, name)
		b.names[name] = off
	}
	b.structs = binary.AppendUint32(b.structs, TokenProp)
	b.structs = binary.AppendUint32(b.structs, uint32(len(value)))
	b.structs = binary.AppendUint32(b.structs, off)
	b.structs = binary.Pad(append(b.structs, value...), 4)
}

// PropertyU32 adds a single-cell property.
func (b *Builder) PropertyU32(name string, v uint32) {
	b.Property(name, binary.AppendUint32(nil, v))
}

// PropertyString adds a NUL-terminated string property.
func (b *Builder) PropertyString(name, v string) {
	b.Property(name, binary.AppendCString(nil, v))
}

// PropertyReg adds a reg property holding regions, encoded with the given
// cell counts. Values wider than the cells allow are truncated to their low
// bits.
func (b *Builder) PropertyReg(addressCells, sizeCells int, regions ...memregion.Region) {
	var v []byte
	for _, r := range regions {
		v = appendCells(v, uint64(r.Base), addressCells)
		v = appendCells(v, r.Size, sizeCells)
	}
	b.Property("reg", v)
}

func appendCells(buf []byte, v uint64, cells int) []byte {
	for i := cells - 1; i >= 0; i-- {
		var cell uint32
		if i < 2 {
			cell = uint32(v >> (32 * i))
		}
		buf = binary.AppendUint32(buf, cell)
	}
	return buf
}

// Finish closes the structure block and returns the blob. It fails if nodes
// are still open.
func (b *Builder) Finish() ([]byte, error) {
	if b.depth != 0 {
		return nil, fmt.Errorf("%d nodes still open", b.depth)
	}
	structs := binary.AppendUint32(append([]byte(nil), b.structs...), TokenEnd)

	reserveOff := binary.AlignUp(HeaderSize, 8)
	structOff := reserveOff + (len(b.reserves)+1)*reserveEntrySize
	stringsOff := structOff + len(structs)
	total := stringsOff + len(b.strings)

	h := Header{
		Magic:                 Magic,
		TotalSize:             uint32(total),
		StructOffset:          uint32(structOff),
		StringsOffset:         uint32(stringsOff),
		ReserveMapOffset:      uint32(reserveOff),
		Version:               Version,
		LastCompatibleVersion: LastCompatibleVersion,
		BootCPU:               b.BootCPU,
		StringsSize:           uint32(len(b.strings)),
		StructSize:            uint32(len(structs)),
	}
	blob := make([]byte, 0, total)
	blob = binary.Marshal(blob, &h)
	blob = binary.Pad(blob, 8)
	for _, r := range b.reserves {
		blob = binary.AppendUint64(blob, uint64(r.Base))
		blob = binary.AppendUint64(blob, r.Size)
	}
	blob = binary.AppendUint64(binary.AppendUint64(blob, 0), 0)
	blob = append(blob, structs...)
	blob = append(blob, b.strings...)
	return blob, nil
}
