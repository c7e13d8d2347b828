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

package pgalloc

import (
	"mars.dev/mars/pkg/hostarch"
	"mars.dev/mars/pkg/physmem"
)

// Metadata lives in the memory it describes. Both records are arrays of
// 64-bit words; links hold physical addresses, with none for "no link".
const (
	// nodeSize is the size of one free-list node:
	// {page base, next node, prev node}.
	nodeSize = 3 * 8

	// chunkSize is the size of one chunk header:
	// {node array, pages, data base, metadata base, metadata bytes, next chunk}.
	chunkSize = 6 * 8

	// metaAlign is the alignment of the node array and chunk header.
	metaAlign = 8

	// none is the null link. Address zero is a valid node address.
	none = hostarch.PhysAddr(^uint64(0))
)

const (
	nodePageBase = iota
	nodeNext
	nodePrev
)

const (
	chunkNodes = iota
	chunkPages
	chunkDataBase
	chunkMetaBase
	chunkMetaBytes
	chunkNext
)

// node is a free-list node addressed by its physical location.
type node struct {
	mem  *physmem.Memory
	addr hostarch.PhysAddr
}

func (n node) field(i int) hostarch.PhysAddr {
	return n.addr + hostarch.PhysAddr(i*8)
}

func (n node) pageBase() hostarch.PhysAddr {
	return hostarch.PhysAddr(n.mem.Load64(n.field(nodePageBase)))
}

func (n node) next() hostarch.PhysAddr {
	return hostarch.PhysAddr(n.mem.Load64(n.field(nodeNext)))
}

func (n node) prev() hostarch.PhysAddr {
	return hostarch.PhysAddr(n.mem.Load64(n.field(nodePrev)))
}

func (n node) setNext(a hostarch.PhysAddr) {
	n.mem.Store64(n.field(nodeNext), uint64(a))
}

func (n node) setPrev(a hostarch.PhysAddr) {
	n.mem.Store64(n.field(nodePrev), uint64(a))
}

func (n node) init(pageBase, prev, next hostarch.PhysAddr) {
	w := n.mem.Words(n.addr, 3)
	w[nodePageBase] = uint64(pageBase)
	w[nodeNext] = uint64(next)
	w[nodePrev] = uint64(prev)
}

// chunkRecord is a chunk header addressed by its physical location.
type chunkRecord struct {
	mem  *physmem.Memory
	addr hostarch.PhysAddr
}

func (c chunkRecord) words() []uint64 {
	return c.mem.Words(c.addr, chunkSize/8)
}

func (c chunkRecord) info() Chunk {
	w := c.words()
	return Chunk{
		Nodes:     hostarch.PhysAddr(w[chunkNodes]),
		Pages:     w[chunkPages],
		DataBase:  hostarch.PhysAddr(w[chunkDataBase]),
		MetaBase:  hostarch.PhysAddr(w[chunkMetaBase]),
		MetaBytes: w[chunkMetaBytes],
	}
}

func (c chunkRecord) next() hostarch.PhysAddr {
	return hostarch.PhysAddr(c.words()[chunkNext])
}

func (c chunkRecord) init(ch Chunk, next hostarch.PhysAddr) {
	w := c.words()
	w[chunkNodes] = uint64(ch.Nodes)
	w[chunkPages] = ch.Pages
	w[chunkDataBase] = uint64(ch.DataBase)
	w[chunkMetaBase] = uint64(ch.MetaBase)
	w[chunkMetaBytes] = ch.MetaBytes
	w[chunkNext] = uint64(next)
}
