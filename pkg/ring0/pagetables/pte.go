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

// Descriptor bits for the 16K granule, stage 1.
const (
	pteValid = 1 << 0

	// pteTable marks a table descriptor at levels 0-2 and a page
	// descriptor at level 3. Block descriptors leave it clear.
	pteTable = 1 << 1

	attrIndxShift = 2
	attrIndxMask  = 0x7 << attrIndxShift

	// apReadOnly is AP[2]. AP[1] (EL0 access) is never set.
	apReadOnly = 1 << 7

	shShift = 8
	shMask  = 0x3 << shShift

	pteAF = 1 << 10
	pteNG = 1 << 11

	ptePXN = 1 << 53
	pteUXN = 1 << 54

	// addressMask selects the output address, bits [47:14].
	addressMask = (1<<hostarch.VABits - 1) &^ (hostarch.PageSize - 1)

	optsMask = attrIndxMask | apReadOnly | shMask | pteNG | ptePXN | pteUXN
)

// Translation levels. Level 0 is the root.
const (
	numLevels = 4
	pageLevel = numLevels - 1

	// blockLevel is the level of hostarch.BlockSize leaves.
	blockLevel = 2
)

var (
	// levelShift is the low bit of each level's index.
	levelShift = [numLevels]uint{47, 36, hostarch.BlockShift, hostarch.PageShift}

	// levelMask is the index mask of each level. The 48-bit address leaves
	// a single bit for level 0.
	levelMask = [numLevels]uint64{0x1, 0x7ff, 0x7ff, 0x7ff}
)

// levelSize returns the span of one entry at level.
func levelSize(level int) uint64 {
	return 1 << levelShift[level]
}

// AccessPermission is the privileged access granted by a leaf. Unprivileged
// access is never granted.
type AccessPermission uint8

// Access permissions.
const (
	PrivilegedReadWrite AccessPermission = iota
	PrivilegedReadOnly
)

// String implements fmt.Stringer.String.
func (ap AccessPermission) String() string {
	switch ap {
	case PrivilegedReadWrite:
		return "rw"
	case PrivilegedReadOnly:
		return "ro"
	default:
		return fmt.Sprintf("AccessPermission(%d)", ap)
	}
}

// Shareability is the coherency domain of a leaf. The values are the SH
// field encodings.
type Shareability uint8

// Shareability domains.
const (
	NonShareable   Shareability = 0
	OuterShareable Shareability = 2
	InnerShareable Shareability = 3
)

// String implements fmt.Stringer.String.
func (sh Shareability) String() string {
	switch sh {
	case NonShareable:
		return "non"
	case OuterShareable:
		return "outer"
	case InnerShareable:
		return "inner"
	default:
		return fmt.Sprintf("Shareability(%d)", sh)
	}
}

// MapOpts are the attributes of a leaf mapping.
type MapOpts struct {
	// AccessPermission is the privileged access allowed.
	AccessPermission AccessPermission

	// Shareability is the coherency domain.
	Shareability Shareability

	// UserExecute allows execution at EL0.
	UserExecute bool

	// PrivilegedExecute allows execution at EL1.
	PrivilegedExecute bool

	// MemoryType selects the MAIR attribute.
	MemoryType hostarch.MemoryType

	// NotGlobal sets nG, tagging the mapping with the current ASID.
	NotGlobal bool
}

// String implements fmt.Stringer.String.
func (o MapOpts) String() string {
	x := "-"
	switch {
	case o.PrivilegedExecute && o.UserExecute:
		x = "x"
	case o.PrivilegedExecute:
		x = "px"
	case o.UserExecute:
		x = "ux"
	}
	return fmt.Sprintf("%s %s %s %s", o.AccessPermission, x, o.Shareability, o.MemoryType.ShortString())
}

// bits returns the descriptor attribute bits for o. The access flag is
// always set: nothing handles access faults this early.
func (o MapOpts) bits() uint64 {
	v := uint64(o.MemoryType.AttrIndex())<<attrIndxShift | uint64(o.Shareability)<<shShift | pteAF
	if o.AccessPermission == PrivilegedReadOnly {
		v |= apReadOnly
	}
	if !o.UserExecute {
		v |= pteUXN
	}
	if !o.PrivilegedExecute {
		v |= ptePXN
	}
	if o.NotGlobal {
		v |= pteNG
	}
	return v
}

// PTE is a translation table descriptor.
type PTE uint64

// PTEs is one translation table.
type PTEs [hostarch.EntriesPerTable]PTE

// Valid returns true if the descriptor is in use.
func (p PTE) Valid() bool {
	return p&pteValid != 0
}

// IsTable returns true if p points at a next-level table. level is the level
// of the table holding p; level-3 descriptors are never tables.
func (p PTE) IsTable(level int) bool {
	return level < pageLevel && p.Valid() && p&pteTable != 0
}

// IsLeaf returns true if p maps memory directly.
func (p PTE) IsLeaf(level int) bool {
	return p.Valid() && !p.IsTable(level)
}

// Address returns the output address: the next table or the mapped frame.
func (p PTE) Address() hostarch.PhysAddr {
	return hostarch.PhysAddr(uint64(p) & addressMask)
}

// Opts returns the leaf attributes of p.
func (p PTE) Opts() MapOpts {
	v := uint64(p)
	opts := MapOpts{
		AccessPermission:  PrivilegedReadWrite,
		Shareability:      Shareability((v & shMask) >> shShift),
		UserExecute:       v&pteUXN == 0,
		PrivilegedExecute: v&ptePXN == 0,
		MemoryType:        hostarch.MemoryType((v & attrIndxMask) >> attrIndxShift),
		NotGlobal:         v&pteNG != 0,
	}
	if v&apReadOnly != 0 {
		opts.AccessPermission = PrivilegedReadOnly
	}
	return opts
}

// setTable points p at the table at physical.
func (p *PTE) setTable(physical hostarch.PhysAddr) {
	*p = PTE(uint64(physical)&addressMask | pteTable | pteValid)
}

// setLeaf installs a leaf at level mapping physical. Level-3 leaves carry
// the table bit, which the architecture requires of page descriptors.
func (p *PTE) setLeaf(level int, physical hostarch.PhysAddr, opts MapOpts) {
	v := uint64(physical)&addressMask | opts.bits() | pteValid
	if level == pageLevel {
		v |= pteTable
	}
	*p = PTE(v)
}

// String implements fmt.Stringer.String.
func (p PTE) String() string {
	return fmt.Sprintf("%#016x", uint64(p))
}
