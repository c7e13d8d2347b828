// Copyright 2025 The gVisor Authors.
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

package hostarch

import "fmt"

// MemoryType specifies CPU memory access behavior. Its value is the MAIR_EL1
// attribute index that a leaf descriptor selects.
type MemoryType uint8

const (
	// MemoryTypeDevice is Device-nGnRE: non-gathering, non-reordering,
	// early write acknowledgement. It is used for MMIO and firmware tables
	// that must not be cached.
	MemoryTypeDevice MemoryType = iota

	// MemoryTypeNormal is Normal memory, inner and outer write-back
	// non-transient with read and write allocation.
	MemoryTypeNormal

	// NumMemoryTypes is the number of memory types.
	NumMemoryTypes
)

// MAIR attribute encodings for each MemoryType.
const (
	mairDeviceNGnRE     = 0x04
	mairNormalWriteBack = 0xff
)

// AttrIndex returns the MAIR_EL1 slot programmed for mt.
func (mt MemoryType) AttrIndex() uint8 {
	return uint8(mt)
}

// MAIR returns the MAIR_EL1 value that programs every MemoryType into its
// attribute slot.
func MAIR() uint64 {
	return mairDeviceNGnRE<<(8*uint64(MemoryTypeDevice)) |
		mairNormalWriteBack<<(8*uint64(MemoryTypeNormal))
}

// String implements fmt.Stringer.String.
func (mt MemoryType) String() string {
	switch mt {
	case MemoryTypeDevice:
		return "Device"
	case MemoryTypeNormal:
		return "Normal"
	default:
		return fmt.Sprintf("%d", mt)
	}
}

// ShortString returns a two-character string compactly representing the
// MemoryType.
func (mt MemoryType) ShortString() string {
	switch mt {
	case MemoryTypeDevice:
		return "DV"
	case MemoryTypeNormal:
		return "WB"
	default:
		return fmt.Sprintf("%02d", mt)
	}
}
