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

// Package ring0 describes the EL1 translation regime the kernel runs under:
// the kernel virtual layout and the system register values that select it.
package ring0

import (
	"mars.dev/mars/pkg/hostarch"
)

// Kernel virtual layout.
//
// The high half starts with the direct map of physical memory. The kernel
// image, the boot information window and the MMIO window live in the
// second 128 TiB, above every address the direct map can reach.
const (
	// KernelBase is where the kernel image is mapped.
	KernelBase = hostarch.VirtAddr(0xffff800000000000)

	// KernelBlocks is the number of blocks mapped for the image by the
	// early tables.
	KernelBlocks = 4

	// BootInfoWindow maps the block holding the device tree, read-only.
	// It is the last block of the first level-1 entry above KernelBase.
	BootInfoWindow = KernelBase + (hostarch.EntriesPerTable-1)*hostarch.BlockSize

	// IOMapBase is where device registers are mapped.
	IOMapBase = hostarch.VirtAddr(0xffff801000000000)

	// IOMapBlocks is the number of blocks in the MMIO window.
	IOMapBlocks = 32

	// IOMapSize is the size of the MMIO window (1GB).
	IOMapSize = IOMapBlocks * hostarch.BlockSize
)

// IOMap returns the address of the device register at physical address pa
// in the MMIO window. ok is false if the window does not cover pa.
func IOMap(pa hostarch.PhysAddr) (addr hostarch.VirtAddr, ok bool) {
	if pa >= IOMapSize {
		return 0, false
	}
	return IOMapBase + hostarch.VirtAddr(pa), true
}

// TCR_EL1 fields.
const (
	_TCR_T0SZ_SHIFT  = 0
	_TCR_IRGN0_SHIFT = 8
	_TCR_ORGN0_SHIFT = 10
	_TCR_SH0_SHIFT   = 12
	_TCR_TG0_SHIFT   = 14
	_TCR_T1SZ_SHIFT  = 16
	_TCR_IRGN1_SHIFT = 24
	_TCR_ORGN1_SHIFT = 26
	_TCR_SH1_SHIFT   = 28
	_TCR_TG1_SHIFT   = 30
	_TCR_IPS_SHIFT   = 32
	_TCR_TBI0        = 1 << 37
	_TCR_TBI1        = 1 << 38

	// Write-back, read and write allocate.
	_TCR_RGN_WBWA = 0x1

	_TCR_SH_INNER = 0x3

	// The two granule fields encode 16K differently.
	_TCR_TG0_16K = 0x2
	_TCR_TG1_16K = 0x1

	_TCR_IPS_48BIT = 0x5

	_TCR_TXSZ = 64 - hostarch.VABits
)

// SCTLR_EL1 bits.
const (
	_SCTLR_M = 1 << 0
	_SCTLR_C = 1 << 2
	_SCTLR_I = 1 << 12
)

const (
	// KernelTCR selects 48-bit halves with a 16K granule, inner shareable
	// write-back table walks and a 48-bit physical address space. Top
	// bytes are ignored in both halves.
	KernelTCR = _TCR_TXSZ<<_TCR_T0SZ_SHIFT |
		_TCR_RGN_WBWA<<_TCR_IRGN0_SHIFT |
		_TCR_RGN_WBWA<<_TCR_ORGN0_SHIFT |
		_TCR_SH_INNER<<_TCR_SH0_SHIFT |
		_TCR_TG0_16K<<_TCR_TG0_SHIFT |
		_TCR_TXSZ<<_TCR_T1SZ_SHIFT |
		_TCR_RGN_WBWA<<_TCR_IRGN1_SHIFT |
		_TCR_RGN_WBWA<<_TCR_ORGN1_SHIFT |
		_TCR_SH_INNER<<_TCR_SH1_SHIFT |
		_TCR_TG1_16K<<_TCR_TG1_SHIFT |
		_TCR_IPS_48BIT<<_TCR_IPS_SHIFT |
		_TCR_TBI0 | _TCR_TBI1

	// SCTLRFlagsSet enables the MMU and both caches.
	SCTLRFlagsSet = _SCTLR_M | _SCTLR_C | _SCTLR_I
)
