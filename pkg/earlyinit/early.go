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

package earlyinit

import (
	"mars.dev/mars/pkg/hostarch"
	"mars.dev/mars/pkg/log"
	"mars.dev/mars/pkg/ring0"
	"mars.dev/mars/pkg/ring0/pagetables"
)

var (
	earlyKernelOpts = pagetables.MapOpts{
		AccessPermission:  pagetables.PrivilegedReadWrite,
		Shareability:      pagetables.InnerShareable,
		PrivilegedExecute: true,
		MemoryType:        hostarch.MemoryTypeNormal,
	}
	earlyBootInfoOpts = pagetables.MapOpts{
		AccessPermission: pagetables.PrivilegedReadOnly,
		Shareability:     pagetables.InnerShareable,
		MemoryType:       hostarch.MemoryTypeNormal,
	}
	earlyIOOpts = pagetables.MapOpts{
		AccessPermission: pagetables.PrivilegedReadWrite,
		Shareability:     pagetables.OuterShareable,
		MemoryType:       hostarch.MemoryTypeDevice,
	}
)

// EarlyTables builds the tables the kernel switches to before any page
// allocator exists, with every table taken from pool:
//
//   - the block holding the image's load address, identity mapped, so the
//     instruction after the MMU is enabled still translates;
//   - ring0.KernelBlocks blocks from that block at ring0.KernelBase;
//   - the block holding bootInfo, read-only at ring0.BootInfoWindow;
//   - the first ring0.IOMapSize bytes of physical address space as device
//     memory at ring0.IOMapBase.
//
// The pool must have room for seven tables.
func EarlyTables(pool *pagetables.PoolAllocator, load LoadDescriptor, bootInfo hostarch.PhysAddr) *pagetables.PageTables {
	pt := pagetables.New(pool)

	image := load.PhysicalBase.BlockRoundDown()
	pt.MapRegion(image, hostarch.VirtAddr(image), hostarch.BlockSize, earlyKernelOpts)
	pt.MapRegion(image, ring0.KernelBase, ring0.KernelBlocks*hostarch.BlockSize, earlyKernelOpts)
	pt.MapRegion(bootInfo.BlockRoundDown(), ring0.BootInfoWindow, hostarch.BlockSize, earlyBootInfoOpts)
	pt.MapRegion(0, ring0.IOMapBase, ring0.IOMapSize, earlyIOOpts)

	log.Infof("earlyinit: early tables use %d of %d pool slots", pool.Used(), pagetables.PoolSlots)
	return pt
}
