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
	"debug/elf"
	"errors"
	"fmt"
	"io"

	"mars.dev/mars/pkg/hostarch"
	"mars.dev/mars/pkg/log"
	"mars.dev/mars/pkg/physmem"
)

// ErrNoSegments is returned for an image with nothing to load.
var ErrNoSegments = errors.New("no PT_LOAD segments")

// LoadELF copies the loadable segments of f into mem, starting at the
// page-aligned physical address base, and zeroes whatever lies between and
// after them. Segments keep their relative virtual placement.
func LoadELF(f *elf.File, mem *physmem.Memory, base hostarch.PhysAddr) (LoadDescriptor, []Segment, error) {
	if !base.IsPageAligned() {
		return LoadDescriptor{}, nil, fmt.Errorf("load address %v is not page-aligned", base)
	}
	if f.Machine != elf.EM_AARCH64 {
		log.Warningf("earlyinit: loading %v image", f.Machine)
	}

	var (
		progs  []*elf.Prog
		lo, hi uint64
	)
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if p.Filesz > p.Memsz {
			return LoadDescriptor{}, nil, fmt.Errorf("PT_LOAD segment filesz %#x > memsz %#x", p.Filesz, p.Memsz)
		}
		end := p.Vaddr + p.Memsz
		if end < p.Vaddr {
			return LoadDescriptor{}, nil, fmt.Errorf("PT_LOAD segment size overflows: %#x + %#x", p.Vaddr, p.Memsz)
		}
		if len(progs) == 0 || p.Vaddr < lo {
			lo = p.Vaddr
		}
		if len(progs) == 0 || end > hi {
			hi = end
		}
		progs = append(progs, p)
	}
	if len(progs) == 0 {
		return LoadDescriptor{}, nil, ErrNoSegments
	}
	lo = hostarch.PageRoundDown(lo)
	size, ok := hostarch.PageRoundUp(hi - lo)
	if !ok {
		return LoadDescriptor{}, nil, fmt.Errorf("image span %#x-%#x overflows", lo, hi)
	}
	if !mem.Contains(base, size) {
		return LoadDescriptor{}, nil, fmt.Errorf("image of %#x bytes at %v is not backed by memory", size, base)
	}

	mem.Zero(base, size)
	segs := make([]Segment, 0, len(progs))
	for _, p := range progs {
		off := p.Vaddr - lo
		if p.Filesz > 0 {
			dst := mem.Bytes(base+hostarch.PhysAddr(off), p.Filesz)
			if _, err := io.ReadFull(p.Open(), dst); err != nil {
				return LoadDescriptor{}, nil, fmt.Errorf("reading segment at %#x: %w", p.Vaddr, err)
			}
		}
		segs = append(segs, Segment{
			Virt:    hostarch.VirtAddr(p.Vaddr),
			MemSize: p.Memsz,
			Offset:  off,
			Flags:   SegmentFlags(p.Flags) & (SegmentRead | SegmentWrite | SegmentExecute),
		})
	}
	load := LoadDescriptor{
		PhysicalBase: base,
		Size:         size,
		Entry:        hostarch.VirtAddr(f.Entry),
	}
	log.Infof("earlyinit: loaded %d segments, %#x bytes at %v", len(segs), size, base)
	return load, segs, nil
}
