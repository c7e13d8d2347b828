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
	"errors"
	"fmt"

	"mars.dev/mars/pkg/hostarch"
	"mars.dev/mars/pkg/log"
	"mars.dev/mars/pkg/ring0/pagetables"
)

// Kernel image errors.
var (
	ErrWriteExecute      = errors.New("segment is both writable and executable")
	ErrEntryOutOfRange   = errors.New("entry point outside the loaded segments")
	ErrSegmentOutOfRange = errors.New("segment outside the loaded image")
	ErrSegmentAlignment  = errors.New("segment virtual and physical page offsets differ")
)

// SegmentFlags are the permissions of a loaded segment, with the ELF
// p_flags encoding.
type SegmentFlags uint32

// Segment permissions.
const (
	SegmentExecute SegmentFlags = 1 << iota
	SegmentWrite
	SegmentRead
)

// String implements fmt.Stringer.String.
func (f SegmentFlags) String() string {
	b := []byte("---")
	if f&SegmentRead != 0 {
		b[0] = 'r'
	}
	if f&SegmentWrite != 0 {
		b[1] = 'w'
	}
	if f&SegmentExecute != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// LoadDescriptor says where the kernel image was placed in physical memory.
type LoadDescriptor struct {
	PhysicalBase hostarch.PhysAddr
	Size         uint64
	Entry        hostarch.VirtAddr
}

// Span returns the physical range the image occupies.
func (l LoadDescriptor) Span() (start, end hostarch.PhysAddr) {
	return l.PhysicalBase, l.PhysicalBase + hostarch.PhysAddr(l.Size)
}

// Segment is one loaded piece of the kernel image.
type Segment struct {
	// Virt is the address the segment runs at.
	Virt hostarch.VirtAddr

	// MemSize is the size of the segment in memory.
	MemSize uint64

	// Offset is where the segment starts, relative to the image's
	// physical base.
	Offset uint64

	Flags SegmentFlags
}

// String implements fmt.Stringer.String.
func (s Segment) String() string {
	return fmt.Sprintf("%v +%#x @%#x %v", s.Virt, s.MemSize, s.Offset, s.Flags)
}

// opts returns the attributes s is mapped with. No segment is ever both
// writable and executable, and none is executable from EL0.
func (s Segment) opts() pagetables.MapOpts {
	opts := pagetables.MapOpts{
		AccessPermission:  pagetables.PrivilegedReadOnly,
		Shareability:      pagetables.InnerShareable,
		PrivilegedExecute: s.Flags&SegmentExecute != 0,
		MemoryType:        hostarch.MemoryTypeNormal,
	}
	if s.Flags&SegmentWrite != 0 {
		opts.AccessPermission = pagetables.PrivilegedReadWrite
	}
	return opts
}

func pageOffset(v hostarch.VirtAddr) uint64 {
	return uint64(v) & (hostarch.PageSize - 1)
}

// validateSegments checks segs against load and returns the virtual span
// the segments cover.
func validateSegments(load LoadDescriptor, segs []Segment) (lo, hi hostarch.VirtAddr, err error) {
	if _, ok := load.PhysicalBase.AddLength(load.Size); !ok {
		return 0, 0, fmt.Errorf("image at %v size %#x wraps: %w", load.PhysicalBase, load.Size, ErrSegmentOutOfRange)
	}
	first := true
	for i, s := range segs {
		if s.Flags&SegmentWrite != 0 && s.Flags&SegmentExecute != 0 {
			return 0, 0, fmt.Errorf("segment %d (%v): %w", i, s, ErrWriteExecute)
		}
		if s.MemSize == 0 {
			continue
		}
		if s.Offset > load.Size || s.MemSize > load.Size-s.Offset {
			return 0, 0, fmt.Errorf("segment %d (%v), image size %#x: %w", i, s, load.Size, ErrSegmentOutOfRange)
		}
		end, ok := s.Virt.AddLength(s.MemSize)
		if _, roundOK := end.RoundUp(); !ok || !roundOK {
			return 0, 0, fmt.Errorf("segment %d (%v) wraps: %w", i, s, ErrSegmentOutOfRange)
		}
		phys := load.PhysicalBase + hostarch.PhysAddr(s.Offset)
		if phys.PageOffset() != pageOffset(s.Virt) {
			return 0, 0, fmt.Errorf("segment %d (%v) at %v: %w", i, s, phys, ErrSegmentAlignment)
		}
		if first || s.Virt < lo {
			lo = s.Virt
		}
		if first || end > hi {
			hi = end
		}
		first = false
	}
	if first || load.Entry < lo || load.Entry >= hi {
		return 0, 0, fmt.Errorf("entry %v, segments %v-%v: %w", load.Entry, lo, hi, ErrEntryOutOfRange)
	}
	return lo, hi, nil
}

// MapKernel maps every segment of the kernel image into pt. Writable
// segments are mapped read-write, everything else read-only; only
// executable segments are executable, and only at EL1.
//
// Nothing is mapped unless every segment is valid: no segment may be both
// writable and executable, each must lie inside the image and the entry
// point must fall within the segments.
func MapKernel(pt *pagetables.PageTables, load LoadDescriptor, segs []Segment) error {
	lo, hi, err := validateSegments(load, segs)
	if err != nil {
		return err
	}
	for _, s := range segs {
		if s.MemSize == 0 {
			continue
		}
		phys := (load.PhysicalBase + hostarch.PhysAddr(s.Offset)).RoundDown()
		virt := s.Virt.RoundDown()
		end, _ := (s.Virt + hostarch.VirtAddr(s.MemSize)).RoundUp()
		opts := s.opts()
		log.Infof("earlyinit: mapping kernel segment %v at %v %v", s, phys, opts)
		pt.MapRegion(phys, virt, uint64(end-virt), opts)
	}
	log.Infof("earlyinit: kernel %v-%v, entry %v", lo, hi, load.Entry)
	return nil
}
