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

package cmd

import (
	"context"
	"debug/elf"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"

	"mars.dev/mars/marsboot/cmd/util"
	"mars.dev/mars/marsboot/config"
	"mars.dev/mars/pkg/cleanup"
	"mars.dev/mars/pkg/earlyinit"
	"mars.dev/mars/pkg/hostarch"
	"mars.dev/mars/pkg/log"
	"mars.dev/mars/pkg/physmem"
	"mars.dev/mars/pkg/prometheus"
)

var errBoardRequired = errors.New("--board is required")

// Boot implements subcommands.Command for the "boot" command.
type Boot struct {
	kernel         string
	metrics        string
	mappings       bool
	exporterPrefix string
}

// Name implements subcommands.Command.Name.
func (*Boot) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Boot) Synopsis() string {
	return "run memory bring-up for a board and print the result"
}

// Usage implements subcommands.Command.Usage.
func (*Boot) Usage() string {
	return `boot --board=<board> [flags] - load the kernel image into the board's memory, build the
allocator and translation tables, and print the register values that would
turn on the MMU.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Boot) SetFlags(f *flag.FlagSet) {
	f.StringVar(&b.kernel, "kernel", "", "kernel ELF image, overrides the board's.")
	f.StringVar(&b.metrics, "metrics", "", "write bring-up metrics in Prometheus text format to this file.")
	f.BoolVar(&b.mappings, "mappings", false, "print every leaf of the kernel tables.")
	f.StringVar(&b.exporterPrefix, "exporter-prefix", "mars_", "prefix for exported metric names.")
}

// Execute implements subcommands.Command.Execute.
func (b *Boot) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	board, err := loadBoard(conf)
	if err != nil {
		return util.Errorf("%v", err)
	}

	mem, err := physmem.New(board.MemoryRegions())
	if err != nil {
		return util.Errorf("creating memory: %v", err)
	}
	defer mem.Close()

	as, err := bootBoard(board, b.kernel, conf.MaxRegions, mem)
	if err != nil {
		return util.Errorf("%v", describe(err))
	}
	printAddressSpace(os.Stdout, as, b.mappings)

	if b.metrics != "" {
		if err := writeMetrics(b.metrics, b.exporterPrefix, board.Name, as); err != nil {
			return util.Errorf("writing metrics: %v", err)
		}
	}
	return subcommands.ExitSuccess
}

// bootBoard places the device tree and kernel image in mem and runs
// bring-up.
func bootBoard(board *config.Board, kernel string, maxRegions int, mem *physmem.Memory) (*earlyinit.AddressSpace, error) {
	dtb, err := board.DeviceTree()
	if err != nil {
		return nil, fmt.Errorf("building device tree: %w", err)
	}
	dtbAddr := hostarch.PhysAddr(board.DTBAddress)
	if !mem.Contains(dtbAddr, uint64(len(dtb))) {
		return nil, fmt.Errorf("device tree at %v (%d bytes) is outside memory", dtbAddr, len(dtb))
	}
	copy(mem.Bytes(dtbAddr, uint64(len(dtb))), dtb)

	path := board.KernelPath(kernel)
	if path == "" {
		return nil, errors.New("no kernel image given")
	}
	ef, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening kernel: %w", err)
	}
	defer ef.Close()
	load, segs, err := earlyinit.LoadELF(ef, mem, hostarch.PhysAddr(board.LoadAddress))
	if err != nil {
		return nil, fmt.Errorf("loading kernel %q: %w", path, err)
	}
	log.Infof("Loaded %q at %v, %#x bytes, entry %v", path, load.PhysicalBase, load.Size, load.Entry)

	descs, err := board.FirmwareDescriptors()
	if err != nil {
		return nil, err
	}
	return earlyinit.Bringup(earlyinit.BootInfo{
		DTB:        mem.Bytes(dtbAddr, uint64(len(dtb))),
		DTBAddr:    dtbAddr,
		Load:       load,
		Segments:   segs,
		MemoryMap:  descs,
		PoolBase:   hostarch.PhysAddr(board.PoolAddress),
		MaxRegions: maxRegions,
	}, mem)
}

func printAddressSpace(w io.Writer, as *earlyinit.AddressSpace, mappings bool) {
	fmt.Fprintf(w, "usable:\n")
	printRegionList(w, as.Regions)

	fmt.Fprintf(w, "pages: %d total, %d free, %d allocated\n", as.Pages.TotalPages(), as.Pages.FreePages(), as.Pages.AllocatedPages())
	for _, c := range as.Pages.Chunks() {
		fmt.Fprintf(w, "\tchunk %v-%v, %d pages, metadata %v +%#x\n", c.DataBase, c.DataEnd(), c.Pages, c.MetaBase, c.MetaBytes)
	}

	fmt.Fprintf(w, "early tables: %d\n\t%v\n", as.Early.Tables(), as.EarlyRegisters)
	fmt.Fprintf(w, "kernel tables: %d\n\t%v\n", as.Kernel.Tables(), as.Registers)

	if mappings {
		fmt.Fprintf(w, "mappings:\n")
		for _, m := range as.Kernel.Mappings() {
			fmt.Fprintf(w, "\t%v\n", m)
		}
	}
}

func writeMetrics(path, prefix, board string, as *earlyinit.AddressSpace) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	cu := cleanup.Make(func() { out.Close() })
	defer cu.Clean()

	opts := prometheus.ExportOptions{
		CommentHeader:  "Memory bring-up metrics",
		ExporterPrefix: prefix,
		ExtraLabels:    map[string]string{"board": board},
	}
	if _, err := prometheus.Write(out, opts, snapshot(as)); err != nil {
		return err
	}
	cu.Release()
	return out.Close()
}
