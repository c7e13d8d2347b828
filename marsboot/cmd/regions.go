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

// Package cmd holds implementations of the marsboot commands.
package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"

	"mars.dev/mars/marsboot/cmd/util"
	"mars.dev/mars/marsboot/config"
	"mars.dev/mars/pkg/fdt"
	"mars.dev/mars/pkg/memregion"
)

// Regions implements subcommands.Command for the "regions" command.
type Regions struct {
	dump bool
}

// Name implements subcommands.Command.Name.
func (*Regions) Name() string {
	return "regions"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Regions) Synopsis() string {
	return "print the usable memory described by a device tree"
}

// Usage implements subcommands.Command.Usage.
func (*Regions) Usage() string {
	return `regions [flags] <dtb> - print the reserve map and the usable memory regions of a flattened device tree.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Regions) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&r.dump, "dump", false, "also print the whole tree in source form.")
}

// Execute implements subcommands.Command.Execute.
func (r *Regions) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	blob, err := os.ReadFile(f.Arg(0))
	if err != nil {
		return util.Errorf("reading device tree: %v", err)
	}
	if err := printRegions(os.Stdout, blob, conf.MaxRegions, r.dump); err != nil {
		return util.Errorf("%s: %v", f.Arg(0), describe(err))
	}
	return subcommands.ExitSuccess
}

// describe prefixes err with its class.
func describe(err error) string {
	switch {
	case fdt.IsMalformed(err):
		return fmt.Sprintf("malformed device tree: %v", err)
	case fdt.IsCapacity(err):
		return fmt.Sprintf("capacity exceeded: %v", err)
	default:
		return err.Error()
	}
}

func printRegions(w io.Writer, blob []byte, capacity int, dump bool) error {
	t, err := fdt.New(blob)
	if err != nil {
		return err
	}
	h := t.Header()
	fmt.Fprintf(w, "version %d (compatible with %d), %d bytes, boot CPU %d\n", h.Version, h.LastCompatibleVersion, h.TotalSize, h.BootCPU)

	reserved, err := t.ReservedMap()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "reserved:\n")
	printRegionList(w, reserved)

	usable, err := t.UsableRegions(capacity)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "usable:\n")
	printRegionList(w, usable)

	if dump {
		fmt.Fprintf(w, "tree:\n")
		if err := t.Walk(&dtsPrinter{w: w}); err != nil {
			return err
		}
	}
	return nil
}

func printRegionList(w io.Writer, rs []memregion.Region) {
	if len(rs) == 0 {
		fmt.Fprintf(w, "\t(none)\n")
		return
	}
	var total uint64
	for _, r := range rs {
		fmt.Fprintf(w, "\t%v-%v (%d KiB)\n", r.Base, r.End(), r.Size>>10)
		total += r.Size
	}
	fmt.Fprintf(w, "\ttotal %d KiB\n", total>>10)
}
