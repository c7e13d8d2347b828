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
	"flag"
	"os"

	"github.com/google/subcommands"
	"golang.org/x/term"

	"mars.dev/mars/marsboot/cmd/util"
	"mars.dev/mars/marsboot/config"
	"mars.dev/mars/pkg/log"
)

// MkDTB implements subcommands.Command for the "mkdtb" command.
type MkDTB struct {
	output string
	force  bool
}

// Name implements subcommands.Command.Name.
func (*MkDTB) Name() string {
	return "mkdtb"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*MkDTB) Synopsis() string {
	return "write the device tree of a board"
}

// Usage implements subcommands.Command.Usage.
func (*MkDTB) Usage() string {
	return `mkdtb --board=<board> [flags] - write a flattened device tree describing the board's memory.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *MkDTB) SetFlags(f *flag.FlagSet) {
	f.StringVar(&m.output, "o", "", "output file, default is stdout.")
	f.BoolVar(&m.force, "force", false, "write to stdout even if it is a terminal.")
}

// Execute implements subcommands.Command.Execute.
func (m *MkDTB) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	board, err := loadBoard(conf)
	if err != nil {
		return util.Errorf("%v", err)
	}
	blob, err := board.DeviceTree()
	if err != nil {
		return util.Errorf("building device tree: %v", err)
	}

	if m.output == "" {
		if term.IsTerminal(int(os.Stdout.Fd())) && !m.force {
			return util.Errorf("refusing to write a binary device tree to a terminal, use -o or -force")
		}
		if _, err := os.Stdout.Write(blob); err != nil {
			return util.Errorf("writing device tree: %v", err)
		}
		return subcommands.ExitSuccess
	}
	if err := os.WriteFile(m.output, blob, 0644); err != nil {
		return util.Errorf("writing device tree: %v", err)
	}
	log.Infof("Wrote %d byte device tree to %q", len(blob), m.output)
	return subcommands.ExitSuccess
}

// loadBoard loads the board named by --board.
func loadBoard(conf *config.Config) (*config.Board, error) {
	if conf.Board == "" {
		return nil, errBoardRequired
	}
	return config.LoadBoard(conf.Board)
}
