// Copyright 2020 The gVisor Authors.
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

// Package config provides basic infrastructure to set configuration settings
// for marsboot. Each setting that can be changed from the command line is
// declared as a field of Config with a `flag` tag naming the flag.
package config

import (
	"fmt"

	"mars.dev/mars/pkg/log"
)

// Config holds configuration that is not part of the board description.
type Config struct {
	// Board is the path of the board description.
	Board string `flag:"board"`

	// LogFilename is the filename to log to, if not empty.
	LogFilename string `flag:"log"`

	// LogFormat is the log format: "text" or "json".
	LogFormat string `flag:"log-format"`

	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// AlsoLogToStderr allows to send log messages to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr"`

	// MaxRegions bounds the number of usable regions read from a device
	// tree.
	MaxRegions int `flag:"max-regions"`
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid --log-format %q, must be 'text' or 'json'", c.LogFormat)
	}
	if c.MaxRegions <= 0 {
		return fmt.Errorf("--max-regions must be positive, got %d", c.MaxRegions)
	}
	return nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Board: %q", c.Board)
	log.Infof("Debug: %t, log: %q (%s)", c.Debug, c.LogFilename, c.LogFormat)
	log.Infof("Max regions: %d", c.MaxRegions)
}
