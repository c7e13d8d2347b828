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
	"bytes"
	"fmt"
	"io"
	"strings"

	"mars.dev/mars/pkg/binary"
)

// dtsPrinter prints a device tree walk in source form.
type dtsPrinter struct {
	w io.Writer
}

// indent returns the indentation of a node at depth. Properties sit one
// level deeper than their node.
func (p *dtsPrinter) indent(depth int) string {
	return strings.Repeat("\t", depth-1)
}

// BeginNode implements fdt.Visitor.BeginNode.
func (p *dtsPrinter) BeginNode(depth int, name string) error {
	if depth == 1 && name == "" {
		name = "/"
	}
	_, err := fmt.Fprintf(p.w, "%s%s {\n", p.indent(depth), name)
	return err
}

// EndNode implements fdt.Visitor.EndNode.
func (p *dtsPrinter) EndNode(depth int) error {
	_, err := fmt.Fprintf(p.w, "%s};\n", p.indent(depth))
	return err
}

// Property implements fdt.Visitor.Property.
func (p *dtsPrinter) Property(depth int, name string, value []byte) error {
	if len(value) == 0 {
		_, err := fmt.Fprintf(p.w, "%s%s;\n", p.indent(depth+1), name)
		return err
	}
	_, err := fmt.Fprintf(p.w, "%s%s = %s;\n", p.indent(depth+1), name, formatValue(value))
	return err
}

// formatValue renders a property value as strings, cells or bytes, in
// that order of preference.
func formatValue(v []byte) string {
	if strs, ok := stringList(v); ok {
		quoted := make([]string, len(strs))
		for i, s := range strs {
			quoted[i] = fmt.Sprintf("%q", s)
		}
		return strings.Join(quoted, ", ")
	}
	if len(v)%4 == 0 {
		cells := make([]string, 0, len(v)/4)
		for off := 0; off < len(v); off += 4 {
			c, _ := binary.Uint32At(v, off)
			cells = append(cells, fmt.Sprintf("%#x", c))
		}
		return "<" + strings.Join(cells, " ") + ">"
	}
	return fmt.Sprintf("[% x]", v)
}

// stringList splits v into NUL-terminated printable strings.
func stringList(v []byte) ([]string, bool) {
	if len(v) == 0 || v[len(v)-1] != 0 {
		return nil, false
	}
	var strs []string
	for _, s := range bytes.Split(v[:len(v)-1], []byte{0}) {
		if len(s) == 0 {
			return nil, false
		}
		for _, c := range s {
			if c < 0x20 || c > 0x7e {
				return nil, false
			}
		}
		strs = append(strs, string(s))
	}
	return strs, true
}
