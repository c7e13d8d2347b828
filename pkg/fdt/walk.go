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

package fdt

import (
	"fmt"

	"mars.dev/mars/pkg/binary"
)

// Visitor receives structure block events in document order. Depth is 1 for
// the root node. Returning an error stops the walk.
type Visitor interface {
	BeginNode(depth int, name string) error
	EndNode(depth int) error
	Property(depth int, name string, value []byte) error
}

// Walk runs the structure block through v, stopping at the END token. A
// block that ends without one is truncated.
func (f *FDT) Walk(v Visitor) error {
	var (
		pos   int
		depth int
		b     = f.structs
	)
	for pos < len(b) {
		tokOff := pos
		token, ok := binary.Uint32At(b, pos)
		if !ok {
			return fmt.Errorf("%w: token at %#x", ErrTruncated, pos)
		}
		pos += 4

		switch token {
		case TokenBeginNode:
			name, end, ok := binary.CStringAt(b, pos)
			if !ok {
				return fmt.Errorf("%w: unterminated node name at %#x", ErrBadStructure, pos)
			}
			if depth+1 >= MaxDepth {
				return fmt.Errorf("%w: node %q", ErrDepthExceeded, name)
			}
			if pos = binary.AlignUp(end+1, 4); pos > len(b) {
				return fmt.Errorf("%w: node %q padding", ErrTruncated, name)
			}
			depth++
			if err := v.BeginNode(depth, name); err != nil {
				return err
			}

		case TokenEndNode:
			if depth == 0 {
				return fmt.Errorf("%w: END_NODE at %#x without open node", ErrBadStructure, tokOff)
			}
			if err := v.EndNode(depth); err != nil {
				return err
			}
			depth--

		case TokenProp:
			length, ok1 := binary.Uint32At(b, pos)
			nameOff, ok2 := binary.Uint32At(b, pos+4)
			if !ok1 || !ok2 {
				return fmt.Errorf("%w: property header at %#x", ErrTruncated, pos)
			}
			pos += 8
			name, _, ok := binary.CStringAt(f.strings, int(nameOff))
			if !ok {
				return fmt.Errorf("%w: property name offset %#x", ErrBadStructure, nameOff)
			}
			if uint64(pos)+uint64(length) > uint64(len(b)) {
				return fmt.Errorf("%w: property %q value", ErrTruncated, name)
			}
			value := b[pos : pos+int(length)]
			if pos = binary.AlignUp(pos+int(length), 4); pos > len(b) {
				return fmt.Errorf("%w: property %q padding", ErrTruncated, name)
			}
			if err := v.Property(depth, name, value); err != nil {
				return err
			}

		case TokenNop:

		case TokenEnd:
			return nil

		default:
			return &UnexpectedTokenError{Token: token, Offset: tokOff}
		}
	}
	return fmt.Errorf("%w: no END token in %#x byte structure block", ErrTruncated, len(b))
}
