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
	"errors"
	"fmt"

	"mars.dev/mars/pkg/memregion"
)

// Malformed input. These are never recoverable: the blob is wrong.
var (
	// ErrTruncated is returned when the blob or a field inside it ends early.
	ErrTruncated = errors.New("device tree truncated")

	// ErrBadMagic is returned when the header magic is not 0xd00dfeed.
	ErrBadMagic = errors.New("bad device tree magic")

	// ErrBadVersion is returned for blobs this parser cannot read.
	ErrBadVersion = errors.New("unsupported device tree version")

	// ErrBadStructure is returned when offsets or nesting are inconsistent.
	ErrBadStructure = errors.New("bad device tree structure")
)

// Capacity exceeded. The blob may be well formed but does not fit the fixed
// bounds of the resolver.
var (
	// ErrTooManyReserves is returned when the reserve map holds more than
	// MaxReserved entries.
	ErrTooManyReserves = errors.New("too many reserved ranges")

	// ErrDepthExceeded is returned when nodes nest deeper than MaxDepth.
	ErrDepthExceeded = errors.New("device tree nesting too deep")
)

// UnexpectedTokenError is returned when the structure block holds a token
// outside the known set.
type UnexpectedTokenError struct {
	Token  uint32
	Offset int
}

// Error implements error.Error.
func (e *UnexpectedTokenError) Error() string {
	return fmt.Sprintf("unexpected device tree token %#x at structure offset %#x", e.Token, e.Offset)
}

// IsMalformed returns true if err reports a malformed blob.
func IsMalformed(err error) bool {
	var tokErr *UnexpectedTokenError
	return errors.Is(err, ErrTruncated) ||
		errors.Is(err, ErrBadMagic) ||
		errors.Is(err, ErrBadVersion) ||
		errors.Is(err, ErrBadStructure) ||
		errors.As(err, &tokErr)
}

// IsCapacity returns true if err reports that a fixed bound was exceeded.
func IsCapacity(err error) bool {
	return errors.Is(err, ErrTooManyReserves) ||
		errors.Is(err, ErrDepthExceeded) ||
		errors.Is(err, memregion.ErrTooManyFragments) ||
		errors.Is(err, memregion.ErrTooManyRegions)
}
