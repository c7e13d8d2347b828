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

package pagetables

import (
	"unsafe"

	"mars.dev/mars/pkg/hostarch"
	"mars.dev/mars/pkg/physmem"
)

// ptesAt views the table at physical in mem.
func ptesAt(mem *physmem.Memory, physical hostarch.PhysAddr) *PTEs {
	words := mem.Words(physical, hostarch.EntriesPerTable)
	return (*PTEs)(unsafe.Pointer(&words[0]))
}
