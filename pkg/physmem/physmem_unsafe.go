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

package physmem

import (
	"fmt"
	"unsafe"

	"mars.dev/mars/pkg/hostarch"
)

// Words returns the host view of n 64-bit words at addr, which must be
// 8-byte aligned.
func (m *Memory) Words(addr hostarch.PhysAddr, n int) []uint64 {
	if addr%8 != 0 {
		panic(fmt.Sprintf("physmem: unaligned word access at %v", addr))
	}
	b := m.Bytes(addr, uint64(n)*8)
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*uint64)(unsafe.Pointer(&b[0])), n)
}

// Load64 returns the 64-bit word at addr.
func (m *Memory) Load64(addr hostarch.PhysAddr) uint64 {
	return m.Words(addr, 1)[0]
}

// Store64 sets the 64-bit word at addr.
func (m *Memory) Store64(addr hostarch.PhysAddr, v uint64) {
	m.Words(addr, 1)[0] = v
}
