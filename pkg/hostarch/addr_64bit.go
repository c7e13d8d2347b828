// Copyright 2021 The gVisor Authors.
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

package hostarch

// BlockRoundDown returns the address rounded down to the nearest block
// boundary.
func (p PhysAddr) BlockRoundDown() PhysAddr {
	return p &^ (BlockSize - 1)
}

// BlockRoundDown returns the address rounded down to the nearest block
// boundary.
func (v VirtAddr) BlockRoundDown() VirtAddr {
	return v &^ (BlockSize - 1)
}
