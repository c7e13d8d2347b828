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

package ring0

import (
	"fmt"

	"mars.dev/mars/pkg/hostarch"
	"mars.dev/mars/pkg/ring0/pagetables"
)

// Registers are the values loaded before the MMU is switched on.
type Registers struct {
	MAIR  uint64
	TCR   uint64
	TTBR0 uint64
	TTBR1 uint64

	// SCTLRSet are the SCTLR_EL1 bits to set; other bits are left alone.
	SCTLRSet uint64
}

// RegistersFor returns the register values that translate through pt.
func RegistersFor(pt *pagetables.PageTables) Registers {
	lower, upper := pt.RootPhysical()
	return Registers{
		MAIR:     hostarch.MAIR(),
		TCR:      KernelTCR,
		TTBR0:    uint64(lower),
		TTBR1:    uint64(upper),
		SCTLRSet: SCTLRFlagsSet,
	}
}

// String implements fmt.Stringer.String.
func (r Registers) String() string {
	return fmt.Sprintf("MAIR_EL1=%#x TCR_EL1=%#x TTBR0_EL1=%#x TTBR1_EL1=%#x SCTLR_EL1|=%#x", r.MAIR, r.TCR, r.TTBR0, r.TTBR1, r.SCTLRSet)
}
