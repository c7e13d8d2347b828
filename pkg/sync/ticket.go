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

package sync

import (
	"runtime"
	"sync/atomic"
)

// TicketLock is a FIFO spin lock. Each Lock takes the next ticket and waits
// until that ticket is served, so waiters acquire the lock in arrival order
// and none starves.
//
// Go atomics are sequentially consistent: everything written before Unlock
// is visible to the next holder after its Lock returns.
//
// The zero value is an unlocked TicketLock.
type TicketLock struct {
	next    atomic.Uint32
	serving atomic.Uint32
}

// Lock locks l, spinning until it is this caller's turn.
func (l *TicketLock) Lock() {
	ticket := l.next.Add(1) - 1
	for l.serving.Load() != ticket {
		runtime.Gosched()
	}
}

// Unlock unlocks l, passing it to the next waiter. Unlocking an unlocked
// TicketLock corrupts the ticket order.
func (l *TicketLock) Unlock() {
	l.serving.Add(1)
}

// Waiters returns the number of tickets issued but not yet served, including
// the current holder's. It is racy and meant for diagnostics.
func (l *TicketLock) Waiters() uint32 {
	return l.next.Load() - l.serving.Load()
}

var _ Locker = (*TicketLock)(nil)
