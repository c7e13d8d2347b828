// Copyright 2020 The gVisor Authors.
// Copyright 2026 The Mars Authors.
//
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file or at
// https://developers.google.com/open-source/licenses/bsd.

// Package sync provides the locks used by packages in this module: aliases
// of the standard library's for host code, and TicketLock for structures
// that are shared with code running before the scheduler exists.
package sync

import (
	"sync"
)

// Aliases of standard library types.
type (
	// Mutex is an alias of sync.Mutex.
	Mutex = sync.Mutex

	// Locker is an alias of sync.Locker.
	Locker = sync.Locker
)
