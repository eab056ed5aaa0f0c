// Package spinlock
//
// (C) Copyright Alex Gaetano Padula
//
// Licensed under the Mozilla Public License, v. 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.mozilla.org/en-US/MPL/2.0/
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package spinlock implements the per-slot locks the hash index hands
// out, which both the hash index and the skiplist hold for the short
// critical sections around a PMem mutation. Hold times are expected to be a handful of instructions, so
// spinning with a Gosched backoff beats parking a goroutine on a
// sync.Mutex.
package spinlock

import (
	"runtime"
	"sync/atomic"
	"unsafe"
)

// SpinMutex is a non-reentrant mutual exclusion lock built on a CAS loop.
// Its zero value is unlocked.
type SpinMutex struct {
	state atomic.Int32
}

const (
	unlocked int32 = 0
	locked   int32 = 1
)

// Lock blocks until the lock is acquired, backing off with
// runtime.Gosched after every 64 failed CAS attempts to let other
// goroutines make progress instead of burning the CPU in a tight loop.
func (s *SpinMutex) Lock() {
	spins := 0
	for !s.state.CompareAndSwap(unlocked, locked) {
		spins++
		if spins > 64 {
			runtime.Gosched()
			spins = 0
		}
	}
}

// TryLock attempts to acquire the lock without blocking, reporting
// whether it succeeded.
func (s *SpinMutex) TryLock() bool {
	return s.state.CompareAndSwap(unlocked, locked)
}

// Unlock releases the lock. Unlocking an already-unlocked SpinMutex is a
// programmer error and is not guarded against, matching sync.Mutex.
func (s *SpinMutex) Unlock() {
	s.state.Store(unlocked)
}

// Addr returns the lock's identity as a uintptr, used by callers (the
// skiplist's FindAndLockWritePos) that must lock a set of distinct
// SpinMutex instances in a deterministic global order to avoid deadlock.
func (s *SpinMutex) Addr() uintptr {
	return uintptr(unsafe.Pointer(s))
}
