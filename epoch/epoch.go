// Package epoch
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

// Package epoch gives a minimal, concrete shape to the deferred
// reclamation the skiplist assumes: a node unlinked by DeleteDataEntry
// is still reachable by a reader that started its traversal before the
// unlink was published, so it cannot be freed synchronously. Retire
// defers the free until every reader pinned at an older epoch has
// exited, at which point Advance actually reclaims it.
package epoch

import (
	"sync"
	"sync/atomic"

	"github.com/Sean58238/kvdk/queue"
)

const numBuckets = 3

// retired pairs a value with the epoch it was retired in, so Advance
// knows which bucket to drain.
type retired struct {
	epoch uint64
	value interface{}
	free  func(interface{})
}

// Reclaimer tracks a monotonic global epoch and the set of goroutines
// currently pinned to it. Values handed to Retire are freed once no
// pinned guard could still observe them.
type Reclaimer struct {
	global  atomic.Uint64
	guards  sync.Map // *Guard -> struct{}
	buckets [numBuckets]*queue.Queue
}

// New creates a Reclaimer starting at epoch 0.
func New() *Reclaimer {
	r := &Reclaimer{}
	for i := range r.buckets {
		r.buckets[i] = queue.New()
	}
	return r
}

// Guard represents one goroutine's participation in epoch tracking.
// Acquire with Pin, release with Unpin; never hold a Guard across a
// blocking call, or reclamation stalls behind it indefinitely.
type Guard struct {
	r     *Reclaimer
	epoch uint64
}

// Pin marks the calling goroutine as observing the current global
// epoch, preventing Advance from reclaiming anything retired at or
// after this point until Unpin is called.
func (r *Reclaimer) Pin() *Guard {
	g := &Guard{r: r, epoch: r.global.Load()}
	r.guards.Store(g, struct{}{})
	return g
}

// Unpin releases the guard, allowing Advance to proceed past its epoch.
func (g *Guard) Unpin() {
	g.r.guards.Delete(g)
}

// Epoch returns the epoch this guard is pinned to.
func (g *Guard) Epoch() uint64 { return g.epoch }

// Retire schedules free(value) to run once no pinned guard can still
// observe the current epoch. Typical callers pass the skiplist node
// (or DLDataEntry offset) just unlinked, and a free func that returns
// its storage to the owning allocator.
func (r *Reclaimer) Retire(value interface{}, free func(interface{})) {
	e := r.global.Load()
	r.buckets[e%numBuckets].Enqueue(retired{epoch: e, value: value, free: free})
}

// Advance attempts to move the global epoch forward and reclaims
// anything retired two epochs behind the new one, the standard
// three-epoch grace period: readers pinned at epoch e-1 may still be
// running when e-0 is retired into, but cannot still be running once
// e-2 rolls off, since every guard re-pins on every new traversal.
// Advance is safe to call from any goroutine, including periodically
// from a background goroutine the caller owns.
func (r *Reclaimer) Advance() {
	cur := r.global.Load()

	minPinned := cur
	r.guards.Range(func(k, _ interface{}) bool {
		g := k.(*Guard)
		if g.epoch < minPinned {
			minPinned = g.epoch
		}
		return true
	})

	if minPinned < cur {
		// A guard is still pinned to an older epoch; do not advance or
		// reclaim yet.
		return
	}

	next := cur + 1
	if !r.global.CompareAndSwap(cur, next) {
		return
	}

	if next < numBuckets-1 {
		return // not enough epochs have elapsed to safely drain anything yet
	}
	drainEpoch := next - (numBuckets - 1)
	bucket := r.buckets[drainEpoch%numBuckets]
	for {
		v := bucket.Dequeue()
		if v == nil {
			return
		}
		rt := v.(retired)
		if rt.epoch > drainEpoch {
			// Retired after the epoch we're draining; not old enough yet,
			// put it back for a later pass.
			bucket.Enqueue(rt)
			return
		}
		rt.free(rt.value)
	}
}

// PendingCount returns the approximate number of values awaiting
// reclamation, useful for tests and diagnostics.
func (r *Reclaimer) PendingCount() int64 {
	var n int64
	for _, b := range r.buckets {
		n += b.Size()
	}
	return n
}
