// Package skiplist
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

// Package skiplist implements the concurrent multi-level skiplist that
// orders one named collection's records, whose canonical form is a
// doubly linked list of DLDataEntry on PMem. A Node's next pointers are
// a variable-length, atomically accessed array laid out header-first so
// that freeing a node needs no raw address recovery from a trailing
// array.
package skiplist

import (
	"sync/atomic"
	"unsafe"

	"github.com/Sean58238/kvdk/pmem"
)

// kMaxHeight bounds the number of levels any Node may occupy.
const kMaxHeight = 16

// kCacheLevel is the minimum height at which a node always caches its
// key inline, avoiding a PMem dereference on every comparison a tall
// node takes part in during descent.
const kCacheLevel = 3

// kInlineKeyBudget is the largest key a node caches inline even below
// kCacheLevel, since copying a short key is cheaper than the PMem
// round trip it would otherwise cost on every comparison. Safe to
// change without affecting correctness, only the cache/no-cache split
// on the hot path.
const kInlineKeyBudget = 4

// Node is one entry in the skiplist: a PMem offset to its canonical
// DLDataEntry, its height, an optional cached copy of its key, and a
// level-indexed array of atomically accessed next pointers.
type Node struct {
	dataEntry uint64
	height    uint16
	cachedKey []byte // nil if not cached; fetched from PMem on demand
	next      []unsafe.Pointer
}

// newNode allocates a Node of the given height pointing at dataEntry,
// deciding whether to cache key inline per maybeCacheKey.
func newNode(height uint16, dataEntry uint64, key []byte) *Node {
	return &Node{
		dataEntry: dataEntry,
		height:    height,
		cachedKey: maybeCacheKey(height, key),
		next:      make([]unsafe.Pointer, height),
	}
}

func maybeCacheKey(height uint16, key []byte) []byte {
	if key == nil {
		return nil
	}
	if height >= kCacheLevel || len(key) <= kInlineKeyBudget {
		cp := make([]byte, len(key))
		copy(cp, key)
		return cp
	}
	return nil
}

// DataEntryOffset returns the PMem offset of the node's DLDataEntry.
func (n *Node) DataEntryOffset() uint64 { return n.dataEntry }

// Height returns the number of valid next slots; next(l) for l>Height
// must never be addressed.
func (n *Node) Height() uint16 { return n.height }

// Key returns the node's full skiplist key (collection_id_be64 ||
// user_key), using the inline cache when present and otherwise
// dereferencing the PMem DLDataEntry.
func (n *Node) Key(pm *pmem.Allocator) ([]byte, error) {
	if n.cachedKey != nil {
		return n.cachedKey, nil
	}
	de, err := pm.ReadDLDataEntry(n.dataEntry)
	if err != nil {
		return nil, err
	}
	return de.Key, nil
}

// Next returns the node's successor at level l (1-indexed), with
// acquire ordering.
func (n *Node) Next(l uint16) *Node {
	return (*Node)(atomic.LoadPointer(&n.next[l-1]))
}

// SetNext publishes v as the node's successor at level l, with release
// ordering.
func (n *Node) SetNext(l uint16, v *Node) {
	atomic.StorePointer(&n.next[l-1], unsafe.Pointer(v))
}
