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
package skiplist

// Splice is per-operation DRAM scratch recording, for every level, the
// node immediately before and after a target key, plus the adjacent
// PMem records those boundary nodes actually point at.
type Splice struct {
	prevs [kMaxHeight]*Node
	nexts [kMaxHeight]*Node

	// PrevDataEntry/NextDataEntry are PMem offsets, not DRAM node
	// pointers. PrevDataEntry is the record of prevs[0]; NextDataEntry
	// is read off PMem from that record's Next link rather than derived
	// from nexts[0], because the linked list may have tombstones between
	// two skiplist nodes (a delete detaches the DRAM node immediately
	// but leaves the PMem tombstone in place).
	PrevDataEntry uint64
	NextDataEntry uint64
}

// Prev returns the recorded predecessor at level l (1-indexed).
func (s *Splice) Prev(l uint16) *Node { return s.prevs[l-1] }

// Next returns the recorded successor at level l (1-indexed).
func (s *Splice) Next(l uint16) *Node { return s.nexts[l-1] }

func (s *Splice) setPrev(l uint16, n *Node) { s.prevs[l-1] = n }
func (s *Splice) setNext(l uint16, n *Node) { s.nexts[l-1] = n }
