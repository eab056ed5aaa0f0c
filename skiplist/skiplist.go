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

import (
	"bytes"
	"encoding/binary"
	"sort"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/Sean58238/kvdk/dram"
	"github.com/Sean58238/kvdk/epoch"
	"github.com/Sean58238/kvdk/hashindex"
	"github.com/Sean58238/kvdk/log"
	"github.com/Sean58238/kvdk/pmem"
	"github.com/Sean58238/kvdk/spinlock"
	"github.com/Sean58238/kvdk/status"
)

// maxLockAttempts bounds FindAndLockWritePos's retry loop against a
// raced insert/delete at the same boundary.
const maxLockAttempts = 8

// Skiplist orders one named collection's records. Every level of
// header initially points to nil.
type Skiplist struct {
	Name string
	ID   uint64

	header       *Node
	headerOffset uint64

	pmem      *pmem.Allocator
	hashIndex *hashindex.HashIndex
	dram      *dram.Allocator
	reclaimer *epoch.Reclaimer
	heights   *heightSource

	count atomic.Int64
	log   log.Logger
}

// New creates a collection named name with id, publishing its header
// both on PMem (the list sentinel) and in the shared hash index, so a
// later Search(name) resolves back to this collection. logCh, if
// non-nil, receives diagnostic messages about the collection's
// lifecycle; see package log.
func New(name string, id uint64, pm *pmem.Allocator, hashIdx *hashindex.HashIndex, dr *dram.Allocator, reclaimer *epoch.Reclaimer, seed int64, logCh chan string) (*Skiplist, error) {
	headerKey := EncodeKey(id, nil)
	headerOffset, err := pm.WriteDLDataEntry(&pmem.DLDataEntry{
		DataEntry: pmem.DataEntry{Type: pmem.SortedHeaderRecord, Key: headerKey},
	})
	if err != nil {
		return nil, errors.Wrap(err, "skiplist: write header record")
	}

	sl := &Skiplist{
		Name:         name,
		ID:           id,
		header:       newNode(kMaxHeight, headerOffset, nil),
		headerOffset: headerOffset,
		pmem:         pm,
		hashIndex:    hashIdx,
		dram:         dr,
		reclaimer:    reclaimer,
		heights:      newHeightSource(seed),
		log:          log.New(logCh),
	}

	if err := sl.publishHeaderEntry(); err != nil {
		return nil, err
	}
	sl.log.Logf("skiplist: opened collection %q (id=%d) at header offset %d", name, id, headerOffset)
	return sl, nil
}

// publishHeaderEntry registers the collection's name in the shared hash
// index as a SortedHeaderRecord, pointing at a DRAM region holding a
// 2-byte length-prefixed copy of the name.
func (sl *Skiplist) publishHeaderEntry() error {
	name := []byte(sl.Name)
	hint := sl.hashIndex.GetHint(name)
	hint.Spin.Lock()
	defer hint.Spin.Unlock()

	res, err := sl.hashIndex.Search(hint, name, pmem.SortedHeaderRecord, true)
	if err != nil {
		return errors.Wrap(err, "skiplist: search collection header slot")
	}
	if res.Found {
		return errors.Wrapf(status.ErrInvalidArgument, "skiplist: collection %q already registered", sl.Name)
	}

	off, err := sl.dram.AllocateOffset(uint32(2 + len(name)))
	if err != nil {
		return errors.Wrap(err, "skiplist: allocate collection name record")
	}
	buf := sl.dram.OffsetToAddr(off)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(name)))
	copy(buf[2:], name)

	sl.hashIndex.Insert(hint, res.EntryBase, name, pmem.SortedHeaderRecord, off, false)
	return nil
}

// Header returns the collection's sentinel node.
func (sl *Skiplist) Header() *Node { return sl.header }

// HeaderOffset returns the PMem offset of the sentinel DLDataEntry.
func (sl *Skiplist) HeaderOffset() uint64 { return sl.headerOffset }

// Count returns the number of live, non-tombstone nodes currently
// linked into the skiplist.
func (sl *Skiplist) Count() int64 { return sl.count.Load() }

// Seek performs the top-down search, populating splice with the
// prev/next node at every level and the adjacent PMem offsets that
// border key. At each level the walking cursor is splice.Prev(level)
// itself, mutated in place exactly as the search descends.
func (sl *Skiplist) Seek(key []byte, splice *Splice) error {
	splice.setPrev(kMaxHeight, sl.header)

	for l := kMaxHeight; l >= 1; l-- {
		level := uint16(l)
		for {
			cur := splice.Prev(level)
			n := cur.Next(level)
			if n == nil {
				splice.setNext(level, nil)
				if l > 1 {
					splice.setPrev(uint16(l-1), cur)
				}
				break
			}
			nk, err := n.Key(sl.pmem)
			if err != nil {
				return errors.Wrap(err, "skiplist: seek read node key")
			}
			if bytes.Compare(nk, key) < 0 { // n.Key() < key: keep walking this level
				splice.setPrev(level, n)
				continue
			}
			// n.Key() >= key: n is this level's successor; descend from cur,
			// so every recorded prev stays strictly before key.
			splice.setNext(level, n)
			if l > 1 {
				splice.setPrev(uint16(l-1), cur)
			}
			break
		}
	}

	prevNode := splice.Prev(1)
	splice.PrevDataEntry = prevNode.DataEntryOffset()
	prevDE, err := sl.pmem.ReadDLDataEntry(splice.PrevDataEntry)
	if err != nil {
		return errors.Wrap(err, "skiplist: seek dereference prev data entry")
	}
	splice.NextDataEntry = prevDE.Next
	return nil
}

// collectLocks gathers the distinct slot mutexes protecting splice's
// boundary records plus hint's own slot, sorted by address ascending
// to avoid lock-order deadlock against a concurrent writer elsewhere
// in the collection.
func (sl *Skiplist) collectLocks(splice *Splice, hint hashindex.KeyHashHint) ([]*spinlock.SpinMutex, error) {
	byAddr := make(map[uintptr]*spinlock.SpinMutex, 3)
	byAddr[hint.Spin.Addr()] = hint.Spin

	if prevNode := splice.Prev(1); prevNode != sl.header {
		pk, err := prevNode.Key(sl.pmem)
		if err != nil {
			return nil, errors.Wrap(err, "skiplist: read prev node key for locking")
		}
		spin := sl.hashIndex.GetHint(pk).Spin
		byAddr[spin.Addr()] = spin
	}
	if splice.NextDataEntry != 0 {
		nde, err := sl.pmem.ReadDLDataEntry(splice.NextDataEntry)
		if err != nil {
			return nil, errors.Wrap(err, "skiplist: read next data entry for locking")
		}
		spin := sl.hashIndex.GetHint(nde.Key).Spin
		byAddr[spin.Addr()] = spin
	}

	locks := make([]*spinlock.SpinMutex, 0, len(byAddr))
	for _, s := range byAddr {
		locks = append(locks, s)
	}
	sort.Slice(locks, func(i, j int) bool { return locks[i].Addr() < locks[j].Addr() })
	return locks, nil
}

// verifySplice re-checks, after locking, that nothing raced ahead of
// Seek: both the DRAM level-1 pointer and the PMem adjacency must
// still match what was recorded.
func (sl *Skiplist) verifySplice(splice *Splice) (bool, error) {
	if splice.Prev(1).Next(1) != splice.Next(1) {
		return false, nil
	}
	prevDE, err := sl.pmem.ReadDLDataEntry(splice.PrevDataEntry)
	if err != nil {
		return false, errors.Wrap(err, "skiplist: verify splice dereference")
	}
	return prevDE.Next == splice.NextDataEntry, nil
}

func unlockAll(locks []*spinlock.SpinMutex) {
	for _, l := range locks {
		l.Unlock()
	}
}

// FindAndLockWritePos recomputes splice via Seek, locks every distinct
// slot mutex that could be invalidated by the write, and re-verifies
// consistency after locking, retrying on a race. The caller must
// Unlock the returned lock set once the write — InsertDataEntry or
// DeleteDataEntry, plus the matching hash index update — completes.
// A false ok with a nil error means every attempt raced; the caller
// should surface this as a transient failure rather than loop forever.
func (sl *Skiplist) FindAndLockWritePos(splice *Splice, key []byte, hint hashindex.KeyHashHint) ([]*spinlock.SpinMutex, bool, error) {
	for attempt := 0; attempt < maxLockAttempts; attempt++ {
		if err := sl.Seek(key, splice); err != nil {
			return nil, false, err
		}
		locks, err := sl.collectLocks(splice, hint)
		if err != nil {
			return nil, false, err
		}
		for _, l := range locks {
			l.Lock()
		}
		ok, err := sl.verifySplice(splice)
		if err != nil {
			unlockAll(locks)
			return nil, false, err
		}
		if ok {
			return locks, true, nil
		}
		unlockAll(locks)
	}
	return nil, false, nil
}

// InsertDataEntry splices a newly persisted DLDataEntry into both the
// PMem linked list and the DRAM skiplist. entryOffset must already
// name a persisted DLDataEntry whose Prev/Next equal
// splice.PrevDataEntry/NextDataEntry. FindAndLockWritePos's lock set
// must be held across this call.
func (sl *Skiplist) InsertDataEntry(splice *Splice, entryOffset uint64, key []byte) (*Node, error) {
	prevDE, err := sl.pmem.ReadDLDataEntry(splice.PrevDataEntry)
	if err != nil {
		return nil, errors.Wrap(err, "skiplist: insert read prev entry")
	}
	prevDE.Next = entryOffset
	if err := sl.pmem.Write(splice.PrevDataEntry, prevDE.Encode()); err != nil {
		return nil, errors.Wrap(err, "skiplist: insert persist prev link")
	}

	if splice.NextDataEntry != 0 {
		nextDE, err := sl.pmem.ReadDLDataEntry(splice.NextDataEntry)
		if err != nil {
			return nil, errors.Wrap(err, "skiplist: insert read next entry")
		}
		nextDE.Prev = entryOffset
		if err := sl.pmem.Write(splice.NextDataEntry, nextDE.Encode()); err != nil {
			return nil, errors.Wrap(err, "skiplist: insert persist next link")
		}
	}

	height := sl.heights.randomHeight()
	node := newNode(height, entryOffset, key)
	for l := uint16(1); l <= height; l++ {
		node.SetNext(l, splice.Next(l))
		splice.Prev(l).SetNext(l, node)
	}
	sl.count.Add(1)
	return node, nil
}

// DeleteDataEntry marks node's PMem record a tombstone and unlinks the
// DRAM node top-down, then hands it to the epoch reclaimer. The record
// is tombstoned rather than physically unlinked from the PMem list: the
// ordered iterator already has to skip tombstones on every traversal,
// so splicing pointers here buys nothing and would complicate Rebuild's
// back-pointer walk. FindAndLockWritePos's lock set must be held
// across this call. The shared hash index's entry is republished as
// SortedDeleteRecord in the same call, mirroring the point-record
// delete path, so a Search for SortedRecord no longer finds it.
func (sl *Skiplist) DeleteDataEntry(splice *Splice, node *Node) error {
	de, err := sl.pmem.ReadDLDataEntry(node.DataEntryOffset())
	if err != nil {
		return errors.Wrap(err, "skiplist: delete read entry")
	}
	de.Type = pmem.SortedDeleteRecord
	if err := sl.pmem.Write(node.DataEntryOffset(), de.Encode()); err != nil {
		return errors.Wrap(err, "skiplist: delete persist tombstone")
	}

	hint := sl.hashIndex.GetHint(de.Key)
	res, err := sl.hashIndex.Search(hint, de.Key, pmem.SortedRecord, true)
	if err != nil {
		return errors.Wrap(err, "skiplist: delete locate hash entry")
	}
	sl.hashIndex.Insert(hint, res.EntryBase, de.Key, pmem.SortedDeleteRecord, node.DataEntryOffset(), res.Found)

	for l := node.Height(); ; l-- {
		splice.Prev(l).SetNext(l, node.Next(l))
		if l == 1 {
			break
		}
	}

	sl.reclaimer.Retire(node, func(interface{}) {})
	sl.count.Add(-1)
	return nil
}

// Rebuild reconstructs the skiplist from PMem by walking the header's
// linked list once, serially, after the hash index has already been
// repopulated by a separate PMem scan. Tombstones are walked (to keep
// the chain intact) but never given a DRAM node.
func (sl *Skiplist) Rebuild() error {
	cur := sl.headerOffset
	for {
		curDE, err := sl.pmem.ReadDLDataEntry(cur)
		if err != nil {
			return errors.Wrapf(status.ErrCorruption, "skiplist: rebuild read offset %d: %v", cur, err)
		}
		next := curDE.Next
		if next == 0 {
			sl.log.Logf("skiplist: rebuilt collection %q with %d live records", sl.Name, sl.count.Load())
			return nil
		}
		nextDE, err := sl.pmem.ReadDLDataEntry(next)
		if err != nil {
			return errors.Wrapf(status.ErrCorruption, "skiplist: rebuild read offset %d: %v", next, err)
		}
		if nextDE.Prev != cur {
			return errors.Wrapf(status.ErrCorruption, "skiplist: back-pointer mismatch at offset %d", next)
		}

		if !nextDE.Type.IsSortedDelete() {
			splice := &Splice{}
			if err := sl.Seek(nextDE.Key, splice); err != nil {
				return err
			}
			height := sl.heights.randomHeight()
			node := newNode(height, next, nextDE.Key)
			for l := uint16(1); l <= height; l++ {
				node.SetNext(l, splice.Next(l))
				splice.Prev(l).SetNext(l, node)
			}
			sl.count.Add(1)
		}

		cur = next
	}
}
