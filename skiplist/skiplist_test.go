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
	"fmt"
	"os"
	"testing"

	"github.com/Sean58238/kvdk/dram"
	"github.com/Sean58238/kvdk/epoch"
	"github.com/Sean58238/kvdk/hashindex"
	"github.com/Sean58238/kvdk/pmem"
)

const testCollectionID = 1

func newTestSkiplist(t *testing.T) (*Skiplist, *pmem.Allocator, *hashindex.HashIndex) {
	t.Helper()
	path := fmt.Sprintf("%s/kvdk-skiplist-%d.pmem", t.TempDir(), os.Getpid())
	pm, err := pmem.Open(pmem.Options{Path: path, Capacity: 8 << 20})
	if err != nil {
		t.Fatalf("pmem.Open: %v", err)
	}
	t.Cleanup(func() { pm.Close() })

	dr := dram.New(dram.Options{WriteThreads: 4, ArenaSize: 1 << 20})
	hi, err := hashindex.New(hashindex.Options{
		NumHashBuckets: 64,
		HashBucketSize: 256,
		SlotGrain:      1,
		WriteThreads:   4,
		Pmem:           pm,
		Dram:           dr,
	})
	if err != nil {
		t.Fatalf("hashindex.New: %v", err)
	}
	rec := epoch.New()

	sl, err := New("orders", testCollectionID, pm, hi, dr, rec, 1, nil)
	if err != nil {
		t.Fatalf("skiplist.New: %v", err)
	}
	return sl, pm, hi
}

func put(t *testing.T, sl *Skiplist, pm *pmem.Allocator, hi *hashindex.HashIndex, userKey, value []byte) *Node {
	t.Helper()
	key := EncodeKey(testCollectionID, userKey)
	hint := hi.GetHint(key)

	splice := &Splice{}
	locks, ok, err := sl.FindAndLockWritePos(splice, key, hint)
	if err != nil {
		t.Fatalf("FindAndLockWritePos: %v", err)
	}
	if !ok {
		t.Fatalf("FindAndLockWritePos: never converged")
	}
	defer unlockAll(locks)

	offset, err := pm.WriteDLDataEntry(&pmem.DLDataEntry{
		DataEntry: pmem.DataEntry{Type: pmem.SortedRecord, Key: key, Value: value},
		Prev:      splice.PrevDataEntry,
		Next:      splice.NextDataEntry,
	})
	if err != nil {
		t.Fatalf("WriteDLDataEntry: %v", err)
	}

	node, err := sl.InsertDataEntry(splice, offset, key)
	if err != nil {
		t.Fatalf("InsertDataEntry: %v", err)
	}

	res, err := hi.Search(hint, key, pmem.SortedRecord|pmem.SortedDeleteRecord, true)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	hi.Insert(hint, res.EntryBase, key, pmem.SortedRecord, offset, res.Found)
	return node
}

func del(t *testing.T, sl *Skiplist, pm *pmem.Allocator, hi *hashindex.HashIndex, userKey []byte) {
	t.Helper()
	key := EncodeKey(testCollectionID, userKey)
	hint := hi.GetHint(key)

	res, err := hi.Search(hint, key, pmem.SortedRecord, false)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !res.Found {
		t.Fatalf("del: key %q not found", userKey)
	}

	splice := &Splice{}
	locks, ok, err := sl.FindAndLockWritePos(splice, key, hint)
	if err != nil {
		t.Fatalf("FindAndLockWritePos: %v", err)
	}
	if !ok {
		t.Fatalf("FindAndLockWritePos: never converged")
	}
	defer unlockAll(locks)

	n := sl.Header().Next(1)
	for n != nil {
		nk, err := n.Key(pm)
		if err != nil {
			t.Fatalf("Key: %v", err)
		}
		if string(nk) == string(key) {
			break
		}
		n = n.Next(1)
	}
	if n == nil {
		t.Fatalf("del: node for %q not found in skiplist", userKey)
	}

	if err := sl.DeleteDataEntry(splice, n); err != nil {
		t.Fatalf("DeleteDataEntry: %v", err)
	}
}

func collect(t *testing.T, sl *Skiplist, pm *pmem.Allocator) []string {
	t.Helper()
	var got []string
	n := sl.Header().Next(1)
	for n != nil {
		k, err := n.Key(pm)
		if err != nil {
			t.Fatalf("Key: %v", err)
		}
		got = append(got, string(UserKey(k)))
		n = n.Next(1)
	}
	return got
}

func TestInsertOrdersByKey(t *testing.T) {
	sl, pm, hi := newTestSkiplist(t)
	for _, k := range []string{"banana", "apple", "cherry"} {
		put(t, sl, pm, hi, []byte(k), []byte("v"))
	}

	got := collect(t, sl, pm)
	want := []string{"apple", "banana", "cherry"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if sl.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", sl.Count())
	}
}

func TestDeleteRemovesFromDRAMLevelOne(t *testing.T) {
	sl, pm, hi := newTestSkiplist(t)
	put(t, sl, pm, hi, []byte("a"), []byte("1"))
	put(t, sl, pm, hi, []byte("b"), []byte("2"))
	put(t, sl, pm, hi, []byte("c"), []byte("3"))

	del(t, sl, pm, hi, []byte("b"))

	got := collect(t, sl, pm)
	want := []string{"a", "c"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
	if sl.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", sl.Count())
	}
}

func TestDeleteTombstonesPMemRecordInPlace(t *testing.T) {
	sl, pm, hi := newTestSkiplist(t)
	put(t, sl, pm, hi, []byte("x"), []byte("1"))

	res, err := hi.Search(hi.GetHint(EncodeKey(testCollectionID, []byte("x"))), EncodeKey(testCollectionID, []byte("x")), pmem.SortedRecord, false)
	if err != nil || !res.Found {
		t.Fatalf("Search before delete: found=%v err=%v", res.Found, err)
	}
	offset := res.Entry.Offset

	del(t, sl, pm, hi, []byte("x"))

	de, err := pm.ReadDLDataEntry(offset)
	if err != nil {
		t.Fatalf("ReadDLDataEntry: %v", err)
	}
	if !de.Type.IsSortedDelete() {
		t.Fatalf("record at offset %d not tombstoned: type=%v", offset, de.Type)
	}
}

func TestDeleteThenHashIndexSearchNotFound(t *testing.T) {
	sl, pm, hi := newTestSkiplist(t)
	put(t, sl, pm, hi, []byte("x"), []byte("1"))

	key := EncodeKey(testCollectionID, []byte("x"))
	hint := hi.GetHint(key)

	res, err := hi.Search(hint, key, pmem.SortedRecord, false)
	if err != nil || !res.Found {
		t.Fatalf("Search before delete: found=%v err=%v", res.Found, err)
	}

	del(t, sl, pm, hi, []byte("x"))

	res, err = hi.Search(hint, key, pmem.SortedRecord, false)
	if err != nil {
		t.Fatalf("Search after delete: %v", err)
	}
	if res.Found {
		t.Fatalf("Search after delete: got Found=true, want NotFound")
	}
}

func TestSeekFindsBoundariesAroundMissingKey(t *testing.T) {
	sl, pm, hi := newTestSkiplist(t)
	put(t, sl, pm, hi, []byte("a"), []byte("1"))
	put(t, sl, pm, hi, []byte("c"), []byte("3"))

	splice := &Splice{}
	if err := sl.Seek(EncodeKey(testCollectionID, []byte("b")), splice); err != nil {
		t.Fatalf("Seek: %v", err)
	}

	prevDE, err := pm.ReadDLDataEntry(splice.PrevDataEntry)
	if err != nil {
		t.Fatalf("ReadDLDataEntry prev: %v", err)
	}
	if string(UserKey(prevDE.Key)) != "a" {
		t.Fatalf("prev = %q, want a", UserKey(prevDE.Key))
	}

	nextDE, err := pm.ReadDLDataEntry(splice.NextDataEntry)
	if err != nil {
		t.Fatalf("ReadDLDataEntry next: %v", err)
	}
	if string(UserKey(nextDE.Key)) != "c" {
		t.Fatalf("next = %q, want c", UserKey(nextDE.Key))
	}
}

func TestRebuildReconstructsFromPMem(t *testing.T) {
	sl, pm, hi := newTestSkiplist(t)
	put(t, sl, pm, hi, []byte("a"), []byte("1"))
	put(t, sl, pm, hi, []byte("b"), []byte("2"))
	put(t, sl, pm, hi, []byte("c"), []byte("3"))
	del(t, sl, pm, hi, []byte("b"))

	preShutdown := iterateAll(t, sl)

	fresh, err := New("orders-rebuilt", testCollectionID+1, pm, hi, dram.New(dram.Options{WriteThreads: 1, ArenaSize: 1 << 16}), epoch.New(), 2, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Point fresh's walk at the same PMem chain as sl, but with its own
	// unlinked header node — sl.Header() is still spliced at every level
	// from the put/del calls above, and reusing it would let Rebuild
	// splice new nodes on top of the already-live ones.
	fresh.headerOffset = sl.HeaderOffset()
	fresh.header = newNode(kMaxHeight, sl.HeaderOffset(), nil)

	if err := fresh.Rebuild(); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if fresh.Count() != 2 {
		t.Fatalf("Count() after rebuild = %d, want 2", fresh.Count())
	}

	postRebuild := iterateAll(t, fresh)
	if len(postRebuild) != len(preShutdown) {
		t.Fatalf("post-rebuild iterator output = %v, want %v", postRebuild, preShutdown)
	}
	for i := range preShutdown {
		if postRebuild[i] != preShutdown[i] {
			t.Fatalf("post-rebuild iterator output = %v, want %v", postRebuild, preShutdown)
		}
	}
}

// iterateAll drains an Iterator over sl into a slice of user keys, for
// comparing pre-shutdown and post-rebuild iteration output.
func iterateAll(t *testing.T, sl *Skiplist) []string {
	t.Helper()
	it := NewIterator(sl)
	if err := it.SeekToFirst(); err != nil {
		t.Fatalf("SeekToFirst: %v", err)
	}
	var got []string
	for it.Valid() {
		k, err := it.Key()
		if err != nil {
			t.Fatalf("Key: %v", err)
		}
		got = append(got, string(k))
		if err := it.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	return got
}
