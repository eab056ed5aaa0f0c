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

import "testing"

func TestIteratorForwardSkipsTombstones(t *testing.T) {
	sl, pm, hi := newTestSkiplist(t)
	put(t, sl, pm, hi, []byte("a"), []byte("1"))
	put(t, sl, pm, hi, []byte("b"), []byte("2"))
	put(t, sl, pm, hi, []byte("c"), []byte("3"))
	del(t, sl, pm, hi, []byte("b"))

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

	want := []string{"a", "c"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestIteratorSeekLandsOnFirstKeyGreaterOrEqual(t *testing.T) {
	sl, pm, hi := newTestSkiplist(t)
	put(t, sl, pm, hi, []byte("a"), []byte("1"))
	put(t, sl, pm, hi, []byte("c"), []byte("3"))

	it := NewIterator(sl)
	if err := it.Seek([]byte("b")); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if !it.Valid() {
		t.Fatal("expected iterator to be valid after Seek(b)")
	}
	k, err := it.Key()
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	if string(k) != "c" {
		t.Fatalf("Key() = %q, want c", k)
	}
}

func TestIteratorPrevReversesOrderAndStopsAtHeader(t *testing.T) {
	sl, pm, hi := newTestSkiplist(t)
	put(t, sl, pm, hi, []byte("a"), []byte("1"))
	put(t, sl, pm, hi, []byte("b"), []byte("2"))

	it := NewIterator(sl)
	if err := it.Seek([]byte("b")); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if !it.Valid() {
		t.Fatal("expected valid iterator at b")
	}

	if err := it.Prev(); err != nil {
		t.Fatalf("Prev: %v", err)
	}
	if !it.Valid() {
		t.Fatal("expected valid iterator at a")
	}
	k, err := it.Key()
	if err != nil {
		t.Fatalf("Key: %v", err)
	}
	if string(k) != "a" {
		t.Fatalf("Key() = %q, want a", k)
	}

	if err := it.Prev(); err != nil {
		t.Fatalf("Prev: %v", err)
	}
	if it.Valid() {
		t.Fatal("expected iterator to become invalid stepping before the first record")
	}
}

func TestIteratorMonotonicAcrossConcurrentDelete(t *testing.T) {
	sl, pm, hi := newTestSkiplist(t)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		put(t, sl, pm, hi, []byte(k), []byte("v"))
	}

	it := NewIterator(sl)
	if err := it.SeekToFirst(); err != nil {
		t.Fatalf("SeekToFirst: %v", err)
	}

	var prev string
	for it.Valid() {
		k, err := it.Key()
		if err != nil {
			t.Fatalf("Key: %v", err)
		}
		if prev != "" && string(k) <= prev {
			t.Fatalf("iterator not monotonic: %q after %q", k, prev)
		}
		prev = string(k)
		if string(k) == "b" {
			del(t, sl, pm, hi, []byte("d"))
		}
		if err := it.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	if prev != "e" {
		t.Fatalf("iterator ended at %q, want e", prev)
	}
}
