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
	"github.com/pkg/errors"

	"github.com/Sean58238/kvdk/pmem"
)

// Iterator walks one collection's records in key order, skipping
// tombstones, directly over the PMem doubly linked list rather than
// the DRAM skiplist — so it reflects deletes the instant they are
// tombstoned on PMem regardless of when any DRAM node is retired.
type Iterator struct {
	sl  *Skiplist
	cur uint64 // PMem offset of the current record; 0 if exhausted
}

// NewIterator returns an iterator over sl, initially invalid. Call
// SeekToFirst or Seek before using it.
func NewIterator(sl *Skiplist) *Iterator {
	return &Iterator{sl: sl}
}

// Valid reports whether the iterator is positioned on a live record.
func (it *Iterator) Valid() bool { return it.cur != 0 }

// SeekToFirst positions the iterator at the first live record.
func (it *Iterator) SeekToFirst() error {
	de, err := it.sl.pmem.ReadDLDataEntry(it.sl.headerOffset)
	if err != nil {
		return errors.Wrap(err, "skiplist: iterator seek to first")
	}
	return it.advanceTo(de.Next, true)
}

// Seek positions the iterator at the first live record whose key is
// greater than or equal to userKey.
func (it *Iterator) Seek(userKey []byte) error {
	splice := &Splice{}
	if err := it.sl.Seek(EncodeKey(it.sl.ID, userKey), splice); err != nil {
		return errors.Wrap(err, "skiplist: iterator seek")
	}
	return it.advanceTo(splice.NextDataEntry, true)
}

// Next advances the iterator to the next live record.
func (it *Iterator) Next() error {
	if !it.Valid() {
		return errors.New("skiplist: Next called on invalid iterator")
	}
	de, err := it.sl.pmem.ReadDLDataEntry(it.cur)
	if err != nil {
		return errors.Wrap(err, "skiplist: iterator next")
	}
	return it.advanceTo(de.Next, true)
}

// Prev retreats the iterator to the previous live record.
func (it *Iterator) Prev() error {
	if !it.Valid() {
		return errors.New("skiplist: Prev called on invalid iterator")
	}
	de, err := it.sl.pmem.ReadDLDataEntry(it.cur)
	if err != nil {
		return errors.Wrap(err, "skiplist: iterator prev")
	}
	return it.advanceTo(de.Prev, false)
}

// advanceTo walks from offset in the given direction until it lands on
// a live record (neither a tombstone nor the list's own header
// sentinel) or runs off the end.
func (it *Iterator) advanceTo(offset uint64, forward bool) error {
	for offset != 0 {
		de, err := it.sl.pmem.ReadDLDataEntry(offset)
		if err != nil {
			return errors.Wrap(err, "skiplist: iterator advance")
		}
		if de.Type.IsSortedDelete() || de.Type == pmem.SortedHeaderRecord {
			if forward {
				offset = de.Next
			} else {
				offset = de.Prev
			}
			continue
		}
		it.cur = offset
		return nil
	}
	it.cur = 0
	return nil
}

// Key returns the current record's user key (the collection-id prefix
// stripped off). Valid must be true.
func (it *Iterator) Key() ([]byte, error) {
	de, err := it.sl.pmem.ReadDLDataEntry(it.cur)
	if err != nil {
		return nil, errors.Wrap(err, "skiplist: iterator key")
	}
	return UserKey(de.Key), nil
}

// Value returns the current record's value. Valid must be true.
func (it *Iterator) Value() ([]byte, error) {
	de, err := it.sl.pmem.ReadDLDataEntry(it.cur)
	if err != nil {
		return nil, errors.Wrap(err, "skiplist: iterator value")
	}
	return de.Value, nil
}
