// Package hashindex implements the striped, open-addressed hash index
// mapping a key fingerprint to a PMem (or, for sorted-collection
// headers, DRAM) offset. Concurrent readers never take a lock; writers
// serialize per slot.
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
package hashindex

import (
	"bytes"
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"github.com/Sean58238/kvdk/bloomfilter"
	"github.com/Sean58238/kvdk/dram"
	"github.com/Sean58238/kvdk/log"
	"github.com/Sean58238/kvdk/pmem"
	"github.com/Sean58238/kvdk/spinlock"
	"github.com/Sean58238/kvdk/status"
)

// overflowPtrSize is the trailing 8-byte offset-to-next-bucket field
// following a bucket's HashEntries.
const overflowPtrSize = 8

// Options configures a new HashIndex. NumHashBuckets must be a power of
// two and a multiple of SlotGrain; HashBucketSize must hold at least one
// HashEntry plus the trailing overflow pointer.
type Options struct {
	NumHashBuckets uint64
	HashBucketSize uint32
	SlotGrain      uint32
	WriteThreads   int

	Pmem *pmem.Allocator
	Dram *dram.Allocator

	// UseBloomFilter enables a per-slot negative-lookup filter. Purely a
	// read-path optimization: a false positive still falls through to a
	// real chain walk, so disabling it changes performance, not results.
	UseBloomFilter bool
	// BloomExpectedItems and BloomFalsePositiveRate size each slot's
	// filter; both are required when UseBloomFilter is true.
	BloomExpectedItems     uint
	BloomFalsePositiveRate float64

	// LogChannel, if non-nil, receives diagnostic messages about
	// overflow chain growth. See package log.
	LogChannel chan string
}

// Slot groups slot_grain consecutive buckets under one spin mutex.
// bloomMu is a second, private lock guarding the optional bloom filter
// only; it is not the slot lock readers must never acquire while
// walking the bucket chain — a reader takes it only for the
// microsecond-scale bloom check.
type Slot struct {
	spin    spinlock.SpinMutex
	bloomMu sync.Mutex
	bloom   *bloomfilter.BloomFilter
}

// KeyHashHint is the pure, lock-free result of GetHint: the coordinates
// a caller needs to search or mutate a key's bucket chain.
type KeyHashHint struct {
	Hash   uint64
	Bucket uint64
	Slot   uint64
	Spin   *spinlock.SpinMutex
}

// HashIndex is the striped hash index over fingerprint -> offset.
type HashIndex struct {
	opts             Options
	entriesPerBucket uint32
	numSlots         uint64

	bucketArray []byte // dram-backed, size HashBucketSize * NumHashBuckets

	slots []*Slot

	// entriesPerBucketChain[bucket] tracks the live HashEntry count
	// across the entire overflow chain rooted at bucket.
	entriesPerBucketChain []atomic.Uint64
	// chainLength[bucket] tracks how many buckets currently make up the
	// chain rooted at bucket. entriesPerBucket*chainLength[bucket] is the
	// chain's total entry capacity; Search only appends a new overflow
	// bucket once entriesPerBucketChain[bucket] has reached it.
	chainLength []atomic.Uint32

	log log.Logger
}

// New validates opts and constructs a HashIndex with zeroed bucket
// storage obtained from the DRAM allocator.
func New(opts Options) (*HashIndex, error) {
	if opts.NumHashBuckets == 0 || opts.NumHashBuckets&(opts.NumHashBuckets-1) != 0 {
		return nil, errors.Wrap(status.ErrInvalidArgument, "hashindex: num_hash_buckets must be a power of two")
	}
	if opts.SlotGrain == 0 || opts.NumHashBuckets%uint64(opts.SlotGrain) != 0 {
		return nil, errors.Wrap(status.ErrInvalidArgument, "hashindex: num_hash_buckets must be a multiple of slot_grain")
	}
	if opts.HashBucketSize < overflowPtrSize+hashEntrySize {
		return nil, errors.Wrap(status.ErrInvalidArgument, "hashindex: hash_bucket_size too small for one entry")
	}
	if opts.Pmem == nil || opts.Dram == nil {
		return nil, errors.Wrap(status.ErrInvalidArgument, "hashindex: pmem and dram allocators are required")
	}

	entriesPerBucket := (opts.HashBucketSize - overflowPtrSize) / hashEntrySize
	numSlots := opts.NumHashBuckets / uint64(opts.SlotGrain)

	totalSize := opts.HashBucketSize * uint32(opts.NumHashBuckets)
	block, err := opts.Dram.Allocate(totalSize)
	if err != nil {
		return nil, errors.Wrap(err, "hashindex: allocate bucket array")
	}

	h := &HashIndex{
		opts:                  opts,
		entriesPerBucket:      entriesPerBucket,
		numSlots:              numSlots,
		bucketArray:           opts.Dram.Deref(block),
		slots:                 make([]*Slot, numSlots),
		entriesPerBucketChain: make([]atomic.Uint64, opts.NumHashBuckets),
		chainLength:           make([]atomic.Uint32, opts.NumHashBuckets),
		log:                   log.New(opts.LogChannel),
	}
	for i := range h.entriesPerBucketChain {
		h.chainLength[i].Store(1)
	}
	for i := range h.slots {
		s := &Slot{}
		if opts.UseBloomFilter {
			bf, err := bloomfilter.New(opts.BloomExpectedItems, opts.BloomFalsePositiveRate)
			if err != nil {
				return nil, errors.Wrap(err, "hashindex: construct slot bloom filter")
			}
			s.bloom = bf
		}
		h.slots[i] = s
	}

	return h, nil
}

// GetHint computes the 64-bit hash of key and returns the coordinates
// needed to search or lock its slot. Pure, takes no locks.
func (h *HashIndex) GetHint(key []byte) KeyHashHint {
	hv := xxhash.Sum64(key)
	bucket := hv & (h.opts.NumHashBuckets - 1)
	slot := bucket / uint64(h.opts.SlotGrain)
	return KeyHashHint{Hash: hv, Bucket: bucket, Slot: slot, Spin: &h.slots[slot].spin}
}

func (h *HashIndex) bucketBytes(bucket uint64) []byte {
	off := bucket * uint64(h.opts.HashBucketSize)
	return h.bucketArray[off : off+uint64(h.opts.HashBucketSize)]
}

func (h *HashIndex) entryRegion(bucket []byte, i uint32) []byte {
	base := i * hashEntrySize
	return bucket[base : base+hashEntrySize]
}

func (h *HashIndex) overflowField(bucket []byte) []byte {
	base := h.entriesPerBucket * hashEntrySize
	return bucket[base : base+overflowPtrSize]
}

// SearchResult is the decoded outcome of Search.
type SearchResult struct {
	Entry HashEntry
	// EntryBase, when non-nil, is the exact 16-byte region the entry
	// was read from (Ok) or where a new entry should be published
	// (NotFound, search_for_write == true).
	EntryBase []byte
	Found     bool
}

// Search walks the bucket chain rooted at hint.Bucket looking for a
// live entry matching key under typeMask. When searchForWrite is true
// and no match is found, EntryBase is positioned
// at the first empty slot in the chain, allocating a new overflow
// bucket if the entire chain is full. Callers must hold *hint.Spin when
// searchForWrite is true; readers must not.
func (h *HashIndex) Search(hint KeyHashHint, key []byte, typeMask pmem.EntryType, searchForWrite bool) (SearchResult, error) {
	if !searchForWrite && !h.MayContain(hint, key) {
		return SearchResult{}, nil
	}

	bucket := h.bucketBytes(hint.Bucket)

	for {
		for i := uint32(0); i < h.entriesPerBucket; i++ {
			region := h.entryRegion(bucket, i)
			typ := loadType(region)
			if typ == 0 {
				var base []byte
				if searchForWrite {
					base = region
				}
				return SearchResult{EntryBase: base}, nil
			}

			entry := decodeHashEntry(region)
			if entry.Type&typeMask == 0 {
				continue
			}
			match, err := h.matches(entry, hint.Hash, key)
			if err != nil {
				return SearchResult{}, err
			}
			if match {
				return SearchResult{Entry: entry, EntryBase: region, Found: true}, nil
			}
		}

		overflow := binary.LittleEndian.Uint64(h.overflowField(bucket))
		if overflow == 0 {
			if !searchForWrite {
				return SearchResult{}, nil
			}
			capacity := uint64(h.entriesPerBucket) * uint64(h.chainLength[hint.Bucket].Load())
			if h.entriesPerBucketChain[hint.Bucket].Load() < capacity {
				return SearchResult{}, errors.Wrapf(status.ErrCorruption, "hashindex: reached end of chain for bucket %d before its tracked capacity %d", hint.Bucket, capacity)
			}
			newOff, err := h.opts.Dram.AllocateOffset(h.opts.HashBucketSize)
			if err != nil {
				return SearchResult{}, errors.Wrap(status.ErrMemoryOverflow, "hashindex: allocate overflow bucket")
			}
			binary.LittleEndian.PutUint64(h.overflowField(bucket), newOff)
			length := h.chainLength[hint.Bucket].Add(1)
			h.log.Logf("hashindex: grew overflow chain for bucket %d to %d buckets", hint.Bucket, length)
			nextBucket := h.opts.Dram.OffsetToAddr(newOff)
			return SearchResult{EntryBase: h.entryRegion(nextBucket, 0)}, nil
		}
		bucket = h.opts.Dram.OffsetToAddr(overflow)
	}
}

// matches dereferences entry's referenced record to compare its key
// bytes against key. Sorted-header entries store, at their DRAM
// offset, a 2-byte little-endian name length followed by the name
// bytes — the minimal contract the skiplist package's collection
// headers publish for this comparison.
func (h *HashIndex) matches(entry HashEntry, hash uint64, key []byte) (bool, error) {
	switch entry.Type {
	case pmem.SortedHeaderRecord:
		region := h.opts.Dram.OffsetToAddr(entry.Offset)
		if region == nil || len(region) < 2 {
			return false, nil
		}
		nameLen := binary.LittleEndian.Uint16(region[0:2])
		if int(nameLen)+2 > len(region) {
			return false, nil
		}
		return bytes.Equal(region[2:2+int(nameLen)], key), nil

	case pmem.SortedRecord, pmem.SortedDeleteRecord:
		if entry.KeyPrefix != uint32(hash>>32) {
			return false, nil
		}
		de, err := h.opts.Pmem.ReadDLDataEntry(entry.Offset)
		if err != nil {
			return false, errors.Wrap(err, "hashindex: dereference sorted record")
		}
		return bytes.Equal(de.Key, key), nil

	default:
		if entry.KeyPrefix != uint32(hash>>32) {
			return false, nil
		}
		de, err := h.opts.Pmem.ReadDataEntry(entry.Offset)
		if err != nil {
			return false, errors.Wrap(err, "hashindex: dereference point record")
		}
		return bytes.Equal(de.Key, key), nil
	}
}

// Insert writes a HashEntry of the given type/offset to entryBase,
// publishing it with release ordering. Precondition: hint.Spin is held
// by the caller and entryBase was obtained from a prior
// Search(..., searchForWrite: true) against the same hint. key is used
// only to maintain the slot's optional bloom filter.
func (h *HashIndex) Insert(hint KeyHashHint, entryBase []byte, key []byte, typ pmem.EntryType, offset uint64, isUpdate bool) {
	publishHashEntry(entryBase, HashEntry{
		KeyPrefix: uint32(hint.Hash >> 32),
		Type:      typ,
		Offset:    offset,
	})

	if !isUpdate {
		h.entriesPerBucketChain[hint.Bucket].Add(1)
	}

	slot := h.slots[hint.Slot]
	if slot.bloom != nil {
		slot.bloomMu.Lock()
		_ = slot.bloom.Add(key)
		slot.bloomMu.Unlock()
	}
}

// MayContain consults the slot's bloom filter, if enabled, before a
// caller commits to a full Search. A false result guarantees key is
// absent from the slot; a true result requires the real Search to
// confirm. Always returns true when no filter is configured.
func (h *HashIndex) MayContain(hint KeyHashHint, key []byte) bool {
	slot := h.slots[hint.Slot]
	if slot.bloom == nil {
		return true
	}
	slot.bloomMu.Lock()
	defer slot.bloomMu.Unlock()
	return slot.bloom.Contains(key)
}

// EntriesInChain returns the maintained live-entry count for the chain
// rooted at bucket.
func (h *HashIndex) EntriesInChain(bucket uint64) uint64 {
	return h.entriesPerBucketChain[bucket].Load()
}

// NumSlots returns the number of slots the index was constructed with.
func (h *HashIndex) NumSlots() uint64 { return h.numSlots }
