// Package hashindex
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
	"encoding/binary"
	"sync/atomic"
	"unsafe"

	"github.com/Sean58238/kvdk/pmem"
)

// hashEntrySize is the on-DRAM size of a packed HashEntry: KeyPrefix(4)
// + Type(2) + Reserved(2) + Offset(8).
const hashEntrySize = 16

// HashEntry is the decoded, in-Go-memory view of a 16-byte packed
// bucket slot.
type HashEntry struct {
	KeyPrefix uint32
	Type      pmem.EntryType
	Reserved  uint16
	Offset    uint64
}

// IsEmpty reports whether entry represents an unused slot.
func (e HashEntry) IsEmpty() bool { return e.Type == 0 }

// loadType does an acquire load of the type field of a packed 16-byte
// entry region, the signal a reader uses to decide whether the rest of
// the region is safe to interpret.
func loadType(region []byte) pmem.EntryType {
	// sync/atomic has no 16-bit load; the Type field shares a 4-byte-aligned
	// word with Reserved (bytes [4:8)), so load that word atomically and
	// extract the low 16 bits (little-endian, matching decodeHashEntry).
	p := (*uint32)(unsafe.Pointer(&region[4]))
	return pmem.EntryType(uint16(atomic.LoadUint32(p)))
}

// decodeHashEntry reads all fields of a packed entry region. Callers
// must have already observed a non-zero loadType on this region so the
// KeyPrefix/Offset writes that happened-before that release store are
// guaranteed visible.
func decodeHashEntry(region []byte) HashEntry {
	return HashEntry{
		KeyPrefix: binary.LittleEndian.Uint32(region[0:4]),
		Type:      pmem.EntryType(binary.LittleEndian.Uint16(region[4:6])),
		Reserved:  binary.LittleEndian.Uint16(region[6:8]),
		Offset:    binary.LittleEndian.Uint64(region[8:16]),
	}
}

// publishHashEntry writes KeyPrefix and Offset first, then publishes
// the entry with a release store of Type (together with Reserved) last. A reader that
// observes the new Type via loadType is guaranteed, by the Go memory
// model's rules for sync/atomic, to see the KeyPrefix/Offset writes
// that preceded it. Precondition: caller holds the slot's spin mutex.
func publishHashEntry(region []byte, e HashEntry) {
	binary.LittleEndian.PutUint32(region[0:4], e.KeyPrefix)
	binary.LittleEndian.PutUint64(region[8:16], e.Offset)
	// Publish Type and Reserved together as a single 4-byte-aligned word
	// (sync/atomic has no 16-bit store); Type is the low 16 bits, matching
	// the little-endian layout read back by decodeHashEntry.
	p := (*uint32)(unsafe.Pointer(&region[4]))
	word := uint32(uint16(e.Type)) | uint32(e.Reserved)<<16
	atomic.StoreUint32(p, word)
}
