// Package pmem
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

// Package pmem stands in for the byte-addressable persistent memory
// allocator that the hash index and skiplist point into. It is an
// external collaborator per the indexing core's contract: callers obtain
// offsets from Allocate, dereference them with OffsetToAddr, and persist
// mutations with Persist before publishing an offset through the hash
// index or the skiplist.
package pmem

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"
)

// EntryType tags what a DataEntry/DLDataEntry on PMem represents. Values
// are single bits rather than a sequential enum so a hash index Search
// can be given a type mask and test membership with `entry.Type&mask != 0`.
type EntryType uint16

const (
	// StringRecord is a point record addressed only by the hash index.
	StringRecord EntryType = 1 << iota
	// StringDeleteRecord is a tombstone for a point record.
	StringDeleteRecord
	// SortedRecord is a live record in a named collection's doubly linked list.
	SortedRecord
	// SortedDeleteRecord is a tombstone in a named collection's doubly linked list.
	SortedDeleteRecord
	// SortedHeaderRecord is the synthetic head-of-list record a Skiplist's
	// header node points at; it carries no user key/value.
	SortedHeaderRecord
)

// IsSortedDelete reports whether t marks a tombstone in a sorted collection.
func (t EntryType) IsSortedDelete() bool { return t == SortedDeleteRecord }

// Slice is an immutable view over bytes. Ordering is lexicographic
// unsigned-byte compare.
type Slice struct {
	Ptr []byte
}

// Compare returns -1, 0 or 1 the way bytes.Compare does.
func (s Slice) Compare(other Slice) int {
	return bytes.Compare(s.Ptr, other.Ptr)
}

func (s Slice) String() string { return string(s.Ptr) }

// dataEntryHeaderSize is the fixed-size header shared by DataEntry and
// DLDataEntry: CRC32(4) + Type(2) + KeySize(2) + ValueSize(4) = 12 bytes.
const dataEntryHeaderSize = 12

// dlLinksSize is the two trailing uint64 PMem offsets (Prev, Next) that
// extend a DataEntry into a DLDataEntry.
const dlLinksSize = 16

// DataEntry is the on-PMem representation of a point record: fixed
// header, inline key, inline value.
type DataEntry struct {
	CRC       uint32
	Type      EntryType
	KeySize   uint16
	ValueSize uint32
	Key       []byte
	Value     []byte
}

// DLDataEntry additionally carries Prev/Next PMem offsets, forming the
// doubly linked list a Skiplist orders.
type DLDataEntry struct {
	DataEntry
	Prev uint64
	Next uint64
}

// EncodedSize returns the number of bytes Encode will produce.
func (e *DataEntry) EncodedSize() int {
	return dataEntryHeaderSize + len(e.Key) + len(e.Value)
}

// Encode serializes e into a freshly allocated byte slice, little-endian,
// matching the fixed-header-plus-inline-payload layout.
func (e *DataEntry) Encode() []byte {
	buf := make([]byte, e.EncodedSize())
	e.encodeInto(buf)
	return buf
}

func (e *DataEntry) encodeInto(buf []byte) {
	binary.LittleEndian.PutUint16(buf[4:6], uint16(e.Type))
	binary.LittleEndian.PutUint16(buf[6:8], uint16(len(e.Key)))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(e.Value)))
	copy(buf[dataEntryHeaderSize:], e.Key)
	copy(buf[dataEntryHeaderSize+len(e.Key):], e.Value)
	crc := crc32.ChecksumIEEE(buf[4:])
	binary.LittleEndian.PutUint32(buf[0:4], crc)
}

// DecodeDataEntry reads a DataEntry out of buf, verifying its CRC.
func DecodeDataEntry(buf []byte) (*DataEntry, error) {
	if len(buf) < dataEntryHeaderSize {
		return nil, errors.New("pmem: buffer too small for data entry header")
	}
	e := &DataEntry{
		CRC:       binary.LittleEndian.Uint32(buf[0:4]),
		Type:      EntryType(binary.LittleEndian.Uint16(buf[4:6])),
		KeySize:   binary.LittleEndian.Uint16(buf[6:8]),
		ValueSize: binary.LittleEndian.Uint32(buf[8:12]),
	}
	end := dataEntryHeaderSize + int(e.KeySize) + int(e.ValueSize)
	if end > len(buf) {
		return nil, errors.New("pmem: buffer too small for data entry payload")
	}
	if got := crc32.ChecksumIEEE(buf[4:end]); got != e.CRC {
		return nil, errors.Errorf("pmem: data entry CRC mismatch: got %x want %x", got, e.CRC)
	}
	e.Key = buf[dataEntryHeaderSize : dataEntryHeaderSize+int(e.KeySize)]
	e.Value = buf[dataEntryHeaderSize+int(e.KeySize) : end]
	return e, nil
}

// EncodedSize returns the number of bytes Encode will produce.
func (e *DLDataEntry) EncodedSize() int {
	return e.DataEntry.EncodedSize() + dlLinksSize
}

// Encode serializes e, including the Prev/Next links, little-endian.
func (e *DLDataEntry) Encode() []byte {
	buf := make([]byte, e.EncodedSize())
	e.DataEntry.encodeInto(buf[:e.DataEntry.EncodedSize()])
	linkOff := e.DataEntry.EncodedSize()
	binary.LittleEndian.PutUint64(buf[linkOff:linkOff+8], e.Prev)
	binary.LittleEndian.PutUint64(buf[linkOff+8:linkOff+16], e.Next)
	// CRC covers the whole record, including the links, for DL entries.
	crc := crc32.ChecksumIEEE(buf[4:])
	binary.LittleEndian.PutUint32(buf[0:4], crc)
	return buf
}

// DecodeDLDataEntry reads a DLDataEntry out of buf, verifying its CRC
// over the header, key, value and links together.
func DecodeDLDataEntry(buf []byte) (*DLDataEntry, error) {
	if len(buf) < dataEntryHeaderSize {
		return nil, errors.New("pmem: buffer too small for dl data entry header")
	}
	keySize := binary.LittleEndian.Uint16(buf[6:8])
	valueSize := binary.LittleEndian.Uint32(buf[8:12])
	end := dataEntryHeaderSize + int(keySize) + int(valueSize) + dlLinksSize
	if end > len(buf) {
		return nil, errors.New("pmem: buffer too small for dl data entry payload")
	}
	crc := binary.LittleEndian.Uint32(buf[0:4])
	if got := crc32.ChecksumIEEE(buf[4:end]); got != crc {
		return nil, errors.Errorf("pmem: dl data entry CRC mismatch: got %x want %x", got, crc)
	}
	linkOff := dataEntryHeaderSize + int(keySize) + int(valueSize)
	e := &DLDataEntry{
		DataEntry: DataEntry{
			CRC:       crc,
			Type:      EntryType(binary.LittleEndian.Uint16(buf[4:6])),
			KeySize:   keySize,
			ValueSize: valueSize,
			Key:       buf[dataEntryHeaderSize : dataEntryHeaderSize+int(keySize)],
			Value:     buf[dataEntryHeaderSize+int(keySize) : linkOff],
		},
		Prev: binary.LittleEndian.Uint64(buf[linkOff : linkOff+8]),
		Next: binary.LittleEndian.Uint64(buf[linkOff+8 : linkOff+16]),
	}
	return e, nil
}
