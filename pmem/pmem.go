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
package pmem

import (
	"encoding/binary"
	"hash/crc32"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Sean58238/kvdk/log"
	"github.com/Sean58238/kvdk/stack"
	"github.com/Sean58238/kvdk/status"
)

const (
	magicNumber   uint32 = 0x4b56444b // "KVDK"
	layoutVersion uint16 = 1
	headerSize           = 4 + 4 + 2 + 8 + 8 // CRC, Magic, Version, Capacity, Frontier
)

// SyncOption controls how aggressively Allocator persists writes to the
// backing file.
type SyncOption int

const (
	// SyncNone never calls fdatasync on its own; callers drive Persist.
	SyncNone SyncOption = iota
	// SyncFull fdatasyncs after every Persist call.
	SyncFull
	// SyncPartial fdatasyncs on a background interval.
	SyncPartial
)

// Options configures a new or reopened Allocator.
type Options struct {
	Path         string
	Capacity     uint64
	SyncOption   SyncOption
	SyncInterval time.Duration
	// LogChannel, if non-nil, receives diagnostic messages about arena
	// lifecycle events (create, reopen, exhaustion). Corruption is
	// reported only through the returned error. See package log.
	LogChannel chan string
}

// sizeClasses buckets a requested allocation size into one of a small
// fixed set of classes, so a handful of stack-backed free lists serve
// most allocations without walking external fragmentation.
var sizeClasses = []uint32{32, 64, 128, 256, 512, 1024, 4096, 16384, 65536}

func classFor(size uint32) uint32 {
	for _, c := range sizeClasses {
		if size <= c {
			return c
		}
	}
	return size
}

// Allocator hands out byte-offset regions of a CRC-checked, file-backed
// byte arena: the PMem collaborator the hash index and skiplist address
// into. It keeps an in-process mirror of the whole arena so readers never
// make a syscall on the hot path; writes go through the mirror and are
// durably persisted on demand via Persist.
type Allocator struct {
	mu sync.RWMutex

	file *os.File
	fd   uintptr

	data []byte // in-process mirror of the full arena, len == capacity

	capacity uint64
	frontier uint64 // next never-allocated offset

	freeLists map[uint32]*stack.Stack // size class -> free offsets

	syncOption   SyncOption
	syncInterval time.Duration
	closeCh      chan struct{}
	wg           sync.WaitGroup

	log log.Logger
}

// Open creates or reopens the arena at opts.Path. A fresh file is
// zero-filled up to opts.Capacity; a reopened file has its header
// validated and its mirror reloaded via pread.
func Open(opts Options) (*Allocator, error) {
	if opts.Capacity == 0 {
		return nil, errors.Wrap(status.ErrInvalidArgument, "pmem: capacity must be > 0")
	}

	flags := os.O_RDWR | os.O_CREATE
	fd, err := openFile(opts.Path, flags, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "pmem: open backing file")
	}
	f := newFileFromFd(fd, opts.Path)

	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "pmem: stat backing file")
	}

	a := &Allocator{
		file:         f,
		fd:           fd,
		capacity:     opts.Capacity,
		freeLists:    make(map[uint32]*stack.Stack),
		syncOption:   opts.SyncOption,
		syncInterval: opts.SyncInterval,
		closeCh:      make(chan struct{}),
		log:          log.New(opts.LogChannel),
	}
	for _, c := range sizeClasses {
		a.freeLists[c] = stack.New()
	}

	total := int64(headerSize) + int64(opts.Capacity)
	if info.Size() == 0 {
		a.data = make([]byte, opts.Capacity)
		a.frontier = 0
		if err := a.writeHeader(); err != nil {
			return nil, err
		}
		if err := f.Truncate(total); err != nil {
			return nil, errors.Wrap(err, "pmem: truncate backing file")
		}
		a.log.Logf("pmem: created fresh arena at %s, capacity %d", opts.Path, opts.Capacity)
	} else {
		if err := a.readHeader(); err != nil {
			return nil, err
		}
		a.data = make([]byte, opts.Capacity)
		n, err := pread(a.fd, a.data, headerSize, a.file)
		if err != nil {
			return nil, errors.Wrap(err, "pmem: read arena body")
		}
		if uint64(n) < a.frontier {
			return nil, errors.Wrap(status.ErrCorruption, "pmem: truncated arena body")
		}
		a.log.Logf("pmem: reopened arena at %s, frontier %d/%d", opts.Path, a.frontier, a.capacity)
	}

	if a.syncOption == SyncPartial {
		if a.syncInterval <= 0 {
			a.syncInterval = time.Second
		}
		a.wg.Add(1)
		go a.backgroundSync()
	}

	return a, nil
}

func (a *Allocator) backgroundSync() {
	defer a.wg.Done()
	t := time.NewTicker(a.syncInterval)
	defer t.Stop()
	for {
		select {
		case <-a.closeCh:
			return
		case <-t.C:
			_ = fdatasync(a.fd)
		}
	}
}

func (a *Allocator) writeHeader() error {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[4:8], magicNumber)
	binary.LittleEndian.PutUint16(buf[8:10], layoutVersion)
	binary.LittleEndian.PutUint64(buf[10:18], a.capacity)
	binary.LittleEndian.PutUint64(buf[18:26], a.frontier)
	crc := crc32.ChecksumIEEE(buf[4:])
	binary.LittleEndian.PutUint32(buf[0:4], crc)
	_, err := pwrite(a.fd, buf, 0, a.file)
	return errors.Wrap(err, "pmem: write header")
}

func (a *Allocator) readHeader() error {
	buf := make([]byte, headerSize)
	n, err := pread(a.fd, buf, 0, a.file)
	if err != nil {
		return errors.Wrap(err, "pmem: read header")
	}
	if n < headerSize {
		return errors.Wrap(status.ErrCorruption, "pmem: short header read")
	}
	crc := binary.LittleEndian.Uint32(buf[0:4])
	if got := crc32.ChecksumIEEE(buf[4:]); got != crc {
		return errors.Wrap(status.ErrCorruption, "pmem: header CRC mismatch")
	}
	magic := binary.LittleEndian.Uint32(buf[4:8])
	if magic != magicNumber {
		return errors.Wrap(status.ErrCorruption, "pmem: bad magic number")
	}
	a.capacity = binary.LittleEndian.Uint64(buf[10:18])
	a.frontier = binary.LittleEndian.Uint64(buf[18:26])
	return nil
}

// Allocate reserves a zero-filled region of at least size bytes and
// returns its offset. It first tries the matching size class's free
// list (populated by Free) before advancing the frontier. The region
// is explicitly memset to zero here rather than relying on any
// allocator-returns-zeroed-pages assumption.
func (a *Allocator) Allocate(size uint32) (uint64, error) {
	class := classFor(size)

	a.mu.Lock()
	fl, ok := a.freeLists[class]
	if !ok {
		fl = stack.New()
		a.freeLists[class] = fl
	}
	a.mu.Unlock()

	if v := fl.Pop(); v != nil {
		off := v.(uint64)
		a.zero(off, class)
		return off, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.frontier+uint64(class) > a.capacity {
		a.log.Logf("pmem: arena exhausted requesting class %d, frontier %d/%d", class, a.frontier, a.capacity)
		return 0, errors.Wrap(status.ErrMemoryOverflow, "pmem: arena exhausted")
	}
	off := a.frontier
	a.frontier += uint64(class)
	a.zero(off, class)
	return off, nil
}

func (a *Allocator) zero(offset uint64, size uint32) {
	for i := uint64(0); i < uint64(size); i++ {
		a.data[offset+i] = 0
	}
}

// Free returns offset, allocated for size, to the matching size class's
// free list for reuse. It does not zero the region; the next Allocate
// call does.
func (a *Allocator) Free(offset uint64, size uint32) {
	class := classFor(size)

	a.mu.Lock()
	fl, ok := a.freeLists[class]
	if !ok {
		fl = stack.New()
		a.freeLists[class] = fl
	}
	a.mu.Unlock()

	fl.Push(offset)
}

// OffsetToAddr returns a byte slice view of the len bytes starting at
// offset, backed directly by the in-process mirror.
func (a *Allocator) OffsetToAddr(offset uint64, length uint32) []byte {
	return a.data[offset : offset+uint64(length)]
}

// AddrToOffset recovers the offset a slice returned by OffsetToAddr was
// taken from, by pointer arithmetic against the mirror's base address.
func (a *Allocator) AddrToOffset(b []byte) uint64 {
	if len(b) == 0 {
		return uint64(len(a.data))
	}
	return uint64(sliceOffset(a.data, b))
}

// Persist writes the len bytes at offset back to the backing file and,
// under SyncFull, fdatasyncs immediately. Call this after mutating
// through a slice obtained from OffsetToAddr and before publishing its
// offset through the hash index or skiplist.
func (a *Allocator) Persist(offset uint64, length uint32) error {
	region := a.data[offset : offset+uint64(length)]
	if _, err := pwrite(a.fd, region, int64(headerSize+offset), a.file); err != nil {
		return errors.Wrap(err, "pmem: persist region")
	}
	if a.syncOption == SyncFull {
		return fdatasync(a.fd)
	}
	return nil
}

// Write is a convenience wrapper that copies data into the arena at
// offset and persists it in one call.
func (a *Allocator) Write(offset uint64, data []byte) error {
	copy(a.data[offset:], data)
	return a.Persist(offset, uint32(len(data)))
}

// Close stops the background sync goroutine (if any) and closes the
// backing file.
func (a *Allocator) Close() error {
	select {
	case <-a.closeCh:
	default:
		close(a.closeCh)
	}
	a.wg.Wait()
	if err := a.writeHeader(); err != nil {
		return err
	}
	return a.file.Close()
}

// Capacity returns the total arena size in bytes.
func (a *Allocator) Capacity() uint64 { return a.capacity }

// Frontier returns the offset of the next never-allocated byte.
func (a *Allocator) Frontier() uint64 { return a.frontier }

// ReadDataEntry decodes the DataEntry stored at offset. It reads the
// fixed header first to recover the key/value lengths, then re-reads
// the full record, since the allocator itself tracks no per-allocation
// size metadata for point records.
func (a *Allocator) ReadDataEntry(offset uint64) (*DataEntry, error) {
	head := a.OffsetToAddr(offset, dataEntryHeaderSize)
	keySize := binary.LittleEndian.Uint16(head[6:8])
	valueSize := binary.LittleEndian.Uint32(head[8:12])
	full := a.OffsetToAddr(offset, uint32(dataEntryHeaderSize)+uint32(keySize)+valueSize)
	return DecodeDataEntry(full)
}

// ReadDLDataEntry decodes the DLDataEntry stored at offset, the same
// two-pass way ReadDataEntry does, additionally covering the trailing
// Prev/Next links.
func (a *Allocator) ReadDLDataEntry(offset uint64) (*DLDataEntry, error) {
	head := a.OffsetToAddr(offset, dataEntryHeaderSize)
	keySize := binary.LittleEndian.Uint16(head[6:8])
	valueSize := binary.LittleEndian.Uint32(head[8:12])
	full := a.OffsetToAddr(offset, uint32(dataEntryHeaderSize)+uint32(keySize)+valueSize+dlLinksSize)
	return DecodeDLDataEntry(full)
}

// WriteDataEntry encodes e and persists it at a freshly allocated
// offset, returning that offset. This is the usual way callers create a
// new point record: allocate-sized-to-fit is handled internally.
func (a *Allocator) WriteDataEntry(e *DataEntry) (uint64, error) {
	buf := e.Encode()
	off, err := a.Allocate(uint32(len(buf)))
	if err != nil {
		return 0, err
	}
	if err := a.Write(off, buf); err != nil {
		return 0, err
	}
	return off, nil
}

// WriteDLDataEntry encodes e and persists it at a freshly allocated
// offset, returning that offset.
func (a *Allocator) WriteDLDataEntry(e *DLDataEntry) (uint64, error) {
	buf := e.Encode()
	off, err := a.Allocate(uint32(len(buf)))
	if err != nil {
		return 0, err
	}
	if err := a.Write(off, buf); err != nil {
		return 0, err
	}
	return off, nil
}
