// Package dram
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

// Package dram is the volatile counterpart to pmem: it hands out
// zero-filled byte blocks for structures that never need to survive a
// restart on their own (hash buckets, overflow buckets). Allocation is
// sharded across a fixed number of arenas so concurrent writer threads
// rarely contend on the same underlying slice.
package dram

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/Sean58238/kvdk/stack"
	"github.com/Sean58238/kvdk/status"
)

const defaultArenaSize = 4 << 20 // 4 MiB per shard, grown on demand

// Options configures a new Allocator.
type Options struct {
	// WriteThreads is the number of independent arenas to shard across,
	// matching the hash index construction parameter of the same name.
	WriteThreads int
	// ArenaSize is the initial size, in bytes, of each shard. Zero uses
	// defaultArenaSize.
	ArenaSize int
}

type arena struct {
	mu        sync.Mutex
	blocks    [][]byte
	frontier  int
	freeLists map[uint32]*stack.Stack
}

func newArena(size int) *arena {
	if size <= 0 {
		size = defaultArenaSize
	}
	return &arena{
		blocks:    [][]byte{make([]byte, size)},
		freeLists: make(map[uint32]*stack.Stack),
	}
}

// blockRef addresses a byte region inside an arena: which underlying
// []byte block, and the offset within it.
type blockRef struct {
	block  int
	offset int
}

func (a *arena) allocate(size uint32) (blockRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if fl, ok := a.freeLists[size]; ok {
		if v := fl.Pop(); v != nil {
			ref := v.(blockRef)
			region := a.region(ref, size)
			for i := range region {
				region[i] = 0
			}
			return ref, nil
		}
	}

	cur := a.blocks[len(a.blocks)-1]
	if a.frontier+int(size) > len(cur) {
		next := len(cur)
		if int(size) > next {
			next = int(size)
		}
		a.blocks = append(a.blocks, make([]byte, next))
		a.frontier = 0
	}
	ref := blockRef{block: len(a.blocks) - 1, offset: a.frontier}
	a.frontier += int(size)
	return ref, nil
}

func (a *arena) free(ref blockRef, size uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fl, ok := a.freeLists[size]
	if !ok {
		fl = stack.New()
		a.freeLists[size] = fl
	}
	fl.Push(ref)
}

func (a *arena) region(ref blockRef, size uint32) []byte {
	return a.blocks[ref.block][ref.offset : ref.offset+int(size)]
}

// Allocator hands out volatile byte blocks sharded across WriteThreads
// arenas. Block is the opaque handle returned by Allocate; callers pass
// it back to Deref/Free exactly as received.
type Allocator struct {
	arenas []*arena
	next   uint64
	mu     sync.Mutex

	offsetSeq atomic.Uint64
	offsets   sync.Map // uint64 -> Block
}

// Block is an opaque volatile allocation handle.
type Block struct {
	shard int
	ref   blockRef
	size  uint32
}

// New builds an Allocator with opts.WriteThreads independent shards (at
// least 1).
func New(opts Options) *Allocator {
	n := opts.WriteThreads
	if n < 1 {
		n = 1
	}
	a := &Allocator{arenas: make([]*arena, n)}
	for i := range a.arenas {
		a.arenas[i] = newArena(opts.ArenaSize)
	}
	return a
}

// Allocate returns a zero-filled Block of size bytes from a round-robin
// shard. A block reused from a free list is zeroed explicitly; a fresh
// block is carved from arena memory that has never been handed out.
func (a *Allocator) Allocate(size uint32) (Block, error) {
	if size == 0 {
		return Block{}, errors.Wrap(status.ErrInvalidArgument, "dram: zero-size allocation")
	}
	a.mu.Lock()
	shard := int(a.next % uint64(len(a.arenas)))
	a.next++
	a.mu.Unlock()

	ref, err := a.arenas[shard].allocate(size)
	if err != nil {
		return Block{}, err
	}
	return Block{shard: shard, ref: ref, size: size}, nil
}

// Deref returns the live byte slice a Block addresses.
func (a *Allocator) Deref(b Block) []byte {
	return a.arenas[b.shard].region(b.ref, b.size)
}

// Free returns b to its shard's free list for reuse.
func (a *Allocator) Free(b Block) {
	a.arenas[b.shard].free(b.ref, b.size)
}

// Shards returns the number of independent arenas backing a.
func (a *Allocator) Shards() int { return len(a.arenas) }

// AllocateOffset is the offset-addressed counterpart to Allocate,
// matching the hash index's collaborator contract: allocate(size) ->
// {offset}, offset2addr(offset) -> ptr. The offset is an opaque handle
// assigned by this allocator, not a literal pointer value, so callers
// never see raw addresses.
func (a *Allocator) AllocateOffset(size uint32) (uint64, error) {
	b, err := a.Allocate(size)
	if err != nil {
		return 0, err
	}
	off := a.offsetSeq.Add(1)
	a.offsets.Store(off, b)
	return off, nil
}

// OffsetToAddr dereferences an offset returned by AllocateOffset.
func (a *Allocator) OffsetToAddr(offset uint64) []byte {
	v, ok := a.offsets.Load(offset)
	if !ok {
		return nil
	}
	b := v.(Block)
	return a.Deref(b)
}

// FreeOffset returns the block at offset to its shard's free list and
// forgets the offset mapping.
func (a *Allocator) FreeOffset(offset uint64) {
	v, ok := a.offsets.Load(offset)
	if !ok {
		return
	}
	a.Free(v.(Block))
	a.offsets.Delete(offset)
}
