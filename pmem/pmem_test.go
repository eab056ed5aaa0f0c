package pmem

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestAllocator(t *testing.T) (*Allocator, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "arena.pmem")
	a, err := Open(Options{Path: path, Capacity: 1 << 20, SyncOption: SyncNone})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return a, path
}

func TestAllocateZeroFilled(t *testing.T) {
	a, _ := newTestAllocator(t)
	defer a.Close()

	off, err := a.Allocate(64)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	region := a.OffsetToAddr(off, 64)
	for i, b := range region {
		if b != 0 {
			t.Fatalf("byte %d not zeroed: %x", i, b)
		}
	}
}

func TestWriteAndReadBack(t *testing.T) {
	a, _ := newTestAllocator(t)
	defer a.Close()

	off, err := a.Allocate(32)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	payload := []byte("hello persistent memory")
	if err := a.Write(off, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got := a.OffsetToAddr(off, uint32(len(payload)))
	if string(got) != string(payload) {
		t.Fatalf("got %q want %q", got, payload)
	}
}

func TestFreeAndReuse(t *testing.T) {
	a, _ := newTestAllocator(t)
	defer a.Close()

	off1, err := a.Allocate(32)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	a.Free(off1, 32)

	off2, err := a.Allocate(32)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if off1 != off2 {
		t.Fatalf("expected reuse of freed offset, got %d then %d", off1, off2)
	}
}

func TestAddrToOffsetRoundTrip(t *testing.T) {
	a, _ := newTestAllocator(t)
	defer a.Close()

	off, err := a.Allocate(16)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	addr := a.OffsetToAddr(off, 16)
	if got := a.AddrToOffset(addr); got != off {
		t.Fatalf("AddrToOffset = %d, want %d", got, off)
	}
}

func TestOverflowReturnsMemoryOverflow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "small.pmem")
	a, err := Open(Options{Path: path, Capacity: 32, SyncOption: SyncNone})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	if _, err := a.Allocate(4096); err == nil {
		t.Fatal("expected memory overflow error")
	}
}

func TestReopenValidatesHeader(t *testing.T) {
	a, path := newTestAllocator(t)
	off, err := a.Allocate(16)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := a.Write(off, []byte("durable-value!!!")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(Options{Path: path, Capacity: 1 << 20, SyncOption: SyncNone})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got := reopened.OffsetToAddr(off, 16)
	if string(got) != "durable-value!!!" {
		t.Fatalf("got %q after reopen", got)
	}
}

func TestCorruptHeaderRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "corrupt.pmem")
	if err := os.WriteFile(path, make([]byte, 100), 0644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	if _, err := Open(Options{Path: path, Capacity: 1 << 20, SyncOption: SyncNone}); err == nil {
		t.Fatal("expected corruption error on zeroed header")
	}
}
