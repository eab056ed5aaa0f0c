package dram

import "testing"

func TestAllocateZeroFilled(t *testing.T) {
	a := New(Options{WriteThreads: 4})
	b, err := a.Allocate(128)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	for i, v := range a.Deref(b) {
		if v != 0 {
			t.Fatalf("byte %d not zeroed", i)
		}
	}
}

func TestFreeAndReuseWithinShard(t *testing.T) {
	a := New(Options{WriteThreads: 1})
	b1, err := a.Allocate(64)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	a.Free(b1)
	b2, err := a.Allocate(64)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if b1.ref != b2.ref {
		t.Fatalf("expected reuse of freed block")
	}
}

func TestShardsRoundRobin(t *testing.T) {
	a := New(Options{WriteThreads: 3})
	seen := make(map[int]bool)
	for i := 0; i < 6; i++ {
		b, err := a.Allocate(16)
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		seen[b.shard] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected all 3 shards to be used, saw %d", len(seen))
	}
}

func TestAllocateOffsetRoundTrip(t *testing.T) {
	a := New(Options{WriteThreads: 2})
	off, err := a.AllocateOffset(24)
	if err != nil {
		t.Fatalf("AllocateOffset: %v", err)
	}
	addr := a.OffsetToAddr(off)
	if len(addr) != 24 {
		t.Fatalf("len(addr) = %d, want 24", len(addr))
	}
	copy(addr, []byte("0123456789abcdefghijklmn"))
	if string(a.OffsetToAddr(off)) != "0123456789abcdefghijklmn" {
		t.Fatal("mutation through OffsetToAddr not visible on second dereference")
	}
}

func TestFreeOffsetForgetsMapping(t *testing.T) {
	a := New(Options{WriteThreads: 1})
	off, err := a.AllocateOffset(16)
	if err != nil {
		t.Fatalf("AllocateOffset: %v", err)
	}
	a.FreeOffset(off)
	if got := a.OffsetToAddr(off); got != nil {
		t.Fatalf("expected nil after FreeOffset, got %v", got)
	}
}

func TestWriteThenDerefReflectsMutation(t *testing.T) {
	a := New(Options{WriteThreads: 1})
	b, err := a.Allocate(8)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	region := a.Deref(b)
	copy(region, []byte("abcdefgh"))
	if string(a.Deref(b)) != "abcdefgh" {
		t.Fatalf("mutation not visible through Deref")
	}
}
