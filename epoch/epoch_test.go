package epoch

import "testing"

func TestRetireEventuallyFreed(t *testing.T) {
	r := New()
	freed := false

	g := r.Pin()
	r.Retire("node-a", func(interface{}) { freed = true })
	g.Unpin()

	for i := 0; i < 8; i++ {
		r.Advance()
	}

	if !freed {
		t.Fatal("expected retired value to be freed after enough Advance calls")
	}
}

func TestPinnedGuardBlocksReclaim(t *testing.T) {
	r := New()
	freed := false

	g := r.Pin() // never unpinned
	r.Retire("node-a", func(interface{}) { freed = true })

	for i := 0; i < 8; i++ {
		r.Advance()
	}

	if freed {
		t.Fatal("expected retired value to stay alive while a guard is pinned at its epoch")
	}

	g.Unpin()
	for i := 0; i < 8; i++ {
		r.Advance()
	}
	if !freed {
		t.Fatal("expected retired value to be freed after guard unpins")
	}
}

func TestPendingCount(t *testing.T) {
	r := New()
	g := r.Pin()
	r.Retire(1, func(interface{}) {})
	r.Retire(2, func(interface{}) {})
	if got := r.PendingCount(); got != 2 {
		t.Fatalf("PendingCount = %d, want 2", got)
	}
	g.Unpin()
}
