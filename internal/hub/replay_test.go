package hub

import (
	"fmt"
	"testing"
)

func TestReplayRingEvictsOldestFirst(t *testing.T) {
	r := newReplayRing(3)

	for i := 0; i < 5; i++ {
		r.add([]byte(fmt.Sprintf("frame-%d", i)))
	}

	if r.len() != 3 {
		t.Fatalf("Expected ring length 3, got %d", r.len())
	}

	got := r.snapshot()
	want := []string{"frame-2", "frame-3", "frame-4"}
	for i := range want {
		if string(got[i]) != want[i] {
			t.Errorf("snapshot[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestReplayRingSnapshotIsCopy(t *testing.T) {
	r := newReplayRing(2)
	r.add([]byte("a"))

	snap := r.snapshot()
	r.add([]byte("b"))
	r.add([]byte("c"))

	if len(snap) != 1 || string(snap[0]) != "a" {
		t.Error("Expected snapshot to be unaffected by later adds")
	}
}

func TestReplayRingDefaultCapacity(t *testing.T) {
	r := newReplayRing(0)
	for i := 0; i < 150; i++ {
		r.add([]byte{byte(i)})
	}
	if r.len() != 100 {
		t.Errorf("Expected default capacity 100, got %d", r.len())
	}
}
