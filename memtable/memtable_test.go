package memtable

import (
	"strconv"
	"testing"
)

type item struct {
	key   string
	value int
}

func keyOf(it *item) string { return it.key }

func cmp(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func sizeOf(it *item) int64 { return int64(len(it.key) + 8) }

func TestPutThenSnapshotReturnsItemsInKeyOrder(t *testing.T) {
	m := New(keyOf, cmp, sizeOf)
	m.Put(&item{key: "c", value: 3})
	m.Put(&item{key: "a", value: 1})
	m.Put(&item{key: "b", value: 2})

	snap := m.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("got %d items, want 3", len(snap))
	}
	for i, want := range []string{"a", "b", "c"} {
		if snap[i].key != want {
			t.Fatalf("snap[%d] = %q, want %q", i, snap[i].key, want)
		}
	}
}

func TestPutWithDuplicateKeyReplacesInPlace(t *testing.T) {
	m := New(keyOf, cmp, sizeOf)
	m.Put(&item{key: "a", value: 1})
	m.Put(&item{key: "a", value: 2})

	if got := m.Len(); got != 1 {
		t.Fatalf("got Len() = %d, want 1 after overwriting a key", got)
	}
	snap := m.Snapshot()
	if snap[0].value != 2 {
		t.Fatalf("got value %d, want 2 (the later Put should win)", snap[0].value)
	}
}

func TestLenAndApproximateBytesTrackInsertions(t *testing.T) {
	m := New(keyOf, cmp, sizeOf)
	if m.Len() != 0 || m.ApproximateBytes() != 0 {
		t.Fatal("a new MemStore should be empty")
	}
	m.Put(&item{key: "a", value: 1})
	if m.Len() != 1 {
		t.Fatalf("got Len() = %d, want 1", m.Len())
	}
	if m.ApproximateBytes() != sizeOf(&item{key: "a"}) {
		t.Fatalf("got ApproximateBytes() = %d, want %d", m.ApproximateBytes(), sizeOf(&item{key: "a"}))
	}
}

func TestSnapshotIsUnaffectedByLaterPuts(t *testing.T) {
	m := New(keyOf, cmp, sizeOf)
	m.Put(&item{key: "a", value: 1})
	snap := m.Snapshot()

	m.Put(&item{key: "b", value: 2})
	if len(snap) != 1 {
		t.Fatalf("a prior snapshot should not see later writes; got %d items", len(snap))
	}
}

func TestPutWithManyKeysStillYieldsSortedSnapshot(t *testing.T) {
	m := New(keyOf, cmp, sizeOf)
	for i := 99; i >= 0; i-- {
		m.Put(&item{key: strconv.Itoa(i), value: i})
	}
	snap := m.Snapshot()
	if len(snap) != 100 {
		t.Fatalf("got %d items, want 100", len(snap))
	}
	for i := 1; i < len(snap); i++ {
		if cmp(snap[i-1].key, snap[i].key) > 0 {
			t.Fatalf("snapshot not sorted at index %d: %q > %q", i, snap[i-1].key, snap[i].key)
		}
	}
}

func TestSnapshotScannerSeekPositionsAtFirstKeyGreaterOrEqual(t *testing.T) {
	items := []*item{{key: "a"}, {key: "c"}, {key: "e"}}
	s := NewSnapshotScanner(items, keyOf, cmp)

	if !s.Seek("b") {
		t.Fatal("Seek(b) should find c")
	}
	if s.Peek().key != "c" {
		t.Fatalf("got %q, want c", s.Peek().key)
	}
}

func TestSnapshotScannerSeekPastEndReportsFalse(t *testing.T) {
	items := []*item{{key: "a"}, {key: "b"}}
	s := NewSnapshotScanner(items, keyOf, cmp)
	if s.Seek("z") {
		t.Fatal("Seek past every key should report false")
	}
	if s.Peek() != nil {
		t.Fatal("Peek after a failed Seek should be nil")
	}
}

func TestSnapshotScannerNextWalksForwardThenExhausts(t *testing.T) {
	items := []*item{{key: "a"}, {key: "b"}}
	s := NewSnapshotScanner(items, keyOf, cmp)

	if !s.Next() || s.Peek().key != "a" {
		t.Fatal("first Next should land on a")
	}
	if !s.Next() || s.Peek().key != "b" {
		t.Fatal("second Next should land on b")
	}
	if s.Next() {
		t.Fatal("third Next should report false, exhausted")
	}
	if s.Peek() != nil {
		t.Fatal("Peek after exhaustion should be nil")
	}
}
