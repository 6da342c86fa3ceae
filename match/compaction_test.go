package match

import (
	"testing"

	"github.com/colfam/storescan/sstable"
)

func newArmedCompaction(p *CompactionPolicy, row string) {
	p.SetToNewRow(&Cell{Row: []byte(row)})
}

func TestCompactionMatchRetainsPutNeededByAnOlderReadPoint(t *testing.T) {
	p := NewCompactionPolicy(5, 0, false, nil, nil)
	newArmedCompaction(p, "row1")

	c := put("row1", "f", "q", 100)
	c.SequenceID = 5
	code, err := p.Match(c)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if code != INCLUDE {
		t.Fatalf("got %v, want INCLUDE for a Put a live reader still needs", code)
	}
}

func TestCompactionMatchRetainsUnneededPutThatIsNotExpiredOrDeleted(t *testing.T) {
	p := NewCompactionPolicy(50, 0, false, nil, nil)
	newArmedCompaction(p, "row1")

	c := put("row1", "f", "q", 100)
	c.SequenceID = 5
	code, _ := p.Match(c)
	if code != INCLUDE {
		t.Fatalf("got %v, want INCLUDE: an unneeded Put is retained unless expired or shadowed", code)
	}
}

func TestCompactionMatchDropsExpiredPutBelowSmallestReadPoint(t *testing.T) {
	p := NewCompactionPolicy(50, 100, false, nil, nil)
	newArmedCompaction(p, "row1")

	c := put("row1", "f", "q", 50)
	c.SequenceID = 5
	code, _ := p.Match(c)
	if code != SKIP {
		t.Fatalf("got %v, want SKIP for an expired Put no live reader needs", code)
	}
}

func TestCompactionMatchDropsPutShadowedByTombstoneAtExactTimestamp(t *testing.T) {
	p := NewCompactionPolicy(50, 0, false, nil, nil)
	newArmedCompaction(p, "row1")

	tombstone := cell("row1", "f", "q", 10, sstable.CellTypeDelete)
	tombstone.SequenceID = 3
	if _, err := p.Match(tombstone); err != nil {
		t.Fatalf("Match tombstone: %v", err)
	}

	victim := put("row1", "f", "q", 10)
	victim.SequenceID = 2
	code, _ := p.Match(victim)
	if code != SKIP {
		t.Fatalf("got %v, want SKIP for a Put shadowed by a point-delete at the same timestamp", code)
	}
}

func TestCompactionMatchDropDeletesDropsUnneededTombstoneInRange(t *testing.T) {
	p := NewCompactionPolicy(50, 0, true, []byte("row0"), []byte("row9"))
	newArmedCompaction(p, "row1")

	tombstone := cell("row1", "f", "q", 10, sstable.CellTypeDelete)
	tombstone.SequenceID = 3
	code, _ := p.Match(tombstone)
	if code != SKIP {
		t.Fatalf("got %v, want SKIP for an unneeded tombstone within the drop range", code)
	}
}

func TestCompactionMatchKeepsTombstoneOutsideDropRange(t *testing.T) {
	p := NewCompactionPolicy(50, 0, true, []byte("row5"), []byte("row9"))
	newArmedCompaction(p, "row1")

	tombstone := cell("row1", "f", "q", 10, sstable.CellTypeDelete)
	tombstone.SequenceID = 3
	code, _ := p.Match(tombstone)
	if code != INCLUDE {
		t.Fatalf("got %v, want INCLUDE: row1 is before the drop range [row5,row9)", code)
	}
}

func TestCompactionMatchReturnsDoneAtRowBoundary(t *testing.T) {
	p := NewCompactionPolicy(0, 0, false, nil, nil)
	newArmedCompaction(p, "row1")

	c := put("row2", "f", "q", 10)
	code, err := p.Match(c)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if code != DONE {
		t.Fatalf("got %v, want DONE", code)
	}
}

func TestCompactionStartKeyMatchesEverythingFromTheStart(t *testing.T) {
	p := NewCompactionPolicy(0, 0, false, nil, nil)
	start := p.StartKey()
	if len(start.Row) != 0 {
		t.Fatalf("got row %q, want empty row so every row sorts after it", start.Row)
	}
}

func TestCompactionIsUserScanIsFalse(t *testing.T) {
	p := NewCompactionPolicy(0, 0, false, nil, nil)
	if p.IsUserScan() {
		t.Fatal("CompactionPolicy should not enable row-size enforcement")
	}
}
