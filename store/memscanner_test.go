package store

import (
	"testing"

	"github.com/colfam/storescan/sstable"
)

func memCell(row, family, qualifier string, ts uint64, seq uint64) *Cell {
	return &Cell{Row: []byte(row), Family: []byte(family), Qualifier: []byte(qualifier), Timestamp: ts, Type: sstable.CellTypePut, SequenceID: seq}
}

func TestMemSubScannerSeekSkipsCellsNotYetVisible(t *testing.T) {
	items := []*Cell{
		memCell("row1", "f", "q", 20, 10), // written after readPoint=5
		memCell("row2", "f", "q", 10, 2),
	}
	m := NewMemSubScanner(items, 5)

	if err := m.Seek(sstable.EncodeKey(&Cell{Row: []byte("row1")})); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if got := m.Peek(); got == nil || string(got.Row) != "row2" {
		t.Fatalf("got %v, want row2 (row1's only version is invisible at readPoint=5)", got)
	}
}

func TestMemSubScannerAdvanceSkipsInvisibleCellsInBetween(t *testing.T) {
	items := []*Cell{
		memCell("row1", "f", "q", 30, 1),
		memCell("row1", "f", "q", 20, 99), // invisible
		memCell("row1", "f", "q", 10, 2),
	}
	m := NewMemSubScanner(items, 5)
	if err := m.Seek(sstable.EncodeKey(&Cell{Row: []byte("row1")})); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if got := m.Peek(); got == nil || got.Timestamp != 30 {
		t.Fatalf("got %v, want ts=30", got)
	}
	if err := m.Advance(); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if got := m.Peek(); got == nil || got.Timestamp != 10 {
		t.Fatalf("got %v, want ts=10 (ts=20 skipped as invisible)", got)
	}
}

func TestMemSubScannerShouldUseRespectsMaxTimestampAgainstTTL(t *testing.T) {
	items := []*Cell{memCell("row1", "f", "q", 100, 1)}
	m := NewMemSubScanner(items, 1000)
	if !m.ShouldUse(50) {
		t.Fatal("a snapshot whose newest cell is at ts=100 should be used when the TTL cutoff is 50")
	}
	if m.ShouldUse(150) {
		t.Fatal("a snapshot whose newest cell is at ts=100 should be skipped when the TTL cutoff is 150")
	}
}

func TestMemSubScannerIsFileScannerIsFalse(t *testing.T) {
	m := NewMemSubScanner(nil, 0)
	if m.IsFileScanner() {
		t.Fatal("MemSubScanner should report IsFileScanner() == false")
	}
}

func TestMemSubScannerCloseMakesPeekReturnNil(t *testing.T) {
	items := []*Cell{memCell("row1", "f", "q", 10, 1)}
	m := NewMemSubScanner(items, 10)
	if err := m.Seek(sstable.EncodeKey(&Cell{Row: []byte("row1")})); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if m.Peek() == nil {
		t.Fatal("expected a cell before Close")
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if m.Peek() != nil {
		t.Fatal("Peek after Close should be nil")
	}
}
