package scanner

import (
	"sort"

	"github.com/colfam/storescan/heap"
	"github.com/colfam/storescan/sstable"
	"github.com/colfam/storescan/store"
)

// fakeSubScanner is a slice-backed heap.SubScanner: enough to drive
// StoreScanner's merge loop without a real segment file or memtable.
// Seek/Reseek decode the target key back into a Cell with
// sstable.ParseCellKey and walk forward under store.CompareCell, so the
// fixture never depends on raw key bytes being comparator-equivalent.
type fakeSubScanner struct {
	name      string
	isFile    bool
	cells     []*Cell
	pos       int
	indexKeys []*Cell // optional sparse-index boundaries, ascending
	closed    bool
	shipped   int
	seekCalls int
}

func newFakeScanner(name string, isFile bool, cells ...*Cell) *fakeSubScanner {
	sorted := append([]*Cell(nil), cells...)
	sort.Slice(sorted, func(i, j int) bool { return store.CompareCell(sorted[i], sorted[j]) < 0 })
	return &fakeSubScanner{name: name, isFile: isFile, cells: sorted}
}

func (f *fakeSubScanner) withIndexKeys(keys ...*Cell) *fakeSubScanner {
	f.indexKeys = keys
	return f
}

func (f *fakeSubScanner) Name() string { return f.name }

func (f *fakeSubScanner) Peek() *Cell {
	if f.pos >= len(f.cells) {
		return nil
	}
	return f.cells[f.pos]
}

func (f *fakeSubScanner) Advance() error {
	if f.pos < len(f.cells) {
		f.pos++
	}
	return nil
}

func (f *fakeSubScanner) Seek(key []byte) error {
	f.seekCalls++
	target, err := sstable.ParseCellKey(key)
	if err != nil {
		return err
	}
	i := f.pos
	for i < len(f.cells) && store.CompareCell(f.cells[i], target) < 0 {
		i++
	}
	f.pos = i
	return nil
}

func (f *fakeSubScanner) Reseek(key []byte) error { return f.Seek(key) }

func (f *fakeSubScanner) RequestSeek(key []byte, forward, useBloom bool) error {
	return f.Seek(key)
}

// NextIndexedKey returns the first of indexKeys strictly past the current
// cell, letting tests exercise the skip heuristic deterministically.
func (f *fakeSubScanner) NextIndexedKey() []byte {
	cur := f.Peek()
	for _, k := range f.indexKeys {
		if cur == nil || store.CompareCell(k, cur) > 0 {
			return sstable.EncodeKey(k)
		}
	}
	return nil
}

func (f *fakeSubScanner) IsFileScanner() bool { return f.isFile }

func (f *fakeSubScanner) ShouldUse(ttlCutoff int64) bool { return true }

func (f *fakeSubScanner) Close() error {
	f.closed = true
	return nil
}

func (f *fakeSubScanner) Shipped() error {
	f.shipped++
	return nil
}

var _ heap.SubScanner = (*fakeSubScanner)(nil)

func cell(row, family, qualifier string, ts uint64, typ sstable.CellType, value string) *Cell {
	return &Cell{
		Row:       []byte(row),
		Family:    []byte(family),
		Qualifier: []byte(qualifier),
		Timestamp: ts,
		Type:      typ,
		Value:     []byte(value),
	}
}

func put(row, family, qualifier string, ts uint64, value string) *Cell {
	return cell(row, family, qualifier, ts, sstable.CellTypePut, value)
}

func del(row, family, qualifier string, ts uint64) *Cell {
	return cell(row, family, qualifier, ts, sstable.CellTypeDelete, "")
}

func delFamily(row, family string, ts uint64) *Cell {
	return cell(row, family, "", ts, sstable.CellTypeDeleteFamily, "")
}
