package scanner

import (
	"bytes"

	"github.com/colfam/storescan/sstable"
)

// lastOnRow builds the artificial key that sorts after every cell on
// row under the store's ordering (row asc, family asc, qualifier asc,
// timestamp desc, type desc): an empty family/qualifier and a zero
// timestamp/type sort last among same-row cells. Seeking to this key
// skips the remainder of the row without needing to know its last real
// cell.
func lastOnRow(row []byte) *Cell {
	return &Cell{Row: row, Timestamp: 0, Type: 0}
}

// trySkipToNextRow attempts to advance past the remainder of cell's row
// using only in-memory heap operations, by comparing each source's
// next-block hint against the row boundary. Returns true if it advanced
// all the way past the row this way; false means a SEEK is required.
func (ss *StoreScanner) trySkipToNextRow(cell *Cell) (bool, error) {
	for {
		nextIndexed := ss.heap.NextIndexedKey()
		if nextIndexed == nil {
			return false, nil
		}
		parsed, err := sstable.ParseCellKey(nextIndexed)
		if err != nil {
			return false, errIO("parse next indexed key", err)
		}
		if ss.policy.CompareKeyForNextRow(parsed, cell) < 0 {
			return false, nil
		}
		if err := ss.heap.Advance(); err != nil {
			return false, errIO("advance", err)
		}
		ss.kvsScanned++
		top := ss.heap.Peek()
		if top == nil {
			return true, nil
		}
		if !bytes.Equal(top.Row, cell.Row) {
			return true, nil
		}
	}
}

// trySkipToNextColumn is trySkipToNextRow's column-scoped counterpart:
// it stops skipping as soon as the new top leaves cell's
// row/family/qualifier rather than just its row.
func (ss *StoreScanner) trySkipToNextColumn(cell *Cell) (bool, error) {
	for {
		nextIndexed := ss.heap.NextIndexedKey()
		if nextIndexed == nil {
			return false, nil
		}
		parsed, err := sstable.ParseCellKey(nextIndexed)
		if err != nil {
			return false, errIO("parse next indexed key", err)
		}
		if ss.policy.CompareKeyForNextColumn(parsed, cell) < 0 {
			return false, nil
		}
		if err := ss.heap.Advance(); err != nil {
			return false, errIO("advance", err)
		}
		ss.kvsScanned++
		top := ss.heap.Peek()
		if top == nil {
			return true, nil
		}
		if !matchingColumn(top, cell) {
			return true, nil
		}
	}
}

func matchingColumn(a, b *Cell) bool {
	return bytes.Equal(a.Row, b.Row) && bytes.Equal(a.Family, b.Family) && bytes.Equal(a.Qualifier, b.Qualifier)
}

// seekToNextRow is an unconditional SEEK (never a skip attempt) to the
// artificial last key on cell's row.
func (ss *StoreScanner) seekToNextRow(cell *Cell) error {
	return ss.reseekViaHeap(lastOnRow(cell.Row))
}

// seekOrSkipToNextRow tries the cheap skip first, falling back to a SEEK
// when the skip heuristic can't prove it landed past the row. Get scans
// never attempt the skip: there is only one row to find, so a skip buys
// nothing.
func (ss *StoreScanner) seekOrSkipToNextRow(cell *Cell) error {
	if ss.scan != nil && ss.scan.Get {
		return ss.seekToNextRow(cell)
	}
	ok, err := ss.trySkipToNextRow(cell)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return ss.seekToNextRow(cell)
}

// seekOrSkipToNextColumn is seekOrSkipToNextRow's column-scoped
// counterpart.
func (ss *StoreScanner) seekOrSkipToNextColumn(cell *Cell) error {
	ok, err := ss.trySkipToNextColumn(cell)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return ss.reseekViaHeap(ss.policy.GetKeyForNextColumn(cell))
}
