// Package store implements the column-family storage view: the live
// memstore plus immutable segment files, the comparator cells are ordered
// under, and the SubScanner implementations the scanner package merges.
package store

import (
	"bytes"

	"github.com/colfam/storescan/sstable"
)

// Cell is the unit this package and the scanner package operate on. It is
// sstable.Cell directly — there is no separate domain cell type, since the
// file format's cell already carries everything (including the MVCC
// SequenceID) that ordering and visibility decisions need.
type Cell = sstable.Cell

// CompareCell returns negative/0/positive for a<b, a==b, a>b using this
// store's ordering:
//
//	Row       ASC
//	Family    ASC
//	Qualifier ASC
//	Timestamp DESC (newer first)
//	Type      DESC (DeleteFamily=14 > DeleteColumn=12 > Delete=8 > Put=4)
func CompareCell(a, b *Cell) int {
	if cmp := bytes.Compare(a.Row, b.Row); cmp != 0 {
		return cmp
	}
	if cmp := bytes.Compare(a.Family, b.Family); cmp != 0 {
		return cmp
	}
	if cmp := bytes.Compare(a.Qualifier, b.Qualifier); cmp != 0 {
		return cmp
	}
	if a.Timestamp != b.Timestamp {
		if a.Timestamp > b.Timestamp {
			return -1
		}
		return 1
	}
	if a.Type != b.Type {
		if a.Type > b.Type {
			return -1
		}
		return 1
	}
	return 0
}

// CompareCellWithOrder extends CompareCell with a tie-breaking scanner
// order: lower aOrder means higher priority (e.g. a newer file, or the
// memstore over any file).
func CompareCellWithOrder(a, b *Cell, aOrder, bOrder int64) int {
	if cmp := CompareCell(a, b); cmp != 0 {
		return cmp
	}
	if aOrder < bOrder {
		return -1
	}
	if aOrder > bOrder {
		return 1
	}
	return 0
}

// IsVisible reports whether cell is visible at the given MVCC read point:
// a cell written after the read point must not be observed by this scan.
func IsVisible(cell *Cell, readPoint uint64) bool {
	return cell.SequenceID <= readPoint
}

// CompareRows compares two rows independent of any other cell field. Used
// by end-key checks and row-boundary detection.
func CompareRows(a, b []byte) int {
	return bytes.Compare(a, b)
}

// memKeyCompare orders memtable entries under CompareCell, tie-broken by
// SequenceID ascending. The tie-break exists only so two writes that
// happen to share row/family/qualifier/timestamp/type never collide as a
// single memtable entry unless they are truly the same write; synthetic
// positional keys built by the match package (which never carry a
// meaningful SequenceID) sort as the smallest entry among such ties,
// which is what Seek's "first cell >= key" contract needs.
func memKeyCompare(a, b *Cell) int {
	if cmp := CompareCell(a, b); cmp != 0 {
		return cmp
	}
	if a.SequenceID < b.SequenceID {
		return -1
	}
	if a.SequenceID > b.SequenceID {
		return 1
	}
	return 0
}
