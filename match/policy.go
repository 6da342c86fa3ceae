// Package match classifies each cell a scan visits into a MatchCode that
// drives the merge loop: include it, skip it, seek past it, or end the
// row or the scan outright. Three MatchPolicy implementations share the
// same tombstone and version-counting machinery but apply it under
// different rules for user scans versus compaction scans.
package match

import (
	"bytes"

	"github.com/colfam/storescan/sstable"
)

// Cell is the unit MatchPolicy classifies.
type Cell = sstable.Cell

// MatchCode drives the StoreScanner's dispatch table.
type MatchCode int

const (
	// INCLUDE means emit the cell and advance to the next cell.
	INCLUDE MatchCode = iota
	// INCLUDE_AND_SEEK_NEXT_COL means emit the cell and skip to the next column.
	INCLUDE_AND_SEEK_NEXT_COL
	// INCLUDE_AND_SEEK_NEXT_ROW means emit the cell and skip to the next row.
	INCLUDE_AND_SEEK_NEXT_ROW
	// SKIP means discard the cell without emitting it, advance to the next.
	SKIP
	// SEEK_NEXT_COL means discard the cell, skip to the next column.
	SEEK_NEXT_COL
	// SEEK_NEXT_ROW means discard the cell, skip to the next row.
	SEEK_NEXT_ROW
	// SEEK_USING_HINT means discard the cell, seek to a filter-provided hint.
	SEEK_USING_HINT
	// DONE means the current row is complete.
	DONE
	// DONE_SCAN means the entire scan is complete.
	DONE_SCAN
)

func (c MatchCode) String() string {
	switch c {
	case INCLUDE:
		return "INCLUDE"
	case INCLUDE_AND_SEEK_NEXT_COL:
		return "INCLUDE_AND_SEEK_NEXT_COL"
	case INCLUDE_AND_SEEK_NEXT_ROW:
		return "INCLUDE_AND_SEEK_NEXT_ROW"
	case SKIP:
		return "SKIP"
	case SEEK_NEXT_COL:
		return "SEEK_NEXT_COL"
	case SEEK_NEXT_ROW:
		return "SEEK_NEXT_ROW"
	case SEEK_USING_HINT:
		return "SEEK_USING_HINT"
	case DONE:
		return "DONE"
	case DONE_SCAN:
		return "DONE_SCAN"
	default:
		return "UNKNOWN"
	}
}

// Policy is the interface all three concrete policies satisfy. It is
// re-armed once per row via SetToNewRow and queried once per cell via
// Match.
type Policy interface {
	// SetToNewRow arms the policy for the row cell belongs to.
	SetToNewRow(cell *Cell)
	// ClearCurrentRow un-arms the policy; CurrentRow returns nil until the
	// next SetToNewRow.
	ClearCurrentRow()
	// CurrentRow returns the row the policy is armed for, or nil.
	CurrentRow() []byte
	// Match classifies cell under the policy currently armed for its row.
	Match(cell *Cell) (MatchCode, error)
	// GetKeyForNextColumn constructs a key addressing the position just
	// past cell's column, for seeking past the remainder of a column.
	GetKeyForNextColumn(cell *Cell) *Cell
	// GetNextKeyHint returns the optional filter-provided hint used by
	// SEEK_USING_HINT, or nil if the policy has none to offer.
	GetNextKeyHint(cell *Cell) *Cell
	// CompareKeyForNextRow reports whether indexedKey is at or past the
	// artificial last-possible-key on cell's row: a non-negative result
	// means indexedKey lies in a later row.
	CompareKeyForNextRow(indexedKey, cell *Cell) int
	// CompareKeyForNextColumn is CompareKeyForNextRow's column-scoped
	// counterpart.
	CompareKeyForNextColumn(indexedKey, cell *Cell) int
	// MoreRowsMayExistAfter reports whether rows beyond cell's row could
	// still satisfy the scan's stop-row bound.
	MoreRowsMayExistAfter(cell *Cell) bool
	// BeforeShipped releases internal references ahead of the caller's
	// shipped() boundary (e.g. a filter holding onto a cell).
	BeforeShipped()
	// StartKey is the synthetic first-seek key derived from the scan's
	// start row.
	StartKey() *Cell
	// IsUserScan enables row-size enforcement in the main loop.
	IsUserScan() bool
}

// lastOnRow builds the artificial key that sorts after every cell on row
// under the store's (row asc, family asc, qualifier asc, ts desc, type
// desc) ordering: an empty family/qualifier and a zero timestamp/type sort
// last among same-row cells.
func lastOnRow(row []byte) *Cell {
	return &Cell{Row: row, Timestamp: 0, Type: 0}
}

// lastOnRowCol builds the artificial key that sorts after every version of
// family/qualifier on row but before the next qualifier.
func lastOnRowCol(row, family, qualifier []byte) *Cell {
	return &Cell{Row: row, Family: family, Qualifier: qualifier, Timestamp: 0, Type: 0}
}

// compareRowOnly orders two cells by row alone, as CompareKeyForNextRow
// needs: it must answer "later row?" without being confused by a
// synthetic indexedKey that carries no family/qualifier/timestamp.
func compareRowOnly(a, b []byte) int {
	return bytes.Compare(a, b)
}
