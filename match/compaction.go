package match

import (
	"bytes"

	"github.com/colfam/storescan/sstable"
)

// CompactionPolicy preserves cells needed by still-live readers (any
// reader with a read point >= smallestReadPoint) and, optionally, drops
// deletes whose row falls in [dropDeletesFromRow, dropDeletesToRow).
type CompactionPolicy struct {
	smallestReadPoint uint64

	dropDeletes       bool
	dropDeletesFrom   []byte
	dropDeletesTo     []byte // exclusive

	ttlCutoff uint64

	currentRow []byte
	dt         *deleteTracker
}

// NewCompactionPolicy builds a CompactionPolicy. Pass dropDeletes=false to
// disable the drop-range entirely (dropDeletesFrom/To are then ignored).
func NewCompactionPolicy(smallestReadPoint uint64, ttlCutoff uint64, dropDeletes bool, dropDeletesFrom, dropDeletesTo []byte) *CompactionPolicy {
	return &CompactionPolicy{
		smallestReadPoint: smallestReadPoint,
		ttlCutoff:         ttlCutoff,
		dropDeletes:       dropDeletes,
		dropDeletesFrom:   dropDeletesFrom,
		dropDeletesTo:     dropDeletesTo,
		dt:                newDeleteTracker(),
	}
}

func (p *CompactionPolicy) SetToNewRow(cell *Cell) {
	p.currentRow = cell.Row
	p.dt.reset()
}

func (p *CompactionPolicy) ClearCurrentRow() { p.currentRow = nil }

func (p *CompactionPolicy) CurrentRow() []byte { return p.currentRow }

func (p *CompactionPolicy) inDropRange(row []byte) bool {
	if !p.dropDeletes {
		return false
	}
	if len(p.dropDeletesFrom) > 0 && bytes.Compare(row, p.dropDeletesFrom) < 0 {
		return false
	}
	if len(p.dropDeletesTo) > 0 && bytes.Compare(row, p.dropDeletesTo) >= 0 {
		return false
	}
	return true
}

func (p *CompactionPolicy) Match(cell *Cell) (MatchCode, error) {
	if p.currentRow == nil {
		return DONE_SCAN, nil
	}
	if rowCmp := bytes.Compare(cell.Row, p.currentRow); rowCmp != 0 {
		if rowCmp < 0 {
			return DONE_SCAN, errAssertion("cell row regressed behind armed row")
		}
		return DONE, nil
	}

	expired := p.ttlCutoff > 0 && cell.Timestamp < p.ttlCutoff
	needed := cell.SequenceID >= p.smallestReadPoint

	if cell.Type != sstable.CellTypePut {
		p.dt.add(cell)
		if needed {
			return INCLUDE, nil
		}
		if expired || p.inDropRange(cell.Row) {
			return SKIP, nil
		}
		return INCLUDE, nil
	}

	if needed {
		return INCLUDE, nil
	}
	if expired {
		return SKIP, nil
	}
	if status := p.dt.isDeleted(cell); status != NotDeleted {
		return SKIP, nil
	}
	return INCLUDE, nil
}

func (p *CompactionPolicy) GetKeyForNextColumn(cell *Cell) *Cell {
	return lastOnRowCol(cell.Row, cell.Family, cell.Qualifier)
}

func (p *CompactionPolicy) GetNextKeyHint(cell *Cell) *Cell { return nil }

func (p *CompactionPolicy) CompareKeyForNextRow(indexedKey, cell *Cell) int {
	if cmp := compareRowOnly(indexedKey.Row, cell.Row); cmp != 0 {
		return cmp
	}
	return -1
}

func (p *CompactionPolicy) CompareKeyForNextColumn(indexedKey, cell *Cell) int {
	if cmp := compareRowOnly(indexedKey.Row, cell.Row); cmp != 0 {
		return cmp
	}
	if cmp := bytes.Compare(indexedKey.Family, cell.Family); cmp != 0 {
		return cmp
	}
	if cmp := bytes.Compare(indexedKey.Qualifier, cell.Qualifier); cmp != 0 {
		return cmp
	}
	return -1
}

func (p *CompactionPolicy) MoreRowsMayExistAfter(cell *Cell) bool { return true }

func (p *CompactionPolicy) BeforeShipped() {}

func (p *CompactionPolicy) StartKey() *Cell { return &Cell{} }

func (p *CompactionPolicy) IsUserScan() bool { return false }
