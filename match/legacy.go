package match

import (
	"bytes"

	"github.com/colfam/storescan/scanspec"
	"github.com/colfam/storescan/sstable"
)

// LegacyCompactionPolicy is the compatibility variant used when a
// compaction scan carries a user-supplied filter, explicit row bounds,
// explicit columns, or a bounded time range — cases the plain
// CompactionPolicy's read-point-only logic cannot honor by itself. It
// layers UserScanPolicy's bound checks on top of CompactionPolicy's
// read-point-aware delete handling.
type LegacyCompactionPolicy struct {
	scan *scanspec.Scan

	smallestReadPoint uint64
	ttlCutoff         uint64

	currentRow []byte
	dt         *deleteTracker
}

func NewLegacyCompactionPolicy(scan *scanspec.Scan, smallestReadPoint, ttlCutoff uint64) *LegacyCompactionPolicy {
	return &LegacyCompactionPolicy{
		scan:              scan,
		smallestReadPoint: smallestReadPoint,
		ttlCutoff:         ttlCutoff,
		dt:                newDeleteTracker(),
	}
}

// NewCompactionMatchPolicy selects the right compaction MatchPolicy
// instantiation for scan: a full, storewide compaction (scan nil or
// carrying none of a filter, row bounds, explicit columns, or a bounded
// time range) gets the plain read-point-only CompactionPolicy; a
// scan-scoped compaction gets the LegacyCompactionPolicy compatibility
// variant layering UserScanPolicy-style bound checks on top.
func NewCompactionMatchPolicy(scan *scanspec.Scan, smallestReadPoint, ttlCutoff uint64, dropDeletes bool, dropDeletesFrom, dropDeletesTo []byte) Policy {
	if needsLegacyCompaction(scan) {
		return NewLegacyCompactionPolicy(scan, smallestReadPoint, ttlCutoff)
	}
	return NewCompactionPolicy(smallestReadPoint, ttlCutoff, dropDeletes, dropDeletesFrom, dropDeletesTo)
}

func needsLegacyCompaction(scan *scanspec.Scan) bool {
	if scan == nil {
		return false
	}
	return scan.Filter != nil ||
		len(scan.StartRow) > 0 || len(scan.StopRow) > 0 ||
		scan.ExplicitColumns() ||
		scan.TimeRangeMin != 0 || scan.TimeRangeMax != 0
}

func (p *LegacyCompactionPolicy) SetToNewRow(cell *Cell) {
	p.currentRow = cell.Row
	p.dt.reset()
}

func (p *LegacyCompactionPolicy) ClearCurrentRow() { p.currentRow = nil }

func (p *LegacyCompactionPolicy) CurrentRow() []byte { return p.currentRow }

func (p *LegacyCompactionPolicy) withinStopRow(row []byte) bool {
	if len(p.scan.StopRow) == 0 {
		return true
	}
	cmp := bytes.Compare(row, p.scan.StopRow)
	if p.scan.StopRowInclusive {
		return cmp <= 0
	}
	return cmp < 0
}

func (p *LegacyCompactionPolicy) Match(cell *Cell) (MatchCode, error) {
	if p.currentRow == nil {
		return DONE_SCAN, nil
	}
	if rowCmp := bytes.Compare(cell.Row, p.currentRow); rowCmp != 0 {
		if rowCmp < 0 {
			return DONE_SCAN, errAssertion("cell row regressed behind armed row")
		}
		return DONE, nil
	}
	if !p.withinStopRow(cell.Row) {
		return DONE_SCAN, nil
	}

	if p.scan.TimeRangeMin != 0 || p.scan.TimeRangeMax != 0 {
		if cell.Timestamp < p.scan.TimeRangeMin {
			return SEEK_NEXT_COL, nil
		}
		if p.scan.TimeRangeMax != 0 && cell.Timestamp >= p.scan.TimeRangeMax {
			return SKIP, nil
		}
	}

	if p.scan.ExplicitColumns() && !p.scan.HasColumn(cell.Family, cell.Qualifier) {
		return SEEK_NEXT_COL, nil
	}

	needed := cell.SequenceID >= p.smallestReadPoint
	expired := p.ttlCutoff > 0 && cell.Timestamp < p.ttlCutoff

	if cell.Type != sstable.CellTypePut {
		p.dt.add(cell)
		if needed || !expired {
			return INCLUDE, nil
		}
		return SKIP, nil
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

func (p *LegacyCompactionPolicy) GetKeyForNextColumn(cell *Cell) *Cell {
	return lastOnRowCol(cell.Row, cell.Family, cell.Qualifier)
}

func (p *LegacyCompactionPolicy) GetNextKeyHint(cell *Cell) *Cell { return nil }

func (p *LegacyCompactionPolicy) CompareKeyForNextRow(indexedKey, cell *Cell) int {
	if cmp := compareRowOnly(indexedKey.Row, cell.Row); cmp != 0 {
		return cmp
	}
	return -1
}

func (p *LegacyCompactionPolicy) CompareKeyForNextColumn(indexedKey, cell *Cell) int {
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

func (p *LegacyCompactionPolicy) MoreRowsMayExistAfter(cell *Cell) bool {
	if len(p.scan.StopRow) == 0 {
		return true
	}
	return bytes.Compare(cell.Row, p.scan.StopRow) < 0
}

func (p *LegacyCompactionPolicy) BeforeShipped() {}

func (p *LegacyCompactionPolicy) StartKey() *Cell {
	return &Cell{Row: p.scan.StartRow, Timestamp: ^uint64(0), Type: sstable.CellType(0xff)}
}

func (p *LegacyCompactionPolicy) IsUserScan() bool { return false }
