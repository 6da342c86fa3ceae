package match

import (
	"bytes"

	"github.com/colfam/storescan/scanspec"
	"github.com/colfam/storescan/sstable"
)

// UserScanPolicy enforces time range, column set, filter, max-versions,
// TTL, and delete visibility (deletes are invisible unless the scan is
// raw). It is the policy ordinary client scans run under.
type UserScanPolicy struct {
	scan *scanspec.Scan
	info *scanspec.Info

	ttlCutoff uint64 // 0 means no TTL

	currentRow []byte
	dt         *deleteTracker
	vc         *versionCounter
}

// NewUserScanPolicy builds a UserScanPolicy for scan under info, with
// ttlCutoff already resolved (see scanspec.Info.OldestUnexpiredTimestamp).
func NewUserScanPolicy(scan *scanspec.Scan, info *scanspec.Info, ttlCutoff uint64) *UserScanPolicy {
	return &UserScanPolicy{
		scan:      scan,
		info:      info,
		ttlCutoff: ttlCutoff,
		dt:        newDeleteTracker(),
		vc:        newVersionCounter(),
	}
}

func (p *UserScanPolicy) SetToNewRow(cell *Cell) {
	p.currentRow = cell.Row
	p.dt.reset()
	p.vc.reset()
}

func (p *UserScanPolicy) ClearCurrentRow() { p.currentRow = nil }

func (p *UserScanPolicy) CurrentRow() []byte { return p.currentRow }

func (p *UserScanPolicy) Match(cell *Cell) (MatchCode, error) {
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

	if !p.scan.Raw && p.ttlCutoff > 0 && cell.Timestamp < p.ttlCutoff {
		return SEEK_NEXT_COL, nil
	}

	if !p.scan.HasFamily(cell.Family) {
		return SEEK_NEXT_COL, nil
	}
	if p.scan.ExplicitColumns() && !p.scan.HasColumn(cell.Family, cell.Qualifier) {
		return SEEK_NEXT_COL, nil
	}

	if cell.Type != sstable.CellTypePut {
		p.dt.add(cell)
		if p.scan.Raw {
			return INCLUDE, nil
		}
		return SKIP, nil
	}

	if !p.scan.Raw {
		if status := p.dt.isDeleted(cell); status != NotDeleted {
			return SKIP, nil
		}
	}

	if !p.vc.countAndCheck(cell.Qualifier, p.scan.MaxVersions) {
		return SEEK_NEXT_COL, nil
	}

	if p.scan.MaxVersions == 1 {
		return INCLUDE_AND_SEEK_NEXT_COL, nil
	}
	return INCLUDE, nil
}

// withinStopRow reports whether row is still within the scan's stop-row
// bound (true when there is no bound at all).
func (p *UserScanPolicy) withinStopRow(row []byte) bool {
	if len(p.scan.StopRow) == 0 {
		return true
	}
	cmp := bytes.Compare(row, p.scan.StopRow)
	if p.scan.StopRowInclusive {
		return cmp <= 0
	}
	return cmp < 0
}

func (p *UserScanPolicy) GetKeyForNextColumn(cell *Cell) *Cell {
	return lastOnRowCol(cell.Row, cell.Family, cell.Qualifier)
}

func (p *UserScanPolicy) GetNextKeyHint(cell *Cell) *Cell { return nil }

func (p *UserScanPolicy) CompareKeyForNextRow(indexedKey, cell *Cell) int {
	if cmp := compareRowOnly(indexedKey.Row, cell.Row); cmp != 0 {
		return cmp
	}
	return -1
}

func (p *UserScanPolicy) CompareKeyForNextColumn(indexedKey, cell *Cell) int {
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

func (p *UserScanPolicy) MoreRowsMayExistAfter(cell *Cell) bool {
	if len(p.scan.StopRow) == 0 {
		return true
	}
	return bytes.Compare(cell.Row, p.scan.StopRow) < 0
}

func (p *UserScanPolicy) BeforeShipped() {}

func (p *UserScanPolicy) StartKey() *Cell {
	return &Cell{
		Row:       p.scan.StartRow,
		Timestamp: ^uint64(0),
		Type:      sstable.CellType(0xff),
	}
}

func (p *UserScanPolicy) IsUserScan() bool { return true }

type assertionError string

func (e assertionError) Error() string { return string(e) }

func errAssertion(msg string) error { return assertionError(msg) }
