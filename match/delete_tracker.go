package match

import "github.com/colfam/storescan/sstable"

// DeleteStatus indicates why a Put cell is suppressed.
type DeleteStatus int

const (
	NotDeleted     DeleteStatus = iota
	FamilyDeleted               // suppressed by a DeleteFamily marker
	ColumnDeleted               // suppressed by a DeleteColumn marker
	VersionDeleted              // suppressed by a point Delete marker
)

// deleteTracker tracks tombstones within a single row. Reset at the start
// of each new row via reset.
type deleteTracker struct {
	// familyDeleteTS is the maximum timestamp seen in a DeleteFamily
	// marker. Any Put with Timestamp <= familyDeleteTS is suppressed.
	// Zero means no DeleteFamily has been seen.
	familyDeleteTS uint64

	// columnDeleteTS maps qualifier -> maximum DeleteColumn timestamp.
	columnDeleteTS map[string]uint64

	// versionDeletes maps qualifier -> set of timestamps deleted by
	// point Delete markers.
	versionDeletes map[string]map[uint64]struct{}
}

func newDeleteTracker() *deleteTracker {
	return &deleteTracker{
		columnDeleteTS: make(map[string]uint64),
		versionDeletes: make(map[string]map[uint64]struct{}),
	}
}

func (dt *deleteTracker) reset() {
	dt.familyDeleteTS = 0
	dt.columnDeleteTS = make(map[string]uint64)
	dt.versionDeletes = make(map[string]map[uint64]struct{})
}

// add registers a tombstone cell. Call for every non-Put cell.
func (dt *deleteTracker) add(cell *Cell) {
	qual := string(cell.Qualifier)
	switch cell.Type {
	case sstable.CellTypeDeleteFamily:
		if cell.Timestamp > dt.familyDeleteTS {
			dt.familyDeleteTS = cell.Timestamp
		}
	case sstable.CellTypeDeleteColumn:
		if cell.Timestamp > dt.columnDeleteTS[qual] {
			dt.columnDeleteTS[qual] = cell.Timestamp
		}
	case sstable.CellTypeDelete:
		if dt.versionDeletes[qual] == nil {
			dt.versionDeletes[qual] = make(map[uint64]struct{})
		}
		dt.versionDeletes[qual][cell.Timestamp] = struct{}{}
	}
}

// isDeleted reports whether a Put cell is suppressed by a previously seen
// tombstone.
func (dt *deleteTracker) isDeleted(cell *Cell) DeleteStatus {
	qual := string(cell.Qualifier)

	if dt.familyDeleteTS > 0 && cell.Timestamp <= dt.familyDeleteTS {
		return FamilyDeleted
	}
	if ts, ok := dt.columnDeleteTS[qual]; ok && cell.Timestamp <= ts {
		return ColumnDeleted
	}
	if versions, ok := dt.versionDeletes[qual]; ok {
		if _, deleted := versions[cell.Timestamp]; deleted {
			return VersionDeleted
		}
	}
	return NotDeleted
}

// versionCounter tracks, per qualifier, how many Put versions of that
// column have already been included for the current row — the piece the
// teacher's tracker never needed, since it had no max-versions concept.
type versionCounter struct {
	seen map[string]int
}

func newVersionCounter() *versionCounter {
	return &versionCounter{seen: make(map[string]int)}
}

func (vc *versionCounter) reset() {
	vc.seen = make(map[string]int)
}

// countAndCheck increments the version count for qualifier and reports
// whether this version is within maxVersions (0 means unlimited).
func (vc *versionCounter) countAndCheck(qualifier []byte, maxVersions int) bool {
	qual := string(qualifier)
	vc.seen[qual]++
	if maxVersions <= 0 {
		return true
	}
	return vc.seen[qual] <= maxVersions
}
