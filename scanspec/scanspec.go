// Package scanspec holds the immutable per-scan request and the
// per-column-family policy it runs under. Parsing either from a wire
// request is out of scope here; callers build one programmatically.
package scanspec

import "github.com/colfam/storescan/sstable"

// ReadType selects how file SubScanners should access their backing
// files.
type ReadType int

const (
	ReadTypeDefault ReadType = iota
	ReadTypePread
	ReadTypeStream
)

// Scan is immutable once constructed and shared (read-only) by every
// component a StoreScanner touches.
type Scan struct {
	StartRow          []byte
	StopRow           []byte
	StartRowInclusive bool
	StopRowInclusive  bool

	// Columns is the optional set of fully-qualified columns to match,
	// keyed by "family\x00qualifier". A nil map means "match all
	// columns in every requested family".
	Columns map[string]struct{}
	// Families restricts matching to these families when Columns is
	// nil; a nil/empty Families means "match all families the store
	// exposes".
	Families map[string]struct{}

	Filter Filter

	TimeRangeMin uint64
	TimeRangeMax uint64 // exclusive; 0 means unbounded

	MaxVersions int

	// StoreLimit is the maximum number of matching cells emitted per
	// row; -1 means unlimited.
	StoreLimit int
	// StoreOffset is the number of matching cells skipped per row
	// before emission begins.
	StoreOffset int

	Raw      bool
	Get      bool
	ReadType ReadType

	ReadPoint uint64
}

// Filter transforms a matched cell before it is appended to the caller's
// output, e.g. stripping a value or substituting a placeholder.
type Filter interface {
	TransformCell(cell *sstable.Cell) *sstable.Cell
}

// HasColumn reports whether family/qualifier is in the explicit column
// set. Only meaningful when Columns != nil.
func (s *Scan) HasColumn(family, qualifier []byte) bool {
	if s.Columns == nil {
		return false
	}
	_, ok := s.Columns[string(family)+"\x00"+string(qualifier)]
	return ok
}

// HasFamily reports whether family is requested, either explicitly or by
// virtue of an unrestricted scan.
func (s *Scan) HasFamily(family []byte) bool {
	if len(s.Families) == 0 {
		return true
	}
	_, ok := s.Families[string(family)]
	return ok
}

// ExplicitColumns reports whether the scan names specific columns, which
// enables the lazy-seek optimization on a per-column basis.
func (s *Scan) ExplicitColumns() bool {
	return len(s.Columns) > 0
}

// Info is the per-column-family policy a Scan runs under.
type Info struct {
	TTLMillis int64 // 0 means no expiry
	MinVersions int
	MaxRowSizeBytes int64
	// CellsPerHeartbeatCheck is the cadence, in cells scanned, at which
	// the main loop re-checks the time limit. 0 means use the package
	// default.
	CellsPerHeartbeatCheck int
	// PreadMaxBytes is the bytesRead threshold after which shipped()
	// attempts a pread->stream switch. 0 means use the package default.
	PreadMaxBytes int64
	ParallelSeekEnable bool
	ScanUsePread       bool
}

// OldestUnexpiredTimestamp returns the timestamp below which a cell is
// TTL-expired, given the current time in millis. Returns 0 (no cutoff)
// when TTLMillis is 0.
func (i *Info) OldestUnexpiredTimestamp(nowMillis int64) uint64 {
	if i.TTLMillis <= 0 {
		return 0
	}
	cutoff := nowMillis - i.TTLMillis
	if cutoff <= 0 {
		return 0
	}
	return uint64(cutoff)
}
