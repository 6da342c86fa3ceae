// Package progress tracks the per-call limits a scan is bounded by:
// batch count, byte size, and a wall-clock deadline, checked at two
// granularities.
package progress

import "time"

// Scope is the granularity a limit is checked at.
type Scope int

const (
	// BetweenCells is checked after every emitted cell.
	BetweenCells Scope = iota
	// BetweenRows is checked only at row boundaries.
	BetweenRows
)

// NextState is the terminal outcome of one next() call.
type NextState int

const (
	MoreValues NextState = iota
	NoMoreValues
	TimeLimitReached
	BatchLimitReached
	SizeLimitReached
)

func (s NextState) String() string {
	switch s {
	case MoreValues:
		return "MORE_VALUES"
	case NoMoreValues:
		return "NO_MORE_VALUES"
	case TimeLimitReached:
		return "TIME_LIMIT_REACHED"
	case BatchLimitReached:
		return "BATCH_LIMIT_REACHED"
	case SizeLimitReached:
		return "SIZE_LIMIT_REACHED"
	default:
		return "UNKNOWN"
	}
}

// DefaultCellsPerHeartbeatCheck is the cadence, in cells scanned, at
// which the main loop re-checks the time limit when the scan's Info
// doesn't specify one.
const DefaultCellsPerHeartbeatCheck = 10000

// Limits bounds one next() call. A zero value for BatchLimit or
// SizeLimit means unbounded; a zero Deadline means no deadline.
type Limits struct {
	BatchLimit int
	SizeLimit  int64
	Deadline   time.Time
}

// Active reports whether l bounds anything at all.
func (l Limits) Active() bool {
	return l.BatchLimit > 0 || l.SizeLimit > 0 || !l.Deadline.IsZero()
}

// Progress is the mutable counter set a StoreScanner.next() call carries.
// A single Progress is reused across heartbeat checks within one call;
// KeepProgress controls whether the counters reset at the start of the
// next call.
type Progress struct {
	BetweenCells Limits
	BetweenRows  Limits
	KeepProgress bool

	batchCount int
	sizeCount  int64
	now        func() time.Time
}

// New returns a Progress using the real wall clock.
func New(betweenCells, betweenRows Limits) *Progress {
	return &Progress{BetweenCells: betweenCells, BetweenRows: betweenRows, now: time.Now}
}

// Reset zeroes the running counters unless KeepProgress is set.
func (p *Progress) Reset() {
	if p.KeepProgress {
		return
	}
	p.batchCount = 0
	p.sizeCount = 0
}

// AddCell records one emitted cell's contribution to the batch and size
// counters. Call after every emission.
func (p *Progress) AddCell(size int64) {
	p.batchCount++
	p.sizeCount += size
}

// CheckTimeLimit reports TimeLimitReached if scope's deadline has
// passed, else MoreValues.
func (p *Progress) CheckTimeLimit(scope Scope) NextState {
	limits := p.limitsFor(scope)
	if limits.Deadline.IsZero() {
		return MoreValues
	}
	if p.clock().After(limits.Deadline) {
		return TimeLimitReached
	}
	return MoreValues
}

// CheckBatchAndSize reports BatchLimitReached or SizeLimitReached if
// scope's counters have crossed their limit, else MoreValues.
func (p *Progress) CheckBatchAndSize(scope Scope) NextState {
	limits := p.limitsFor(scope)
	if limits.BatchLimit > 0 && p.batchCount >= limits.BatchLimit {
		return BatchLimitReached
	}
	if limits.SizeLimit > 0 && p.sizeCount >= limits.SizeLimit {
		return SizeLimitReached
	}
	return MoreValues
}

func (p *Progress) limitsFor(scope Scope) Limits {
	if scope == BetweenRows {
		return p.BetweenRows
	}
	return p.BetweenCells
}

func (p *Progress) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}
