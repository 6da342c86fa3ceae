// Package scanner implements StoreScanner, the single-threaded cursor
// that merges every SubScanner backing a column family (the active
// memstore plus each immutable segment file) into one ordered cell
// stream, applying a match.Policy to decide what to keep, skip, or seek
// past.
package scanner

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/colfam/storescan/heap"
	"github.com/colfam/storescan/match"
	"github.com/colfam/storescan/progress"
	"github.com/colfam/storescan/scanspec"
	"github.com/colfam/storescan/seek"
	"github.com/colfam/storescan/selector"
	"github.com/colfam/storescan/sstable"
	"github.com/colfam/storescan/store"
)

// Cell is the unit emitted by a StoreScanner.
type Cell = sstable.Cell

// lazySeekEnabled is the process-global lazy-seek toggle. It defaults on;
// tests may flip it to exercise the non-lazy path deterministically.
var lazySeekEnabled atomic.Bool

func init() { lazySeekEnabled.Store(true) }

// SetLazySeekEnabledForTest overrides the process-global lazy-seek flag.
func SetLazySeekEnabledForTest(enabled bool) { lazySeekEnabled.Store(enabled) }

// Store is the collaborator StoreScanner pulls SubScanners from and
// registers as a flush observer with. store.ColumnFamilyStore implements
// it; tests may supply a stub.
type Store interface {
	GetScanners(ctx context.Context, usePread bool, readPoint uint64) ([]heap.SubScanner, error)
	GetScannersForFiles(names []string, readPoint uint64) ([]heap.SubScanner, error)
	StorefilesCount() int
	AllocateReadPoint() uint64
	AddChangedReaderObserver(obs store.FlushObserver) int
	DeleteChangedReaderObserver(id int)
}

// StoreScanner merges a column family's SubScanners into one ordered
// stream of cells visible at a fixed MVCC read point.
type StoreScanner struct {
	mu sync.Mutex

	store Store
	scan  *scanspec.Scan
	info  *scanspec.Info
	policy match.Policy

	readPoint    uint64
	ttlCutoff    int64
	isCompaction bool
	usePread     bool
	closing      bool

	currentScanners []heap.SubScanner
	heap            *heap.MergeHeap

	flushMu            sync.Mutex
	flushed            atomic.Bool
	pendingFiles       []string
	pendingMemScanners []heap.SubScanner

	delayedClose []heap.SubScanner

	observerID  int
	hasObserver bool

	prevTop  *Cell // last cell returned by heap.Peek, owned by the source
	prevCell *Cell // deep copy, stable past shipped()

	kvsScanned  uint64
	bytesRead   int64
	countPerRow int
	rowBytes    int64
	lastEmitOK  bool

	cellsPerHeartbeat int
	preadMaxBytes     int64
}

const defaultPreadMaxBytesMultiplier = 4

// NewUserScan constructs a StoreScanner over st for a client scan. It
// acquires a fresh view of st's current files and memstore, seeks every
// candidate to the scan's start key, and registers as a flush observer.
func NewUserScan(ctx context.Context, st Store, scan *scanspec.Scan, info *scanspec.Info, nowMillis int64) (*StoreScanner, error) {
	if scan.Raw && len(scan.Columns) > 0 {
		return nil, errInvalidScan("raw scan cannot specify explicit columns")
	}

	ttlCutoff := resolveTTLCutoff(scan, info, nowMillis)
	policy := match.NewUserScanPolicy(scan, info, ttlCutoff)

	readPoint := scan.ReadPoint
	if readPoint == 0 {
		readPoint = st.AllocateReadPoint()
	}

	usePread := scan.ReadType != scanspec.ReadTypeStream
	candidates, err := st.GetScanners(ctx, usePread, readPoint)
	if err != nil {
		return nil, errIO("get scanners", err)
	}

	selected, err := selector.Select(candidates, int64(ttlCutoff), selector.Filter{})
	if err != nil {
		return nil, errIO("select scanners", err)
	}

	ss := &StoreScanner{
		store:             st,
		scan:              scan,
		info:              info,
		policy:            policy,
		readPoint:         readPoint,
		ttlCutoff:         int64(ttlCutoff),
		usePread:          usePread,
		currentScanners:   selected,
		cellsPerHeartbeat: heartbeatCadence(info),
		preadMaxBytes:     preadThreshold(info),
	}

	startKey := sstable.EncodeKey(policy.StartKey())
	if err := ss.seekConstruction(ctx, selected, startKey); err != nil {
		closeAll(selected)
		return nil, err
	}

	mh, err := heap.New(selected)
	if err != nil {
		closeAll(selected)
		return nil, errIO("build heap", err)
	}
	ss.heap = mh

	ss.observerID = st.AddChangedReaderObserver(ss)
	ss.hasObserver = true
	return ss, nil
}

// NewCompactionScan constructs a StoreScanner over the supplied
// scanners for a compaction pass: no lazy seek, no parallel seek, and no
// flush observation (compactions work from a fixed file set).
func NewCompactionScan(scanners []heap.SubScanner, policy match.Policy, readPoint uint64, ttlCutoff int64) (*StoreScanner, error) {
	selected, err := selector.Select(scanners, ttlCutoff, selector.Filter{})
	if err != nil {
		return nil, errIO("select scanners", err)
	}

	ss := &StoreScanner{
		policy:            policy,
		readPoint:         readPoint,
		ttlCutoff:         ttlCutoff,
		isCompaction:      true,
		currentScanners:   selected,
		cellsPerHeartbeat: progress.DefaultCellsPerHeartbeatCheck,
	}

	startKey := sstable.EncodeKey(policy.StartKey())
	for _, s := range selected {
		if err := s.Seek(startKey); err != nil {
			closeAll(selected)
			return nil, errIO("seek construction", err)
		}
	}

	mh, err := heap.New(selected)
	if err != nil {
		closeAll(selected)
		return nil, errIO("build heap", err)
	}
	ss.heap = mh
	return ss, nil
}

// NewForTest builds a StoreScanner directly from pre-positioned
// scanners and a policy, skipping any store interaction. Used by tests
// that want to drive the merge loop against a hand-built SubScanner set.
func NewForTest(scanners []heap.SubScanner, policy match.Policy, readPoint uint64) (*StoreScanner, error) {
	mh, err := heap.New(scanners)
	if err != nil {
		return nil, errIO("build heap", err)
	}
	return &StoreScanner{
		policy:            policy,
		readPoint:         readPoint,
		currentScanners:   scanners,
		heap:              mh,
		cellsPerHeartbeat: progress.DefaultCellsPerHeartbeatCheck,
	}, nil
}

func resolveTTLCutoff(scan *scanspec.Scan, info *scanspec.Info, nowMillis int64) uint64 {
	if info.MinVersions > 0 {
		return 0
	}
	return uint64(info.OldestUnexpiredTimestamp(nowMillis))
}

func heartbeatCadence(info *scanspec.Info) int {
	if info != nil && info.CellsPerHeartbeatCheck > 0 {
		return info.CellsPerHeartbeatCheck
	}
	return progress.DefaultCellsPerHeartbeatCheck
}

func preadThreshold(info *scanspec.Info) int64 {
	if info != nil && info.PreadMaxBytes > 0 {
		return info.PreadMaxBytes
	}
	return defaultPreadMaxBytesMultiplier * 64 * 1024
}

func closeAll(scanners []heap.SubScanner) {
	for _, s := range scanners {
		s.Close()
	}
}

// seekConstruction positions every candidate scanner at key, using lazy
// seek when the scan names explicit columns, parallel seek when enabled
// and more than one file is in play, and a plain sequential seek
// otherwise.
func (ss *StoreScanner) seekConstruction(ctx context.Context, scanners []heap.SubScanner, key []byte) error {
	if ss.scan != nil && ss.scan.ExplicitColumns() && lazySeekEnabled.Load() {
		for _, s := range scanners {
			if err := s.RequestSeek(key, true, true); err != nil {
				return errIO("lazy seek construction", err)
			}
		}
		return nil
	}
	if ss.info != nil && ss.info.ParallelSeekEnable && ss.store != nil && ss.store.StorefilesCount() > 1 {
		if err := seek.Parallel(ctx, scanners, key); err != nil {
			return errIO("parallel seek construction", err)
		}
		return nil
	}
	for _, s := range scanners {
		if err := s.Seek(key); err != nil {
			return errIO("seek construction", err)
		}
	}
	return nil
}

// seekReopen positions newly-selected post-flush candidates at key. It
// never defers via RequestSeek: the reopened candidates must already be
// sitting at the pre-flush top by the time reopenAfterFlush rebuilds the
// heap, so only parallel-seek (when enabled) or a plain sequential seek
// are eligible here.
func (ss *StoreScanner) seekReopen(ctx context.Context, scanners []heap.SubScanner, key []byte) error {
	if ss.info != nil && ss.info.ParallelSeekEnable && ss.store != nil && ss.store.StorefilesCount() > 1 {
		if err := seek.Parallel(ctx, scanners, key); err != nil {
			return errIO("parallel seek reopen", err)
		}
		return nil
	}
	for _, s := range scanners {
		if err := s.Seek(key); err != nil {
			return errIO("seek reopen", err)
		}
	}
	return nil
}

// Peek returns the current cell without advancing, or nil at end of
// scan.
func (ss *StoreScanner) Peek() *Cell {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.heap.Peek()
}

// GetReadPoint returns the MVCC read point this scanner is fixed to.
func (ss *StoreScanner) GetReadPoint() uint64 { return ss.readPoint }

// GetEstimatedNumberOfKvsScanned returns the running count of distinct
// cells this scanner has looked at, including skipped ones.
func (ss *StoreScanner) GetEstimatedNumberOfKvsScanned() uint64 {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.kvsScanned
}

// Next advances the scan, appending matching cells to out, and returns
// the terminal state for this call.
func (ss *StoreScanner) Next(ctx context.Context, out *[]*Cell, prog *progress.Progress) (progress.NextState, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.flushed.Load() && !ss.closing {
		changed, err := ss.reopenAfterFlush(ctx)
		if err != nil {
			return progress.NoMoreValues, err
		}
		if changed {
			return progress.MoreValues, nil
		}
	}

	top := ss.heap.Peek()
	if top == nil {
		ss.drainLocked()
		return progress.NoMoreValues, nil
	}

	if !prog.BetweenCells.Active() || ss.policy.CurrentRow() == nil {
		ss.countPerRow = 0
		ss.rowBytes = 0
		ss.policy.SetToNewRow(top)
	}
	prog.Reset()

	emitted := false

	for {
		top = ss.heap.Peek()
		if top == nil {
			break
		}

		if ss.cellsPerHeartbeat > 0 && ss.kvsScanned%uint64(ss.cellsPerHeartbeat) == 0 {
			if st := prog.CheckTimeLimit(progress.BetweenCells); st != progress.MoreValues {
				return st, nil
			}
		}
		if ss.prevTop != top {
			ss.kvsScanned++
		}
		if ss.prevTop != nil && store.CompareCell(ss.prevTop, top) > 0 {
			return progress.NoMoreValues, errAssertion("cell order regressed within one next() call")
		}
		ss.bytesRead += cellSize(top)
		ss.prevTop = top

		code, err := ss.policy.Match(top)
		if err != nil {
			return progress.NoMoreValues, err
		}

		switch code {
		case match.INCLUDE, match.INCLUDE_AND_SEEK_NEXT_COL, match.INCLUDE_AND_SEEK_NEXT_ROW:
			st, err := ss.dispatchInclude(ctx, top, code, out, prog)
			if err != nil {
				return progress.NoMoreValues, err
			}
			if st == progress.NoMoreValues {
				return progress.NoMoreValues, nil
			}
			if st != progress.MoreValues {
				return st, nil
			}
			if ss.lastEmitOK {
				emitted = true
			}

		case match.DONE:
			if ss.scan != nil && ss.scan.Get {
				ss.drainLocked()
				return progress.NoMoreValues, nil
			}
			ss.policy.ClearCurrentRow()
			if st := ss.checkRowBoundary(prog); st != progress.MoreValues {
				return st, nil
			}
			return progress.MoreValues, nil

		case match.DONE_SCAN:
			ss.drainLocked()
			return progress.NoMoreValues, nil

		case match.SEEK_NEXT_ROW:
			if !ss.policy.MoreRowsMayExistAfter(top) {
				ss.drainLocked()
				return progress.NoMoreValues, nil
			}
			ss.policy.ClearCurrentRow()
			if err := ss.seekOrSkipToNextRow(top); err != nil {
				return progress.NoMoreValues, err
			}
			if st := ss.checkRowBoundary(prog); st != progress.MoreValues {
				return st, nil
			}

		case match.SEEK_NEXT_COL:
			if err := ss.seekOrSkipToNextColumn(top); err != nil {
				return progress.NoMoreValues, err
			}

		case match.SKIP:
			if err := ss.heap.Advance(); err != nil {
				return progress.NoMoreValues, errIO("advance", err)
			}

		case match.SEEK_USING_HINT:
			hint := ss.policy.GetNextKeyHint(top)
			if hint != nil {
				if err := ss.reseekViaHeap(hint); err != nil {
					return progress.NoMoreValues, err
				}
			} else if err := ss.heap.Advance(); err != nil {
				return progress.NoMoreValues, errIO("advance", err)
			}
		}
	}

	if emitted {
		return progress.MoreValues, nil
	}
	ss.drainLocked()
	return progress.NoMoreValues, nil
}

// lastEmitOK records whether dispatchInclude actually appended a cell on
// its most recent call, since the per-row offset can suppress emission
// even on an INCLUDE code.
func (ss *StoreScanner) dispatchInclude(ctx context.Context, top *Cell, code match.MatchCode, out *[]*Cell, prog *progress.Progress) (progress.NextState, error) {
	ss.lastEmitOK = false

	cell := top
	if ss.scan != nil && ss.scan.Filter != nil {
		cell = ss.scan.Filter.TransformCell(cell)
	}
	ss.countPerRow++

	if ss.scan != nil && ss.scan.StoreLimit > -1 && ss.countPerRow > ss.scan.StoreLimit+ss.scan.StoreOffset {
		if !ss.policy.MoreRowsMayExistAfter(top) {
			ss.drainLocked()
			return progress.NoMoreValues, nil
		}
		ss.policy.ClearCurrentRow()
		if err := ss.seekToNextRow(top); err != nil {
			return progress.NoMoreValues, err
		}
		if st := ss.checkRowBoundary(prog); st != progress.MoreValues {
			return st, nil
		}
		return progress.MoreValues, nil
	}

	if ss.scan == nil || ss.countPerRow > ss.scan.StoreOffset {
		size := cellSize(cell)
		*out = append(*out, cell)
		ss.lastEmitOK = true
		prog.AddCell(size)

		if ss.policy.IsUserScan() && ss.info != nil && ss.info.MaxRowSizeBytes > 0 {
			ss.rowBytes += size
			if ss.rowBytes > ss.info.MaxRowSizeBytes {
				return progress.NoMoreValues, errRowTooBig(fmt.Sprintf("row exceeds %d bytes", ss.info.MaxRowSizeBytes))
			}
		}
	}

	switch code {
	case match.INCLUDE_AND_SEEK_NEXT_ROW:
		if err := ss.seekOrSkipToNextRow(top); err != nil {
			return progress.NoMoreValues, err
		}
	case match.INCLUDE_AND_SEEK_NEXT_COL:
		if err := ss.seekOrSkipToNextColumn(top); err != nil {
			return progress.NoMoreValues, err
		}
	default:
		if err := ss.heap.Advance(); err != nil {
			return progress.NoMoreValues, errIO("advance", err)
		}
	}

	if st := prog.CheckBatchAndSize(progress.BetweenCells); st != progress.MoreValues {
		return st, nil
	}
	return progress.MoreValues, nil
}

// checkRowBoundary evaluates prog's row-scoped limits at a point where
// the scan has just crossed from one row into the next. Unlike the
// cell-scoped checks, which run on every emission or on a heartbeat
// cadence, a row-scoped limit is only ever checked here.
func (ss *StoreScanner) checkRowBoundary(prog *progress.Progress) progress.NextState {
	if st := prog.CheckTimeLimit(progress.BetweenRows); st != progress.MoreValues {
		return st
	}
	return prog.CheckBatchAndSize(progress.BetweenRows)
}

func cellSize(c *Cell) int64 {
	return int64(len(c.Row) + len(c.Family) + len(c.Qualifier) + len(c.Value) + len(c.Tags) + 25)
}

// Seek repositions the scanner at the first cell >= key, returning
// whether the scan has more cells.
func (ss *StoreScanner) Seek(ctx context.Context, key []byte) (bool, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.flushed.Load() && !ss.closing {
		if _, err := ss.reopenAfterFlush(ctx); err != nil {
			return false, err
		}
	}

	if err := ss.heap.Seek(key); err != nil {
		return false, errIO("seek", err)
	}
	top := ss.heap.Peek()
	if top != nil {
		ss.policy.SetToNewRow(top)
	} else {
		ss.policy.ClearCurrentRow()
	}
	return top != nil, nil
}

// Reseek is like Seek but requires key >= the scanner's current
// position.
func (ss *StoreScanner) Reseek(ctx context.Context, key []byte) (bool, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if err := ss.heap.Reseek(key); err != nil {
		return false, errIO("reseek", err)
	}
	top := ss.heap.Peek()
	if top != nil {
		ss.policy.SetToNewRow(top)
	} else {
		ss.policy.ClearCurrentRow()
	}
	return top != nil, nil
}

// drainLocked retires every scanner the heap still holds into the
// delayed-close list rather than closing them immediately, since cells
// already returned to the caller from this batch may still point into
// their blocks until Shipped fires. Callers hold ss.mu.
func (ss *StoreScanner) drainLocked() {
	if ss.hasObserver {
		ss.store.DeleteChangedReaderObserver(ss.observerID)
		ss.hasObserver = false
	}
	ss.closing = true
	ss.delayedClose = append(ss.delayedClose, ss.heap.Members()...)
	ss.currentScanners = nil
}

// Close marks the scanner closing, deregisters as a flush observer, and
// releases every resource it still owns, closing the scanners on the
// delayed-close list at once rather than waiting for Shipped.
func (ss *StoreScanner) Close() error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	ss.closing = true
	if ss.hasObserver {
		ss.store.DeleteChangedReaderObserver(ss.observerID)
		ss.hasObserver = false
	}

	closeAll(ss.delayedClose)
	ss.delayedClose = nil

	ss.flushMu.Lock()
	closeAll(ss.pendingMemScanners)
	ss.pendingMemScanners = nil
	ss.pendingFiles = nil
	ss.flushMu.Unlock()

	err := ss.heap.Close()
	ss.currentScanners = nil
	return err
}

// CloseDeferred is the drain-at-end-of-data variant: it behaves like
// Close but moves the heap's scanners into the delayed-close list
// instead of closing them immediately, since cells already returned to
// the caller may still point into their blocks until Shipped fires.
func (ss *StoreScanner) CloseDeferred() error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	ss.drainLocked()
	return nil
}

func (ss *StoreScanner) reseekViaHeap(hint *Cell) error {
	key := sstable.EncodeKey(hint)
	if ss.lazyEligible() {
		if err := ss.heap.RequestSeek(key, true, true); err != nil {
			return errIO("lazy reseek", err)
		}
		return nil
	}
	if err := ss.heap.Reseek(key); err != nil {
		return errIO("reseek", err)
	}
	return nil
}

func (ss *StoreScanner) lazyEligible() bool {
	return !ss.isCompaction && ss.scan != nil && ss.scan.ExplicitColumns() && lazySeekEnabled.Load()
}
