package scanner

import (
	"bytes"
	"context"

	"github.com/colfam/storescan/heap"
	"github.com/colfam/storescan/selector"
	"github.com/colfam/storescan/sstable"
)

// ReadPoint implements store.FlushObserver, letting a flush build
// memstore SubScanners already filtered to this scanner's MVCC
// visibility.
func (ss *StoreScanner) ReadPoint() uint64 { return ss.readPoint }

// UpdateReaders implements store.FlushObserver. It is called by the
// flush thread concurrently with a reader mid-scan; it only touches the
// flush_lock-protected pending lists, never the heap or currentScanners
// directly, so the reader can keep consuming its pre-flush view until it
// next checks in.
func (ss *StoreScanner) UpdateReaders(newFiles []string, newMemScanners []heap.SubScanner) {
	ss.flushMu.Lock()
	defer ss.flushMu.Unlock()

	closeAll(ss.pendingMemScanners)
	ss.pendingFiles = append(ss.pendingFiles, newFiles...)
	ss.pendingMemScanners = newMemScanners
	ss.flushed.Store(true)
}

// reopenAfterFlush absorbs a pending flush into the live scanner set.
// Called from the scanner's own thread (the caller holds ss.mu) on the
// next Seek/Next once the flushed flag is observed set.
func (ss *StoreScanner) reopenAfterFlush(ctx context.Context) (bool, error) {
	lastTop := ss.heap.Peek()

	ss.flushMu.Lock()
	newFiles := ss.pendingFiles
	newMemScanners := ss.pendingMemScanners
	ss.pendingFiles = nil
	ss.pendingMemScanners = nil
	ss.flushed.Store(false)
	ss.flushMu.Unlock()

	var candidates []heap.SubScanner
	if len(newFiles) > 0 {
		fileScanners, err := ss.store.GetScannersForFiles(newFiles, ss.readPoint)
		if err != nil {
			closeAll(newMemScanners)
			return false, errIO("get scanners for new files", err)
		}
		candidates = append(candidates, fileScanners...)
	}
	candidates = append(candidates, newMemScanners...)
	if len(candidates) == 0 {
		return false, nil
	}

	selected, err := selector.Select(candidates, ss.ttlCutoff, selector.Filter{})
	if err != nil {
		closeAll(candidates)
		return false, err
	}

	if lastTop != nil {
		key := sstable.EncodeKey(lastTop)
		if err := ss.seekReopen(ctx, selected, key); err != nil {
			closeAll(selected)
			return false, err
		}
	}

	i := len(ss.currentScanners)
	for i > 0 && !ss.currentScanners[i-1].IsFileScanner() {
		ss.delayedClose = append(ss.delayedClose, ss.currentScanners[i-1])
		i--
	}
	retained := make([]heap.SubScanner, 0, i+len(selected))
	retained = append(retained, ss.currentScanners[:i]...)
	retained = append(retained, selected...)
	ss.currentScanners = retained

	mh, err := heap.New(retained)
	if err != nil {
		return false, errIO("rebuild heap after flush", err)
	}
	ss.heap = mh

	newTop := ss.heap.Peek()
	rowChanged := newTop == nil || lastTop == nil || !bytes.Equal(newTop.Row, lastTop.Row)
	if rowChanged {
		if newTop != nil {
			ss.policy.SetToNewRow(newTop)
		} else if lastTop != nil {
			ss.policy.SetToNewRow(lastTop)
		}
	}
	return rowChanged, nil
}
