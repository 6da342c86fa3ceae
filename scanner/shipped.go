package scanner

import (
	"context"

	"github.com/colfam/storescan/heap"
	"github.com/colfam/storescan/scanspec"
	"github.com/colfam/storescan/sstable"
)

// namedScanner is the subset of file-backed SubScanners that can be
// resolved back to a file handle by name, needed to reopen them in
// stream mode.
type namedScanner interface {
	Name() string
}

// Shipped tells the scanner that every cell returned by the last Next
// call is now stable in the caller's hands: it is safe to release
// anything those cells might have been borrowing from. Call once per
// Next call, after the caller is done with the returned cells.
func (ss *StoreScanner) Shipped(ctx context.Context) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.prevTop != nil {
		ss.prevCell = copyCell(ss.prevTop)
	}
	ss.policy.BeforeShipped()

	closeAll(ss.delayedClose)
	ss.delayedClose = nil

	if err := ss.heap.Shipped(); err != nil {
		return errIO("shipped", err)
	}

	ss.trySwitchToStream(ctx)
	return nil
}

func copyCell(c *Cell) *Cell {
	cp := *c
	cp.Row = append([]byte(nil), c.Row...)
	cp.Family = append([]byte(nil), c.Family...)
	cp.Qualifier = append([]byte(nil), c.Qualifier...)
	cp.Value = append([]byte(nil), c.Value...)
	cp.Tags = append([]byte(nil), c.Tags...)
	return &cp
}

// trySwitchToStream implements the pread->stream read-mode switch. It is
// best-effort: any failure is swallowed and the scanner continues in
// pread mode, per the read-mode-switch contract. Invoked only from
// Shipped, never from the main loop, so a caller mid-Next never
// observes its SubScanners changing out from under it.
func (ss *StoreScanner) trySwitchToStream(ctx context.Context) {
	if ss.scan == nil || ss.scan.ReadType != scanspec.ReadTypeDefault {
		return
	}
	if ss.info == nil || !ss.info.ScanUsePread || ss.closing {
		return
	}
	if ss.heap.Drained() {
		return
	}
	if ss.bytesRead < ss.preadMaxBytes {
		return
	}

	lastTop := ss.heap.Peek()

	var keep []heap.SubScanner
	var toReopen []heap.SubScanner
	var toCloseNow []heap.SubScanner
	for _, s := range ss.heap.Members() {
		if !s.IsFileScanner() {
			keep = append(keep, s)
			continue
		}
		if _, ok := s.(namedScanner); !ok {
			keep = append(keep, s)
			continue
		}
		if s.Peek() != nil {
			toReopen = append(toReopen, s)
		} else {
			toCloseNow = append(toCloseNow, s)
		}
	}
	if len(toReopen) == 0 {
		return
	}

	names := make([]string, len(toReopen))
	for i, s := range toReopen {
		names[i] = s.(namedScanner).Name()
	}

	newFileScanners, err := ss.store.GetScannersForFiles(names, ss.readPoint)
	if err != nil {
		return // best-effort: leave state unchanged, continue in pread mode
	}

	if lastTop != nil {
		key := sstable.EncodeKey(lastTop)
		for _, s := range newFileScanners {
			if err := s.Seek(key); err != nil {
				closeAll(newFileScanners)
				return
			}
		}
	}

	combined := append(keep, newFileScanners...)
	mh, err := heap.New(combined)
	if err != nil {
		closeAll(newFileScanners)
		return
	}

	ss.heap = mh
	ss.currentScanners = combined
	ss.usePread = false
	ss.bytesRead = 0

	if top := ss.heap.Peek(); top != nil {
		ss.policy.SetToNewRow(top)
	}

	closeAll(toReopen)
	closeAll(toCloseNow)
}
