// Package heap provides the merge-heap that presents many per-source cell
// cursors as a single ordered stream, and the SubScanner interface those
// cursors implement.
package heap

import (
	"container/heap"

	"github.com/colfam/storescan/sstable"
)

// Cell is the unit SubScanners and the merge heap operate on.
type Cell = sstable.Cell

// SubScanner is a cursor over one source: one segment file, or one
// memstore snapshot. StoreScanner owns a set of these for the lifetime of
// a scan; MergeHeap orders them by their current cell.
type SubScanner interface {
	// Peek returns the current cell, or nil at end. Idempotent.
	Peek() *Cell
	// Advance discards the current cell and moves to the next.
	Advance() error
	// Seek positions at the first cell >= key. Always advances at least
	// past cells < key, even if none are found.
	Seek(key []byte) error
	// Reseek is like Seek but requires key >= the current position; it
	// may be implemented more cheaply than a full Seek.
	Reseek(key []byte) error
	// RequestSeek is a deferred seek: the SubScanner need not actually
	// seek until its next Peek if it can prove, via bloom filter, that
	// doing so would find no cell >= key. forward and useBloom mirror
	// the two knobs the lazy-seek optimization needs.
	RequestSeek(key []byte, forward, useBloom bool) error
	// NextIndexedKey returns the key at the next sparse-index entry in
	// this scanner's source (typically the first key of the next
	// block), or nil for memstore scanners and for the last block.
	NextIndexedKey() []byte
	// IsFileScanner distinguishes file sources from memstore sources.
	IsFileScanner() bool
	// ShouldUse reports whether this scanner can contribute any cell to
	// the given scan, judged from its bloom filter, min/max timestamps,
	// and file metadata.
	ShouldUse(ttlCutoff int64) bool
	// Close releases resources held by the scanner.
	Close() error
}

// entry pairs a SubScanner with its priority order: lower order is higher
// priority (a newer file, or the memstore ahead of any file).
type entry struct {
	s     SubScanner
	order int64
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	return compareWithOrder(h[i].s.Peek(), h[j].s.Peek(), h[i].order, h[j].order) < 0
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(*entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

// compareFn is injected by the caller via SetComparator so this package
// does not need to import the store package's comparator and create a
// cycle. Until SetComparator is called it reports every pair of cells as
// equal, so compareWithOrder orders members by scanner priority alone.
var compareFn = func(a, b *Cell) int { return 0 }

func compareWithOrder(a, b *Cell, aOrder, bOrder int64) int {
	if cmp := compareFn(a, b); cmp != 0 {
		return cmp
	}
	if aOrder < bOrder {
		return -1
	}
	if aOrder > bOrder {
		return 1
	}
	return 0
}

// SetComparator installs the cell comparator MergeHeap orders by. Must be
// called once, before the first MergeHeap is constructed; callers
// typically do this from an init path that wires store.CompareCell in.
func SetComparator(cmp func(a, b *Cell) int) {
	compareFn = cmp
}

// MergeHeap is a min-heap over SubScanners, ordered by each scanner's
// current cell. It mirrors the "keep the minimum outside the heap" shape
// used by this package's ancestor, trading one extra field for fewer heap
// operations per step.
type MergeHeap struct {
	h   entryHeap
	cur *entry
	err error
}

// New builds a MergeHeap from scanners, newest-source-first: the slice
// order assigns priority, with index 0 treated as highest priority. Each
// scanner must already be positioned (via Seek) before being passed in;
// New does not advance them.
func New(scanners []SubScanner) (*MergeHeap, error) {
	mh := &MergeHeap{}
	for i, s := range scanners {
		if s.Peek() != nil {
			mh.h = append(mh.h, &entry{s: s, order: int64(i)})
		}
	}
	heap.Init(&mh.h)
	if len(mh.h) > 0 {
		mh.cur = heap.Pop(&mh.h).(*entry)
	}
	return mh, nil
}

// Peek returns the current minimum cell across all member scanners, or nil
// if the heap is empty.
func (mh *MergeHeap) Peek() *Cell {
	if mh.cur == nil {
		return nil
	}
	return mh.cur.s.Peek()
}

// Top returns the SubScanner currently holding the minimum cell, or nil.
func (mh *MergeHeap) Top() SubScanner {
	if mh.cur == nil {
		return nil
	}
	return mh.cur.s
}

// Advance moves the current top scanner forward and restores the heap
// invariant. When the top's Peek becomes nil it is popped — not closed;
// ownership of the drained scanner passes to the caller.
func (mh *MergeHeap) Advance() error {
	if mh.cur == nil {
		return nil
	}
	cur := mh.cur
	if err := cur.s.Advance(); err != nil {
		mh.err = err
		mh.cur = nil
		return err
	}
	return mh.reseat(cur)
}

// Seek positions the current top at the first cell >= key and restores the
// heap invariant. Only the current top is seeked directly; callers that
// need every member seeked (e.g. construction, reopen) should seek each
// SubScanner before calling New, or use ParallelSeeker.
func (mh *MergeHeap) Seek(key []byte) error {
	if mh.cur == nil {
		return nil
	}
	cur := mh.cur
	if err := cur.s.Seek(key); err != nil {
		mh.err = err
		mh.cur = nil
		return err
	}
	return mh.reseat(cur)
}

// Reseek is like Seek but delegates to the top scanner's cheaper Reseek.
func (mh *MergeHeap) Reseek(key []byte) error {
	if mh.cur == nil {
		return nil
	}
	cur := mh.cur
	if err := cur.s.Reseek(key); err != nil {
		mh.err = err
		mh.cur = nil
		return err
	}
	return mh.reseat(cur)
}

// RequestSeek delegates a deferred seek to the current top.
func (mh *MergeHeap) RequestSeek(key []byte, forward, useBloom bool) error {
	if mh.cur == nil {
		return nil
	}
	cur := mh.cur
	if err := cur.s.RequestSeek(key, forward, useBloom); err != nil {
		mh.err = err
		mh.cur = nil
		return err
	}
	return mh.reseat(cur)
}

// NextIndexedKey delegates to the current top scanner.
func (mh *MergeHeap) NextIndexedKey() []byte {
	if mh.cur == nil {
		return nil
	}
	return mh.cur.s.NextIndexedKey()
}

// reseat re-homes cur after one of its state-changing operations: push it
// back onto the heap if it still has a cell, then pop the new minimum.
func (mh *MergeHeap) reseat(cur *entry) error {
	if cur.s.Peek() != nil {
		heap.Push(&mh.h, cur)
	}
	if len(mh.h) > 0 {
		mh.cur = heap.Pop(&mh.h).(*entry)
	} else {
		mh.cur = nil
	}
	return nil
}

// Drained reports whether every member scanner has been exhausted.
func (mh *MergeHeap) Drained() bool { return mh.cur == nil && len(mh.h) == 0 }

// Err returns any error recorded during a state-changing operation.
func (mh *MergeHeap) Err() error { return mh.err }

// Members returns every SubScanner still tracked by the heap (the current
// top plus everything still queued), in no particular order. Used by
// lifecycle operations (close, reopen, read-mode switch) that must touch
// every live scanner.
func (mh *MergeHeap) Members() []SubScanner {
	out := make([]SubScanner, 0, len(mh.h)+1)
	if mh.cur != nil {
		out = append(out, mh.cur.s)
	}
	for _, e := range mh.h {
		out = append(out, e.s)
	}
	return out
}

// Close closes every member scanner and empties the heap. Errors from
// individual Close calls are collected and the first is returned; all
// scanners are attempted regardless.
func (mh *MergeHeap) Close() error {
	var firstErr error
	for _, s := range mh.Members() {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	mh.h = nil
	mh.cur = nil
	return firstErr
}

// Shipped is broadcast to every member scanner once the caller has
// acknowledged that previously emitted cells are now stable.
func (mh *MergeHeap) Shipped() error {
	var firstErr error
	for _, s := range mh.Members() {
		if ss, ok := s.(interface{ Shipped() error }); ok {
			if err := ss.Shipped(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
