package store

import (
	"context"
	"fmt"

	"github.com/colfam/storescan/heap"
	"github.com/colfam/storescan/memtable"
	"github.com/colfam/storescan/sstable"
	"github.com/colfam/storescan/storage"
)

// Flush snapshots the active memtable into a new immutable segment file
// and notifies every registered FlushObserver. It is the producer side of
// the flush-observation-and-reopen protocol: it never touches an
// observer's heap or currentScanners directly, only hands it the raw
// ingredients (a new file name, a fresh memtable-tail SubScanner) it
// needs to rebuild them on its own next seek/next call.
//
// A flush with an empty memtable is a no-op: there is nothing to persist
// and no reader needs to hear about it.
func (cfs *ColumnFamilyStore) Flush(ctx context.Context) error {
	cfs.mu.Lock()
	oldActive := cfs.active
	newActive := memtable.New(cellKeyOf, memKeyCompare, cellSizeOf)
	cfs.active = newActive
	cfs.mu.Unlock()

	snapshot := oldActive.Snapshot()
	if len(snapshot) == 0 {
		cfs.mu.Lock()
		cfs.active = oldActive
		cfs.mu.Unlock()
		return nil
	}

	name := storage.JoinPath(cfs.dir, fmt.Sprintf("flush-%020d.sst", cfs.seq.Load()))
	if err := cfs.writeSegment(ctx, name, snapshot); err != nil {
		return fmt.Errorf("store: flush: %w", err)
	}

	r, size, closeFn, err := storage.OpenFile(ctx, name)
	if err != nil {
		return fmt.Errorf("store: flush: reopen %s: %w", name, err)
	}
	reader, err := sstable.Open(r, size)
	if err != nil {
		closeFn()
		return fmt.Errorf("store: flush: parse %s: %w", name, err)
	}

	cfs.mu.Lock()
	cfs.files = append(cfs.files, &storedFile{name: name, reader: reader, close: closeFn})
	observers := make([]FlushObserver, 0, len(cfs.observers))
	for _, obs := range cfs.observers {
		observers = append(observers, obs)
	}
	cfs.mu.Unlock()

	for _, obs := range observers {
		tail := newActive.Snapshot()
		memScanner := NewMemSubScanner(tail, obs.ReadPoint())
		obs.UpdateReaders([]string{name}, []heap.SubScanner{memScanner})
	}
	return nil
}

// writeSegment persists cells (already in ascending key order, as a
// memtable Snapshot guarantees) to a new segment file at name.
func (cfs *ColumnFamilyStore) writeSegment(ctx context.Context, name string, cells []*Cell) error {
	w, err := storage.CreateFile(ctx, name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}

	writer, err := sstable.NewWriter(w, sstable.WriterOptions{
		BloomEnabled:           true,
		BloomFalsePositiveRate: 0.01,
		MaxKeyCount:            int64(len(cells)),
		ComparatorClassName:    "storescan.CellComparator",
	})
	if err != nil {
		w.Close()
		return err
	}

	for _, c := range cells {
		if err := writer.Append(c); err != nil {
			w.Close()
			return fmt.Errorf("append cell: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		w.Close()
		return fmt.Errorf("finalize: %w", err)
	}
	return w.Close()
}
