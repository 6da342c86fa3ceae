package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/colfam/storescan/heap"
	"github.com/colfam/storescan/memtable"
	"github.com/colfam/storescan/sstable"
	"github.com/colfam/storescan/storage"
)

func init() {
	heap.SetComparator(CompareCell)
}

// FlushObserver is the callback interface a StoreScanner registers with a
// ColumnFamilyStore to hear about flushes while it is mid-scan. ReadPoint
// lets the store build memtable SubScanners already filtered to the
// observer's own MVCC visibility.
type FlushObserver interface {
	ReadPoint() uint64
	UpdateReaders(newFiles []string, newMemScanners []heap.SubScanner)
}

type storedFile struct {
	name   string
	reader *sstable.Reader
	close  func()
}

// ColumnFamilyStore is the Store collaborator: it tracks the live
// memtable generation and the immutable segment files backing one column
// family, allocates MVCC read points, and notifies registered scanners
// when a flush changes the set of files and memtable generations.
type ColumnFamilyStore struct {
	mu sync.RWMutex

	dir   string
	files []*storedFile

	active *memtable.MemStore[Cell, *Cell]

	seq atomic.Uint64

	observers      map[int]FlushObserver
	nextObserverID int
}

func cellKeyOf(item *Cell) *Cell { return item }

func cellSizeOf(item *Cell) int64 {
	return int64(len(item.Row) + len(item.Family) + len(item.Qualifier) + len(item.Value) + len(item.Tags) + 25)
}

// New creates an empty ColumnFamilyStore that flushes segment files under
// dir (a local path or gs:// prefix, per the storage package).
func New(dir string) *ColumnFamilyStore {
	return &ColumnFamilyStore{
		dir:       dir,
		active:    memtable.New(cellKeyOf, memKeyCompare, cellSizeOf),
		observers: make(map[int]FlushObserver),
	}
}

// Put writes cell into the active memtable, assigning it the next MVCC
// sequence number and returning it.
func (cfs *ColumnFamilyStore) Put(cell *Cell) uint64 {
	seq := cfs.seq.Add(1)
	cell.SequenceID = seq

	cfs.mu.RLock()
	active := cfs.active
	cfs.mu.RUnlock()

	active.Put(cell)
	return seq
}

// AllocateReadPoint returns the current sequence watermark: a scan that
// captures this value as its read point will see every cell committed
// before this call and no cell committed after it.
func (cfs *ColumnFamilyStore) AllocateReadPoint() uint64 {
	return cfs.seq.Load()
}

// Comparator returns the store's cell ordering.
func (cfs *ColumnFamilyStore) Comparator() func(a, b *Cell) int {
	return CompareCell
}

// StorefilesCount returns the number of immutable segment files currently
// backing this column family.
func (cfs *ColumnFamilyStore) StorefilesCount() int {
	cfs.mu.RLock()
	defer cfs.mu.RUnlock()
	return len(cfs.files)
}

// Storefiles returns the names of the immutable segment files currently
// backing this column family.
func (cfs *ColumnFamilyStore) Storefiles() []string {
	cfs.mu.RLock()
	defer cfs.mu.RUnlock()
	names := make([]string, len(cfs.files))
	for i, f := range cfs.files {
		names[i] = f.name
	}
	return names
}

// AddChangedReaderObserver registers obs to be notified on the next
// flush, and returns a handle for DeleteChangedReaderObserver.
func (cfs *ColumnFamilyStore) AddChangedReaderObserver(obs FlushObserver) int {
	cfs.mu.Lock()
	defer cfs.mu.Unlock()
	id := cfs.nextObserverID
	cfs.nextObserverID++
	cfs.observers[id] = obs
	return id
}

// DeleteChangedReaderObserver deregisters the observer registered under
// id. Safe to call more than once or with an id that was never
// registered.
func (cfs *ColumnFamilyStore) DeleteChangedReaderObserver(id int) {
	cfs.mu.Lock()
	defer cfs.mu.Unlock()
	delete(cfs.observers, id)
}

// GetScanners returns a fresh SubScanner per live segment file plus one
// over a snapshot of the current memtable, each filtered to readPoint.
// usePread selects how file SubScanners access their backing files (the
// distinction only matters to the caller's own read-mode bookkeeping;
// both modes read through the same sstable.Reader here).
func (cfs *ColumnFamilyStore) GetScanners(ctx context.Context, usePread bool, readPoint uint64) ([]heap.SubScanner, error) {
	cfs.mu.RLock()
	files := make([]*storedFile, len(cfs.files))
	copy(files, cfs.files)
	snapshot := cfs.active.Snapshot()
	cfs.mu.RUnlock()

	scanners := make([]heap.SubScanner, 0, len(files)+1)
	scanners = append(scanners, NewMemSubScanner(snapshot, readPoint))
	for _, f := range files {
		scanners = append(scanners, NewFileSubScanner(f.name, f.reader, nil, readPoint))
	}
	return scanners, nil
}

// GetScannersForFiles returns fresh SubScanners for exactly the named
// files, filtered to readPoint. Used by compaction scans and by
// reopenAfterFlush's store.scanners_for(new_files) call.
func (cfs *ColumnFamilyStore) GetScannersForFiles(names []string, readPoint uint64) ([]heap.SubScanner, error) {
	cfs.mu.RLock()
	defer cfs.mu.RUnlock()

	byName := make(map[string]*storedFile, len(cfs.files))
	for _, f := range cfs.files {
		byName[f.name] = f
	}

	scanners := make([]heap.SubScanner, 0, len(names))
	for _, name := range names {
		f, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("store: unknown segment file %q", name)
		}
		scanners = append(scanners, NewFileSubScanner(f.name, f.reader, nil, readPoint))
	}
	return scanners, nil
}

// OpenStoreFile opens an on-disk segment file at path and registers it so
// future GetScanners calls include it. Used to load a pre-existing
// column family at startup, outside of the flush pipeline.
func (cfs *ColumnFamilyStore) OpenStoreFile(ctx context.Context, path string) error {
	r, size, closeFn, err := storage.OpenFile(ctx, path)
	if err != nil {
		return fmt.Errorf("store: open %s: %w", path, err)
	}
	reader, err := sstable.Open(r, size)
	if err != nil {
		closeFn()
		return fmt.Errorf("store: open %s: %w", path, err)
	}

	cfs.mu.Lock()
	cfs.files = append(cfs.files, &storedFile{name: path, reader: reader, close: closeFn})
	cfs.mu.Unlock()
	return nil
}
