package store

import (
	"github.com/colfam/storescan/memtable"
	"github.com/colfam/storescan/sstable"
)

// MemSubScanner is a SubScanner over a frozen memtable snapshot. Like
// FileSubScanner, it filters by MVCC read point as it walks.
type MemSubScanner struct {
	scanner   *memtable.Scanner[Cell, *Cell]
	readPoint uint64
	maxTS     uint64
	done      bool
}

// NewMemSubScanner wraps a memtable snapshot (see MemStore.Snapshot) as a
// SubScanner bound to readPoint.
func NewMemSubScanner(items []*Cell, readPoint uint64) *MemSubScanner {
	keyOf := func(item *Cell) *Cell { return item }
	scanner := memtable.NewSnapshotScanner(items, keyOf, memKeyCompare)

	var maxTS uint64
	for _, it := range items {
		if it.Timestamp > maxTS {
			maxTS = it.Timestamp
		}
	}

	return &MemSubScanner{scanner: scanner, readPoint: readPoint, maxTS: maxTS}
}

func (m *MemSubScanner) Peek() *Cell {
	if m.done {
		return nil
	}
	return m.scanner.Peek()
}

func (m *MemSubScanner) Advance() error {
	if m.done {
		return nil
	}
	if !m.scanner.Next() {
		m.done = true
		return nil
	}
	return m.skipToVisible()
}

func (m *MemSubScanner) Seek(key []byte) error {
	parsed, err := sstable.ParseCellKey(key)
	if err != nil {
		return err
	}
	if !m.scanner.Seek(parsed) {
		m.done = true
		return nil
	}
	m.done = false
	return m.skipToVisible()
}

// Reseek has no cheaper path than Seek over a frozen, binary-searchable
// snapshot.
func (m *MemSubScanner) Reseek(key []byte) error {
	return m.Seek(key)
}

// RequestSeek has no bloom filter to prove emptiness against, so it
// always materializes the seek.
func (m *MemSubScanner) RequestSeek(key []byte, forward, useBloom bool) error {
	return m.Seek(key)
}

// NextIndexedKey is always nil: a memtable snapshot has no block
// structure to hint a skip distance with.
func (m *MemSubScanner) NextIndexedKey() []byte { return nil }

func (m *MemSubScanner) IsFileScanner() bool { return false }

func (m *MemSubScanner) ShouldUse(ttlCutoff int64) bool {
	if ttlCutoff > 0 && m.maxTS < uint64(ttlCutoff) {
		return false
	}
	return true
}

func (m *MemSubScanner) Close() error {
	m.done = true
	return nil
}

// skipToVisible advances past cells not yet visible at m.readPoint.
func (m *MemSubScanner) skipToVisible() error {
	for {
		c := m.scanner.Peek()
		if c == nil {
			m.done = true
			return nil
		}
		if IsVisible(c, m.readPoint) {
			return nil
		}
		if !m.scanner.Next() {
			m.done = true
			return nil
		}
	}
}
