package store

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/colfam/storescan/sstable"
)

// FileSubScanner is a SubScanner over one immutable segment file. It
// filters cells by MVCC read point as it walks the file, so every cell
// Peek returns is already visible to the scan's read point.
type FileSubScanner struct {
	name    string
	reader  *sstable.Reader
	scanner *sstable.Scanner
	closer  io.Closer

	readPoint uint64
	done      bool
}

// NewFileSubScanner wraps reader as a SubScanner. name identifies the
// backing file (used to resolve it again on a pread->stream reopen);
// closer, if non-nil, is closed when Close is called.
func NewFileSubScanner(name string, reader *sstable.Reader, closer io.Closer, readPoint uint64) *FileSubScanner {
	return &FileSubScanner{
		name:      name,
		reader:    reader,
		scanner:   reader.Scanner(),
		closer:    closer,
		readPoint: readPoint,
	}
}

// Name returns the backing file's identifier.
func (f *FileSubScanner) Name() string { return f.name }

func (f *FileSubScanner) Peek() *Cell {
	if f.done {
		return nil
	}
	return f.scanner.Cell()
}

func (f *FileSubScanner) Advance() error {
	if f.done {
		return nil
	}
	if !f.scanner.Next() {
		if err := f.scanner.Err(); err != nil {
			return fmt.Errorf("store: file %s: advance: %w", f.name, err)
		}
		f.done = true
		return nil
	}
	return f.skipToVisible()
}

func (f *FileSubScanner) Seek(key []byte) error {
	if !f.scanner.Seek(key) {
		if err := f.scanner.Err(); err != nil {
			return fmt.Errorf("store: file %s: seek: %w", f.name, err)
		}
		f.done = true
		return nil
	}
	f.done = false
	return f.skipToVisible()
}

// Reseek has no cheaper path over a file than a fresh Seek: the scanner's
// index-tree walk already starts from the root, not from the current
// position.
func (f *FileSubScanner) Reseek(key []byte) error {
	return f.Seek(key)
}

func (f *FileSubScanner) RequestSeek(key []byte, forward, useBloom bool) error {
	if useBloom {
		if bf := f.reader.BloomFilter(); bf != nil {
			if parsed, err := sstable.ParseCellKey(key); err == nil {
				may, err := bf.MayContain(parsed.Row)
				if err != nil {
					return fmt.Errorf("store: file %s: bloom check: %w", f.name, err)
				}
				if !may {
					f.done = true
					return nil
				}
			}
		}
	}
	return f.Seek(key)
}

func (f *FileSubScanner) NextIndexedKey() []byte {
	if f.done {
		return nil
	}
	return f.scanner.NextIndexedKey()
}

func (f *FileSubScanner) IsFileScanner() bool { return true }

func (f *FileSubScanner) ShouldUse(ttlCutoff int64) bool {
	fi := f.reader.FileInfo()
	if ttlCutoff > 0 {
		if v, ok := fi[sstable.FileInfoMaxTimestamp]; ok && len(v) == 8 {
			maxTS := int64(binary.BigEndian.Uint64(v))
			if maxTS < ttlCutoff {
				return false
			}
		}
	}
	return true
}

// skipToVisible advances past cells not yet visible at f.readPoint.
func (f *FileSubScanner) skipToVisible() error {
	for {
		c := f.scanner.Cell()
		if c == nil {
			f.done = true
			return nil
		}
		if IsVisible(c, f.readPoint) {
			return nil
		}
		if !f.scanner.Next() {
			if err := f.scanner.Err(); err != nil {
				return fmt.Errorf("store: file %s: skip to visible: %w", f.name, err)
			}
			f.done = true
			return nil
		}
	}
}

func (f *FileSubScanner) Close() error {
	f.done = true
	if f.closer != nil {
		return f.closer.Close()
	}
	return nil
}
