package selector

import (
	"errors"
	"testing"

	"github.com/colfam/storescan/heap"
)

type fakeScanner struct {
	isFile    bool
	shouldUse bool
	closed    bool
	closeErr  error
}

func (f *fakeScanner) Peek() *heap.Cell                             { return nil }
func (f *fakeScanner) IsFileScanner() bool                          { return f.isFile }
func (f *fakeScanner) ShouldUse(ttlCutoff int64) bool                { return f.shouldUse }
func (f *fakeScanner) Close() error                                 { f.closed = true; return f.closeErr }

// Seek/Reseek/RequestSeek/Advance/NextIndexedKey are unused by Select but
// required to satisfy heap.SubScanner.
func (f *fakeScanner) Seek(key []byte) error                        { return nil }
func (f *fakeScanner) Reseek(key []byte) error                      { return nil }
func (f *fakeScanner) RequestSeek(key []byte, forward, bloom bool) error { return nil }
func (f *fakeScanner) Advance() error                                { return nil }
func (f *fakeScanner) NextIndexedKey() []byte                        { return nil }

func asSubScanners(fakes ...*fakeScanner) []heap.SubScanner {
	out := make([]heap.SubScanner, len(fakes))
	for i, f := range fakes {
		out[i] = f
	}
	return out
}

func TestSelectKeepsCandidatesThatPassFilterAndTTL(t *testing.T) {
	kept := &fakeScanner{isFile: true, shouldUse: true}
	dropped := &fakeScanner{isFile: true, shouldUse: false}

	result, err := Select(asSubScanners(kept, dropped), 0, Filter{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("got %d kept, want 1", len(result))
	}
	if !dropped.closed {
		t.Fatal("rejected candidate should have been closed")
	}
	if kept.closed {
		t.Fatal("kept candidate should not have been closed")
	}
}

func TestSelectPreservesRelativeOrderOfKeptCandidates(t *testing.T) {
	a := &fakeScanner{shouldUse: true}
	b := &fakeScanner{shouldUse: false}
	c := &fakeScanner{shouldUse: true}

	result, err := Select(asSubScanners(a, b, c), 0, Filter{})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(result) != 2 || result[0] != a || result[1] != c {
		t.Fatalf("order not preserved: %v", result)
	}
}

func TestSelectMemoryOnlyDropsFileScanners(t *testing.T) {
	mem := &fakeScanner{isFile: false, shouldUse: true}
	file := &fakeScanner{isFile: true, shouldUse: true}

	result, err := Select(asSubScanners(mem, file), 0, Filter{MemoryOnly: true})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(result) != 1 || result[0] != mem {
		t.Fatalf("got %v, want only the memory scanner", result)
	}
	if !file.closed {
		t.Fatal("file scanner should have been closed under MemoryOnly")
	}
}

func TestSelectFilesOnlyDropsMemoryScanners(t *testing.T) {
	mem := &fakeScanner{isFile: false, shouldUse: true}
	file := &fakeScanner{isFile: true, shouldUse: true}

	result, err := Select(asSubScanners(mem, file), 0, Filter{FilesOnly: true})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(result) != 1 || result[0] != file {
		t.Fatalf("got %v, want only the file scanner", result)
	}
	if !mem.closed {
		t.Fatal("memory scanner should have been closed under FilesOnly")
	}
}

func TestSelectReturnsFirstCloseErrorButClosesEveryRejectedCandidate(t *testing.T) {
	boom := errors.New("boom")
	first := &fakeScanner{shouldUse: false, closeErr: boom}
	second := &fakeScanner{shouldUse: false, closeErr: errors.New("also boom")}

	_, err := Select(asSubScanners(first, second), 0, Filter{})
	if !errors.Is(err, boom) {
		t.Fatalf("got err %v, want the first candidate's close error", err)
	}
	if !first.closed || !second.closed {
		t.Fatal("every rejected candidate should be closed even after the first error")
	}
}
