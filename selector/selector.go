// Package selector filters a set of candidate SubScanners down to the
// ones that can possibly contribute to a scan, closing the rest.
package selector

import "github.com/colfam/storescan/heap"

// Filter restricts selection to a subset of candidates beyond the
// ttlCutoff check every candidate gets: MemoryOnly keeps only memstore
// scanners, FilesOnly keeps only file scanners. Both false means no
// further restriction.
type Filter struct {
	MemoryOnly bool
	FilesOnly  bool
}

// Select returns the subset of candidates that should participate in a
// scan bounded by ttlCutoff (a Unix-millis timestamp below which a
// scanner's newest cell cannot possibly satisfy the scan; pass a
// negative value for "no TTL bound"), in the same relative order they
// were given. Every rejected candidate is closed before Select returns;
// the caller retains ownership of — and the obligation to eventually
// close — every scanner in the result.
func Select(candidates []heap.SubScanner, ttlCutoff int64, filter Filter) ([]heap.SubScanner, error) {
	kept := make([]heap.SubScanner, 0, len(candidates))
	var firstErr error

	for _, s := range candidates {
		if matchesFilter(s, filter) && s.ShouldUse(ttlCutoff) {
			kept = append(kept, s)
			continue
		}
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return kept, firstErr
}

func matchesFilter(s heap.SubScanner, filter Filter) bool {
	if filter.MemoryOnly && s.IsFileScanner() {
		return false
	}
	if filter.FilesOnly && !s.IsFileScanner() {
		return false
	}
	return true
}
