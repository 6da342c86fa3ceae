// Package seek fans a single seek out across many SubScanners
// concurrently, since a file-backed seek can block on a block-cache miss
// while an in-memory one never does.
package seek

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/colfam/storescan/heap"
)

// Parallel seeks every scanner in scanners to key, running each
// file-backed scanner's Seek on its own goroutine and every non-file
// scanner's Seek inline on the caller. It blocks until all seeks
// complete. If any seek failed, the first recorded error is returned;
// the other scanners' seeks still ran to completion, but the caller must
// treat the whole batch as invalid and close the scanners.
func Parallel(ctx context.Context, scanners []heap.SubScanner, key []byte) error {
	g, ctx := errgroup.WithContext(ctx)

	var inlineErr error
	for _, s := range scanners {
		s := s
		if !s.IsFileScanner() {
			if inlineErr == nil {
				inlineErr = s.Seek(key)
			}
			continue
		}
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			return s.Seek(key)
		})
	}
	// Every dispatched goroutine still holds a reference to its SubScanner
	// and is still calling Seek on it; the caller takes exclusive ownership
	// of the whole batch only once every task has actually finished, so
	// g.Wait() always runs even when an inline seek already failed.
	if err := g.Wait(); err != nil {
		return err
	}
	return inlineErr
}
