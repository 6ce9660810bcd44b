package isomatch

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/524D/opesid/internal/ms"
)

// MatchAll runs Best for the MS2 spectra of run given by indices, using at
// most workers goroutines. The result is aligned with indices; nil means
// no match. progress (may be nil) is called once per precursor.
func MatchAll(ctx context.Context, run *ms.Run, indices []int, cands []Candidate, opts Options,
	workers int, progress func(done, total int)) ([]*Match, error) {

	if workers < 1 {
		workers = 1
	}
	results := make([]*Match, len(indices))
	var mu sync.Mutex
	done := 0

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, idx := range indices {
		i, idx := i, idx // per-iteration copy (go 1.21 loop semantics)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s := run.MS2[idx]
			if m, ok := Best(s.PrecursorMz, s.PrecursorMS1Intens, run.MS1[s.MS1Index].Peaks, cands, opts); ok {
				results[i] = &m
			}
			if progress != nil {
				mu.Lock()
				done++
				progress(done, len(indices))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
