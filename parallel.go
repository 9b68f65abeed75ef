package localba

import (
	"golang.org/x/sync/errgroup"
)

// minChunk is the smallest number of items handed to one goroutine.
const minChunk = 64

// parallelFor calls fn over contiguous chunks covering [0, n), using at most
// workers goroutines. fn must only write to state owned by its chunk.
func parallelFor(n, workers int, fn func(lo, hi int)) {
	if workers <= 1 || n <= minChunk {
		fn(0, n)
		return
	}
	chunk := max(minChunk, (n+workers-1)/workers)
	var g errgroup.Group
	g.SetLimit(workers)
	for lo := 0; lo < n; lo += chunk {
		lo, hi := lo, min(lo+chunk, n)
		g.Go(func() error {
			fn(lo, hi)
			return nil
		})
	}
	_ = g.Wait()
}
