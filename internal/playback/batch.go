package playback

import (
	"context"
	"sync"
	"time"
)

// itemResult carries the outcome of one item in a bounded fan-out.
// Exactly one of Value or Err is meaningful.
type itemResult[K comparable, V any] struct {
	Key   K
	Value V
	Err   error
}

// mapBounded runs fn once per key with at most limit invocations in flight,
// capturing each item's result or error. One failing item never aborts the
// batch; the caller inspects the returned results. Results are in key order.
// If ctx is cancelled, items not yet started return ctx.Err().
func mapBounded[K comparable, V any](ctx context.Context, keys []K, limit int, fn func(context.Context, K) (V, error)) []itemResult[K, V] {
	if limit < 1 {
		limit = 1
	}

	results := make([]itemResult[K, V], len(keys))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for i, key := range keys {
		results[i].Key = key

		select {
		case <-ctx.Done():
			results[i].Err = ctx.Err()
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(i int, key K) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i].Value, results[i].Err = fn(ctx, key)
		}(i, key)
	}

	wg.Wait()
	return results
}

// chunk splits keys into consecutive slices of at most size elements.
func chunk[T any](keys []T, size int) [][]T {
	if size < 1 {
		size = 1
	}
	var out [][]T
	for start := 0; start < len(keys); start += size {
		end := start + size
		if end > len(keys) {
			end = len(keys)
		}
		out = append(out, keys[start:end])
	}
	return out
}

// sleepCtx waits for d or until ctx is cancelled, whichever comes first.
// It reports false if the wait was cut short by cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
