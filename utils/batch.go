package utils

import (
	"fmt"
	"sync"
)

// Batchify splits a slice into batches of specified size. When dropLast is
// true, a trailing partial batch is discarded (training loops rely on fixed
// batch dimensions).
func Batchify[T any](items []T, batchSize int, dropLast bool) [][]T {
	if batchSize <= 0 {
		panic("batch size must be positive")
	}

	batches := make([][]T, 0, (len(items)+batchSize-1)/batchSize)
	for i := 0; i+batchSize <= len(items); i += batchSize {
		batches = append(batches, items[i:i+batchSize])
	}
	if rem := len(items) % batchSize; rem > 0 && !dropLast {
		batches = append(batches, items[len(items)-rem:])
	}
	return batches
}

// BatchProcess processes items in batches with a worker function, preserving
// input order in the results.
func BatchProcess[T any, R any](
	items []T,
	batchSize int,
	worker func(batch []T) ([]R, error),
) ([]R, error) {
	results := make([]R, 0, len(items))
	for i, batch := range Batchify(items, batchSize, false) {
		batchResults, err := worker(batch)
		if err != nil {
			return nil, fmt.Errorf("batch %d failed: %w", i, err)
		}
		results = append(results, batchResults...)
	}
	return results, nil
}

// BatchProcessParallel processes batches concurrently across the given number
// of workers. Results are returned in input order regardless of completion
// order.
func BatchProcessParallel[T any, R any](
	items []T,
	batchSize int,
	workers int,
	worker func(batch []T) ([]R, error),
) ([]R, error) {
	batches := Batchify(items, batchSize, false)

	type job struct {
		index int
		batch []T
	}
	type result struct {
		index   int
		results []R
		err     error
	}

	jobs := make(chan job, len(batches))
	out := make(chan result, len(batches))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				batchResults, err := worker(j.batch)
				out <- result{index: j.index, results: batchResults, err: err}
			}
		}()
	}

	for i, batch := range batches {
		jobs <- job{index: i, batch: batch}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(out)
	}()

	collected := make(map[int][]R, len(batches))
	for res := range out {
		if res.err != nil {
			return nil, fmt.Errorf("batch %d failed: %w", res.index, res.err)
		}
		collected[res.index] = res.results
	}

	results := make([]R, 0, len(items))
	for i := 0; i < len(batches); i++ {
		results = append(results, collected[i]...)
	}
	return results, nil
}
