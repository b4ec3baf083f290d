package utils

import (
	"errors"
	"reflect"
	"testing"
)

func TestBatchify(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7}

	batches := Batchify(items, 3, false)
	want := [][]int{{1, 2, 3}, {4, 5, 6}, {7}}
	if !reflect.DeepEqual(batches, want) {
		t.Errorf("Batchify = %v, expected %v", batches, want)
	}
}

func TestBatchifyDropLast(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7}

	batches := Batchify(items, 3, true)
	want := [][]int{{1, 2, 3}, {4, 5, 6}}
	if !reflect.DeepEqual(batches, want) {
		t.Errorf("Batchify with dropLast = %v, expected %v", batches, want)
	}

	// Exact multiple: dropLast discards nothing.
	batches = Batchify([]int{1, 2, 3, 4}, 2, true)
	if len(batches) != 2 {
		t.Errorf("Expected 2 batches for exact multiple, got %d", len(batches))
	}
}

func TestBatchifyEmpty(t *testing.T) {
	if got := Batchify([]int{}, 4, false); len(got) != 0 {
		t.Errorf("Expected no batches for empty input, got %v", got)
	}
}

func TestBatchProcess(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	results, err := BatchProcess(items, 2, func(batch []int) ([]int, error) {
		out := make([]int, len(batch))
		for i, v := range batch {
			out[i] = v * 10
		}
		return out, nil
	})
	if err != nil {
		t.Fatalf("BatchProcess failed: %v", err)
	}

	want := []int{10, 20, 30, 40, 50}
	if !reflect.DeepEqual(results, want) {
		t.Errorf("BatchProcess = %v, expected %v", results, want)
	}
}

func TestBatchProcessPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, err := BatchProcess([]int{1, 2, 3}, 2, func(batch []int) ([]int, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped worker error, got %v", err)
	}
}

func TestBatchProcessParallelPreservesOrder(t *testing.T) {
	items := make([]int, 100)
	for i := range items {
		items[i] = i
	}

	results, err := BatchProcessParallel(items, 7, 4, func(batch []int) ([]int, error) {
		out := make([]int, len(batch))
		for i, v := range batch {
			out[i] = v * 2
		}
		return out, nil
	})
	if err != nil {
		t.Fatalf("BatchProcessParallel failed: %v", err)
	}

	if len(results) != len(items) {
		t.Fatalf("Expected %d results, got %d", len(items), len(results))
	}
	for i, v := range results {
		if v != i*2 {
			t.Fatalf("Result %d = %d, expected %d: order not preserved", i, v, i*2)
		}
	}
}

func TestBatchProcessParallelPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, err := BatchProcessParallel([]int{1, 2, 3, 4}, 1, 2, func(batch []int) ([]int, error) {
		if batch[0] == 3 {
			return nil, boom
		}
		return batch, nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped worker error, got %v", err)
	}
}
