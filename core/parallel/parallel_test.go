package parallel

import (
	"sync"
	"testing"
)

// coverage records which indices were visited and how often.
func coverage(items int, run func(fn func(start, end int))) []int {
	visits := make([]int, items)
	var mu sync.Mutex
	run(func(start, end int) {
		mu.Lock()
		defer mu.Unlock()
		for i := start; i < end; i++ {
			visits[i]++
		}
	})
	return visits
}

func TestParallelizeCoversAllItems(t *testing.T) {
	for _, items := range []int{1, 2, 7, 100, 1000} {
		visits := coverage(items, func(fn func(start, end int)) {
			Parallelize(items, fn)
		})
		for i, v := range visits {
			if v != 1 {
				t.Fatalf("items=%d: index %d visited %d times, want 1", items, i, v)
			}
		}
	}
}

func TestParallelizeZeroItems(t *testing.T) {
	called := false
	Parallelize(0, func(start, end int) { called = true })
	if called {
		t.Error("fn should not be called for zero items")
	}
}

func TestParallelizeWithWorkers(t *testing.T) {
	visits := coverage(50, func(fn func(start, end int)) {
		ParallelizeWithWorkers(50, 3, fn)
	})
	for i, v := range visits {
		if v != 1 {
			t.Fatalf("index %d visited %d times, want 1", i, v)
		}
	}

	// non-positive cap falls back to NumCPU and still covers everything
	visits = coverage(10, func(fn func(start, end int)) {
		ParallelizeWithWorkers(10, -1, fn)
	})
	for i, v := range visits {
		if v != 1 {
			t.Fatalf("index %d visited %d times, want 1", i, v)
		}
	}
}

func TestParallelizeWithThreshold(t *testing.T) {
	// below threshold: one sequential call over the full range
	calls := 0
	ParallelizeWithThreshold(5, 10, func(start, end int) {
		calls++
		if start != 0 || end != 5 {
			t.Errorf("sequential range = (%d,%d), want (0,5)", start, end)
		}
	})
	if calls != 1 {
		t.Errorf("sequential path called %d times, want 1", calls)
	}

	// above threshold: all items covered exactly once
	visits := coverage(64, func(fn func(start, end int)) {
		ParallelizeWithThreshold(64, 10, fn)
	})
	for i, v := range visits {
		if v != 1 {
			t.Fatalf("index %d visited %d times, want 1", i, v)
		}
	}
}
