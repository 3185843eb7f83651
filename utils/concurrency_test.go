package utils

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestURLSetNoDuplicates(t *testing.T) {
	s := NewURLSet()

	if !s.Add("https://example.com/1") {
		t.Error("first Add should return true")
	}
	if s.Add("https://example.com/1") {
		t.Error("second Add of same URL should return false")
	}
	if !s.Contains("https://example.com/1") {
		t.Error("Contains should report the added URL")
	}
	if s.Size() != 1 {
		t.Errorf("size: got %d, want 1", s.Size())
	}
}

func TestURLSetConcurrency(t *testing.T) {
	s := NewURLSet()
	var added int64

	ForEachBatch(100, 10, func(int) {
		if s.Add("https://example.com/same") {
			atomic.AddInt64(&added, 1)
		}
	})

	if added != 1 {
		t.Errorf("expected exactly 1 successful add, got %d", added)
	}
}

func TestForEachBatchVisitsEveryIndexOnce(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[int]int)

	ForEachBatch(23, 4, func(i int) {
		mu.Lock()
		seen[i]++
		mu.Unlock()
	})

	if len(seen) != 23 {
		t.Fatalf("visited %d indexes, want 23", len(seen))
	}
	for i, n := range seen {
		if n != 1 {
			t.Errorf("index %d visited %d times", i, n)
		}
	}
}

func TestForEachBatchAwaitsBatchBeforeNext(t *testing.T) {
	var running, maxRunning int64

	ForEachBatch(9, 3, func(int) {
		cur := atomic.AddInt64(&running, 1)
		for {
			prev := atomic.LoadInt64(&maxRunning)
			if cur <= prev || atomic.CompareAndSwapInt64(&maxRunning, prev, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt64(&running, -1)
	})

	if maxRunning > 3 {
		t.Errorf("max concurrent jobs: got %d, want <= 3", maxRunning)
	}
}

func TestForEachBatchZeroBatchSize(t *testing.T) {
	var calls int64
	ForEachBatch(3, 0, func(int) { atomic.AddInt64(&calls, 1) })
	if calls != 3 {
		t.Errorf("calls: got %d, want 3", calls)
	}
}
