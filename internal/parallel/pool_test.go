package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// Pool Creation Tests
// =============================================================================

func TestPool_Create(t *testing.T) {
	pool := NewPool(4)
	defer pool.Close()

	if pool.Workers() != 4 {
		t.Errorf("Workers() = %d, want 4", pool.Workers())
	}
	if !pool.IsRunning() {
		t.Error("pool should be running after creation")
	}
}

func TestPool_CreateDefaultWorkers(t *testing.T) {
	for _, n := range []int{0, -3} {
		pool := NewPool(n)
		if got, want := pool.Workers(), runtime.GOMAXPROCS(0); got != want {
			t.Errorf("NewPool(%d).Workers() = %d, want %d (GOMAXPROCS)", n, got, want)
		}
		pool.Close()
	}
}

// =============================================================================
// RunAll Tests
// =============================================================================

func TestPool_RunAll(t *testing.T) {
	pool := NewPool(4)
	defer pool.Close()

	var counter atomic.Int64
	jobs := make([]Job, 100)
	for i := range jobs {
		jobs[i] = func(int) { counter.Add(1) }
	}

	pool.RunAll(jobs)

	if counter.Load() != 100 {
		t.Errorf("counter = %d, want 100", counter.Load())
	}
}

func TestPool_RunAll_AllIndicesSeen(t *testing.T) {
	pool := NewPool(3)
	defer pool.Close()

	var mu sync.Mutex
	seen := make(map[int]int)
	jobs := make([]Job, 25)
	for i := range jobs {
		jobs[i] = func(int) {
			mu.Lock()
			seen[i]++
			mu.Unlock()
		}
	}

	pool.RunAll(jobs)

	for i := range jobs {
		if seen[i] != 1 {
			t.Errorf("job %d ran %d times, want 1", i, seen[i])
		}
	}
}

func TestPool_RunAll_WorkerIndex(t *testing.T) {
	pool := NewPool(4)
	defer pool.Close()

	var bad atomic.Int64
	jobs := make([]Job, 64)
	for i := range jobs {
		jobs[i] = func(worker int) {
			if worker < 0 || worker >= pool.Workers() {
				bad.Add(1)
			}
		}
	}

	pool.RunAll(jobs)

	if bad.Load() != 0 {
		t.Errorf("%d jobs saw an out-of-range worker index", bad.Load())
	}
}

func TestPool_RunAll_Empty(t *testing.T) {
	pool := NewPool(2)
	defer pool.Close()

	// Should not panic or block
	pool.RunAll(nil)
	pool.RunAll([]Job{})
}

func TestPool_RunAll_PerWorkerStateIsExclusive(t *testing.T) {
	pool := NewPool(4)
	defer pool.Close()

	// A job only ever runs on one goroutine at a time per worker index, so
	// per-worker counters need no locking.
	busy := make([]atomic.Bool, pool.Workers())
	var overlap atomic.Int64
	jobs := make([]Job, 200)
	for i := range jobs {
		jobs[i] = func(worker int) {
			if !busy[worker].CompareAndSwap(false, true) {
				overlap.Add(1)
				return
			}
			time.Sleep(10 * time.Microsecond)
			busy[worker].Store(false)
		}
	}

	pool.RunAll(jobs)

	if overlap.Load() != 0 {
		t.Errorf("worker index used concurrently %d times", overlap.Load())
	}
}

// =============================================================================
// Close Tests
// =============================================================================

func TestPool_CloseIdempotent(t *testing.T) {
	pool := NewPool(4)

	pool.Close()
	pool.Close()

	if pool.IsRunning() {
		t.Error("pool should not be running after close")
	}
}

func TestPool_RunAllAfterClose(t *testing.T) {
	pool := NewPool(2)
	pool.Close()

	var executed atomic.Bool
	pool.RunAll([]Job{func(int) { executed.Store(true) }})

	if executed.Load() {
		t.Error("job executed on closed pool")
	}
}

// =============================================================================
// Load Balancing Tests
// =============================================================================

func TestPool_WorkStealing(t *testing.T) {
	pool := NewPool(4)
	defer pool.Close()

	// Round-robin sends every slow job to worker 0; the others must steal the
	// fast ones for the batch to finish in reasonable time.
	var counter atomic.Int64
	jobs := make([]Job, 40)
	for i := range jobs {
		if i%4 == 0 {
			jobs[i] = func(int) {
				time.Sleep(5 * time.Millisecond)
				counter.Add(1)
			}
		} else {
			jobs[i] = func(int) { counter.Add(1) }
		}
	}

	start := time.Now()
	pool.RunAll(jobs)
	elapsed := time.Since(start)

	if counter.Load() != 40 {
		t.Errorf("counter = %d, want 40", counter.Load())
	}
	if elapsed > 5*time.Second {
		t.Errorf("RunAll took %v", elapsed)
	}
}

func TestPool_SingleWorker(t *testing.T) {
	pool := NewPool(1)
	defer pool.Close()

	var order []int
	jobs := make([]Job, 10)
	for i := range jobs {
		jobs[i] = func(int) { order = append(order, i) }
	}

	pool.RunAll(jobs)

	if len(order) != 10 {
		t.Fatalf("ran %d jobs, want 10", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Errorf("order[%d] = %d, want %d (single worker runs FIFO)", i, v, i)
		}
	}
}

func BenchmarkPool_RunAll(b *testing.B) {
	pool := NewPool(0)
	defer pool.Close()

	jobs := make([]Job, 64)
	for i := range jobs {
		jobs[i] = func(int) {}
	}

	b.ResetTimer()
	for b.Loop() {
		pool.RunAll(jobs)
	}
}
