package parallel

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// Job is a unit of work executed by a Pool. worker is the index of the
// goroutine running the job, in [0, Workers()). Jobs may use it to select
// per-worker scratch state without further synchronization.
type Job func(worker int)

// Pool is a fixed set of goroutines executing bucket jobs.
//
// Each worker owns a queue. A worker whose queue is empty steals from the
// other queues before blocking, which balances buckets of uneven cost.
//
// Thread safety: Pool is safe for concurrent use.
type Pool struct {
	workers int

	// queues holds per-worker job queues.
	queues []chan Job

	done chan struct{}
	wg   sync.WaitGroup

	running atomic.Bool
}

// NewPool creates a pool with the given number of workers and starts it.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	// A few jobs of slack per worker hides queueing latency.
	queueSize := max(workers*4, 8)

	p := &Pool{
		workers: workers,
		queues:  make([]chan Job, workers),
		done:    make(chan struct{}),
	}
	for i := range workers {
		p.queues[i] = make(chan Job, queueSize)
	}

	p.running.Store(true)

	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	own := p.queues[id]
	for {
		select {
		case <-p.done:
			p.drain(id, own)
			return
		case job := <-own:
			job(id)
		default:
			if job := p.steal(id); job != nil {
				job(id)
				continue
			}
			select {
			case <-p.done:
				p.drain(id, own)
				return
			case job := <-own:
				job(id)
			}
		}
	}
}

// drain runs whatever is left in a queue at shutdown.
func (p *Pool) drain(id int, queue chan Job) {
	for {
		select {
		case job := <-queue:
			job(id)
		default:
			return
		}
	}
}

// steal takes one job from another worker's queue, or returns nil.
func (p *Pool) steal(id int) Job {
	for k := 1; k < p.workers; k++ {
		select {
		case job := <-p.queues[(id+k)%p.workers]:
			return job
		default:
		}
	}
	return nil
}

// RunAll distributes jobs round-robin over the workers and waits until all
// of them have returned. If the pool is closed, RunAll does nothing.
func (p *Pool) RunAll(jobs []Job) {
	if len(jobs) == 0 || !p.running.Load() {
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(jobs))

	for i, job := range jobs {
		wrapped := func(worker int) {
			defer wg.Done()
			job(worker)
		}
		select {
		case p.queues[i%p.workers] <- wrapped:
		case <-p.done:
			wg.Done()
		}
	}

	wg.Wait()
}

// Close stops the pool after the queued jobs have run.
// Close is safe to call multiple times.
func (p *Pool) Close() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.done)
	p.wg.Wait()
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int { return p.workers }

// IsRunning reports whether the pool still accepts jobs.
func (p *Pool) IsRunning() bool { return p.running.Load() }
