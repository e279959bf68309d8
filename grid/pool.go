package grid

import "sync"

// bufferPool recycles channel buffers between grids.
//
// Grids of a scene are mostly diced to a handful of sizes, so buffers are
// pooled per length. A buffer handed out by get is zeroed.
//
// Thread safety: bufferPool is safe for concurrent use.
type bufferPool struct {
	// pools holds one *sync.Pool per buffer length.
	pools sync.Map
}

func (p *bufferPool) get(n int) []float32 {
	if n <= 0 {
		return nil
	}
	buf := *p.poolFor(n).Get().(*[]float32)
	clear(buf)
	return buf
}

// put returns buf to the pool. nil is ignored.
func (p *bufferPool) put(buf []float32) {
	if len(buf) == 0 {
		return
	}
	buf = buf[:cap(buf)]
	if pool, ok := p.pools.Load(len(buf)); ok {
		pool.(*sync.Pool).Put(&buf)
	}
}

// poolFor gets or creates the pool for buffers of length n.
func (p *bufferPool) poolFor(n int) *sync.Pool {
	if pool, ok := p.pools.Load(n); ok {
		return pool.(*sync.Pool)
	}
	pool := &sync.Pool{
		New: func() any {
			buf := make([]float32, n)
			return &buf
		},
	}
	// Another goroutine may have won the race; use theirs.
	actual, _ := p.pools.LoadOrStore(n, pool)
	return actual.(*sync.Pool)
}

var buffers bufferPool
