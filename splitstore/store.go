// Package splitstore provides a spatial depth-priority queue over pending
// geometry.
//
// A Store divides a planar rectangle into an nx×ny grid of buckets. Each item
// is queued in every bucket its bound overlaps, keyed by the bound's minimum
// depth, and each bucket is consumed independently in non-decreasing depth
// order. Items equal in depth come out in insertion order.
//
// Thread safety: every bucket has its own mutex, so Insert and Pop on
// different buckets never contend. Store is safe for concurrent use.
package splitstore

import (
	"container/heap"
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/gogpu/tess/geom"
	"github.com/gogpu/tess/internal/parallel"
)

var (
	// ErrDegenerateBound is returned by New for a store bound with zero or
	// negative area.
	ErrDegenerateBound = parallel.ErrDegenerateBound

	// ErrInvalidBucketCount is returned by New when nx or ny is below one.
	ErrInvalidBucketCount = parallel.ErrInvalidBucketCount

	// ErrInvalidBound is returned by Insert for a bound that is not finite
	// or has no planar area.
	ErrInvalidBound = errors.New("splitstore: invalid item bound")
)

// entry is one queued reference to an item in a single bucket.
type entry[T any] struct {
	depth float64
	seq   uint64
	item  T
}

// queue is a min-heap ordered by depth, then insertion sequence.
type queue[T any] []entry[T]

func (q queue[T]) Len() int { return len(q) }

func (q queue[T]) Less(a, b int) bool {
	if q[a].depth != q[b].depth {
		return q[a].depth < q[b].depth
	}
	return q[a].seq < q[b].seq
}

func (q queue[T]) Swap(a, b int) { q[a], q[b] = q[b], q[a] }

func (q *queue[T]) Push(x any) { *q = append(*q, x.(entry[T])) }

func (q *queue[T]) Pop() any {
	old := *q
	n := len(old) - 1
	e := old[n]
	old[n] = entry[T]{}
	*q = old[:n]
	return e
}

type bucket[T any] struct {
	mu sync.Mutex
	q  queue[T]
}

// Store is a grid of depth-ordered buckets.
type Store[T any] struct {
	part    *parallel.Partition
	buckets []bucket[T]

	// seq orders insertions store-wide so ties break the same way in
	// every bucket and on every run.
	seq atomic.Uint64
}

// New creates a store dividing bound into nx×ny buckets.
func New[T any](nx, ny int, bound r2.Box) (*Store[T], error) {
	part, err := parallel.NewPartition(nx, ny, bound)
	if err != nil {
		return nil, err
	}
	return &Store[T]{
		part:    part,
		buckets: make([]bucket[T], part.Count()),
	}, nil
}

// NX returns the number of buckets along x.
func (s *Store[T]) NX() int { return s.part.NX() }

// NY returns the number of buckets along y.
func (s *Store[T]) NY() int { return s.part.NY() }

// Bound returns the overall store bound.
func (s *Store[T]) Bound() r2.Box { return s.part.Bound() }

// BucketBound returns the rectangle covered by bucket (i, j).
func (s *Store[T]) BucketBound(i, j int) r2.Box { return s.part.Cell(i, j) }

// BucketCoords returns the bucket with row-major index idx.
func (s *Store[T]) BucketCoords(idx int) (i, j int) { return s.part.Coords(idx) }

// Insert queues item in every bucket intersecting the planar projection of
// bound, keyed by bound.Min.Z. It returns the number of buckets the item was
// queued in, which is zero if the bound lies entirely outside the store.
func (s *Store[T]) Insert(bound r3.Box, item T) (int, error) {
	if !validBound(bound) {
		return 0, ErrInvalidBound
	}
	e := entry[T]{depth: bound.Min.Z, seq: s.seq.Add(1), item: item}
	return s.part.ForEachCell(geom.Planar(bound), func(i, j int) {
		b := &s.buckets[s.part.Index(i, j)]
		b.mu.Lock()
		heap.Push(&b.q, e)
		b.mu.Unlock()
	}), nil
}

// Pop removes and returns the shallowest item of bucket (i, j).
// ok is false if the bucket is empty or out of range.
func (s *Store[T]) Pop(i, j int) (item T, ok bool) {
	idx := s.part.Index(i, j)
	if idx < 0 {
		return item, false
	}
	b := &s.buckets[idx]
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.q) == 0 {
		return item, false
	}
	return heap.Pop(&b.q).(entry[T]).item, true
}

// Len returns the number of items queued in bucket (i, j).
func (s *Store[T]) Len(i, j int) int {
	idx := s.part.Index(i, j)
	if idx < 0 {
		return 0
	}
	b := &s.buckets[idx]
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.q)
}

// Empty reports whether every bucket is empty.
func (s *Store[T]) Empty() bool {
	for idx := range s.buckets {
		b := &s.buckets[idx]
		b.mu.Lock()
		n := len(b.q)
		b.mu.Unlock()
		if n > 0 {
			return false
		}
	}
	return true
}

// validBound rejects NaN coordinates, inverted boxes and boxes with zero
// planar area. Infinite coordinates are accepted; they are clamped to the
// store bound.
func validBound(b r3.Box) bool {
	for _, v := range [...]float64{b.Min.X, b.Min.Y, b.Min.Z, b.Max.X, b.Max.Y, b.Max.Z} {
		if math.IsNaN(v) {
			return false
		}
	}
	return b.Max.X > b.Min.X && b.Max.Y > b.Min.Y && b.Max.Z >= b.Min.Z
}
