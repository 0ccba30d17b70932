// Package pool provides typed object pooling.
//
// Pool[T] wraps sync.Pool with a reset hook and allocation statistics. It is
// used for the request bodies of profile API calls, which are large and built
// once per batch.
//
// Example usage:
//
//	buffers := pool.New(
//	    func() *bytes.Buffer { return new(bytes.Buffer) },
//	    func(b *bytes.Buffer) { b.Reset() },
//	)
//	buf := buffers.Get()
//	defer buffers.Put(buf)
package pool

import (
	"sync"
	"sync/atomic"
)

// Pool is a generic object pool with type safety. It is safe for concurrent use.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
		gets      int64
	}
}

// New creates a typed pool. The new function is called when the pool is
// empty; reset, when not nil, runs before an object goes back into the pool.
func New[T any](new func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.stats.allocated, 1)
		return new()
	}
	return p
}

// Get retrieves an object from the pool, allocating one if needed.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.inUse, 1)
	atomic.AddInt64(&p.stats.gets, 1)
	return p.pool.Get().(T)
}

// Put resets obj and returns it to the pool.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Discard records that obj was checked out but will not be returned.
func (p *Pool[T]) Discard(T) {
	atomic.AddInt64(&p.stats.inUse, -1)
}

// Stats returns the number of objects allocated by the pool, the number
// currently checked out and the total number of Get calls.
func (p *Pool[T]) Stats() (allocated, inUse, gets int64) {
	return atomic.LoadInt64(&p.stats.allocated),
		atomic.LoadInt64(&p.stats.inUse),
		atomic.LoadInt64(&p.stats.gets)
}
