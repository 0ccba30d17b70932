// Package batch accumulates attribute records into bounded delivery batches
// and paces the delivery calls.
package batch

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/ajitpratap0/batchsync/pkg/attributes"
)

// MaxSize is the largest batch the profile API accepts.
const MaxSize = 1000

// DefaultPacing is the minimum interval between two delivery calls.
const DefaultPacing = time.Second

// Batch is an ordered group of records sent in one call.
type Batch []attributes.Record

// FirstID returns the custom_id of the first record, used in diagnostics.
func (b Batch) FirstID() string {
	if len(b) == 0 {
		return ""
	}
	return b[0].CustomID
}

// Partitioner buffers records until the batch is full or input ends.
// It is not safe for concurrent use; one run owns one partitioner.
type Partitioner struct {
	size    int
	buf     []attributes.Record
	pacing  time.Duration
	limiter *rate.Limiter
}

// NewPartitioner creates a partitioner. size is clamped to [1, MaxSize];
// a non-positive pacing disables the delay.
func NewPartitioner(size int, pacing time.Duration) *Partitioner {
	if size <= 0 || size > MaxSize {
		size = MaxSize
	}
	if pacing < 0 {
		pacing = 0
	}
	return &Partitioner{
		size:    size,
		buf:     make([]attributes.Record, 0, size),
		pacing:  pacing,
		limiter: newLimiter(pacing),
	}
}

func newLimiter(pacing time.Duration) *rate.Limiter {
	if pacing == 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(pacing), 1)
}

// Size returns the flush threshold.
func (p *Partitioner) Size() int { return p.size }

// Len returns the number of buffered records.
func (p *Partitioner) Len() int { return len(p.buf) }

// Add buffers a record.
func (p *Partitioner) Add(r attributes.Record) {
	p.buf = append(p.buf, r)
}

// ShouldFlush reports whether the buffer reached the threshold.
func (p *Partitioner) ShouldFlush() bool {
	return len(p.buf) >= p.size
}

// Drain hands the buffered records to the caller and resets the buffer.
// It returns nil when nothing is buffered.
func (p *Partitioner) Drain() Batch {
	if len(p.buf) == 0 {
		return nil
	}
	out := Batch(p.buf)
	p.buf = make([]attributes.Record, 0, p.size)
	return out
}

// Pace blocks until the pacing interval has elapsed since the last call
// reported through Delivered. The first call returns immediately.
func (p *Partitioner) Pace(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// Delivered records that a delivery call finished at t. The next Pace
// waits until t plus the pacing interval, however long the call took.
func (p *Partitioner) Delivered(t time.Time) {
	if p.pacing == 0 {
		return
	}
	p.limiter = newLimiter(p.pacing)
	p.limiter.AllowN(t, 1)
}
