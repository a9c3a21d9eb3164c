package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/honeyhiveai/honeyhive-go/internal/metrics"
	"github.com/honeyhiveai/honeyhive-go/internal/safelog"
)

// SendFunc delivers one accumulated batch. A returned error means the
// batch is lost; the batcher counts it and moves on.
type SendFunc[T any] func(ctx context.Context, batch []T) error

// BatcherOptions sizes and paces a Batcher.
type BatcherOptions struct {
	// Capacity bounds the in-flight queue. When the queue is full the
	// oldest item is dropped to make room for the newest.
	Capacity int

	// MaxBatch caps the number of items per send. The batcher flushes
	// early when the buffer reaches this size.
	MaxBatch int

	// Interval is the periodic flush cadence.
	Interval time.Duration

	// SendTimeout bounds one send call.
	SendTimeout time.Duration

	Log     *safelog.Logger
	Metrics *metrics.Pipeline
}

// Batcher is a bounded queue drained by a single worker goroutine. It
// flushes on a timer, on buffer pressure, on demand, and on shutdown.
// Enqueue never blocks: a full queue drops its oldest item instead.
type Batcher[T any] struct {
	send SendFunc[T]
	opts BatcherOptions

	in      chan T
	flushCh chan chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
	stopped atomic.Bool
}

// NewBatcher starts the worker and returns the running batcher.
func NewBatcher[T any](send SendFunc[T], opts BatcherOptions) *Batcher[T] {
	if opts.Capacity <= 0 {
		opts.Capacity = 512
	}
	if opts.MaxBatch <= 0 || opts.MaxBatch > opts.Capacity {
		opts.MaxBatch = opts.Capacity
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	b := &Batcher[T]{
		send:    send,
		opts:    opts,
		in:      make(chan T, opts.Capacity),
		flushCh: make(chan chan struct{}),
		stopCh:  make(chan struct{}),
	}
	b.wg.Add(1)
	go b.run()
	return b
}

// Enqueue adds an item without blocking. On overflow the oldest queued
// item is discarded and counted as dropped; the new item takes its slot.
func (b *Batcher[T]) Enqueue(item T) {
	if b.stopped.Load() {
		b.countDrop(1)
		return
	}
	select {
	case b.in <- item:
		return
	default:
	}
	// Full: evict the oldest, then retry once. If the worker drained the
	// queue in between, the eviction select falls through harmlessly.
	select {
	case <-b.in:
		b.countDrop(1)
	default:
	}
	select {
	case b.in <- item:
	default:
		b.countDrop(1)
	}
}

// Flush asks the worker to drain and send everything queued so far, and
// waits up to timeout for the send to finish. Returns false on timeout
// or after Stop.
func (b *Batcher[T]) Flush(timeout time.Duration) bool {
	if b.stopped.Load() {
		return false
	}
	done := make(chan struct{})
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case b.flushCh <- done:
	case <-b.stopCh:
		return false
	case <-timer.C:
		return false
	}
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Stop drains the queue, sends the final batch, and stops the worker.
// Subsequent Enqueue calls drop. Safe to call more than once.
func (b *Batcher[T]) Stop(ctx context.Context) error {
	if b.stopped.Swap(true) {
		return nil
	}
	close(b.stopCh)
	finished := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Batcher[T]) run() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.opts.Interval)
	defer ticker.Stop()

	buffer := make([]T, 0, b.opts.MaxBatch)
	flush := func() {
		if len(buffer) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), b.opts.SendTimeout)
		err := b.send(ctx, buffer)
		cancel()
		if err != nil {
			b.opts.Log.Warn("batch send failed", "items", len(buffer), "error", err)
			b.countDrop(len(buffer))
		}
		buffer = buffer[:0]
	}
	drain := func() {
		for {
			select {
			case item := <-b.in:
				buffer = append(buffer, item)
				if len(buffer) >= b.opts.MaxBatch {
					flush()
				}
			default:
				return
			}
		}
	}

	for {
		select {
		case item := <-b.in:
			buffer = append(buffer, item)
			if len(buffer) >= b.opts.MaxBatch {
				flush()
			}
		case <-ticker.C:
			drain()
			flush()
		case done := <-b.flushCh:
			drain()
			flush()
			close(done)
		case <-b.stopCh:
			drain()
			flush()
			return
		}
	}
}

func (b *Batcher[T]) countDrop(n int) {
	if b.opts.Metrics != nil {
		b.opts.Metrics.DroppedSpans.Add(float64(n))
	}
}
