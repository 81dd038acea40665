// Package queue provides the bounded FIFO of write entries between the
// coordination and write stages. Control records travel in-band with data
// so rotation and stop are strictly ordered against the frames around them.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/carmelog/videoapi/media"
)

// ErrFull is returned by Enqueue when the queue stays full past the
// caller's timeout. The coordination stage retries rather than drops.
var ErrFull = errors.New("queue: full")

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("queue: closed")

// Kind discriminates write queue entries.
type Kind int

// Entry kinds, in the order the write stage handles them.
const (
	KindFrame Kind = iota
	KindRotate
	KindStop
)

// Entry is one unit of work for the write stage: a frame to persist, a
// rotate command carrying the next output path, or a stop command. The
// entry is owned by the queue until dequeued.
type Entry struct {
	Kind  Kind
	Frame media.Frame
	Path  string // resolved output path, rotate entries only
}

// Queue is a bounded FIFO shared by exactly one producer (coordination)
// and one consumer (write stage).
type Queue struct {
	ch     chan Entry
	closed chan struct{}
}

// New creates a Queue with the given capacity. A capacity below 1 falls
// back to media.DefaultQueueSize.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = media.DefaultQueueSize
	}
	return &Queue{
		ch:     make(chan Entry, capacity),
		closed: make(chan struct{}),
	}
}

// Enqueue appends an entry, blocking up to timeout while the queue is full.
// It returns ErrFull on timeout, ErrClosed after Close, and the context
// error if ctx is cancelled first.
func (q *Queue) Enqueue(ctx context.Context, e Entry, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case q.ch <- e:
		return nil
	case <-q.closed:
		return ErrClosed
	case <-timer.C:
		return ErrFull
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dequeue removes the oldest entry, blocking until one is available, the
// queue is closed and drained, or the context is cancelled. The second
// return is false when no entry was produced.
func (q *Queue) Dequeue(ctx context.Context) (Entry, bool) {
	select {
	case e := <-q.ch:
		return e, true
	default:
	}

	select {
	case e := <-q.ch:
		return e, true
	case <-q.closed:
		// Drain anything enqueued before Close.
		select {
		case e := <-q.ch:
			return e, true
		default:
			return Entry{}, false
		}
	case <-ctx.Done():
		return Entry{}, false
	}
}

// TryDequeue removes the oldest entry without blocking.
func (q *Queue) TryDequeue() (Entry, bool) {
	select {
	case e := <-q.ch:
		return e, true
	default:
		return Entry{}, false
	}
}

// Close marks the queue closed. Entries already enqueued remain available
// to Dequeue; further Enqueue calls fail with ErrClosed.
func (q *Queue) Close() {
	select {
	case <-q.closed:
	default:
		close(q.closed)
	}
}

// Depth returns the number of entries waiting in the queue.
func (q *Queue) Depth() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.ch)
}
