// Package buffer provides the bounded, sequence-indexed ring of recently
// captured frames shared between the capture and coordination stages.
package buffer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carmelog/videoapi/media"
)

// Buffer holds the most recent frames in capture order, keyed by their
// sequence counter. A single producer pushes; consumers wait for new data
// and query by counter. When full, each push evicts the oldest frame and
// increments the dropped counter (a metric, not an error).
type Buffer struct {
	mu       sync.Mutex
	frames   []media.Frame // ascending Seq order
	capacity int
	lastSeq  uint64
	hasData  bool
	wake     chan struct{}

	dropped atomic.Uint64
}

// New creates a Buffer holding at most capacity frames. A capacity below 1
// falls back to media.DefaultBufferSize.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = media.DefaultBufferSize
	}
	return &Buffer{
		frames:   make([]media.Frame, 0, capacity),
		capacity: capacity,
		wake:     make(chan struct{}),
	}
}

// Push appends a frame, evicting the oldest entry if the buffer is full,
// and wakes every waiter. Frames must arrive with increasing Seq.
func (b *Buffer) Push(f media.Frame) {
	b.mu.Lock()
	if len(b.frames) == b.capacity {
		copy(b.frames, b.frames[1:])
		b.frames = b.frames[:len(b.frames)-1]
		b.dropped.Add(1)
	}
	b.frames = append(b.frames, f)
	b.lastSeq = f.Seq
	b.hasData = true

	// Close-and-replace wake channel: a waiter that grabbed the old channel
	// before this push unblocks immediately, so no notification is lost
	// between a consumer's check and its wait.
	close(b.wake)
	b.wake = make(chan struct{})
	b.mu.Unlock()
}

// WaitForNew blocks until a frame with Seq > lastSeen has been pushed, the
// timeout elapses, or the context is cancelled. It returns true if new data
// is available, and returns immediately when it already is.
func (b *Buffer) WaitForNew(ctx context.Context, lastSeen uint64, timeout time.Duration) bool {
	b.mu.Lock()
	if b.hasData && b.lastSeq > lastSeen {
		b.mu.Unlock()
		return true
	}
	wake := b.wake
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-wake:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Since returns, in ascending Seq order, every buffered frame with
// Seq > counter. It never blocks; the result is empty if none qualify.
func (b *Buffer) Since(counter uint64) []media.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := 0
	for i < len(b.frames) && b.frames[i].Seq <= counter {
		i++
	}
	if i == len(b.frames) {
		return nil
	}
	out := make([]media.Frame, len(b.frames)-i)
	copy(out, b.frames[i:])
	return out
}

// Len returns the number of buffered frames.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// LastSeq returns the sequence counter of the most recently pushed frame,
// or zero if nothing has been pushed.
func (b *Buffer) LastSeq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSeq
}

// Dropped returns the number of frames evicted by capacity pressure.
func (b *Buffer) Dropped() uint64 {
	return b.dropped.Load()
}
