package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/carmelog/videoapi/media"
)

func TestFIFOOrder(t *testing.T) {
	t.Parallel()

	q := New(10)
	ctx := context.Background()
	for seq := uint64(1); seq <= 5; seq++ {
		if err := q.Enqueue(ctx, Entry{Kind: KindFrame, Frame: media.Frame{Seq: seq}}, time.Second); err != nil {
			t.Fatalf("Enqueue seq %d: %v", seq, err)
		}
	}

	for want := uint64(1); want <= 5; want++ {
		e, ok := q.Dequeue(ctx)
		if !ok {
			t.Fatalf("Dequeue: no entry for seq %d", want)
		}
		if e.Frame.Seq != want {
			t.Errorf("Dequeue: got seq %d, want %d", e.Frame.Seq, want)
		}
	}
}

func TestEnqueueTimesOutWhenFull(t *testing.T) {
	t.Parallel()

	q := New(1)
	ctx := context.Background()
	if err := q.Enqueue(ctx, Entry{Kind: KindFrame}, time.Second); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}

	err := q.Enqueue(ctx, Entry{Kind: KindFrame}, 20*time.Millisecond)
	if !errors.Is(err, ErrFull) {
		t.Errorf("Enqueue on full queue: got %v, want ErrFull", err)
	}
}

func TestControlEntriesKeepOrder(t *testing.T) {
	t.Parallel()

	q := New(10)
	ctx := context.Background()
	q.Enqueue(ctx, Entry{Kind: KindFrame, Frame: media.Frame{Seq: 1}}, time.Second)
	q.Enqueue(ctx, Entry{Kind: KindRotate, Path: "/tmp/next.mp4"}, time.Second)
	q.Enqueue(ctx, Entry{Kind: KindFrame, Frame: media.Frame{Seq: 2}}, time.Second)

	kinds := []Kind{KindFrame, KindRotate, KindFrame}
	for i, want := range kinds {
		e, ok := q.Dequeue(ctx)
		if !ok {
			t.Fatalf("Dequeue %d: no entry", i)
		}
		if e.Kind != want {
			t.Errorf("entry %d: got kind %d, want %d", i, e.Kind, want)
		}
	}
}

func TestDequeueDrainsAfterClose(t *testing.T) {
	t.Parallel()

	q := New(10)
	ctx := context.Background()
	q.Enqueue(ctx, Entry{Kind: KindFrame, Frame: media.Frame{Seq: 1}}, time.Second)
	q.Close()

	if err := q.Enqueue(ctx, Entry{Kind: KindFrame}, time.Second); !errors.Is(err, ErrClosed) {
		t.Errorf("Enqueue after Close: got %v, want ErrClosed", err)
	}

	e, ok := q.Dequeue(ctx)
	if !ok || e.Frame.Seq != 1 {
		t.Fatalf("Dequeue after Close: got (%v, %v), want seq 1", e.Frame.Seq, ok)
	}

	if _, ok := q.Dequeue(ctx); ok {
		t.Error("Dequeue on drained closed queue: got entry, want none")
	}
}

func TestDepth(t *testing.T) {
	t.Parallel()

	q := New(5)
	ctx := context.Background()
	q.Enqueue(ctx, Entry{Kind: KindFrame}, time.Second)
	q.Enqueue(ctx, Entry{Kind: KindFrame}, time.Second)

	if got := q.Depth(); got != 2 {
		t.Errorf("Depth: got %d, want 2", got)
	}
	if got := q.Cap(); got != 5 {
		t.Errorf("Cap: got %d, want 5", got)
	}
}
