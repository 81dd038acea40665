package coordinate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/carmelog/videoapi/buffer"
	"github.com/carmelog/videoapi/media"
	"github.com/carmelog/videoapi/queue"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func testConfig() Config {
	return Config{
		OutputTemplate: "/tmp/videoapi-test/%Y-%m-%d/%H-%M-%S.mp4",
		PollInterval:   10 * time.Millisecond,
		EnqueueTimeout: 50 * time.Millisecond,
	}
}

func dequeue(t *testing.T, q *queue.Queue) queue.Entry {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	e, ok := q.Dequeue(ctx)
	if !ok {
		t.Fatal("dequeue: no entry within timeout")
	}
	return e
}

func TestStartDeliversOpenThenFramesInOrder(t *testing.T) {
	t.Parallel()

	buf := buffer.New(20)
	q := queue.New(20)
	c := New(buf, q, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start()
	go c.Run(ctx)

	for seq := uint64(1); seq <= 5; seq++ {
		buf.Push(media.Frame{Seq: seq, CapturedAt: time.Now()})
	}

	if e := dequeue(t, q); e.Kind != queue.KindRotate {
		t.Fatalf("first entry: got kind %d, want rotate (session open)", e.Kind)
	}
	for want := uint64(1); want <= 5; want++ {
		e := dequeue(t, q)
		if e.Kind != queue.KindFrame {
			t.Fatalf("entry for seq %d: got kind %d", want, e.Kind)
		}
		if e.Frame.Seq != want {
			t.Errorf("got seq %d, want %d", e.Frame.Seq, want)
		}
	}

	if !c.IsRecording() {
		t.Error("IsRecording: got false after Start")
	}
}

func TestStopEnqueuesStopEntry(t *testing.T) {
	t.Parallel()

	buf := buffer.New(20)
	q := queue.New(20)
	c := New(buf, q, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start()
	go c.Run(ctx)

	if e := dequeue(t, q); e.Kind != queue.KindRotate {
		t.Fatalf("first entry: got kind %d, want rotate", e.Kind)
	}

	c.Stop()
	if e := dequeue(t, q); e.Kind != queue.KindStop {
		t.Fatalf("after Stop: got kind %d, want stop", e.Kind)
	}
	if c.IsRecording() {
		t.Error("IsRecording: got true after Stop")
	}
}

// A session started at T0 with a 10s target must issue a rotate command
// before any frame captured at or after T0+10s is delivered.
func TestRotationBoundaryOrderedAgainstFrames(t *testing.T) {
	t.Parallel()

	buf := buffer.New(20)
	q := queue.New(20)
	cfg := testConfig()
	cfg.TargetDuration = 10 * time.Second
	c := New(buf, q, cfg, nil)

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := &fakeClock{t: t0}
	c.SetClock(clk.Now)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start()
	go c.Run(ctx)

	if e := dequeue(t, q); e.Kind != queue.KindRotate {
		t.Fatalf("first entry: got kind %d, want rotate", e.Kind)
	}

	buf.Push(media.Frame{Seq: 1, CapturedAt: t0.Add(time.Second)})
	e := dequeue(t, q)
	if e.Kind != queue.KindFrame || e.Frame.Seq != 1 {
		t.Fatalf("pre-deadline frame: got kind %d seq %d", e.Kind, e.Frame.Seq)
	}

	clk.Set(t0.Add(10*time.Second + time.Millisecond))
	buf.Push(media.Frame{Seq: 2, CapturedAt: t0.Add(10*time.Second + time.Millisecond)})

	// The rotate command must arrive before frame 2, never after.
	sawRotate := false
	for {
		e := dequeue(t, q)
		if e.Kind == queue.KindRotate {
			sawRotate = true
			continue
		}
		if e.Kind == queue.KindFrame && e.Frame.Seq == 2 {
			if !sawRotate {
				t.Fatal("frame past the deadline delivered before the rotate command")
			}
			break
		}
	}

	if got := c.Stats().Rotations; got < 1 {
		t.Errorf("Rotations: got %d, want at least 1", got)
	}
}

// With a stalled consumer and a tiny queue, enqueue must block and retry
// rather than drop, and order must hold once the stall clears.
func TestBackpressureRetriesWithoutLoss(t *testing.T) {
	t.Parallel()

	buf := buffer.New(20)
	q := queue.New(5)
	cfg := testConfig()
	cfg.EnqueueTimeout = 20 * time.Millisecond
	c := New(buf, q, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start()
	go c.Run(ctx)

	for seq := uint64(1); seq <= 10; seq++ {
		buf.Push(media.Frame{Seq: seq, CapturedAt: time.Now()})
	}

	// Let the coordinator fill the queue and hit ErrFull a few times.
	time.Sleep(150 * time.Millisecond)

	if e := dequeue(t, q); e.Kind != queue.KindRotate {
		t.Fatalf("first entry: got kind %d, want rotate", e.Kind)
	}
	for want := uint64(1); want <= 10; want++ {
		e := dequeue(t, q)
		if e.Kind != queue.KindFrame {
			t.Fatalf("entry for seq %d: got kind %d", want, e.Kind)
		}
		if e.Frame.Seq != want {
			t.Fatalf("got seq %d, want %d (order violated or frame dropped)", e.Frame.Seq, want)
		}
	}
}

func TestIdleCoordinatorDeliversNothing(t *testing.T) {
	t.Parallel()

	buf := buffer.New(20)
	q := queue.New(20)
	c := New(buf, q, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	for seq := uint64(1); seq <= 5; seq++ {
		buf.Push(media.Frame{Seq: seq, CapturedAt: time.Now()})
	}
	time.Sleep(50 * time.Millisecond)

	if depth := q.Depth(); depth != 0 {
		t.Errorf("queue depth while not recording: got %d, want 0", depth)
	}
	if c.IsRecording() {
		t.Error("IsRecording: got true without Start")
	}
}
