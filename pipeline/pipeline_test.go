package pipeline

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/carmelog/videoapi/capture"
	"github.com/carmelog/videoapi/media"
	"github.com/carmelog/videoapi/sink"
)

// scriptedSource emits count frames, one every interval, then reports a
// clean end of stream.
type scriptedSource struct {
	count    int
	interval time.Duration
}

func (s *scriptedSource) Open(ctx context.Context) (capture.Conn, error) {
	return &scriptedConn{remaining: s.count, interval: s.interval}, nil
}

type scriptedConn struct {
	remaining int
	interval  time.Duration
}

func (c *scriptedConn) Read(ctx context.Context) (media.Frame, error) {
	if c.remaining == 0 {
		return media.Frame{}, capture.ErrSourceClosed
	}
	select {
	case <-time.After(c.interval):
	case <-ctx.Done():
		return media.Frame{}, ctx.Err()
	}
	c.remaining--
	return media.Frame{
		Width: 4, Height: 4,
		Data: bytes.Repeat([]byte{byte(c.remaining)}, 4*4*3),
	}, nil
}

func (c *scriptedConn) Close() error { return nil }

type memSink struct {
	mu   sync.Mutex
	seqs []uint64
}

func (s *memSink) Write(f media.Frame) error {
	s.mu.Lock()
	s.seqs = append(s.seqs, f.Seq)
	s.mu.Unlock()
	return nil
}

func (s *memSink) Close() error { return nil }

type memOpener struct {
	mu    sync.Mutex
	sinks []*memSink
}

func (o *memOpener) open(path string, width, height int) (sink.Sink, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := &memSink{}
	o.sinks = append(o.sinks, s)
	return s, nil
}

func TestPipelineEndToEnd(t *testing.T) {
	t.Parallel()

	const frames = 20
	src := &scriptedSource{count: frames, interval: time.Millisecond}
	op := &memOpener{}

	p := New(src, op.open, Config{
		Width: 4, Height: 4,
		OutputTemplate: t.TempDir() + "/%H-%M-%S.mp4",
		StartRecording: true,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if p.Snapshot().Write.Written == frames {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	snap := p.Snapshot()
	if snap.Capture.FramesCaptured != frames {
		t.Errorf("FramesCaptured: got %d, want %d", snap.Capture.FramesCaptured, frames)
	}
	if snap.Write.Written != frames {
		t.Fatalf("Written: got %d, want %d", snap.Write.Written, frames)
	}

	if len(op.sinks) != 1 {
		t.Fatalf("got %d sinks, want 1", len(op.sinks))
	}
	seqs := op.sinks[0].seqs
	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Fatalf("write order violated at %d: %d after %d", i, seqs[i], seqs[i-1])
		}
	}
}

func TestPipelineSnapshotBeforeRun(t *testing.T) {
	t.Parallel()

	p := New(&scriptedSource{}, (&memOpener{}).open, Config{
		Width: 4, Height: 4,
		OutputTemplate: "/tmp/%H.mp4",
	}, nil)

	snap := p.Snapshot()
	if snap.QueueCap != media.DefaultQueueSize {
		t.Errorf("QueueCap: got %d, want %d", snap.QueueCap, media.DefaultQueueSize)
	}
	if snap.BufferLen != 0 || snap.QueueDepth != 0 {
		t.Errorf("idle snapshot: got len=%d depth=%d", snap.BufferLen, snap.QueueDepth)
	}
	if p.IsRecording() {
		t.Error("IsRecording before Run: got true")
	}
}
