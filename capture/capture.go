package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/carmelog/videoapi/buffer"
)

// Backoff bounds for the reconnect loop. The delay doubles after each
// failed attempt, from Initial up to Max, and resets after a successful
// read.
const (
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second
)

// Stats is a point-in-time snapshot of capture health, exposed through the
// status API.
type Stats struct {
	FramesCaptured uint64 `json:"framesCaptured"`
	Reconnects     uint64 `json:"reconnects"`
	Epoch          int    `json:"epoch"`
	LastFrameAt    int64  `json:"lastFrameAt"` // unix millis, 0 before first frame
	Connected      bool   `json:"connected"`
}

// Capture runs the capture stage for one source. It owns the sequence
// counter: Seq values increase monotonically for the lifetime of the stage
// and are never reused across reconnects.
type Capture struct {
	log    *slog.Logger
	source Source
	buf    *buffer.Buffer

	initialBackoff time.Duration
	maxBackoff     time.Duration

	nextSeq     atomic.Uint64
	epoch       atomic.Int64
	captured    atomic.Uint64
	reconnects  atomic.Uint64
	lastFrameAt atomic.Int64
	connected   atomic.Bool
}

// New creates a capture stage pushing into buf. If log is nil,
// slog.Default() is used.
func New(source Source, buf *buffer.Buffer, log *slog.Logger) *Capture {
	if log == nil {
		log = slog.Default()
	}
	return &Capture{
		log:            log.With("component", "capture"),
		source:         source,
		buf:            buf,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
	}
}

// SetBackoff overrides the reconnect backoff bounds. Zero values keep the
// defaults.
func (c *Capture) SetBackoff(initial, max time.Duration) {
	if initial > 0 {
		c.initialBackoff = initial
	}
	if max > 0 {
		c.maxBackoff = max
	}
}

// Run opens the source and captures frames until ctx is cancelled or the
// source reports a permanent end (ErrSourceClosed). Transient errors and
// timeouts trigger the reconnect procedure; they are never returned.
func (c *Capture) Run(ctx context.Context) error {
	defer c.connected.Store(false)

	backoff := c.initialBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := c.source.Open(ctx)
		if err != nil {
			c.log.Warn("source open failed", "error", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff, c.maxBackoff)
			continue
		}

		c.connected.Store(true)
		c.log.Info("source connected", "epoch", c.epoch.Load())

		gotFrames, err := c.readLoop(ctx, conn)
		conn.Close()
		c.connected.Store(false)
		if gotFrames {
			// The connection was healthy; the next reconnect attempt starts
			// from the initial interval again.
			backoff = c.initialBackoff
		}

		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrSourceClosed):
			c.log.Info("source ended", "frames", c.captured.Load())
			return nil
		default:
			// Disconnect: new epoch so downstream sees the discontinuity.
			c.epoch.Add(1)
			c.reconnects.Add(1)
			c.log.Warn("source disconnected, reconnecting",
				"error", err, "epoch", c.epoch.Load(), "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff, c.maxBackoff)
		}
	}
}

// readLoop pulls frames from one connection until it fails. It reports
// whether any frame was captured, plus the read error that ended the loop
// (nil on context cancellation).
func (c *Capture) readLoop(ctx context.Context, conn Conn) (bool, error) {
	gotFrames := false
	for {
		if ctx.Err() != nil {
			return gotFrames, nil
		}

		f, err := conn.Read(ctx)
		if err != nil {
			return gotFrames, err
		}
		gotFrames = true

		f.Seq = c.nextSeq.Add(1)
		f.Epoch = int(c.epoch.Load())
		f.CapturedAt = time.Now()
		c.buf.Push(f)
		c.captured.Add(1)
		c.lastFrameAt.Store(f.CapturedAt.UnixMilli())
	}
}

// Stats returns a snapshot of capture counters.
func (c *Capture) Stats() Stats {
	return Stats{
		FramesCaptured: c.captured.Load(),
		Reconnects:     c.reconnects.Load(),
		Epoch:          int(c.epoch.Load()),
		LastFrameAt:    c.lastFrameAt.Load(),
		Connected:      c.connected.Load(),
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	cur *= 2
	if cur > max {
		return max
	}
	return cur
}

// sleep waits for d or until ctx is cancelled, reporting false on cancel.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
