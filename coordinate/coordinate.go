// Package coordinate bridges the frame buffer and the write queue. The
// coordinator tracks the last-delivered counter, pulls new frames in
// batches, owns the recording-session lifecycle, and issues rotation and
// stop commands in-band on the write queue so they stay strictly ordered
// against the data around them.
package coordinate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/strftime"

	"github.com/carmelog/videoapi/buffer"
	"github.com/carmelog/videoapi/media"
	"github.com/carmelog/videoapi/process"
	"github.com/carmelog/videoapi/queue"
)

// Config carries the coordination stage settings.
type Config struct {
	// OutputTemplate is a strftime-formatted path pattern resolved at
	// session open and at each rotation.
	OutputTemplate string
	// TargetDuration rotates the output file each time it elapses.
	// Zero disables rotation.
	TargetDuration time.Duration
	// PollInterval bounds the wait for new frames. Defaults to 250ms.
	PollInterval time.Duration
	// EnqueueTimeout bounds each blocking enqueue before the batch is
	// retried on the next pass. Defaults to 500ms.
	EnqueueTimeout time.Duration
}

// Session is one continuous recording interval bounded by start/stop or
// rotation.
type Session struct {
	ID             string
	StartedAt      time.Time
	TargetDuration time.Duration
	OutputPath     string
}

// deadline returns the rotation deadline, or the zero time when the
// session does not rotate.
func (s *Session) deadline() time.Time {
	if s.TargetDuration <= 0 {
		return time.Time{}
	}
	return s.StartedAt.Add(s.TargetDuration)
}

// Stats is a point-in-time snapshot of coordination state for the status
// API.
type Stats struct {
	Recording        bool   `json:"recording"`
	SessionID        string `json:"sessionId,omitempty"`
	SessionStartedAt int64  `json:"sessionStartedAt,omitempty"`
	LastDelivered    uint64 `json:"lastDelivered"`
	Delivered        uint64 `json:"delivered"`
	Rotations        uint64 `json:"rotations"`
	LastEpoch        int    `json:"lastEpoch"`
}

// Coordinator runs the coordination stage. Start and Stop may be called
// from any goroutine; the loop applies transitions in order.
type Coordinator struct {
	log  *slog.Logger
	buf  *buffer.Buffer
	q    *queue.Queue
	cfg  Config
	proc process.Processor
	now  func() time.Time

	mu      sync.Mutex
	session *Session

	want          atomic.Bool
	recording     atomic.Bool
	lastDelivered atomic.Uint64
	delivered     atomic.Uint64
	rotations     atomic.Uint64
	lastEpoch     atomic.Int64
}

// New creates a Coordinator. If log is nil, slog.Default() is used.
func New(buf *buffer.Buffer, q *queue.Queue, cfg Config, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 500 * time.Millisecond
	}
	return &Coordinator{
		log: log.With("component", "coordinate"),
		buf: buf,
		q:   q,
		cfg: cfg,
		now: time.Now,
	}
}

// SetProcessor attaches a frame processor invoked synchronously once per
// delivered batch. Must be called before Run.
func (c *Coordinator) SetProcessor(p process.Processor) {
	c.proc = p
}

// SetClock overrides the time source. Test hook; must be called before Run.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// Start requests that recording begin. The loop opens the session.
func (c *Coordinator) Start() {
	c.want.Store(true)
}

// Stop requests that recording end. The loop flushes pending state and
// signals the write stage to close the current file.
func (c *Coordinator) Stop() {
	c.want.Store(false)
}

// IsRecording reports whether a recording session is open.
func (c *Coordinator) IsRecording() bool {
	return c.recording.Load()
}

// Stats returns a snapshot of coordination counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()

	st := Stats{
		Recording:     c.recording.Load(),
		LastDelivered: c.lastDelivered.Load(),
		Delivered:     c.delivered.Load(),
		Rotations:     c.rotations.Load(),
		LastEpoch:     int(c.lastEpoch.Load()),
	}
	if s != nil {
		st.SessionID = s.ID
		st.SessionStartedAt = s.StartedAt.UnixMilli()
	}
	return st
}

// Run drives the coordination loop until ctx is cancelled, then closes the
// write queue so the write stage can drain and exit.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.q.Close()

	for {
		if ctx.Err() != nil {
			c.shutdown()
			return nil
		}

		if err := c.applyTransitions(ctx); err != nil {
			// Queue busy; retry the transition on the next pass.
			c.log.Debug("session transition deferred", "error", err)
		}

		if !c.recording.Load() {
			// Track the buffer tail while idle so a later Start records
			// from now rather than replaying stale frames.
			c.lastDelivered.Store(c.buf.LastSeq())
			sleepCtx(ctx, c.cfg.PollInterval)
			continue
		}

		if !c.buf.WaitForNew(ctx, c.lastDelivered.Load(), c.cfg.PollInterval) {
			// No new frames; rotation may still be due on wall clock.
			c.maybeRotateOnTime(ctx)
			continue
		}

		batch := c.buf.Since(c.lastDelivered.Load())
		if len(batch) == 0 {
			continue
		}
		c.deliver(ctx, batch)
		c.maybeRotateOnTime(ctx)
	}
}

// applyTransitions reconciles the requested recording state with the open
// session, enqueueing open/stop control entries as needed.
func (c *Coordinator) applyTransitions(ctx context.Context) error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	switch {
	case c.want.Load() && session == nil:
		s, err := c.openSession()
		if err != nil {
			return err
		}
		e := queue.Entry{Kind: queue.KindRotate, Path: s.OutputPath}
		if err := c.q.Enqueue(ctx, e, c.cfg.EnqueueTimeout); err != nil {
			return fmt.Errorf("open session: %w", err)
		}
		c.mu.Lock()
		c.session = s
		c.mu.Unlock()
		c.recording.Store(true)
		c.log.Info("recording started",
			"session", s.ID, "path", s.OutputPath, "duration", s.TargetDuration)

	case !c.want.Load() && session != nil:
		if err := c.q.Enqueue(ctx, queue.Entry{Kind: queue.KindStop}, c.cfg.EnqueueTimeout); err != nil {
			return fmt.Errorf("stop session: %w", err)
		}
		c.mu.Lock()
		c.session = nil
		c.mu.Unlock()
		c.recording.Store(false)
		c.log.Info("recording stopped", "session", session.ID)
	}
	return nil
}

// deliver enqueues a batch in counter order, splitting it at the session's
// rotation deadline: a rotate entry always precedes the first frame
// captured at or after the deadline. On a full queue the remainder of the
// batch is left for the next pass; lastDelivered only advances past frames
// actually enqueued.
func (c *Coordinator) deliver(ctx context.Context, batch []media.Frame) {
	for _, f := range batch {
		c.mu.Lock()
		session := c.session
		c.mu.Unlock()
		if session == nil {
			return
		}

		if dl := session.deadline(); !dl.IsZero() && !f.CapturedAt.Before(dl) {
			if !c.rotate(ctx) {
				return
			}
		}

		if f.Epoch != int(c.lastEpoch.Load()) {
			c.log.Warn("source discontinuity",
				"epoch", f.Epoch, "previous", c.lastEpoch.Load(), "seq", f.Seq)
			c.lastEpoch.Store(int64(f.Epoch))
		}

		e := queue.Entry{Kind: queue.KindFrame, Frame: f}
		if err := c.q.Enqueue(ctx, e, c.cfg.EnqueueTimeout); err != nil {
			c.log.Debug("write queue busy, batch deferred",
				"seq", f.Seq, "error", err)
			return
		}
		c.lastDelivered.Store(f.Seq)
		c.delivered.Add(1)
	}

	if c.proc != nil {
		last := batch[len(batch)-1]
		if r, err := c.proc.Process(last); err != nil {
			c.log.Warn("processor failed", "processor", c.proc.Name(), "error", err)
		} else {
			c.log.Debug("processed batch",
				"processor", r.Processor, "score", r.Score, "seq", last.Seq)
		}
	}
}

// maybeRotateOnTime rotates when the deadline has passed on the wall clock
// and no pending frames are holding the boundary.
func (c *Coordinator) maybeRotateOnTime(ctx context.Context) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return
	}
	if dl := session.deadline(); !dl.IsZero() && !c.now().Before(dl) {
		c.rotate(ctx)
	}
}

// rotate closes the current session boundary: it enqueues a rotate control
// entry carrying the next resolved path and replaces the session. Reports
// false if the queue stayed full, leaving the old session in place so the
// rotation is retried before any post-deadline frame is delivered.
func (c *Coordinator) rotate(ctx context.Context) bool {
	s, err := c.openSession()
	if err != nil {
		c.log.Error("rotation failed to resolve output path", "error", err)
		return false
	}
	e := queue.Entry{Kind: queue.KindRotate, Path: s.OutputPath}
	if err := c.q.Enqueue(ctx, e, c.cfg.EnqueueTimeout); err != nil {
		c.log.Debug("rotation deferred, write queue busy", "error", err)
		return false
	}
	c.mu.Lock()
	old := c.session
	c.session = s
	c.mu.Unlock()
	c.rotations.Add(1)
	oldID := ""
	if old != nil {
		oldID = old.ID
	}
	c.log.Info("session rotated",
		"from", oldID, "to", s.ID, "path", s.OutputPath)
	return true
}

// openSession resolves the output template against the current time and
// builds a fresh session.
func (c *Coordinator) openSession() (*Session, error) {
	now := c.now()
	path, err := strftime.Format(c.cfg.OutputTemplate, now)
	if err != nil {
		return nil, fmt.Errorf("resolve output template %q: %w", c.cfg.OutputTemplate, err)
	}
	return &Session{
		ID:             uuid.NewString(),
		StartedAt:      now,
		TargetDuration: c.cfg.TargetDuration,
		OutputPath:     path,
	}, nil
}

// shutdown flushes the stop signal on cancellation so the write stage
// closes the final file after draining.
func (c *Coordinator) shutdown() {
	if !c.recording.Load() {
		return
	}
	// Best-effort: the queue may be full, but it is about to be drained by
	// the write stage, which closes the sink at end of drain regardless.
	if err := c.q.Enqueue(context.Background(), queue.Entry{Kind: queue.KindStop}, c.cfg.EnqueueTimeout); err != nil {
		c.log.Warn("could not enqueue final stop", "error", err)
	}
	c.recording.Store(false)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
