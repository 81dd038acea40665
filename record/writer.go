// Package record implements the write stage: the single consumer of the
// write queue. It applies the deduplication gate and resize, persists
// frames through the sink, rotates output files on control entries, and
// distinguishes retryable per-frame failures from fatal handle errors.
package record

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/carmelog/videoapi/media"
	"github.com/carmelog/videoapi/queue"
	"github.com/carmelog/videoapi/sink"
)

// defaultDrainTimeout bounds the shutdown drain of already-enqueued
// frames; exceeding it truncates the queue with a logged warning.
const defaultDrainTimeout = 5 * time.Second

// ResizeFunc scales a frame to the output dimensions. nil disables
// resizing.
type ResizeFunc func(f media.Frame, width, height int) (media.Frame, error)

// Config carries the write stage settings.
type Config struct {
	Width  int
	Height int

	EnableDeduplication bool
	// DedupThreshold skips a frame when its similarity to the last
	// written frame is at or above this value, in [0,1].
	DedupThreshold float64

	// DrainTimeout bounds the shutdown drain. Zero uses the default.
	DrainTimeout time.Duration
}

// Stats is a point-in-time snapshot of write stage counters.
type Stats struct {
	Written        uint64 `json:"written"`
	Skipped        uint64 `json:"skippedDuplicates"`
	WriteErrors    uint64 `json:"writeErrors"`
	WriteCounter   uint64 `json:"writeCounter"`
	LastWrittenSeq uint64 `json:"lastWrittenSeq"`
	Rotations      uint64 `json:"rotations"`
}

// Writer runs the write stage.
type Writer struct {
	log     *slog.Logger
	q       *queue.Queue
	open    sink.Opener
	cfg     Config
	resize  ResizeFunc
	catalog *Catalog

	cur        sink.Sink
	curPath    string
	curOpened  time.Time
	curFrames  uint64
	lastSource media.Frame // pre-resize payload of the last written frame

	written      atomic.Uint64
	skipped      atomic.Uint64
	writeErrors  atomic.Uint64
	writeCounter atomic.Uint64
	lastSeq      atomic.Uint64
	rotations    atomic.Uint64
}

// NewWriter creates a write stage consuming q and opening sinks with open.
// catalog may be nil; resize may be nil to pass frames through unscaled.
// If log is nil, slog.Default() is used.
func NewWriter(q *queue.Queue, open sink.Opener, cfg Config, log *slog.Logger) *Writer {
	if log == nil {
		log = slog.Default()
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	return &Writer{
		log:  log.With("component", "write"),
		q:    q,
		open: open,
		cfg:  cfg,
	}
}

// SetResize attaches the resize hook. Must be called before Run.
func (w *Writer) SetResize(r ResizeFunc) { w.resize = r }

// SetCatalog attaches the finished-segment catalog. Must be called before
// Run.
func (w *Writer) SetCatalog(c *Catalog) { w.catalog = c }

// Stats returns a snapshot of write counters.
func (w *Writer) Stats() Stats {
	return Stats{
		Written:        w.written.Load(),
		Skipped:        w.skipped.Load(),
		WriteErrors:    w.writeErrors.Load(),
		WriteCounter:   w.writeCounter.Load(),
		LastWrittenSeq: w.lastSeq.Load(),
		Rotations:      w.rotations.Load(),
	}
}

// Run consumes the queue in strict FIFO order until the queue closes or
// the context is cancelled, then drains remaining entries bounded by the
// drain timeout. A fatal sink error halts the stage and is returned.
func (w *Writer) Run(ctx context.Context) error {
	defer w.closeCurrent()

	for {
		e, ok := w.q.Dequeue(ctx)
		if !ok {
			if ctx.Err() != nil {
				return w.drain()
			}
			// Queue closed and fully consumed.
			return nil
		}
		if err := w.handle(e); err != nil {
			return err
		}
	}
}

// drain persists entries enqueued before shutdown so no already-accepted
// frame is truncated, up to the hard timeout.
func (w *Writer) drain() error {
	deadline := time.Now().Add(w.cfg.DrainTimeout)
	for {
		e, ok := w.q.TryDequeue()
		if !ok {
			return nil
		}
		if time.Now().After(deadline) {
			w.log.Warn("drain timeout exceeded, truncating write queue",
				"remaining", w.q.Depth()+1)
			return nil
		}
		if err := w.handle(e); err != nil {
			return err
		}
	}
}

func (w *Writer) handle(e queue.Entry) error {
	switch e.Kind {
	case queue.KindRotate:
		return w.rotateTo(e.Path)
	case queue.KindStop:
		w.closeCurrent()
		return nil
	case queue.KindFrame:
		return w.writeFrame(e.Frame)
	default:
		w.log.Warn("unknown queue entry kind", "kind", int(e.Kind))
		return nil
	}
}

func (w *Writer) rotateTo(path string) error {
	w.closeCurrent()

	s, err := w.open(path, w.cfg.Width, w.cfg.Height)
	if err != nil {
		return fmt.Errorf("record: open output %q: %w", path, err)
	}
	w.cur = s
	w.curPath = path
	w.curOpened = time.Now()
	w.curFrames = 0
	w.lastSource = media.Frame{}
	w.rotations.Add(1)
	w.log.Info("output file opened", "path", path)
	return nil
}

func (w *Writer) closeCurrent() {
	if w.cur == nil {
		return
	}
	if err := w.cur.Close(); err != nil {
		w.log.Warn("closing output file failed", "path", w.curPath, "error", err)
	}
	if w.catalog != nil {
		w.catalog.Add(Segment{
			Path:     w.curPath,
			OpenedAt: w.curOpened,
			ClosedAt: time.Now(),
			Frames:   w.curFrames,
		})
	}
	w.log.Info("output file closed", "path", w.curPath, "frames", w.curFrames)
	w.cur = nil
	w.curPath = ""
	w.lastSource = media.Frame{}
}

func (w *Writer) writeFrame(f media.Frame) error {
	if w.cur == nil {
		// Frame raced a stop during shutdown; nothing is open to write to.
		w.log.Debug("dropping frame with no open output", "seq", f.Seq)
		return nil
	}

	if w.cfg.EnableDeduplication && len(w.lastSource.Data) > 0 {
		if score := Similarity(w.lastSource, f); score >= w.cfg.DedupThreshold {
			w.skipped.Add(1)
			// Bookkeeping still advances so gap detection stays accurate.
			w.writeCounter.Add(1)
			w.lastSeq.Store(f.Seq)
			return nil
		}
	}

	out := f
	if w.resize != nil && (f.Width != w.cfg.Width || f.Height != w.cfg.Height) {
		scaled, err := w.resize(f, w.cfg.Width, w.cfg.Height)
		if err != nil {
			w.writeErrors.Add(1)
			w.log.Warn("resize failed, frame skipped", "seq", f.Seq, "error", err)
			return nil
		}
		out = scaled
	}

	if err := w.cur.Write(out); err != nil {
		if errors.Is(err, sink.ErrFatal) {
			w.writeErrors.Add(1)
			w.log.Error("fatal sink error, halting write stage",
				"seq", f.Seq, "path", w.curPath, "error", err)
			return fmt.Errorf("record: %w", err)
		}
		w.writeErrors.Add(1)
		w.log.Warn("frame write failed", "seq", f.Seq, "error", err)
		return nil
	}

	// Dedup compares against the frame as delivered, before resize, so a
	// steady scene skips regardless of output scaling.
	w.lastSource = f
	w.curFrames++
	w.written.Add(1)
	w.writeCounter.Add(1)
	w.lastSeq.Store(f.Seq)
	return nil
}
