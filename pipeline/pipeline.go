// Package pipeline assembles the capture, coordination, and write stages
// around their two hand-off points and supervises them as one unit. Each
// Pipeline owns its frame buffer and write queue; there is no ambient
// shared state.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/carmelog/videoapi/buffer"
	"github.com/carmelog/videoapi/capture"
	"github.com/carmelog/videoapi/coordinate"
	"github.com/carmelog/videoapi/media"
	"github.com/carmelog/videoapi/process"
	"github.com/carmelog/videoapi/queue"
	"github.com/carmelog/videoapi/record"
	"github.com/carmelog/videoapi/sink"
)

// Config carries everything the pipeline needs to build its stages.
type Config struct {
	BufferSize int
	QueueSize  int

	Width  int
	Height int

	OutputTemplate string
	TargetDuration time.Duration

	EnableDeduplication bool
	DedupThreshold      float64

	// StartRecording opens a session as soon as the pipeline runs,
	// matching live-mode entry in the original system.
	StartRecording bool
}

// Snapshot aggregates the stage metrics for the control surface.
type Snapshot struct {
	Capture     capture.Stats    `json:"capture"`
	Coordinate  coordinate.Stats `json:"coordinate"`
	Write       record.Stats     `json:"write"`
	Dropped     uint64           `json:"droppedFrames"`
	BufferLen   int              `json:"bufferLen"`
	QueueDepth  int              `json:"queueDepth"`
	QueueCap    int              `json:"queueCap"`
	CollectedAt int64            `json:"collectedAt"`
}

// Pipeline is one capture-to-disk unit.
type Pipeline struct {
	log *slog.Logger

	buf *buffer.Buffer
	q   *queue.Queue

	capture *capture.Capture
	coord   *coordinate.Coordinator
	writer  *record.Writer
	catalog *record.Catalog

	startRecording bool
}

// New builds a Pipeline from a source and a sink opener. If log is nil,
// slog.Default() is used.
func New(src capture.Source, open sink.Opener, cfg Config, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = media.DefaultBufferSize
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = media.DefaultQueueSize
	}

	buf := buffer.New(cfg.BufferSize)
	q := queue.New(cfg.QueueSize)

	p := &Pipeline{
		log:     log.With("component", "pipeline"),
		buf:     buf,
		q:       q,
		capture: capture.New(src, buf, log),
		coord: coordinate.New(buf, q, coordinate.Config{
			OutputTemplate: cfg.OutputTemplate,
			TargetDuration: cfg.TargetDuration,
		}, log),
		writer: record.NewWriter(q, open, record.Config{
			Width:               cfg.Width,
			Height:              cfg.Height,
			EnableDeduplication: cfg.EnableDeduplication,
			DedupThreshold:      cfg.DedupThreshold,
		}, log),
		catalog:        record.NewCatalog(log),
		startRecording: cfg.StartRecording,
	}
	p.writer.SetCatalog(p.catalog)
	return p
}

// SetProcessor attaches a per-batch frame processor. Must be called
// before Run.
func (p *Pipeline) SetProcessor(proc process.Processor) {
	p.coord.SetProcessor(proc)
}

// SetResize attaches the writer's resize hook. Must be called before Run.
func (p *Pipeline) SetResize(r record.ResizeFunc) {
	p.writer.SetResize(r)
}

// Run starts the three stages and blocks until all have stopped. A fatal
// write-stage error cancels the other stages and is returned.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.startRecording {
		p.coord.Start()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.capture.Run(ctx) })
	g.Go(func() error { return p.coord.Run(ctx) })
	g.Go(func() error { return p.writer.Run(ctx) })

	err := g.Wait()
	p.log.Info("pipeline stopped", "error", err)
	return err
}

// Start opens a recording session.
func (p *Pipeline) Start() { p.coord.Start() }

// Stop closes the current recording session.
func (p *Pipeline) Stop() { p.coord.Stop() }

// IsRecording reports whether a recording session is open.
func (p *Pipeline) IsRecording() bool { return p.coord.IsRecording() }

// Catalog returns the finished-segment catalog.
func (p *Pipeline) Catalog() *record.Catalog { return p.catalog }

// Snapshot returns a point-in-time view of all pipeline metrics.
func (p *Pipeline) Snapshot() Snapshot {
	return Snapshot{
		Capture:     p.capture.Stats(),
		Coordinate:  p.coord.Stats(),
		Write:       p.writer.Stats(),
		Dropped:     p.buf.Dropped(),
		BufferLen:   p.buf.Len(),
		QueueDepth:  p.q.Depth(),
		QueueCap:    p.q.Cap(),
		CollectedAt: time.Now().UnixMilli(),
	}
}
