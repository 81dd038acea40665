package record

import (
	"log/slog"
	"sync"
	"time"
)

// Segment describes one finished output file.
type Segment struct {
	Path     string    `json:"path"`
	OpenedAt time.Time `json:"openedAt"`
	ClosedAt time.Time `json:"closedAt"`
	Frames   uint64    `json:"frames"`
}

// Catalog tracks finished segments for the recordings listing in the
// control API. The write stage appends an entry each time it closes a
// file.
type Catalog struct {
	log      *slog.Logger
	mu       sync.RWMutex
	segments []Segment
}

// NewCatalog creates a Catalog. If log is nil, slog.Default() is used.
func NewCatalog(log *slog.Logger) *Catalog {
	if log == nil {
		log = slog.Default()
	}
	return &Catalog{log: log.With("component", "catalog")}
}

// Add records a finished segment.
func (c *Catalog) Add(seg Segment) {
	c.mu.Lock()
	c.segments = append(c.segments, seg)
	c.mu.Unlock()
	c.log.Info("segment finished",
		"path", seg.Path, "frames", seg.Frames,
		"duration", seg.ClosedAt.Sub(seg.OpenedAt))
}

// List returns all finished segments, oldest first.
func (c *Catalog) List() []Segment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Segment, len(c.segments))
	copy(out, c.segments)
	return out
}
