// Package sink defines the persistent encoder boundary consumed by the
// write stage, plus the OpenCV-backed implementation that encodes frames
// into fourcc-coded video files.
package sink

import (
	"errors"

	"github.com/carmelog/videoapi/media"
)

// ErrFatal marks a sink error the write stage cannot recover from by
// skipping the frame (handle unusable: disk full, permission loss). Wrap
// it and test with errors.Is.
var ErrFatal = errors.New("sink: fatal")

// Sink is one open output file handle. It is owned exclusively by the
// write stage: opened at session start or rotation, closed and flushed
// before rotation or shutdown.
type Sink interface {
	// Write encodes one frame. A plain error is retryable per-frame; an
	// error wrapping ErrFatal terminates the write stage.
	Write(f media.Frame) error
	Close() error
}

// Opener opens a sink at the resolved output path with the session's
// output dimensions.
type Opener func(path string, width, height int) (Sink, error)
