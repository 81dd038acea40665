// Package capture owns the connection to the video source: it pulls frames
// as fast as the source permits, stamps them with a monotonic sequence
// counter, and pushes them into the frame buffer, reconnecting with bounded
// exponential backoff when the source drops.
package capture

import (
	"context"
	"errors"

	"github.com/carmelog/videoapi/media"
)

// ErrTimeout is returned by Conn.Read when no frame arrived within the
// connection's read deadline. The capture stage treats it like a disconnect.
var ErrTimeout = errors.New("capture: read timed out")

// ErrSourceClosed is returned by Conn.Read when the source has ended and
// will produce no further frames (e.g. end of a playback file without loop).
var ErrSourceClosed = errors.New("capture: source closed")

// Source opens connections to a video source. Implementations exist for
// live network addresses and local files; tests inject fakes.
type Source interface {
	Open(ctx context.Context) (Conn, error)
}

// Conn is one open connection to a source. Read blocks until a decoded
// frame is available, bounded by the connection's internal deadline, and
// fills only the payload fields (Width, Height, Data); the capture stage
// stamps Seq, Epoch, and CapturedAt. Any non-timeout error is a disconnect.
type Conn interface {
	Read(ctx context.Context) (media.Frame, error)
	Close() error
}
