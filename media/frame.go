// Package media defines the frame record that flows through the VideoAPI
// pipeline, from capture through coordination to the write stage.
package media

import "time"

// Hand-off sizing defaults used when the configuration leaves them unset.
// The frame buffer absorbs capture jitter (~1 second of video at 30 fps);
// the write queue decouples coordination from disk throughput.
const (
	DefaultBufferSize = 30
	DefaultQueueSize  = 64
)

// Frame is one decoded image pulled from the video source. Seq increases
// monotonically for the lifetime of the buffer and is never reused, even
// across source reconnects; Epoch increments on each reconnect so consumers
// observe the discontinuity explicitly. Data is raw BGR24 pixels owned by
// whichever stage currently holds the frame.
type Frame struct {
	Seq        uint64
	Epoch      int
	Width      int
	Height     int
	Data       []byte
	CapturedAt time.Time
}

// Clone returns a copy of the frame with its own payload, for stages that
// need to retain pixel data past the hand-off.
func (f Frame) Clone() Frame {
	c := f
	c.Data = make([]byte, len(f.Data))
	copy(c.Data, f.Data)
	return c
}
