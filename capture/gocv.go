package capture

import (
	"context"
	"fmt"
	"time"

	"gocv.io/x/gocv"

	"github.com/carmelog/videoapi/media"
)

// GoCVSource opens a live video address (RTSP URL, device index, HTTP
// stream) through OpenCV's capture backend and yields decoded BGR frames.
type GoCVSource struct {
	address string
}

// NewGoCVSource creates a source for the given address. The address may
// contain credentials already expanded by the configuration layer.
func NewGoCVSource(address string) (*GoCVSource, error) {
	if address == "" {
		return nil, fmt.Errorf("capture: source address is required")
	}
	return &GoCVSource{address: address}, nil
}

// Open connects to the source address.
func (s *GoCVSource) Open(ctx context.Context) (Conn, error) {
	cap, err := gocv.OpenVideoCapture(s.address)
	if err != nil {
		return nil, fmt.Errorf("capture: open %q: %w", s.address, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, fmt.Errorf("capture: open %q: not opened", s.address)
	}
	return &gocvConn{cap: cap, mat: gocv.NewMat()}, nil
}

type gocvConn struct {
	cap *gocv.VideoCapture
	mat gocv.Mat
}

// Read decodes the next frame. A failed read on a live source means the
// connection dropped; the capture stage reopens it.
func (c *gocvConn) Read(ctx context.Context) (media.Frame, error) {
	if ctx.Err() != nil {
		return media.Frame{}, ctx.Err()
	}
	if !c.cap.Read(&c.mat) || c.mat.Empty() {
		return media.Frame{}, fmt.Errorf("capture: %w", ErrTimeout)
	}
	data := c.mat.ToBytes()
	return media.Frame{
		Width:  c.mat.Cols(),
		Height: c.mat.Rows(),
		Data:   data,
	}, nil
}

func (c *gocvConn) Close() error {
	c.mat.Close()
	return c.cap.Close()
}

// FileSource plays a recorded video file through the same pipeline,
// pacing reads to the given fps. With Loop set, the file restarts at EOF;
// otherwise Read returns ErrSourceClosed and capture ends cleanly.
type FileSource struct {
	path string
	fps  float64
	loop bool
}

// NewFileSource creates a playback source for path. fps at or below zero
// disables pacing.
func NewFileSource(path string, fps float64, loop bool) (*FileSource, error) {
	if path == "" {
		return nil, fmt.Errorf("capture: playback path is required")
	}
	return &FileSource{path: path, fps: fps, loop: loop}, nil
}

// Open opens the video file.
func (s *FileSource) Open(ctx context.Context) (Conn, error) {
	cap, err := gocv.VideoCaptureFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("capture: open file %q: %w", s.path, err)
	}
	var interval time.Duration
	if s.fps > 0 {
		interval = time.Duration(float64(time.Second) / s.fps)
	}
	return &fileConn{
		cap:      cap,
		mat:      gocv.NewMat(),
		path:     s.path,
		loop:     s.loop,
		interval: interval,
	}, nil
}

type fileConn struct {
	cap      *gocv.VideoCapture
	mat      gocv.Mat
	path     string
	loop     bool
	interval time.Duration
	lastRead time.Time
}

func (c *fileConn) Read(ctx context.Context) (media.Frame, error) {
	if c.interval > 0 && !c.lastRead.IsZero() {
		if wait := c.interval - time.Since(c.lastRead); wait > 0 {
			if !sleep(ctx, wait) {
				return media.Frame{}, ctx.Err()
			}
		}
	}

	if !c.cap.Read(&c.mat) || c.mat.Empty() {
		if !c.loop {
			return media.Frame{}, ErrSourceClosed
		}
		// Rewind and retry once; an unreadable file after rewind is over.
		c.cap.Set(gocv.VideoCapturePosFrames, 0)
		if !c.cap.Read(&c.mat) || c.mat.Empty() {
			return media.Frame{}, ErrSourceClosed
		}
	}

	c.lastRead = time.Now()
	return media.Frame{
		Width:  c.mat.Cols(),
		Height: c.mat.Rows(),
		Data:   c.mat.ToBytes(),
	}, nil
}

func (c *fileConn) Close() error {
	c.mat.Close()
	return c.cap.Close()
}
