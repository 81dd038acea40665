package sink

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"

	"github.com/carmelog/videoapi/media"
)

// Options carries the encoding parameters passed through from the
// configuration surface. FourCC and the container format implied by the
// path extension are opaque to the pipeline core.
type Options struct {
	FourCC string
	FPS    float64
}

// NewGoCVOpener returns an Opener producing OpenCV VideoWriter sinks.
func NewGoCVOpener(opts Options) Opener {
	if opts.FourCC == "" {
		opts.FourCC = "mp4v"
	}
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	return func(path string, width, height int) (Sink, error) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sink: create output dir: %w (%w)", err, ErrFatal)
		}
		vw, err := gocv.VideoWriterFile(path, opts.FourCC, opts.FPS, width, height, true)
		if err != nil {
			return nil, fmt.Errorf("sink: open %q: %w (%w)", path, err, ErrFatal)
		}
		if !vw.IsOpened() {
			vw.Close()
			return nil, fmt.Errorf("sink: open %q: writer not opened (%w)", path, ErrFatal)
		}
		return &videoSink{vw: vw, path: path, width: width, height: height}, nil
	}
}

type videoSink struct {
	vw     *gocv.VideoWriter
	path   string
	width  int
	height int
}

func (s *videoSink) Write(f media.Frame) error {
	if f.Width != s.width || f.Height != s.height {
		return fmt.Errorf("sink: frame %dx%d does not match output %dx%d",
			f.Width, f.Height, s.width, s.height)
	}
	mat, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Data)
	if err != nil {
		return fmt.Errorf("sink: frame to mat: %w", err)
	}
	defer mat.Close()

	if err := s.vw.Write(mat); err != nil {
		if !s.vw.IsOpened() {
			return fmt.Errorf("sink: write %q: %w (%w)", s.path, err, ErrFatal)
		}
		return fmt.Errorf("sink: write %q: %w", s.path, err)
	}
	return nil
}

func (s *videoSink) Close() error {
	return s.vw.Close()
}

// Resize scales a frame's payload to the given output dimensions. It is
// wired into the write stage as its resize hook.
func Resize(f media.Frame, width, height int) (media.Frame, error) {
	src, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC3, f.Data)
	if err != nil {
		return media.Frame{}, fmt.Errorf("sink: frame to mat: %w", err)
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Resize(src, &dst, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)

	out := f
	out.Width = width
	out.Height = height
	out.Data = dst.ToBytes()
	return out, nil
}
