// Package process defines the narrow capability interface for pluggable
// per-frame analysis invoked synchronously by the coordination stage.
// Implementations are swappable variants behind the interface and hold no
// shared mutable state.
package process

import "github.com/carmelog/videoapi/media"

// Result is the auxiliary output of processing one frame.
type Result struct {
	Processor string
	Score     float64
}

// Processor analyzes a single frame. Process must not retain the frame's
// payload; errors are logged by the caller and never stop the pipeline.
type Processor interface {
	Name() string
	Process(f media.Frame) (Result, error)
}

// Luminance scores frames by mean luma, approximated from BGR bytes with
// integer Rec.601 weights. Score is normalized to [0,1].
type Luminance struct{}

// Name implements Processor.
func (Luminance) Name() string { return "luminance" }

// Process implements Processor.
func (l Luminance) Process(f media.Frame) (Result, error) {
	if len(f.Data) < 3 {
		return Result{Processor: l.Name()}, nil
	}
	var sum uint64
	n := len(f.Data) / 3 * 3
	for i := 0; i < n; i += 3 {
		b := uint64(f.Data[i])
		g := uint64(f.Data[i+1])
		r := uint64(f.Data[i+2])
		sum += (29*b + 150*g + 77*r) >> 8
	}
	mean := float64(sum) / float64(n/3)
	return Result{Processor: l.Name(), Score: mean / 255}, nil
}
