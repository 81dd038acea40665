// Package metrics exposes the pipeline counters to Prometheus. All
// values are read on scrape from a snapshot function, so the pipeline
// stages carry no metrics plumbing of their own.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carmelog/videoapi/pipeline"
)

// Metrics holds the registry for one pipeline.
type Metrics struct {
	registry *prometheus.Registry
}

// New registers collectors that read from snap on every scrape.
func New(snap func() pipeline.Snapshot) *Metrics {
	registry := prometheus.NewRegistry()

	counter := func(name, help string, value func(pipeline.Snapshot) float64) prometheus.CounterFunc {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help}, func() float64 {
			return value(snap())
		})
	}
	gauge := func(name, help string, value func(pipeline.Snapshot) float64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			return value(snap())
		})
	}

	registry.MustRegister(
		counter("videoapi_frames_captured_total", "Frames read from the source",
			func(s pipeline.Snapshot) float64 { return float64(s.Capture.FramesCaptured) }),
		counter("videoapi_capture_reconnects_total", "Source reconnect attempts",
			func(s pipeline.Snapshot) float64 { return float64(s.Capture.Reconnects) }),
		counter("videoapi_frames_dropped_total", "Frames evicted from the buffer before delivery",
			func(s pipeline.Snapshot) float64 { return float64(s.Dropped) }),
		counter("videoapi_frames_delivered_total", "Frames handed to the write queue",
			func(s pipeline.Snapshot) float64 { return float64(s.Coordinate.Delivered) }),
		counter("videoapi_frames_written_total", "Frames persisted to disk",
			func(s pipeline.Snapshot) float64 { return float64(s.Write.Written) }),
		counter("videoapi_frames_skipped_total", "Frames skipped as duplicates",
			func(s pipeline.Snapshot) float64 { return float64(s.Write.Skipped) }),
		counter("videoapi_write_errors_total", "Per-frame write errors",
			func(s pipeline.Snapshot) float64 { return float64(s.Write.WriteErrors) }),
		counter("videoapi_rotations_total", "Recording file rotations",
			func(s pipeline.Snapshot) float64 { return float64(s.Write.Rotations) }),
		gauge("videoapi_buffer_frames", "Frames currently held in the capture buffer",
			func(s pipeline.Snapshot) float64 { return float64(s.BufferLen) }),
		gauge("videoapi_queue_depth", "Entries currently in the write queue",
			func(s pipeline.Snapshot) float64 { return float64(s.QueueDepth) }),
		gauge("videoapi_queue_capacity", "Write queue capacity",
			func(s pipeline.Snapshot) float64 { return float64(s.QueueCap) }),
		gauge("videoapi_recording", "1 while a recording session is open",
			func(s pipeline.Snapshot) float64 {
				if s.Coordinate.Recording {
					return 1
				}
				return 0
			}),
		gauge("videoapi_source_connected", "1 while the capture source is connected",
			func(s pipeline.Snapshot) float64 {
				if s.Capture.Connected {
					return 1
				}
				return 0
			}),
	)

	return &Metrics{registry: registry}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
