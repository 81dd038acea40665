package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/carmelog/videoapi/capture"
	"github.com/carmelog/videoapi/coordinate"
	"github.com/carmelog/videoapi/pipeline"
	"github.com/carmelog/videoapi/record"
)

func TestScrapeReadsSnapshot(t *testing.T) {
	t.Parallel()

	snap := pipeline.Snapshot{
		Capture:    capture.Stats{FramesCaptured: 42, Connected: true},
		Coordinate: coordinate.Stats{Recording: true, Delivered: 40},
		Write:      record.Stats{Written: 38, Skipped: 2},
		Dropped:    1,
		BufferLen:  7,
		QueueDepth: 3,
		QueueCap:   64,
	}
	m := New(func() pipeline.Snapshot { return snap })

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("scrape: got %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		"videoapi_frames_captured_total 42",
		"videoapi_frames_delivered_total 40",
		"videoapi_frames_written_total 38",
		"videoapi_frames_skipped_total 2",
		"videoapi_frames_dropped_total 1",
		"videoapi_buffer_frames 7",
		"videoapi_queue_depth 3",
		"videoapi_queue_capacity 64",
		"videoapi_recording 1",
		"videoapi_source_connected 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("scrape output missing %q", want)
		}
	}
}
