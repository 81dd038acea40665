package record

import "github.com/carmelog/videoapi/media"

// Similarity scores how close a candidate frame is to the previously
// written frame, in [0,1], where 1 means byte-identical payloads. It is
// pure and deterministic: identical inputs always yield identical output.
// Frames of differing dimensions or payload length score 0. The write
// stage owns the threshold comparison.
func Similarity(prev, cand media.Frame) float64 {
	if len(prev.Data) == 0 || len(cand.Data) == 0 {
		return 0
	}
	if prev.Width != cand.Width || prev.Height != cand.Height || len(prev.Data) != len(cand.Data) {
		return 0
	}

	var sum uint64
	for i := range prev.Data {
		d := int(prev.Data[i]) - int(cand.Data[i])
		if d < 0 {
			d = -d
		}
		sum += uint64(d)
	}
	mad := float64(sum) / float64(len(prev.Data))
	return 1 - mad/255
}
