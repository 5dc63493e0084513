// Package media post-processes generated video. Its one transform is a
// real-time trim: the selected segment is played through the encoder at
// source rate and re-encoded into a WebM clip, so the wall-clock cost is
// proportional to the segment length and the container always changes.
package media

import "context"

// Processor is the port for video post-processing.
type Processor interface {
	// TrimSegment re-encodes the [start, end) segment of src into a WebM
	// clip at dst. The segment is played through in real time, so the
	// call blocks for roughly end-start. Returns ErrCaptureUnsupported
	// when no encoder is available on the host.
	TrimSegment(ctx context.Context, src, dst string, start, end float64) error

	// Duration returns the playable length of a media file in seconds.
	Duration(ctx context.Context, path string) (float64, error)
}
