package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Static errors for media operations.
var (
	// ErrInvalidSegment is returned when the trim window is empty or negative.
	ErrInvalidSegment = errors.New("invalid segment: end must be greater than start")
	// ErrCaptureUnsupported is returned when no encoder binary is
	// available on the host. Callers degrade to serving the untrimmed
	// asset.
	ErrCaptureUnsupported = errors.New("segment capture unsupported: ffmpeg not found")
	// ErrFFprobeExecution is returned when the ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
)

// FFmpegProcessor implements Processor using the ffmpeg CLI.
type FFmpegProcessor struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
}

// NewFFmpegProcessor creates a new FFmpegProcessor.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegProcessor(ffmpegPath string) *FFmpegProcessor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegProcessor{ffmpegPath: ffmpegPath}
}

// TrimSegment re-encodes the [start, end) segment of src into a WebM
// clip at dst. The -re flag feeds the input at its native rate, so the
// encode runs for roughly the segment's duration and can be cut short
// through ctx.
func (p *FFmpegProcessor) TrimSegment(ctx context.Context, src, dst string, start, end float64) error {
	if start < 0 || end <= start {
		return fmt.Errorf("%w: start=%.2f, end=%.2f", ErrInvalidSegment, start, end)
	}

	if _, err := exec.LookPath(p.ffmpegPath); err != nil {
		return ErrCaptureUnsupported
	}

	args := []string{
		"-y", // Overwrite output file without asking
		"-ss", fmt.Sprintf("%.3f", start), // Seek before opening input
		"-re",     // Read input at native frame rate
		"-i", src, // Input file
		"-t", fmt.Sprintf("%.3f", end-start), // Segment duration
		"-c:v", "libvpx-vp9", // Video codec
		"-b:v", "1M", // Video bitrate
		"-c:a", "libopus", // Audio codec
		"-b:a", "128k", // Audio bitrate
		"-flush_packets", "1", // Write packets as they are produced
		dst, // Output file
	}

	return p.runFFmpeg(ctx, args)
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (p *FFmpegProcessor) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// Duration returns the playable length of a media file in seconds.
// It uses ffprobe to extract the duration metadata.
func (p *FFmpegProcessor) Duration(ctx context.Context, path string) (float64, error) {
	// #nosec G204 - path is provided by trusted internal code
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return 0, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}

	var duration float64
	_, err = fmt.Sscanf(strings.TrimSpace(stdout.String()), "%f", &duration)
	if err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}

	return duration, nil
}
