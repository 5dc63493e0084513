package workflow

import (
	"context"
	"errors"

	"github.com/veostudio/studio-api/internal/eventlog"
	"github.com/veostudio/studio-api/internal/media"
)

// Trim re-encodes the [start, end) segment of the ready asset into a
// WebM derivative. The encode plays the segment through in real time and
// runs asynchronously; the derivative appears in the snapshot once done.
// An empty window (end <= start) is a no-op. The original asset is never
// modified.
func (s *Session) Trim(start, end float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.phase != PhaseReady {
		return ErrNotReady
	}
	if s.trimming {
		return ErrTrimInProgress
	}
	if end <= start || start < 0 {
		return nil
	}
	if s.processor == nil {
		return media.ErrCaptureUnsupported
	}

	s.trimming = true
	s.record(eventlog.LevelInfo, "trim started", map[string]any{"start": start, "end": end})

	epoch := s.epoch
	ctx := s.ctx
	src := s.assetPath
	dst := src + ".clip.webm"
	go s.runTrim(ctx, epoch, src, dst, start, end)
	return nil
}

func (s *Session) runTrim(ctx context.Context, epoch uint64, src, dst string, start, end float64) {
	err := s.processor.TrimSegment(ctx, src, dst, start, end)

	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch {
		// The session was reset mid-trim; the encode was cancelled
		// through ctx and any partial output is discarded.
		go func() { _ = s.store.Remove(context.Background(), []string{dst}) }()
		return
	}

	s.trimming = false

	if err != nil {
		go func() { _ = s.store.Remove(context.Background(), []string{dst}) }()
		if errors.Is(err, media.ErrCaptureUnsupported) {
			s.logger.Warn("trim unsupported on this host, keeping full asset")
			s.record(eventlog.LevelWarn, "trim unsupported, keeping full asset", nil)
			return
		}
		s.logger.Error("trim failed", "error", err)
		s.record(eventlog.LevelError, "trim failed", map[string]any{"error": err.Error()})
		return
	}

	if s.trimmedPath != "" && s.trimmedPath != dst {
		old := s.trimmedPath
		go func() { _ = s.store.Remove(context.Background(), []string{old}) }()
	}
	s.trimmedPath = dst
	s.record(eventlog.LevelInfo, "trim completed", map[string]any{"path": dst})
}

// ResetTrim discards the trimmed derivative, if any, keeping the
// original asset playable.
func (s *Session) ResetTrim() {
	s.mu.Lock()
	old := s.trimmedPath
	s.trimmedPath = ""
	if old != "" {
		s.record(eventlog.LevelInfo, "trim discarded", nil)
	}
	s.mu.Unlock()

	if old != "" {
		_ = s.store.Remove(context.Background(), []string{old})
	}
}
