// Package workflow drives a video generation session end to end:
// submitting the request, polling the resulting operation at a fixed
// interval, retrieving the finished asset into local storage, and
// post-processing it. A session moves through a strict phase machine and
// owns all of its scratch files until it is reset or closed.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/veostudio/studio-api/internal/eventlog"
	"github.com/veostudio/studio-api/internal/generation"
	"github.com/veostudio/studio-api/internal/media"
	"github.com/veostudio/studio-api/internal/storage"
)

// DefaultPollInterval is the delay between operation polls.
const DefaultPollInterval = 5 * time.Second

// Gateway submits a generation request and returns its operation handle.
type Gateway interface {
	Submit(ctx context.Context, req generation.VideoRequest) (generation.OperationHandle, error)
}

// Poller queries the status of a long-running operation.
type Poller interface {
	Poll(ctx context.Context, handle generation.OperationHandle) (generation.OperationStatus, error)
}

// Retriever streams the finished asset.
type Retriever interface {
	Download(ctx context.Context, uri string) (body io.ReadCloser, contentType string, err error)
}

// Phase is the lifecycle state of a session.
type Phase string

// Session phases.
const (
	PhaseIdle       Phase = "idle"
	PhaseSubmitting Phase = "submitting"
	PhasePolling    Phase = "polling"
	PhaseRetrieving Phase = "retrieving"
	PhaseReady      Phase = "ready"
	PhaseFailed     Phase = "failed"
)

// validTransitions defines which phase transitions are allowed. Reset
// returns to idle from anywhere and is not listed.
var validTransitions = map[Phase][]Phase{
	PhaseIdle:       {PhaseSubmitting},
	PhaseSubmitting: {PhasePolling, PhaseFailed},
	PhasePolling:    {PhaseRetrieving, PhaseFailed},
	PhaseRetrieving: {PhaseReady, PhaseFailed},
	PhaseReady:      {},
	PhaseFailed:     {PhaseSubmitting},
}

func canTransition(from, to Phase) bool {
	for _, p := range validTransitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// Static errors for session operations.
var (
	// ErrSessionActive is returned by Start while a generation is already
	// in flight or its result is still held.
	ErrSessionActive = errors.New("session already has an active generation")
	// ErrSessionClosed is returned once the session has been closed.
	ErrSessionClosed = errors.New("session is closed")
	// ErrNotReady is returned by Trim before an asset is available.
	ErrNotReady = errors.New("no asset is ready")
	// ErrTrimInProgress is returned when a trim is already running.
	ErrTrimInProgress = errors.New("a trim is already in progress")
)

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	Phase       Phase
	Handle      generation.OperationHandle
	Progress    int
	AssetPath   string
	ContentType string
	ArchiveURL  string
	TrimmedPath string
	Trimming    bool
	Err         error
}

// Session orchestrates one generation at a time. All methods are safe
// for concurrent use; at most one poll is ever in flight, and the next
// poll is scheduled only after the previous one finished.
type Session struct {
	gateway   Gateway
	poller    Poller
	retriever Retriever
	store     storage.AssetStore

	processor     media.Processor
	events        eventlog.Recorder
	logger        *slog.Logger
	pollInterval  time.Duration
	archivePrefix string

	mu          sync.Mutex
	phase       Phase
	epoch       uint64
	closed      bool
	handle      generation.OperationHandle
	progress    int
	assetPath   string
	contentType string
	archiveURL  string
	trimmedPath string
	trimming    bool
	lastErr     error
	timer       *time.Timer
	ctx         context.Context
	cancel      context.CancelFunc
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithPollInterval overrides the fixed delay between polls.
func WithPollInterval(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithProcessor enables post-processing of the retrieved asset.
func WithProcessor(p media.Processor) SessionOption {
	return func(s *Session) {
		s.processor = p
	}
}

// WithRecorder wires session events into an event log.
func WithRecorder(r eventlog.Recorder) SessionOption {
	return func(s *Session) {
		s.events = r
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = l
	}
}

// WithArchivePrefix enables archiving the retrieved asset under
// prefix/<operation basename> once retrieval completes.
func WithArchivePrefix(prefix string) SessionOption {
	return func(s *Session) {
		s.archivePrefix = prefix
	}
}

// NewSession creates an idle session over the given boundary clients and
// asset store.
func NewSession(gateway Gateway, poller Poller, retriever Retriever, store storage.AssetStore, opts ...SessionOption) *Session {
	s := &Session{
		gateway:      gateway,
		poller:       poller,
		retriever:    retriever,
		store:        store,
		logger:       slog.Default(),
		pollInterval: DefaultPollInterval,
		phase:        PhaseIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins a new generation. It is accepted only from the idle and
// failed phases; a failed session restarts cleanly. The submission runs
// asynchronously and Start returns as soon as it is underway.
func (s *Session) Start(req generation.VideoRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if !canTransition(s.phase, PhaseSubmitting) {
		return ErrSessionActive
	}

	s.beginEpochLocked()
	s.phase = PhaseSubmitting
	s.record(eventlog.LevelInfo, "generation started", map[string]any{"model": string(req.Model)})

	epoch := s.epoch
	ctx := s.ctx
	go s.submit(ctx, epoch, req)
	return nil
}

// beginEpochLocked invalidates all outstanding work and resets the
// per-generation fields. Callers hold s.mu.
func (s *Session) beginEpochLocked() {
	s.epoch++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.handle = ""
	s.progress = 0
	s.assetPath = ""
	s.contentType = ""
	s.archiveURL = ""
	s.trimmedPath = ""
	s.trimming = false
	s.lastErr = nil
}

func (s *Session) submit(ctx context.Context, epoch uint64, req generation.VideoRequest) {
	handle, err := s.gateway.Submit(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return
	}

	if err != nil {
		s.failLocked(err)
		return
	}

	s.handle = handle
	s.phase = PhasePolling
	s.record(eventlog.LevelInfo, "operation submitted", map[string]any{"handle": string(handle)})
	s.schedulePollLocked(epoch)
}

// schedulePollLocked arms the poll timer. The next poll is only ever
// scheduled from here, after the previous poll's handling finished, so
// polls never overlap. Callers hold s.mu.
func (s *Session) schedulePollLocked(epoch uint64) {
	s.timer = time.AfterFunc(s.pollInterval, func() {
		s.pollOnce(epoch)
	})
}

func (s *Session) pollOnce(epoch uint64) {
	s.mu.Lock()
	if epoch != s.epoch || s.phase != PhasePolling {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	handle := s.handle
	s.mu.Unlock()

	status, err := s.poller.Poll(ctx, handle)

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch || s.phase != PhasePolling {
		return
	}

	if err != nil {
		// A transport hiccup does not condemn the operation; the next
		// poll may succeed.
		if kind := generation.KindOf(err); kind == generation.KindTransport || kind == generation.KindUnknown {
			s.logger.Warn("poll failed, will retry", "handle", string(handle), "error", err)
			s.record(eventlog.LevelWarn, "poll failed, retrying", map[string]any{"error": err.Error()})
			s.schedulePollLocked(epoch)
			return
		}
		s.failLocked(err)
		return
	}

	switch status.State {
	case generation.StateCompleted:
		if status.AssetURI == "" {
			s.failLocked(generation.NewNoAsset("operation completed without an asset"))
			return
		}
		s.progress = 100
		s.phase = PhaseRetrieving
		s.record(eventlog.LevelInfo, "operation completed, retrieving asset", nil)
		go s.retrieve(s.ctx, epoch, status.AssetURI)
	case generation.StateFailed:
		s.failLocked(&generation.Error{Kind: generation.KindUpstreamRejected, Message: status.Message})
	default:
		s.progress = status.Progress
		s.schedulePollLocked(epoch)
	}
}

func (s *Session) retrieve(ctx context.Context, epoch uint64, uri string) {
	body, contentType, err := s.retriever.Download(ctx, uri)
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if epoch != s.epoch {
			return
		}
		s.failLocked(err)
		return
	}

	path, saveErr := s.store.SaveScratch(ctx, "asset", body)
	_ = body.Close()

	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		if saveErr == nil {
			_ = s.store.Remove(context.Background(), []string{path})
		}
		return
	}

	if saveErr != nil {
		s.failLocked(fmt.Errorf("store asset: %w", saveErr))
		s.mu.Unlock()
		return
	}

	s.assetPath = path
	s.contentType = contentType
	s.phase = PhaseReady
	s.record(eventlog.LevelInfo, "asset ready", map[string]any{"path": path})
	prefix := s.archivePrefix
	s.mu.Unlock()

	if prefix != "" {
		s.archive(ctx, epoch, path, prefix)
	}
}

// archive pushes the finished asset to durable storage. Failures are
// logged but never affect the session phase.
func (s *Session) archive(ctx context.Context, epoch uint64, path, prefix string) {
	reader, err := s.store.OpenScratch(ctx, path)
	if err != nil {
		s.logger.Warn("archive skipped", "error", err)
		return
	}
	defer func() { _ = reader.Close() }()

	key := prefix + "/" + fmt.Sprintf("asset-%d.mp4", time.Now().UnixNano())
	url, err := s.store.Archive(ctx, key, reader)
	if err != nil {
		if !errors.Is(err, storage.ErrArchiveNotConfigured) {
			s.logger.Warn("archive failed", "key", key, "error", err)
			s.record(eventlog.LevelWarn, "archive failed", map[string]any{"error": err.Error()})
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return
	}
	s.archiveURL = url
	s.record(eventlog.LevelInfo, "asset archived", map[string]any{"url": url})
}

// failLocked moves the session to the failed phase and stops all
// scheduled work. Callers hold s.mu.
func (s *Session) failLocked(err error) {
	s.phase = PhaseFailed
	s.lastErr = err
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.logger.Error("generation failed", "error", err)
	s.record(eventlog.LevelError, "generation failed", map[string]any{"error": err.Error()})
}

// Reset returns the session to idle, cancelling any in-flight work and
// removing every scratch file it produced. A trim running at reset time
// is cut short and its partial output discarded.
func (s *Session) Reset() {
	s.mu.Lock()
	paths := s.scratchPathsLocked()
	s.beginEpochLocked()
	s.phase = PhaseIdle
	s.record(eventlog.LevelInfo, "session reset", nil)
	s.mu.Unlock()

	if len(paths) > 0 {
		_ = s.store.Remove(context.Background(), paths)
	}
}

func (s *Session) scratchPathsLocked() []string {
	var paths []string
	if s.assetPath != "" {
		paths = append(paths, s.assetPath)
	}
	if s.trimmedPath != "" {
		paths = append(paths, s.trimmedPath)
	}
	return paths
}

// Close resets the session and rejects all further use.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	paths := s.scratchPathsLocked()
	s.beginEpochLocked()
	s.cancel()
	s.phase = PhaseIdle
	s.mu.Unlock()

	if len(paths) > 0 {
		_ = s.store.Remove(context.Background(), paths)
	}
}

// Snapshot returns the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Phase:       s.phase,
		Handle:      s.handle,
		Progress:    s.progress,
		AssetPath:   s.assetPath,
		ContentType: s.contentType,
		ArchiveURL:  s.archiveURL,
		TrimmedPath: s.trimmedPath,
		Trimming:    s.trimming,
		Err:         s.lastErr,
	}
}

func (s *Session) record(level eventlog.Level, message string, details map[string]any) {
	if s.events != nil {
		s.events.Record(level, "workflow", message, details)
	}
}
