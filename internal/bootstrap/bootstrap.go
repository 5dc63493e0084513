// Package bootstrap provides dependency initialization for the studio API.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/veostudio/studio-api/internal/auth"
	"github.com/veostudio/studio-api/internal/config"
	"github.com/veostudio/studio-api/internal/eventlog"
	"github.com/veostudio/studio-api/internal/gemini"
	"github.com/veostudio/studio-api/internal/media"
	"github.com/veostudio/studio-api/internal/server"
	"github.com/veostudio/studio-api/internal/storage"
	"github.com/veostudio/studio-api/internal/veo"
	"github.com/veostudio/studio-api/internal/workflow"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Video     *veo.Client
	Image     *gemini.Client
	Store     storage.AssetStore
	Processor media.Processor
	Events    *eventlog.Log
	Verifier  server.TokenVerifier

	cfg    *config.Config
	logger *slog.Logger
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	videoOpts := []veo.ClientOption{veo.WithAPIKey(cfg.GeminiAPIKey)}
	imageOpts := []gemini.ClientOption{gemini.WithAPIKey(cfg.GeminiAPIKey)}
	if cfg.GeminiBaseURL != "" {
		videoOpts = append(videoOpts, veo.WithBaseURL(cfg.GeminiBaseURL))
		imageOpts = append(imageOpts, gemini.WithBaseURL(cfg.GeminiBaseURL))
	}

	videoClient, err := veo.NewClient(videoOpts...)
	if err != nil {
		return nil, fmt.Errorf("create video client: %w", err)
	}

	imageClient, err := gemini.NewClient(imageOpts...)
	if err != nil {
		return nil, fmt.Errorf("create image client: %w", err)
	}

	verifier, err := initVerifier(cfg, logger)
	if err != nil {
		return nil, err
	}

	return &Dependencies{
		Video:     videoClient,
		Image:     imageClient,
		Store:     store,
		Processor: media.NewFFmpegProcessor(cfg.FFmpegPath),
		Events:    eventlog.New(cfg.LogMaxEntries),
		Verifier:  verifier,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// NewSession creates a generation session wired with the initialized
// clients, storage and processor, for callers embedding the workflow
// directly instead of going through the HTTP proxy.
func (d *Dependencies) NewSession() *workflow.Session {
	opts := []workflow.SessionOption{
		workflow.WithPollInterval(d.cfg.PollInterval()),
		workflow.WithProcessor(d.Processor),
		workflow.WithRecorder(d.Events),
		workflow.WithLogger(d.logger),
	}
	if d.cfg.S3Enabled() {
		opts = append(opts, workflow.WithArchivePrefix("videos"))
	}
	return workflow.NewSession(d.Video, d.Video, d.Video, d.Store, opts...)
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.AssetStore, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Store(cfg.ScratchDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 store: %w", err)
		}
		logger.Info("S3 archive configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStore(cfg.ScratchDir)
	if err != nil {
		return nil, fmt.Errorf("create local store: %w", err)
	}
	logger.Info("local store configured",
		slog.String("scratch_dir", cfg.ScratchDir),
	)
	return localStore, nil
}

// initVerifier creates the token verifier. Without a Firebase project ID
// every token is rejected, which only the development bypass can get
// around.
func initVerifier(cfg *config.Config, logger *slog.Logger) (server.TokenVerifier, error) {
	if cfg.FirebaseProjectID == "" {
		if cfg.Environment != "development" {
			logger.Warn("no firebase project configured, all tokens will be rejected")
		}
		return rejectAllVerifier{}, nil
	}

	verifier, err := auth.NewVerifier(cfg.FirebaseProjectID)
	if err != nil {
		return nil, fmt.Errorf("create token verifier: %w", err)
	}
	logger.Info("firebase auth configured",
		slog.String("project_id", cfg.FirebaseProjectID),
	)
	return verifier, nil
}

type rejectAllVerifier struct{}

func (rejectAllVerifier) Verify(_ context.Context, _ string) (auth.Principal, error) {
	return auth.Principal{}, errNotConfigured
}

var errNotConfigured = fmt.Errorf("token verification is not configured")
