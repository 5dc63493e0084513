package server

import (
	"log/slog"
	"net/http"

	"github.com/veostudio/studio-api/internal/eventlog"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// Environment enables the development auth bypass when set to
	// "development".
	Environment string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
		Environment:    "production",
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing. Everything under
// /api requires authentication; /health is public.
func NewRouter(h *Handlers, verifier TokenVerifier, events *eventlog.Log, logger *slog.Logger, cfg Config) http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/veo/generate", h.GenerateVideo)
	api.HandleFunc("POST /api/veo/operation", h.PollOperation)
	api.HandleFunc("POST /api/veo/download", h.DownloadAsset)
	api.HandleFunc("POST /api/gemini/generate", h.GenerateImage)
	api.HandleFunc("POST /api/gemini/edit", h.EditImage)
	api.HandleFunc("POST /api/gemini/compose", h.ComposeImages)
	api.HandleFunc("POST /api/imagen/generate", h.GenerateImagenImage)
	api.HandleFunc("GET /api/logs", h.GetLogs)
	api.HandleFunc("GET /api/logs/stats", h.GetLogStats)
	api.HandleFunc("DELETE /api/logs", h.ClearLogs)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("/api/", AuthMiddleware(verifier, cfg.Environment, logger)(api))

	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		RequestIDMiddleware(),
		LoggingMiddleware(logger, events),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
