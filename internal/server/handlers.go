package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/veostudio/studio-api/internal/eventlog"
	"github.com/veostudio/studio-api/internal/generation"
)

// maxUploadBytes bounds multipart uploads (reference images).
const maxUploadBytes = 32 << 20

// VideoBackend is the video generation boundary the handlers proxy to.
type VideoBackend interface {
	Submit(ctx context.Context, req generation.VideoRequest) (generation.OperationHandle, error)
	Poll(ctx context.Context, handle generation.OperationHandle) (generation.OperationStatus, error)
	Download(ctx context.Context, uri string) (body io.ReadCloser, contentType string, err error)
}

// ImageBackend is the image generation boundary the handlers proxy to.
type ImageBackend interface {
	GenerateImage(ctx context.Context, prompt string, model generation.ImageModel, aspectRatio string) (generation.ImageData, error)
	EditImage(ctx context.Context, prompt string, model generation.ImageModel, images []generation.ImageData) (generation.ImageData, error)
	ComposeImages(ctx context.Context, prompt string, model generation.ImageModel, images []generation.ImageData) (generation.ImageData, error)
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	video     VideoBackend
	image     ImageBackend
	events    *eventlog.Log
	validator *validator.Validate
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(video VideoBackend, image ImageBackend, events *eventlog.Log, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		video:     video,
		image:     image,
		events:    events,
		validator: validator.New(),
		logger:    logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// GenerateVideo handles POST /api/veo/generate requests. The body is
// multipart form data: prompt, optional model, aspectRatio and
// negativePrompt fields, and an optional reference image file.
func (h *Handlers) GenerateVideo(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeGenerationError(w, h.logger, generation.NewInvalidRequest("invalid multipart body"))
		return
	}

	model, err := generation.ParseVideoModel(r.FormValue("model"))
	if err != nil {
		writeGenerationError(w, h.logger, err)
		return
	}

	req := generation.VideoRequest{
		Prompt:         r.FormValue("prompt"),
		Model:          model,
		NegativePrompt: r.FormValue("negativePrompt"),
		AspectRatio:    r.FormValue("aspectRatio"),
	}

	if file, header, ferr := r.FormFile("imageFile"); ferr == nil {
		image, rerr := readUpload(file, header)
		if rerr != nil {
			writeGenerationError(w, h.logger, generation.NewInvalidRequest("unreadable image upload"))
			return
		}
		req.Image = &image
	} else if encoded := r.FormValue("imageBase64"); encoded != "" {
		image, derr := decodeImageField(encoded, r.FormValue("imageMimeType"))
		if derr != nil {
			writeGenerationError(w, h.logger, generation.NewInvalidRequest("invalid base64 image"))
			return
		}
		req.Image = &image
	}

	handle, err := h.video.Submit(r.Context(), req)
	if err != nil {
		writeGenerationError(w, h.logger, err)
		return
	}

	h.logger.Info("generation submitted",
		slog.String("operation", string(handle)),
		slog.String("model", model.String()),
	)
	writeJSON(w, http.StatusOK, GenerateVideoResponse{OperationName: string(handle)})
}

// PollOperation handles POST /api/veo/operation requests.
func (h *Handlers) PollOperation(w http.ResponseWriter, r *http.Request) {
	var req PollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGenerationError(w, h.logger, generation.NewInvalidRequest("invalid JSON body"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeGenerationError(w, h.logger, generation.NewInvalidRequest(err.Error()))
		return
	}

	status, err := h.video.Poll(r.Context(), generation.OperationHandle(req.OperationName))
	if err != nil {
		writeGenerationError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, PollResponse{
		State:    string(status.State),
		Done:     status.State.IsTerminal(),
		Progress: status.Progress,
		VideoURI: status.AssetURI,
		Error:    status.Message,
	})
}

// DownloadAsset handles POST /api/veo/download requests. The upstream
// asset is streamed through; nothing is buffered or cached.
func (h *Handlers) DownloadAsset(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGenerationError(w, h.logger, generation.NewInvalidRequest("invalid JSON body"))
		return
	}

	uri := req.AssetURI()
	if uri == "" {
		writeGenerationError(w, h.logger, generation.NewInvalidRequest("missing file uri"))
		return
	}

	body, contentType, err := h.video.Download(r.Context(), uri)
	if err != nil {
		writeGenerationError(w, h.logger, err)
		return
	}
	defer func() { _ = body.Close() }()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `inline; filename="veo3_video.mp4"`)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, body); err != nil {
		// Headers are gone; all we can do is log the broken stream.
		h.logger.Warn("asset stream interrupted", slog.String("error", err.Error()))
	}
}

// GenerateImage handles POST /api/gemini/generate requests.
func (h *Handlers) GenerateImage(w http.ResponseWriter, r *http.Request) {
	h.generateImage(w, r, generation.DefaultImageModel)
}

// GenerateImagenImage handles POST /api/imagen/generate requests. Same
// body as gemini generate, defaulting to the Imagen model.
func (h *Handlers) GenerateImagenImage(w http.ResponseWriter, r *http.Request) {
	h.generateImage(w, r, generation.ImageModelImagenFast)
}

func (h *Handlers) generateImage(w http.ResponseWriter, r *http.Request, fallback generation.ImageModel) {
	var req GenerateImageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeGenerationError(w, h.logger, generation.NewInvalidRequest("invalid JSON body"))
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeGenerationError(w, h.logger, generation.NewInvalidRequest(err.Error()))
		return
	}

	model := fallback
	if req.Model != "" {
		var err error
		model, err = generation.ParseImageModel(req.Model)
		if err != nil {
			writeGenerationError(w, h.logger, err)
			return
		}
	}

	image, err := h.image.GenerateImage(r.Context(), req.Prompt, model, req.AspectRatio)
	if err != nil {
		writeGenerationError(w, h.logger, err)
		return
	}

	writeImage(w, image)
}

// EditImage handles POST /api/gemini/edit requests. The body is
// multipart form data: a prompt field, an optional model field, and one
// or more image files under "images".
func (h *Handlers) EditImage(w http.ResponseWriter, r *http.Request) {
	h.imageTransform(w, r, h.image.EditImage)
}

// ComposeImages handles POST /api/gemini/compose requests. Same shape as
// edit, with at least two image files.
func (h *Handlers) ComposeImages(w http.ResponseWriter, r *http.Request) {
	h.imageTransform(w, r, h.image.ComposeImages)
}

func (h *Handlers) imageTransform(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, prompt string, model generation.ImageModel, images []generation.ImageData) (generation.ImageData, error),
) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeGenerationError(w, h.logger, generation.NewInvalidRequest("invalid multipart body"))
		return
	}

	model, err := generation.ParseImageModel(r.FormValue("model"))
	if err != nil {
		writeGenerationError(w, h.logger, err)
		return
	}

	var images []generation.ImageData
	if r.MultipartForm != nil {
		for _, header := range r.MultipartForm.File["images"] {
			file, ferr := header.Open()
			if ferr != nil {
				writeGenerationError(w, h.logger, generation.NewInvalidRequest("unreadable image upload"))
				return
			}
			image, rerr := readUpload(file, header)
			if rerr != nil {
				writeGenerationError(w, h.logger, generation.NewInvalidRequest("unreadable image upload"))
				return
			}
			images = append(images, image)
		}
	}

	result, err := op(r.Context(), r.FormValue("prompt"), model, images)
	if err != nil {
		writeGenerationError(w, h.logger, err)
		return
	}

	writeImage(w, result)
}

// GetLogs handles GET /api/logs requests. Filters come from query
// parameters; format=csv switches the response to a CSV export.
func (h *Handlers) GetLogs(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="events.csv"`)
		if err := h.events.WriteCSV(w); err != nil {
			h.logger.Error("csv export failed", slog.String("error", err.Error()))
		}
		return
	}

	filter := eventlog.Filter{
		Level:     eventlog.Level(r.URL.Query().Get("level")),
		Component: r.URL.Query().Get("component"),
		Contains:  r.URL.Query().Get("contains"),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeGenerationError(w, h.logger, generation.NewInvalidRequest("invalid limit"))
			return
		}
		filter.Limit = n
	}

	entries := h.events.Query(filter)
	writeJSON(w, http.StatusOK, LogsResponse{Entries: entries, Total: len(entries)})
}

// GetLogStats handles GET /api/logs/stats requests.
func (h *Handlers) GetLogStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.events.Stats())
}

// ClearLogs handles DELETE /api/logs requests.
func (h *Handlers) ClearLogs(w http.ResponseWriter, r *http.Request) {
	h.events.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// decodeImageField turns a base64 form field into an ImageData. Data
// URL prefixes ("data:image/png;base64,....") are tolerated.
func decodeImageField(encoded, mimeType string) (generation.ImageData, error) {
	if idx := strings.IndexByte(encoded, ','); idx >= 0 {
		encoded = encoded[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return generation.ImageData{}, fmt.Errorf("decode image: %w", err)
	}
	if mimeType == "" {
		mimeType = "image/png"
	}
	return generation.ImageData{Data: data, MIMEType: mimeType}, nil
}

// readUpload drains a multipart file into an ImageData, taking the MIME
// type from the part header and sniffing it when absent.
func readUpload(file multipart.File, header *multipart.FileHeader) (generation.ImageData, error) {
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		return generation.ImageData{}, fmt.Errorf("read upload: %w", err)
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}

	return generation.ImageData{Data: data, MIMEType: mimeType}, nil
}

func writeImage(w http.ResponseWriter, image generation.ImageData) {
	writeJSON(w, http.StatusOK, ImageResponse{
		Image: ImagePayload{
			ImageBytes: base64.StdEncoding.EncodeToString(image.Data),
			MimeType:   image.MIMEType,
		},
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// writeGenerationError maps a classified generation failure onto an HTTP
// status and the standard error shape. Quota failures additionally carry
// the retry hint and remediation steps.
func writeGenerationError(w http.ResponseWriter, logger *slog.Logger, err error) {
	ge := generation.AsError(err)
	if ge == nil {
		logger.Error("unclassified failure", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
		return
	}

	var status int
	switch ge.Kind {
	case generation.KindInvalidRequest:
		status = http.StatusBadRequest
	case generation.KindUnauthenticated:
		status = http.StatusUnauthorized
	case generation.KindQuotaExceeded:
		status = http.StatusTooManyRequests
	case generation.KindUpstreamRejected, generation.KindTransport, generation.KindDownloadFailed:
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}

	resp := ErrorResponse{
		Error: ge.Message,
		Code:  ge.Kind.String(),
	}
	if resp.Error == "" {
		resp.Error = ge.Error()
	}
	if ge.Kind == generation.KindQuotaExceeded {
		resp.RetryAfterSeconds = int(ge.RetryAfter.Seconds())
		resp.Solutions = ge.Remediation()
	}

	writeJSON(w, status, resp)
}
