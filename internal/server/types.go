// Package server provides the HTTP surface of the studio API. It
// includes handlers, middleware, routes, and DTOs separated from domain
// types.
package server

import "github.com/veostudio/studio-api/internal/eventlog"

// GenerateVideoResponse is the HTTP response after submitting a video
// generation.
type GenerateVideoResponse struct {
	// OperationName is the handle used for subsequent polls.
	OperationName string `json:"name"`
}

// PollRequest is the HTTP request body for polling an operation.
type PollRequest struct {
	// OperationName is the handle returned by the generate endpoint.
	OperationName string `json:"name" validate:"required"`
}

// PollResponse is the HTTP response for a single operation poll.
type PollResponse struct {
	// State is the current operation state.
	State string `json:"state"`
	// Done is true once the operation reached a terminal state.
	Done bool `json:"done"`
	// Progress is the percentage of completion (0-100) when reported.
	Progress int `json:"progress"`
	// VideoURI locates the produced asset once completed.
	VideoURI string `json:"videoUri,omitempty"`
	// Error carries the upstream failure message when failed.
	Error string `json:"error,omitempty"`
}

// DownloadRequest is the HTTP request body for retrieving an asset.
// Clients send either the bare uri or the file object returned by the
// upstream poll; the nested form wins when both are present.
type DownloadRequest struct {
	URI  string `json:"uri,omitempty"`
	File *struct {
		URI string `json:"uri,omitempty"`
	} `json:"file,omitempty"`
}

// AssetURI resolves the requested locator, preferring the nested file
// object.
func (r DownloadRequest) AssetURI() string {
	if r.File != nil && r.File.URI != "" {
		return r.File.URI
	}
	return r.URI
}

// GenerateImageRequest is the HTTP request body for text-to-image
// generation.
type GenerateImageRequest struct {
	Prompt      string `json:"prompt" validate:"required"`
	Model       string `json:"model,omitempty"`
	AspectRatio string `json:"aspectRatio,omitempty"`
}

// ImageResponse is the HTTP response carrying a generated image.
type ImageResponse struct {
	Image ImagePayload `json:"image"`
}

// ImagePayload is the inline image within an ImageResponse.
type ImagePayload struct {
	// ImageBytes is the base64-encoded image payload.
	ImageBytes string `json:"imageBytes"`
	// MimeType is the payload's MIME type.
	MimeType string `json:"mimeType"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
	// RetryAfterSeconds hints when to retry, for quota failures.
	RetryAfterSeconds int `json:"retryAfterSeconds,omitempty"`
	// Solutions lists remediation steps, for quota failures.
	Solutions []string `json:"solutions,omitempty"`
}

// LogsResponse is the HTTP response listing recorded events.
type LogsResponse struct {
	Entries []eventlog.Entry `json:"entries"`
	Total   int              `json:"total"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
