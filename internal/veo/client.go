// Package veo implements the generation boundary against the generative
// video provider: submitting a generation job, polling its operation,
// and streaming the finished asset. Each method issues exactly one
// upstream call; retry policy belongs to the caller.
package veo

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/veostudio/studio-api/internal/generation"
)

// Static errors for Veo client construction.
var (
	// ErrAPIKeyNotSet is returned when no API key is provided and
	// GEMINI_API_KEY is unset.
	ErrAPIKeyNotSet = errors.New("veo: GEMINI_API_KEY environment variable is not set")
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// maxErrorBody bounds how much of an upstream error body is kept as detail.
const maxErrorBody = 8 << 10

// Client is the HTTP client for the video generation API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIKey sets the API key for authentication.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithBaseURL sets a custom base URL for the API.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a new Veo HTTP client. The API key can be set via
// WithAPIKey; if not provided it is read from GEMINI_API_KEY.
func NewClient(opts ...ClientOption) (*Client, error) {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		c.apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	return c, nil
}

// Submit starts a video generation job and returns its operation handle.
// The request is validated locally first; a validation failure means no
// upstream call was made. Exactly one upstream call is issued and no
// retry is attempted here.
func (c *Client) Submit(ctx context.Context, req generation.VideoRequest) (generation.OperationHandle, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	model := req.Model
	if model == "" {
		model = generation.DefaultVideoModel
	}

	instance := videoInstance{Prompt: req.Prompt}
	if req.Image != nil {
		instance.Image = &inlineImage{
			BytesBase64Encoded: base64.StdEncoding.EncodeToString(req.Image.Data),
			MimeType:           req.Image.MIMEType,
		}
	}

	payload := generateRequest{Instances: []videoInstance{instance}}
	if req.AspectRatio != "" || req.NegativePrompt != "" {
		payload.Parameters = &videoParameters{
			AspectRatio:    req.AspectRatio,
			NegativePrompt: req.NegativePrompt,
		}
	}

	endpoint := fmt.Sprintf("%s/models/%s:predictLongRunning", c.baseURL, url.PathEscape(model.String()))

	var resp operationResponse
	if err := c.doJSON(ctx, http.MethodPost, endpoint, payload, &resp); err != nil {
		return "", fmt.Errorf("submit generation: %w", err)
	}

	if resp.Name == "" {
		return "", fmt.Errorf("submit generation: %w",
			generation.NewUpstreamRejected(http.StatusOK, "no operation name returned"))
	}

	return generation.OperationHandle(resp.Name), nil
}

// Poll issues a single status query for the operation and maps the
// upstream result into an OperationStatus. A transport failure is
// returned as an error, distinct from a terminal failed status, so the
// caller can treat it as retriable.
func (c *Client) Poll(ctx context.Context, handle generation.OperationHandle) (generation.OperationStatus, error) {
	if handle == "" {
		return generation.OperationStatus{}, generation.NewInvalidRequest("missing operation name")
	}

	endpoint := c.baseURL + "/" + strings.TrimLeft(string(handle), "/")

	var resp operationResponse
	if err := c.doJSON(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return generation.OperationStatus{}, fmt.Errorf("poll operation: %w", err)
	}

	status := generation.OperationStatus{Handle: handle}

	if !resp.Done {
		status.State = generation.StatePending
		if resp.Metadata != nil {
			status.State = generation.StateRunning
			status.Progress = resp.Metadata.ProgressPercent
		}
		return status, nil
	}

	if resp.Error != nil {
		status.State = generation.StateFailed
		status.Message = resp.Error.Message
		return status, nil
	}

	status.State = generation.StateCompleted
	status.Progress = 100
	status.AssetURI = assetURI(resp.Response)
	return status, nil
}

// Download fetches the asset at uri and returns a streaming reader plus
// the content type, defaulting to video/mp4 when the upstream omits one.
// The body is not buffered; the caller must close the reader.
func (c *Client) Download(ctx context.Context, uri string) (io.ReadCloser, string, error) {
	if uri == "" {
		return nil, "", generation.NewInvalidRequest("missing file uri")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, "", fmt.Errorf("download asset: %w", generation.NewTransport("create request", err))
	}
	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("Accept", "*/*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download asset: %w", generation.NewTransport("fetch asset", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		return nil, "", fmt.Errorf("download asset: %w",
			generation.NewDownloadFailed(resp.StatusCode, strings.TrimSpace(string(detail))))
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}

	return resp.Body, contentType, nil
}

// doJSON performs a single JSON request/response cycle and classifies
// every failure mode into the generation error taxonomy.
func (c *Client) doJSON(ctx context.Context, method, endpoint string, payload, out any) error {
	var bodyReader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return generation.NewTransport("create request", err)
	}
	req.Header.Set("x-goog-api-key", c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return generation.NewTransport("request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return generation.NewTransport("decode response", err)
		}
	}
	return nil
}

// classifyStatus maps a non-2xx upstream response into the error
// taxonomy, distinguishing quota exhaustion and preserving provider
// detail.
func classifyStatus(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	detail := strings.TrimSpace(string(raw))
	var envelope apiErrorEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		detail = envelope.Error.Message
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return generation.NewQuotaExceeded(detail, parseRetryAfter(resp.Header.Get("Retry-After")))
	}

	return generation.NewUpstreamRejected(resp.StatusCode, detail)
}

// parseRetryAfter handles the delay-seconds form of the Retry-After
// header. The HTTP-date form is rare on this API and treated as absent.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// assetURI extracts the produced video's locator from either response
// variant. Empty when the upstream omitted it.
func assetURI(result *operationResult) string {
	if result == nil {
		return ""
	}
	for _, v := range result.GeneratedVideos {
		if v.Video != nil && v.Video.URI != "" {
			return v.Video.URI
		}
	}
	if result.GenerateVideoResponse != nil {
		for _, v := range result.GenerateVideoResponse.GeneratedSamples {
			if v.Video != nil && v.Video.URI != "" {
				return v.Video.URI
			}
		}
	}
	return ""
}
