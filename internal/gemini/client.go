// Package gemini implements the image generation boundary: text-to-image,
// single-image editing, and multi-image composition. Gemini image models
// route through generateContent; Imagen models route through predict.
package gemini

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

// ErrAPIKeyNotSet is returned when no API key is provided and
// GEMINI_API_KEY is unset.
var ErrAPIKeyNotSet = errors.New("gemini: GEMINI_API_KEY environment variable is not set")

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

const maxErrorBody = 8 << 10

// Client is the HTTP client for the image generation API.
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

// NewClient creates a new image generation client. The API key can be
// set via WithAPIKey; if not provided it is read from GEMINI_API_KEY.
func NewClient(opts ...ClientOption) (*Client, error) {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
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

// GenerateImage produces an image from a text prompt. The model's spec
// decides which upstream surface serves the request.
func (c *Client) GenerateImage(ctx context.Context, prompt string, model generation.ImageModel, aspectRatio string) (generation.ImageData, error) {
	if strings.TrimSpace(prompt) == "" {
		return generation.ImageData{}, generation.NewInvalidRequest("missing prompt")
	}
	if model == "" {
		model = generation.DefaultImageModel
	}

	spec := model.Spec()
	if aspectRatio == "" {
		aspectRatio = spec.DefaultAspectRatio
	}

	if spec.Endpoint == generation.EndpointPredict {
		return c.predict(ctx, model, prompt, aspectRatio)
	}
	return c.generateContent(ctx, model, prompt, nil, aspectRatio)
}

// EditImage applies a prompt to one or more source images and returns
// the edited result. At least one image is required.
func (c *Client) EditImage(ctx context.Context, prompt string, model generation.ImageModel, images []generation.ImageData) (generation.ImageData, error) {
	if strings.TrimSpace(prompt) == "" {
		return generation.ImageData{}, generation.NewInvalidRequest("missing prompt")
	}
	if len(images) == 0 {
		return generation.ImageData{}, generation.NewInvalidRequest("editing requires at least one image")
	}
	if model == "" {
		model = generation.DefaultImageModel
	}
	if model.Spec().Endpoint != generation.EndpointGenerateContent {
		return generation.ImageData{}, generation.NewInvalidRequest("model " + model.String() + " does not support image editing")
	}
	return c.generateContent(ctx, model, prompt, images, "")
}

// ComposeImages combines two or more source images under a prompt into a
// single new image.
func (c *Client) ComposeImages(ctx context.Context, prompt string, model generation.ImageModel, images []generation.ImageData) (generation.ImageData, error) {
	if strings.TrimSpace(prompt) == "" {
		return generation.ImageData{}, generation.NewInvalidRequest("missing prompt")
	}
	if len(images) < 2 {
		return generation.ImageData{}, generation.NewInvalidRequest("composition requires at least two images")
	}
	if model == "" {
		model = generation.DefaultImageModel
	}
	if model.Spec().Endpoint != generation.EndpointGenerateContent {
		return generation.ImageData{}, generation.NewInvalidRequest("model " + model.String() + " does not support composition")
	}
	return c.generateContent(ctx, model, prompt, images, "")
}

// generateContent issues a multimodal request with the prompt text and
// any source images as inline parts, then extracts the first image part
// of the answer.
func (c *Client) generateContent(ctx context.Context, model generation.ImageModel, prompt string, images []generation.ImageData, aspectRatio string) (generation.ImageData, error) {
	parts := make([]part, 0, len(images)+1)
	parts = append(parts, part{Text: prompt})
	for _, img := range images {
		parts = append(parts, part{InlineData: &inlineData{
			MimeType: img.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(img.Data),
		}})
	}

	payload := generateContentRequest{
		Contents: []content{{Role: "user", Parts: parts}},
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"IMAGE"},
		},
	}
	if aspectRatio != "" {
		payload.GenerationConfig.ImageConfig = &imageConfig{AspectRatio: aspectRatio}
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(model.String()))

	var resp generateContentResponse
	if err := c.doJSON(ctx, endpoint, payload, &resp); err != nil {
		return generation.ImageData{}, fmt.Errorf("generate image: %w", err)
	}

	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return generation.ImageData{}, fmt.Errorf("generate image: %w",
					generation.NewTransport("decode image data", err))
			}
			mimeType := p.InlineData.MimeType
			if mimeType == "" {
				mimeType = "image/png"
			}
			return generation.ImageData{Data: raw, MIMEType: mimeType}, nil
		}
	}

	return generation.ImageData{}, generation.NewNoAsset("no image produced")
}

// predict issues an Imagen prediction and extracts the first sample.
func (c *Client) predict(ctx context.Context, model generation.ImageModel, prompt, aspectRatio string) (generation.ImageData, error) {
	payload := predictRequest{
		Instances: []predictInstance{{Prompt: prompt}},
		Parameters: &predictParameters{
			SampleCount: 1,
			AspectRatio: aspectRatio,
		},
	}

	endpoint := fmt.Sprintf("%s/models/%s:predict", c.baseURL, url.PathEscape(model.String()))

	var resp predictResponse
	if err := c.doJSON(ctx, endpoint, payload, &resp); err != nil {
		return generation.ImageData{}, fmt.Errorf("generate image: %w", err)
	}

	for _, p := range resp.Predictions {
		if p.BytesBase64Encoded == "" {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(p.BytesBase64Encoded)
		if err != nil {
			return generation.ImageData{}, fmt.Errorf("generate image: %w",
				generation.NewTransport("decode image data", err))
		}
		mimeType := p.MimeType
		if mimeType == "" {
			mimeType = "image/png"
		}
		return generation.ImageData{Data: raw, MIMEType: mimeType}, nil
	}

	return generation.ImageData{}, generation.NewNoAsset("no image produced")
}

// doJSON performs a single POST request/response cycle and classifies
// failures into the generation error taxonomy.
func (c *Client) doJSON(ctx context.Context, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return generation.NewTransport("create request", err)
	}
	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return generation.NewTransport("request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyStatus(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return generation.NewTransport("decode response", err)
	}
	return nil
}

func classifyStatus(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	detail := strings.TrimSpace(string(raw))
	var envelope apiErrorEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		detail = envelope.Error.Message
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		var retryAfter time.Duration
		if secs, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); err == nil && secs > 0 {
			retryAfter = time.Duration(secs) * time.Second
		}
		return generation.NewQuotaExceeded(detail, retryAfter)
	}

	return generation.NewUpstreamRejected(resp.StatusCode, detail)
}
