package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/veostudio/studio-api/internal/auth"
	"github.com/veostudio/studio-api/internal/eventlog"
	"github.com/veostudio/studio-api/internal/generation"
)

// mockVideoBackend implements VideoBackend for testing.
type mockVideoBackend struct {
	mock.Mock
}

func (m *mockVideoBackend) Submit(ctx context.Context, req generation.VideoRequest) (generation.OperationHandle, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(generation.OperationHandle), args.Error(1)
}

func (m *mockVideoBackend) Poll(ctx context.Context, handle generation.OperationHandle) (generation.OperationStatus, error) {
	args := m.Called(ctx, handle)
	return args.Get(0).(generation.OperationStatus), args.Error(1)
}

func (m *mockVideoBackend) Download(ctx context.Context, uri string) (io.ReadCloser, string, error) {
	args := m.Called(ctx, uri)
	if args.Get(0) == nil {
		return nil, "", args.Error(2)
	}
	return args.Get(0).(io.ReadCloser), args.String(1), args.Error(2)
}

// mockImageBackend implements ImageBackend for testing.
type mockImageBackend struct {
	mock.Mock
}

func (m *mockImageBackend) GenerateImage(ctx context.Context, prompt string, model generation.ImageModel, aspectRatio string) (generation.ImageData, error) {
	args := m.Called(ctx, prompt, model, aspectRatio)
	return args.Get(0).(generation.ImageData), args.Error(1)
}

func (m *mockImageBackend) EditImage(ctx context.Context, prompt string, model generation.ImageModel, images []generation.ImageData) (generation.ImageData, error) {
	args := m.Called(ctx, prompt, model, images)
	return args.Get(0).(generation.ImageData), args.Error(1)
}

func (m *mockImageBackend) ComposeImages(ctx context.Context, prompt string, model generation.ImageModel, images []generation.ImageData) (generation.ImageData, error) {
	args := m.Called(ctx, prompt, model, images)
	return args.Get(0).(generation.ImageData), args.Error(1)
}

// mockVerifier implements TokenVerifier for testing.
type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) Verify(ctx context.Context, token string) (auth.Principal, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(auth.Principal), args.Error(1)
}

type testEnv struct {
	video    *mockVideoBackend
	image    *mockImageBackend
	verifier *mockVerifier
	events   *eventlog.Log
	server   *httptest.Server
}

func newTestEnv(t *testing.T, environment string) *testEnv {
	t.Helper()

	env := &testEnv{
		video:    &mockVideoBackend{},
		image:    &mockImageBackend{},
		verifier: &mockVerifier{},
		events:   eventlog.New(100),
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handlers := NewHandlers(env.video, env.image, env.events, logger)
	router := NewRouter(handlers, env.verifier, env.events, logger, Config{
		AllowedOrigins: []string{"*"},
		Environment:    environment,
	})

	env.server = httptest.NewServer(router)
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decodeError(t *testing.T, resp *http.Response) ErrorResponse {
	t.Helper()
	defer resp.Body.Close()
	var er ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&er))
	return er
}

func multipartBody(t *testing.T, fields map[string]string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for field, data := range files {
		part, err := mw.CreateFormFile(field, field+".png")
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "production")

	resp, err := http.Get(env.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
}

func TestAuth_ProductionRequiresToken(t *testing.T) {
	env := newTestEnv(t, "production")

	resp := env.postJSON(t, "/api/veo/operation", PollRequest{OperationName: "op"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Unauthenticated", decodeError(t, resp).Code)
}

func TestAuth_InvalidTokenRejected(t *testing.T) {
	env := newTestEnv(t, "production")
	env.verifier.On("Verify", mock.Anything, "bad-token").
		Return(auth.Principal{}, generation.NewUnauthenticated("invalid token signature"))

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/veo/operation",
		strings.NewReader(`{"name":"op"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer bad-token")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
	env.verifier.AssertExpectations(t)
}

func TestAuth_ValidToken(t *testing.T) {
	env := newTestEnv(t, "production")
	env.verifier.On("Verify", mock.Anything, "good-token").
		Return(auth.Principal{UID: "uid-1"}, nil)
	env.video.On("Poll", mock.Anything, generation.OperationHandle("op")).
		Return(generation.OperationStatus{State: generation.StateRunning, Progress: 10}, nil)

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/veo/operation",
		strings.NewReader(`{"name":"op"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer good-token")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth_DevelopmentBypass(t *testing.T) {
	env := newTestEnv(t, "development")
	env.video.On("Poll", mock.Anything, generation.OperationHandle("op")).
		Return(generation.OperationStatus{State: generation.StatePending}, nil)

	// No Authorization header at all.
	resp := env.postJSON(t, "/api/veo/operation", PollRequest{OperationName: "op"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Well-known dev token.
	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/veo/operation",
		strings.NewReader(`{"name":"op"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer dev-token")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	resp2.Body.Close()

	env.verifier.AssertNotCalled(t, "Verify")
}

func TestGenerateVideo(t *testing.T) {
	env := newTestEnv(t, "development")
	env.video.On("Submit", mock.Anything, mock.MatchedBy(func(req generation.VideoRequest) bool {
		return req.Prompt == "a whale breaching" &&
			req.Model == generation.VideoModelVeo3 &&
			req.Image != nil && string(req.Image.Data) == "fake png"
	})).Return(generation.OperationHandle("operations/op-42"), nil)

	body, contentType := multipartBody(t,
		map[string]string{"prompt": "a whale breaching", "model": "veo-3.0-generate-001"},
		map[string][]byte{"imageFile": []byte("fake png")},
	)

	resp, err := http.Post(env.server.URL+"/api/veo/generate", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out GenerateVideoResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "operations/op-42", out.OperationName)
	env.video.AssertExpectations(t)
}

func TestGenerateVideo_Base64Image(t *testing.T) {
	env := newTestEnv(t, "development")
	env.video.On("Submit", mock.Anything, mock.MatchedBy(func(req generation.VideoRequest) bool {
		return req.Image != nil &&
			string(req.Image.Data) == "raw bytes" &&
			req.Image.MIMEType == "image/jpeg"
	})).Return(generation.OperationHandle("operations/op-43"), nil)

	body, contentType := multipartBody(t, map[string]string{
		"prompt":        "animate this",
		"imageBase64":   "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("raw bytes")),
		"imageMimeType": "image/jpeg",
	}, nil)

	resp, err := http.Post(env.server.URL+"/api/veo/generate", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	env.video.AssertExpectations(t)
}

func TestGenerateVideo_UnknownModel(t *testing.T) {
	env := newTestEnv(t, "development")

	body, contentType := multipartBody(t,
		map[string]string{"prompt": "whatever", "model": "sora-1.0"}, nil)

	resp, err := http.Post(env.server.URL+"/api/veo/generate", contentType, body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "InvalidRequest", decodeError(t, resp).Code)
	env.video.AssertNotCalled(t, "Submit")
}

func TestGenerateVideo_QuotaExceeded(t *testing.T) {
	env := newTestEnv(t, "development")
	env.video.On("Submit", mock.Anything, mock.Anything).
		Return(generation.OperationHandle(""), generation.NewQuotaExceeded("quota exhausted", 30*time.Second))

	body, contentType := multipartBody(t, map[string]string{"prompt": "busy"}, nil)
	resp, err := http.Post(env.server.URL+"/api/veo/generate", contentType, body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	er := decodeError(t, resp)
	assert.Equal(t, "QuotaExceeded", er.Code)
	assert.Equal(t, 30, er.RetryAfterSeconds)
	require.NotEmpty(t, er.Solutions)
	assert.Contains(t, er.Solutions[0], "30s")
}

func TestPollOperation(t *testing.T) {
	env := newTestEnv(t, "development")
	env.video.On("Poll", mock.Anything, generation.OperationHandle("operations/op-1")).
		Return(generation.OperationStatus{
			State:    generation.StateCompleted,
			Progress: 100,
			AssetURI: "https://files.example/v1/abc",
		}, nil)

	resp := env.postJSON(t, "/api/veo/operation", PollRequest{OperationName: "operations/op-1"})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out PollResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "completed", out.State)
	assert.True(t, out.Done)
	assert.Equal(t, "https://files.example/v1/abc", out.VideoURI)
}

func TestPollOperation_MissingName(t *testing.T) {
	env := newTestEnv(t, "development")

	resp := env.postJSON(t, "/api/veo/operation", PollRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestDownloadAsset(t *testing.T) {
	env := newTestEnv(t, "development")
	env.video.On("Download", mock.Anything, "https://files.example/v1/abc").
		Return(io.NopCloser(strings.NewReader("mp4 stream")), "video/mp4", nil)

	resp := env.postJSON(t, "/api/veo/download", DownloadRequest{URI: "https://files.example/v1/abc"})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
	assert.Equal(t, `inline; filename="veo3_video.mp4"`, resp.Header.Get("Content-Disposition"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "mp4 stream", string(data))
}

func TestDownloadAsset_NestedFileURI(t *testing.T) {
	env := newTestEnv(t, "development")
	env.video.On("Download", mock.Anything, "https://files.example/v1/nested").
		Return(io.NopCloser(strings.NewReader("x")), "video/mp4", nil)

	resp, err := http.Post(env.server.URL+"/api/veo/download", "application/json",
		strings.NewReader(`{"file":{"uri":"https://files.example/v1/nested"}}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	env.video.AssertExpectations(t)
}

func TestDownloadAsset_UpstreamFailure(t *testing.T) {
	env := newTestEnv(t, "development")
	env.video.On("Download", mock.Anything, mock.Anything).
		Return(nil, "", generation.NewDownloadFailed(403, "permission denied"))

	resp := env.postJSON(t, "/api/veo/download", DownloadRequest{URI: "https://files.example/v1/abc"})

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "UpstreamDownloadFailed", decodeError(t, resp).Code)
}

func TestDownloadAsset_MissingURI(t *testing.T) {
	env := newTestEnv(t, "development")

	resp := env.postJSON(t, "/api/veo/download", DownloadRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestGenerateImage(t *testing.T) {
	env := newTestEnv(t, "development")
	env.image.On("GenerateImage", mock.Anything, "a garden", generation.ImageModelGeminiFlash, "").
		Return(generation.ImageData{Data: []byte("png data"), MIMEType: "image/png"}, nil)

	resp := env.postJSON(t, "/api/gemini/generate", GenerateImageRequest{Prompt: "a garden"})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out ImageResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("png data")), out.Image.ImageBytes)
	assert.Equal(t, "image/png", out.Image.MimeType)
}

func TestGenerateImagenImage_DefaultModel(t *testing.T) {
	env := newTestEnv(t, "development")
	env.image.On("GenerateImage", mock.Anything, "a poster", generation.ImageModelImagenFast, "").
		Return(generation.ImageData{Data: []byte("img"), MIMEType: "image/png"}, nil)

	resp := env.postJSON(t, "/api/imagen/generate", GenerateImageRequest{Prompt: "a poster"})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	env.image.AssertExpectations(t)
}

func TestGenerateImage_NoAsset(t *testing.T) {
	env := newTestEnv(t, "development")
	env.image.On("GenerateImage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(generation.ImageData{}, generation.NewNoAsset("no image produced"))

	resp := env.postJSON(t, "/api/gemini/generate", GenerateImageRequest{Prompt: "nothing"})

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "NoAssetProduced", decodeError(t, resp).Code)
}

func TestEditImage(t *testing.T) {
	env := newTestEnv(t, "development")
	env.image.On("EditImage", mock.Anything, "make it snow", generation.ImageModelGeminiFlash,
		mock.MatchedBy(func(images []generation.ImageData) bool {
			return len(images) == 1 && string(images[0].Data) == "source img"
		})).Return(generation.ImageData{Data: []byte("edited"), MIMEType: "image/png"}, nil)

	body, contentType := multipartBody(t,
		map[string]string{"prompt": "make it snow"},
		map[string][]byte{"images": []byte("source img")},
	)

	resp, err := http.Post(env.server.URL+"/api/gemini/edit", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	env.image.AssertExpectations(t)
}

func TestComposeImages_TooFew(t *testing.T) {
	env := newTestEnv(t, "development")
	env.image.On("ComposeImages", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(generation.ImageData{}, generation.NewInvalidRequest("composition requires at least two images"))

	body, contentType := multipartBody(t,
		map[string]string{"prompt": "blend"},
		map[string][]byte{"images": []byte("only one")},
	)

	resp, err := http.Post(env.server.URL+"/api/gemini/compose", contentType, body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestLogs(t *testing.T) {
	env := newTestEnv(t, "development")
	env.events.Record(eventlog.LevelInfo, "workflow", "generation started", nil)
	env.events.Record(eventlog.LevelError, "gateway", "submit failed", nil)

	t.Run("list with filter", func(t *testing.T) {
		resp, err := http.Get(env.server.URL + "/api/logs?level=error")
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out LogsResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		require.Equal(t, 1, out.Total)
		assert.Equal(t, "submit failed", out.Entries[0].Message)
	})

	t.Run("csv export", func(t *testing.T) {
		resp, err := http.Get(env.server.URL + "/api/logs?format=csv")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(data), "generation started")
	})

	t.Run("stats", func(t *testing.T) {
		resp, err := http.Get(env.server.URL + "/api/logs/stats")
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		var stats eventlog.Stats
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
		assert.GreaterOrEqual(t, stats.Total, 2)
	})

	t.Run("clear", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodDelete, env.server.URL+"/api/logs", nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.Equal(t, 0, env.events.Stats().Total)
	})
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, "development")

	req, err := http.NewRequest(http.MethodOptions, env.server.URL+"/api/veo/generate", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://studio.example")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://studio.example", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, "development")

	resp, err := http.Get(env.server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "client-id-1")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, "client-id-1", resp2.Header.Get("X-Request-ID"))
}
