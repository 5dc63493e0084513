package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veostudio/studio-api/internal/generation"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(WithAPIKey("test-key"), WithBaseURL(srv.URL))
	require.NoError(t, err)
	return client
}

func imageResponse(t *testing.T, data []byte, mimeType string) []byte {
	t.Helper()
	resp := generateContentResponse{
		Candidates: []candidate{{
			Content: &content{Parts: []part{
				{Text: "here is your image"},
				{InlineData: &inlineData{
					MimeType: mimeType,
					Data:     base64.StdEncoding.EncodeToString(data),
				}},
			}},
		}},
	}
	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	return raw
}

func TestGenerateImage_Gemini(t *testing.T) {
	var gotPath string
	var gotBody generateContentRequest

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write(imageResponse(t, []byte("png-bytes"), "image/png"))
	}))

	img, err := client.GenerateImage(context.Background(), "a red bicycle", generation.ImageModelGeminiFlash, "")
	require.NoError(t, err)

	assert.Equal(t, "/models/gemini-2.5-flash-image-preview:generateContent", gotPath)
	assert.Equal(t, []byte("png-bytes"), img.Data)
	assert.Equal(t, "image/png", img.MIMEType)
	require.Len(t, gotBody.Contents, 1)
	assert.Equal(t, "a red bicycle", gotBody.Contents[0].Parts[0].Text)
}

func TestGenerateImage_Imagen(t *testing.T) {
	var gotPath string
	var gotBody predictRequest

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(predictResponse{
			Predictions: []prediction{{
				BytesBase64Encoded: base64.StdEncoding.EncodeToString([]byte("jpeg-bytes")),
				MimeType:           "image/jpeg",
			}},
		})
	}))

	img, err := client.GenerateImage(context.Background(), "a red bicycle", generation.ImageModelImagenFast, "")
	require.NoError(t, err)

	assert.Equal(t, "/models/imagen-4.0-fast-generate-001:predict", gotPath)
	assert.Equal(t, []byte("jpeg-bytes"), img.Data)
	assert.Equal(t, "image/jpeg", img.MIMEType)
	require.NotNil(t, gotBody.Parameters)
	// Imagen gets the model's default aspect ratio when none is chosen.
	assert.Equal(t, "16:9", gotBody.Parameters.AspectRatio)
}

func TestGenerateImage_NoImageProduced(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(generateContentResponse{
			Candidates: []candidate{{
				Content: &content{Parts: []part{{Text: "I cannot draw that."}}},
			}},
		})
	}))

	_, err := client.GenerateImage(context.Background(), "something", generation.ImageModelGeminiFlash, "")
	assert.True(t, generation.IsKind(err, generation.KindNoAsset))
}

func TestGenerateImage_EmptyPrompt(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called")
	}))

	_, err := client.GenerateImage(context.Background(), "  ", generation.ImageModelGeminiFlash, "")
	assert.True(t, generation.IsKind(err, generation.KindInvalidRequest))
}

func TestEditImage(t *testing.T) {
	var gotBody generateContentRequest

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write(imageResponse(t, []byte("edited"), "image/png"))
	}))

	source := generation.ImageData{Data: []byte{0x89, 0x50}, MIMEType: "image/png"}
	img, err := client.EditImage(context.Background(), "make it night time", generation.ImageModelGeminiFlash,
		[]generation.ImageData{source})
	require.NoError(t, err)
	assert.Equal(t, []byte("edited"), img.Data)

	// Prompt first, then the source image as an inline part.
	require.Len(t, gotBody.Contents[0].Parts, 2)
	assert.Equal(t, "make it night time", gotBody.Contents[0].Parts[0].Text)
	require.NotNil(t, gotBody.Contents[0].Parts[1].InlineData)
	assert.Equal(t, "image/png", gotBody.Contents[0].Parts[1].InlineData.MimeType)
}

func TestEditImage_RequiresImage(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called")
	}))

	_, err := client.EditImage(context.Background(), "brighten", generation.ImageModelGeminiFlash, nil)
	assert.True(t, generation.IsKind(err, generation.KindInvalidRequest))
}

func TestComposeImages(t *testing.T) {
	var gotBody generateContentRequest

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write(imageResponse(t, []byte("composed"), "image/png"))
	}))

	images := []generation.ImageData{
		{Data: []byte("a"), MIMEType: "image/png"},
		{Data: []byte("b"), MIMEType: "image/jpeg"},
	}
	img, err := client.ComposeImages(context.Background(), "blend these", generation.ImageModelGeminiFlash, images)
	require.NoError(t, err)
	assert.Equal(t, []byte("composed"), img.Data)
	assert.Len(t, gotBody.Contents[0].Parts, 3)
}

func TestComposeImages_RequiresTwo(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called")
	}))

	one := []generation.ImageData{{Data: []byte("a"), MIMEType: "image/png"}}
	_, err := client.ComposeImages(context.Background(), "blend", generation.ImageModelGeminiFlash, one)
	assert.True(t, generation.IsKind(err, generation.KindInvalidRequest))
}

func TestImagenDoesNotEdit(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream must not be called")
	}))

	src := []generation.ImageData{{Data: []byte("a"), MIMEType: "image/png"}}
	_, err := client.EditImage(context.Background(), "edit", generation.ImageModelImagenFast, src)
	assert.True(t, generation.IsKind(err, generation.KindInvalidRequest))
}

func TestGenerateImage_UpstreamError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"status":"RESOURCE_EXHAUSTED","message":"out of quota"}}`))
	}))

	_, err := client.GenerateImage(context.Background(), "anything", generation.ImageModelGeminiFlash, "")
	require.Error(t, err)

	ge := generation.AsError(err)
	require.NotNil(t, ge)
	assert.Equal(t, generation.KindQuotaExceeded, ge.Kind)
	assert.Equal(t, "out of quota", ge.Message)
}
