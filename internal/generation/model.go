// Package generation defines the domain types shared by the studio's
// generation boundary clients and the workflow orchestrator: requests,
// model identifiers, operation handles and statuses, and the classified
// error taxonomy.
package generation

import "fmt"

// VideoModel identifies a supported video generation model.
type VideoModel string

// Supported video models.
const (
	VideoModelVeo3     VideoModel = "veo-3.0-generate-001"
	VideoModelVeo3Fast VideoModel = "veo-3.0-fast-generate-001"
	VideoModelVeo2     VideoModel = "veo-2.0-generate-001"
)

// DefaultVideoModel is used when a request does not name a model.
const DefaultVideoModel = VideoModelVeo3

// VideoModelSpec carries the routing and parameter metadata for a video
// model. It is resolved once when the request is constructed; call sites
// never re-derive behavior from the model name.
type VideoModelSpec struct {
	// AcceptsReferenceImage is true for models that support image-to-video.
	AcceptsReferenceImage bool
	// AcceptsNegativePrompt is true for models that honor a negative prompt.
	AcceptsNegativePrompt bool
	// AspectRatios lists the aspect ratios the model accepts.
	AspectRatios []string
}

var videoModels = map[VideoModel]VideoModelSpec{
	VideoModelVeo3: {
		AcceptsReferenceImage: true,
		AcceptsNegativePrompt: true,
		AspectRatios:          []string{"16:9"},
	},
	VideoModelVeo3Fast: {
		AcceptsReferenceImage: true,
		AcceptsNegativePrompt: true,
		AspectRatios:          []string{"16:9"},
	},
	VideoModelVeo2: {
		AcceptsReferenceImage: true,
		AcceptsNegativePrompt: true,
		AspectRatios:          []string{"16:9", "9:16"},
	},
}

// ParseVideoModel resolves a model name to a VideoModel. An empty name
// resolves to DefaultVideoModel; an unknown name is an InvalidRequest error.
func ParseVideoModel(name string) (VideoModel, error) {
	if name == "" {
		return DefaultVideoModel, nil
	}
	m := VideoModel(name)
	if _, ok := videoModels[m]; !ok {
		return "", NewInvalidRequest(fmt.Sprintf("unsupported video model %q", name))
	}
	return m, nil
}

// Spec returns the metadata for the model. Unknown models return the
// zero spec.
func (m VideoModel) Spec() VideoModelSpec {
	return videoModels[m]
}

func (m VideoModel) String() string {
	return string(m)
}

// ImageEndpoint selects which upstream API surface an image model is
// routed to.
type ImageEndpoint int

const (
	// EndpointGenerateContent routes through the multimodal
	// generateContent API (Gemini image models).
	EndpointGenerateContent ImageEndpoint = iota
	// EndpointPredict routes through the predict API (Imagen models).
	EndpointPredict
)

// ImageModel identifies a supported image generation model.
type ImageModel string

// Supported image models.
const (
	ImageModelGeminiFlash ImageModel = "gemini-2.5-flash-image-preview"
	ImageModelImagenFast  ImageModel = "imagen-4.0-fast-generate-001"
)

// DefaultImageModel is used when a request does not name a model.
const DefaultImageModel = ImageModelGeminiFlash

// ImageModelSpec carries the routing metadata for an image model.
type ImageModelSpec struct {
	// Endpoint is the upstream API surface the model is served from.
	Endpoint ImageEndpoint
	// DefaultAspectRatio is applied when the caller does not pick one.
	DefaultAspectRatio string
}

var imageModels = map[ImageModel]ImageModelSpec{
	ImageModelGeminiFlash: {
		Endpoint: EndpointGenerateContent,
	},
	ImageModelImagenFast: {
		Endpoint:           EndpointPredict,
		DefaultAspectRatio: "16:9",
	},
}

// ParseImageModel resolves a model name to an ImageModel. An empty name
// resolves to DefaultImageModel; an unknown name is an InvalidRequest error.
func ParseImageModel(name string) (ImageModel, error) {
	if name == "" {
		return DefaultImageModel, nil
	}
	m := ImageModel(name)
	if _, ok := imageModels[m]; !ok {
		return "", NewInvalidRequest(fmt.Sprintf("unsupported image model %q", name))
	}
	return m, nil
}

// Spec returns the metadata for the model.
func (m ImageModel) Spec() ImageModelSpec {
	return imageModels[m]
}

func (m ImageModel) String() string {
	return string(m)
}
