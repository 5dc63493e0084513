package veo

// Wire types for the generative video API. Request shapes follow the
// predictLongRunning surface; operation shapes tolerate both the
// generatedVideos and generateVideoResponse response variants that
// different API versions return.

type generateRequest struct {
	Instances  []videoInstance  `json:"instances"`
	Parameters *videoParameters `json:"parameters,omitempty"`
}

type videoInstance struct {
	Prompt string       `json:"prompt"`
	Image  *inlineImage `json:"image,omitempty"`
}

type inlineImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType,omitempty"`
}

type videoParameters struct {
	AspectRatio    string `json:"aspectRatio,omitempty"`
	NegativePrompt string `json:"negativePrompt,omitempty"`
}

type operationResponse struct {
	Name     string             `json:"name"`
	Done     bool               `json:"done"`
	Metadata *operationMetadata `json:"metadata,omitempty"`
	Error    *operationError    `json:"error,omitempty"`
	Response *operationResult   `json:"response,omitempty"`
}

type operationMetadata struct {
	ProgressPercent int `json:"progressPercent,omitempty"`
}

type operationError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type operationResult struct {
	GeneratedVideos       []generatedVideo `json:"generatedVideos,omitempty"`
	GenerateVideoResponse *videoSamples    `json:"generateVideoResponse,omitempty"`
}

type videoSamples struct {
	GeneratedSamples []generatedVideo `json:"generatedSamples,omitempty"`
}

type generatedVideo struct {
	Video *videoFile `json:"video,omitempty"`
}

type videoFile struct {
	URI string `json:"uri,omitempty"`
}

type apiErrorEnvelope struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Status  string `json:"status,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}
