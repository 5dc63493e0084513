package generation

import "strings"

// ImageData is a binary image payload with its MIME type.
type ImageData struct {
	Data     []byte
	MIMEType string
}

// VideoRequest is the immutable value submitted to the generation gateway.
// It is created once at submission time and discarded after the gateway
// call returns.
type VideoRequest struct {
	// Prompt is the generation prompt. Required.
	Prompt string
	// Model is the video model to route the request to.
	Model VideoModel
	// Image is an optional reference image for image-to-video.
	Image *ImageData
	// NegativePrompt optionally describes content to avoid.
	NegativePrompt string
	// AspectRatio optionally selects the output aspect ratio.
	AspectRatio string
}

// Validate checks the request preconditions. Violations are
// InvalidRequest errors and must be reported before any upstream call.
func (r VideoRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return NewInvalidRequest("missing prompt")
	}
	model := r.Model
	if model == "" {
		model = DefaultVideoModel
	}
	if _, ok := videoModels[model]; !ok {
		return NewInvalidRequest("unsupported video model " + string(model))
	}
	if r.Image != nil && !model.Spec().AcceptsReferenceImage {
		return NewInvalidRequest("model " + string(model) + " does not accept a reference image")
	}
	return nil
}

// OperationHandle is the opaque identifier of a long-running upstream
// generation job. It is the sole key used to correlate polling and
// retrieval calls, and is never reused across requests.
type OperationHandle string

// OperationState classifies a polled operation.
type OperationState string

// Operation states.
const (
	StatePending   OperationState = "pending"
	StateRunning   OperationState = "running"
	StateCompleted OperationState = "completed"
	StateFailed    OperationState = "failed"
)

// IsTerminal returns true if the state is final.
func (s OperationState) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// OperationStatus is the transient result of a single poll. Each poll
// produces a fresh instance; nothing is persisted.
type OperationStatus struct {
	// Handle is the operation the status belongs to.
	Handle OperationHandle
	// State is the current classification.
	State OperationState
	// Progress is a 0-100 percentage when the upstream reports one.
	Progress int
	// AssetURI locates the produced asset. Set only when completed,
	// and even then the upstream may omit it.
	AssetURI string
	// Message carries the upstream error text when failed.
	Message string
}
