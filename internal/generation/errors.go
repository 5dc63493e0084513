package generation

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a generation boundary failure.
type Kind int

// Failure kinds.
const (
	// KindUnknown is the zero value for errors that are not ours.
	KindUnknown Kind = iota
	// KindInvalidRequest is a caller-side precondition violation. Never
	// retried; no upstream call is made.
	KindInvalidRequest
	// KindUnauthenticated is a missing or invalid caller credential.
	KindUnauthenticated
	// KindUpstreamRejected means the provider declined the request.
	KindUpstreamRejected
	// KindQuotaExceeded is the distinguished rate-limit variant of an
	// upstream rejection. Carries an optional retry-after hint.
	KindQuotaExceeded
	// KindTransport is a network-level failure before a usable upstream
	// response was obtained.
	KindTransport
	// KindDownloadFailed means the asset fetch returned a non-success
	// upstream status.
	KindDownloadFailed
	// KindNoAsset means the upstream reported success but produced no
	// usable payload.
	KindNoAsset
)

func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "InvalidRequest"
	case KindUnauthenticated:
		return "Unauthenticated"
	case KindUpstreamRejected:
		return "UpstreamRejected"
	case KindQuotaExceeded:
		return "QuotaExceeded"
	case KindTransport:
		return "TransportError"
	case KindDownloadFailed:
		return "UpstreamDownloadFailed"
	case KindNoAsset:
		return "NoAssetProduced"
	default:
		return "Unknown"
	}
}

// Error is a classified generation failure. Boundary clients return it for
// every failure mode so that callers can branch on Kind rather than on
// provider-specific strings.
type Error struct {
	// Kind is the failure classification.
	Kind Kind
	// Message is the human-readable detail, upstream-supplied when
	// available.
	Message string
	// UpstreamStatus is the HTTP status the provider answered with, when
	// a response was received.
	UpstreamStatus int
	// RetryAfter is the provider's retry hint for quota failures. Zero
	// when the provider gave none.
	RetryAfter time.Duration
	// Err is the wrapped cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	if e.UpstreamStatus != 0 {
		return fmt.Sprintf("%s: upstream status %d: %s", e.Kind, e.UpstreamStatus, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Remediation returns user-facing guidance for the failure. Quota
// failures get actionable steps instead of a bare error code.
func (e *Error) Remediation() []string {
	if e.Kind != KindQuotaExceeded {
		return nil
	}
	steps := []string{
		"Wait a few minutes and try again",
		"Check your plan and billing details",
		"Switch to a model with remaining quota",
	}
	if e.RetryAfter > 0 {
		steps[0] = fmt.Sprintf("Wait %s and try again", e.RetryAfter)
	}
	return steps
}

// NewInvalidRequest reports a caller-side precondition violation.
func NewInvalidRequest(msg string) *Error {
	return &Error{Kind: KindInvalidRequest, Message: msg}
}

// NewUnauthenticated reports a missing or invalid credential.
func NewUnauthenticated(msg string) *Error {
	return &Error{Kind: KindUnauthenticated, Message: msg}
}

// NewUpstreamRejected reports a provider rejection with its status and
// detail text.
func NewUpstreamRejected(status int, detail string) *Error {
	return &Error{Kind: KindUpstreamRejected, UpstreamStatus: status, Message: detail}
}

// NewQuotaExceeded reports a rate-limit rejection. retryAfter may be zero.
func NewQuotaExceeded(detail string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindQuotaExceeded, UpstreamStatus: 429, Message: detail, RetryAfter: retryAfter}
}

// NewTransport reports a network-level failure for the named operation.
func NewTransport(op string, err error) *Error {
	return &Error{Kind: KindTransport, Message: op, Err: err}
}

// NewDownloadFailed reports an asset fetch that returned a non-success
// upstream status.
func NewDownloadFailed(status int, detail string) *Error {
	return &Error{Kind: KindDownloadFailed, UpstreamStatus: status, Message: detail}
}

// NewNoAsset reports a success response that carried no usable payload.
func NewNoAsset(msg string) *Error {
	return &Error{Kind: KindNoAsset, Message: msg}
}

// KindOf extracts the classification from err, or KindUnknown.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

// AsError extracts the classified error from err, or nil.
func AsError(err error) *Error {
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	return nil
}
