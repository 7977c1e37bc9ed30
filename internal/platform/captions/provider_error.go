package captions

import (
	"errors"
	"fmt"
)

// ProviderErrorKind is the closed set of caption-provider failures. Every
// fetch failure that is not a transient transport fault maps to exactly one
// kind, and each kind carries one fixed user-legible message.
type ProviderErrorKind string

const (
	ProviderErrorDisabled               ProviderErrorKind = "disabled"
	ProviderErrorNotAvailable           ProviderErrorKind = "not_available"
	ProviderErrorNotAvailableInLanguage ProviderErrorKind = "not_available_in_language"
	ProviderErrorVideoUnavailable       ProviderErrorKind = "video_unavailable"
	ProviderErrorRateLimited            ProviderErrorKind = "rate_limited"
	ProviderErrorInvalidID              ProviderErrorKind = "invalid_id"
)

type ProviderError struct {
	Kind    ProviderErrorKind
	VideoID string
	Cause   error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "caption provider error"
	}
	if e.Cause != nil {
		return fmt.Sprintf("caption provider error (kind=%s videoId=%s): %v", e.Kind, e.VideoID, e.Cause)
	}
	return fmt.Sprintf("caption provider error (kind=%s videoId=%s)", e.Kind, e.VideoID)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Message returns the fixed user-facing text for this failure kind. It is
// what ends up in a video's error column, so it names the problem without
// leaking transport detail.
func (e *ProviderError) Message() string {
	if e == nil {
		return "Failed to fetch captions"
	}
	switch e.Kind {
	case ProviderErrorDisabled:
		return "Captions are disabled for this video"
	case ProviderErrorNotAvailable:
		return "No transcript is available for this video"
	case ProviderErrorNotAvailableInLanguage:
		return "No transcript is available in the requested language for this video"
	case ProviderErrorVideoUnavailable:
		return "This video is unavailable"
	case ProviderErrorRateLimited:
		return "The caption provider is rate limiting requests, try again later"
	case ProviderErrorInvalidID:
		return "Invalid YouTube video id"
	default:
		return "Failed to fetch captions"
	}
}

// KindOf extracts the provider failure kind from err. The second return is
// false for transient transport errors, which are not classified and stay
// retryable upstream.
func KindOf(err error) (ProviderErrorKind, bool) {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Kind, true
	}
	return "", false
}

func provErr(kind ProviderErrorKind, videoID string, cause error) error {
	return &ProviderError{Kind: kind, VideoID: videoID, Cause: cause}
}
