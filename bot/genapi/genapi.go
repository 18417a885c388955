package genapi

import (
	"context"
	"errors"
	"fmt"
)

// Kind selects which generation capability a request exercises.
type Kind int

const (
	KindASCII Kind = iota
	KindImageEnhance
	KindTextToImage
)

func (k Kind) String() string {
	switch k {
	case KindASCII:
		return "ascii"
	case KindImageEnhance:
		return "image_enhance"
	case KindTextToImage:
		return "text_to_image"
	default:
		return "unknown"
	}
}

// AspectRatio names the requested output proportions.
type AspectRatio string

const (
	RatioBanner3x1 AspectRatio = "3:1"
	RatioSquare1x1 AspectRatio = "1:1"
)

// Dimensions maps the ratio to concrete pixel sizes.
func (r AspectRatio) Dimensions() (width, height int) {
	switch r {
	case RatioBanner3x1:
		return 1500, 500
	default:
		return 1000, 1000
	}
}

// Request describes one generation call.
type Request struct {
	Kind        Kind
	AspectRatio AspectRatio
	// Prompt carries the text to render (ascii/t2i) or the custom
	// enhancement instruction; empty for automatic enhancement.
	Prompt string
	// SourceImage holds the uploaded image bytes for image enhancement.
	SourceImage []byte
}

// Backend produces image bytes from a structured request.
// Failures carry a structured *Error so callers never parse message text.
type Backend interface {
	Generate(ctx context.Context, req Request) ([]byte, error)
}

// Reason classifies a generation failure into user-facing categories.
type Reason int

const (
	ReasonUnknown Reason = iota
	ReasonInsufficientCredits
	ReasonRateLimited
	ReasonTimeout
	ReasonNetwork
	ReasonUnavailable
)

func (r Reason) String() string {
	switch r {
	case ReasonInsufficientCredits:
		return "insufficient_credits"
	case ReasonRateLimited:
		return "rate_limited"
	case ReasonTimeout:
		return "timeout"
	case ReasonNetwork:
		return "network"
	case ReasonUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Error is the structured failure type returned by backends.
type Error struct {
	Reason   Reason
	HTTPCode int
	Detail   string
}

func (e *Error) Error() string {
	if e.HTTPCode != 0 {
		return fmt.Sprintf("generation failed: %s (http %d): %s", e.Reason, e.HTTPCode, e.Detail)
	}
	return fmt.Sprintf("generation failed: %s: %s", e.Reason, e.Detail)
}

// Code implements the error-code contract used by handler summary logs.
func (e *Error) Code() string {
	return "GEN_" + e.Reason.String()
}

// ReasonOf extracts the failure reason from an error, defaulting to unknown.
func ReasonOf(err error) Reason {
	if err == nil {
		return ReasonUnknown
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Reason
	}
	return ReasonUnknown
}
