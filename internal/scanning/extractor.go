package scanning

import (
	"context"
	"errors"
)

var (
	// ErrExtractionUnavailable marks transient OCR failures (timeouts, throttling, 5xx)
	ErrExtractionUnavailable = errors.New("text extraction unavailable")

	// ErrExtractionRejected marks OCR failures that will not succeed on retry
	ErrExtractionRejected = errors.New("text extraction rejected")
)

// TextExtractor defines the interface for OCR backends
type TextExtractor interface {
	// ExtractText returns the text found in the image at imagePath.
	// An image with no text yields an empty string and no error.
	ExtractText(ctx context.Context, imagePath string) (string, error)
}
