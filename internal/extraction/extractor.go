package extraction

import (
	"context"
	"errors"
	"slices"
)

var (
	// ErrEmptyExtractionInput is returned before any remote call when the OCR text is blank
	ErrEmptyExtractionInput = errors.New("extraction input is empty")

	// ErrMalformedResponse is returned when the model output is not a well-typed draft
	ErrMalformedResponse = errors.New("malformed extraction response")

	// ErrIncompleteDraft is returned when a well-typed draft lacks store, date or items
	ErrIncompleteDraft = errors.New("incomplete receipt draft")

	// ErrUnavailable marks transient model failures (timeouts, throttling, 5xx)
	ErrUnavailable = errors.New("structured extraction unavailable")

	// ErrRejected marks model failures that will not succeed on retry
	ErrRejected = errors.New("structured extraction rejected")
)

// Vocabulary is the closed set of account titles and categories a draft may use
type Vocabulary struct {
	AccountTitles []string
	Categories    []string
}

// AllowsAccountTitle reports whether title is one of the account titles
func (v Vocabulary) AllowsAccountTitle(title string) bool {
	return slices.Contains(v.AccountTitles, title)
}

// AllowsCategory reports whether category is one of the categories
func (v Vocabulary) AllowsCategory(category string) bool {
	return slices.Contains(v.Categories, category)
}

// Extractor defines the interface for structured extraction backends
type Extractor interface {
	// ExtractReceipt turns OCR text into a validated draft whose account titles
	// and categories belong to vocab
	ExtractReceipt(ctx context.Context, text string, vocab Vocabulary) (*Draft, error)
}
