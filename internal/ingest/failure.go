package ingest

import (
	"errors"
	"fmt"
)

// State is a step of the ingestion state machine
type State string

const (
	StateReceived    State = "received"
	StateNormalizing State = "normalizing"
	StateExtracting  State = "extracting"
	StateGenerating  State = "generating"
	StatePersisting  State = "persisting"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// Kind classifies why a job failed
type Kind string

const (
	KindInvalidJob            Kind = "InvalidJob"
	KindJobLocked             Kind = "JobLocked"
	KindDocumentNotFound      Kind = "DocumentNotFound"
	KindBlobUnavailable       Kind = "BlobUnavailable"
	KindUnsupportedFormat     Kind = "UnsupportedFormat"
	KindConversionFailed      Kind = "ConversionFailed"
	KindExtractionUnavailable Kind = "ExtractionUnavailable"
	KindExtractionRejected    Kind = "ExtractionRejected"
	KindEmptyText             Kind = "EmptyText"
	KindEmptyExtractionInput  Kind = "EmptyExtractionInput"
	KindMalformedResponse     Kind = "MalformedResponse"
	KindIncompleteDraft       Kind = "IncompleteDraft"
	KindGenerationUnavailable Kind = "GenerationUnavailable"
	KindGenerationRejected    Kind = "GenerationRejected"
	KindPersistenceError      Kind = "PersistenceError"
)

// Retryable reports whether a redelivery of the job can succeed
func (k Kind) Retryable() bool {
	switch k {
	case KindJobLocked, KindBlobUnavailable, KindExtractionUnavailable,
		KindGenerationUnavailable, KindPersistenceError:
		return true
	default:
		return false
	}
}

// ErrJobLocked is returned when another worker holds the job
var ErrJobLocked = errors.New("job is being processed by another worker")

// Failure is a tagged pipeline failure
type Failure struct {
	JobID     string
	State     State
	Kind      Kind
	Retryable bool
	Err       error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("job %s failed while %s (%s): %v", f.JobID, f.State, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

func newFailure(jobID string, state State, kind Kind, err error) *Failure {
	return &Failure{
		JobID:     jobID,
		State:     state,
		Kind:      kind,
		Retryable: kind.Retryable(),
		Err:       err,
	}
}

// AsFailure extracts a *Failure from err
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	ok := errors.As(err, &f)
	return f, ok
}
