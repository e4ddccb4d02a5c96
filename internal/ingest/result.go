package ingest

import (
	"context"
	"time"
)

// Result is the outcome of processing one job
type Result struct {
	JobID     string
	ReceiptID string
	Failure   *Failure
	Duration  time.Duration
}

// Succeeded reports whether a receipt was persisted
func (r Result) Succeeded() bool { return r.Failure == nil }

// Final reports whether the job will not be attempted again
func (r Result) Final() bool { return r.Failure == nil || !r.Failure.Retryable }

// ResultSink is notified of every final Result
type ResultSink interface {
	Publish(ctx context.Context, r Result)
}

// ResultSinkFunc adapts a function to ResultSink
type ResultSinkFunc func(ctx context.Context, r Result)

func (f ResultSinkFunc) Publish(ctx context.Context, r Result) { f(ctx, r) }
