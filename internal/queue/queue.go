package queue

import (
	"context"
	"errors"
)

// Delivery is one receipt of a job from the queue
type Delivery struct {
	// ID identifies the message for Ack
	ID  string
	Job Job
	// Redelivered is set when the message was handed out before and never acknowledged
	Redelivered bool
	// Raw holds the payload when it could not be decoded into Job
	Raw []byte

	// token ties an in-memory delivery to one hand-out of its message
	token string
}

// Queue defines the job queue contract. Deliveries that are not acknowledged
// are handed out again after the backend's visibility window.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Receive(ctx context.Context) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
}

// TerminalError marks an error as terminal: the message is acknowledged even though handling failed.
type TerminalError struct{ Err error }

func (e TerminalError) Error() string {
	if e.Err == nil {
		return "terminal"
	}
	return e.Err.Error()
}

func (e TerminalError) Unwrap() error { return e.Err }

// Terminal wraps err so the consumer acknowledges the message
func Terminal(err error) error { return TerminalError{Err: err} }

// IsTerminal reports whether err was wrapped with Terminal
func IsTerminal(err error) bool {
	var te TerminalError
	return errors.As(err, &te)
}

// ShouldAck applies the ack policy: nil and terminal errors are acknowledged,
// anything else stays pending for redelivery.
func ShouldAck(err error) bool {
	return err == nil || IsTerminal(err)
}
