package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Handler processes one delivery. Returning nil or a Terminal error acknowledges it.
type Handler func(ctx context.Context, d *Delivery) error

// ConsumerConfig configures a Consumer
type ConsumerConfig struct {
	Concurrency int
	// ShutdownGrace bounds how long in-flight handlers may run after ctx ends
	ShutdownGrace time.Duration
	// AckTimeout bounds each acknowledgement
	AckTimeout time.Duration
	// ErrorBackoff is the pause after a failed Receive
	ErrorBackoff time.Duration
}

// Consumer runs a receive loop with bounded parallelism
type Consumer struct {
	queue  Queue
	cfg    ConsumerConfig
	logger *slog.Logger
}

// NewConsumer creates a Consumer
func NewConsumer(q Queue, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 5 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{queue: q, cfg: cfg, logger: logger}
}

// Run receives and handles deliveries until ctx ends. It then stops receiving,
// waits up to ShutdownGrace for in-flight handlers and cancels the rest.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	if handler == nil {
		return errors.New("handler is nil")
	}

	handlerCtx, cancelHandlers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelHandlers()

	var wg sync.WaitGroup
	sem := make(chan struct{}, c.cfg.Concurrency)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case sem <- struct{}{}:
		}

		d, err := c.queue.Receive(ctx)
		if err != nil {
			<-sem
			if ctx.Err() != nil {
				break loop
			}
			c.logger.Error("Failed to receive job", "error", err)
			select {
			case <-ctx.Done():
				break loop
			case <-time.After(c.cfg.ErrorBackoff):
			}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			c.handle(handlerCtx, handler, d)
		}()
	}

	c.logger.Info("Stopping consumer, waiting for in-flight jobs", "grace", c.cfg.ShutdownGrace)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(c.cfg.ShutdownGrace):
		c.logger.Warn("Shutdown grace period elapsed, cancelling in-flight jobs")
		cancelHandlers()
		<-done
	}
	return nil
}

func (c *Consumer) handle(ctx context.Context, handler Handler, d *Delivery) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("Job handler panicked", "message_id", d.ID, "job_id", d.Job.JobID, "panic", r)
				// A panic is treated as a poison message so it cannot hot-loop.
				err = Terminal(fmt.Errorf("panic: %v", r))
			}
		}()
		err = handler(ctx, d)
	}()

	if !ShouldAck(err) {
		c.logger.Warn("Job left pending for redelivery", "message_id", d.ID, "job_id", d.Job.JobID, "error", err)
		return
	}

	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.AckTimeout)
	defer cancel()
	if ackErr := c.queue.Ack(ackCtx, d); ackErr != nil {
		c.logger.Error("Failed to acknowledge job", "message_id", d.ID, "job_id", d.Job.JobID, "error", ackErr)
	}
}
