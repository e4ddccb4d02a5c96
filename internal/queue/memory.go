package queue

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue with a visibility timeout. It is used by
// the single-binary setup and in tests.
type MemoryQueue struct {
	mu         sync.Mutex
	visibility time.Duration
	now        func() time.Time
	notify     chan struct{}

	seq      int
	ready    []*memoryMessage
	inflight map[string]*memoryMessage
}

type memoryMessage struct {
	id         string
	job        Job
	deliveries int
	deadline   time.Time
}

func (m *memoryMessage) token() string {
	return m.id + "#" + strconv.Itoa(m.deliveries)
}

// NewMemoryQueue creates a MemoryQueue. Unacknowledged deliveries become
// visible again after visibility.
func NewMemoryQueue(visibility time.Duration) *MemoryQueue {
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &MemoryQueue{
		visibility: visibility,
		now:        time.Now,
		notify:     make(chan struct{}, 1),
		inflight:   make(map[string]*memoryMessage),
	}
}

// Enqueue appends a job
func (q *MemoryQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	q.seq++
	q.ready = append(q.ready, &memoryMessage{id: strconv.Itoa(q.seq), job: job})
	q.mu.Unlock()
	q.signal()
	return nil
}

// Receive blocks until a job is visible or ctx ends
func (q *MemoryQueue) Receive(ctx context.Context) (*Delivery, error) {
	for {
		if d := q.take(); d != nil {
			return d, nil
		}
		wait := q.nextExpiry()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Ack removes the message for good. An Ack from a delivery whose message has
// since been handed out again is ignored; the newer delivery owns it.
func (q *MemoryQueue) Ack(ctx context.Context, d *Delivery) error {
	if d == nil {
		return errors.New("nil delivery")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if m, ok := q.inflight[d.ID]; ok {
		if m.token() == d.token {
			delete(q.inflight, d.ID)
		}
		return nil
	}
	// Expired but not received again yet: the work is done, so drop it.
	q.ready = slices.DeleteFunc(q.ready, func(m *memoryMessage) bool {
		return m.id == d.ID && m.token() == d.token
	})
	return nil
}

// Len returns the number of messages waiting to be received
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requeueExpired()
	return len(q.ready)
}

// InFlight returns the number of received, unacknowledged messages
func (q *MemoryQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requeueExpired()
	return len(q.inflight)
}

func (q *MemoryQueue) take() *Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requeueExpired()
	if len(q.ready) == 0 {
		return nil
	}
	m := q.ready[0]
	q.ready = q.ready[1:]
	m.deliveries++
	m.deadline = q.now().Add(q.visibility)
	q.inflight[m.id] = m
	return &Delivery{ID: m.id, Job: m.job, Redelivered: m.deliveries > 1, token: m.token()}
}

// requeueExpired must be called with mu held
func (q *MemoryQueue) requeueExpired() {
	now := q.now()
	for id, m := range q.inflight {
		if !now.Before(m.deadline) {
			delete(q.inflight, id)
			q.ready = append(q.ready, m)
		}
	}
}

func (q *MemoryQueue) nextExpiry() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	wait := q.visibility
	now := q.now()
	for _, m := range q.inflight {
		if d := m.deadline.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < time.Millisecond {
		wait = time.Millisecond
	}
	return wait
}

func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
