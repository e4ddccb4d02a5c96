package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// payloadField is the stream entry field holding the JSON job
const payloadField = "job"

// RedisStreamConfig configures a RedisStreamQueue
type RedisStreamConfig struct {
	Stream   string
	Group    string
	Consumer string
	MaxLen   int64
	Block    time.Duration
	Count    int64
	// ClaimMinIdle is the visibility window: pending entries idle this long are reclaimed.
	ClaimMinIdle time.Duration
	ClaimEvery   time.Duration
	// ClaimCount caps the entries reclaimed per pass
	ClaimCount int64
}

// RedisStreamQueue implements Queue on a Redis stream consumer group.
// Unacknowledged entries are reclaimed with XAUTOCLAIM.
type RedisStreamQueue struct {
	rdb    redis.UniversalClient
	cfg    RedisStreamConfig
	logger *slog.Logger

	mu         sync.Mutex
	buf        []redis.XMessage
	claimed    map[string]bool
	claimStart string
	lastClaim  time.Time
}

// NewRedisStreamQueue creates a RedisStreamQueue with defaults for unset fields
func NewRedisStreamQueue(rdb redis.UniversalClient, cfg RedisStreamConfig, logger *slog.Logger) *RedisStreamQueue {
	cfg.Stream = strings.TrimSpace(cfg.Stream)
	cfg.Group = strings.TrimSpace(cfg.Group)
	cfg.Consumer = strings.TrimSpace(cfg.Consumer)
	if cfg.Stream == "" {
		cfg.Stream = "receiptfly:ocr-jobs"
	}
	if cfg.Group == "" {
		cfg.Group = "receiptfly-workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "c-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = 100000
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.Count <= 0 {
		cfg.Count = 1
	}
	if cfg.ClaimMinIdle <= 0 {
		cfg.ClaimMinIdle = 10 * time.Minute
	}
	if cfg.ClaimCount <= 0 {
		cfg.ClaimCount = 100
	}
	if cfg.ClaimEvery <= 0 {
		cfg.ClaimEvery = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStreamQueue{
		rdb:        rdb,
		cfg:        cfg,
		logger:     logger,
		claimed:    make(map[string]bool),
		claimStart: "0-0",
	}
}

// EnsureGroup creates the stream and consumer group if they do not exist
func (q *RedisStreamQueue) EnsureGroup(ctx context.Context) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "0").Err()
	if err == nil {
		return nil
	}
	// BUSYGROUP means already exists.
	if strings.Contains(strings.ToLower(err.Error()), "busygroup") {
		return nil
	}
	return fmt.Errorf("creating consumer group: %w", err)
}

// Enqueue appends a job to the stream
func (q *RedisStreamQueue) Enqueue(ctx context.Context, job Job) error {
	values, err := EncodeJob(job)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: q.cfg.Stream,
		MaxLen: q.cfg.MaxLen,
		Approx: true,
		Values: values,
	}
	if err := q.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("adding job to stream: %w", err)
	}
	return nil
}

// Receive returns the next entry, reclaiming idle pending entries first
func (q *RedisStreamQueue) Receive(ctx context.Context) (*Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if len(q.buf) > 0 {
			msg := q.buf[0]
			q.buf = q.buf[1:]
			d := DecodeDelivery(msg)
			d.Redelivered = q.claimed[msg.ID]
			delete(q.claimed, msg.ID)
			return d, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		q.maybeAutoClaim(ctx)
		if len(q.buf) > 0 {
			continue
		}

		res, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.cfg.Group,
			Consumer: q.cfg.Consumer,
			Streams:  []string{q.cfg.Stream, ">"},
			Count:    q.cfg.Count,
			Block:    q.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("reading stream: %w", err)
		}
		for _, s := range res {
			q.buf = append(q.buf, s.Messages...)
		}
	}
}

// Ack acknowledges the entry in the consumer group
func (q *RedisStreamQueue) Ack(ctx context.Context, d *Delivery) error {
	if d == nil || strings.TrimSpace(d.ID) == "" {
		return errors.New("delivery has no id")
	}
	if err := q.rdb.XAck(ctx, q.cfg.Stream, q.cfg.Group, d.ID).Err(); err != nil {
		return fmt.Errorf("acknowledging %s: %w", d.ID, err)
	}
	return nil
}

// maybeAutoClaim must be called with mu held
func (q *RedisStreamQueue) maybeAutoClaim(ctx context.Context) {
	now := time.Now()
	if !q.lastClaim.IsZero() && now.Sub(q.lastClaim) < q.cfg.ClaimEvery {
		return
	}
	q.lastClaim = now

	msgs, next, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.cfg.Stream,
		Group:    q.cfg.Group,
		Consumer: q.cfg.Consumer,
		MinIdle:  q.cfg.ClaimMinIdle,
		Start:    q.claimStart,
		Count:    q.cfg.ClaimCount,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			q.logger.Warn("Failed to claim pending jobs", "stream", q.cfg.Stream, "error", err)
		}
		return
	}
	if strings.TrimSpace(next) != "" {
		q.claimStart = next
	}
	for _, m := range msgs {
		q.claimed[m.ID] = true
	}
	q.buf = append(q.buf, msgs...)
}

// EncodeJob builds stream entry values for a job
func EncodeJob(job Job) (map[string]any, error) {
	b, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshaling job: %w", err)
	}
	return map[string]any{payloadField: string(b)}, nil
}

// DecodeDelivery turns a stream entry into a Delivery. Entries that do not
// decode keep their payload in Raw and an empty Job.
func DecodeDelivery(msg redis.XMessage) *Delivery {
	d := &Delivery{ID: msg.ID}
	raw, ok := msg.Values[payloadField]
	if !ok {
		return d
	}
	payload := []byte(fmt.Sprintf("%v", raw))
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		d.Raw = payload
		return d
	}
	d.Job = job
	return d
}
