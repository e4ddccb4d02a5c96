package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xiaotiantakumi/receiptfly/internal/extraction"
)

// DraftCache keeps generated drafts by job id so a redelivered job can skip
// straight to persisting
type DraftCache interface {
	Get(ctx context.Context, jobID string) (*extraction.Draft, bool, error)
	Put(ctx context.Context, jobID string, draft *extraction.Draft) error
	Delete(ctx context.Context, jobID string) error
}

type cachedDraft struct {
	draft   []byte
	expires time.Time
}

// MemoryDraftCache is a process-local DraftCache with a TTL
type MemoryDraftCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cachedDraft
}

// NewMemoryDraftCache creates a MemoryDraftCache
func NewMemoryDraftCache(ttl time.Duration) *MemoryDraftCache {
	return &MemoryDraftCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cachedDraft),
	}
}

func (c *MemoryDraftCache) Get(ctx context.Context, jobID string) (*extraction.Draft, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[jobID]
	if !ok {
		return nil, false, nil
	}
	if c.ttl > 0 && !c.now().Before(e.expires) {
		delete(c.entries, jobID)
		return nil, false, nil
	}
	var d extraction.Draft
	if err := json.Unmarshal(e.draft, &d); err != nil {
		return nil, false, fmt.Errorf("decoding cached draft: %w", err)
	}
	return &d, true, nil
}

func (c *MemoryDraftCache) Put(ctx context.Context, jobID string, draft *extraction.Draft) error {
	// Stored encoded so callers cannot mutate the cached copy
	data, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("encoding draft: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[jobID] = cachedDraft{draft: data, expires: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryDraftCache) Delete(ctx context.Context, jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, jobID)
	return nil
}

// Len returns the number of cached drafts, expired ones included
func (c *MemoryDraftCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// DefaultDraftKeyPrefix namespaces cached drafts in Redis
const DefaultDraftKeyPrefix = "receiptfly:draft:"

// RedisDraftCache stores drafts as JSON strings with a TTL, so they survive worker restarts
type RedisDraftCache struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisDraftCache creates a RedisDraftCache
func NewRedisDraftCache(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisDraftCache {
	if prefix == "" {
		prefix = DefaultDraftKeyPrefix
	}
	return &RedisDraftCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Key returns the Redis key for a job's draft
func (c *RedisDraftCache) Key(jobID string) string { return c.prefix + jobID }

func (c *RedisDraftCache) Get(ctx context.Context, jobID string) (*extraction.Draft, bool, error) {
	data, err := c.rdb.Get(ctx, c.Key(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cached draft: %w", err)
	}
	var d extraction.Draft
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, false, fmt.Errorf("decoding cached draft: %w", err)
	}
	return &d, true, nil
}

func (c *RedisDraftCache) Put(ctx context.Context, jobID string, draft *extraction.Draft) error {
	data, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("encoding draft: %w", err)
	}
	if err := c.rdb.Set(ctx, c.Key(jobID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("caching draft: %w", err)
	}
	return nil
}

func (c *RedisDraftCache) Delete(ctx context.Context, jobID string) error {
	if err := c.rdb.Del(ctx, c.Key(jobID)).Err(); err != nil {
		return fmt.Errorf("deleting cached draft: %w", err)
	}
	return nil
}
