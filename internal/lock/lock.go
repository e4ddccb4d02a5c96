package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces job lock keys
const DefaultPrefix = "receiptfly:lock:job:"

// Client implements a Redis lock: SET NX PX plus Lua scripts so only the
// holder of the token can refresh or release it.
type Client struct {
	rdb    redis.UniversalClient
	prefix string
}

// New creates a lock Client
func New(rdb redis.UniversalClient, prefix string) *Client {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Client{rdb: rdb, prefix: prefix}
}

// Key returns the lock key for a job
func (c *Client) Key(jobID string) string {
	return c.prefix + strings.TrimSpace(jobID)
}

// Token returns a random lock token
func Token() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// Acquire takes the lock if nobody holds it
func (c *Client) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if err := checkArgs(key, token); err != nil {
		return false, err
	}
	return c.rdb.SetNX(ctx, key, token, normalizeTTL(ttl)).Result()
}

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
  return 0
end
`)

// Refresh extends the lock if token still holds it
func (c *Client) Refresh(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if err := checkArgs(key, token); err != nil {
		return false, err
	}
	n, err := refreshScript.Run(ctx, c.rdb, []string{key}, token, normalizeTTL(ttl).Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

// Release deletes the lock if token still holds it
func (c *Client) Release(ctx context.Context, key, token string) (bool, error) {
	if err := checkArgs(key, token); err != nil {
		return false, err
	}
	n, err := releaseScript.Run(ctx, c.rdb, []string{key}, token).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func checkArgs(key, token string) error {
	if strings.TrimSpace(key) == "" || strings.TrimSpace(token) == "" {
		return errors.New("lock key and token are required")
	}
	return nil
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl < time.Millisecond {
		return 10 * time.Minute
	}
	return ttl
}
