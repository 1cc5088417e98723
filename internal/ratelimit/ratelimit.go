// Package ratelimit bounds failed applicant lookups per key (client and reference number).
//
// A key that collects Max failures inside Window is blocked until the
// window expires. Successful lookups do not reset the counter.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Limiter tracks failed lookups.
type Limiter interface {
	// Blocked reports whether key has exhausted its failure budget.
	Blocked(ctx context.Context, key string) (bool, error)
	// Fail records one failed lookup for key.
	Fail(ctx context.Context, key string) error
}

func normalize(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

type window struct {
	count int
	start time.Time
}

// MemoryLimiter keeps counters in process memory.
type MemoryLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string]window
	now     func() time.Time
}

func NewMemoryLimiter(max int, win time.Duration) *MemoryLimiter {
	return &MemoryLimiter{max: max, window: win, entries: map[string]window{}, now: time.Now}
}

func (l *MemoryLimiter) Blocked(_ context.Context, key string) (bool, error) {
	if l.max <= 0 {
		return false, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.entries[normalize(key)]
	if !ok {
		return false, nil
	}
	if l.now().Sub(w.start) >= l.window {
		delete(l.entries, normalize(key))
		return false, nil
	}
	return w.count >= l.max, nil
}

func (l *MemoryLimiter) Fail(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := normalize(key)
	now := l.now()
	w, ok := l.entries[k]
	if !ok || now.Sub(w.start) >= l.window {
		w = window{start: now}
	}
	w.count++
	l.entries[k] = w
	l.sweep(now)
	return nil
}

// sweep drops expired windows once the map grows large.
func (l *MemoryLimiter) sweep(now time.Time) {
	if len(l.entries) < 10000 {
		return
	}
	for k, w := range l.entries {
		if now.Sub(w.start) >= l.window {
			delete(l.entries, k)
		}
	}
}

// RedisLimiter shares counters across API instances.
type RedisLimiter struct {
	client redis.UniversalClient
	max    int
	window time.Duration
	prefix string
}

func NewRedisLimiter(client redis.UniversalClient, max int, win time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, max: max, window: win, prefix: "civictrack:lookup_failures:"}
}

func (l *RedisLimiter) Blocked(ctx context.Context, key string) (bool, error) {
	if l.max <= 0 {
		return false, nil
	}
	n, err := l.client.Get(ctx, l.prefix+normalize(key)).Int()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "read lookup failures")
	}
	return n >= l.max, nil
}

func (l *RedisLimiter) Fail(ctx context.Context, key string) error {
	k := l.prefix + normalize(key)
	pipe := l.client.TxPipeline()
	pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "record lookup failure")
	}
	return nil
}

// Client wraps the go-redis client with a connection check.
type Client struct {
	*redis.Client
}

// NewClient connects to url. It returns nil when url is empty.
func NewClient(ctx context.Context, url string) (*Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis URL")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "redis ping failed")
	}
	return &Client{Client: client}, nil
}
