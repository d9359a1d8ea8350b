// Package limiter implements fixed window rate limiting, backed by redis when
// several processes share the limit or by memory otherwise.
package limiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindow increments the counter of the current window and starts the
// window on the first hit. Both steps run atomically.
var fixedWindow = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
	return 0
end
return 1
`)

type Option func(*options)

type options struct {
	prefix string
	now    func() time.Time
}

// WithPrefix namespaces the redis keys. The default is "pharmadesk:limit:".
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithClock replaces time.Now for the in-memory limiter.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func newOptions(opts []Option) options {
	o := options{prefix: "pharmadesk:limit:", now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Redis allows at most limit hits per key in every window.
type Redis struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

func NewRedis(client *redis.Client, limit int, window time.Duration, opts ...Option) *Redis {
	o := newOptions(opts)
	return &Redis{client: client, limit: limit, window: window, prefix: o.prefix}
}

func (l *Redis) Allow(ctx context.Context, key string) (bool, error) {
	res, err := fixedWindow.Run(ctx, l.client, []string{l.prefix + key}, l.limit, l.window.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("fixed window(%s): %w", key, err)
	}
	return res == 1, nil
}

type counter struct {
	hits    int
	resetAt time.Time
}

// Memory is the single process variant of Redis.
type Memory struct {
	limit    int
	window   time.Duration
	now      func() time.Time
	counters map[string]*counter
	mu       sync.Mutex
}

func NewMemory(limit int, window time.Duration, opts ...Option) *Memory {
	o := newOptions(opts)
	return &Memory{
		limit:    limit,
		window:   window,
		now:      o.now,
		counters: make(map[string]*counter),
	}
}

func (l *Memory) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.counters[key]
	if !ok || !now.Before(c.resetAt) {
		if len(l.counters) > 4096 {
			l.prune(now)
		}
		c = &counter{resetAt: now.Add(l.window)}
		l.counters[key] = c
	}
	c.hits++
	return c.hits <= l.limit, nil
}

func (l *Memory) prune(now time.Time) {
	for key, c := range l.counters {
		if !now.Before(c.resetAt) {
			delete(l.counters, key)
		}
	}
}
