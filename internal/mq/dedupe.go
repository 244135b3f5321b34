package mq

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultDedupeTTL = 24 * time.Hour

// Deduper reports whether key was already seen, recording it if not.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
}

type MemoryDeduper struct {
	mu   sync.Mutex
	ttl  time.Duration
	keys map[string]time.Time
	now  func() time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{ttl: ttl, keys: make(map[string]time.Time), now: time.Now}
}

func (d *MemoryDeduper) Seen(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, exp := range d.keys {
		if now.After(exp) {
			delete(d.keys, k)
		}
	}

	if _, ok := d.keys[key]; ok {
		return true, nil
	}
	d.keys[key] = now.Add(d.ttl)
	return false, nil
}

type setNXer interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

// RedisDeduper shares seen keys between restarts.
type RedisDeduper struct {
	c      setNXer
	prefix string
	ttl    time.Duration
}

func NewRedisDeduper(addr, password string, db int, ttl time.Duration) *RedisDeduper {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisDeduper{c: rdb, prefix: "nostr-scheduler:mq:seen:", ttl: ttl}
}

func (d *RedisDeduper) Seen(ctx context.Context, key string) (bool, error) {
	set, err := d.c.SetNX(ctx, d.prefix+key, 1, d.ttl).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}

func (d *RedisDeduper) Close() error {
	if c, ok := d.c.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
