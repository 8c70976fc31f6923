// Package lock keeps two bot processes from running a cycle at the same time.
package lock

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	DefaultKey = "ema-crossover-bot:cycle"
	DefaultTTL = 55 * time.Second
)

// Locker grants an exclusive lease on the trading cycle
type Locker interface {
	// Acquire reports whether this process now holds the lease
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Nop always grants the lease. Used when no Redis is configured.
type Nop struct{}

func (Nop) Acquire(context.Context) (bool, error) { return true, nil }
func (Nop) Release(context.Context) error         { return nil }

// releaseScript deletes the key only while it still holds our token
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Config configures the Redis lease
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	Key      string
	TTL      time.Duration
}

// RedisLock is a lease held as a Redis key with an expiry
type RedisLock struct {
	client *goredis.Client
	key    string
	ttl    time.Duration
	token  string
}

// NewRedis connects to Redis and pings it
func NewRedis(cfg Config) (*RedisLock, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisLock(client, cfg), nil
}

func newRedisLock(client *goredis.Client, cfg Config) *RedisLock {
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &RedisLock{
		client: client,
		key:    cfg.Key,
		ttl:    cfg.TTL,
		token:  uuid.NewString(),
	}
}

// Acquire takes the lease, or extends it when this process already holds it
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	if ok {
		return true, nil
	}

	holder, err := l.client.Get(ctx, l.key).Result()
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read lease %s: %w", l.key, err)
	}
	if holder != l.token {
		return false, nil
	}
	if err := l.client.Expire(ctx, l.key, l.ttl).Err(); err != nil {
		return false, fmt.Errorf("extend lease %s: %w", l.key, err)
	}
	return true, nil
}

// Release drops the lease if this process still holds it
func (l *RedisLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil && err != goredis.Nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}

// Close closes the Redis client
func (l *RedisLock) Close() error {
	return l.client.Close()
}
