package lock

import (
	"context"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNopAlwaysGrants(t *testing.T) {
	var l Locker = Nop{}
	ok, err := l.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, l.Release(context.Background()))
}

func TestNewRedisFailsWithoutServer(t *testing.T) {
	_, err := NewRedis(Config{Addr: "127.0.0.1:1"})
	assert.ErrorContains(t, err, "redis ping")
}

func TestRedisLockDefaults(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()

	a := newRedisLock(client, Config{})
	b := newRedisLock(client, Config{Key: "other", TTL: time.Minute})

	assert.Equal(t, DefaultKey, a.key)
	assert.Equal(t, DefaultTTL, a.ttl)
	assert.Equal(t, "other", b.key)
	assert.NotEqual(t, a.token, b.token)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ok, err := a.Acquire(ctx)
	assert.Error(t, err)
	assert.False(t, ok)
}
