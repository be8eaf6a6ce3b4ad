package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const (
	defaultTTL        = 2 * time.Minute
	defaultRetryEvery = 500 * time.Millisecond
	defaultPrefix     = "enrich:lock:"
)

// Redis is a Locker backed by redislock. Held locks are refreshed at half
// their TTL until released, so a crashed worker frees the key after one TTL.
type Redis struct {
	client     *redislock.Client
	ttl        time.Duration
	retryEvery time.Duration
	prefix     string
}

// RedisOption configures a Redis locker.
type RedisOption func(*Redis)

// WithTTL sets the lock TTL.
func WithTTL(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.ttl = d
		}
	}
}

// WithRetryEvery sets the polling interval while waiting for a held key.
func WithRetryEvery(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.retryEvery = d
		}
	}
}

// WithPrefix sets the Redis key prefix.
func WithPrefix(p string) RedisOption {
	return func(r *Redis) { r.prefix = p }
}

// NewRedis wraps a go-redis client.
func NewRedis(rdb redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client:     redislock.New(rdb),
		ttl:        defaultTTL,
		retryEvery: defaultRetryEvery,
		prefix:     defaultPrefix,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "lock: ping redis %s", addr)
	}
	return rdb, nil
}

// Acquire implements Locker.
func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	l, err := r.client.Obtain(ctx, r.prefix+key, r.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(r.retryEvery),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		if ctx.Err() != nil {
			return nil, eris.Wrapf(ctx.Err(), "lock: acquire %s", key)
		}
		return nil, eris.Wrapf(ErrBusy, "lock: %s", key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "lock: obtain %s", key)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(l, key, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := l.Release(relCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				zap.L().Warn("lock: release failed", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}

func (r *Redis) keepAlive(l *redislock.Lock, key string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.ttl/2)
			err := l.Refresh(ctx, r.ttl, nil)
			cancel()
			if err != nil {
				zap.L().Warn("lock: refresh failed", zap.String("key", key), zap.Error(err))
				return
			}
		}
	}
}
