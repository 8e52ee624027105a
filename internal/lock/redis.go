package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const keyPrefix = "recordingflow:lock:"

// Deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Extends the key's expiry only while it still holds our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Redis is a Locker shared by every instance using the same Redis.
// A held lock is renewed every third of ttl until released, so it outlives
// long polls; a crashed holder stops renewing and the lock expires.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// NewRedis creates a Redis-backed Locker.
func NewRedis(client *redis.Client, ttl time.Duration, log zerolog.Logger) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Redis{client: client, ttl: ttl, log: log.With().Str("component", "redis-lock").Logger()}
}

// Connect opens a client and checks the connection.
func Connect(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("testing redis connection: %w", err)
	}
	return client, nil
}

func (r *Redis) TryLock(ctx context.Context, key string) (Release, bool, error) {
	token := uuid.New().String()
	redisKey := keyPrefix + key

	ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquiring lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	renewCtx, stopRenew := context.WithCancel(context.Background())
	go r.keepAlive(renewCtx, redisKey, key, token)

	var once sync.Once
	return func() {
		once.Do(func() {
			stopRenew()
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.client, []string{redisKey}, token).Err(); err != nil {
				r.log.Warn().Err(err).Str("key", key).Msg("Failed to release lock; it will expire.")
			}
		})
	}, true, nil
}

func (r *Redis) keepAlive(ctx context.Context, redisKey, key, token string) {
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		renewed, err := renewScript.Run(ctx, r.client, []string{redisKey}, token, r.ttl.Milliseconds()).Int()
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			r.log.Warn().Err(err).Str("key", key).Msg("Failed to renew lock, will retry.")
		case renewed == 0:
			r.log.Warn().Str("key", key).Msg("Lock expired before release.")
			return
		}
	}
}
