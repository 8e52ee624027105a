package lock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseLocker(t *testing.T, l Locker, key string) {
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must be refused")

	other, ok, err := l.TryLock(ctx, key+"-other")
	require.NoError(t, err)
	assert.True(t, ok, "distinct keys are independent")
	other()

	release()
	release()

	again, ok, err := l.TryLock(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	again()
}

func TestMemory_MutualExclusion(t *testing.T) {
	exerciseLocker(t, NewMemory(), "rec-1")
}

func TestMemory_StaleReleaseDoesNotFreeNewHolder(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first, ok, _ := m.TryLock(ctx, "rec-1")
	require.True(t, ok)
	first()

	_, ok, _ = m.TryLock(ctx, "rec-1")
	require.True(t, ok)
	first()

	assert.True(t, m.Held("rec-1"))
}

func TestMemory_ConcurrentAcquireHasOneWinner(t *testing.T) {
	m := NewMemory()
	var wins int32
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := m.TryLock(context.Background(), "rec-1"); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestRedis_MutualExclusion(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Connect(ctx, addr, os.Getenv("REDIS_PASSWORD"))
	require.NoError(t, err)
	defer client.Close()

	exerciseLocker(t, NewRedis(client, time.Minute, zerolog.Nop()), "test-"+uuid.New().String())
}

func TestRedis_LeaseRenewedWhileHeld(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Connect(ctx, addr, os.Getenv("REDIS_PASSWORD"))
	require.NoError(t, err)
	defer client.Close()

	key := "test-" + uuid.New().String()
	l := NewRedis(client, 300*time.Millisecond, zerolog.Nop())
	release, ok, err := l.TryLock(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(time.Second)
	n, err := client.Exists(ctx, keyPrefix+key).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "held lock outlives its ttl")

	release()
	n, err = client.Exists(ctx, keyPrefix+key).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}
