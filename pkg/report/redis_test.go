package report

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	gserrors "github.com/vnykmshr/goshaper/pkg/common/errors"
)

// redisClient connects to REDIS_ADDR (default localhost:6379) and skips the
// test when no server answers.
func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Redis test in short mode")
	}

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func testPrefix(t *testing.T) string {
	return fmt.Sprintf("goshaper-test:%s:%d", t.Name(), time.Now().UnixNano())
}

func TestNewRedisStoreValidation(t *testing.T) {
	_, err := NewRedisStore(RedisConfig{})
	require.True(t, gserrors.IsValidationError(err))

	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()
	_, err = NewRedisStore(RedisConfig{Redis: client, TTL: -time.Second})
	require.True(t, gserrors.IsValidationError(err))

	store, err := NewRedisStore(RedisConfig{Redis: client})
	require.NoError(t, err)
	require.Equal(t, DefaultKeyPrefix+":index", store.indexKey())
	require.Equal(t, DefaultKeyPrefix+":summary:x", store.summaryKey("x"))
}

func TestRedisStore(t *testing.T) {
	client := redisClient(t)
	prefix := testPrefix(t)

	store, err := NewRedisStore(RedisConfig{Redis: client, KeyPrefix: prefix})
	require.NoError(t, err)
	t.Cleanup(func() {
		keys, _ := client.Keys(context.Background(), prefix+"*").Result()
		if len(keys) > 0 {
			client.Del(context.Background(), keys...)
		}
	})

	storeContract(t, store, "")
}

func TestRedisStoreTTLAndDelete(t *testing.T) {
	client := redisClient(t)
	prefix := testPrefix(t)
	ctx := context.Background()

	store, err := NewRedisStore(RedisConfig{Redis: client, KeyPrefix: prefix, TTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { client.Del(ctx, store.indexKey(), store.summaryKey("kept"), store.summaryKey("gone")) })

	require.NoError(t, store.Save(ctx, &Summary{Name: "kept"}))
	require.NoError(t, store.Save(ctx, &Summary{Name: "gone"}))

	ttl, err := client.TTL(ctx, store.summaryKey("kept")).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))
	require.LessOrEqual(t, ttl, time.Minute)

	require.NoError(t, store.Delete(ctx, "gone"))
	require.NoError(t, store.Delete(ctx, "gone"))
	names, err := store.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"kept"}, names)

	// A summary that expired behind the index is pruned on List.
	require.NoError(t, client.Del(ctx, store.summaryKey("kept")).Err())
	names, err = store.List(ctx)
	require.NoError(t, err)
	require.Empty(t, names)
	members, err := client.SMembers(ctx, store.indexKey()).Result()
	require.NoError(t, err)
	require.Empty(t, members)
}

func TestRedisStoreCorruptValue(t *testing.T) {
	client := redisClient(t)
	ctx := context.Background()

	store, err := NewRedisStore(RedisConfig{Redis: client, KeyPrefix: testPrefix(t)})
	require.NoError(t, err)
	key := store.summaryKey("broken")
	t.Cleanup(func() { client.Del(ctx, key) })

	require.NoError(t, client.Set(ctx, key, "{not json", 0).Err())
	_, err = store.Load(ctx, "broken")
	require.ErrorContains(t, err, "decode summary")
}
