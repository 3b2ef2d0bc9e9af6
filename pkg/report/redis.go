package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	gserrors "github.com/vnykmshr/goshaper/pkg/common/errors"
	"github.com/vnykmshr/goshaper/pkg/common/validation"
)

// DefaultKeyPrefix namespaces every key written by RedisStore.
const DefaultKeyPrefix = "goshaper:report"

// RedisConfig holds RedisStore configuration.
type RedisConfig struct {
	// Redis is the client used for storage. The store does not close it.
	Redis redis.UniversalClient

	// KeyPrefix namespaces the store's keys (default: DefaultKeyPrefix).
	KeyPrefix string

	// TTL expires summaries after this long (0 = keep forever).
	TTL time.Duration

	// Timeout bounds each Redis round trip (default: 5s).
	Timeout time.Duration
}

// RedisStore keeps summaries as JSON strings in Redis, with a set of names
// as an index.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	ttl     time.Duration
	timeout time.Duration
	closed  atomic.Bool
	now     func() time.Time
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore validates cfg and creates a store. It does not contact Redis.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Redis == nil {
		return nil, validation.ValidateNotNil("report", "redis", nil)
	}
	if cfg.TTL < 0 {
		return nil, gserrors.NewValidationError("report", "ttl", cfg.TTL, "cannot be negative").
			WithHint("use 0 to keep summaries forever")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &RedisStore{
		client:  cfg.Redis,
		prefix:  prefix,
		ttl:     cfg.TTL,
		timeout: timeout,
		now:     time.Now,
	}, nil
}

func (r *RedisStore) summaryKey(name string) string {
	return r.prefix + ":summary:" + name
}

func (r *RedisStore) indexKey() string {
	return r.prefix + ":index"
}

// Save writes s and adds its name to the index in one pipeline.
func (r *RedisStore) Save(ctx context.Context, s *Summary) error {
	if err := validateSummary(s); err != nil {
		return err
	}
	if r.closed.Load() {
		return gserrors.NewOperationError("report", "Save", gserrors.ErrClosed)
	}

	stored := *s
	if stored.StoredAt.IsZero() {
		stored.StoredAt = r.now().UTC()
	}
	data, err := json.Marshal(&stored)
	if err != nil {
		return gserrors.NewOperationError("report", "Save", err).WithContext(s.Name)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.summaryKey(s.Name), data, r.ttl)
	pipe.SAdd(ctx, r.indexKey(), s.Name)
	if _, err := pipe.Exec(ctx); err != nil {
		return gserrors.NewOperationError("report", "Save", err).WithContext(s.Name)
	}
	return nil
}

// Load fetches and decodes the summary stored under name.
func (r *RedisStore) Load(ctx context.Context, name string) (*Summary, error) {
	if r.closed.Load() {
		return nil, gserrors.NewOperationError("report", "Load", gserrors.ErrClosed)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	data, err := r.client.Get(ctx, r.summaryKey(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gserrors.NewOperationError("report", "Load", gserrors.ErrNotFound).WithContext(name)
	}
	if err != nil {
		return nil, gserrors.NewOperationError("report", "Load", err).WithContext(name)
	}

	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, gserrors.NewOperationError("report", "Load", fmt.Errorf("decode summary: %w", err)).WithContext(name)
	}
	return &s, nil
}

// List returns the names in the index whose summaries have not expired.
// Expired names are pruned from the index.
func (r *RedisStore) List(ctx context.Context) ([]string, error) {
	if r.closed.Load() {
		return nil, gserrors.NewOperationError("report", "List", gserrors.ErrClosed)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	names, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, gserrors.NewOperationError("report", "List", err)
	}
	if len(names) == 0 {
		return []string{}, nil
	}

	pipe := r.client.Pipeline()
	exists := make([]*redis.IntCmd, len(names))
	for i, name := range names {
		exists[i] = pipe.Exists(ctx, r.summaryKey(name))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, gserrors.NewOperationError("report", "List", err)
	}

	live := make([]string, 0, len(names))
	var stale []interface{}
	for i, name := range names {
		if exists[i].Val() > 0 {
			live = append(live, name)
		} else {
			stale = append(stale, name)
		}
	}
	if len(stale) > 0 {
		if err := r.client.SRem(ctx, r.indexKey(), stale...).Err(); err != nil {
			return nil, gserrors.NewOperationError("report", "List", err)
		}
	}

	sort.Strings(live)
	return live, nil
}

// Delete removes the summary stored under name. Deleting a missing name is
// not an error.
func (r *RedisStore) Delete(ctx context.Context, name string) error {
	if r.closed.Load() {
		return gserrors.NewOperationError("report", "Delete", gserrors.ErrClosed)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.summaryKey(name))
	pipe.SRem(ctx, r.indexKey(), name)
	if _, err := pipe.Exec(ctx); err != nil {
		return gserrors.NewOperationError("report", "Delete", err).WithContext(name)
	}
	return nil
}

// Close marks the store closed. The Redis client is left open for its owner.
func (r *RedisStore) Close() error {
	r.closed.Store(true)
	return nil
}
