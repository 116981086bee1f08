package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	backend "github.com/redis/go-redis/v9"

	statex "github.com/tanpawarit/deskmesh/agent/state"
)

const defaultRedisPrefix = "deskmesh:ckpt:"

// RedisConfig carries the connection settings for the Redis-backed store.
type RedisConfig struct {
	Addr     string        `envconfig:"ADDR" split_words:"true" default:"localhost:6379"`
	Password string        `envconfig:"PASSWORD" split_words:"true"`
	DB       int           `envconfig:"DB" split_words:"true" default:"0"`
	TTL      time.Duration `envconfig:"TTL" split_words:"true" default:"0"`
}

// RedisStore persists checkpoints in Redis. Each record lives under its own
// key; a per-(thread, namespace) ZSET scored by step counter provides the
// total order LoadLatest relies on.
type RedisStore struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type RedisOption func(*RedisStore)

func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			s.prefix = trimmed
		}
	}
}

func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

func NewRedisStore(cfg RedisConfig, opts ...RedisOption) *RedisStore {
	client := backend.NewClient(&backend.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	store := &RedisStore{
		client: client,
		prefix: defaultRedisPrefix,
		ttl:    cfg.TTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

// NewRedisStoreFromClient wraps an existing client. Used by tests with
// miniredis.
func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	store := &RedisStore{
		client: client,
		prefix: defaultRedisPrefix,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

func (s *RedisStore) recordKey(threadID, namespace, checkpointID string) string {
	return s.prefix + threadID + ":" + namespace + ":" + checkpointID
}

func (s *RedisStore) indexKey(threadID, namespace string) string {
	return s.prefix + threadID + ":" + namespace + ":index"
}

func (s *RedisStore) terminatedKey(threadID string) string {
	return s.prefix + threadID + ":terminated"
}

func (s *RedisStore) Save(ctx context.Context, threadID, namespace string, st *statex.State, step int) (string, error) {
	threadID, namespace, err := validateKey(threadID, namespace)
	if err != nil {
		return "", err
	}
	blob, err := EncodeState(st)
	if err != nil {
		return "", err
	}

	rec := Record{
		ThreadID:     threadID,
		Namespace:    namespace,
		CheckpointID: newCheckpointID(),
		Step:         step,
		Blob:         blob,
		CreatedAt:    time.Now().UTC(),
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal checkpoint record: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.recordKey(threadID, namespace, rec.CheckpointID), raw, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(threadID, namespace), backend.Z{
		Score:  float64(step),
		Member: rec.CheckpointID,
	})
	if s.ttl > 0 {
		pipe.Expire(ctx, s.indexKey(threadID, namespace), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("write checkpoint to redis: %w", err)
	}
	return rec.CheckpointID, nil
}

func (s *RedisStore) LoadLatest(ctx context.Context, threadID, namespace string) (*statex.State, int, error) {
	threadID, namespace, err := validateKey(threadID, namespace)
	if err != nil {
		return nil, 0, err
	}

	ids, err := s.client.ZRevRange(ctx, s.indexKey(threadID, namespace), 0, 0).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("read checkpoint index: %w", err)
	}
	if len(ids) == 0 {
		return nil, 0, ErrNotFound
	}
	return s.load(ctx, threadID, namespace, ids[0])
}

func (s *RedisStore) LoadAt(ctx context.Context, threadID, namespace, checkpointID string) (*statex.State, int, error) {
	threadID, namespace, err := validateKey(threadID, namespace)
	if err != nil {
		return nil, 0, err
	}
	return s.load(ctx, threadID, namespace, checkpointID)
}

func (s *RedisStore) load(ctx context.Context, threadID, namespace, checkpointID string) (*statex.State, int, error) {
	raw, err := s.client.Get(ctx, s.recordKey(threadID, namespace, checkpointID)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("read checkpoint record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, 0, fmt.Errorf("unmarshal checkpoint record: %w", err)
	}
	st, err := DecodeState(rec.Blob)
	if err != nil {
		return nil, 0, err
	}
	return st, rec.Step, nil
}

func (s *RedisStore) Terminate(ctx context.Context, threadID string) error {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return ErrInvalidThread
	}
	if err := s.client.Set(ctx, s.terminatedKey(threadID), "1", 0).Err(); err != nil {
		return fmt.Errorf("mark thread terminated: %w", err)
	}
	return nil
}

func (s *RedisStore) Terminated(ctx context.Context, threadID string) (bool, error) {
	_, err := s.client.Get(ctx, s.terminatedKey(strings.TrimSpace(threadID))).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("read thread status: %w", err)
	}
	return true, nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
