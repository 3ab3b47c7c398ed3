package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/labelcache/internal/model"
)

// DefaultRedisPrefix namespaces record keys.
const DefaultRedisPrefix = "labelcache:record:"

// RedisStore implements Store on Redis.
// Records are JSON values under prefix+fingerprint, written with SETNX and
// no expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // Optional key prefix (default DefaultRedisPrefix)
}

// NewRedisStore creates a store with its own client.
func NewRedisStore(opts RedisOptions) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisStoreWithClient(rdb, opts.Prefix)
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Lookup retrieves the record for fp.
func (s *RedisStore) Lookup(ctx context.Context, fp model.Fingerprint) (model.ClassificationRecord, bool, error) {
	rec, err := s.get(ctx, fp)
	if errors.Is(err, redis.Nil) {
		return model.ClassificationRecord{}, false, nil
	}
	if err != nil {
		return model.ClassificationRecord{}, false, model.Classify("store.lookup", err)
	}
	return rec, true, nil
}

// TryInsert writes rec with SETNX; on conflict the stored value is returned.
func (s *RedisStore) TryInsert(ctx context.Context, rec model.ClassificationRecord) (InsertResult, error) {
	const op = "store.try_insert"
	if err := checkRecord(op, rec); err != nil {
		return InsertResult{}, err
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return InsertResult{}, model.Invariant(op, rec.Fingerprint, fmt.Errorf("encode record: %w", err))
	}

	ok, err := s.client.SetNX(ctx, s.key(rec.Fingerprint), payload, 0).Result()
	if err != nil {
		return InsertResult{}, model.Transient(op, fmt.Errorf("setnx: %w", err))
	}
	if ok {
		return InsertResult{Outcome: InsertedNew, Record: rec}, nil
	}

	existing, err := s.get(ctx, rec.Fingerprint)
	if errors.Is(err, redis.Nil) {
		return InsertResult{}, conflictWithoutWinner(op, rec.Fingerprint)
	}
	if err != nil {
		return InsertResult{}, model.Classify(op, fmt.Errorf("get existing: %w", err))
	}
	return InsertResult{Outcome: AlreadyExists, Record: existing}, nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(fp model.Fingerprint) string {
	return s.prefix + string(fp)
}

func (s *RedisStore) get(ctx context.Context, fp model.Fingerprint) (model.ClassificationRecord, error) {
	data, err := s.client.Get(ctx, s.key(fp)).Bytes()
	if err != nil {
		return model.ClassificationRecord{}, err
	}
	var rec model.ClassificationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return model.ClassificationRecord{}, model.Invariant("store.decode", fp, err)
	}
	return rec, nil
}
