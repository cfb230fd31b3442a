package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "idempotency:"

// RedisStore implements Store on Redis. Keys expire natively, so CleanupExpired is a no-op.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore constructs a Redis-backed idempotency store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client, prefix: defaultRedisPrefix}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + documentID(key)
}

// Reserve claims the key with SETNX; an existing record decides between replay and conflict.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	record := pendingRecord(key, fingerprint, now, ttl)
	data, err := json.Marshal(record)
	if err != nil {
		return Reservation{}, fmt.Errorf("marshal idempotency record failed: %w", err)
	}

	// The second attempt covers a record that expired between SETNX and GET.
	for attempt := 0; attempt < 2; attempt++ {
		created, err := s.client.SetNX(ctx, s.key(key), data, normaliseTTL(ttl)).Result()
		if err != nil {
			return Reservation{}, fmt.Errorf("redis setnx failed: %w", err)
		}
		if created {
			return Reservation{State: ReservationStateNew, Record: record}, nil
		}

		existing, found, err := s.get(ctx, s.client, key)
		if err != nil {
			return Reservation{}, err
		}
		if found {
			return existing.reservation(fingerprint)
		}
	}
	return Reservation{}, errors.New("idempotency: key contention in redis")
}

// SaveResponse stores the completed response under WATCH so a concurrent release is not overwritten
// with a stale fingerprint.
func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	redisKey := s.key(key)

	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		record, found, err := s.get(ctx, tx, key)
		if err != nil {
			return err
		}
		if !found {
			record = Record{Key: key, Fingerprint: fingerprint}
		} else if record.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}

		data, err := json.Marshal(record.complete(resp, now, ttl))
		if err != nil {
			return fmt.Errorf("marshal idempotency record failed: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, data, normaliseTTL(ttl))
			return nil
		})
		return err
	}, redisKey)
}

// Release deletes the reservation when it still belongs to fingerprint.
func (s *RedisStore) Release(ctx context.Context, key, fingerprint string) error {
	redisKey := s.key(key)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		record, found, err := s.get(ctx, tx, key)
		if err != nil || !found || record.Fingerprint != fingerprint {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, redisKey)
			return nil
		})
		return err
	}, redisKey)
}

// CleanupExpired implements Store; Redis evicts expired keys itself.
func (s *RedisStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (s *RedisStore) get(ctx context.Context, client redis.Cmdable, key string) (Record, bool, error) {
	data, err := client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("redis get failed: %w", err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, false, fmt.Errorf("unmarshal idempotency record failed: %w", err)
	}
	return record, true, nil
}
