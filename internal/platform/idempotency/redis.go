package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "idempotency:"

// RedisStore persists idempotency records in Redis, letting replicas of the
// API share replay state.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a Redis-backed idempotency store.
func NewRedisStore(client *redis.Client) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: redis client is required")
	}
	return &RedisStore{client: client}, nil
}

// Reserve implements the Store interface using SET NX for the initial claim.
func (s *RedisStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	record := Record{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: marshal record: %w", err)
	}

	redisKey := redisKeyPrefix + recordID(key)
	claimed, err := s.client.SetNX(ctx, redisKey, payload, ttl).Result()
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: reserve key: %w", err)
	}
	if claimed {
		return Reservation{State: ReservationStateNew, Record: record}, nil
	}

	raw, err := s.client.Get(ctx, redisKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Record expired between SETNX and GET; treat as a fresh claim.
			return s.Reserve(ctx, key, fingerprint, now, ttl)
		}
		return Reservation{}, fmt.Errorf("idempotency: load record: %w", err)
	}

	var existing Record
	if err := json.Unmarshal(raw, &existing); err != nil {
		return Reservation{}, fmt.Errorf("idempotency: decode record: %w", err)
	}
	if existing.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if existing.Status == StatusCompleted {
		return Reservation{State: ReservationStateCompleted, Record: existing}, nil
	}
	return Reservation{State: ReservationStatePending, Record: existing}, nil
}

// SaveResponse implements the Store interface.
func (s *RedisStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	record := Record{
		Key:             key,
		Fingerprint:     fingerprint,
		Status:          StatusCompleted,
		ResponseStatus:  resp.Status,
		ResponseHeaders: sanitizeHeaders(resp.Headers),
		CreatedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       now.Add(ttl),
	}
	if len(resp.Body) > 0 {
		record.ResponseBody = append([]byte(nil), resp.Body...)
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("idempotency: marshal record: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+recordID(key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: save response: %w", err)
	}
	return nil
}

// Release implements the Store interface; only pending reservations owned by
// the same fingerprint are removed.
func (s *RedisStore) Release(ctx context.Context, key, fingerprint string) error {
	redisKey := redisKeyPrefix + recordID(key)
	raw, err := s.client.Get(ctx, redisKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("idempotency: load record: %w", err)
	}

	var existing Record
	if err := json.Unmarshal(raw, &existing); err != nil {
		return fmt.Errorf("idempotency: decode record: %w", err)
	}
	if existing.Fingerprint != fingerprint || existing.Status != StatusPending {
		return nil
	}
	if err := s.client.Del(ctx, redisKey).Err(); err != nil {
		return fmt.Errorf("idempotency: release key: %w", err)
	}
	return nil
}
