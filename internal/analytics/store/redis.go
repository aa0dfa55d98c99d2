package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"

	"github.com/smallbiznis/memberly/internal/clock"
)

type redisStore struct {
	client    *redis.Client
	clock     clock.Clock
	retention time.Duration
}

// redisEnvelope carries the write time alongside the value so freshness
// stays a caller decision rather than a redis TTL.
type redisEnvelope struct {
	UpdatedAt time.Time       `json:"updated_at"`
	Value     json.RawMessage `json:"value"`
}

// NewRedisStore keeps cache entries in redis. Entries expire at twice the
// retention horizon purely as housekeeping; staleness within that window is
// still judged by the caller.
func NewRedisStore(client *redis.Client, clk clock.Clock, retention time.Duration) Store {
	return &redisStore{client: client, clock: clk, retention: retention}
}

func redisKey(orgID snowflake.ID, key string) string {
	return "analytics:" + scopedKey(orgID, key)
}

func (s *redisStore) Get(ctx context.Context, orgID snowflake.ID, key string) (*Entry, error) {
	raw, err := s.client.Get(ctx, redisKey(orgID, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var envelope redisEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		// A corrupt entry behaves like a miss and gets overwritten whole.
		return nil, nil
	}
	return &Entry{Value: envelope.Value, UpdatedAt: envelope.UpdatedAt}, nil
}

func (s *redisStore) Put(ctx context.Context, orgID snowflake.ID, key string, value []byte) error {
	envelope, err := json.Marshal(redisEnvelope{
		UpdatedAt: s.clock.Now().UTC(),
		Value:     value,
	})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, redisKey(orgID, key), envelope, 2*s.retention).Err()
}
