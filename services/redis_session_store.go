package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	sessionKeyPrefix  = "oncall:roster_session:"
	maxSessionRetries = 10
)

// RedisSessionStore shares roster sessions across bot replicas. Updates use
// WATCH/MULTI so concurrent presses by the same actor serialize.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ SessionStore = (*RedisSessionStore)(nil)

// NewRedisSessionStore creates the store. ttl of zero keeps abandoned sessions forever.
func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{client: client, ttl: ttl}
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func sessionKey(actorID int64) string {
	return sessionKeyPrefix + strconv.FormatInt(actorID, 10)
}

func (r *RedisSessionStore) Put(ctx context.Context, s RosterSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := r.client.Set(ctx, sessionKey(s.ActorID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (r *RedisSessionStore) Get(ctx context.Context, actorID int64) (*RosterSession, error) {
	raw, err := r.client.Get(ctx, sessionKey(actorID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	var s RosterSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &s, nil
}

func (r *RedisSessionStore) Update(ctx context.Context, actorID int64, fn func(s *RosterSession) bool) (bool, error) {
	key := sessionKey(actorID)
	var found bool

	txf := func(tx *redis.Tx) error {
		found = false
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var s RosterSession
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("failed to decode session: %w", err)
		}
		found = true

		keep := fn(&s)
		var data []byte
		if keep {
			if data, err = json.Marshal(s); err != nil {
				return fmt.Errorf("failed to encode session: %w", err)
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if keep {
				pipe.Set(ctx, key, data, r.ttl)
			} else {
				pipe.Del(ctx, key)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxSessionRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("failed to update session: %w", err)
		}
		return found, nil
	}
	return false, fmt.Errorf("failed to update session: too much contention")
}

func (r *RedisSessionStore) Delete(ctx context.Context, actorID int64) error {
	if err := r.client.Del(ctx, sessionKey(actorID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
