package convstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chatd/pkg/types"
)

const (
	redisKeyPrefix   = "conversation:"
	redisDialTimeout = 5 * time.Second
)

// Redis keeps conversations in a Redis instance, one JSON value per key.
// Update runs under WATCH so concurrent writers from several daemons cannot
// silently overwrite each other.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects and pings the server before returning.
func NewRedis(addr, password string, db int, ttl time.Duration) (*Redis, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis store: address required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis store: ping %s: %w", addr, err)
	}
	return &Redis{client: client, ttl: ttl}, nil
}

func redisKey(id string) string { return redisKeyPrefix + id }

func (r *Redis) Create(ctx context.Context, conv *types.Conversation) error {
	conv.Version = 1
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("redis store: encode %s: %w", conv.ID, err)
	}
	if err := r.client.Set(ctx, redisKey(conv.ID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis store: set %s: %w", conv.ID, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, id string) (*types.Conversation, error) {
	data, err := r.client.Get(ctx, redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis store: get %s: %w", id, err)
	}
	var conv types.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("redis store: decode %s: %w", id, err)
	}
	// Reading a conversation keeps it alive.
	if r.ttl > 0 {
		r.client.Expire(ctx, redisKey(id), r.ttl)
	}
	return &conv, nil
}

func (r *Redis) Update(ctx context.Context, conv *types.Conversation) error {
	key := redisKey(conv.ID)

	apply := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var stored types.Conversation
		if err := json.Unmarshal(data, &stored); err != nil {
			return fmt.Errorf("decode stored: %w", err)
		}
		if stored.Version != conv.Version {
			return ErrVersionConflict
		}
		conv.Version++
		conv.UpdatedAt = time.Now().UTC()
		next, err := json.Marshal(conv)
		if err != nil {
			return fmt.Errorf("encode: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, r.ttl)
			return nil
		})
		return err
	}

	err := r.client.Watch(ctx, apply, key)
	switch {
	case errors.Is(err, redis.TxFailedErr):
		// Another writer touched the key between WATCH and EXEC, so the
		// caller's version is stale either way.
		return ErrVersionConflict
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrVersionConflict), err == nil:
		return err
	default:
		return fmt.Errorf("redis store: update %s: %w", conv.ID, err)
	}
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, redisKey(id)).Err(); err != nil {
		return fmt.Errorf("redis store: delete %s: %w", id, err)
	}
	return nil
}

func (r *Redis) Close() error { return r.client.Close() }
