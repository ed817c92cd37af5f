package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/Pairing/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const keyPrefix = "pairing:code:"

// Redis shares code reservations between relay instances.
type Redis struct {
	client *redis.Client
}

func NewRedis(ctx context.Context, redisURL string) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	log.Info().Str("module", "store.redis").Str("addr", opt.Addr).Msg("connected")
	return &Redis{client: client}, nil
}

func (r *Redis) Reserve(ctx context.Context, code domain.SessionCode, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, keyPrefix+string(code), "1", ttl).Result()
}

func (r *Redis) Exists(ctx context.Context, code domain.SessionCode) (bool, error) {
	n, err := r.client.Exists(ctx, keyPrefix+string(code)).Result()
	return n > 0, err
}

func (r *Redis) Release(ctx context.Context, code domain.SessionCode) error {
	return r.client.Del(ctx, keyPrefix+string(code)).Err()
}

func (r *Redis) Close() error { return r.client.Close() }
