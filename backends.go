package goSession

import (
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goSession/session"
)

// NewRedisClient opens a go-redis client for cfg.Addr.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
	})
}

// NewRedisStore builds a session.RedisStore from cfg on an existing client.
func NewRedisStore(client redis.UniversalClient, cfg RedisConfig) *session.RedisStore {
	return session.NewRedisStore(client, cfg.Prefix, cfg.TTLGrace, cfg.MaxRetries)
}
