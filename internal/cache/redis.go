package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/andresuchdata/controltower/internal/config"
	"github.com/redis/go-redis/v9"
)

const (
	scanCount   = 100
	pingTimeout = 5 * time.Second
)

// keyspace stores JSON values of type T under prefix with a fixed TTL.
type keyspace[T any] struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// openKeyspace connects to the configured redis and pings it. A non-positive
// ttl falls back to def.
func openKeyspace[T any](cfg config.CacheConfig, prefix string, ttl, def time.Duration) (*keyspace[T], error) {
	opts, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}

	if ttl <= 0 {
		ttl = def
	}
	return &keyspace[T]{client: client, prefix: prefix, ttl: ttl}, nil
}

func (k *keyspace[T]) key(name string) string {
	return k.prefix + ":" + name
}

func (k *keyspace[T]) get(ctx context.Context, name string) (T, bool, error) {
	var v T
	payload, err := k.client.Get(ctx, k.key(name)).Bytes()
	if err == redis.Nil {
		return v, false, nil
	}
	if err != nil {
		return v, false, fmt.Errorf("redis get %s: %w", k.key(name), err)
	}
	if err := json.Unmarshal(payload, &v); err != nil {
		return v, false, fmt.Errorf("decode %s: %w", k.key(name), err)
	}
	return v, true, nil
}

func (k *keyspace[T]) set(ctx context.Context, name string, v T) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", k.key(name), err)
	}
	if err := k.client.Set(ctx, k.key(name), payload, k.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", k.key(name), err)
	}
	return nil
}

// purge unlinks every key under the prefix.
func (k *keyspace[T]) purge(ctx context.Context) error {
	iter := k.client.Scan(ctx, 0, k.prefix+":*", scanCount).Iterator()
	batch := make([]string, 0, scanCount)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanCount {
			if err := k.client.Unlink(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis unlink: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan %s: %w", k.prefix, err)
	}
	if len(batch) > 0 {
		if err := k.client.Unlink(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis unlink: %w", err)
		}
	}
	return nil
}

// redisOptions prefers REDIS_URL and otherwise builds an address from the
// discrete settings.
func redisOptions(cfg config.CacheConfig) (*redis.Options, error) {
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		return opts, nil
	}

	host, port := cfg.RedisHost, cfg.RedisPort
	if host == "" {
		host = "127.0.0.1"
	}
	if port == "" {
		port = "6379"
	}
	return &redis.Options{
		Addr:     net.JoinHostPort(host, port),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, nil
}
