package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/inventory-grid/internal/logging"
)

// RedisConfig настраивает общий кеш в Redis
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string        // по умолчанию "invcache:"
	MaxTTL    time.Duration // верхняя граница TTL, по умолчанию час
}

// RedisCache — кеш, общий для всех узлов
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	maxTTL time.Duration
	owns   bool

	hits   atomic.Int64
	misses atomic.Int64
}

// NewRedisCache подключается к Redis и проверяет соединение
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	c := NewRedisCacheWithClient(rdb, cfg.KeyPrefix, cfg.MaxTTL)
	c.owns = true
	logging.GetStorageLogger().Info("Redis cache initialized: %s", cfg.Addr)
	return c, nil
}

// NewRedisCacheWithClient использует готовый клиент; Close его не закрывает
func NewRedisCacheWithClient(client redis.UniversalClient, prefix string, maxTTL time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "invcache:"
	}
	if maxTTL <= 0 {
		maxTTL = time.Hour
	}
	return &RedisCache{client: client, prefix: prefix, maxTTL: maxTTL}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	switch {
	case err == nil:
		r.hits.Add(1)
		return val, nil
	case errors.Is(err, redis.Nil):
		r.misses.Add(1)
		return nil, ErrCacheMiss
	default:
		r.misses.Add(1)
		return nil, fmt.Errorf("redis get error: %w", err)
	}
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 || ttl > r.maxTTL {
		ttl = r.maxTTL
	}
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis delete error: %w", err)
	}
	return nil
}

func (r *RedisCache) Metrics() Metrics {
	return newMetrics(r.hits.Load(), r.misses.Load())
}

func (r *RedisCache) Close() error {
	if r.owns {
		return r.client.Close()
	}
	return nil
}
