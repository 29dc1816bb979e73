package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/annel0/inventory-grid/internal/logging"
)

// RedisConfig содержит настройки подключения к Redis
type RedisConfig struct {
	Addr      string        // Адрес Redis сервера
	Password  string        // Пароль (пустой если не требуется)
	DB        int           // Номер базы данных
	KeyPrefix string        // Префикс для ключей
	TTL       time.Duration // Время жизни снимков, 0 — без ограничения
}

// DefaultRedisConfig возвращает конфигурацию по умолчанию
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "inventory:snap:",
	}
}

// RedisSnapshotRepo хранит снимки в Redis. Идентификаторы сохранённых
// инвентарей дополнительно хранятся в множестве <prefix>ids.
type RedisSnapshotRepo struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisSnapshotRepo подключается к Redis и проверяет соединение
func NewRedisSnapshotRepo(ctx context.Context, config *RedisConfig) (*RedisSnapshotRepo, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Info("🔴 Connected to Redis at %s", config.Addr)
	return NewRedisSnapshotRepoWithClient(client, config.KeyPrefix, config.TTL), nil
}

// NewRedisSnapshotRepoWithClient использует готовый клиент
func NewRedisSnapshotRepoWithClient(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisSnapshotRepo {
	if keyPrefix == "" {
		keyPrefix = DefaultRedisConfig().KeyPrefix
	}
	return &RedisSnapshotRepo{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

func (r *RedisSnapshotRepo) key(id string) string { return r.keyPrefix + id }
func (r *RedisSnapshotRepo) idsKey() string       { return r.keyPrefix + "ids" }

func (r *RedisSnapshotRepo) Save(ctx context.Context, rec *InventoryRecord) (err error) {
	if err := validateRecord(rec); err != nil {
		return err
	}
	ctx, span := startSpan(ctx, "redis", "save", rec.ID)
	defer func() { endSpan(span, err) }()

	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key(rec.ID), data, r.ttl)
		pipe.SAdd(ctx, r.idsKey(), rec.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", rec.ID, err)
	}
	return nil
}

func (r *RedisSnapshotRepo) Load(ctx context.Context, id string) (rec *InventoryRecord, err error) {
	ctx, span := startSpan(ctx, "redis", "load", id)
	defer func() { endSpan(span, err) }()

	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot %s: %w", id, err)
	}
	return decodeRecord(id, data)
}

func (r *RedisSnapshotRepo) Delete(ctx context.Context, id string) (err error) {
	ctx, span := startSpan(ctx, "redis", "delete", id)
	defer func() { endSpan(span, err) }()

	var del *redis.IntCmd
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, r.key(id))
		pipe.SRem(ctx, r.idsKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", id, err)
	}
	if del.Val() == 0 {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	return nil
}

// List возвращает идентификаторы из множества, пропуская истёкшие по TTL
func (r *RedisSnapshotRepo) List(ctx context.Context) (ids []string, err error) {
	ctx, span := startSpan(ctx, "redis", "list", "")
	defer func() { endSpan(span, err) }()

	members, err := r.client.SMembers(ctx, r.idsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	if len(members) == 0 {
		return []string{}, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.IntCmd, len(members))
	for i, id := range members {
		cmds[i] = pipe.Exists(ctx, r.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to check snapshots: %w", err)
	}

	ids = make([]string, 0, len(members))
	var expired []interface{}
	for i, cmd := range cmds {
		if cmd.Val() > 0 {
			ids = append(ids, members[i])
		} else {
			expired = append(expired, members[i])
		}
	}
	if len(expired) > 0 {
		if err := r.client.SRem(ctx, r.idsKey(), expired...).Err(); err != nil {
			logging.GetStorageLogger().Warn("Redis: не удалось убрать истёкшие снимки из индекса: %v", err)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Close закрывает соединение с Redis
func (r *RedisSnapshotRepo) Close() error {
	return r.client.Close()
}
