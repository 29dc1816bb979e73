package cache

import (
	"context"
	"errors"
	"time"
)

// Cache — быстрый слой перед хранилищем снимков.
//
// Использование:
//
//	c, _ := NewLocalCache(LocalConfig{})
//	data, err := c.Get(ctx, "inv-1")
//	err = c.Set(ctx, "inv-1", data, 30*time.Second)
type Cache interface {
	// Get возвращает значение или ErrCacheMiss
	Get(ctx context.Context, key string) ([]byte, error)

	// Set сохраняет значение. ttl = 0 — без истечения.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete убирает ключ. Отсутствие ключа ошибкой не считается.
	Delete(ctx context.Context, key string) error

	Metrics() Metrics
	Close() error
}

// Invalidator рассылает и принимает уведомления об устаревших ключах
// между узлами.
type Invalidator interface {
	PublishInvalidation(ctx context.Context, key string) error
	SubscribeInvalidations(ctx context.Context, handler InvalidationHandler) error
	Close() error
}

// InvalidationHandler обрабатывает уведомление об инвалидации
type InvalidationHandler func(key string) error

// Metrics — счётчики обращений к кешу
type Metrics struct {
	Requests int64   `json:"requests"`
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	HitRatio float64 `json:"hit_ratio"`
}

// ErrCacheMiss — ключа нет в кеше
var ErrCacheMiss = errors.New("cache miss")

// IsCacheMiss проверяет, является ли ошибка промахом кеша
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

func newMetrics(hits, misses int64) Metrics {
	m := Metrics{Requests: hits + misses, Hits: hits, Misses: misses}
	if m.Requests > 0 {
		m.HitRatio = float64(hits) / float64(m.Requests)
	}
	return m
}
