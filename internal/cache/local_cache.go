package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
)

// LocalConfig настраивает кеш в памяти процесса
type LocalConfig struct {
	MaxCostBytes int64 // суммарный размер значений, по умолчанию 64 МиБ
	NumCounters  int64 // счётчики TinyLFU, по умолчанию 10× ожидаемого числа ключей
}

// LocalCache — кеш в памяти процесса на ristretto
type LocalCache struct {
	rc     *ristretto.Cache
	hits   atomic.Int64
	misses atomic.Int64
}

// NewLocalCache создаёт кеш в памяти
func NewLocalCache(cfg LocalConfig) (*LocalCache, error) {
	if cfg.MaxCostBytes <= 0 {
		cfg.MaxCostBytes = 64 << 20
	}
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = 100_000
	}
	rc, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto: %w", err)
	}
	return &LocalCache{rc: rc}, nil
}

func (l *LocalCache) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := l.rc.Get(key)
	if !ok {
		l.misses.Add(1)
		return nil, ErrCacheMiss
	}
	l.hits.Add(1)
	return v.([]byte), nil
}

// Set сохраняет копию value. Запись становится видимой после обработки
// буфера ristretto, поэтому Set дожидается её.
func (l *LocalCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	data := append([]byte(nil), value...)
	l.rc.SetWithTTL(key, data, int64(len(data))+int64(len(key)), ttl)
	l.rc.Wait()
	return nil
}

func (l *LocalCache) Delete(_ context.Context, key string) error {
	l.rc.Del(key)
	return nil
}

func (l *LocalCache) Metrics() Metrics {
	return newMetrics(l.hits.Load(), l.misses.Load())
}

func (l *LocalCache) Close() error {
	l.rc.Close()
	return nil
}
