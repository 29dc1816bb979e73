package cache

import (
	"context"
	"time"

	"github.com/annel0/inventory-grid/internal/logging"
	"github.com/annel0/inventory-grid/internal/storage"
)

// Options выбирают уровень кеша и рассылку инвалидаций
type Options struct {
	RedisAddr     string // пусто — кеш в памяти процесса
	RedisPassword string
	TTL           time.Duration
	MaxCostBytes  int64
	NATSURL       string // пусто — без рассылки инвалидаций
}

// Wrap ставит кеш перед repo. При ошибке repo не закрывается.
func Wrap(ctx context.Context, repo storage.SnapshotRepo, opts Options, nodeID string) (*SnapshotCache, error) {
	var (
		c   Cache
		err error
	)
	if opts.RedisAddr != "" {
		c, err = NewRedisCache(ctx, RedisConfig{Addr: opts.RedisAddr, Password: opts.RedisPassword, MaxTTL: opts.TTL})
	} else {
		c, err = NewLocalCache(LocalConfig{MaxCostBytes: opts.MaxCostBytes})
	}
	if err != nil {
		return nil, err
	}

	var inv Invalidator
	if opts.NATSURL != "" {
		if inv, err = NewNATSInvalidator(InvalidatorConfig{NATSURL: opts.NATSURL}, nodeID); err != nil {
			c.Close()
			return nil, err
		}
	}

	sc, err := NewSnapshotCache(ctx, repo, c, inv, opts.TTL)
	if err != nil {
		if inv != nil {
			inv.Close()
		}
		c.Close()
		return nil, err
	}
	logging.GetStorageLogger().Info("🧊 Кеш снимков: redis=%q, nats=%q, ttl=%v", opts.RedisAddr, opts.NATSURL, opts.TTL)
	return sc, nil
}
