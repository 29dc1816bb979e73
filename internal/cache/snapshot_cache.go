package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/annel0/inventory-grid/internal/logging"
	"github.com/annel0/inventory-grid/internal/storage"
)

var _ storage.SnapshotRepo = (*SnapshotCache)(nil)

// SnapshotCache — read-through/write-through кеш поверх SnapshotRepo.
// Save и Delete сначала меняют хранилище, затем сбрасывают ключ и
// уведомляют остальные узлы через Invalidator.
type SnapshotCache struct {
	repo        storage.SnapshotRepo
	cache       Cache
	invalidator Invalidator
	ttl         time.Duration
	log         *logging.Logger
}

// NewSnapshotCache оборачивает repo. invalidator может быть nil.
// Если он задан, подписка на чужие инвалидации живёт до отмены ctx или Close.
func NewSnapshotCache(ctx context.Context, repo storage.SnapshotRepo, c Cache, invalidator Invalidator, ttl time.Duration) (*SnapshotCache, error) {
	sc := &SnapshotCache{
		repo:        repo,
		cache:       c,
		invalidator: invalidator,
		ttl:         ttl,
		log:         logging.GetStorageLogger(),
	}
	if invalidator != nil {
		err := invalidator.SubscribeInvalidations(ctx, func(key string) error {
			return c.Delete(context.Background(), key)
		})
		if err != nil {
			return nil, err
		}
	}
	return sc, nil
}

func (sc *SnapshotCache) Load(ctx context.Context, id string) (*storage.InventoryRecord, error) {
	data, err := sc.cache.Get(ctx, id)
	if err == nil {
		var rec storage.InventoryRecord
		if err := json.Unmarshal(data, &rec); err == nil {
			return &rec, nil
		}
		sc.log.Warn("кеш: повреждённый снимок %s, читаю из хранилища", id)
	} else if !IsCacheMiss(err) {
		sc.log.Warn("кеш: %s: %v", id, err)
	}

	rec, err := sc.repo.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	sc.fill(ctx, rec)
	return rec, nil
}

func (sc *SnapshotCache) Save(ctx context.Context, rec *storage.InventoryRecord) error {
	if err := sc.repo.Save(ctx, rec); err != nil {
		return err
	}
	sc.fill(ctx, rec)
	sc.publish(ctx, rec.ID)
	return nil
}

func (sc *SnapshotCache) Delete(ctx context.Context, id string) error {
	err := sc.repo.Delete(ctx, id)
	if err != nil && !errors.Is(err, storage.ErrSnapshotNotFound) {
		return err
	}
	if derr := sc.cache.Delete(ctx, id); derr != nil {
		sc.log.Warn("кеш: удаление %s: %v", id, derr)
	}
	sc.publish(ctx, id)
	return err
}

func (sc *SnapshotCache) List(ctx context.Context) ([]string, error) {
	return sc.repo.List(ctx)
}

// Metrics возвращает счётчики кеша
func (sc *SnapshotCache) Metrics() Metrics { return sc.cache.Metrics() }

// Close закрывает кеш, рассылку и хранилище
func (sc *SnapshotCache) Close() error {
	var errs []error
	if sc.invalidator != nil {
		errs = append(errs, sc.invalidator.Close())
	}
	errs = append(errs, sc.cache.Close(), sc.repo.Close())
	return errors.Join(errs...)
}

func (sc *SnapshotCache) fill(ctx context.Context, rec *storage.InventoryRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		sc.log.Warn("кеш: сериализация %s: %v", rec.ID, err)
		return
	}
	if err := sc.cache.Set(ctx, rec.ID, data, sc.ttl); err != nil {
		sc.log.Warn("кеш: запись %s: %v", rec.ID, err)
	}
}

func (sc *SnapshotCache) publish(ctx context.Context, id string) {
	if sc.invalidator == nil {
		return
	}
	if err := sc.invalidator.PublishInvalidation(ctx, id); err != nil {
		sc.log.Warn("кеш: инвалидация %s: %v", id, err)
	}
}
