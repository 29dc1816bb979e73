package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemorySnapshotRepo хранит снимки в памяти. Используется для тестов
// и режима без внешнего хранилища.
type MemorySnapshotRepo struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemorySnapshotRepo создаёт пустой репозиторий в памяти
func NewMemorySnapshotRepo() *MemorySnapshotRepo {
	return &MemorySnapshotRepo{data: make(map[string][]byte)}
}

// Save сохраняет копию снимка. Последующие изменения rec на сохранённое не влияют.
func (r *MemorySnapshotRepo) Save(ctx context.Context, rec *InventoryRecord) (err error) {
	if err := validateRecord(rec); err != nil {
		return err
	}
	_, span := startSpan(ctx, "memory", "save", rec.ID)
	defer func() { endSpan(span, err) }()

	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.data[rec.ID] = data
	r.mu.Unlock()
	return nil
}

func (r *MemorySnapshotRepo) Load(ctx context.Context, id string) (rec *InventoryRecord, err error) {
	_, span := startSpan(ctx, "memory", "load", id)
	defer func() { endSpan(span, err) }()

	r.mu.RLock()
	data, ok := r.data[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	return decodeRecord(id, data)
}

func (r *MemorySnapshotRepo) Delete(ctx context.Context, id string) (err error) {
	_, span := startSpan(ctx, "memory", "delete", id)
	defer func() { endSpan(span, err) }()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[id]; !ok {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	delete(r.data, id)
	return nil
}

func (r *MemorySnapshotRepo) List(ctx context.Context) ([]string, error) {
	_, span := startSpan(ctx, "memory", "list", "")
	defer span.End()

	r.mu.RLock()
	ids := make([]string, 0, len(r.data))
	for id := range r.data {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids, nil
}

// Count возвращает количество сохранённых снимков
func (r *MemorySnapshotRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

func (r *MemorySnapshotRepo) Close() error { return nil }
