package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/inventory-grid/internal/inventory"
	"github.com/annel0/inventory-grid/internal/spatial"
	"github.com/annel0/inventory-grid/internal/storage"
	"github.com/annel0/inventory-grid/internal/vec"
)

// loopInvalidator соединяет узлы в пределах процесса
type loopInvalidator struct {
	mu     sync.Mutex
	nodes  map[string]InvalidationHandler
	node   string
	shared *loopInvalidator
	sent   []string
	closed bool
}

func newLoop() *loopInvalidator {
	return &loopInvalidator{nodes: make(map[string]InvalidationHandler)}
}

func (l *loopInvalidator) forNode(node string) *loopInvalidator {
	return &loopInvalidator{node: node, shared: l}
}

func (l *loopInvalidator) PublishInvalidation(_ context.Context, key string) error {
	l.shared.mu.Lock()
	l.shared.sent = append(l.shared.sent, l.node+":"+key)
	handlers := make([]InvalidationHandler, 0, len(l.shared.nodes))
	for node, h := range l.shared.nodes {
		if node != l.node {
			handlers = append(handlers, h)
		}
	}
	l.shared.mu.Unlock()
	for _, h := range handlers {
		if err := h(key); err != nil {
			return err
		}
	}
	return nil
}

func (l *loopInvalidator) SubscribeInvalidations(_ context.Context, h InvalidationHandler) error {
	l.shared.mu.Lock()
	defer l.shared.mu.Unlock()
	l.shared.nodes[l.node] = h
	return nil
}

func (l *loopInvalidator) Close() error {
	l.shared.mu.Lock()
	defer l.shared.mu.Unlock()
	delete(l.shared.nodes, l.node)
	l.closed = true
	return nil
}

func record(id string, width int) *storage.InventoryRecord {
	return &storage.InventoryRecord{
		ID:      id,
		Entries: []inventory.EntryRecord{},
		Grid:    spatial.Snapshot{Size: vec.Vec2{X: width, Y: 2}},
	}
}

func newLocal(t *testing.T) *LocalCache {
	t.Helper()
	c, err := NewLocalCache(LocalConfig{})
	require.NoError(t, err)
	return c
}

func TestLocalCache(t *testing.T) {
	ctx := context.Background()
	c := newLocal(t)
	defer c.Close()

	_, err := c.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))

	value := []byte("снимок")
	require.NoError(t, c.Set(ctx, "k", value, 0))
	value[0] = 'X'

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "снимок", string(got), "Кеш хранит копию")

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	m := c.Metrics()
	assert.Equal(t, int64(3), m.Requests)
	assert.Equal(t, int64(1), m.Hits)
	assert.InDelta(t, 1.0/3, m.HitRatio, 1e-9)
}

func TestSnapshotCacheReadThrough(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemorySnapshotRepo()
	require.NoError(t, repo.Save(ctx, record("inv-1", 3)))

	sc, err := NewSnapshotCache(ctx, repo, newLocal(t), nil, time.Minute)
	require.NoError(t, err)
	defer sc.Close()

	rec, err := sc.Load(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Grid.Size.X)

	// в обход кеша: повторная загрузка отдаёт закешированный снимок
	require.NoError(t, repo.Save(ctx, record("inv-1", 5)))
	rec, err = sc.Load(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Grid.Size.X)
	assert.Equal(t, int64(1), sc.Metrics().Hits)

	require.NoError(t, sc.Save(ctx, record("inv-1", 7)))
	rec, err = sc.Load(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, 7, rec.Grid.Size.X, "Save обновляет кеш")
	assert.False(t, rec.SavedAt.IsZero())

	_, err = sc.Load(ctx, "inv-404")
	assert.ErrorIs(t, err, storage.ErrSnapshotNotFound)

	require.NoError(t, sc.Delete(ctx, "inv-1"))
	_, err = sc.Load(ctx, "inv-1")
	assert.ErrorIs(t, err, storage.ErrSnapshotNotFound)
	assert.ErrorIs(t, sc.Delete(ctx, "inv-1"), storage.ErrSnapshotNotFound)

	ids, err := sc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSnapshotCacheInvalidatesOtherNodes(t *testing.T) {
	ctx := context.Background()
	repo := storage.NewMemorySnapshotRepo()
	loop := newLoop()
	invA, invB := loop.forNode("a"), loop.forNode("b")

	nodeA, err := NewSnapshotCache(ctx, repo, newLocal(t), invA, time.Minute)
	require.NoError(t, err)
	nodeB, err := NewSnapshotCache(ctx, repo, newLocal(t), invB, time.Minute)
	require.NoError(t, err)

	require.NoError(t, nodeA.Save(ctx, record("inv-1", 3)))
	rec, err := nodeB.Load(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, 3, rec.Grid.Size.X)

	require.NoError(t, nodeA.Save(ctx, record("inv-1", 4)))
	rec, err = nodeB.Load(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, 4, rec.Grid.Size.X, "Узел B сбросил устаревший снимок")

	assert.Equal(t, []string{"a:inv-1", "a:inv-1"}, loop.sent)

	require.NoError(t, nodeA.Close())
	assert.True(t, invA.closed)
	require.NoError(t, nodeB.Close())
}
