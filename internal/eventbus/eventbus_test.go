package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/inventory-grid/internal/grid"
	"github.com/annel0/inventory-grid/internal/inventory"
	"github.com/annel0/inventory-grid/internal/spatial"
	"github.com/annel0/inventory-grid/internal/vec"
)

// collector собирает доставленные конверты
type collector struct {
	mu     sync.Mutex
	events []*Envelope
}

func (c *collector) handle(_ context.Context, ev *Envelope) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, ev := range c.events {
		out[i] = ev.EventType
	}
	return out
}

func TestMemoryBusDeliversInOrder(t *testing.T) {
	bus := NewMemoryBus(16)
	ctx := context.Background()

	all, added := &collector{}, &collector{}
	_, err := bus.Subscribe(ctx, Filter{}, all.handle)
	require.NoError(t, err)
	_, err = bus.Subscribe(ctx, Filter{Types: []string{TypeGridItemAdded}, Tenants: []string{"inv-1"}}, added.handle)
	require.NoError(t, err)

	for _, typ := range []string{TypeGridItemAdded, TypeGridItemChanged, TypeGridItemAdded} {
		env := NewEnvelope("test", typ, nil)
		env.Tenant = "inv-1"
		require.NoError(t, bus.Publish(ctx, env))
	}
	other := NewEnvelope("test", TypeGridItemAdded, nil)
	other.Tenant = "inv-2"
	require.NoError(t, bus.Publish(ctx, other))

	require.NoError(t, bus.Close())

	assert.Equal(t, []string{TypeGridItemAdded, TypeGridItemChanged, TypeGridItemAdded, TypeGridItemAdded}, all.types())
	assert.Len(t, added.types(), 2, "Фильтр по типу и инвентарю")

	stats := bus.Metrics()
	assert.Equal(t, uint64(4), stats.Published)
	assert.Equal(t, uint64(6), stats.Consumed)
	assert.Equal(t, 0, stats.InFlight)
}

func TestMemoryBusDropsLowPriorityWhenFull(t *testing.T) {
	bus := NewMemoryBus(1)
	ctx := context.Background()

	started := make(chan struct{}, 4)
	release := make(chan struct{})
	_, err := bus.Subscribe(ctx, Filter{}, func(context.Context, *Envelope) {
		started <- struct{}{}
		<-release
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, NewEnvelope("test", TypeGridItemAdded, nil)))
	<-started // обработчик занят первым событием
	require.NoError(t, bus.Publish(ctx, NewEnvelope("test", TypeGridItemAdded, nil)))

	low := NewEnvelope("test", TypeGridItemChanged, nil)
	low.Priority = PriorityLow
	require.NoError(t, bus.Publish(ctx, low), "Низкий приоритет отбрасывается без ошибки")

	high := NewEnvelope("test", TypeGridResized, nil)
	high.Priority = PriorityHigh
	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, bus.Publish(tctx, high), context.DeadlineExceeded, "Высокий приоритет ждёт места до отмены контекста")

	assert.Equal(t, uint64(1), bus.Metrics().Dropped)
	close(release)
	require.NoError(t, bus.Close())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewMemoryBus(4)
	ctx := context.Background()
	c := &collector{}
	sub, err := bus.Subscribe(ctx, Filter{}, c.handle)
	require.NoError(t, err)
	sub.Unsubscribe()

	require.NoError(t, bus.Publish(ctx, NewEnvelope("test", TypeGridDelta, nil)))
	require.NoError(t, bus.Close())
	assert.Empty(t, c.types())
}

func TestEnvelopeJSON(t *testing.T) {
	env := NewEnvelope("inventory-grid", TypeGridResized, []byte(`{"width":3}`))
	env.Tenant = "inv-1"
	assert.NotEmpty(t, env.ID)
	assert.Equal(t, time.UTC, env.Timestamp.Location())

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"event_type":"GridResized"`)

	var back Envelope
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, env.ID, back.ID)
	assert.Equal(t, env.Payload, back.Payload)
}

func TestGridPublisher(t *testing.T) {
	bus := NewMemoryBus(64)
	c := &collector{}
	_, err := bus.Subscribe(context.Background(), Filter{Tenants: []string{"inv-7"}}, c.handle)
	require.NoError(t, err)

	g := spatial.NewGridExtension(vec.Vec2{X: 3, Y: 3})
	pub := NewGridPublisher(bus, "test", "inv-7", g, 16)
	g.Subscribe(pub)

	k := inventory.Key{Entry: 1, Stack: 1}
	require.True(t, g.AddItemToGrid(k, grid.MakeRect(1, 2)))
	require.True(t, g.MoveItem(k, vec.Vec2{X: 1, Y: 2}))
	require.True(t, g.SetGridSize(vec.Vec2{X: 4, Y: 4}))
	require.True(t, g.RemoveItem(k))

	pub.Close()
	require.NoError(t, bus.Close())

	assert.Equal(t, []string{TypeGridItemAdded, TypeGridItemChanged, TypeGridResized, TypeGridItemRemoved}, c.types())

	var moved GridItemPayload
	require.NoError(t, json.Unmarshal(c.events[1].Payload, &moved))
	assert.Equal(t, GridItemPayload{Inventory: "inv-7", Entry: 1, Stack: 1, X: 1, Y: 2}, moved)

	var removed GridItemPayload
	require.NoError(t, json.Unmarshal(c.events[3].Payload, &removed))
	assert.Equal(t, 1, removed.X, "Удаление публикуется с последним размещением")

	var resized GridResizedPayload
	require.NoError(t, json.Unmarshal(c.events[2].Payload, &resized))
	assert.Equal(t, GridResizedPayload{Inventory: "inv-7", Width: 4, Height: 4}, resized)
	assert.Equal(t, PriorityHigh, c.events[2].Priority)

	assert.Zero(t, pub.Dropped())
	pub.GridSizeChanged(vec.Vec2{X: 1, Y: 1}) // после Close событие игнорируется
}

func TestMetricsExporterCollect(t *testing.T) {
	bus := NewMemoryBus(8)
	reg := prometheus.NewRegistry()
	me := NewMetricsExporter(bus, reg)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(ctx, NewEnvelope("test", TypeGridDelta, nil)))
	}
	require.NoError(t, bus.Close())

	me.Collect()
	assert.Equal(t, 3.0, testutil.ToFloat64(me.published))
	me.Collect()
	assert.Equal(t, 3.0, testutil.ToFloat64(me.published), "Повторный сбор не удваивает счётчик")
	assert.Equal(t, 0.0, testutil.ToFloat64(me.inflight))
}
