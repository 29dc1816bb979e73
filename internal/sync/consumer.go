package sync

import (
	"context"
	"sort"
	"sync"

	"github.com/annel0/inventory-grid/internal/eventbus"
	"github.com/annel0/inventory-grid/internal/logging"
	"github.com/annel0/inventory-grid/internal/spatial"
	"github.com/annel0/inventory-grid/internal/vec"
)

// ReplicaConsumer слушает SyncBatch и воспроизводит дельты на репликах сеток,
// по одной на инвентарь. Реплика создаётся при первой дельте.
type ReplicaConsumer struct {
	sub        eventbus.Subscription
	compressor DeltaCompressor

	mu       sync.RWMutex
	replicas map[string]*replica
	gaps     uint64
	log      *logging.Logger
}

type replica struct {
	grid    *spatial.GridExtension
	lastSeq uint64
}

// NewReplicaConsumer подписывается на пакеты из источников sources
// (пустой список — все источники)
func NewReplicaConsumer(bus eventbus.EventBus, compressor DeltaCompressor, sources ...string) (*ReplicaConsumer, error) {
	if compressor == nil {
		compressor = NewPassthroughCompressor()
	}
	rc := &ReplicaConsumer{
		compressor: compressor,
		replicas:   make(map[string]*replica),
		log:        logging.GetSyncLogger(),
	}
	sub, err := bus.Subscribe(context.Background(), eventbus.Filter{
		Types:   []string{eventbus.TypeSyncBatch},
		Sources: sources,
	}, rc.handle)
	if err != nil {
		return nil, err
	}
	rc.sub = sub
	return rc, nil
}

func (rc *ReplicaConsumer) handle(_ context.Context, ev *eventbus.Envelope) {
	changes, err := rc.compressor.Decompress(ev.Payload)
	if err != nil {
		rc.log.Warn("ReplicaConsumer: пакет %s от %s не распакован: %v", ev.ID, ev.Source, err)
		return
	}
	rc.log.Trace("ReplicaConsumer: пакет %s от %s, изменений %d", ev.ID, ev.Source, len(changes))

	rc.mu.Lock()
	defer rc.mu.Unlock()
	for _, ch := range changes {
		rc.apply(ch)
	}
}

func (rc *ReplicaConsumer) apply(ch Change) {
	r, ok := rc.replicas[ch.Inventory]
	if !ok {
		r = &replica{grid: spatial.NewGridExtension(vec.Zero)}
		rc.replicas[ch.Inventory] = r
	}

	switch {
	case ch.Seq <= r.lastSeq:
		rc.log.Debug("ReplicaConsumer: повтор дельты %s#%d пропущен", ch.Inventory, ch.Seq)
		return
	case ch.Seq != r.lastSeq+1:
		rc.gaps++
		rc.log.Warn("ReplicaConsumer: пропуск дельт %s: ожидалась #%d, получена #%d",
			ch.Inventory, r.lastSeq+1, ch.Seq)
	}

	r.grid.ApplyDelta(ch.Delta)
	r.lastSeq = ch.Seq
}

// View вызывает fn для реплики инвентаря под блокировкой чтения.
// Реплику нельзя менять и сохранять за пределами fn.
func (rc *ReplicaConsumer) View(inventory string, fn func(g *spatial.GridExtension)) bool {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	r, ok := rc.replicas[inventory]
	if !ok {
		return false
	}
	fn(r.grid)
	return true
}

// Inventories возвращает идентификаторы инвентарей с репликами
func (rc *ReplicaConsumer) Inventories() []string {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	ids := make([]string, 0, len(rc.replicas))
	for id := range rc.replicas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LastSeq возвращает номер последней применённой дельты
func (rc *ReplicaConsumer) LastSeq(inventory string) uint64 {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	if r, ok := rc.replicas[inventory]; ok {
		return r.lastSeq
	}
	return 0
}

// Gaps возвращает число обнаруженных разрывов последовательности
func (rc *ReplicaConsumer) Gaps() uint64 {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.gaps
}

func (rc *ReplicaConsumer) Stop() { rc.sub.Unsubscribe() }
