package sync

import (
	"context"
	"sync"
	"time"

	"github.com/annel0/inventory-grid/internal/eventbus"
	"github.com/annel0/inventory-grid/internal/logging"
	"github.com/annel0/inventory-grid/internal/spatial"
)

// Change — дельта сетки одного инвентаря с порядковым номером.
// Номера идут подряд в пределах инвентаря и источника.
type Change struct {
	Inventory string        `json:"inventory"`
	Seq       uint64        `json:"seq"`
	Delta     spatial.Delta `json:"delta"`
	Priority  int           `json:"priority"`
	Timestamp time.Time     `json:"timestamp"`
	Source    string        `json:"source"`
}

// BatchManager накапливает изменения и отправляет их пакетами SyncBatch.
// Порядок изменений сохраняется: дельты нельзя отбрасывать или переставлять,
// поэтому переполнение буфера вызывает внеочередную отправку.
type BatchManager struct {
	mu       sync.Mutex
	buf      []Change
	capacity int

	flushEvery time.Duration
	bus        eventbus.EventBus
	source     string
	compressor DeltaCompressor

	kick     chan struct{}
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	sendMu   sync.Mutex

	batches uint64
	log     *logging.Logger
}

// NewBatchManager создаёт менеджер с лимитом буфера и интервалом отправки
func NewBatchManager(bus eventbus.EventBus, source string, capacity int, flushEvery time.Duration, compressor DeltaCompressor) *BatchManager {
	if compressor == nil {
		compressor = NewPassthroughCompressor()
	}
	if capacity <= 0 {
		capacity = 256
	}
	if flushEvery <= 0 {
		flushEvery = 100 * time.Millisecond
	}
	bm := &BatchManager{
		capacity:   capacity,
		flushEvery: flushEvery,
		bus:        bus,
		source:     source,
		compressor: compressor,
		kick:       make(chan struct{}, 1),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		log:        logging.GetSyncLogger(),
	}
	go bm.loop()
	return bm
}

// AddChange добавляет изменение в буфер
func (bm *BatchManager) AddChange(ch Change) {
	if ch.Timestamp.IsZero() {
		ch.Timestamp = time.Now().UTC()
	}
	if ch.Source == "" {
		ch.Source = bm.source
	}

	bm.mu.Lock()
	bm.buf = append(bm.buf, ch)
	full := len(bm.buf) >= bm.capacity
	bm.mu.Unlock()

	if full {
		select {
		case bm.kick <- struct{}{}:
		default:
		}
	}
}

// Pending возвращает количество изменений в буфере
func (bm *BatchManager) Pending() int {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return len(bm.buf)
}

// Batches возвращает число отправленных пакетов
func (bm *BatchManager) Batches() uint64 {
	bm.sendMu.Lock()
	defer bm.sendMu.Unlock()
	return bm.batches
}

func (bm *BatchManager) loop() {
	ticker := time.NewTicker(bm.flushEvery)
	defer ticker.Stop()
	defer close(bm.done)

	for {
		select {
		case <-ticker.C:
			bm.Flush()
		case <-bm.kick:
			bm.Flush()
		case <-bm.quit:
			return
		}
	}
}

// Flush отправляет накопленные изменения одним сообщением
func (bm *BatchManager) Flush() {
	// отправки не должны обгонять друг друга
	bm.sendMu.Lock()
	defer bm.sendMu.Unlock()

	bm.mu.Lock()
	if len(bm.buf) == 0 {
		bm.mu.Unlock()
		return
	}
	changes := bm.buf
	bm.buf = nil
	bm.mu.Unlock()

	payload, err := bm.compressor.Compress(changes)
	if err != nil {
		bm.log.Warn("BatchManager: ошибка сжатия пакета из %d изменений: %v", len(changes), err)
		return
	}

	env := eventbus.NewEnvelope(bm.source, eventbus.TypeSyncBatch, payload)
	env.Priority = eventbus.PriorityHigh
	env.Metadata = map[string]string{"compressor": bm.compressor.Name()}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := bm.bus.Publish(ctx, env); err != nil {
		bm.log.Warn("BatchManager: ошибка публикации пакета: %v", err)
		return
	}
	bm.batches++
	bm.log.Trace("BatchManager: отправлен пакет %s, изменений %d, %d байт", env.ID, len(changes), len(payload))
}

// Stop завершает работу менеджера и отправляет оставшиеся изменения
func (bm *BatchManager) Stop() {
	bm.stopOnce.Do(func() {
		close(bm.quit)
		<-bm.done
		bm.Flush()
	})
}
