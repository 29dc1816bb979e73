package sync

import (
	"fmt"
	"strings"
	"time"

	"github.com/annel0/inventory-grid/internal/eventbus"
	"github.com/annel0/inventory-grid/internal/logging"
)

// SyncManager координирует BatchManager, GridProducer и, если включена,
// локальную реплику ReplicaConsumer.
type SyncManager struct {
	bm       *BatchManager
	producer *GridProducer
	consumer *ReplicaConsumer
}

// SyncConfig — параметры синхронизации
type SyncConfig struct {
	Source        string
	Bus           eventbus.EventBus
	BatchSize     int
	FlushEvery    time.Duration
	PollEvery     time.Duration
	UseGzipCompr  bool
	GzipLevel     int
	Compression   string // "json", "gzip" или "zstd"; пусто — по UseGzipCompr
	EnableReplica bool
}

// NewCompressor выбирает компрессор по настройке
func NewCompressor(cfg SyncConfig) (DeltaCompressor, error) {
	name := strings.ToLower(cfg.Compression)
	if name == "" && cfg.UseGzipCompr {
		name = "gzip"
	}
	switch name {
	case "", "json", "none":
		return NewPassthroughCompressor(), nil
	case "gzip":
		return NewGzipCompressor(cfg.GzipLevel), nil
	case "zstd":
		return NewZstdCompressor()
	default:
		return nil, fmt.Errorf("неизвестная компрессия: %q", cfg.Compression)
	}
}

// NewSyncManager собирает компоненты синхронизации
func NewSyncManager(cfg SyncConfig) (*SyncManager, error) {
	compressor, err := NewCompressor(cfg)
	if err != nil {
		return nil, err
	}
	logging.Info("🔄 SyncManager: компрессия %s", compressor.Name())

	bm := NewBatchManager(cfg.Bus, cfg.Source, cfg.BatchSize, cfg.FlushEvery, compressor)
	producer, err := NewGridProducer(cfg.Bus, bm, cfg.PollEvery)
	if err != nil {
		bm.Stop()
		return nil, err
	}

	sm := &SyncManager{bm: bm, producer: producer}
	if cfg.EnableReplica {
		consumer, err := NewReplicaConsumer(cfg.Bus, compressor, cfg.Source)
		if err != nil {
			producer.Stop()
			bm.Stop()
			return nil, err
		}
		sm.consumer = consumer
	}

	logging.Info("✅ SyncManager инициализирован: source=%s, batch=%d, flush=%v, replica=%v",
		cfg.Source, cfg.BatchSize, cfg.FlushEvery, cfg.EnableReplica)
	return sm, nil
}

// Producer возвращает производителя дельт для регистрации сеток
func (sm *SyncManager) Producer() *GridProducer { return sm.producer }

// Replica возвращает локальную реплику или nil
func (sm *SyncManager) Replica() *ReplicaConsumer { return sm.consumer }

// Flush немедленно забирает дельты и отправляет пакет
func (sm *SyncManager) Flush() {
	sm.producer.Poll()
	sm.bm.Flush()
}

// Stop останавливает компоненты в порядке: производитель, пакеты, реплика
func (sm *SyncManager) Stop() {
	sm.producer.Stop()
	sm.bm.Stop()
	if sm.consumer != nil {
		sm.consumer.Stop()
	}
	logging.Info("🔄 SyncManager остановлен")
}
