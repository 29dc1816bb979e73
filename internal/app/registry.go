package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/annel0/inventory-grid/internal/eventbus"
	"github.com/annel0/inventory-grid/internal/inventory"
	"github.com/annel0/inventory-grid/internal/logging"
	"github.com/annel0/inventory-grid/internal/spatial"
	"github.com/annel0/inventory-grid/internal/storage"
	gridsync "github.com/annel0/inventory-grid/internal/sync"
	"github.com/annel0/inventory-grid/internal/vec"
)

// RegistryConfig — зависимости реестра. Bus, Producer и Recorder необязательны.
type RegistryConfig struct {
	Source       string // имя узла в конвертах
	GridSize     vec.Vec2
	EventLogSize int
	Catalog      *inventory.Catalog
	Repo         storage.SnapshotRepo
	Bus          eventbus.EventBus
	Producer     *gridsync.GridProducer
	Recorder     spatial.OperationRecorder
	QueueSize    int // очередь GridPublisher
}

// Registry хранит открытые инвентари по идентификатору, загружает их из
// хранилища и подключает к шине и синхронизации.
type Registry struct {
	cfg RegistryConfig

	mu         sync.Mutex
	services   map[string]*InventoryService
	publishers map[string]*eventbus.GridPublisher
	log        *logging.Logger
}

// NewRegistry создаёт реестр. Без Repo снимки хранятся в памяти.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Repo == nil {
		cfg.Repo = storage.NewMemorySnapshotRepo()
	}
	if cfg.Catalog == nil {
		cfg.Catalog = inventory.NewCatalog()
	}
	if cfg.Source == "" {
		cfg.Source = "inventory-grid"
	}
	return &Registry{
		cfg:        cfg,
		services:   make(map[string]*InventoryService),
		publishers: make(map[string]*eventbus.GridPublisher),
		log:        logging.GetInventoryLogger(),
	}
}

// Catalog возвращает каталог предметов
func (r *Registry) Catalog() *inventory.Catalog { return r.cfg.Catalog }

// Get возвращает открытый инвентарь или загружает его из хранилища.
// Если снимка нет, возвращает ErrNotFound.
func (r *Registry) Get(ctx context.Context, id string) (*InventoryService, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(ctx, id)
}

func (r *Registry) getLocked(ctx context.Context, id string) (*InventoryService, error) {
	if svc, ok := r.services[id]; ok {
		return svc, nil
	}
	rec, err := r.cfg.Repo.Load(ctx, id)
	if errors.Is(err, storage.ErrSnapshotNotFound) {
		return nil, fmt.Errorf("%w: инвентарь %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	svc, report, err := RestoreInventoryService(rec, r.cfg.Catalog, r.cfg.EventLogSize)
	if err != nil {
		return nil, err
	}
	if report.Dropped > 0 {
		r.log.Warn("инвентарь %s загружен с потерями: %d стопок без места", id, report.Dropped)
	}
	r.attach(svc)
	r.log.Info("📦 Инвентарь %s загружен: %d стопок", id, report.Restored+report.Replaced)
	return svc, nil
}

// Open возвращает инвентарь, создавая пустой, если его нет ни в памяти,
// ни в хранилище. created сообщает, был ли инвентарь создан.
func (r *Registry) Open(ctx context.Context, id string) (svc *InventoryService, created bool, err error) {
	if id == "" {
		return nil, false, fmt.Errorf("пустой идентификатор инвентаря")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	svc, err = r.getLocked(ctx, id)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return svc, false, err
	}

	svc = NewInventoryService(id, r.cfg.GridSize, r.cfg.Catalog, r.cfg.EventLogSize)
	r.attach(svc)
	r.log.Info("📦 Инвентарь %s создан с сеткой %v", id, r.cfg.GridSize)
	return svc, true, nil
}

// attach подключает сервис к метрикам, шине и синхронизации
func (r *Registry) attach(svc *InventoryService) {
	if r.cfg.Recorder != nil {
		svc.SetRecorder(r.cfg.Recorder)
	}
	if r.cfg.Bus != nil {
		var pub *eventbus.GridPublisher
		svc.Attach(func(g *spatial.GridExtension) func() {
			pub = eventbus.NewGridPublisher(r.cfg.Bus, r.cfg.Source, svc.ID(), g, r.cfg.QueueSize)
			return g.Subscribe(pub)
		})
		r.publishers[svc.ID()] = pub
	}
	if r.cfg.Producer != nil {
		r.cfg.Producer.Register(svc)
	}
	r.services[svc.ID()] = svc
}

// Save сохраняет снимок открытого инвентаря
func (r *Registry) Save(ctx context.Context, id string) error {
	r.mu.Lock()
	svc, ok := r.services[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: инвентарь %s не открыт", ErrNotFound, id)
	}
	if err := r.cfg.Repo.Save(ctx, svc.Record()); err != nil {
		return fmt.Errorf("сохранение инвентаря %s: %w", id, err)
	}
	return nil
}

// SaveAll сохраняет все открытые инвентари. Ошибки собираются вместе.
func (r *Registry) SaveAll(ctx context.Context) error {
	var errs []error
	for _, id := range r.IDs() {
		if err := r.Save(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Unload сохраняет инвентарь и закрывает его
func (r *Registry) Unload(ctx context.Context, id string) error {
	if err := r.Save(ctx, id); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detachLocked(id)
	return nil
}

func (r *Registry) detachLocked(id string) {
	svc, ok := r.services[id]
	if !ok {
		return
	}
	if r.cfg.Producer != nil {
		r.cfg.Producer.Unregister(id)
	}
	svc.Close()
	if pub, ok := r.publishers[id]; ok {
		pub.Close()
		delete(r.publishers, id)
	}
	delete(r.services, id)
}

// IDs возвращает идентификаторы открытых инвентарей
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.services))
	for id := range r.services {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stored возвращает идентификаторы инвентарей в хранилище
func (r *Registry) Stored(ctx context.Context) ([]string, error) {
	return r.cfg.Repo.List(ctx)
}

// Close сохраняет и закрывает все инвентари
func (r *Registry) Close(ctx context.Context) error {
	err := r.SaveAll(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.services {
		r.detachLocked(id)
	}
	r.log.Info("📦 Реестр инвентарей закрыт")
	return err
}
