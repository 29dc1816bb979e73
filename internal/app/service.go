package app

import (
	"errors"
	"fmt"
	"sync"

	"github.com/annel0/inventory-grid/internal/grid"
	"github.com/annel0/inventory-grid/internal/inventory"
	"github.com/annel0/inventory-grid/internal/logging"
	"github.com/annel0/inventory-grid/internal/spatial"
	"github.com/annel0/inventory-grid/internal/storage"
	"github.com/annel0/inventory-grid/internal/vec"
)

var (
	// ErrNotFound — инвентарь или стопка не найдены
	ErrNotFound = errors.New("not found")
	// ErrRejected — сетка отказала в операции (нет места, пересечение)
	ErrRejected = errors.New("rejected by grid")
)

// InventoryService — единственный владелец пары контейнер + сетка.
// Все обращения к ядру проходят под его мьютексом.
type InventoryService struct {
	id      string
	catalog *inventory.Catalog

	mu      sync.Mutex
	storage *inventory.Storage
	grid    *spatial.GridExtension
	events  *inventory.EventLog
	detach  []func()
	log     *logging.Logger
}

// NewInventoryService создаёт пустой инвентарь с сеткой size
func NewInventoryService(id string, size vec.Vec2, catalog *inventory.Catalog, eventLogSize int) *InventoryService {
	s := newService(id, size, catalog, eventLogSize)
	s.storage.AddExtension(s.grid)
	s.storage.AddExtension(s.events)
	return s
}

// RestoreInventoryService восстанавливает инвентарь из снимка. Раскладка
// сверяется с содержимым контейнера, расхождения попадают в отчёт.
func RestoreInventoryService(rec *storage.InventoryRecord, catalog *inventory.Catalog, eventLogSize int) (*InventoryService, spatial.LoadReport, error) {
	s := newService(rec.ID, rec.Grid.Size, catalog, eventLogSize)
	if err := s.storage.Import(rec.Entries, catalog); err != nil {
		return nil, spatial.LoadReport{}, fmt.Errorf("восстановление %s: %w", rec.ID, err)
	}
	s.storage.AddExtension(s.grid)
	report := s.grid.LoadSnapshot(rec.Grid)
	s.storage.AddExtension(s.events)
	return s, report, nil
}

func newService(id string, size vec.Vec2, catalog *inventory.Catalog, eventLogSize int) *InventoryService {
	if catalog == nil {
		catalog = inventory.NewCatalog()
	}
	return &InventoryService{
		id:      id,
		catalog: catalog,
		storage: inventory.NewStorage(),
		grid:    spatial.NewGridExtension(size),
		events:  inventory.NewEventLog(eventLogSize),
		log:     logging.GetInventoryLogger(),
	}
}

// ID реализует sync.DeltaSource
func (s *InventoryService) ID() string { return s.id }

// TakeDelta реализует sync.DeltaSource
func (s *InventoryService) TakeDelta() spatial.Delta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grid.TakeDelta()
}

// Subscribe регистрирует наблюдателя сетки. Обработчики вызываются под
// мьютексом сервиса и не должны к нему обращаться.
func (s *InventoryService) Subscribe(o spatial.Observer) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grid.Subscribe(o)
}

// Attach подключает наблюдателя, которого нужно передать сетке напрямую
// (например, публикатор, читающий размещения). Отписка выполняется в Close.
func (s *InventoryService) Attach(fn func(g *spatial.GridExtension) func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detach = append(s.detach, fn(s.grid))
}

// SetRecorder подключает запись метрик операций
func (s *InventoryService) SetRecorder(r spatial.OperationRecorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grid.SetRecorder(r)
}

// AddItem добавляет copies экземпляров предмета itemID
func (s *InventoryService) AddItem(itemID inventory.ItemID, copies int) (inventory.Event, error) {
	item, err := s.catalog.Get(itemID)
	if err != nil {
		return inventory.Event{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ev, err := s.storage.AddItem(item, copies)
	if err != nil {
		return inventory.Event{}, fmt.Errorf("добавление %s x%d в %s: %w", itemID, copies, s.id, err)
	}
	return ev, nil
}

// RemoveItems убирает copies экземпляров из стопки
func (s *InventoryService) RemoveItems(key inventory.Key, copies int) (inventory.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storage.RemoveItems(key, copies)
}

// RemoveEntry удаляет запись целиком
func (s *InventoryService) RemoveEntry(entry inventory.EntryKey) (inventory.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storage.RemoveEntry(entry)
}

// SplitStack отделяет copies экземпляров в новую стопку
func (s *InventoryService) SplitStack(key inventory.Key, copies int) (inventory.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storage.SplitStack(key, copies)
}

// MoveItem переносит стопку в target: на свободное место, слиянием
// с такой же записью или обменом
func (s *InventoryService) MoveItem(key inventory.Key, target vec.Vec2) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grid.GetPlacement(key); !ok {
		return fmt.Errorf("%w: стопка %v", ErrNotFound, key)
	}
	if !s.grid.MoveItem(key, target) {
		return fmt.Errorf("%w: перемещение %v в %v", ErrRejected, key, target)
	}
	return nil
}

// RotateItem поворачивает стопку на 90° по часовой стрелке
func (s *InventoryService) RotateItem(key inventory.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grid.GetPlacement(key); !ok {
		return fmt.Errorf("%w: стопка %v", ErrNotFound, key)
	}
	if !s.grid.RotateItem(key) {
		return fmt.Errorf("%w: поворот %v", ErrRejected, key)
	}
	return nil
}

// Resize меняет размер сетки
func (s *InventoryService) Resize(size vec.Vec2) error {
	if size.X < 0 || size.Y < 0 {
		return fmt.Errorf("%w: отрицательный размер %v", ErrRejected, size)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.grid.SetGridSize(size) {
		return fmt.Errorf("%w: размер %v обрезает предметы", ErrRejected, size)
	}
	return nil
}

// ItemView — стопка глазами клиента
type ItemView struct {
	Key       inventory.Key    `json:"key"`
	ItemID    inventory.ItemID `json:"item_id"`
	Name      string           `json:"name"`
	Copies    int              `json:"copies"`
	Placement grid.Placement   `json:"placement"`
	Size      vec.Vec2         `json:"size"`
}

// InventoryView — состояние инвентаря для API и CLI
type InventoryView struct {
	ID       string     `json:"id"`
	Size     vec.Vec2   `json:"size"`
	Occupied int        `json:"occupied"`
	Items    []ItemView `json:"items"`
	Render   string     `json:"render"`
}

// View собирает состояние инвентаря в порядке ключей
func (s *InventoryService) View() InventoryView {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := InventoryView{
		ID:       s.id,
		Size:     s.grid.GridSize(),
		Occupied: s.grid.Occupancy().Count(),
		Items:    []ItemView{},
		Render:   s.grid.Render(),
	}
	for _, e := range s.grid.Entries() {
		iv := ItemView{Key: e.Key, Placement: e.Placement, Copies: s.storage.Copies(e.Key)}
		if entry, ok := s.storage.Entry(e.Key.Entry); ok {
			iv.ItemID, iv.Name = entry.Item.ID, entry.Item.Name
		}
		iv.Size, _ = s.grid.GetStackBounds(e.Key)
		view.Items = append(view.Items, iv)
	}
	return view
}

// Copies возвращает количество экземпляров в стопке, 0 если её нет
func (s *InventoryService) Copies(key inventory.Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storage.Copies(key)
}

// KeyAt возвращает стопку, занимающую клетку p
func (s *InventoryService) KeyAt(p vec.Vec2) (inventory.Key, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grid.GetKeyAt(p)
}

// RecentEvents возвращает до n последних событий контейнера
func (s *InventoryService) RecentEvents(n int) []inventory.Event {
	return s.events.Recent(n)
}

// Record возвращает снимок для сохранения
func (s *InventoryService) Record() *storage.InventoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &storage.InventoryRecord{
		ID:      s.id,
		Entries: s.storage.Export(),
		Grid:    s.grid.Snapshot(),
	}
}

// CheckConsistency сверяет карту занятости с индексом
func (s *InventoryService) CheckConsistency() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grid.CheckConsistency()
}

// Close отключает наблюдателей, подключённых через Attach
func (s *InventoryService) Close() {
	s.mu.Lock()
	detach := s.detach
	s.detach = nil
	s.mu.Unlock()
	for _, fn := range detach {
		fn()
	}
}
