package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/annel0/inventory-grid/internal/grid"
	"github.com/annel0/inventory-grid/internal/inventory"
	"github.com/annel0/inventory-grid/internal/logging"
	"github.com/annel0/inventory-grid/internal/spatial"
	"github.com/annel0/inventory-grid/internal/vec"
)

// GridItemPayload — полезная нагрузка GridItemAdded/Removed/Changed
type GridItemPayload struct {
	Inventory string `json:"inventory"`
	Entry     int64  `json:"entry"`
	Stack     int64  `json:"stack"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Rotation  int    `json:"rotation"`
}

// GridResizedPayload — полезная нагрузка GridResized
type GridResizedPayload struct {
	Inventory string `json:"inventory"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// PlacementSource — то, откуда публикатор берёт размещение стопки
type PlacementSource interface {
	GetPlacement(key inventory.Key) (grid.Placement, bool)
}

// GridPublisher — наблюдатель сетки, публикующий её события в шину.
// Обработчики наблюдателя только ставят конверт в очередь: публикация
// идёт в отдельной горутине и не задерживает владельца сетки.
type GridPublisher struct {
	bus       EventBus
	inventory string
	source    string
	places    PlacementSource

	queue   chan *Envelope
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
	dropped uint64
	log     *logging.Logger
}

// NewGridPublisher создаёт публикатор для инвентаря inventoryID
func NewGridPublisher(bus EventBus, source, inventoryID string, places PlacementSource, queueSize int) *GridPublisher {
	if queueSize <= 0 {
		queueSize = 256
	}
	p := &GridPublisher{
		bus:       bus,
		inventory: inventoryID,
		source:    source,
		places:    places,
		queue:     make(chan *Envelope, queueSize),
		log:       logging.GetComponentLogger("eventbus"),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

var _ spatial.Observer = (*GridPublisher)(nil)

// GridEntryChanged реализует spatial.Observer
func (p *GridPublisher) GridEntryChanged(key inventory.Key, ev spatial.EventType) {
	payload := GridItemPayload{
		Inventory: p.inventory,
		Entry:     int64(key.Entry),
		Stack:     int64(key.Stack),
		X:         vec.None.X,
		Y:         vec.None.Y,
	}
	if pl, ok := p.places.GetPlacement(key); ok {
		payload.X, payload.Y = pl.Origin.X, pl.Origin.Y
		payload.Rotation = pl.Rotation.Degrees()
	}
	p.enqueue(ev.String(), payload, PriorityNormal)
}

// GridSizeChanged реализует spatial.Observer
func (p *GridPublisher) GridSizeChanged(size vec.Vec2) {
	p.enqueue(TypeGridResized, GridResizedPayload{Inventory: p.inventory, Width: size.X, Height: size.Y}, PriorityHigh)
}

func (p *GridPublisher) enqueue(eventType string, payload any, priority int) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Error("сериализация %s: %v", eventType, err)
		return
	}
	env := NewEnvelope(p.source, eventType, data)
	env.Tenant = p.inventory
	env.Priority = priority

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- env:
	default:
		p.dropped++
		p.log.Warn("очередь публикации %s переполнена, событие %s отброшено", p.inventory, eventType)
	}
}

func (p *GridPublisher) run() {
	defer p.wg.Done()
	for env := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.bus.Publish(ctx, env); err != nil {
			p.log.Warn("публикация %s %s: %v", env.EventType, env.ID, err)
		}
		cancel()
	}
}

// Dropped возвращает число событий, не поместившихся в очередь
func (p *GridPublisher) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Close дожидается публикации очереди. После Close события игнорируются.
func (p *GridPublisher) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
