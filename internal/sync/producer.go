package sync

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/annel0/inventory-grid/internal/eventbus"
	"github.com/annel0/inventory-grid/internal/spatial"
)

// DeltaSource — владелец сетки, отдающий накопленные изменения
type DeltaSource interface {
	ID() string
	TakeDelta() spatial.Delta
}

// GridProducer забирает дельты зарегистрированных сеток и передаёт их
// BatchManager'у. Сетки опрашиваются по таймеру, а при событиях сетки
// в шине — внеочередно.
type GridProducer struct {
	bm *BatchManager

	mu      sync.Mutex
	sources map[string]DeltaSource
	seq     map[string]uint64

	sub  eventbus.Subscription
	kick chan struct{}
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

// NewGridProducer запускает опрос с интервалом pollEvery. Если bus не nil,
// события сетки в шине ускоряют опрос.
func NewGridProducer(bus eventbus.EventBus, bm *BatchManager, pollEvery time.Duration) (*GridProducer, error) {
	if pollEvery <= 0 {
		pollEvery = 50 * time.Millisecond
	}
	gp := &GridProducer{
		bm:      bm,
		sources: make(map[string]DeltaSource),
		seq:     make(map[string]uint64),
		kick:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if bus != nil {
		sub, err := bus.Subscribe(context.Background(), eventbus.Filter{Types: []string{
			eventbus.TypeGridItemAdded,
			eventbus.TypeGridItemRemoved,
			eventbus.TypeGridItemChanged,
			eventbus.TypeGridResized,
		}}, gp.handle)
		if err != nil {
			return nil, err
		}
		gp.sub = sub
	}
	go gp.loop(pollEvery)
	return gp, nil
}

func (gp *GridProducer) handle(context.Context, *eventbus.Envelope) {
	select {
	case gp.kick <- struct{}{}:
	default:
	}
}

// Register добавляет сетку в опрос
func (gp *GridProducer) Register(src DeltaSource) {
	gp.mu.Lock()
	gp.sources[src.ID()] = src
	gp.mu.Unlock()
}

// Unregister забирает последнюю дельту сетки и убирает её из опроса
func (gp *GridProducer) Unregister(id string) {
	gp.mu.Lock()
	defer gp.mu.Unlock()
	if src, ok := gp.sources[id]; ok {
		gp.drain(src)
		delete(gp.sources, id)
	}
}

// Poll забирает дельты всех сеток в порядке их идентификаторов.
// Возвращает количество непустых дельт.
func (gp *GridProducer) Poll() int {
	gp.mu.Lock()
	defer gp.mu.Unlock()

	ids := make([]string, 0, len(gp.sources))
	for id := range gp.sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	n := 0
	for _, id := range ids {
		if gp.drain(gp.sources[id]) {
			n++
		}
	}
	return n
}

func (gp *GridProducer) drain(src DeltaSource) bool {
	d := src.TakeDelta()
	if d.IsEmpty() {
		return false
	}
	id := src.ID()
	gp.seq[id]++
	gp.bm.AddChange(Change{
		Inventory: id,
		Seq:       gp.seq[id],
		Delta:     d,
		Priority:  eventbus.PriorityHigh,
	})
	return true
}

func (gp *GridProducer) loop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	defer close(gp.done)

	for {
		select {
		case <-ticker.C:
			gp.Poll()
		case <-gp.kick:
			gp.Poll()
		case <-gp.quit:
			return
		}
	}
}

// Stop прекращает опрос, предварительно забрав оставшиеся дельты
func (gp *GridProducer) Stop() {
	gp.once.Do(func() {
		if gp.sub != nil {
			gp.sub.Unsubscribe()
		}
		close(gp.quit)
		<-gp.done
		gp.Poll()
	})
}
