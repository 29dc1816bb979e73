package eventbus

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Типы событий сетки
const (
	TypeGridItemAdded   = "GridItemAdded"
	TypeGridItemRemoved = "GridItemRemoved"
	TypeGridItemChanged = "GridItemChanged"
	TypeGridResized     = "GridResized"
	TypeGridDelta       = "GridDelta"
	TypeSyncBatch       = "SyncBatch"
)

// Приоритеты: ниже PriorityHigh событие может быть отброшено при переполнении
const (
	PriorityLow    = 1
	PriorityNormal = 3
	PriorityHigh   = 5
)

// Envelope — контейнер события с полями для версионирования и трассировки.
type Envelope struct {
	ID            string            `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	Source        string            `json:"source"`
	EventType     string            `json:"event_type"`
	Version       int               `json:"version"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Tenant        string            `json:"tenant,omitempty"` // идентификатор инвентаря
	Priority      int               `json:"priority"`
	Payload       []byte            `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewEnvelope создаёт конверт с новым UUID и текущим временем (UTC)
func NewEnvelope(source, eventType string, payload []byte) *Envelope {
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		EventType: eventType,
		Version:   1,
		Priority:  PriorityNormal,
		Payload:   payload,
	}
}

// Filter ограничивает подписку типами, источниками и инвентарями.
// Пустой список означает «все».
type Filter struct {
	Types   []string
	Sources []string
	Tenants []string
}

// Subscription позволяет отписаться
type Subscription interface {
	Unsubscribe()
}

// Handler потребляет события
type Handler func(ctx context.Context, ev *Envelope)

// Stats — счётчики шины
type Stats struct {
	Published uint64
	Consumed  uint64
	Dropped   uint64
	InFlight  int
}

// EventBus — абстракция шины событий (in-memory, JetStream)
type EventBus interface {
	Publish(ctx context.Context, ev *Envelope) error
	Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error)
	Metrics() Stats
	Close() error
}

//================ In-Memory implementation =================//

// ErrBusClosed возвращается при публикации в закрытую шину
var ErrBusClosed = errors.New("eventbus: шина закрыта")

type memoryBus struct {
	mu          sync.RWMutex
	subscribers map[int]subscriber
	nextID      int
	buffer      chan *Envelope

	// closeMu удерживается на чтение на время отправки в buffer
	closeMu sync.RWMutex
	closed  bool
	done    chan struct{}

	published atomic.Uint64
	consumed  atomic.Uint64
	dropped   atomic.Uint64
}

type subscriber struct {
	filter  Filter
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewMemoryBus создаёт in-memory шину с буфером capacity.
// Подписчики получают события по очереди в порядке публикации.
func NewMemoryBus(capacity int) EventBus {
	if capacity <= 0 {
		capacity = 1024
	}
	mb := &memoryBus{
		subscribers: make(map[int]subscriber),
		buffer:      make(chan *Envelope, capacity),
		done:        make(chan struct{}),
	}
	go mb.dispatchLoop()
	return mb
}

func (mb *memoryBus) Publish(ctx context.Context, ev *Envelope) error {
	mb.closeMu.RLock()
	defer mb.closeMu.RUnlock()
	if mb.closed {
		return ErrBusClosed
	}

	select {
	case mb.buffer <- ev:
		mb.published.Add(1)
		return nil
	default:
	}

	// буфер заполнен: низкий приоритет отбрасывается
	if ev.Priority < PriorityHigh {
		mb.dropped.Add(1)
		return nil
	}
	select {
	case mb.buffer <- ev:
		mb.published.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (mb *memoryBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	id := mb.nextID
	mb.nextID++
	cctx, cancel := context.WithCancel(ctx)
	mb.subscribers[id] = subscriber{filter: f, handler: h, ctx: cctx, cancel: cancel}
	return &memSub{bus: mb, id: id}, nil
}

func (mb *memoryBus) Metrics() Stats {
	return Stats{
		Published: mb.published.Load(),
		Consumed:  mb.consumed.Load(),
		Dropped:   mb.dropped.Load(),
		InFlight:  len(mb.buffer),
	}
}

// Close прекращает приём событий и дожидается доставки уже принятых
func (mb *memoryBus) Close() error {
	mb.closeMu.Lock()
	if !mb.closed {
		mb.closed = true
		close(mb.buffer)
	}
	mb.closeMu.Unlock()
	<-mb.done
	return nil
}

func (mb *memoryBus) dispatchLoop() {
	defer close(mb.done)
	for ev := range mb.buffer {
		mb.mu.RLock()
		ids := make([]int, 0, len(mb.subscribers))
		for id := range mb.subscribers {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		subs := make([]subscriber, 0, len(ids))
		for _, id := range ids {
			subs = append(subs, mb.subscribers[id])
		}
		mb.mu.RUnlock()

		for _, sub := range subs {
			if !matchFilter(ev, sub.filter) || sub.ctx.Err() != nil {
				continue
			}
			sub.handler(sub.ctx, ev)
			mb.consumed.Add(1)
		}
	}
}

func matchFilter(ev *Envelope, f Filter) bool {
	match := func(val string, arr []string) bool {
		return len(arr) == 0 || slices.Contains(arr, val)
	}
	return match(ev.EventType, f.Types) && match(ev.Source, f.Sources) && match(ev.Tenant, f.Tenants)
}

type memSub struct {
	bus *memoryBus
	id  int
}

func (s *memSub) Unsubscribe() {
	s.bus.mu.Lock()
	if sub, ok := s.bus.subscribers[s.id]; ok {
		sub.cancel()
		delete(s.bus.subscribers, s.id)
	}
	s.bus.mu.Unlock()
}
