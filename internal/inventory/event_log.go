package inventory

import (
	"sync"

	"github.com/annel0/inventory-grid/internal/logging"
)

// EventLog — расширение, записывающее последние события контейнера
// в кольцевой буфер фиксированной ёмкости.
type EventLog struct {
	BaseExtension

	mu       sync.RWMutex
	events   []Event
	next     int
	full     bool
	capacity int
	log      *logging.Logger
}

// NewEventLog создаёт журнал на capacity последних событий
func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = 100
	}
	return &EventLog{
		events:   make([]Event, capacity),
		capacity: capacity,
		log:      logging.GetInventoryLogger(),
	}
}

func (l *EventLog) record(ev Event) {
	l.mu.Lock()
	l.events[l.next] = ev
	l.next = (l.next + 1) % l.capacity
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()

	l.log.Trace("событие %s запись=%d стопки=%v delta=%d", ev.Type, ev.Entry, ev.Stacks, ev.Delta)
}

func (l *EventLog) PostAddition(_ Container, ev Event)     { l.record(ev) }
func (l *EventLog) PostRemoval(_ Container, ev Event)      { l.record(ev) }
func (l *EventLog) PostEntryChanged(_ Container, ev Event) { l.record(ev) }

// Len возвращает количество сохранённых событий
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.full {
		return l.capacity
	}
	return l.next
}

// Recent возвращает до n последних событий, от новых к старым
func (l *EventLog) Recent(n int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	size := l.next
	if l.full {
		size = l.capacity
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]Event, 0, n)
	for i := 1; i <= n; i++ {
		idx := (l.next - i + l.capacity) % l.capacity
		out = append(out, l.events[idx])
	}
	return out
}
