package spatial

import (
	"slices"

	"github.com/annel0/inventory-grid/internal/inventory"
	"github.com/annel0/inventory-grid/internal/vec"
)

// EventType определяет тип события сетки
type EventType int

const (
	EventItemAdded EventType = iota
	EventItemRemoved
	EventItemChanged
)

func (t EventType) String() string {
	switch t {
	case EventItemAdded:
		return "GridItemAdded"
	case EventItemRemoved:
		return "GridItemRemoved"
	case EventItemChanged:
		return "GridItemChanged"
	default:
		return "GridUnknown"
	}
}

// Observer получает события сетки синхронно.
// Наблюдатель не должен менять сетку из обработчика.
type Observer interface {
	GridEntryChanged(key inventory.Key, ev EventType)
	GridSizeChanged(size vec.Vec2)
}

// ObserverFuncs адаптирует функции к Observer; nil-поля игнорируются
type ObserverFuncs struct {
	OnEntry func(key inventory.Key, ev EventType)
	OnSize  func(size vec.Vec2)
}

func (o ObserverFuncs) GridEntryChanged(key inventory.Key, ev EventType) {
	if o.OnEntry != nil {
		o.OnEntry(key, ev)
	}
}

func (o ObserverFuncs) GridSizeChanged(size vec.Vec2) {
	if o.OnSize != nil {
		o.OnSize(size)
	}
}

// OperationRecorder получает результат каждой публичной операции сетки
type OperationRecorder interface {
	ObserveOperation(op string, ok bool)
	ObserveOccupancy(occupied, total int)
}

type observerList struct {
	nextID    int
	observers map[int]Observer
	order     []int
}

func (l *observerList) add(o Observer) func() {
	if l.observers == nil {
		l.observers = make(map[int]Observer)
	}
	id := l.nextID
	l.nextID++
	l.observers[id] = o
	l.order = append(l.order, id)
	return func() {
		delete(l.observers, id)
		for i, v := range l.order {
			if v == id {
				l.order = append(l.order[:i], l.order[i+1:]...)
				break
			}
		}
	}
}

func (l *observerList) entry(key inventory.Key, ev EventType) {
	for _, id := range slices.Clone(l.order) {
		if o, ok := l.observers[id]; ok {
			o.GridEntryChanged(key, ev)
		}
	}
}

func (l *observerList) size(size vec.Vec2) {
	for _, id := range slices.Clone(l.order) {
		if o, ok := l.observers[id]; ok {
			o.GridSizeChanged(size)
		}
	}
}
