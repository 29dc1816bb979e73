package inventory

import (
	"time"

	"github.com/annel0/inventory-grid/internal/grid"
)

// EventType — тип события жизненного цикла записи
type EventType int

const (
	EventAddition EventType = iota
	EventRemoval
	EventEntryChanged
)

func (t EventType) String() string {
	switch t {
	case EventAddition:
		return "addition"
	case EventRemoval:
		return "removal"
	case EventEntryChanged:
		return "entry_changed"
	default:
		return "unknown"
	}
}

// Event несёт затронутую запись и список затронутых стопок
type Event struct {
	Type      EventType  `json:"type"`
	Entry     EntryKey   `json:"entry"`
	Stacks    []StackKey `json:"stacks"`
	Item      *Item      `json:"item,omitempty"`
	Delta     int        `json:"delta"`
	Timestamp time.Time  `json:"timestamp"`
}

// Keys возвращает полные ключи затронутых стопок
func (e Event) Keys() []Key {
	keys := make([]Key, len(e.Stacks))
	for i, s := range e.Stacks {
		keys[i] = Key{Entry: e.Entry, Stack: s}
	}
	return keys
}

// Addition описывает планируемое добавление для AllowsAddition
type Addition struct {
	Item      *Item
	NewStacks int
}

// EditType — вид правки существующей записи
type EditType int

const (
	EditSplit EditType = iota
	EditMerge
)

// Container — то, что расширения видят у контейнера предметов
type Container interface {
	ForEachKey(fn func(EntryKey))
	StackKeys(entry EntryKey) []StackKey
	ShapeForEntry(entry EntryKey) (grid.Shape, bool)
	IsValidEntry(entry EntryKey) bool
	IsValidKey(key Key) bool
	MergeStacks(entry EntryKey, from, to StackKey) bool
}

// Extension получает события контейнера синхронно, в порядке регистрации.
// AllowsAddition/AllowsEdit могут запретить операцию до её применения.
type Extension interface {
	InitializeExtension(c Container)
	DeinitializeExtension(c Container)
	AllowsAddition(c Container, additions []Addition) bool
	AllowsEdit(c Container, key Key, edit EditType) bool
	PostAddition(c Container, ev Event)
	PostRemoval(c Container, ev Event)
	PostEntryChanged(c Container, ev Event)
}

// BaseExtension — пустая реализация Extension для встраивания
type BaseExtension struct{}

func (BaseExtension) InitializeExtension(Container) {}
func (BaseExtension) DeinitializeExtension(Container) {}
func (BaseExtension) AllowsAddition(Container, []Addition) bool { return true }
func (BaseExtension) AllowsEdit(Container, Key, EditType) bool { return true }
func (BaseExtension) PostAddition(Container, Event) {}
func (BaseExtension) PostRemoval(Container, Event) {}
func (BaseExtension) PostEntryChanged(Container, Event) {}
