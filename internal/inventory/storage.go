package inventory

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/annel0/inventory-grid/internal/grid"
	"github.com/annel0/inventory-grid/internal/logging"
)

// Stack — часть записи с количеством экземпляров
type Stack struct {
	Key    StackKey `json:"key"`
	Copies int      `json:"copies"`
}

// Entry — логическая запись: определение предмета и его стопки
type Entry struct {
	Key    EntryKey `json:"key"`
	Item   *Item    `json:"item"`
	Stacks []Stack  `json:"stacks"`
}

// TotalCopies возвращает сумму экземпляров по всем стопкам
func (e *Entry) TotalCopies() int {
	total := 0
	for _, s := range e.Stacks {
		total += s.Copies
	}
	return total
}

func (e *Entry) stackIndex(key StackKey) int {
	for i, s := range e.Stacks {
		if s.Key == key {
			return i
		}
	}
	return -1
}

// EntryRecord — сериализуемое состояние записи для сохранения
type EntryRecord struct {
	Key    EntryKey `json:"key"`
	ItemID ItemID   `json:"item_id"`
	Stacks []Stack  `json:"stacks"`
}

// Storage — простой контейнер предметов в памяти. Реализует Container.
// Не потокобезопасен: доступ сериализует владелец.
type Storage struct {
	entries    []*Entry // отсортированы по Key
	nextEntry  EntryKey
	nextStack  StackKey
	extensions []Extension
	log        *logging.Logger
}

// NewStorage создаёт пустой контейнер
func NewStorage() *Storage {
	return &Storage{
		nextEntry: 1,
		nextStack: 1,
		log:       logging.GetInventoryLogger(),
	}
}

// AddExtension регистрирует расширение и инициализирует его
func (s *Storage) AddExtension(ext Extension) {
	s.extensions = append(s.extensions, ext)
	ext.InitializeExtension(s)
}

// RemoveExtension деинициализирует и удаляет расширение
func (s *Storage) RemoveExtension(ext Extension) {
	for i, e := range s.extensions {
		if e == ext {
			ext.DeinitializeExtension(s)
			s.extensions = append(s.extensions[:i], s.extensions[i+1:]...)
			return
		}
	}
}

func (s *Storage) findEntry(key EntryKey) (int, bool) {
	return slices.BinarySearchFunc(s.entries, key, func(e *Entry, k EntryKey) int {
		return cmp.Compare(e.Key, k)
	})
}

func (s *Storage) entry(key EntryKey) *Entry {
	if i, ok := s.findEntry(key); ok {
		return s.entries[i]
	}
	return nil
}

// ForEachKey обходит ключи записей в порядке возрастания
func (s *Storage) ForEachKey(fn func(EntryKey)) {
	keys := make([]EntryKey, len(s.entries))
	for i, e := range s.entries {
		keys[i] = e.Key
	}
	for _, k := range keys {
		fn(k)
	}
}

// StackKeys возвращает ключи стопок записи
func (s *Storage) StackKeys(entry EntryKey) []StackKey {
	e := s.entry(entry)
	if e == nil {
		return nil
	}
	keys := make([]StackKey, len(e.Stacks))
	for i, st := range e.Stacks {
		keys[i] = st.Key
	}
	return keys
}

// ShapeForEntry возвращает фигуру предмета записи
func (s *Storage) ShapeForEntry(entry EntryKey) (grid.Shape, bool) {
	e := s.entry(entry)
	if e == nil {
		return grid.Shape{}, false
	}
	return e.Item.Shape, true
}

// IsValidEntry сообщает, существует ли запись
func (s *Storage) IsValidEntry(entry EntryKey) bool {
	return s.entry(entry) != nil
}

// IsValidKey сообщает, существует ли стопка
func (s *Storage) IsValidKey(key Key) bool {
	e := s.entry(key.Entry)
	return e != nil && e.stackIndex(key.Stack) >= 0
}

// Entry возвращает копию записи
func (s *Storage) Entry(key EntryKey) (Entry, bool) {
	e := s.entry(key)
	if e == nil {
		return Entry{}, false
	}
	return Entry{Key: e.Key, Item: e.Item, Stacks: slices.Clone(e.Stacks)}, true
}

// Entries возвращает копии всех записей
func (s *Storage) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = Entry{Key: e.Key, Item: e.Item, Stacks: slices.Clone(e.Stacks)}
	}
	return out
}

// Copies возвращает количество экземпляров в стопке
func (s *Storage) Copies(key Key) int {
	e := s.entry(key.Entry)
	if e == nil {
		return 0
	}
	if i := e.stackIndex(key.Stack); i >= 0 {
		return e.Stacks[i].Copies
	}
	return 0
}

// Len возвращает количество записей
func (s *Storage) Len() int { return len(s.entries) }

// AddItem добавляет copies экземпляров. Существующие стопки того же предмета
// дополняются до лимита, остаток раскладывается по новым стопкам.
// Если хоть одно расширение запрещает добавление, контейнер не меняется.
func (s *Storage) AddItem(item *Item, copies int) (Event, error) {
	if item == nil {
		return Event{}, ErrUnknownItem
	}
	if copies <= 0 {
		return Event{}, fmt.Errorf("%w: %d", ErrInvalidAmount, copies)
	}

	var target *Entry
	for _, e := range s.entries {
		if e.Item == item {
			target = e
			break
		}
	}

	limit := item.MaxStack()
	remaining := copies
	if target != nil {
		for _, st := range target.Stacks {
			remaining -= min(remaining, limit-st.Copies)
		}
	}
	newStacks := (remaining + limit - 1) / limit

	if newStacks > 0 {
		additions := []Addition{{Item: item, NewStacks: newStacks}}
		for _, ext := range s.extensions {
			if !ext.AllowsAddition(s, additions) {
				s.log.Debug("добавление %s x%d отклонено расширением", item.ID, copies)
				return Event{}, ErrNotAllowed
			}
		}
	}

	if target == nil {
		target = &Entry{Key: s.nextEntry, Item: item}
		s.nextEntry++
		s.entries = append(s.entries, target)
	}

	ev := Event{Type: EventAddition, Entry: target.Key, Item: item, Delta: copies, Timestamp: time.Now().UTC()}
	remaining = copies
	for i := range target.Stacks {
		room := min(remaining, limit-target.Stacks[i].Copies)
		if room > 0 {
			target.Stacks[i].Copies += room
			remaining -= room
			ev.Stacks = append(ev.Stacks, target.Stacks[i].Key)
		}
	}
	for remaining > 0 {
		n := min(remaining, limit)
		st := Stack{Key: s.nextStack, Copies: n}
		s.nextStack++
		target.Stacks = append(target.Stacks, st)
		ev.Stacks = append(ev.Stacks, st.Key)
		remaining -= n
	}

	s.log.Debug("добавлено %s x%d в запись %d, стопки %v", item.ID, copies, target.Key, ev.Stacks)
	s.broadcast(ev)
	return ev, nil
}

// RemoveItems убирает copies экземпляров из стопки. Пустая стопка удаляется,
// запись без стопок удаляется целиком.
func (s *Storage) RemoveItems(key Key, copies int) (Event, error) {
	i, ok := s.findEntry(key.Entry)
	if !ok {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidKey, key)
	}
	e := s.entries[i]
	si := e.stackIndex(key.Stack)
	if si < 0 {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidKey, key)
	}
	if copies <= 0 || copies > e.Stacks[si].Copies {
		return Event{}, fmt.Errorf("%w: %d (в стопке %d)", ErrInvalidAmount, copies, e.Stacks[si].Copies)
	}

	e.Stacks[si].Copies -= copies
	if e.Stacks[si].Copies == 0 {
		e.Stacks = slices.Delete(e.Stacks, si, si+1)
	}
	if len(e.Stacks) == 0 {
		s.entries = slices.Delete(s.entries, i, i+1)
	}

	ev := Event{Type: EventRemoval, Entry: key.Entry, Stacks: []StackKey{key.Stack}, Item: e.Item, Delta: copies, Timestamp: time.Now().UTC()}
	s.broadcast(ev)
	return ev, nil
}

// RemoveEntry удаляет запись со всеми стопками
func (s *Storage) RemoveEntry(key EntryKey) (Event, error) {
	i, ok := s.findEntry(key)
	if !ok {
		return Event{}, fmt.Errorf("%w: запись %d", ErrInvalidKey, key)
	}
	e := s.entries[i]
	s.entries = slices.Delete(s.entries, i, i+1)

	ev := Event{Type: EventRemoval, Entry: key, Item: e.Item, Delta: e.TotalCopies(), Timestamp: time.Now().UTC()}
	for _, st := range e.Stacks {
		ev.Stacks = append(ev.Stacks, st.Key)
	}
	s.broadcast(ev)
	return ev, nil
}

// SplitStack отделяет copies экземпляров в новую стопку той же записи
func (s *Storage) SplitStack(key Key, copies int) (Key, error) {
	e := s.entry(key.Entry)
	if e == nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalidKey, key)
	}
	si := e.stackIndex(key.Stack)
	if si < 0 {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalidKey, key)
	}
	if copies <= 0 || copies >= e.Stacks[si].Copies {
		return Key{}, fmt.Errorf("%w: нельзя отделить %d из %d", ErrInvalidAmount, copies, e.Stacks[si].Copies)
	}
	for _, ext := range s.extensions {
		if !ext.AllowsEdit(s, key, EditSplit) {
			return Key{}, ErrNotAllowed
		}
	}

	e.Stacks[si].Copies -= copies
	st := Stack{Key: s.nextStack, Copies: copies}
	s.nextStack++
	e.Stacks = append(e.Stacks, st)

	s.broadcast(Event{
		Type:      EventEntryChanged,
		Entry:     key.Entry,
		Stacks:    []StackKey{key.Stack, st.Key},
		Item:      e.Item,
		Delta:     copies,
		Timestamp: time.Now().UTC(),
	})
	return Key{Entry: key.Entry, Stack: st.Key}, nil
}

// MergeStacks переносит экземпляры из стопки from в стопку to в пределах лимита.
// Опустевшая стопка from удаляется. Возвращает false, если ничего не перенесено.
func (s *Storage) MergeStacks(entry EntryKey, from, to StackKey) bool {
	e := s.entry(entry)
	if e == nil || from == to {
		return false
	}
	fi, ti := e.stackIndex(from), e.stackIndex(to)
	if fi < 0 || ti < 0 {
		return false
	}
	for _, ext := range s.extensions {
		if !ext.AllowsEdit(s, Key{Entry: entry, Stack: from}, EditMerge) {
			return false
		}
	}

	moving := min(e.Stacks[fi].Copies, e.Item.MaxStack()-e.Stacks[ti].Copies)
	if moving <= 0 {
		return false
	}
	e.Stacks[ti].Copies += moving
	e.Stacks[fi].Copies -= moving
	if e.Stacks[fi].Copies == 0 {
		e.Stacks = slices.Delete(e.Stacks, fi, fi+1)
	}

	s.broadcast(Event{
		Type:      EventEntryChanged,
		Entry:     entry,
		Stacks:    []StackKey{from, to},
		Item:      e.Item,
		Delta:     moving,
		Timestamp: time.Now().UTC(),
	})
	return true
}

// Export возвращает состояние контейнера для сохранения
func (s *Storage) Export() []EntryRecord {
	out := make([]EntryRecord, len(s.entries))
	for i, e := range s.entries {
		out[i] = EntryRecord{Key: e.Key, ItemID: e.Item.ID, Stacks: slices.Clone(e.Stacks)}
	}
	return out
}

// Import восстанавливает записи без рассылки событий. Вызывается до
// регистрации расширений.
func (s *Storage) Import(records []EntryRecord, catalog *Catalog) error {
	if len(s.extensions) > 0 {
		return fmt.Errorf("import после регистрации расширений не поддерживается")
	}
	entries := make([]*Entry, 0, len(records))
	nextEntry, nextStack := s.nextEntry, s.nextStack
	for _, r := range records {
		item, err := catalog.Get(r.ItemID)
		if err != nil {
			return fmt.Errorf("запись %d: %w", r.Key, err)
		}
		if !r.Key.IsValid() || len(r.Stacks) == 0 {
			return fmt.Errorf("%w: запись %d", ErrInvalidKey, r.Key)
		}
		e := &Entry{Key: r.Key, Item: item, Stacks: slices.Clone(r.Stacks)}
		for _, st := range e.Stacks {
			if st.Key <= 0 || st.Copies <= 0 {
				return fmt.Errorf("%w: стопка %d записи %d", ErrInvalidKey, st.Key, r.Key)
			}
			nextStack = max(nextStack, st.Key+1)
		}
		nextEntry = max(nextEntry, r.Key+1)
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *Entry) int { return cmp.Compare(a.Key, b.Key) })
	for i := 1; i < len(entries); i++ {
		if entries[i].Key == entries[i-1].Key {
			return fmt.Errorf("%w: дубликат записи %d", ErrInvalidKey, entries[i].Key)
		}
	}

	s.entries = entries
	s.nextEntry, s.nextStack = nextEntry, nextStack
	return nil
}

func (s *Storage) broadcast(ev Event) {
	for _, ext := range s.extensions {
		switch ev.Type {
		case EventAddition:
			ext.PostAddition(s, ev)
		case EventRemoval:
			ext.PostRemoval(s, ev)
		case EventEntryChanged:
			ext.PostEntryChanged(s, ev)
		}
	}
}
