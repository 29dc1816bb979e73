package spatial

import (
	"fmt"
	"slices"

	"github.com/annel0/inventory-grid/internal/grid"
	"github.com/annel0/inventory-grid/internal/inventory"
)

// Entry связывает ключ стопки с её размещением в сетке
type Entry struct {
	Key       inventory.Key  `json:"key"`
	Placement grid.Placement `json:"placement"`
}

// IndexListener получает уведомления индекса синхронно, до возврата из
// вызвавшего метода. У индекса ровно один слушатель — его владелец.
type IndexListener interface {
	PostEntryAdd(e Entry)
	PreEntryRemove(e Entry)
	PostEntryChange(e Entry)
	// PostArrayChange приходит после физического удаления записей:
	// один раз на Remove и один раз на весь RemoveBatch
	PostArrayChange()
}

// Dirty — изменения индекса с момента последнего TakeDirty
type Dirty struct {
	Changed    []inventory.Key
	Removed    []inventory.Key
	ArrayMarks int // сколько раз массив помечался изменённым
}

// IsEmpty сообщает об отсутствии изменений
func (d Dirty) IsEmpty() bool {
	return len(d.Changed) == 0 && len(d.Removed) == 0 && d.ArrayMarks == 0
}

// Index — отсортированный по ключу массив записей с бинарным поиском.
// Вставка ключей в возрастающем порядке — амортизированное O(1).
type Index struct {
	items    []Entry
	listener IndexListener

	handles map[inventory.Key]struct{}

	changed    map[inventory.Key]struct{}
	removed    map[inventory.Key]struct{}
	arrayMarks int
}

// NewIndex создаёт пустой индекс со слушателем (может быть nil)
func NewIndex(listener IndexListener) *Index {
	return &Index{
		listener: listener,
		handles:  make(map[inventory.Key]struct{}),
		changed:  make(map[inventory.Key]struct{}),
		removed:  make(map[inventory.Key]struct{}),
	}
}

func (ix *Index) search(key inventory.Key) (int, bool) {
	n := len(ix.items)
	if n > 0 && inventory.Compare(ix.items[n-1].Key, key) < 0 {
		return n, false
	}
	return slices.BinarySearchFunc(ix.items, key, func(e Entry, k inventory.Key) int {
		return inventory.Compare(e.Key, k)
	})
}

func (ix *Index) mustHaveNoHandles(op string) {
	if len(ix.handles) > 0 {
		panic(fmt.Sprintf("spatial: %s при активных handle (%d)", op, len(ix.handles)))
	}
}

// Len возвращает количество записей
func (ix *Index) Len() int { return len(ix.items) }

// Contains проверяет наличие ключа
func (ix *Index) Contains(key inventory.Key) bool {
	_, ok := ix.search(key)
	return ok
}

// HasEntry сообщает, есть ли в индексе хоть одна стопка записи
func (ix *Index) HasEntry(entry inventory.EntryKey) bool {
	i, _ := ix.search(inventory.Key{Entry: entry})
	return i < len(ix.items) && ix.items[i].Key.Entry == entry
}

// KeysForEntry возвращает ключи всех стопок записи
func (ix *Index) KeysForEntry(entry inventory.EntryKey) []inventory.Key {
	i, _ := ix.search(inventory.Key{Entry: entry})
	var keys []inventory.Key
	for ; i < len(ix.items) && ix.items[i].Key.Entry == entry; i++ {
		keys = append(keys, ix.items[i].Key)
	}
	return keys
}

// Find возвращает размещение по ключу
func (ix *Index) Find(key inventory.Key) (grid.Placement, bool) {
	if i, ok := ix.search(key); ok {
		return ix.items[i].Placement, true
	}
	return grid.InvalidPlacement, false
}

// Insert добавляет запись. Ключ не должен существовать.
func (ix *Index) Insert(key inventory.Key, p grid.Placement) {
	ix.mustHaveNoHandles("Insert")
	i, ok := ix.search(key)
	if ok {
		panic(fmt.Sprintf("spatial: ключ %v уже есть в индексе", key))
	}

	e := Entry{Key: key, Placement: p}
	if i == len(ix.items) {
		ix.items = append(ix.items, e)
	} else {
		ix.items = slices.Insert(ix.items, i, e)
	}

	delete(ix.removed, key)
	ix.changed[key] = struct{}{}
	if ix.listener != nil {
		ix.listener.PostEntryAdd(e)
	}
}

// Remove удаляет запись. Слушатель получает PreEntryRemove до физического
// удаления, пока размещение ещё доступно. Возвращает false, если ключа нет.
func (ix *Index) Remove(key inventory.Key) bool {
	if !ix.remove(key) {
		return false
	}
	ix.MarkArrayDirty()
	return true
}

// RemoveBatch удаляет несколько записей и помечает массив изменённым один раз
func (ix *Index) RemoveBatch(keys []inventory.Key) int {
	removed := 0
	for _, key := range keys {
		if ix.remove(key) {
			removed++
		}
	}
	if removed > 0 {
		ix.MarkArrayDirty()
	}
	return removed
}

func (ix *Index) remove(key inventory.Key) bool {
	ix.mustHaveNoHandles("Remove")
	i, ok := ix.search(key)
	if !ok {
		return false
	}
	if ix.listener != nil {
		ix.listener.PreEntryRemove(ix.items[i])
	}
	// слушатель мог изменить индекс
	if i, ok = ix.search(key); !ok {
		return false
	}
	ix.items = slices.Delete(ix.items, i, i+1)

	delete(ix.changed, key)
	ix.removed[key] = struct{}{}
	return true
}

// MarkArrayDirty отмечает структурное изменение массива и уведомляет слушателя
func (ix *Index) MarkArrayDirty() {
	ix.arrayMarks++
	if ix.listener != nil {
		ix.listener.PostArrayChange()
	}
}

// MarkItemDirty отмечает изменение записи для репликации
func (ix *Index) MarkItemDirty(key inventory.Key) {
	if ix.Contains(key) {
		ix.changed[key] = struct{}{}
	}
}

// EditItem применяет mutator к копии размещения. Принятая правка
// записывается, помечается и уведомляется; отклонённая отбрасывается целиком.
func (ix *Index) EditItem(key inventory.Key, mutator func(p *grid.Placement) bool) bool {
	i, ok := ix.search(key)
	if !ok {
		return false
	}
	if _, busy := ix.handles[key]; busy {
		panic(fmt.Sprintf("spatial: EditItem(%v) при активном handle", key))
	}

	working := ix.items[i].Placement
	if !mutator(&working) {
		return false
	}

	ix.items[i].Placement = working
	ix.changed[key] = struct{}{}
	if ix.listener != nil {
		ix.listener.PostEntryChange(ix.items[i])
	}
	return true
}

// Handle даёт изменяемый доступ к размещению одной записи до вызова Release.
// Release всегда помечает запись изменённой и уведомляет слушателя.
type Handle struct {
	index    *Index
	key      inventory.Key
	released bool
}

// Handle открывает handle для ключа. Возвращает nil, если ключа нет.
// Второй handle на тот же ключ — ошибка программиста.
func (ix *Index) Handle(key inventory.Key) *Handle {
	if !ix.Contains(key) {
		return nil
	}
	if _, busy := ix.handles[key]; busy {
		panic(fmt.Sprintf("spatial: повторный handle для %v", key))
	}
	ix.handles[key] = struct{}{}
	return &Handle{index: ix, key: key}
}

// Key возвращает ключ записи
func (h *Handle) Key() inventory.Key { return h.key }

// Placement возвращает указатель на размещение, действительный до Release
func (h *Handle) Placement() *grid.Placement {
	if h.released {
		panic(fmt.Sprintf("spatial: handle %v уже освобождён", h.key))
	}
	i, _ := h.index.search(h.key)
	return &h.index.items[i].Placement
}

// Release завершает доступ. Повторный вызов ничего не делает.
func (h *Handle) Release() {
	if h.released {
		return
	}
	h.released = true
	ix := h.index
	delete(ix.handles, h.key)

	i, ok := ix.search(h.key)
	if !ok {
		return
	}
	ix.changed[h.key] = struct{}{}
	if ix.listener != nil {
		ix.listener.PostEntryChange(ix.items[i])
	}
}

// ForEach обходит записи в порядке ключей; fn возвращает false для остановки.
// Менять индекс во время обхода нельзя.
func (ix *Index) ForEach(fn func(e Entry) bool) {
	for _, e := range ix.items {
		if !fn(e) {
			return
		}
	}
}

// Entries возвращает копию записей в порядке ключей
func (ix *Index) Entries() []Entry {
	return slices.Clone(ix.items)
}

// Keys возвращает ключи в порядке возрастания
func (ix *Index) Keys() []inventory.Key {
	keys := make([]inventory.Key, len(ix.items))
	for i, e := range ix.items {
		keys[i] = e.Key
	}
	return keys
}

// TakeDirty возвращает накопленные изменения и сбрасывает их
func (ix *Index) TakeDirty() Dirty {
	d := Dirty{ArrayMarks: ix.arrayMarks}
	for k := range ix.changed {
		d.Changed = append(d.Changed, k)
	}
	for k := range ix.removed {
		d.Removed = append(d.Removed, k)
	}
	slices.SortFunc(d.Changed, inventory.Compare)
	slices.SortFunc(d.Removed, inventory.Compare)

	clear(ix.changed)
	clear(ix.removed)
	ix.arrayMarks = 0
	return d
}
