package spatial

import (
	"fmt"
	"strings"

	"github.com/annel0/inventory-grid/internal/grid"
	"github.com/annel0/inventory-grid/internal/inventory"
	"github.com/annel0/inventory-grid/internal/logging"
	"github.com/annel0/inventory-grid/internal/vec"
	"github.com/kamstrup/intmap"
	"github.com/zyedidia/generic/mapset"
)

// GridExtension связывает контейнер предметов с сеткой: хранит индекс
// размещений и карту занятости, выполняет добавление, перемещение,
// поворот и обмен предметов. Единственный владелец индекса и карты.
//
// Не потокобезопасен: все вызовы должны идти из одного владельца.
type GridExtension struct {
	size      vec.Vec2
	cells     *grid.Occupancy
	index     *Index
	container inventory.Container

	// фигуры записей, запомненные при размещении: при удалении данные
	// контейнера могут быть уже недоступны
	shapes *intmap.Map[inventory.EntryKey, grid.Shape]

	observers observerList
	recorder  OperationRecorder
	sizeDirty bool
	log       *logging.Logger

	arrayChanges uint64
}

// NewGridExtension создаёт сетку заданного размера
func NewGridExtension(size vec.Vec2) *GridExtension {
	// первая дельта несёт размер, чтобы реплика могла начать с нуля
	g := &GridExtension{
		size:      size.ComponentMax(vec.Zero),
		shapes:    intmap.New[inventory.EntryKey, grid.Shape](64),
		sizeDirty: true,
		log:       logging.GetSpatialLogger(),
	}
	g.cells = grid.NewOccupancy(g.size)
	g.index = NewIndex(indexListener{g})
	return g
}

// SetRecorder подключает сборщик метрик операций
func (g *GridExtension) SetRecorder(r OperationRecorder) {
	g.recorder = r
}

// ArrayChanges возвращает число структурных изменений индекса
// (удалений, пакет считается за одно)
func (g *GridExtension) ArrayChanges() uint64 {
	return g.arrayChanges
}

// Subscribe регистрирует наблюдателя. Возвращает функцию отписки.
func (g *GridExtension) Subscribe(o Observer) func() {
	return g.observers.add(o)
}

// indexListener переводит уведомления индекса в работу с картой и события сетки
type indexListener struct {
	g *GridExtension
}

func (l indexListener) PostEntryAdd(e Entry) {
	l.g.observers.entry(e.Key, EventItemAdded)
}

func (l indexListener) PreEntryRemove(e Entry) {
	l.g.unmarkInBounds(l.g.shapeOf(e.Key.Entry).ApplyPlacement(e.Placement))
	l.g.observers.entry(e.Key, EventItemRemoved)
}

func (l indexListener) PostEntryChange(e Entry) {
	l.g.observers.entry(e.Key, EventItemChanged)
}

// PostArrayChange обновляет метрику занятости один раз на удаление или пакет
func (l indexListener) PostArrayChange() {
	l.g.arrayChanges++
	l.g.observe("array_changed", true)
}

func (g *GridExtension) observe(op string, ok bool) bool {
	if g.recorder != nil {
		g.recorder.ObserveOperation(op, ok)
		g.recorder.ObserveOccupancy(g.cells.Count(), g.size.Area())
	}
	return ok
}

// shapeOf возвращает фигуру записи: из кэша, затем из контейнера.
// Неизвестная запись даёт одну клетку и предупреждение.
func (g *GridExtension) shapeOf(entry inventory.EntryKey) grid.Shape {
	if s, ok := g.shapes.Get(entry); ok {
		return s
	}
	if g.container != nil {
		if s, ok := g.container.ShapeForEntry(entry); ok {
			s = s.OrDefault()
			if g.index.HasEntry(entry) {
				g.shapes.Put(entry, s)
			}
			return s
		}
	}
	g.log.Warn("фигура для записи %d не найдена, используется одна клетка", entry)
	return grid.MakeSquare(1)
}

func (g *GridExtension) forgetUnusedShapes(keys []inventory.Key) {
	for _, k := range keys {
		if !g.index.HasEntry(k.Entry) {
			g.shapes.Del(k.Entry)
		}
	}
}

// ======== жизненный цикл ========

// InitializeExtension привязывает сетку к контейнеру и размещает все его стопки.
// Повторная инициализация без деинициализации — ошибка программиста.
func (g *GridExtension) InitializeExtension(c inventory.Container) {
	if g.container != nil {
		panic("spatial: сетка уже инициализирована контейнером")
	}
	g.container = c
	g.cells = grid.NewOccupancy(g.size)
	g.index.ForEach(func(e Entry) bool {
		g.cells.MarkShape(g.shapeOf(e.Key.Entry).ApplyPlacement(e.Placement))
		return true
	})

	placed, failed := 0, 0
	c.ForEachKey(func(entry inventory.EntryKey) {
		shape, _ := c.ShapeForEntry(entry)
		for _, stack := range c.StackKeys(entry) {
			key := inventory.Key{Entry: entry, Stack: stack}
			if g.AddItemToGrid(key, shape) {
				placed++
			} else {
				failed++
				g.log.Warn("стопка %v не помещается в сетку %v при инициализации", key, g.size)
			}
		}
	})
	g.log.Debug("сетка %v инициализирована: размещено %d, не поместилось %d", g.size, placed, failed)
}

// DeinitializeExtension убирает из сетки все стопки и отвязывает контейнер
func (g *GridExtension) DeinitializeExtension(c inventory.Container) {
	if g.container == nil || g.container != c {
		panic("spatial: деинициализация контейнером, который не инициализировал сетку")
	}
	c.ForEachKey(func(entry inventory.EntryKey) {
		g.RemoveItemsForEntry(entry)
	})
	if g.index.Len() > 0 {
		g.RemoveItemBatch(g.index.Keys())
	}
	g.container = nil
}

// Initialized сообщает, привязана ли сетка к контейнеру
func (g *GridExtension) Initialized() bool {
	return g.container != nil
}

// ======== события контейнера ========

// AllowsAddition — приблизительная проверка по числу свободных клеток,
// без точного поиска места
func (g *GridExtension) AllowsAddition(_ inventory.Container, additions []inventory.Addition) bool {
	needed := 0
	for _, a := range additions {
		needed += a.Item.Footprint().Len() * a.NewStacks
	}
	return g.observe("allows_addition", g.cells.Free() >= needed)
}

// AllowsEdit запрещает разделение стопки, если новой стопке нет места
func (g *GridExtension) AllowsEdit(_ inventory.Container, key inventory.Key, edit inventory.EditType) bool {
	if edit != inventory.EditSplit {
		return true
	}
	return g.observe("allows_split", g.CanAddItemToGrid(g.shapeOf(key.Entry)))
}

// PostAddition размещает новые стопки
func (g *GridExtension) PostAddition(c inventory.Container, ev inventory.Event) {
	var shape grid.Shape
	if ev.Item != nil {
		shape = ev.Item.Shape
	} else {
		shape, _ = c.ShapeForEntry(ev.Entry)
	}
	for _, key := range ev.Keys() {
		if !g.AddItemToGrid(key, shape) {
			g.log.Warn("стопка %v добавлена в контейнер, но не помещается в сетку", key)
		}
	}
}

// PostRemoval убирает из сетки стопки, которых больше нет в контейнере
func (g *GridExtension) PostRemoval(c inventory.Container, ev inventory.Event) {
	if !c.IsValidEntry(ev.Entry) {
		g.RemoveItemsForEntry(ev.Entry)
		return
	}
	var gone []inventory.Key
	for _, key := range ev.Keys() {
		if !c.IsValidKey(key) {
			gone = append(gone, key)
		}
	}
	if len(gone) > 0 {
		g.RemoveItemBatch(gone)
	}
}

// PostEntryChanged размещает стопки, появившиеся после разделения,
// убирает исчезнувшие после слияния и уведомляет об остальных
func (g *GridExtension) PostEntryChanged(c inventory.Container, ev inventory.Event) {
	var gone []inventory.Key
	for _, key := range ev.Keys() {
		switch {
		case !c.IsValidKey(key):
			gone = append(gone, key)
		case !g.index.Contains(key):
			shape, _ := c.ShapeForEntry(key.Entry)
			if !g.AddItemToGrid(key, shape) {
				g.log.Warn("новая стопка %v не помещается в сетку", key)
			}
		default:
			g.index.MarkItemDirty(key)
			g.observers.entry(key, EventItemChanged)
		}
	}
	if len(gone) > 0 {
		g.RemoveItemBatch(gone)
	}
}

// ======== поиск места ========

// FindFirstEmptyLocation перебирает клетки построчно (y, затем x) и повороты
// в фиксированном порядке; возвращает первое подходящее размещение или
// grid.InvalidPlacement. Симметричные фигуры пробуются только без поворота.
func (g *GridExtension) FindFirstEmptyLocation(shape grid.Shape) grid.Placement {
	return firstFit(g.cells, shape.OrDefault())
}

func firstFit(cells *grid.Occupancy, shape grid.Shape) grid.Placement {
	size := cells.Size()
	if size.Area() == 0 {
		return grid.InvalidPlacement
	}

	rotations := grid.Rotations[:]
	if shape.IsSymmetrical() {
		rotations = rotations[:1]
	}

	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			origin := vec.Vec2{X: x, Y: y}
			if cells.IsOccupied(origin) {
				continue
			}
			for _, r := range rotations {
				p := grid.Placement{Origin: origin, Rotation: r}
				if fitsOn(cells, shape, p, noCells) {
					return p
				}
			}
		}
	}
	return grid.InvalidPlacement
}

// noCells — пустое множество исключённых клеток, только для чтения
var noCells = mapset.New[int]()

func fitsOn(cells *grid.Occupancy, shape grid.Shape, p grid.Placement, excluded mapset.Set[int]) bool {
	for _, c := range shape.ApplyPlacement(p).Points() {
		if !cells.InBounds(c) {
			return false
		}
		if cells.IsOccupied(c) && !excluded.Has(cells.Ravel(c)) {
			return false
		}
	}
	return true
}

// cellsOf собирает клетки, занятые перечисленными ключами
func (g *GridExtension) cellsOf(keys ...inventory.Key) mapset.Set[int] {
	set := mapset.New[int]()
	for _, k := range keys {
		p, ok := g.index.Find(k)
		if !ok {
			continue
		}
		for _, c := range g.shapeOf(k.Entry).ApplyPlacement(p).Points() {
			if g.cells.InBounds(c) {
				set.Put(g.cells.Ravel(c))
			}
		}
	}
	return set
}

// FitsInGrid проверяет, помещается ли фигура в размещение. Клетки ключей
// из excluded считаются свободными.
func (g *GridExtension) FitsInGrid(shape grid.Shape, p grid.Placement, excluded ...inventory.Key) bool {
	if !p.IsValid() {
		return false
	}
	return fitsOn(g.cells, shape.OrDefault(), p, g.cellsOf(excluded...))
}

// ======== операции над предметами ========

// AddItemToGrid размещает стопку в первом свободном месте. Повторный вызов
// для того же ключа ничего не меняет и возвращает true. Пустая фигура — одна клетка.
func (g *GridExtension) AddItemToGrid(key inventory.Key, shape grid.Shape) bool {
	return g.observe("add", g.addItem(key, shape))
}

func (g *GridExtension) addItem(key inventory.Key, shape grid.Shape) bool {
	if !key.IsValid() {
		g.log.Warn("попытка разместить недействительный ключ %v", key)
		return false
	}
	if g.index.Contains(key) {
		return true
	}

	if cached, ok := g.shapes.Get(key.Entry); ok {
		shape = cached
	} else {
		shape = shape.OrDefault()
	}

	p := g.FindFirstEmptyLocation(shape)
	if !p.IsValid() {
		return false
	}

	g.shapes.Put(key.Entry, shape)
	g.cells.MarkShape(shape.ApplyPlacement(p))
	g.index.Insert(key, p)
	return true
}

// MoveItem переносит стопку так, чтобы origin оказался в target.
// Если на месте стоит другая стопка той же записи, сначала пробует слить
// стопки; иначе пробует обменять предметы местами. При неудаче ничего не меняется.
func (g *GridExtension) MoveItem(key inventory.Key, target vec.Vec2) bool {
	return g.observe("move", g.moveItem(key, target))
}

func (g *GridExtension) moveItem(key inventory.Key, target vec.Vec2) bool {
	p, ok := g.index.Find(key)
	if !ok {
		g.log.Warn("перемещение: ключ %v не найден в сетке", key)
		return false
	}

	shape := g.shapeOf(key.Entry)
	dest := grid.Placement{Origin: target, Rotation: p.Rotation}
	if other, found := g.overlappingItem(shape.ApplyPlacement(dest), key); found {
		if other.Entry == key.Entry && g.container != nil {
			if g.container.MergeStacks(key.Entry, key.Stack, other.Stack) {
				return true
			}
		}
		return g.trySwapItems(key, other)
	}
	return g.moveSingleItem(key, target)
}

// overlappingItem ищет первую (в порядке ключей) чужую стопку, пересекающую footprint
func (g *GridExtension) overlappingItem(footprint grid.Shape, self inventory.Key) (inventory.Key, bool) {
	target := mapset.New[vec.Vec2]()
	for _, c := range footprint.Points() {
		if g.cells.InBounds(c) && g.cells.IsOccupied(c) {
			target.Put(c)
		}
	}
	if target.Size() == 0 {
		return inventory.Key{}, false
	}

	var found inventory.Key
	ok := false
	g.index.ForEach(func(e Entry) bool {
		if e.Key == self {
			return true
		}
		for _, c := range g.shapeOf(e.Key.Entry).ApplyPlacement(e.Placement).Points() {
			if target.Has(c) {
				found, ok = e.Key, true
				return false
			}
		}
		return true
	})
	return found, ok
}

func (g *GridExtension) trySwapItems(a, b inventory.Key) bool {
	pa, okA := g.index.Find(a)
	pb, okB := g.index.Find(b)
	if !okA || !okB {
		return false
	}

	shapeA, shapeB := g.shapeOf(a.Entry), g.shapeOf(b.Entry)
	newA := grid.Placement{Origin: pb.Origin, Rotation: pa.Rotation}
	newB := grid.Placement{Origin: pa.Origin, Rotation: pb.Rotation}

	excluded := g.cellsOf(a, b)
	if !fitsOn(g.cells, shapeA, newA, excluded) || !fitsOn(g.cells, shapeB, newB, excluded) {
		return false
	}
	if shapeA.ApplyPlacement(newA).Overlaps(shapeB.ApplyPlacement(newB)) {
		return false
	}

	g.cells.UnmarkShape(shapeA.ApplyPlacement(pa))
	g.cells.UnmarkShape(shapeB.ApplyPlacement(pb))
	g.cells.MarkShape(shapeA.ApplyPlacement(newA))
	g.cells.MarkShape(shapeB.ApplyPlacement(newB))

	ha, hb := g.index.Handle(a), g.index.Handle(b)
	*ha.Placement() = newA
	*hb.Placement() = newB
	ha.Release()
	hb.Release()

	g.log.Debug("обмен %v ↔ %v", a, b)
	return true
}

func (g *GridExtension) moveSingleItem(key inventory.Key, target vec.Vec2) bool {
	p, ok := g.index.Find(key)
	if !ok {
		return false
	}
	shape := g.shapeOf(key.Entry)
	dest := grid.Placement{Origin: target, Rotation: p.Rotation}
	if !fitsOn(g.cells, shape, dest, g.cellsOf(key)) {
		return false
	}
	if dest == p {
		return true
	}

	g.cells.UnmarkShape(shape.ApplyPlacement(p))
	g.cells.MarkShape(shape.ApplyPlacement(dest))
	return g.index.EditItem(key, func(pl *grid.Placement) bool {
		pl.Origin = target
		return true
	})
}

// RotateItem поворачивает стопку на следующие 90° на том же месте.
// Симметричные фигуры не поворачиваются (false).
func (g *GridExtension) RotateItem(key inventory.Key) bool {
	return g.observe("rotate", g.rotateItem(key))
}

func (g *GridExtension) rotateItem(key inventory.Key) bool {
	p, ok := g.index.Find(key)
	if !ok {
		g.log.Warn("поворот: ключ %v не найден в сетке", key)
		return false
	}
	shape := g.shapeOf(key.Entry)
	if shape.IsSymmetrical() {
		return false
	}

	next := grid.Placement{Origin: p.Origin, Rotation: p.Rotation.Next()}
	if !fitsOn(g.cells, shape, next, g.cellsOf(key)) {
		return false
	}

	g.cells.UnmarkShape(shape.ApplyPlacement(p))
	g.cells.MarkShape(shape.ApplyPlacement(next))
	return g.index.EditItem(key, func(pl *grid.Placement) bool {
		pl.Rotation = next.Rotation
		return true
	})
}

// RemoveItem убирает стопку из сетки
func (g *GridExtension) RemoveItem(key inventory.Key) bool {
	ok := g.index.Remove(key)
	if ok {
		g.forgetUnusedShapes([]inventory.Key{key})
	}
	return g.observe("remove", ok)
}

// RemoveItemBatch убирает несколько стопок с одним уведомлением массива
func (g *GridExtension) RemoveItemBatch(keys []inventory.Key) int {
	n := g.index.RemoveBatch(keys)
	g.forgetUnusedShapes(keys)
	g.observe("remove_batch", n > 0)
	return n
}

// RemoveItemsForEntry убирает все стопки записи
func (g *GridExtension) RemoveItemsForEntry(entry inventory.EntryKey) int {
	keys := g.index.KeysForEntry(entry)
	if len(keys) == 0 {
		return 0
	}
	return g.RemoveItemBatch(keys)
}

// SetGridSize меняет размер сетки. Уменьшение, при котором хоть одна стопка
// выходит за границы, отклоняется.
func (g *GridExtension) SetGridSize(size vec.Vec2) bool {
	return g.observe("resize", g.setGridSize(size))
}

func (g *GridExtension) setGridSize(size vec.Vec2) bool {
	if size.X < 0 || size.Y < 0 {
		return false
	}
	if size == g.size {
		return true
	}

	bounds := grid.NewOccupancy(size)
	fits := true
	g.index.ForEach(func(e Entry) bool {
		for _, c := range g.shapeOf(e.Key.Entry).ApplyPlacement(e.Placement).Points() {
			if !bounds.InBounds(c) {
				fits = false
				return false
			}
		}
		return true
	})
	if !fits {
		g.log.Debug("изменение размера %v → %v отклонено: стопки выходят за границы", g.size, size)
		return false
	}

	g.cells.Resize(size)
	g.size = size
	g.sizeDirty = true
	g.observers.size(size)
	return true
}

// ======== запросы ========

// GridSize возвращает размер сетки
func (g *GridExtension) GridSize() vec.Vec2 { return g.size }

// Len возвращает количество размещённых стопок
func (g *GridExtension) Len() int { return g.index.Len() }

// Entries возвращает размещения в порядке ключей
func (g *GridExtension) Entries() []Entry { return g.index.Entries() }

// Occupancy возвращает копию карты занятости
func (g *GridExtension) Occupancy() *grid.Occupancy { return g.cells.Clone() }

// GetPlacement возвращает размещение стопки
func (g *GridExtension) GetPlacement(key inventory.Key) (grid.Placement, bool) {
	return g.index.Find(key)
}

// GetItemShapeOnGrid возвращает фигуру стопки, повёрнутую и перенесённую в её место
func (g *GridExtension) GetItemShapeOnGrid(key inventory.Key) (grid.Shape, bool) {
	p, ok := g.index.Find(key)
	if !ok {
		return grid.Shape{}, false
	}
	return g.shapeOf(key.Entry).ApplyPlacement(p), true
}

// GetStackBounds возвращает размер стопки с учётом поворота
func (g *GridExtension) GetStackBounds(key inventory.Key) (vec.Vec2, bool) {
	s, ok := g.GetItemShapeOnGrid(key)
	if !ok {
		return vec.Zero, false
	}
	return s.Size(), true
}

// GetKeyAt возвращает стопку, занимающую клетку p (любую её клетку)
func (g *GridExtension) GetKeyAt(p vec.Vec2) (inventory.Key, bool) {
	if !g.cells.InBounds(p) || !g.cells.IsOccupied(p) {
		return inventory.Key{}, false
	}
	var found inventory.Key
	ok := false
	g.index.ForEach(func(e Entry) bool {
		if g.shapeOf(e.Key.Entry).ApplyPlacement(e.Placement).Contains(p) {
			found, ok = e.Key, true
			return false
		}
		return true
	})
	return found, ok
}

// CanAddItemToGrid проверяет, найдётся ли место для фигуры
func (g *GridExtension) CanAddItemToGrid(shape grid.Shape) bool {
	return g.FindFirstEmptyLocation(shape).IsValid()
}

// CanAddItemsToGrid проверяет, поместятся ли все фигуры вместе, размещая их
// по очереди на копии карты
func (g *GridExtension) CanAddItemsToGrid(shapes []grid.Shape) bool {
	cells := g.cells.Clone()
	for _, s := range shapes {
		s = s.OrDefault()
		p := firstFit(cells, s)
		if !p.IsValid() {
			return false
		}
		cells.MarkShape(s.ApplyPlacement(p))
	}
	return true
}

const renderSymbols = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Render рисует сетку: каждая стопка своей буквой, '.' — свободно,
// '?' — занятая клетка без владельца
func (g *GridExtension) Render() string {
	rows := make([][]byte, g.size.Y)
	for y := range rows {
		rows[y] = []byte(strings.Repeat(".", g.size.X))
		for x := range rows[y] {
			if g.cells.IsOccupied(vec.Vec2{X: x, Y: y}) {
				rows[y][x] = '?'
			}
		}
	}
	i := 0
	g.index.ForEach(func(e Entry) bool {
		ch := renderSymbols[i%len(renderSymbols)]
		i++
		for _, c := range g.shapeOf(e.Key.Entry).ApplyPlacement(e.Placement).Points() {
			if g.cells.InBounds(c) {
				rows[c.Y][c.X] = ch
			}
		}
		return true
	})

	var b strings.Builder
	for _, row := range rows {
		b.Write(row)
		b.WriteByte('\n')
	}
	return b.String()
}

func (g *GridExtension) String() string {
	return fmt.Sprintf("GridExtension{size=%v items=%d occupied=%d}", g.size, g.index.Len(), g.cells.Count())
}
