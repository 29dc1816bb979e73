package spatial

import (
	"testing"

	"github.com/annel0/inventory-grid/internal/grid"
	"github.com/annel0/inventory-grid/internal/inventory"
	"github.com/annel0/inventory-grid/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func v(x, y int) vec.Vec2 { return vec.Vec2{X: x, Y: y} }

func mustShape(t *testing.T, rows ...string) grid.Shape {
	t.Helper()
	s, err := grid.ParseRows(rows)
	require.NoError(t, err)
	return s
}

func requireConsistent(t *testing.T, g *GridExtension) {
	t.Helper()
	require.NoError(t, g.CheckConsistency())
}

type countingRecorder struct {
	ops      map[string][2]int
	occupied int
	total    int
}

func (r *countingRecorder) ObserveOperation(op string, ok bool) {
	if r.ops == nil {
		r.ops = make(map[string][2]int)
	}
	c := r.ops[op]
	if ok {
		c[0]++
	} else {
		c[1]++
	}
	r.ops[op] = c
}

func (r *countingRecorder) ObserveOccupancy(occupied, total int) {
	r.occupied, r.total = occupied, total
}

func TestFirstEmptyLocationOnEmptyGrid(t *testing.T) {
	g := NewGridExtension(v(4, 4))
	single := grid.MakeSquare(1)

	assert.Equal(t, at(0, 0), g.FindFirstEmptyLocation(single))
	require.True(t, g.AddItemToGrid(key(1, 1), single))
	assert.True(t, g.Occupancy().IsOccupied(v(0, 0)))
	assert.Equal(t, 1, g.Occupancy().Count())
	requireConsistent(t, g)
}

func TestAddToFullGridFails(t *testing.T) {
	g := NewGridExtension(v(2, 2))
	require.True(t, g.AddItemToGrid(key(1, 1), grid.MakeSquare(2)))

	assert.False(t, g.AddItemToGrid(key(2, 1), grid.MakeSquare(1)), "В заполненной сетке нет места")
	assert.False(t, g.CanAddItemToGrid(grid.MakeSquare(1)))
	assert.Equal(t, grid.InvalidPlacement, g.FindFirstEmptyLocation(grid.MakeSquare(1)))
	assert.Equal(t, 1, g.Len())
	requireConsistent(t, g)
}

func TestAddItemToGridIsIdempotent(t *testing.T) {
	g := NewGridExtension(v(3, 3))
	require.True(t, g.AddItemToGrid(key(1, 1), grid.MakeRect(1, 2)))
	before := g.Occupancy()

	assert.True(t, g.AddItemToGrid(key(1, 1), grid.MakeRect(1, 2)), "Повторное добавление того же ключа успешно")
	assert.Equal(t, 1, g.Len())
	assert.True(t, before.Equal(g.Occupancy()), "Клетки не помечаются повторно")

	assert.False(t, g.AddItemToGrid(inventory.Key{}, grid.MakeSquare(1)), "Недействительный ключ отклоняется")
}

func TestEmptyShapeOccupiesOneCell(t *testing.T) {
	g := NewGridExtension(v(2, 2))
	require.True(t, g.AddItemToGrid(key(1, 1), grid.Shape{}))
	assert.Equal(t, 1, g.Occupancy().Count())
	bounds, ok := g.GetStackBounds(key(1, 1))
	require.True(t, ok)
	assert.Equal(t, v(1, 1), bounds)
}

func TestBlockedMoveChangesNothing(t *testing.T) {
	g := NewGridExtension(v(3, 3))
	a, b := key(1, 1), key(2, 1)

	require.True(t, g.AddItemToGrid(a, mustShape(t, "##", "#.")))
	require.True(t, g.AddItemToGrid(b, grid.MakeSquare(1)))
	require.True(t, g.MoveItem(b, v(2, 2)))

	before := g.Occupancy()
	assert.False(t, g.MoveItem(b, v(0, 0)), "L-фигура не помещается в угол при обмене")

	pa, _ := g.GetPlacement(a)
	pb, _ := g.GetPlacement(b)
	assert.Equal(t, at(0, 0), pa)
	assert.Equal(t, at(2, 2), pb)
	assert.True(t, before.Equal(g.Occupancy()))
	requireConsistent(t, g)
}

func TestRotateHorizontalBar(t *testing.T) {
	g := NewGridExtension(v(3, 3))
	k := key(1, 1)
	require.True(t, g.AddItemToGrid(k, grid.MakeRect(1, 2)))
	assert.Equal(t, []vec.Vec2{v(0, 0), v(1, 0)}, g.Occupancy().Cells())

	require.True(t, g.RotateItem(k))

	p, _ := g.GetPlacement(k)
	assert.Equal(t, grid.Rotation90, p.Rotation)
	assert.Equal(t, v(0, 0), p.Origin)
	assert.Equal(t, []vec.Vec2{v(0, 0), v(0, 1)}, g.Occupancy().Cells(), "Горизонтальные клетки освобождены, вертикальные заняты")
	bounds, _ := g.GetStackBounds(k)
	assert.Equal(t, v(1, 2), bounds)
	requireConsistent(t, g)

	t.Run("симметричная фигура не поворачивается", func(t *testing.T) {
		sq := key(2, 1)
		require.True(t, g.AddItemToGrid(sq, grid.MakeSquare(1)))
		assert.False(t, g.RotateItem(sq))
	})

	t.Run("поворот, упирающийся в границу", func(t *testing.T) {
		narrow := NewGridExtension(v(2, 1))
		require.True(t, narrow.AddItemToGrid(k, grid.MakeRect(1, 2)))
		assert.False(t, narrow.RotateItem(k))
		p, _ := narrow.GetPlacement(k)
		assert.Equal(t, grid.RotationNone, p.Rotation)
	})
}

func TestMoveSwapsSingleCells(t *testing.T) {
	g := NewGridExtension(v(2, 1))
	k1, k2 := key(1, 1), key(2, 1)
	require.True(t, g.AddItemToGrid(k1, grid.MakeSquare(1)))
	require.True(t, g.AddItemToGrid(k2, grid.MakeSquare(1)))

	require.True(t, g.MoveItem(k1, v(1, 0)))

	p1, _ := g.GetPlacement(k1)
	p2, _ := g.GetPlacement(k2)
	assert.Equal(t, at(1, 0), p1)
	assert.Equal(t, at(0, 0), p2)
	assert.Equal(t, 2, g.Occupancy().Count(), "Заняты всё те же две клетки")
	assert.Equal(t, "BA\n", g.Render())
	requireConsistent(t, g)
}

func TestSwapRequiresDisjointFootprints(t *testing.T) {
	g := NewGridExtension(v(3, 1))
	bar, single := key(1, 1), key(2, 1)
	require.True(t, g.AddItemToGrid(bar, grid.MakeRect(1, 2)))
	require.True(t, g.AddItemToGrid(single, grid.MakeSquare(1)))

	// полоса в (2,0) не помещается, обмен невозможен
	assert.False(t, g.MoveItem(bar, v(1, 0)))
	requireConsistent(t, g)

	// одиночная клетка в (0,0): полоса уезжает в (2,0) и выходит за границы
	assert.False(t, g.MoveItem(single, v(0, 0)))
	requireConsistent(t, g)

	t.Run("новые места не должны пересекаться", func(t *testing.T) {
		g := NewGridExtension(v(3, 1))
		require.True(t, g.AddItemToGrid(single, grid.MakeSquare(1)))
		require.True(t, g.AddItemToGrid(bar, grid.MakeRect(1, 2)))
		pBar, _ := g.GetPlacement(bar)
		require.Equal(t, at(1, 0), pBar)

		// клетка уезжает в (1,0), полоса в (0,0)-(1,0): каждая помещается
		// отдельно, но вместе они пересекаются
		assert.False(t, g.MoveItem(single, v(1, 0)))
		pSingle, _ := g.GetPlacement(single)
		assert.Equal(t, at(0, 0), pSingle)
		requireConsistent(t, g)
	})
}

func TestMoveToFreeCell(t *testing.T) {
	g := NewGridExtension(v(4, 4))
	k := key(1, 1)
	require.True(t, g.AddItemToGrid(k, grid.MakeSquare(2)))

	assert.True(t, g.MoveItem(k, v(2, 2)))
	assert.Equal(t, []vec.Vec2{v(2, 2), v(3, 2), v(2, 3), v(3, 3)}, g.Occupancy().Cells())

	assert.False(t, g.MoveItem(k, v(3, 3)), "За границей сетки")
	assert.True(t, g.MoveItem(k, v(1, 2)), "Перекрытие с собственными клетками допустимо")
	assert.False(t, g.MoveItem(key(9, 9), v(0, 0)))
	requireConsistent(t, g)
}

func TestGetKeyAtAnyCell(t *testing.T) {
	g := NewGridExtension(v(3, 3))
	a := key(1, 1)
	require.True(t, g.AddItemToGrid(a, mustShape(t, "##", "#.")))

	for _, c := range []vec.Vec2{v(0, 0), v(1, 0), v(0, 1)} {
		k, ok := g.GetKeyAt(c)
		require.True(t, ok, "клетка %v", c)
		assert.Equal(t, a, k)
	}
	_, ok := g.GetKeyAt(v(1, 1))
	assert.False(t, ok, "Пустая клетка внутри рамки фигуры")
	_, ok = g.GetKeyAt(v(5, 5))
	assert.False(t, ok)

	onGrid, ok := g.GetItemShapeOnGrid(a)
	require.True(t, ok)
	assert.True(t, onGrid.Contains(v(0, 1)))
}

func TestSetGridSize(t *testing.T) {
	g := NewGridExtension(v(3, 3))
	var sizes []vec.Vec2
	unsubscribe := g.Subscribe(ObserverFuncs{OnSize: func(s vec.Vec2) { sizes = append(sizes, s) }})

	k := key(1, 1)
	require.True(t, g.AddItemToGrid(k, grid.MakeSquare(1)))
	require.True(t, g.MoveItem(k, v(2, 2)))

	assert.False(t, g.SetGridSize(v(2, 2)), "Уменьшение, обрезающее стопку, отклоняется")
	assert.Equal(t, v(3, 3), g.GridSize())
	assert.False(t, g.SetGridSize(v(-1, 3)))

	assert.True(t, g.SetGridSize(v(5, 4)))
	assert.Equal(t, v(5, 4), g.GridSize())
	assert.True(t, g.Occupancy().IsOccupied(v(2, 2)), "Клетки сохраняются при росте")
	requireConsistent(t, g)

	assert.Equal(t, []vec.Vec2{v(5, 4)}, sizes)
	unsubscribe()
	require.True(t, g.MoveItem(k, v(0, 0)))
	assert.True(t, g.SetGridSize(v(1, 1)))
	assert.Len(t, sizes, 1, "После отписки события не приходят")
}

func TestCanAddItemsToGrid(t *testing.T) {
	g := NewGridExtension(v(2, 2))
	bar := grid.MakeRect(1, 2)

	assert.True(t, g.CanAddItemsToGrid([]grid.Shape{bar, bar}))
	assert.False(t, g.CanAddItemsToGrid([]grid.Shape{bar, bar, grid.MakeSquare(1)}))
	assert.Equal(t, 0, g.Occupancy().Count(), "Проверка не меняет сетку")
}

func TestRemoveItems(t *testing.T) {
	g := NewGridExtension(v(3, 3))
	var events []EventType
	g.Subscribe(ObserverFuncs{OnEntry: func(_ inventory.Key, ev EventType) { events = append(events, ev) }})

	require.True(t, g.AddItemToGrid(key(1, 1), grid.MakeSquare(1)))
	require.True(t, g.AddItemToGrid(key(1, 2), grid.MakeSquare(1)))
	require.True(t, g.AddItemToGrid(key(2, 1), grid.MakeRect(1, 2)))
	g.TakeDelta()

	assert.Equal(t, 2, g.RemoveItemsForEntry(1))
	assert.Equal(t, 2, g.Occupancy().Count())
	assert.False(t, g.RemoveItem(key(1, 1)))
	assert.True(t, g.RemoveItem(key(2, 1)))
	assert.Equal(t, 0, g.Occupancy().Count())
	requireConsistent(t, g)

	assert.Equal(t, []EventType{
		EventItemAdded, EventItemAdded, EventItemAdded,
		EventItemRemoved, EventItemRemoved, EventItemRemoved,
	}, events)

	d := g.TakeDelta()
	assert.Equal(t, []inventory.Key{key(1, 1), key(1, 2), key(2, 1)}, d.Removed)
	assert.Empty(t, d.Upserts)
}

func TestRecorderObservesOperations(t *testing.T) {
	g := NewGridExtension(v(2, 2))
	rec := &countingRecorder{}
	g.SetRecorder(rec)

	require.True(t, g.AddItemToGrid(key(1, 1), grid.MakeSquare(2)))
	assert.False(t, g.AddItemToGrid(key(2, 1), grid.MakeSquare(1)))

	assert.Equal(t, [2]int{1, 1}, rec.ops["add"])
	assert.Equal(t, 4, rec.occupied)
	assert.Equal(t, 4, rec.total)
}

func TestBatchRemovalNotifiesOnce(t *testing.T) {
	g := NewGridExtension(v(4, 1))
	rec := &countingRecorder{}
	g.SetRecorder(rec)
	for i := int64(1); i <= 4; i++ {
		require.True(t, g.AddItemToGrid(key(i, 1), grid.MakeSquare(1)))
	}
	require.Equal(t, 4, rec.occupied)

	assert.Equal(t, 3, g.RemoveItemBatch([]inventory.Key{key(1, 1), key(2, 1), key(3, 1)}))
	assert.Equal(t, uint64(1), g.ArrayChanges(), "Пакет из трёх удалений — одно изменение массива")
	assert.Equal(t, [2]int{1, 0}, rec.ops["array_changed"])
	assert.Equal(t, 1, rec.occupied, "Занятость обновлена после пакета")

	assert.Zero(t, g.RemoveItemBatch([]inventory.Key{key(9, 1)}))
	assert.Equal(t, uint64(1), g.ArrayChanges())

	assert.True(t, g.RemoveItem(key(4, 1)))
	assert.Equal(t, uint64(2), g.ArrayChanges())
	assert.Equal(t, [2]int{2, 0}, rec.ops["array_changed"])
	assert.Equal(t, 0, rec.occupied)
	requireConsistent(t, g)
}

// ======== совместная работа с контейнером ========

var (
	potion = &inventory.Item{ID: "potion", Name: "Зелье", StackLimit: 5}
	bow    = &inventory.Item{ID: "bow", Name: "Лук", Shape: grid.MakeRect(3, 1), StackLimit: 1}
	armor  = &inventory.Item{ID: "armor", Name: "Броня", Shape: grid.MakeSquare(2), StackLimit: 1}
)

func TestContainerAdditionsArePlaced(t *testing.T) {
	s := inventory.NewStorage()
	g := NewGridExtension(v(4, 3))
	s.AddExtension(g)
	require.True(t, g.Initialized())

	ev, err := s.AddItem(potion, 7)
	require.NoError(t, err)
	assert.Len(t, ev.Stacks, 2)
	assert.Equal(t, 2, g.Len())

	_, err = s.AddItem(armor, 1)
	require.NoError(t, err)
	_, err = s.AddItem(bow, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, g.Len())
	assert.Equal(t, 2+4+3, g.Occupancy().Count())
	requireConsistent(t, g)

	t.Run("нет свободных клеток — добавление запрещено", func(t *testing.T) {
		before := s.Export()
		_, err := s.AddItem(armor, 1)
		assert.ErrorIs(t, err, inventory.ErrNotAllowed)
		assert.Equal(t, before, s.Export())
	})

	t.Run("удаление стопки освобождает клетки", func(t *testing.T) {
		entry, ok := s.Entry(ev.Entry)
		require.True(t, ok)
		k := inventory.Key{Entry: ev.Entry, Stack: entry.Stacks[1].Key}
		_, err := s.RemoveItems(k, entry.Stacks[1].Copies)
		require.NoError(t, err)
		_, ok = g.GetPlacement(k)
		assert.False(t, ok)
		assert.Equal(t, 1+4+3, g.Occupancy().Count())
		requireConsistent(t, g)
	})

	t.Run("удаление записи убирает все её стопки", func(t *testing.T) {
		_, err := s.RemoveEntry(ev.Entry)
		require.NoError(t, err)
		assert.Equal(t, 2, g.Len())
		requireConsistent(t, g)
	})
}

func TestContainerSplitAndMerge(t *testing.T) {
	s := inventory.NewStorage()
	g := NewGridExtension(v(2, 1))
	s.AddExtension(g)

	ev, err := s.AddItem(potion, 3)
	require.NoError(t, err)
	orig := inventory.Key{Entry: ev.Entry, Stack: ev.Stacks[0]}

	split, err := s.SplitStack(orig, 1)
	require.NoError(t, err)
	p, ok := g.GetPlacement(split)
	require.True(t, ok, "Новая стопка размещена в сетке")
	assert.Equal(t, at(1, 0), p)

	_, err = s.SplitStack(orig, 1)
	assert.ErrorIs(t, err, inventory.ErrNotAllowed, "Для второй новой стопки нет места")

	// перенос на стопку той же записи сливает их
	require.True(t, g.MoveItem(split, v(0, 0)))
	assert.Equal(t, 3, s.Copies(orig))
	assert.False(t, s.IsValidKey(split))
	assert.Equal(t, 1, g.Len())
	assert.Equal(t, []vec.Vec2{v(0, 0)}, g.Occupancy().Cells())
	requireConsistent(t, g)
}

func TestFullStackMoveFallsBackToSwap(t *testing.T) {
	s := inventory.NewStorage()
	g := NewGridExtension(v(2, 1))
	s.AddExtension(g)

	ev, err := s.AddItem(potion, 10)
	require.NoError(t, err)
	first := inventory.Key{Entry: ev.Entry, Stack: ev.Stacks[0]}
	second := inventory.Key{Entry: ev.Entry, Stack: ev.Stacks[1]}

	require.True(t, g.MoveItem(first, v(1, 0)), "Полные стопки не сливаются, а меняются местами")
	p1, _ := g.GetPlacement(first)
	p2, _ := g.GetPlacement(second)
	assert.Equal(t, at(1, 0), p1)
	assert.Equal(t, at(0, 0), p2)
	assert.Equal(t, 5, s.Copies(first))
}

func TestInitializeWithExistingItems(t *testing.T) {
	catalog := inventory.NewCatalog()
	require.NoError(t, catalog.Register(armor))
	require.NoError(t, catalog.Register(potion))

	src := inventory.NewStorage()
	_, err := src.AddItem(armor, 1)
	require.NoError(t, err)
	_, err = src.AddItem(armor, 1)
	require.NoError(t, err)
	_, err = src.AddItem(potion, 2)
	require.NoError(t, err)

	s := inventory.NewStorage()
	require.NoError(t, s.Import(src.Export(), catalog))

	g := NewGridExtension(v(2, 3))
	s.AddExtension(g)
	assert.Equal(t, 2, g.Len(), "Вторая броня не поместилась и пропущена")
	requireConsistent(t, g)

	assert.Panics(t, func() { g.InitializeExtension(s) })

	s.RemoveExtension(g)
	assert.False(t, g.Initialized())
	assert.Equal(t, 0, g.Len())
	assert.Equal(t, 0, g.Occupancy().Count())
}
