package spatial

import (
	"encoding/json"
	"testing"

	"github.com/annel0/inventory-grid/internal/grid"
	"github.com/annel0/inventory-grid/internal/inventory"
	"github.com/annel0/inventory-grid/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireSameGrid(t *testing.T, want, got *GridExtension) {
	t.Helper()
	require.Equal(t, want.GridSize(), got.GridSize())
	require.Equal(t, want.Entries(), got.Entries())
	require.True(t, want.Occupancy().Equal(got.Occupancy()),
		"карты различаются:\n%v\n%v", want.Occupancy(), got.Occupancy())
	requireConsistent(t, got)
}

// replicate передаёт дельту через JSON, как это делает транспорт
func replicate(t *testing.T, src, replica *GridExtension) Delta {
	t.Helper()
	raw, err := json.Marshal(src.TakeDelta())
	require.NoError(t, err)
	var d Delta
	require.NoError(t, json.Unmarshal(raw, &d))
	replica.ApplyDelta(d)
	return d
}

func TestDeltaReplication(t *testing.T) {
	s := inventory.NewStorage()
	src := NewGridExtension(v(4, 4))
	s.AddExtension(src)
	replica := NewGridExtension(vec.Zero)

	potionEv, err := s.AddItem(potion, 8)
	require.NoError(t, err)
	armorEv, err := s.AddItem(armor, 1)
	require.NoError(t, err)
	bowEv, err := s.AddItem(bow, 1)
	require.NoError(t, err)

	d := replicate(t, src, replica)
	assert.Len(t, d.Upserts, 4)
	require.NotNil(t, d.Size, "Первая дельта несёт размер сетки")
	assert.Equal(t, v(4, 4), *d.Size)
	requireSameGrid(t, src, replica)

	t.Run("перемещение и поворот", func(t *testing.T) {
		armorKey := inventory.Key{Entry: armorEv.Entry, Stack: armorEv.Stacks[0]}
		require.True(t, src.MoveItem(armorKey, v(2, 2)))
		require.True(t, src.RotateItem(inventory.Key{Entry: bowEv.Entry, Stack: bowEv.Stacks[0]}))

		replicate(t, src, replica)
		requireSameGrid(t, src, replica)
	})

	t.Run("удаление", func(t *testing.T) {
		_, err := s.RemoveItems(inventory.Key{Entry: potionEv.Entry, Stack: potionEv.Stacks[1]}, 3)
		require.NoError(t, err)

		d := replicate(t, src, replica)
		assert.Len(t, d.Removed, 1)
		requireSameGrid(t, src, replica)
	})

	t.Run("изменение размера", func(t *testing.T) {
		require.True(t, src.SetGridSize(v(6, 5)))
		d := replicate(t, src, replica)
		require.NotNil(t, d.Size)
		assert.Equal(t, v(6, 5), *d.Size)
		requireSameGrid(t, src, replica)
	})

	t.Run("пустая дельта", func(t *testing.T) {
		assert.True(t, src.TakeDelta().IsEmpty())
		assert.True(t, replica.TakeDelta().IsEmpty(), "Применение дельты не копит изменения на реплике")
	})
}

func TestDeltaCarriesShapes(t *testing.T) {
	src := NewGridExtension(v(3, 3))
	k := key(1, 1)
	require.True(t, src.AddItemToGrid(k, mustShape(t, "##", "#.")))

	d := src.TakeDelta()
	require.Len(t, d.Upserts, 1)
	assert.True(t, d.Upserts[0].Shape.Equal(mustShape(t, "##", "#.")))

	replica := NewGridExtension(v(3, 3))
	replica.ApplyDelta(d)
	onGrid, ok := replica.GetItemShapeOnGrid(k)
	require.True(t, ok)
	assert.Equal(t, 3, onGrid.Len())
}

func TestSnapshotRoundTrip(t *testing.T) {
	catalog := inventory.NewCatalog()
	for _, it := range []*inventory.Item{potion, armor, bow} {
		require.NoError(t, catalog.Register(it))
	}

	s := inventory.NewStorage()
	src := NewGridExtension(v(5, 4))
	s.AddExtension(src)
	_, err := s.AddItem(potion, 12)
	require.NoError(t, err)
	armorEv, err := s.AddItem(armor, 1)
	require.NoError(t, err)
	_, err = s.AddItem(bow, 1)
	require.NoError(t, err)
	require.True(t, src.MoveItem(inventory.Key{Entry: armorEv.Entry, Stack: armorEv.Stacks[0]}, v(3, 2)))

	snap := src.Snapshot()
	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	var decoded Snapshot
	require.NoError(t, json.Unmarshal(raw, &decoded))

	restored := inventory.NewStorage()
	require.NoError(t, restored.Import(s.Export(), catalog))
	dst := NewGridExtension(v(1, 1))
	restored.AddExtension(dst)

	report := dst.LoadSnapshot(decoded)
	assert.Equal(t, LoadReport{Restored: 5}, report)
	requireSameGrid(t, src, dst)
}

func TestSnapshotReconciliation(t *testing.T) {
	s := inventory.NewStorage()
	g := NewGridExtension(v(4, 4))
	s.AddExtension(g)

	_, err := s.AddItem(armor, 1)
	require.NoError(t, err)
	_, err = s.AddItem(armor, 1)
	require.NoError(t, err)
	_, err = s.AddItem(potion, 1)
	require.NoError(t, err)

	snap := g.Snapshot()
	require.Len(t, snap.Entries, 3)

	var sizes []vec.Vec2
	g.Subscribe(ObserverFuncs{OnSize: func(s vec.Vec2) { sizes = append(sizes, s) }})

	t.Run("меньший размер: часть стопок переразмещается, часть отбрасывается", func(t *testing.T) {
		small := Snapshot{Size: v(3, 2), Entries: snap.Entries}
		report := g.LoadSnapshot(small)

		assert.Equal(t, v(3, 2), g.GridSize())
		assert.Equal(t, 3, report.Restored+report.Replaced+report.Dropped)
		assert.Equal(t, 1, report.Dropped, "Вторая броня 2×2 не помещается в 3×2 рядом с первой")
		assert.Equal(t, 2, g.Len())
		assert.Equal(t, []vec.Vec2{v(3, 2)}, sizes)
		requireConsistent(t, g)
	})

	t.Run("неизвестные ключи отбрасываются, недостающие добавляются", func(t *testing.T) {
		foreign := Snapshot{Size: v(4, 4), Entries: []Entry{
			{Key: key(99, 1), Placement: at(0, 0)},
		}}
		report := g.LoadSnapshot(foreign)

		assert.Equal(t, 1, report.Dropped)
		assert.Equal(t, 3, report.Replaced, "Все стопки контейнера размещены заново")
		assert.Equal(t, 3, g.Len())
		requireConsistent(t, g)
	})

	t.Run("пересекающиеся размещения", func(t *testing.T) {
		overlapping := Snapshot{Size: v(4, 4), Entries: []Entry{
			{Key: snap.Entries[0].Key, Placement: at(0, 0)},
			{Key: snap.Entries[1].Key, Placement: at(1, 1)},
			{Key: snap.Entries[2].Key, Placement: grid.InvalidPlacement},
		}}
		report := g.LoadSnapshot(overlapping)

		assert.Equal(t, LoadReport{Restored: 1, Replaced: 2}, report)
		p, _ := g.GetPlacement(snap.Entries[0].Key)
		assert.Equal(t, at(0, 0), p)
		requireConsistent(t, g)
	})
}

func TestSnapshotRejectsMalformedEntries(t *testing.T) {
	s := inventory.NewStorage()
	g := NewGridExtension(v(3, 3))
	s.AddExtension(g)
	_, err := s.AddItem(bow, 1)
	require.NoError(t, err)
	bowKey := g.Snapshot().Entries[0].Key

	t.Run("неизвестный поворот: стопка размещается заново", func(t *testing.T) {
		report := g.LoadSnapshot(Snapshot{Size: v(3, 3), Entries: []Entry{
			{Key: bowKey, Placement: grid.Placement{Origin: v(1, 0), Rotation: grid.Rotation(5)}},
		}})

		assert.Equal(t, LoadReport{Replaced: 1}, report)
		p, ok := g.GetPlacement(bowKey)
		require.True(t, ok)
		assert.Equal(t, at(0, 0), p)
		assert.True(t, p.Rotation.IsValid())
		requireConsistent(t, g)
	})

	t.Run("повтор ключа учитывается один раз", func(t *testing.T) {
		outside := at(0, 2)
		report := g.LoadSnapshot(Snapshot{Size: v(3, 3), Entries: []Entry{
			{Key: bowKey, Placement: outside},
			{Key: bowKey, Placement: outside},
		}})

		assert.Equal(t, LoadReport{Replaced: 1, Dropped: 1}, report)
		assert.Equal(t, 1, g.Len())
		requireConsistent(t, g)
	})
}

func TestApplyDeltaSkipsUnknownRotation(t *testing.T) {
	replica := NewGridExtension(vec.Zero)
	size := v(2, 2)
	replica.ApplyDelta(Delta{
		Size: &size,
		Upserts: []ReplicatedEntry{
			{Key: key(1, 1), Placement: grid.Placement{Origin: v(0, 0), Rotation: grid.Rotation(7)}, Shape: grid.MakeRect(1, 2)},
			{Key: key(2, 1), Placement: at(0, 1), Shape: grid.MakeSquare(1)},
		},
	})

	assert.Equal(t, size, replica.GridSize())
	assert.Equal(t, 1, replica.Len(), "Стопка с недопустимым поворотом пропущена")
	_, ok := replica.GetPlacement(key(1, 1))
	assert.False(t, ok)
	assert.Equal(t, 1, replica.Occupancy().Count())
	requireConsistent(t, replica)
}
