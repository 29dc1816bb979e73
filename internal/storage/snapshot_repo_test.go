package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/inventory-grid/internal/grid"
	"github.com/annel0/inventory-grid/internal/inventory"
	"github.com/annel0/inventory-grid/internal/spatial"
	"github.com/annel0/inventory-grid/internal/vec"
)

func sampleRecord(id string) *InventoryRecord {
	return &InventoryRecord{
		ID: id,
		Entries: []inventory.EntryRecord{
			{Key: 1, ItemID: "potion", Stacks: []inventory.Stack{{Key: 1, Copies: 5}, {Key: 2, Copies: 2}}},
			{Key: 2, ItemID: "bow", Stacks: []inventory.Stack{{Key: 3, Copies: 1}}},
		},
		Grid: spatial.Snapshot{
			Size: vec.Vec2{X: 6, Y: 4},
			Entries: []spatial.Entry{
				{Key: inventory.Key{Entry: 1, Stack: 1}, Placement: grid.Placement{Origin: vec.Vec2{X: 0, Y: 0}}},
				{Key: inventory.Key{Entry: 1, Stack: 2}, Placement: grid.Placement{Origin: vec.Vec2{X: 1, Y: 0}}},
				{Key: inventory.Key{Entry: 2, Stack: 3}, Placement: grid.Placement{Origin: vec.Vec2{X: 2, Y: 1}, Rotation: grid.Rotation90}},
			},
		},
		SavedAt: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
	}
}

// runRepoContract проверяет общее поведение всех реализаций SnapshotRepo
func runRepoContract(t *testing.T, repo SnapshotRepo) {
	ctx := context.Background()

	t.Run("Load несуществующего", func(t *testing.T) {
		_, err := repo.Load(ctx, "missing")
		assert.True(t, errors.Is(err, ErrSnapshotNotFound), "Ожидалась ErrSnapshotNotFound, получено %v", err)
	})

	t.Run("Save и Load", func(t *testing.T) {
		want := sampleRecord("inv-b")
		require.NoError(t, repo.Save(ctx, want))

		got, err := repo.Load(ctx, "inv-b")
		require.NoError(t, err)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Entries, got.Entries)
		assert.Equal(t, want.Grid, got.Grid)
		assert.True(t, want.SavedAt.Equal(got.SavedAt))
	})

	t.Run("Перезапись", func(t *testing.T) {
		rec := sampleRecord("inv-b")
		rec.Grid.Size = vec.Vec2{X: 8, Y: 8}
		rec.Entries = rec.Entries[:1]
		require.NoError(t, repo.Save(ctx, rec))

		got, err := repo.Load(ctx, "inv-b")
		require.NoError(t, err)
		assert.Equal(t, vec.Vec2{X: 8, Y: 8}, got.Grid.Size)
		assert.Len(t, got.Entries, 1)
	})

	t.Run("List отсортирован", func(t *testing.T) {
		require.NoError(t, repo.Save(ctx, sampleRecord("inv-a")))
		require.NoError(t, repo.Save(ctx, sampleRecord("inv-c")))

		ids, err := repo.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"inv-a", "inv-b", "inv-c"}, ids)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, "inv-a"))
		assert.ErrorIs(t, repo.Delete(ctx, "inv-a"), ErrSnapshotNotFound)
		_, err := repo.Load(ctx, "inv-a")
		assert.ErrorIs(t, err, ErrSnapshotNotFound)

		ids, err := repo.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"inv-b", "inv-c"}, ids)
	})

	t.Run("Пустой идентификатор", func(t *testing.T) {
		assert.Error(t, repo.Save(ctx, &InventoryRecord{}))
		assert.Error(t, repo.Save(ctx, nil))
	})

	t.Run("SavedAt проставляется", func(t *testing.T) {
		rec := sampleRecord("inv-d")
		rec.SavedAt = time.Time{}
		require.NoError(t, repo.Save(ctx, rec))
		got, err := repo.Load(ctx, "inv-d")
		require.NoError(t, err)
		assert.False(t, got.SavedAt.IsZero())
	})
}

func TestMemorySnapshotRepo(t *testing.T) {
	repo := NewMemorySnapshotRepo()
	defer repo.Close()
	runRepoContract(t, repo)
	assert.Equal(t, 3, repo.Count())
}

func TestMemorySnapshotRepoStoresCopy(t *testing.T) {
	repo := NewMemorySnapshotRepo()
	ctx := context.Background()
	rec := sampleRecord("inv-1")
	require.NoError(t, repo.Save(ctx, rec))

	rec.Grid.Entries[0].Placement.Origin = vec.Vec2{X: 5, Y: 3}
	got, err := repo.Load(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, vec.Vec2{X: 0, Y: 0}, got.Grid.Entries[0].Placement.Origin,
		"Изменение исходной записи не должно влиять на сохранённую")
}

func TestBadgerSnapshotRepo(t *testing.T) {
	repo, err := NewInMemoryBadgerSnapshotRepo()
	require.NoError(t, err)
	defer repo.Close()
	runRepoContract(t, repo)
}

func TestBadgerSnapshotRepoOnDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	repo, err := NewBadgerSnapshotRepo(dir)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, sampleRecord("inv-1")))
	require.NoError(t, repo.Close())
	require.NoError(t, repo.Close(), "Повторное закрытие безопасно")

	_, err = repo.Load(ctx, "inv-1")
	assert.Error(t, err, "Закрытое хранилище не отвечает")

	reopened, err := NewBadgerSnapshotRepo(dir)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.Load(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, sampleRecord("inv-1").Grid, got.Grid, "Снимок пережил перезапуск")
}

func TestFileSnapshotRepo(t *testing.T) {
	dir := t.TempDir()
	repo, err := NewFileSnapshotRepo(filepath.Join(dir, "snapshots"))
	require.NoError(t, err)
	runRepoContract(t, repo)

	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, sampleRecord("../escape/inv")))
	ids, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, "../escape/inv", "Идентификатор экранируется в имени файла")

	_, err = os.Stat(filepath.Join(dir, "escape"))
	assert.True(t, os.IsNotExist(err), "Снимок не вышел за пределы каталога")

	reopened, err := NewFileSnapshotRepo(filepath.Join(dir, "snapshots"))
	require.NoError(t, err)
	got, err := reopened.Load(ctx, "../escape/inv")
	require.NoError(t, err)
	assert.Equal(t, sampleRecord("x").Grid, got.Grid)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	repo, err := Open(ctx, Options{})
	require.NoError(t, err)
	assert.IsType(t, &MemorySnapshotRepo{}, repo)

	repo, err = Open(ctx, Options{Backend: " Badger "})
	require.NoError(t, err)
	assert.IsType(t, &BadgerSnapshotRepo{}, repo)
	require.NoError(t, repo.Close())

	repo, err = Open(ctx, Options{Backend: BackendFile, DataPath: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileSnapshotRepo{}, repo)

	_, err = Open(ctx, Options{Backend: BackendFile})
	assert.Error(t, err, "Файловому хранилищу нужен каталог")

	_, err = Open(ctx, Options{Backend: "cassandra"})
	assert.Error(t, err)
}
