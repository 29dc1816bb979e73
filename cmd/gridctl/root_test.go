package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/inventory-grid/internal/app"
	"github.com/annel0/inventory-grid/internal/inventory"
	"github.com/annel0/inventory-grid/internal/storage"
	"github.com/annel0/inventory-grid/internal/vec"
)

func writeTestConfig(t *testing.T, dataPath string) string {
	t.Helper()
	body := fmt.Sprintf(`
grid:
  width: 4
  height: 2
storage:
  backend: badger
  data_path: %s
items:
  - id: bow
    name: Лук
    width: 3
    height: 1
  - id: potion
    name: Зелье
    stack_limit: 5
`, dataPath)
	path := filepath.Join(t.TempDir(), "gridctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSimulate(t *testing.T) {
	cfg := writeTestConfig(t, t.TempDir())

	out, err := execute(t, "--config", cfg, "simulate", "bow", "potionx3")
	require.NoError(t, err)
	assert.Contains(t, out, "AAA")
	assert.Contains(t, out, "занято 4 из 8")
	assert.Contains(t, out, "1:1")

	out, err = execute(t, "--config", cfg, "simulate", "--width", "3", "--height", "3", "--rotate", "1:1", "bow")
	require.NoError(t, err)
	assert.Contains(t, out, "A..\nA..\nA..\n", "Лук после поворота стоит вертикально")

	out, err = execute(t, "--config", cfg, "simulate", "--json", "bow")
	require.NoError(t, err)
	var view app.InventoryView
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	require.Len(t, view.Items, 1)
	assert.Equal(t, vec.Vec2{X: 3, Y: 1}, view.Items[0].Size)

	_, err = execute(t, "--config", cfg, "simulate", "shield")
	assert.ErrorIs(t, err, inventory.ErrUnknownItem)
}

func TestStoredInventories(t *testing.T) {
	dataPath := t.TempDir()
	cfg := writeTestConfig(t, dataPath)

	catalog := inventory.NewCatalog()
	require.NoError(t, catalog.Register(&inventory.Item{ID: "bow", Name: "Лук"}))
	svc := app.NewInventoryService("inv-1", vec.Vec2{X: 2, Y: 2}, catalog, 10)
	_, err := svc.AddItem("bow", 1)
	require.NoError(t, err)

	repo, err := storage.NewBadgerSnapshotRepo(dataPath)
	require.NoError(t, err)
	require.NoError(t, repo.Save(context.Background(), svc.Record()))
	require.NoError(t, repo.Close())

	out, err := execute(t, "--config", cfg, "list")
	require.NoError(t, err)
	assert.Equal(t, "inv-1\n", out)

	// в конфигурации лук шире, чем в сохранённой сетке 2x2
	out, err = execute(t, "--config", cfg, "inspect", "inv-1")
	require.NoError(t, err)
	assert.Contains(t, out, "inv-1 (2,2)")
	assert.Contains(t, out, "не поместилось 1")

	_, err = execute(t, "--config", cfg, "inspect", "inv-404")
	assert.ErrorIs(t, err, storage.ErrSnapshotNotFound)

	out, err = execute(t, "--config", cfg, "delete", "inv-1")
	require.NoError(t, err)
	assert.Contains(t, out, "удалён inv-1")

	out, err = execute(t, "--config", cfg, "list")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestParseItemArg(t *testing.T) {
	id, n, err := parseItemArg("potionx7")
	require.NoError(t, err)
	assert.Equal(t, inventory.ItemID("potion"), id)
	assert.Equal(t, 7, n)

	id, n, err = parseItemArg("axe")
	require.NoError(t, err)
	assert.Equal(t, inventory.ItemID("axe"), id)
	assert.Equal(t, 1, n)

	_, _, err = parseItemArg("potionx0")
	assert.Error(t, err)
}
