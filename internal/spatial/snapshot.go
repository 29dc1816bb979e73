package spatial

import (
	"fmt"

	"github.com/annel0/inventory-grid/internal/grid"
	"github.com/annel0/inventory-grid/internal/inventory"
	"github.com/annel0/inventory-grid/internal/vec"
)

// Snapshot — сохраняемое состояние сетки
type Snapshot struct {
	Size    vec.Vec2 `json:"size" bson:"size"`
	Entries []Entry  `json:"entries" bson:"entries"`
}

// LoadReport описывает результат восстановления снимка
type LoadReport struct {
	Restored int `json:"restored"` // размещены как в снимке
	Replaced int `json:"replaced"` // размещены заново в первом свободном месте
	Dropped  int `json:"dropped"`  // не поместились
}

// Snapshot возвращает текущее состояние сетки
func (g *GridExtension) Snapshot() Snapshot {
	return Snapshot{Size: g.size, Entries: g.index.Entries()}
}

// LoadSnapshot заменяет содержимое сетки снимком. Размещения, которые
// по-прежнему помещаются, сохраняются; остальные стопки размещаются заново;
// не нашедшие места отбрасываются. Стопки контейнера, которых нет в снимке,
// добавляются в первое свободное место.
func (g *GridExtension) LoadSnapshot(snap Snapshot) LoadReport {
	var report LoadReport

	if g.index.Len() > 0 {
		g.RemoveItemBatch(g.index.Keys())
	}

	size := snap.Size.ComponentMax(vec.Zero)
	resized := size != g.size
	g.size = size
	g.cells = grid.NewOccupancy(size)

	var pending []inventory.Key
	for _, e := range snap.Entries {
		// повтор ключа в снимке отбрасывается, размещённым или ждущим
		// остаётся первое вхождение
		if !e.Key.IsValid() || g.index.Contains(e.Key) || containsKey(pending, e.Key) {
			report.Dropped++
			continue
		}
		if g.container != nil && !g.container.IsValidKey(e.Key) {
			g.log.Warn("снимок: стопки %v нет в контейнере", e.Key)
			report.Dropped++
			continue
		}
		shape := g.shapeOf(e.Key.Entry)
		// недопустимый поворот приравнивается к отсутствию размещения
		if !e.Placement.IsValid() || !fitsOn(g.cells, shape, e.Placement, noCells) {
			pending = append(pending, e.Key)
			continue
		}
		g.shapes.Put(e.Key.Entry, shape)
		g.cells.MarkShape(shape.ApplyPlacement(e.Placement))
		g.index.Insert(e.Key, e.Placement)
		report.Restored++
	}

	if g.container != nil {
		g.container.ForEachKey(func(entry inventory.EntryKey) {
			for _, stack := range g.container.StackKeys(entry) {
				key := inventory.Key{Entry: entry, Stack: stack}
				if !g.index.Contains(key) && !containsKey(pending, key) {
					pending = append(pending, key)
				}
			}
		})
	}

	for _, key := range pending {
		if g.addItem(key, g.shapeOf(key.Entry)) {
			report.Replaced++
		} else {
			g.log.Warn("снимок: стопка %v не помещается в сетку %v и отброшена", key, g.size)
			report.Dropped++
		}
	}

	if resized {
		g.sizeDirty = true
		g.observers.size(size)
	}
	g.observe("load_snapshot", report.Dropped == 0)
	g.log.Info("снимок загружен: размер %v, восстановлено %d, перемещено %d, отброшено %d",
		size, report.Restored, report.Replaced, report.Dropped)
	return report
}

func containsKey(keys []inventory.Key, key inventory.Key) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

// CheckConsistency пересчитывает занятость по индексу и сверяет её с картой.
// Возвращает ошибку при выходе за границы, пересечении или расхождении.
func (g *GridExtension) CheckConsistency() error {
	expected := grid.NewOccupancy(g.size)
	var err error
	g.index.ForEach(func(e Entry) bool {
		for _, c := range g.shapeOf(e.Key.Entry).ApplyPlacement(e.Placement).Points() {
			if !expected.InBounds(c) {
				err = fmt.Errorf("стопка %v выходит за границы сетки %v в клетке %v", e.Key, g.size, c)
				return false
			}
			if expected.IsOccupied(c) {
				err = fmt.Errorf("стопка %v пересекается с другой стопкой в клетке %v", e.Key, c)
				return false
			}
			expected.Mark(c)
		}
		return true
	})
	if err != nil {
		return err
	}
	if !expected.Equal(g.cells) {
		return fmt.Errorf("карта занятости расходится с индексом:\nожидалось\n%vполучено\n%v", expected, g.cells)
	}
	return nil
}
