package spatial

import (
	"github.com/annel0/inventory-grid/internal/grid"
	"github.com/annel0/inventory-grid/internal/inventory"
	"github.com/annel0/inventory-grid/internal/vec"
)

// ReplicatedEntry — размещение стопки вместе с фигурой, достаточное для
// воспроизведения на реплике без доступа к контейнеру
type ReplicatedEntry struct {
	Key       inventory.Key  `json:"key"`
	Placement grid.Placement `json:"placement"`
	Shape     grid.Shape     `json:"shape"`
}

// Delta — изменения сетки с момента предыдущего TakeDelta
type Delta struct {
	Size    *vec.Vec2         `json:"size,omitempty"`
	Upserts []ReplicatedEntry `json:"upserts,omitempty"`
	Removed []inventory.Key   `json:"removed,omitempty"`
}

// IsEmpty сообщает об отсутствии изменений
func (d Delta) IsEmpty() bool {
	return d.Size == nil && len(d.Upserts) == 0 && len(d.Removed) == 0
}

// TakeDelta забирает накопленные изменения индекса и размера
func (g *GridExtension) TakeDelta() Delta {
	dirty := g.index.TakeDirty()

	var d Delta
	if g.sizeDirty {
		size := g.size
		d.Size = &size
		g.sizeDirty = false
	}
	for _, key := range dirty.Changed {
		p, ok := g.index.Find(key)
		if !ok {
			continue
		}
		d.Upserts = append(d.Upserts, ReplicatedEntry{
			Key:       key,
			Placement: p,
			Shape:     g.shapeOf(key.Entry),
		})
	}
	d.Removed = dirty.Removed
	return d
}

// ApplyDelta воспроизводит изменения другой сетки. Предназначен для реплик
// без контейнера: фигуры берутся из самой дельты. Накопленные при применении
// изменения сбрасываются.
func (g *GridExtension) ApplyDelta(d Delta) {
	if len(d.Removed) > 0 {
		g.index.RemoveBatch(d.Removed)
		g.forgetUnusedShapes(d.Removed)
	}

	upserts := make([]ReplicatedEntry, 0, len(d.Upserts))
	for _, u := range d.Upserts {
		if !u.Placement.IsValid() {
			g.log.Warn("дельта: стопка %v с недопустимым размещением %v пропущена", u.Key, u.Placement)
			continue
		}
		upserts = append(upserts, u)
	}

	// старые клетки обновляемых стопок освобождаются до изменения размера,
	// пока они гарантированно в границах
	for _, u := range upserts {
		if p, ok := g.index.Find(u.Key); ok {
			g.unmarkInBounds(g.shapeOf(u.Key.Entry).ApplyPlacement(p))
		}
	}

	if d.Size != nil && *d.Size != g.size {
		g.cells.Resize(*d.Size)
		g.size = g.cells.Size()
		g.observers.size(g.size)
	}

	for _, u := range upserts {
		shape := u.Shape.OrDefault()
		g.shapes.Put(u.Key.Entry, shape)

		placement := u.Placement
		if g.index.Contains(u.Key) {
			g.index.EditItem(u.Key, func(p *grid.Placement) bool {
				*p = placement
				return true
			})
		} else {
			g.index.Insert(u.Key, placement)
		}

		footprint := shape.ApplyPlacement(placement)
		if !g.markInBounds(footprint) {
			g.log.Warn("дельта: стопка %v частично вне сетки %v", u.Key, g.size)
		}
	}

	g.index.TakeDirty()
	g.sizeDirty = false
}

func (g *GridExtension) markInBounds(s grid.Shape) bool {
	all := true
	for _, c := range s.Points() {
		if g.cells.InBounds(c) {
			g.cells.Mark(c)
		} else {
			all = false
		}
	}
	return all
}

func (g *GridExtension) unmarkInBounds(s grid.Shape) {
	for _, c := range s.Points() {
		if g.cells.InBounds(c) {
			g.cells.Unmark(c)
		}
	}
}
