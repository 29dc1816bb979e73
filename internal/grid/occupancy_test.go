package grid

import (
	"testing"

	"github.com/annel0/inventory-grid/internal/vec"
	"github.com/stretchr/testify/assert"
)

func TestOccupancyRavel(t *testing.T) {
	o := NewOccupancy(vec.Vec2{X: 4, Y: 3})

	assert.Equal(t, 0, o.Ravel(vec.Vec2{X: 0, Y: 0}))
	assert.Equal(t, 6, o.Ravel(vec.Vec2{X: 2, Y: 1}), "index = y*W + x")
	assert.Equal(t, 11, o.Ravel(vec.Vec2{X: 3, Y: 2}))

	for i := 0; i < 12; i++ {
		assert.Equal(t, i, o.Ravel(o.Unravel(i)), "Ravel(Unravel(i)) должен возвращать i")
	}
}

func TestOccupancyMark(t *testing.T) {
	o := NewOccupancy(vec.Vec2{X: 3, Y: 3})
	p := vec.Vec2{X: 1, Y: 2}

	assert.False(t, o.IsOccupied(p))
	o.Mark(p)
	assert.True(t, o.IsOccupied(p))
	assert.Equal(t, 1, o.Count())
	assert.Equal(t, 8, o.Free())

	o.Mark(p)
	assert.Equal(t, 1, o.Count(), "Повторная пометка не меняет счётчик")

	o.Unmark(p)
	assert.False(t, o.IsOccupied(p))
	assert.Equal(t, 0, o.Count())

	o.MarkShape(MakeRect(1, 3).Translate(vec.Vec2{X: 0, Y: 1}))
	assert.Equal(t, []vec.Vec2{{X: 0, Y: 1}, {X: 1, Y: 1}, {X: 2, Y: 1}}, o.Cells())
	assert.Equal(t, "...\n###\n...\n", o.String())

	o.UnmarkShape(MakeSquare(1).Translate(vec.Vec2{X: 1, Y: 1}))
	assert.Equal(t, 2, o.Count())

	o.Reset()
	assert.Equal(t, 0, o.Count())
}

func TestOccupancyOutOfBoundsPanics(t *testing.T) {
	o := NewOccupancy(vec.Vec2{X: 2, Y: 2})

	assert.Panics(t, func() { o.Mark(vec.Vec2{X: 2, Y: 0}) })
	assert.Panics(t, func() { o.IsOccupied(vec.Vec2{X: 0, Y: -1}) })
	assert.Panics(t, func() { o.Unravel(4) })
	assert.False(t, o.InBounds(vec.Vec2{X: 0, Y: 2}))
	assert.True(t, o.InBounds(vec.Vec2{X: 1, Y: 1}))
}

func TestOccupancyResize(t *testing.T) {
	o := NewOccupancy(vec.Vec2{X: 3, Y: 3})
	o.Mark(vec.Vec2{X: 0, Y: 0})
	o.Mark(vec.Vec2{X: 2, Y: 1})
	o.Mark(vec.Vec2{X: 1, Y: 2})

	t.Run("увеличение сохраняет клетки", func(t *testing.T) {
		c := o.Clone()
		c.Resize(vec.Vec2{X: 5, Y: 4})
		assert.Equal(t, vec.Vec2{X: 5, Y: 4}, c.Size())
		assert.Equal(t, []vec.Vec2{{X: 0, Y: 0}, {X: 2, Y: 1}, {X: 1, Y: 2}}, c.Cells())
	})

	t.Run("уменьшение отбрасывает клетки вне сетки", func(t *testing.T) {
		c := o.Clone()
		c.Resize(vec.Vec2{X: 2, Y: 3})
		assert.Equal(t, []vec.Vec2{{X: 0, Y: 0}, {X: 1, Y: 2}}, c.Cells())
	})

	t.Run("клон независим", func(t *testing.T) {
		c := o.Clone()
		c.Unmark(vec.Vec2{X: 0, Y: 0})
		assert.True(t, o.IsOccupied(vec.Vec2{X: 0, Y: 0}))
		assert.False(t, c.Equal(o))
		assert.True(t, o.Clone().Equal(o))
	})

	t.Run("отрицательный размер превращается в пустую сетку", func(t *testing.T) {
		c := NewOccupancy(vec.Vec2{X: -1, Y: 4})
		assert.Equal(t, 0, c.Size().Area())
		assert.Equal(t, 0, c.Free())
	})
}
