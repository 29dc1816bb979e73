package grid

import (
	"fmt"
	"strings"

	"github.com/annel0/inventory-grid/internal/vec"
	"github.com/bits-and-blooms/bitset"
)

// Occupancy — битовая карта занятых клеток сетки W×H.
// Индексация row-major: index = y*W + x.
// Выход за границы — ошибка программиста, методы паникуют.
type Occupancy struct {
	size vec.Vec2
	bits *bitset.BitSet
}

// NewOccupancy создаёт пустую карту заданного размера
func NewOccupancy(size vec.Vec2) *Occupancy {
	size = clampSize(size)
	return &Occupancy{
		size: size,
		bits: bitset.New(uint(size.Area())),
	}
}

func clampSize(size vec.Vec2) vec.Vec2 {
	return size.ComponentMax(vec.Zero)
}

// Size возвращает размер сетки
func (o *Occupancy) Size() vec.Vec2 { return o.size }

// InBounds проверяет, лежит ли точка внутри сетки
func (o *Occupancy) InBounds(p vec.Vec2) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < o.size.X && p.Y < o.size.Y
}

// Ravel переводит точку в линейный индекс
func (o *Occupancy) Ravel(p vec.Vec2) int {
	o.mustBeInBounds(p)
	return p.Y*o.size.X + p.X
}

// Unravel переводит линейный индекс обратно в точку
func (o *Occupancy) Unravel(index int) vec.Vec2 {
	if index < 0 || index >= o.size.Area() {
		panic(fmt.Sprintf("grid: индекс %d вне сетки %v", index, o.size))
	}
	return vec.Vec2{X: index % o.size.X, Y: index / o.size.X}
}

// Mark помечает клетку занятой
func (o *Occupancy) Mark(p vec.Vec2) {
	o.bits.Set(uint(o.Ravel(p)))
}

// Unmark освобождает клетку
func (o *Occupancy) Unmark(p vec.Vec2) {
	o.bits.Clear(uint(o.Ravel(p)))
}

// IsOccupied проверяет занятость клетки
func (o *Occupancy) IsOccupied(p vec.Vec2) bool {
	return o.bits.Test(uint(o.Ravel(p)))
}

// MarkShape помечает все клетки уже размещённой фигуры
func (o *Occupancy) MarkShape(s Shape) {
	for _, p := range s.points {
		o.Mark(p)
	}
}

// UnmarkShape освобождает все клетки уже размещённой фигуры
func (o *Occupancy) UnmarkShape(s Shape) {
	for _, p := range s.points {
		o.Unmark(p)
	}
}

// Count возвращает количество занятых клеток
func (o *Occupancy) Count() int {
	return int(o.bits.Count())
}

// Free возвращает количество свободных клеток
func (o *Occupancy) Free() int {
	return o.size.Area() - o.Count()
}

// Reset освобождает все клетки
func (o *Occupancy) Reset() {
	o.bits.ClearAll()
}

// Resize меняет размер сетки, сохраняя пересечение старой и новой областей.
// Клетки за пределами нового размера отбрасываются.
func (o *Occupancy) Resize(newSize vec.Vec2) {
	newSize = clampSize(newSize)
	if newSize == o.size {
		return
	}
	next := bitset.New(uint(newSize.Area()))
	overlap := o.size.ComponentMin(newSize)
	for y := 0; y < overlap.Y; y++ {
		for x := 0; x < overlap.X; x++ {
			if o.bits.Test(uint(y*o.size.X + x)) {
				next.Set(uint(y*newSize.X + x))
			}
		}
	}
	o.size = newSize
	o.bits = next
}

// Clone возвращает независимую копию карты
func (o *Occupancy) Clone() *Occupancy {
	return &Occupancy{size: o.size, bits: o.bits.Clone()}
}

// Equal сравнивает размер и содержимое карт
func (o *Occupancy) Equal(other *Occupancy) bool {
	if o.size != other.size {
		return false
	}
	return o.bits.Equal(other.bits)
}

// Cells возвращает занятые клетки в порядке row-major
func (o *Occupancy) Cells() []vec.Vec2 {
	cells := make([]vec.Vec2, 0, o.Count())
	for i, ok := o.bits.NextSet(0); ok; i, ok = o.bits.NextSet(i + 1) {
		if int(i) >= o.size.Area() {
			break
		}
		cells = append(cells, o.Unravel(int(i)))
	}
	return cells
}

// String рисует карту: '#' — занято, '.' — свободно
func (o *Occupancy) String() string {
	var b strings.Builder
	for y := 0; y < o.size.Y; y++ {
		for x := 0; x < o.size.X; x++ {
			if o.bits.Test(uint(y*o.size.X + x)) {
				b.WriteByte('#')
			} else {
				b.WriteByte('.')
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func (o *Occupancy) mustBeInBounds(p vec.Vec2) {
	if !o.InBounds(p) {
		panic(fmt.Sprintf("grid: клетка %v вне сетки %v", p, o.size))
	}
}
