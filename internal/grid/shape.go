package grid

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/annel0/inventory-grid/internal/vec"
	"github.com/zyedidia/generic/mapset"
)

// Shape — множество клеток (смещений), которые занимает предмет до размещения.
// Значение неизменяемо: все преобразования возвращают новую фигуру.
type Shape struct {
	points []vec.Vec2
}

// Rect — ограничивающий прямоугольник, границы включительно
type Rect struct {
	Min vec.Vec2
	Max vec.Vec2
}

// Size возвращает ширину и высоту прямоугольника
func (r Rect) Size() vec.Vec2 {
	return vec.Vec2{X: r.Max.X - r.Min.X + 1, Y: r.Max.Y - r.Min.Y + 1}
}

// Center возвращает целочисленный центр прямоугольника
func (r Rect) Center() vec.Vec2 {
	return r.Min.Add(vec.Vec2{X: (r.Max.X - r.Min.X) / 2, Y: (r.Max.Y - r.Min.Y) / 2})
}

// NewShape создаёт фигуру, отбрасывая повторяющиеся точки
func NewShape(points ...vec.Vec2) Shape {
	seen := mapset.New[vec.Vec2]()
	out := make([]vec.Vec2, 0, len(points))
	for _, p := range points {
		if seen.Has(p) {
			continue
		}
		seen.Put(p)
		out = append(out, p)
	}
	return Shape{points: out}
}

// MakeSquare возвращает квадрат n×n с углом в (0,0)
func MakeSquare(n int) Shape {
	return MakeRect(n, n)
}

// MakeRect возвращает прямоугольник высотой height и шириной width
func MakeRect(height, width int) Shape {
	if height <= 0 || width <= 0 {
		return Shape{}
	}
	points := make([]vec.Vec2, 0, height*width)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			points = append(points, vec.Vec2{X: x, Y: y})
		}
	}
	return Shape{points: points}
}

// ParseRows строит фигуру из текстовых строк: '#' или 'X' — занятая клетка.
//
//	"##"
//	"#."  → L-образная фигура из трёх клеток
func ParseRows(rows []string) (Shape, error) {
	var points []vec.Vec2
	for y, row := range rows {
		for x, ch := range row {
			switch ch {
			case '#', 'X', 'x':
				points = append(points, vec.Vec2{X: x, Y: y})
			case '.', ' ', '_':
			default:
				return Shape{}, fmt.Errorf("недопустимый символ %q в строке %d", ch, y)
			}
		}
	}
	return NewShape(points...), nil
}

// Points возвращает копию точек фигуры
func (s Shape) Points() []vec.Vec2 {
	out := make([]vec.Vec2, len(s.points))
	copy(out, s.points)
	return out
}

// Len возвращает количество клеток
func (s Shape) Len() int { return len(s.points) }

// IsEmpty сообщает, пуста ли фигура
func (s Shape) IsEmpty() bool { return len(s.points) == 0 }

// OrDefault подставляет одну клетку вместо пустой фигуры
func (s Shape) OrDefault() Shape {
	if s.IsEmpty() {
		return MakeSquare(1)
	}
	return s
}

// Bounds возвращает ограничивающий прямоугольник. Для пустой фигуры размер равен нулю.
func (s Shape) Bounds() Rect {
	if len(s.points) == 0 {
		return Rect{Min: vec.Zero, Max: vec.Vec2{X: -1, Y: -1}}
	}
	r := Rect{Min: s.points[0], Max: s.points[0]}
	for _, p := range s.points[1:] {
		r.Min = r.Min.ComponentMin(p)
		r.Max = r.Max.ComponentMax(p)
	}
	return r
}

// Size возвращает размер ограничивающего прямоугольника
func (s Shape) Size() vec.Vec2 {
	return s.Bounds().Size()
}

// Translate сдвигает все точки на delta
func (s Shape) Translate(delta vec.Vec2) Shape {
	out := make([]vec.Vec2, len(s.points))
	for i, p := range s.points {
		out[i] = p.Add(delta)
	}
	return Shape{points: out}
}

// Normalize переносит фигуру так, чтобы минимальные X и Y были равны нулю
func (s Shape) Normalize() Shape {
	if len(s.points) == 0 {
		return s
	}
	return s.Translate(s.Bounds().Min.Neg())
}

// Rotate поворачивает фигуру по часовой стрелке (ось Y направлена вниз)
// вокруг центра ограничивающего прямоугольника. Левый верхний угол
// прямоугольника после поворота остаётся на месте.
// Недопустимый поворот — ошибка программиста.
func (s Shape) Rotate(r Rotation) Shape {
	if !r.IsValid() {
		panic(fmt.Sprintf("grid: недопустимый поворот %d", r))
	}
	if r == RotationNone || len(s.points) == 0 {
		return s.Translate(vec.Zero)
	}

	bounds := s.Bounds()
	center := bounds.Center()
	out := make([]vec.Vec2, len(s.points))
	for i, p := range s.points {
		d := p.Sub(center)
		switch r {
		case Rotation90:
			d = vec.Vec2{X: -d.Y, Y: d.X}
		case Rotation180:
			d = vec.Vec2{X: -d.X, Y: -d.Y}
		case Rotation270:
			d = vec.Vec2{X: d.Y, Y: -d.X}
		}
		out[i] = center.Add(d)
	}

	rotated := Shape{points: out}
	return rotated.Translate(bounds.Min.Sub(rotated.Bounds().Min))
}

// ApplyPlacement поворачивает фигуру и переносит её в origin размещения
func (s Shape) ApplyPlacement(p Placement) Shape {
	return s.Rotate(p.Rotation).Translate(p.Origin)
}

// IsSymmetrical сообщает, совпадает ли фигура сама с собой после поворота на 90°
func (s Shape) IsSymmetrical() bool {
	if len(s.points) == 0 {
		return true
	}
	return s.Rotate(Rotation90).Normalize().Equal(s.Normalize())
}

// Contains проверяет принадлежность точки фигуре
func (s Shape) Contains(p vec.Vec2) bool {
	for _, q := range s.points {
		if q == p {
			return true
		}
	}
	return false
}

// Overlaps сообщает, есть ли у фигур общая клетка
func (s Shape) Overlaps(other Shape) bool {
	if len(s.points) == 0 || len(other.points) == 0 {
		return false
	}
	set := mapset.Of(s.points...)
	for _, p := range other.points {
		if set.Has(p) {
			return true
		}
	}
	return false
}

// Equal сравнивает фигуры как множества точек, порядок не важен
func (s Shape) Equal(other Shape) bool {
	if len(s.points) != len(other.points) {
		return false
	}
	set := mapset.Of(s.points...)
	for _, p := range other.points {
		if !set.Has(p) {
			return false
		}
	}
	return true
}

// Rows рисует нормализованную фигуру строками из '#' и '.'
func (s Shape) Rows() []string {
	if len(s.points) == 0 {
		return nil
	}
	n := s.Normalize()
	size := n.Size()
	rows := make([][]byte, size.Y)
	for y := range rows {
		rows[y] = []byte(strings.Repeat(".", size.X))
	}
	for _, p := range n.points {
		rows[p.Y][p.X] = '#'
	}
	out := make([]string, size.Y)
	for y, row := range rows {
		out[y] = string(row)
	}
	return out
}

func (s Shape) String() string {
	return fmt.Sprintf("Shape%v", s.points)
}

// MarshalJSON сериализует фигуру как массив точек
func (s Shape) MarshalJSON() ([]byte, error) {
	if s.points == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.points)
}

// UnmarshalJSON восстанавливает фигуру из массива точек
func (s *Shape) UnmarshalJSON(data []byte) error {
	var points []vec.Vec2
	if err := json.Unmarshal(data, &points); err != nil {
		return err
	}
	*s = NewShape(points...)
	return nil
}
