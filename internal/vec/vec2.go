package vec

import "fmt"

// Vec2 представляет 2D координаты клетки сетки
type Vec2 struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// None — значение "нет координаты" (аналог INDEX_NONE)
var None = Vec2{X: -1, Y: -1}

// Zero — начало координат
var Zero = Vec2{}

// IsNone сообщает, является ли вектор сторожевым значением None
func (v Vec2) IsNone() bool {
	return v == None
}

// Add возвращает сумму векторов
func (v Vec2) Add(o Vec2) Vec2 {
	return Vec2{X: v.X + o.X, Y: v.Y + o.Y}
}

// Sub возвращает разность векторов
func (v Vec2) Sub(o Vec2) Vec2 {
	return Vec2{X: v.X - o.X, Y: v.Y - o.Y}
}

// Neg меняет знак обеих компонент
func (v Vec2) Neg() Vec2 {
	return Vec2{X: -v.X, Y: -v.Y}
}

// ComponentMin возвращает покомпонентный минимум
func (v Vec2) ComponentMin(o Vec2) Vec2 {
	return Vec2{X: min(v.X, o.X), Y: min(v.Y, o.Y)}
}

// ComponentMax возвращает покомпонентный максимум
func (v Vec2) ComponentMax(o Vec2) Vec2 {
	return Vec2{X: max(v.X, o.X), Y: max(v.Y, o.Y)}
}

// Area возвращает X*Y (для размеров сетки)
func (v Vec2) Area() int {
	if v.X <= 0 || v.Y <= 0 {
		return 0
	}
	return v.X * v.Y
}

// Less задаёт порядок обхода row-major: сначала Y, затем X
func (v Vec2) Less(o Vec2) bool {
	if v.Y != o.Y {
		return v.Y < o.Y
	}
	return v.X < o.X
}

func (v Vec2) String() string {
	return fmt.Sprintf("(%d,%d)", v.X, v.Y)
}
