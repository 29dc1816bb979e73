package grid

import (
	"fmt"

	"github.com/annel0/inventory-grid/internal/vec"
)

// Rotation — поворот предмета с шагом 90° по часовой стрелке
type Rotation uint8

const (
	RotationNone Rotation = iota
	Rotation90
	Rotation180
	Rotation270
)

// Rotations — порядок перебора поворотов при поиске места
var Rotations = [...]Rotation{RotationNone, Rotation90, Rotation180, Rotation270}

// IsValid сообщает, является ли значение одним из четырёх поворотов
func (r Rotation) IsValid() bool {
	return r <= Rotation270
}

// Next возвращает следующий поворот: 0→90→180→270→0
func (r Rotation) Next() Rotation {
	return (r + 1) % 4
}

// Degrees возвращает угол в градусах
func (r Rotation) Degrees() int {
	return int(r%4) * 90
}

func (r Rotation) String() string {
	if !r.IsValid() {
		return fmt.Sprintf("Rotation(%d)", uint8(r))
	}
	return fmt.Sprintf("%d°", r.Degrees())
}

// RotationFromDegrees переводит угол, кратный 90, в Rotation
func RotationFromDegrees(deg int) (Rotation, error) {
	if deg%90 != 0 {
		return RotationNone, fmt.Errorf("угол %d не кратен 90", deg)
	}
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return Rotation(deg / 90), nil
}

// Placement описывает, где и как стоит экземпляр фигуры в сетке
type Placement struct {
	Origin   vec.Vec2 `json:"origin"`
	Rotation Rotation `json:"rotation"`
}

// InvalidPlacement — результат неудачного поиска места
var InvalidPlacement = Placement{Origin: vec.None}

// IsValid сообщает, указывает ли размещение на реальную клетку
// с допустимым поворотом
func (p Placement) IsValid() bool {
	return !p.Origin.IsNone() && p.Rotation.IsValid()
}

func (p Placement) String() string {
	if !p.IsValid() {
		return "Placement{invalid}"
	}
	return fmt.Sprintf("Placement{%v %v}", p.Origin, p.Rotation)
}
