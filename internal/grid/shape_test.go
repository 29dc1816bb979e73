package grid

import (
	"encoding/json"
	"testing"

	"github.com/annel0/inventory-grid/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pts(coords ...int) []vec.Vec2 {
	out := make([]vec.Vec2, 0, len(coords)/2)
	for i := 0; i+1 < len(coords); i += 2 {
		out = append(out, vec.Vec2{X: coords[i], Y: coords[i+1]})
	}
	return out
}

func mustRows(t *testing.T, rows ...string) Shape {
	t.Helper()
	s, err := ParseRows(rows)
	require.NoError(t, err)
	return s
}

func TestShapeConstruction(t *testing.T) {
	t.Run("дубликаты отбрасываются", func(t *testing.T) {
		s := NewShape(pts(0, 0, 1, 0, 0, 0)...)
		assert.Equal(t, 2, s.Len(), "Повторяющаяся точка должна быть отброшена")
	})

	t.Run("MakeRect", func(t *testing.T) {
		s := MakeRect(2, 3)
		assert.Equal(t, 6, s.Len())
		assert.Equal(t, vec.Vec2{X: 3, Y: 2}, s.Size(), "Ширина 3, высота 2")
		assert.True(t, s.Contains(vec.Vec2{X: 2, Y: 1}))
		assert.False(t, s.Contains(vec.Vec2{X: 1, Y: 2}))
	})

	t.Run("MakeSquare с неположительным размером пуст", func(t *testing.T) {
		assert.True(t, MakeSquare(0).IsEmpty())
		assert.Equal(t, vec.Zero, MakeSquare(0).Size())
	})

	t.Run("OrDefault даёт одну клетку", func(t *testing.T) {
		assert.True(t, Shape{}.OrDefault().Equal(MakeSquare(1)))
	})

	t.Run("ParseRows", func(t *testing.T) {
		s := mustRows(t, "#.", "##")
		assert.True(t, s.Equal(NewShape(pts(0, 0, 0, 1, 1, 1)...)))
		assert.Equal(t, []string{"#.", "##"}, s.Rows())

		_, err := ParseRows([]string{"#?"})
		assert.Error(t, err, "Неизвестный символ должен давать ошибку")
	})
}

func TestShapeEquality(t *testing.T) {
	a := NewShape(pts(0, 0, 1, 0, 1, 1)...)
	b := NewShape(pts(1, 1, 0, 0, 1, 0)...)
	c := NewShape(pts(0, 0, 1, 0, 0, 1)...)

	assert.True(t, a.Equal(b), "Порядок точек не должен влиять на равенство")
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(MakeSquare(1)))
}

func TestShapeTranslateNormalizeBounds(t *testing.T) {
	s := NewShape(pts(2, 3, 3, 3, 3, 5)...)

	b := s.Bounds()
	assert.Equal(t, vec.Vec2{X: 2, Y: 3}, b.Min)
	assert.Equal(t, vec.Vec2{X: 3, Y: 5}, b.Max)
	assert.Equal(t, vec.Vec2{X: 2, Y: 3}, s.Size())

	n := s.Normalize()
	assert.Equal(t, vec.Zero, n.Bounds().Min, "После нормализации минимум в (0,0)")
	assert.True(t, n.Equal(NewShape(pts(0, 0, 1, 0, 1, 2)...)))

	moved := n.Translate(vec.Vec2{X: 4, Y: 1})
	assert.Equal(t, vec.Vec2{X: 4, Y: 1}, moved.Bounds().Min)
	assert.True(t, n.Equal(s.Normalize()), "Translate не меняет исходную фигуру")
}

func TestShapeRotate(t *testing.T) {
	t.Run("горизонтальная палка становится вертикальной", func(t *testing.T) {
		bar := MakeRect(1, 2)
		rotated := bar.Rotate(Rotation90)
		assert.True(t, rotated.Equal(MakeRect(2, 1)), "Ожидалась вертикальная фигура 1×2")
		assert.Equal(t, vec.Vec2{X: 1, Y: 2}, rotated.Size())
	})

	t.Run("поворот по часовой стрелке", func(t *testing.T) {
		// #.
		// ##  → по часовой: ##
		//                   #.
		l := mustRows(t, "#.", "##")
		assert.Equal(t, []string{"##", "#."}, l.Rotate(Rotation90).Rows())
		assert.Equal(t, []string{"##", ".#"}, l.Rotate(Rotation180).Rows())
		assert.Equal(t, []string{".#", "##"}, l.Rotate(Rotation270).Rows())
	})

	t.Run("левый верхний угол сохраняется", func(t *testing.T) {
		s := mustRows(t, "###", "#..").Translate(vec.Vec2{X: 5, Y: 7})
		for _, r := range Rotations {
			assert.Equal(t, vec.Vec2{X: 5, Y: 7}, s.Rotate(r).Bounds().Min, "Поворот %v", r)
		}
	})

	t.Run("четыре поворота возвращают исходную фигуру", func(t *testing.T) {
		shapes := []Shape{
			MakeSquare(1),
			MakeRect(1, 3),
			mustRows(t, "#.", "##"),
			mustRows(t, "##.", ".##"),
			mustRows(t, "###", ".#.", ".#."),
			NewShape(pts(0, 0, 3, 1, 1, 4)...),
		}
		for _, s := range shapes {
			r := s.Rotate(Rotation90).Rotate(Rotation90).Rotate(Rotation90).Rotate(Rotation90)
			assert.True(t, r.Normalize().Equal(s.Normalize()), "Фигура %v", s)
			assert.True(t, s.Rotate(Rotation180).Rotate(Rotation180).Normalize().Equal(s.Normalize()))
			assert.True(t, s.Rotate(Rotation90).Rotate(Rotation270).Normalize().Equal(s.Normalize()))
		}
	})

	t.Run("RotationNone возвращает копию", func(t *testing.T) {
		s := mustRows(t, "##")
		assert.True(t, s.Rotate(RotationNone).Equal(s))
	})

	t.Run("размер меняется местами", func(t *testing.T) {
		s := MakeRect(2, 3)
		assert.Equal(t, vec.Vec2{X: 2, Y: 3}, s.Rotate(Rotation90).Size())
		assert.Equal(t, vec.Vec2{X: 3, Y: 2}, s.Rotate(Rotation180).Size())
	})
}

func TestShapeSymmetry(t *testing.T) {
	cases := []struct {
		name string
		s    Shape
		want bool
	}{
		{"пустая", Shape{}, true},
		{"одна клетка", MakeSquare(1), true},
		{"квадрат 2×2", MakeSquare(2), true},
		{"крест", mustRows(t, ".#.", "###", ".#."), true},
		{"палка 1×2", MakeRect(1, 2), false},
		{"L-фигура", mustRows(t, "#.", "##"), false},
		{"прямоугольник 2×3", MakeRect(2, 3), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.s.IsSymmetrical())
			if tc.want {
				assert.True(t, tc.s.Rotate(Rotation90).Normalize().Equal(tc.s.Normalize()),
					"Симметричная фигура должна совпадать после поворота")
			}
		})
	}
}

func TestShapeOverlaps(t *testing.T) {
	a := MakeSquare(2)
	assert.True(t, a.Overlaps(MakeSquare(1).Translate(vec.Vec2{X: 1, Y: 1})))
	assert.False(t, a.Overlaps(MakeSquare(1).Translate(vec.Vec2{X: 2, Y: 0})))
	assert.False(t, a.Overlaps(Shape{}))
}

func TestShapeApplyPlacement(t *testing.T) {
	bar := MakeRect(1, 2)
	placed := bar.ApplyPlacement(Placement{Origin: vec.Vec2{X: 3, Y: 1}, Rotation: Rotation90})
	assert.True(t, placed.Equal(NewShape(pts(3, 1, 3, 2)...)))
}

func TestShapeJSON(t *testing.T) {
	s := mustRows(t, "##", "#.")
	data, err := json.Marshal(s)
	require.NoError(t, err)

	var decoded Shape
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, s.Equal(decoded))

	data, err = json.Marshal(Shape{})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestRotation(t *testing.T) {
	assert.Equal(t, Rotation90, RotationNone.Next())
	assert.Equal(t, RotationNone, Rotation270.Next(), "После 270° снова 0°")
	assert.Equal(t, 180, Rotation180.Degrees())

	r, err := RotationFromDegrees(-90)
	require.NoError(t, err)
	assert.Equal(t, Rotation270, r)

	_, err = RotationFromDegrees(45)
	assert.Error(t, err)

	assert.False(t, InvalidPlacement.IsValid())
	assert.True(t, Placement{}.IsValid())

	for _, r := range Rotations {
		assert.True(t, r.IsValid())
	}
	bad := Rotation(5)
	assert.False(t, bad.IsValid())
	assert.False(t, Placement{Rotation: bad}.IsValid(), "Размещение с неизвестным поворотом недействительно")
	assert.Equal(t, "Rotation(5)", bad.String())
	assert.Panics(t, func() { MakeRect(1, 2).Rotate(bad) }, "Неизвестный поворот не рисуется как 0°")
}
