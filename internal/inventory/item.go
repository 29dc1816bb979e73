package inventory

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/annel0/inventory-grid/internal/grid"
)

var (
	ErrUnknownItem   = errors.New("unknown item")
	ErrInvalidKey    = errors.New("invalid inventory key")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrNotAllowed    = errors.New("rejected by extension")
)

// ItemID — идентификатор определения предмета (например, "potion_small")
type ItemID string

// Item — неизменяемое определение предмета. Одно определение разделяется
// всеми записями и стопками этого предмета.
type Item struct {
	ID         ItemID     `json:"id"`
	Name       string     `json:"name"`
	Shape      grid.Shape `json:"shape"`
	StackLimit int        `json:"stack_limit"`
}

// MaxStack возвращает вместимость одной стопки (минимум 1)
func (i *Item) MaxStack() int {
	if i.StackLimit < 1 {
		return 1
	}
	return i.StackLimit
}

// Footprint возвращает фигуру предмета; пустая фигура означает одну клетку
func (i *Item) Footprint() grid.Shape {
	return i.Shape.OrDefault()
}

// Catalog — реестр определений предметов
type Catalog struct {
	mu    sync.RWMutex
	items map[ItemID]*Item
}

// NewCatalog создаёт пустой каталог
func NewCatalog() *Catalog {
	return &Catalog{items: make(map[ItemID]*Item)}
}

// Register добавляет определение. Повторная регистрация ID — ошибка.
func (c *Catalog) Register(item *Item) error {
	if item == nil || item.ID == "" {
		return fmt.Errorf("%w: пустой ID", ErrUnknownItem)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[item.ID]; exists {
		return fmt.Errorf("предмет %s уже зарегистрирован", item.ID)
	}
	c.items[item.ID] = item
	return nil
}

// Get возвращает определение по ID
func (c *Catalog) Get(id ItemID) (*Item, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	item, ok := c.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	return item, nil
}

// All возвращает все определения, отсортированные по ID
func (c *Catalog) All() []*Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Item, 0, len(c.items))
	for _, item := range c.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
