package inventory

import (
	"cmp"
	"fmt"
)

// EntryKey — стабильный идентификатор логической записи (предмета) в контейнере
type EntryKey int64

// StackKey различает стопки внутри одной записи
type StackKey int64

// Key — составной ключ стопки. Порядок лексикографический: (Entry, Stack).
type Key struct {
	Entry EntryKey `json:"entry"`
	Stack StackKey `json:"stack"`
}

// IsValid сообщает, что обе части ключа выданы контейнером
func (e EntryKey) IsValid() bool { return e > 0 }

// IsValid сообщает, что обе части ключа выданы контейнером
func (k Key) IsValid() bool { return k.Entry > 0 && k.Stack > 0 }

// Compare сравнивает ключи лексикографически
func Compare(a, b Key) int {
	if c := cmp.Compare(a.Entry, b.Entry); c != 0 {
		return c
	}
	return cmp.Compare(a.Stack, b.Stack)
}

// Less — удобная обёртка над Compare
func (k Key) Less(o Key) bool { return Compare(k, o) < 0 }

func (k Key) String() string {
	return fmt.Sprintf("%d:%d", k.Entry, k.Stack)
}

// ParseKey разбирает строку вида "entry:stack"
func ParseKey(s string) (Key, error) {
	var k Key
	if _, err := fmt.Sscanf(s, "%d:%d", &k.Entry, &k.Stack); err != nil {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	if !k.IsValid() {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return k, nil
}
