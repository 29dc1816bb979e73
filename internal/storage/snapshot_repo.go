package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/inventory-grid/internal/inventory"
	"github.com/annel0/inventory-grid/internal/spatial"
)

// ErrSnapshotNotFound возвращается, если снимок инвентаря не сохранялся
var ErrSnapshotNotFound = errors.New("storage: снимок инвентаря не найден")

// InventoryRecord — сохраняемое состояние инвентаря: записи контейнера
// и раскладка сетки.
type InventoryRecord struct {
	ID      string                  `json:"id"`
	Entries []inventory.EntryRecord `json:"entries"`
	Grid    spatial.Snapshot        `json:"grid"`
	SavedAt time.Time               `json:"saved_at"`
}

// SnapshotRepo определяет интерфейс хранения снимков инвентарей.
// Снимки привязаны к идентификатору инвентаря.
type SnapshotRepo interface {
	// Save сохраняет или перезаписывает снимок
	Save(ctx context.Context, rec *InventoryRecord) error

	// Load загружает снимок. Если снимка нет, возвращает ErrSnapshotNotFound.
	Load(ctx context.Context, id string) (*InventoryRecord, error)

	// Delete удаляет снимок. Если снимка нет, возвращает ErrSnapshotNotFound.
	Delete(ctx context.Context, id string) error

	// List возвращает идентификаторы сохранённых инвентарей по возрастанию
	List(ctx context.Context) ([]string, error)

	Close() error
}

var tracer = otel.Tracer("github.com/annel0/inventory-grid/internal/storage")

// startSpan открывает span операции хранилища
func startSpan(ctx context.Context, backend, op, id string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("storage.backend", backend)}
	if id != "" {
		attrs = append(attrs, attribute.String("inventory.id", id))
	}
	return tracer.Start(ctx, "storage."+op, trace.WithAttributes(attrs...))
}

// endSpan закрывает span, отмечая ошибку. ErrSnapshotNotFound ошибкой не считается.
func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, ErrSnapshotNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func validateRecord(rec *InventoryRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("недействительный снимок: пустой идентификатор инвентаря")
	}
	return nil
}

func encodeRecord(rec *InventoryRecord) ([]byte, error) {
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации снимка %s: %w", rec.ID, err)
	}
	return data, nil
}

func decodeRecord(id string, data []byte) (*InventoryRecord, error) {
	var rec InventoryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("ошибка десериализации снимка %s: %w", id, err)
	}
	return &rec, nil
}
