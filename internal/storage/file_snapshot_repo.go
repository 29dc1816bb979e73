package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const snapshotExt = ".json"

// FileSnapshotRepo хранит каждый снимок отдельным JSON-файлом в каталоге.
// Запись атомарна: временный файл переименовывается поверх старого.
type FileSnapshotRepo struct {
	basePath string
	mu       sync.RWMutex
}

// NewFileSnapshotRepo создаёт каталог basePath, если его нет
func NewFileSnapshotRepo(basePath string) (*FileSnapshotRepo, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию %s: %w", basePath, err)
	}
	return &FileSnapshotRepo{basePath: basePath}, nil
}

// filename экранирует идентификатор, чтобы он не выходил за пределы каталога
func (r *FileSnapshotRepo) filename(id string) string {
	return filepath.Join(r.basePath, url.PathEscape(id)+snapshotExt)
}

func (r *FileSnapshotRepo) Save(ctx context.Context, rec *InventoryRecord) (err error) {
	if err := validateRecord(rec); err != nil {
		return err
	}
	_, span := startSpan(ctx, "file", "save", rec.ID)
	defer func() { endSpan(span, err) }()

	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tmp, err := os.CreateTemp(r.basePath, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("ошибка записи снимка %s: %w", rec.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("ошибка записи снимка %s: %w", rec.ID, err)
	}
	if err := os.Rename(tmp.Name(), r.filename(rec.ID)); err != nil {
		return fmt.Errorf("ошибка сохранения снимка %s: %w", rec.ID, err)
	}
	return nil
}

func (r *FileSnapshotRepo) Load(ctx context.Context, id string) (rec *InventoryRecord, err error) {
	_, span := startSpan(ctx, "file", "load", id)
	defer func() { endSpan(span, err) }()

	r.mu.RLock()
	data, err := os.ReadFile(r.filename(id))
	r.mu.RUnlock()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения снимка %s: %w", id, err)
	}
	return decodeRecord(id, data)
}

func (r *FileSnapshotRepo) Delete(ctx context.Context, id string) (err error) {
	_, span := startSpan(ctx, "file", "delete", id)
	defer func() { endSpan(span, err) }()

	r.mu.Lock()
	defer r.mu.Unlock()
	err = os.Remove(r.filename(id))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	return err
}

func (r *FileSnapshotRepo) List(ctx context.Context) (ids []string, err error) {
	_, span := startSpan(ctx, "file", "list", "")
	defer func() { endSpan(span, err) }()

	r.mu.RLock()
	entries, err := os.ReadDir(r.basePath)
	r.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения каталога %s: %w", r.basePath, err)
	}

	ids = make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, snapshotExt) {
			continue
		}
		id, err := url.PathUnescape(strings.TrimSuffix(name, snapshotExt))
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *FileSnapshotRepo) Close() error { return nil }
