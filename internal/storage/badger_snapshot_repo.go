package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v3"
)

const badgerKeyPrefix = "inventory:"

// BadgerSnapshotRepo хранит снимки во встроенной BadgerDB
type BadgerSnapshotRepo struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool
}

// NewBadgerSnapshotRepo открывает базу в каталоге dataPath/inventories
func NewBadgerSnapshotRepo(dataPath string) (*BadgerSnapshotRepo, error) {
	dbPath := filepath.Join(dataPath, "inventories")
	return openBadger(badger.DefaultOptions(dbPath), dbPath)
}

// NewInMemoryBadgerSnapshotRepo открывает BadgerDB без записи на диск
func NewInMemoryBadgerSnapshotRepo() (*BadgerSnapshotRepo, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true), "")
}

func openBadger(opts badger.Options, dbPath string) (*BadgerSnapshotRepo, error) {
	opts = opts.WithLogger(nil) // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}
	return &BadgerSnapshotRepo{db: db, dbPath: dbPath, isReady: true}, nil
}

func badgerKey(id string) []byte { return []byte(badgerKeyPrefix + id) }

func (r *BadgerSnapshotRepo) Save(ctx context.Context, rec *InventoryRecord) (err error) {
	if err := validateRecord(rec); err != nil {
		return err
	}
	_, span := startSpan(ctx, "badger", "save", rec.ID)
	defer func() { endSpan(span, err) }()

	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if !r.isReady {
		return fmt.Errorf("хранилище не готово")
	}

	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	err = r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(rec.ID), data)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

func (r *BadgerSnapshotRepo) Load(ctx context.Context, id string) (rec *InventoryRecord, err error) {
	_, span := startSpan(ctx, "badger", "load", id)
	defer func() { endSpan(span, err) }()

	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if !r.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}

	var data []byte
	err = r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}
	return decodeRecord(id, data)
}

func (r *BadgerSnapshotRepo) Delete(ctx context.Context, id string) (err error) {
	_, span := startSpan(ctx, "badger", "delete", id)
	defer func() { endSpan(span, err) }()

	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if !r.isReady {
		return fmt.Errorf("хранилище не готово")
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(badgerKey(id)); err != nil {
			return err
		}
		return txn.Delete(badgerKey(id))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("ошибка удаления из BadgerDB: %w", err)
	}
	return nil
}

// List обходит ключи с префиксом; BadgerDB отдаёт их отсортированными
func (r *BadgerSnapshotRepo) List(ctx context.Context) (ids []string, err error) {
	_, span := startSpan(ctx, "badger", "list", "")
	defer func() { endSpan(span, err) }()

	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if !r.isReady {
		return nil, fmt.Errorf("хранилище не готово")
	}

	ids = []string{}
	prefix := []byte(badgerKeyPrefix)
	err = r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, strings.TrimPrefix(string(it.Item().Key()), badgerKeyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка обхода BadgerDB: %w", err)
	}
	return ids, nil
}

// Close закрывает базу. Повторный вызов ничего не делает.
func (r *BadgerSnapshotRepo) Close() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if !r.isReady {
		return nil
	}
	r.isReady = false
	return r.db.Close()
}
