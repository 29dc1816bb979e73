package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/annel0/inventory-grid/internal/logging"
)

var (
	_ SnapshotRepo = (*MemorySnapshotRepo)(nil)
	_ SnapshotRepo = (*BadgerSnapshotRepo)(nil)
	_ SnapshotRepo = (*FileSnapshotRepo)(nil)
	_ SnapshotRepo = (*RedisSnapshotRepo)(nil)
	_ SnapshotRepo = (*MariaSnapshotRepo)(nil)
	_ SnapshotRepo = (*MongoSnapshotRepo)(nil)
)

// Backend — тип хранилища снимков
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMaria  = "mariadb"
	BackendMongo  = "mongodb"
)

// Options выбирают и настраивают хранилище
type Options struct {
	Backend  string
	DataPath string // каталог BadgerDB или файлов снимков
	Redis    RedisConfig
	MariaDSN string
	Mongo    MongoConfig
}

// Open создаёт репозиторий снимков по Options.Backend.
// Пустой Backend означает хранение в памяти.
func Open(ctx context.Context, opts Options) (SnapshotRepo, error) {
	backend := strings.ToLower(strings.TrimSpace(opts.Backend))
	var (
		repo SnapshotRepo
		err  error
	)
	switch backend {
	case "", BackendMemory:
		backend = BackendMemory
		repo = NewMemorySnapshotRepo()
	case BackendBadger:
		if opts.DataPath == "" {
			repo, err = NewInMemoryBadgerSnapshotRepo()
		} else {
			repo, err = NewBadgerSnapshotRepo(opts.DataPath)
		}
	case BackendFile:
		if opts.DataPath == "" {
			return nil, fmt.Errorf("хранилище %s: не задан data_path", BackendFile)
		}
		repo, err = NewFileSnapshotRepo(opts.DataPath)
	case BackendRedis:
		repo, err = NewRedisSnapshotRepo(ctx, &opts.Redis)
	case BackendMaria, "mysql":
		repo, err = NewMariaSnapshotRepo(ctx, opts.MariaDSN)
	case BackendMongo, "mongo":
		repo, err = NewMongoSnapshotRepo(ctx, opts.Mongo)
	default:
		return nil, fmt.Errorf("неизвестный тип хранилища: %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}

	logging.GetStorageLogger().Info("💾 Хранилище снимков: %s", backend)
	return repo, nil
}
