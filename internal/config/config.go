package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/annel0/inventory-grid/internal/cache"
	"github.com/annel0/inventory-grid/internal/grid"
	"github.com/annel0/inventory-grid/internal/inventory"
	"github.com/annel0/inventory-grid/internal/storage"
	"github.com/annel0/inventory-grid/internal/vec"
)

// Config корневая структура конфигурации приложения
type Config struct {
	Grid      GridConfig      `yaml:"grid"`
	Storage   StorageConfig   `yaml:"storage"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Sync      SyncConfig      `yaml:"sync"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Items     []ItemConfig    `yaml:"items"`
}

type GridConfig struct {
	Width        int `yaml:"width"`
	Height       int `yaml:"height"`
	EventLogSize int `yaml:"event_log_size"`
}

type StorageConfig struct {
	Backend  string      `yaml:"backend"` // memory | badger | file | redis | mariadb | mongodb
	DataPath string      `yaml:"data_path"`
	Redis    RedisConfig `yaml:"redis"`
	MariaDSN string      `yaml:"maria_dsn"`
	Mongo    MongoConfig `yaml:"mongo"`
	Cache    CacheConfig `yaml:"cache"`
}

// CacheConfig — кеш снимков перед хранилищем
type CacheConfig struct {
	Enabled       bool   `yaml:"enabled"`
	RedisAddr     string `yaml:"redis_addr"` // пусто — кеш в памяти процесса
	RedisPassword string `yaml:"redis_password"`
	TTLSeconds    int    `yaml:"ttl_seconds"`
	MaxCostMB     int    `yaml:"max_cost_mb"`
	NATSURL       string `yaml:"nats_url"` // рассылка инвалидаций между узлами
}

type RedisConfig struct {
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	KeyPrefix  string `yaml:"key_prefix"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

type EventBusConfig struct {
	URL       string `yaml:"url"` // пусто — шина в памяти
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
	Capacity  int    `yaml:"capacity"`
}

type SyncConfig struct {
	NodeID        string `yaml:"node_id"`
	BatchSize     int    `yaml:"batch_size"`
	FlushEveryMs  int    `yaml:"flush_every_ms"`
	PollEveryMs   int    `yaml:"poll_every_ms"`
	UseGzipCompr  bool   `yaml:"use_gzip_compression"`
	GzipLevel     int    `yaml:"gzip_level"`
	Compression   string `yaml:"compression"` // json | gzip | zstd
	EnableReplica bool   `yaml:"enable_replica"`
}

type ServerConfig struct {
	RESTPort     int `yaml:"rest_port"`
	MetricsPort  int `yaml:"metrics_port"`
	AutosaveSecs int `yaml:"autosave_seconds"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	FileLevel string `yaml:"file_level"`
	Dir       string `yaml:"dir"`
}

type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// ItemConfig описывает предмет каталога. Фигура задаётся строками
// ("##", "#.") либо размером width×height; без них предмет занимает одну клетку.
type ItemConfig struct {
	ID         string   `yaml:"id"`
	Name       string   `yaml:"name"`
	Width      int      `yaml:"width"`
	Height     int      `yaml:"height"`
	Shape      []string `yaml:"shape"`
	StackLimit int      `yaml:"stack_limit"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Grid.Width <= 0 {
		c.Grid.Width = 10
	}
	if c.Grid.Height <= 0 {
		c.Grid.Height = 6
	}
	if c.Grid.EventLogSize <= 0 {
		c.Grid.EventLogSize = 100
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = storage.BackendMemory
	}
	if c.Storage.Cache.TTLSeconds <= 0 {
		c.Storage.Cache.TTLSeconds = 300
	}
	if c.EventBus.Stream == "" {
		c.EventBus.Stream = "INVENTORY"
	}
	if c.EventBus.Capacity <= 0 {
		c.EventBus.Capacity = 1024
	}
	if c.Sync.NodeID == "" {
		c.Sync.NodeID = getEnvOr("INVENTORY_NODE_ID", "inventory-node")
	}
	if c.Sync.BatchSize <= 0 {
		c.Sync.BatchSize = 128
	}
	if c.Sync.FlushEveryMs <= 0 {
		c.Sync.FlushEveryMs = 100
	}
	if c.Sync.PollEveryMs <= 0 {
		c.Sync.PollEveryMs = 50
	}
	if c.Sync.GzipLevel == 0 {
		c.Sync.GzipLevel = -1 // DefaultCompression
	}
	if c.Server.AutosaveSecs <= 0 {
		c.Server.AutosaveSecs = 60
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
}

// GridSize возвращает размер новой сетки
func (g GridConfig) GridSize() vec.Vec2 { return vec.Vec2{X: g.Width, Y: g.Height} }

// Options переводит секцию storage в параметры хранилища
func (s StorageConfig) Options() storage.Options {
	return storage.Options{
		Backend:  s.Backend,
		DataPath: s.DataPath,
		Redis: storage.RedisConfig{
			Addr:      getEnvOr("INVENTORY_REDIS_ADDR", orDefault(s.Redis.Addr, "localhost:6379")),
			Password:  s.Redis.Password,
			DB:        s.Redis.DB,
			KeyPrefix: s.Redis.KeyPrefix,
			TTL:       time.Duration(s.Redis.TTLSeconds) * time.Second,
		},
		MariaDSN: getEnvOr("INVENTORY_MARIA_DSN", s.MariaDSN),
		Mongo: storage.MongoConfig{
			URI:        getEnvOr("INVENTORY_MONGO_URI", s.Mongo.URI),
			Database:   s.Mongo.Database,
			Collection: s.Mongo.Collection,
		},
	}
}

// Options переводит секцию cache в параметры кеша
func (c CacheConfig) Options() cache.Options {
	return cache.Options{
		RedisAddr:     c.RedisAddr,
		RedisPassword: c.RedisPassword,
		TTL:           time.Duration(c.TTLSeconds) * time.Second,
		MaxCostBytes:  int64(c.MaxCostMB) << 20,
		NATSURL:       c.NATSURL,
	}
}

// FlushEvery возвращает период отправки пакетов
func (s SyncConfig) FlushEvery() time.Duration {
	return time.Duration(s.FlushEveryMs) * time.Millisecond
}

// PollEvery возвращает период опроса сеток
func (s SyncConfig) PollEvery() time.Duration {
	return time.Duration(s.PollEveryMs) * time.Millisecond
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "INVENTORY_REST_PORT", 8088)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "INVENTORY_METRICS_PORT", 2112)
}

// Autosave возвращает период автосохранения
func (s *ServerConfig) Autosave() time.Duration {
	return time.Duration(s.AutosaveSecs) * time.Second
}

// BuildCatalog собирает каталог предметов из секции items
func (c *Config) BuildCatalog() (*inventory.Catalog, error) {
	catalog := inventory.NewCatalog()
	for i, ic := range c.Items {
		shape, err := ic.shape()
		if err != nil {
			return nil, fmt.Errorf("items[%d] %s: %w", i, ic.ID, err)
		}
		item := &inventory.Item{
			ID:         inventory.ItemID(ic.ID),
			Name:       ic.Name,
			Shape:      shape,
			StackLimit: ic.StackLimit,
		}
		if err := catalog.Register(item); err != nil {
			return nil, fmt.Errorf("items[%d]: %w", i, err)
		}
	}
	return catalog, nil
}

func (ic ItemConfig) shape() (grid.Shape, error) {
	if len(ic.Shape) > 0 {
		return grid.ParseRows(ic.Shape)
	}
	if ic.Width > 0 || ic.Height > 0 {
		return grid.MakeRect(max(ic.Height, 1), max(ic.Width, 1)), nil
	}
	return grid.Shape{}, nil
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	// Если порт задан в конфиге и больше 0, используем его
	if configPort > 0 {
		return configPort
	}

	// Пробуем прочитать из environment variable
	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	// Используем дефолтное значение
	return defaultPort
}

func getEnvOr(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV INVENTORY_CONFIG, иначе возвращает Default().
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("INVENTORY_CONFIG")
		if path == "" {
			return Default(), nil // конфиг не задан — использовать дефолты
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение конфига %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("разбор конфига %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}
