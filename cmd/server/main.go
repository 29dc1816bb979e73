package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/inventory-grid/internal/api"
	"github.com/annel0/inventory-grid/internal/app"
	"github.com/annel0/inventory-grid/internal/cache"
	"github.com/annel0/inventory-grid/internal/config"
	"github.com/annel0/inventory-grid/internal/eventbus"
	"github.com/annel0/inventory-grid/internal/logging"
	"github.com/annel0/inventory-grid/internal/observability"
	"github.com/annel0/inventory-grid/internal/storage"
	gridsync "github.com/annel0/inventory-grid/internal/sync"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (или INVENTORY_CONFIG)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	if err := initLogging(cfg.Logging); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseLogger()

	logging.Info("📦 Запуск Inventory Grid Server...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === ТЕЛЕМЕТРИЯ ===
	if cfg.Telemetry.Enabled {
		shutdown, err := observability.InitTelemetry(ctx, observability.TelemetryConfig{
			ServiceName: "inventory-grid",
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			SampleRatio: cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			logging.Warn("⚠️ Телеметрия отключена: %v", err)
		} else {
			defer func() {
				sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer scancel()
				if err := shutdown(sctx); err != nil {
					logging.Error("Ошибка остановки телеметрии: %v", err)
				}
			}()
		}
	}

	// === КАТАЛОГ И ХРАНИЛИЩЕ ===
	catalog, err := cfg.BuildCatalog()
	if err != nil {
		logging.Error("❌ Ошибка каталога предметов: %v", err)
		os.Exit(1)
	}
	logging.Info("📚 Каталог: %d предметов", len(catalog.All()))

	repo, err := storage.Open(ctx, cfg.Storage.Options())
	if err != nil {
		logging.Error("❌ Ошибка открытия хранилища %s: %v", cfg.Storage.Backend, err)
		os.Exit(1)
	}
	if cfg.Storage.Cache.Enabled {
		cached, err := cache.Wrap(ctx, repo, cfg.Storage.Cache.Options(), cfg.Sync.NodeID)
		if err != nil {
			logging.Warn("⚠️ Кеш снимков отключён: %v", err)
		} else {
			repo = cached
		}
	}

	// === ШИНА СОБЫТИЙ ===
	bus, err := openBus(cfg.EventBus)
	if err != nil {
		logging.Error("❌ Ошибка подключения к шине: %v", err)
		os.Exit(1)
	}
	eventbus.Init(bus)

	if _, err := eventbus.StartLoggingListener(ctx, bus); err != nil {
		logging.Warn("LoggingListener не запущен: %v", err)
	}
	busMetrics := eventbus.NewMetricsExporter(bus, nil)
	if cfg.Server.MetricsPort > 0 {
		// отдельный /metrics в дополнение к REST
		busMetrics.StartHTTP(fmt.Sprintf(":%d", cfg.Server.GetMetricsPort()))
	} else {
		busMetrics.Start()
	}

	// === СИНХРОНИЗАЦИЯ ===
	syncManager, err := gridsync.NewSyncManager(gridsync.SyncConfig{
		Source:        cfg.Sync.NodeID,
		Bus:           bus,
		BatchSize:     cfg.Sync.BatchSize,
		FlushEvery:    cfg.Sync.FlushEvery(),
		PollEvery:     cfg.Sync.PollEvery(),
		UseGzipCompr:  cfg.Sync.UseGzipCompr,
		GzipLevel:     cfg.Sync.GzipLevel,
		Compression:   cfg.Sync.Compression,
		EnableReplica: cfg.Sync.EnableReplica,
	})
	if err != nil {
		logging.Error("❌ Ошибка запуска синхронизации: %v", err)
		os.Exit(1)
	}

	// === РЕЕСТР ИНВЕНТАРЕЙ ===
	registry := app.NewRegistry(app.RegistryConfig{
		Source:       cfg.Sync.NodeID,
		GridSize:     cfg.Grid.GridSize(),
		EventLogSize: cfg.Grid.EventLogSize,
		Catalog:      catalog,
		Repo:         repo,
		Bus:          bus,
		Producer:     syncManager.Producer(),
		Recorder:     observability.NewGridRecorder("inventory", nil),
	})

	// === REST API ===
	webhooks := api.NewOutboundWebhookManager(cfg.Sync.NodeID)
	if err := webhooks.Listen(ctx, bus); err != nil {
		logging.Warn("Webhook'и не подписаны на шину: %v", err)
	}

	restPort := cfg.Server.GetRESTPort()
	restServer := api.NewRestServer(api.Config{
		Port:     fmt.Sprintf(":%d", restPort),
		Registry: registry,
		Webhooks: webhooks,
	})
	if err := restServer.Start(); err != nil {
		logging.Error("❌ Ошибка запуска REST API: %v", err)
		os.Exit(1)
	}

	go autosave(ctx, registry, cfg.Server.Autosave())

	logging.Info("✅ Все сервисы запущены")
	logging.Info("   🌐 REST API: http://localhost:%d", restPort)
	logging.Info("   ❤️  Health check: http://localhost:%d/health", restPort)
	logging.Info("   💾 Хранилище: %s, 🔄 узел: %s", cfg.Storage.Backend, cfg.Sync.NodeID)

	// Канал для получения сигналов ОС
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("📡 Получен сигнал %v, завершение работы...", sig)

	// === GRACEFUL SHUTDOWN ===
	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()

	if err := restServer.Stop(stopCtx); err != nil {
		logging.Error("❌ Ошибка остановки REST API: %v", err)
	}
	if err := registry.Close(stopCtx); err != nil {
		logging.Error("❌ Ошибка сохранения инвентарей: %v", err)
	}
	syncManager.Stop()
	busMetrics.Stop()
	if err := bus.Close(); err != nil {
		logging.Error("Ошибка закрытия шины: %v", err)
	}
	webhooks.Stop()
	if err := repo.Close(); err != nil {
		logging.Error("Ошибка закрытия хранилища: %v", err)
	}

	logging.Info("👋 Сервер успешно остановлен")
}

func initLogging(cfg config.LoggingConfig) error {
	consoleLevel, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	fileLevel := logging.TRACE
	if cfg.FileLevel != "" {
		if fileLevel, err = logging.ParseLevel(cfg.FileLevel); err != nil {
			return err
		}
	}
	return logging.Init(logging.Options{Dir: cfg.Dir, ConsoleLevel: consoleLevel, FileLevel: fileLevel})
}

func openBus(cfg config.EventBusConfig) (eventbus.EventBus, error) {
	if cfg.URL == "" {
		logging.Info("📡 Шина событий: in-memory (%d)", cfg.Capacity)
		return eventbus.NewMemoryBus(cfg.Capacity), nil
	}
	retention := time.Duration(cfg.Retention) * time.Hour
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	logging.Info("📡 Шина событий: JetStream %s, стрим %s", cfg.URL, cfg.Stream)
	return eventbus.NewJetStreamBus(cfg.URL, cfg.Stream, retention)
}

func autosave(ctx context.Context, registry *app.Registry, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := registry.SaveAll(ctx); err != nil {
				logging.Warn("💾 Автосохранение: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
