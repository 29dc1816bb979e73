package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/inventory-grid/internal/app"
	"github.com/annel0/inventory-grid/internal/logging"
	"github.com/annel0/inventory-grid/internal/middleware"
)

// RestServer представляет REST API сервер инвентарей
type RestServer struct {
	router     *gin.Engine
	registry   *app.Registry
	port       string
	metrics    *ServerMetrics
	webhooks   *OutboundWebhookManager
	httpServer *http.Server
	log        *logging.Logger
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port       string                  // порт для запуска сервера
	Registry   *app.Registry           // реестр инвентарей
	Webhooks   *OutboundWebhookManager // исходящие webhook'и, может быть nil
	Registerer prometheus.Registerer   // nil — дефолтный регистр
	Gatherer   prometheus.Gatherer     // источник для /metrics, nil — дефолтный
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// NewRestServer создает новый REST API сервер
func NewRestServer(config Config) *RestServer {
	if config.Port == "" {
		config.Port = ":8080"
	}

	// Устанавливаем режим релиза для gin
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	router.Use(otelgin.Middleware("inventory_api"))

	loggerMw := middleware.NewRequestLogger()
	router.Use(loggerMw.Handler())

	promMw := middleware.NewPrometheusMiddleware("inventory_api", config.Registerer)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, config.Gatherer)

	server := &RestServer{
		router:   router,
		registry: config.Registry,
		port:     config.Port,
		metrics:  NewServerMetrics(),
		webhooks: config.Webhooks,
		log:      logging.GetAPILogger(),
	}
	server.setupRoutes()
	return server
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	api := rs.router.Group("/api")

	inv := api.Group("/inventories")
	{
		inv.GET("", rs.handleListInventories)
		inv.GET("/:id", rs.handleGetInventory)
		inv.GET("/:id/at", rs.handleKeyAt)
		inv.GET("/:id/events", rs.handleEvents)
		inv.POST("/:id/items", rs.handleAddItem)
		inv.DELETE("/:id/items/:entry/:stack", rs.handleRemoveItems)
		inv.POST("/:id/items/:entry/:stack/move", rs.handleMoveItem)
		inv.POST("/:id/items/:entry/:stack/rotate", rs.handleRotateItem)
		inv.POST("/:id/items/:entry/:stack/split", rs.handleSplitStack)
		inv.PUT("/:id/size", rs.handleResize)
		inv.POST("/:id/save", rs.handleSave)
	}

	api.GET("/items", rs.handleCatalog)

	if rs.webhooks != nil {
		wh := api.Group("/webhooks")
		{
			wh.GET("", rs.handleGetOutboundWebhooks)
			wh.POST("", rs.handleCreateOutboundWebhook)
			wh.GET("/events", rs.handleGetWebhookEventTypes)
			wh.DELETE("/:id", rs.handleDeleteOutboundWebhook)
		}
	}

	rs.router.GET("/health", rs.handleHealth)
}

// Handler возвращает http.Handler сервера (для httptest)
func (rs *RestServer) Handler() http.Handler { return rs.router }

// Start запускает HTTP сервер и блокируется до Stop
func (rs *RestServer) Start() error {
	rs.httpServer = &http.Server{
		Addr:              rs.port,
		Handler:           rs.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	rs.log.Info("🌐 REST API запущен на %s", rs.port)
	if err := rs.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop выполняет graceful shutdown
func (rs *RestServer) Stop(ctx context.Context) error {
	if rs.httpServer == nil {
		return nil
	}
	return rs.httpServer.Shutdown(ctx)
}

// handleHealth возвращает состояние процесса
func (rs *RestServer) handleHealth(c *gin.Context) {
	memoryMB, _ := rs.metrics.GetMemoryUsage()
	cpuPercent, err := rs.metrics.GetCPUUsage()
	if err != nil {
		rs.log.Debug("CPU недоступен: %v", err)
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"time":        time.Now().Unix(),
		"uptime":      rs.metrics.GetUptime(),
		"memory_mb":   memoryMB,
		"cpu_percent": cpuPercent,
		"memory":      rs.metrics.GetDetailedMemoryStats(),
		"inventories": len(rs.registry.IDs()),
	})
}
