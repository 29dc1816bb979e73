package eventbus

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/annel0/inventory-grid/internal/logging"
)

// MetricsExporter периодически переносит Stats шины в Prometheus-метрики.
// Counter растёт на разницу с предыдущим снимком Stats.
type MetricsExporter struct {
	bus      EventBus
	interval time.Duration
	quit     chan struct{}
	done     chan struct{}

	published prometheus.Counter
	consumed  prometheus.Counter
	dropped   prometheus.Counter
	inflight  prometheus.Gauge

	prev Stats
}

// NewMetricsExporter создаёт экспортер и регистрирует метрики в reg
// (prometheus.DefaultRegisterer, если reg == nil). Обновление не запускается.
func NewMetricsExporter(bus EventBus, reg prometheus.Registerer) *MetricsExporter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	me := &MetricsExporter{
		bus:      bus,
		interval: time.Second,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventbus",
			Name:      "messages_published_total",
			Help:      "Общее число опубликованных сообщений.",
		}),
		consumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventbus",
			Name:      "messages_consumed_total",
			Help:      "Общее число доставленных сообщений подписчикам.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "eventbus",
			Name:      "messages_dropped_total",
			Help:      "Сообщений, отброшенных из-за ошибок или переполнения буфера.",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "eventbus",
			Name:      "messages_inflight",
			Help:      "Количество сообщений в очереди.",
		}),
	}
	reg.MustRegister(me.published, me.consumed, me.dropped, me.inflight)
	return me
}

// Start запускает периодическое обновление метрик
func (m *MetricsExporter) Start() {
	go m.loop()
}

// StartHTTP запускает отдельный эндпоинт /metrics на addr и обновление метрик.
// Используется, когда REST-сервер не поднимается.
func (m *MetricsExporter) StartHTTP(addr string) {
	go func() {
		logging.Info("📈 Prometheus /metrics доступен по адресу %s", addr)
		if err := http.ListenAndServe(addr, promhttp.Handler()); err != nil {
			logging.Error("Ошибка Prometheus HTTP сервера: %v", err)
		}
	}()
	m.Start()
}

// Stop останавливает обновление метрик
func (m *MetricsExporter) Stop() {
	close(m.quit)
	<-m.done
}

// Collect переносит текущие Stats в метрики
func (m *MetricsExporter) Collect() {
	stats := m.bus.Metrics()

	if d := stats.Published - m.prev.Published; d > 0 {
		m.published.Add(float64(d))
	}
	if d := stats.Consumed - m.prev.Consumed; d > 0 {
		m.consumed.Add(float64(d))
	}
	if d := stats.Dropped - m.prev.Dropped; d > 0 {
		m.dropped.Add(float64(d))
	}
	m.inflight.Set(float64(stats.InFlight))
	m.prev = stats
}

func (m *MetricsExporter) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	defer close(m.done)

	for {
		select {
		case <-ticker.C:
			m.Collect()
		case <-m.quit:
			m.Collect()
			return
		}
	}
}
