package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/inventory-grid/internal/spatial"
)

// GridRecorder экспортирует операции сетки в Prometheus.
//
// Метрики:
//   - grid_operations_total{op,result}: counter
//   - grid_occupied_cells: gauge, занятые клетки последней изменённой сетки
//   - grid_occupancy_ratio: histogram заполненности после операции
type GridRecorder struct {
	operations *prometheus.CounterVec
	occupied   prometheus.Gauge
	ratio      prometheus.Histogram
}

var _ spatial.OperationRecorder = (*GridRecorder)(nil)

// NewGridRecorder создаёт метрики и регистрирует их в reg (nil — дефолтный регистр)
func NewGridRecorder(namespace string, reg prometheus.Registerer) *GridRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &GridRecorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grid_operations_total",
			Help:      "Операции сетки по типу и результату.",
		}, []string{"op", "result"}),
		occupied: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "grid_occupied_cells",
			Help:      "Занятые клетки сетки после последней операции.",
		}),
		ratio: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grid_occupancy_ratio",
			Help:      "Доля занятых клеток после операции.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
	}
	reg.MustRegister(r.operations, r.occupied, r.ratio)
	return r
}

// ObserveOperation реализует spatial.OperationRecorder
func (r *GridRecorder) ObserveOperation(op string, ok bool) {
	result := "ok"
	if !ok {
		result = "rejected"
	}
	r.operations.WithLabelValues(op, result).Inc()
}

// ObserveOccupancy реализует spatial.OperationRecorder
func (r *GridRecorder) ObserveOccupancy(occupied, total int) {
	r.occupied.Set(float64(occupied))
	if total > 0 {
		r.ratio.Observe(float64(occupied) / float64(total))
	}
}
