// Package metrics exposes Prometheus collectors for the maintenance service.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

var (
	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetmaint_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	apiRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetmaint_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	tasksSpawnedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetmaint_tasks_spawned_total",
			Help: "Maintenance tasks created by schedule expansion",
		},
	)

	tasksCancelledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetmaint_tasks_cancelled_total",
			Help: "Maintenance tasks cancelled",
		},
	)

	ordersCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetmaint_orders_created_total",
			Help: "Work orders created",
		},
	)

	completionEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetmaint_completion_events_total",
			Help: "Completion events recorded on work orders",
		},
	)

	completedSpendTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetmaint_completed_spend_total",
			Help: "Total paid on completed work, by currency",
		},
		[]string{"currency"},
	)

	rejectedMutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetmaint_rejected_mutations_total",
			Help: "Mutations rejected by the engine, by operation and reason",
		},
		[]string{"operation", "reason"},
	)

	openOrders = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetmaint_open_orders",
			Help: "Work orders currently open",
		},
	)

	registry = prometheus.NewRegistry()
)

func init() {
	registry.MustRegister(
		apiRequestsTotal,
		apiRequestDuration,
		tasksSpawnedTotal,
		tasksCancelledTotal,
		ordersCreatedTotal,
		completionEventsTotal,
		completedSpendTotal,
		rejectedMutationsTotal,
		openOrders,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the collected metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// RecordAPIRequest records one handled HTTP request.
func RecordAPIRequest(method, path string, status int, seconds float64) {
	apiRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	apiRequestDuration.WithLabelValues(method, path).Observe(seconds)
}

func RecordTasksSpawned(n int) {
	tasksSpawnedTotal.Add(float64(n))
}

func RecordTaskCancelled() {
	tasksCancelledTotal.Inc()
}

func RecordOrdersCreated(n int) {
	ordersCreatedTotal.Add(float64(n))
}

// RecordCompletion counts one completion event and its spend.
func RecordCompletion(currency string, totalPaid decimal.Decimal) {
	completionEventsTotal.Inc()
	if totalPaid.IsPositive() {
		completedSpendTotal.WithLabelValues(currency).Add(totalPaid.InexactFloat64())
	}
}

// RecordRejected counts a mutation the engine refused.
func RecordRejected(operation, reason string) {
	rejectedMutationsTotal.WithLabelValues(operation, reason).Inc()
}

// SetOpenOrders sets the open work order gauge.
func SetOpenOrders(n int) {
	openOrders.Set(float64(n))
}
