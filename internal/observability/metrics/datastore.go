package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// DatastoreMetrics contains the metrics of database operations.
type DatastoreMetrics struct {
	dbOperationsTotal   *prometheus.CounterVec
	dbOperationDuration *prometheus.HistogramVec
	dbOperationErrors   *prometheus.CounterVec
	dbConnectionsOpen   prometheus.Gauge
	dbConnectionsInUse  prometheus.Gauge
}

// NewDatastoreMetrics creates and registers the datastore metrics.
func NewDatastoreMetrics(registry prometheus.Registerer) (*DatastoreMetrics, error) {
	m := &DatastoreMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register datastore metrics: %w", err)
	}
	return m, nil
}

func (m *DatastoreMetrics) initMetrics() {
	m.dbOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datastore_db_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "table", "status"},
	)
	m.dbOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datastore_db_operation_duration_seconds",
			Help:    "Time taken for database operations",
			Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount12), // 0.1ms to ~200ms
		},
		[]string{"operation", "table"},
	)
	m.dbOperationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datastore_db_operation_errors_total",
			Help: "Total number of database operation errors",
		},
		[]string{"operation", "table", "error_type"},
	)
	m.dbConnectionsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "datastore_db_connections_open",
		Help: "Number of open database connections",
	})
	m.dbConnectionsInUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "datastore_db_connections_in_use",
		Help: "Number of database connections in use",
	})
}

// RecordDbOperation records the outcome and duration of one operation.
// A nil receiver is a no-op so repositories work without metrics.
func (m *DatastoreMetrics) RecordDbOperation(operation, table string, durationSeconds float64, err error) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
		m.dbOperationErrors.WithLabelValues(operation, table, categorizeError(err)).Inc()
	}
	m.dbOperationsTotal.WithLabelValues(operation, table, status).Inc()
	m.dbOperationDuration.WithLabelValues(operation, table).Observe(durationSeconds)
}

// UpdateConnectionMetrics sets the connection pool gauges
func (m *DatastoreMetrics) UpdateConnectionMetrics(open, inUse int) {
	if m == nil {
		return
	}
	m.dbConnectionsOpen.Set(float64(open))
	m.dbConnectionsInUse.Set(float64(inUse))
}

// Describe implements the prometheus.Collector interface.
func (m *DatastoreMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.dbOperationsTotal.Describe(ch)
	m.dbOperationDuration.Describe(ch)
	m.dbOperationErrors.Describe(ch)
	ch <- m.dbConnectionsOpen.Desc()
	ch <- m.dbConnectionsInUse.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *DatastoreMetrics) Collect(ch chan<- prometheus.Metric) {
	m.dbOperationsTotal.Collect(ch)
	m.dbOperationDuration.Collect(ch)
	m.dbOperationErrors.Collect(ch)
	ch <- m.dbConnectionsOpen
	ch <- m.dbConnectionsInUse
}
