package metrics

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// ClassifierMetrics contains the metrics of the drawing classifiers.
type ClassifierMetrics struct {
	PredictionDuration *prometheus.HistogramVec
	PredictionTotal    *prometheus.CounterVec
	PredictionErrors   *prometheus.CounterVec
	ModelLoadTotal     *prometheus.CounterVec
	ModelLoadDuration  *prometheus.HistogramVec
	ModelsLoaded       *prometheus.GaugeVec
	WeightFetchTotal   *prometheus.CounterVec
}

// NewClassifierMetrics creates and registers the classifier metrics.
func NewClassifierMetrics(registry prometheus.Registerer) (*ClassifierMetrics, error) {
	m := &ClassifierMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register classifier metrics: %w", err)
	}
	return m, nil
}

func (m *ClassifierMetrics) initMetrics() {
	m.PredictionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drawee_prediction_duration_seconds",
			Help:    "Time taken by one model to predict a drawing",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12), // 1ms to ~2s
		},
		[]string{"model"},
	)
	m.PredictionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drawee_predictions_total",
			Help: "Total number of prediction requests",
		},
		[]string{"model", "status"},
	)
	m.PredictionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drawee_prediction_errors_total",
			Help: "Total number of prediction errors",
		},
		[]string{"model", "error_type"},
	)
	m.ModelLoadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drawee_model_load_total",
			Help: "Total number of model load attempts",
		},
		[]string{"model", "status"},
	)
	m.ModelLoadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drawee_model_load_duration_seconds",
			Help:    "Time taken to load a model including weight download",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12), // 10ms to ~20s
		},
		[]string{"model"},
	)
	m.ModelsLoaded = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drawee_model_loaded",
			Help: "Whether a model is currently loaded (1) or not (0)",
		},
		[]string{"model"},
	)
	m.WeightFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drawee_weight_fetch_total",
			Help: "Total number of model weight downloads",
		},
		[]string{"source", "status"},
	)
}

// RecordPrediction records one model prediction
func (m *ClassifierMetrics) RecordPrediction(model string, durationSeconds float64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PredictionTotal.WithLabelValues(model, StatusError).Inc()
		m.PredictionErrors.WithLabelValues(model, categorizeError(err)).Inc()
		return
	}
	m.PredictionTotal.WithLabelValues(model, StatusSuccess).Inc()
	m.PredictionDuration.WithLabelValues(model).Observe(durationSeconds)
}

// RecordModelLoad records a load attempt and updates the loaded gauge
func (m *ClassifierMetrics) RecordModelLoad(model string, durationSeconds float64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ModelLoadTotal.WithLabelValues(model, StatusError).Inc()
		m.ModelsLoaded.WithLabelValues(model).Set(0)
		return
	}
	m.ModelLoadTotal.WithLabelValues(model, StatusSuccess).Inc()
	m.ModelLoadDuration.WithLabelValues(model).Observe(durationSeconds)
	m.ModelsLoaded.WithLabelValues(model).Set(1)
}

// RecordModelUnload marks a model as released
func (m *ClassifierMetrics) RecordModelUnload(model string) {
	if m == nil {
		return
	}
	m.ModelsLoaded.WithLabelValues(model).Set(0)
}

// RecordWeightFetch records a weight download
func (m *ClassifierMetrics) RecordWeightFetch(source string, err error) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.WeightFetchTotal.WithLabelValues(source, status).Inc()
}

// categorizeError returns a coarse label for err
func categorizeError(err error) string {
	if err == nil {
		return "none"
	}
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "unavailable"):
		return "model_unavailable"
	case strings.Contains(errStr, "tensor"):
		return "tensor_error"
	case strings.Contains(errStr, "invoke"), strings.Contains(errStr, "inference"):
		return "invoke_error"
	case strings.Contains(errStr, "context"):
		return "canceled"
	default:
		return "unknown"
	}
}

// Describe implements the prometheus.Collector interface.
func (m *ClassifierMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.PredictionDuration.Describe(ch)
	m.PredictionTotal.Describe(ch)
	m.PredictionErrors.Describe(ch)
	m.ModelLoadTotal.Describe(ch)
	m.ModelLoadDuration.Describe(ch)
	m.ModelsLoaded.Describe(ch)
	m.WeightFetchTotal.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *ClassifierMetrics) Collect(ch chan<- prometheus.Metric) {
	m.PredictionDuration.Collect(ch)
	m.PredictionTotal.Collect(ch)
	m.PredictionErrors.Collect(ch)
	m.ModelLoadTotal.Collect(ch)
	m.ModelLoadDuration.Collect(ch)
	m.ModelsLoaded.Collect(ch)
	m.WeightFetchTotal.Collect(ch)
}
