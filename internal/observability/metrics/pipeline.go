package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains the metrics of the classify pipeline.
type PipelineMetrics struct {
	ClassificationsTotal *prometheus.CounterVec
	ClassifyErrors       *prometheus.CounterVec
	StepDuration         *prometheus.HistogramVec
	ConfidenceHistogram  prometheus.Histogram
}

// NewPipelineMetrics creates and registers the pipeline metrics.
func NewPipelineMetrics(registry prometheus.Registerer) (*PipelineMetrics, error) {
	m := &PipelineMetrics{
		ClassificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drawee_classifications_total",
				Help: "Total number of stored classifications by predicted stage",
			},
			[]string{"stage"},
		),
		ClassifyErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drawee_classify_errors_total",
				Help: "Total number of failed classify requests by error category",
			},
			[]string{"category"},
		),
		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "drawee_pipeline_step_duration_seconds",
				Help:    "Time taken by each classify pipeline step",
				Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount12+2),
			},
			[]string{"step"},
		),
		ConfidenceHistogram: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "drawee_classification_confidence_percent",
				Help:    "Distribution of the merged confidence of stored classifications",
				Buckets: prometheus.LinearBuckets(20, 10, 9),
			},
		),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

// RecordClassification counts a stored result
func (m *PipelineMetrics) RecordClassification(stage string, confidence float64) {
	if m == nil {
		return
	}
	m.ClassificationsTotal.WithLabelValues(stage).Inc()
	m.ConfidenceHistogram.Observe(confidence)
}

// RecordError counts a failed request
func (m *PipelineMetrics) RecordError(category string) {
	if m == nil {
		return
	}
	m.ClassifyErrors.WithLabelValues(category).Inc()
}

// RecordStep observes the duration of one pipeline step
func (m *PipelineMetrics) RecordStep(step string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.StepDuration.WithLabelValues(step).Observe(durationSeconds)
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.ClassificationsTotal.Describe(ch)
	m.ClassifyErrors.Describe(ch)
	m.StepDuration.Describe(ch)
	ch <- m.ConfidenceHistogram.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.ClassificationsTotal.Collect(ch)
	m.ClassifyErrors.Collect(ch)
	m.StepDuration.Collect(ch)
	ch <- m.ConfidenceHistogram
}
