// Package metrics provides Prometheus metrics collection for the decoding
// pipeline. It defines the counters, gauges, and histograms that are exposed
// via the monitoring endpoint: marker decoding, epoch extraction, ensemble
// predictions, and per-run validation scores.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the decoding pipeline.
type Metrics struct {
	// Marker decoding metrics
	MarkersDecoded   *prometheus.CounterVec // Markers decoded into game events, by action
	MarkersDiscarded prometheus.Counter     // Markers dropped because they map to no action

	// Epoch metrics
	EpochsExtracted   prometheus.Counter // Epochs successfully cut from the recording
	EpochsOutOfBounds prometheus.Counter // Epoch windows that start before the recording

	// Prediction metrics
	Predictions       *prometheus.CounterVec // Ensemble predictions made, by predicted label
	PredictionLatency prometheus.Histogram   // End-to-end latency of a single ensemble prediction

	// Run metrics
	RunsCompleted     prometheus.Counter // Validation runs that finished all events
	RunsFailed        prometheus.Counter // Validation runs aborted by an error
	ChronogramEntries prometheus.Gauge   // Entries accumulated in the current chronogram
	BalancedAccuracy  prometheus.Gauge   // Balanced accuracy of the last completed run
	Kappa             prometheus.Gauge   // Cohen's kappa of the last completed run

	// Model metrics
	ModelLoads *prometheus.CounterVec // Models loaded from the store, by kind
}

// New creates and registers all Prometheus metrics using the default registry.
// This is the standard way to create metrics for production use.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
// This allows for isolated metric collection in tests without affecting
// the global Prometheus registry.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		MarkersDecoded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "decoder_markers_decoded_total",
			Help: "Total number of markers decoded into game events",
		}, []string{"action"}),
		MarkersDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "decoder_markers_discarded_total",
			Help: "Total number of markers dropped because no action maps to them",
		}),
		EpochsExtracted: factory.NewCounter(prometheus.CounterOpts{
			Name: "decoder_epochs_extracted_total",
			Help: "Total number of epochs cut from the recording",
		}),
		EpochsOutOfBounds: factory.NewCounter(prometheus.CounterOpts{
			Name: "decoder_epochs_out_of_bounds_total",
			Help: "Total number of epoch windows that start before the recording begins",
		}),
		Predictions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "decoder_predictions_total",
			Help: "Total number of ensemble predictions, by predicted label",
		}, []string{"label"}),
		PredictionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "decoder_prediction_latency_seconds",
			Help:    "End-to-end latency of a single ensemble prediction in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		RunsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "decoder_runs_completed_total",
			Help: "Total number of validation runs that finished all events",
		}),
		RunsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "decoder_runs_failed_total",
			Help: "Total number of validation runs aborted by an error",
		}),
		ChronogramEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "decoder_chronogram_entries",
			Help: "Number of entries accumulated in the current chronogram",
		}),
		BalancedAccuracy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "decoder_balanced_accuracy",
			Help: "Balanced accuracy of the last completed validation run",
		}),
		Kappa: factory.NewGauge(prometheus.GaugeOpts{
			Name: "decoder_cohen_kappa",
			Help: "Cohen's kappa of the last completed validation run",
		}),
		ModelLoads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "decoder_model_loads_total",
			Help: "Total number of models loaded from the store, by kind",
		}, []string{"kind"}),
	}
}
