package metrics

import "strconv"

// Wrapper exposes the pipeline metrics behind plain method calls so the run
// package does not import Prometheus types directly. A nil receiver or a
// wrapper around a nil Metrics is valid and drops every observation, which
// keeps instrumentation optional in tests.
type Wrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *Wrapper {
	return &Wrapper{m: m}
}

func (w *Wrapper) enabled() bool {
	return w != nil && w.m != nil
}

func (w *Wrapper) MarkerDecoded(action string) {
	if w.enabled() {
		w.m.MarkersDecoded.WithLabelValues(action).Inc()
	}
}

func (w *Wrapper) MarkersDiscarded(n int) {
	if w.enabled() && n > 0 {
		w.m.MarkersDiscarded.Add(float64(n))
	}
}

func (w *Wrapper) EpochExtracted() {
	if w.enabled() {
		w.m.EpochsExtracted.Inc()
	}
}

func (w *Wrapper) EpochOutOfBounds() {
	if w.enabled() {
		w.m.EpochsOutOfBounds.Inc()
	}
}

func (w *Wrapper) PredictionMade(label int) {
	if w.enabled() {
		w.m.Predictions.WithLabelValues(strconv.Itoa(label)).Inc()
	}
}

func (w *Wrapper) PredictionLatency(seconds float64) {
	if w.enabled() {
		w.m.PredictionLatency.Observe(seconds)
	}
}

func (w *Wrapper) RunCompleted(balancedAcc, kappa float64) {
	if w.enabled() {
		w.m.RunsCompleted.Inc()
		w.m.BalancedAccuracy.Set(balancedAcc)
		w.m.Kappa.Set(kappa)
	}
}

func (w *Wrapper) RunFailed() {
	if w.enabled() {
		w.m.RunsFailed.Inc()
	}
}

func (w *Wrapper) ChronogramSize(n int) {
	if w.enabled() {
		w.m.ChronogramEntries.Set(float64(n))
	}
}

func (w *Wrapper) ModelLoaded(kind string) {
	if w.enabled() {
		w.m.ModelLoads.WithLabelValues(kind).Inc()
	}
}
