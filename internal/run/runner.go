// Package run replays a recorded session through the decoding ensemble
// and scores the outcome against the session's ground-truth markers.
package run

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/emihelj/cybathlon/internal/chrono"
	"github.com/emihelj/cybathlon/internal/ensemble"
	"github.com/emihelj/cybathlon/internal/epoch"
	"github.com/emihelj/cybathlon/internal/events"
	"github.com/emihelj/cybathlon/internal/model"
	"github.com/emihelj/cybathlon/internal/preprocess"
	"github.com/emihelj/cybathlon/internal/recording"
)

// ErrNoRecording reports a runner built without a session to replay.
var ErrNoRecording = errors.New("no recording loaded")

// Metrics is the instrumentation surface the runner drives. The
// metrics package's Wrapper satisfies it; tests use mocks.
type Metrics interface {
	MarkerDecoded(action string)
	MarkersDiscarded(n int)
	EpochExtracted()
	EpochOutOfBounds()
	PredictionMade(label int)
	PredictionLatency(seconds float64)
	RunCompleted(balancedAcc, kappa float64)
	RunFailed()
	ChronogramSize(n int)
}

type noopMetrics struct{}

func (noopMetrics) MarkerDecoded(string)      {}
func (noopMetrics) MarkersDiscarded(int)      {}
func (noopMetrics) EpochExtracted()           {}
func (noopMetrics) EpochOutOfBounds()         {}
func (noopMetrics) PredictionMade(int)        {}
func (noopMetrics) PredictionLatency(float64) {}
func (noopMetrics) RunCompleted(_, _ float64) {}
func (noopMetrics) RunFailed()                {}
func (noopMetrics) ChronogramSize(int)        {}

// Config fixes how the runner cuts and scores epochs. MarkerActions
// maps the leading digit of a stimulus code to an action name; Labels
// maps a class label to the action name the models predict for it.
type Config struct {
	WindowSeconds float64
	MarkerActions map[int]string
	Labels        map[int]string
	CropCount     int
	CropSeconds   float64
	Preprocess    preprocess.Options
}

// Runner replays one recording event by event: decode the marker, cut
// the epoch that ends at it, let the ensemble vote, and log the
// truth/prediction pair.
type Runner struct {
	rec           *recording.Recording
	models        []model.Handle
	decoder       *events.Decoder
	truth         map[string]int
	chronogram    *chrono.Log
	metrics       Metrics
	windowSamples int
	opts          ensemble.Options
}

// NewRunner validates the wiring and builds a runner. The label table
// is inverted action-to-label here, so duplicate actions and marker
// actions without a predictable label are construction errors, not
// replay surprises.
func NewRunner(rec *recording.Recording, models []model.Handle, chronogram *chrono.Log, cfg Config, m Metrics) (*Runner, error) {
	if rec == nil {
		return nil, ErrNoRecording
	}
	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("recording: %w", err)
	}
	if len(models) == 0 {
		return nil, ensemble.ErrNoModels
	}
	if chronogram == nil {
		return nil, errors.New("no chronogram to append to")
	}
	if m == nil {
		m = noopMetrics{}
	}

	windowSamples := int(math.Round(rec.SamplingRate * cfg.WindowSeconds))
	if windowSamples < 1 {
		return nil, fmt.Errorf("window of %gs covers no samples at %g Hz", cfg.WindowSeconds, rec.SamplingRate)
	}

	truth := make(map[string]int, len(cfg.Labels))
	for label, action := range cfg.Labels {
		if prev, ok := truth[action]; ok {
			return nil, fmt.Errorf("action %q is mapped to labels %d and %d", action, prev, label)
		}
		truth[action] = label
	}
	for digit, action := range cfg.MarkerActions {
		if _, ok := truth[action]; !ok {
			return nil, fmt.Errorf("marker digit %d decodes to action %q which has no label", digit, action)
		}
	}

	neural := models[0].Kind().Neural()
	for _, h := range models[1:] {
		if h.Kind().Neural() != neural {
			return nil, errors.New("ensemble mixes neural and classical members")
		}
	}

	return &Runner{
		rec:           rec,
		models:        models,
		decoder:       events.NewDecoder(cfg.MarkerActions),
		truth:         truth,
		chronogram:    chronogram,
		metrics:       m,
		windowSamples: windowSamples,
		opts: ensemble.Options{
			SamplingRate: rec.SamplingRate,
			CropCount:    cfg.CropCount,
			CropSeconds:  cfg.CropSeconds,
			Neural:       neural,
			Preprocess:   cfg.Preprocess,
		},
	}, nil
}

// Run replays every decoded event in order. An event whose window
// would start before the recording halts the run, as does a model
// failure: both mean the configuration and the data disagree, and
// nothing may be logged for the broken event. Cancellation is honored
// between events, and the summary always covers whatever was scored
// before the return.
func (r *Runner) Run(ctx context.Context) (chrono.Summary, error) {
	evs, counts := r.decoder.Decode(r.rec)
	r.metrics.MarkersDiscarded(counts.Discarded)

	log.Info().
		Int("events", counts.Decoded).
		Int("discarded", counts.Discarded).
		Int("models", len(r.models)).
		Bool("neural", r.opts.Neural).
		Int("window_samples", r.windowSamples).
		Msg("starting validation run")

	for _, ev := range evs {
		select {
		case <-ctx.Done():
			return chrono.Summarize(r.chronogram.Entries()), ctx.Err()
		default:
		}

		r.metrics.MarkerDecoded(ev.Action)

		ep, err := epoch.Extract(r.rec, ev.Timestamp, r.windowSamples)
		if err != nil {
			var oob *epoch.OutOfBoundsError
			if errors.As(err, &oob) {
				r.metrics.EpochOutOfBounds()
			}
			r.metrics.RunFailed()
			return chrono.Summarize(r.chronogram.Entries()), fmt.Errorf("event at %.3fs: %w", ev.Timestamp, err)
		}
		r.metrics.EpochExtracted()

		start := time.Now()
		predicted, err := ensemble.Aggregate(ep, r.models, r.opts)
		if err != nil {
			r.metrics.RunFailed()
			return chrono.Summarize(r.chronogram.Entries()), fmt.Errorf("event at %.3fs: %w", ev.Timestamp, err)
		}
		r.metrics.PredictionLatency(time.Since(start).Seconds())
		r.metrics.PredictionMade(predicted)

		r.chronogram.Append(chrono.Entry{
			Timestamp: ev.Timestamp,
			Truth:     r.truth[ev.Action],
			Predicted: predicted,
		})
		r.metrics.ChronogramSize(r.chronogram.Len())
	}

	summary := chrono.Summarize(r.chronogram.Entries())
	r.metrics.RunCompleted(summary.BalancedAccuracy, summary.Kappa)
	log.Info().
		Int("entries", summary.Entries).
		Float64("balanced_accuracy", summary.BalancedAccuracy).
		Float64("kappa", summary.Kappa).
		Msg("validation run complete")
	return summary, nil
}
