package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/emihelj/cybathlon/internal/cfg"
	"github.com/emihelj/cybathlon/internal/chrono"
	"github.com/emihelj/cybathlon/internal/common"
	"github.com/emihelj/cybathlon/internal/metrics"
	"github.com/emihelj/cybathlon/internal/model"
	"github.com/emihelj/cybathlon/internal/monitor"
	"github.com/emihelj/cybathlon/internal/preprocess"
	"github.com/emihelj/cybathlon/internal/recording"
	"github.com/emihelj/cybathlon/internal/run"
	"github.com/emihelj/cybathlon/internal/storage"
)

func main() {
	// Parse command line arguments
	var (
		configFile = flag.String("config", "", "Path to YAML config file (overrides CONFIG_FILE)")
		runFile    = flag.String("run", "", "Recording to replay, .vhdr or .edf (overrides config)")
		modelName  = flag.String("model", "", "Run a single model instead of the ensemble")
		logLevel   = flag.String("log-level", "", "Log level: debug, info, warn, error")
		noStore    = flag.Bool("no-store", false, "Skip persisting the run to the data path")
	)
	flag.Parse()

	// Initial logging so config problems are readable; the final level
	// comes from the resolved settings below.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// A .env file is optional; anything else wrong with it deserves a warning.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to load .env file")
	}

	if *configFile != "" {
		os.Setenv(common.EnvConfigFile, *configFile)
	}

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	// Override config with command line arguments
	if *runFile != "" {
		c.RunFile = *runFile
	}
	if *modelName != "" {
		c.ModelName = *modelName
		c.Ensemble = false
	}
	if *logLevel != "" {
		c.LogLevel = *logLevel
	}

	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if c.RunFile == "" {
		log.Fatal().Err(run.ErrNoRecording).Msg("pass -run or set run.recording in the config")
	}

	// Print configuration
	fmt.Println("=== Decoder Configuration ===")
	fmt.Printf("Recording: %s\n", c.RunFile)
	if c.Ensemble {
		fmt.Printf("Ensemble: %s\n", strings.Join(c.EnsembleModels, ", "))
	} else {
		fmt.Printf("Model: %s\n", c.ModelName)
	}
	fmt.Printf("Window: %.2fs  Crops: %d x %.2fs\n", c.WindowSeconds, c.CropCount, c.CropSeconds)
	fmt.Printf("Metrics Port: %d\n", c.MetricsPort)
	fmt.Println("=============================")

	rec, err := loadRecording(c)
	if err != nil {
		log.Fatal().Err(err).Str("file", c.RunFile).Msg("failed to load recording")
	}
	log.Info().
		Str("file", c.RunFile).
		Int("channels", rec.NumChannels()).
		Int("samples", rec.NumSamples()).
		Float64("rate", rec.SamplingRate).
		Int("markers", len(rec.Markers)).
		Msg("recording loaded")

	if c.Prefilter {
		if err := preprocess.FilterRecording(rec, c.BandLow, c.BandHigh); err != nil {
			log.Fatal().Err(err).Msg("prefilter failed")
		}
		log.Info().Float64("low", c.BandLow).Float64("high", c.BandHigh).Msg("recording band-pass filtered")
	}

	m := metrics.New()
	mw := metrics.NewWrapper(m)

	store := model.NewStore(c.ModelsPath, c.ClassCount())
	models, err := loadModels(store, c)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load models")
	}
	for _, h := range models {
		mw.ModelLoaded(string(h.Kind()))
		log.Info().Str("model", h.Name()).Str("kind", string(h.Kind())).Msg("model loaded")
	}

	chronogram := chrono.NewLog()
	mon := monitor.NewServer(c.MetricsPort, chronogram)
	if err := mon.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start monitor server")
	}

	runner, err := run.NewRunner(rec, models, chronogram, run.Config{
		WindowSeconds: c.WindowSeconds,
		MarkerActions: c.MarkerDecoding,
		Labels:        c.PredDecoding,
		CropCount:     c.CropCount,
		CropSeconds:   c.CropSeconds,
		Preprocess: preprocess.Options{
			Reref:       c.PreprocReref,
			RefChannel:  c.RefChannel,
			Filter:      c.PreprocFilter,
			Low:         c.BandLow,
			High:        c.BandHigh,
			Standardize: c.PreprocStandardize,
		},
	}, mw)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build runner")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	started := time.Now().UTC()
	summary, runErr := runner.Run(ctx)

	// Print summary to console
	fmt.Println("=== Validation Summary ===")
	fmt.Printf("Events Scored: %d\n", summary.Entries)
	fmt.Printf("Balanced Accuracy: %.4f\n", summary.BalancedAccuracy)
	fmt.Printf("Cohen's Kappa: %.4f\n", summary.Kappa)
	fmt.Printf("Elapsed: %s\n", time.Since(started).Round(time.Millisecond))
	fmt.Println("==========================")

	if runErr != nil {
		log.Error().Err(runErr).Msg("run aborted")
	}

	if !*noStore && summary.Entries > 0 {
		if err := persistRun(c, started, summary, chronogram); err != nil {
			log.Error().Err(err).Msg("failed to persist run")
		}
	}

	if err := mon.Stop(); err != nil {
		log.Error().Err(err).Msg("failed to stop monitor server")
	}

	if runErr != nil {
		os.Exit(1)
	}
}

// loadRecording dispatches on the recording file extension.
func loadRecording(c cfg.Settings) (*recording.Recording, error) {
	opts := recording.LoadOptions{
		DropChannels:  c.DropChannels,
		MarkerChannel: c.MarkerChannel,
		SamplingRate:  c.SamplingRate,
	}
	switch ext := strings.ToLower(filepath.Ext(c.RunFile)); ext {
	case ".vhdr":
		return recording.LoadBrainVision(c.RunFile, opts)
	case ".edf":
		return recording.LoadEDF(c.RunFile, opts)
	default:
		return nil, fmt.Errorf("unsupported recording format %q", ext)
	}
}

func loadModels(store *model.Store, c cfg.Settings) ([]model.Handle, error) {
	if c.Ensemble {
		return store.LoadEnsemble(c.EnsembleModels)
	}
	if c.ModelName == "" {
		return nil, fmt.Errorf("single-model mode requires a model name")
	}
	h, err := store.Load(c.ModelName)
	if err != nil {
		return nil, err
	}
	return []model.Handle{h}, nil
}

// persistRun writes the finished run and its chronogram to the data path.
func persistRun(c cfg.Settings, started time.Time, summary chrono.Summary, chronogram *chrono.Log) error {
	if err := os.MkdirAll(c.DataPath, 0o755); err != nil {
		return err
	}
	db, err := storage.New(c.DataPath)
	if err != nil {
		return err
	}
	defer db.Close()

	models := c.EnsembleModels
	if !c.Ensemble {
		models = []string{c.ModelName}
	}
	record := storage.RunRecord{
		ID:        "run-" + started.Format("20060102-150405"),
		Recording: c.RunFile,
		Models:    models,
		StartedAt: started,
		Summary:   summary,
	}
	if err := db.SaveRun(record, chronogram.Entries()); err != nil {
		return err
	}
	log.Info().Str("id", record.ID).Str("path", c.DataPath).Msg("run persisted")
	return nil
}
