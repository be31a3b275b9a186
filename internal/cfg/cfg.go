package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/emihelj/cybathlon/internal/common"
)

// fileConfig mirrors the YAML layout of the config file. Pointer
// fields distinguish "absent" from an explicit zero for settings whose
// default is not the zero value.
type fileConfig struct {
	Run struct {
		Recording     string  `yaml:"recording"`
		WindowSeconds float64 `yaml:"windowSeconds"`
	} `yaml:"run"`

	Recording struct {
		SamplingRate  float64   `yaml:"samplingRate"`
		DropChannels  *[]string `yaml:"dropChannels"`
		MarkerChannel string    `yaml:"markerChannel"`
		Prefilter     bool      `yaml:"prefilter"`
	} `yaml:"recording"`

	Decoding struct {
		Markers     map[int]string `yaml:"markers"`
		Predictions map[int]string `yaml:"predictions"`
	} `yaml:"decoding"`

	Model struct {
		Path           string    `yaml:"path"`
		Name           string    `yaml:"name"`
		Ensemble       *bool     `yaml:"ensemble"`
		EnsembleModels *[]string `yaml:"ensembleModels"`
	} `yaml:"model"`

	Crops struct {
		Count   int     `yaml:"count"`
		Seconds float64 `yaml:"seconds"`
	} `yaml:"crops"`

	Preprocess struct {
		Rereference      *bool   `yaml:"rereference"`
		Filter           *bool   `yaml:"filter"`
		Standardize      *bool   `yaml:"standardize"`
		BandLow          float64 `yaml:"bandLow"`
		BandHigh         float64 `yaml:"bandHigh"`
		ReferenceChannel *int    `yaml:"referenceChannel"`
	} `yaml:"preprocess"`

	System struct {
		DataPath    string `yaml:"dataPath"`
		MetricsPort int    `yaml:"metricsPort"`
		LogLevel    string `yaml:"logLevel"`
	} `yaml:"system"`
}

// Load resolves the decoder configuration. The config file named by
// CONFIG_FILE must exist; the default config.yaml is optional.
// Environment variables override both.
func Load() (Settings, error) {
	settings := defaults()

	path := os.Getenv(common.EnvConfigFile)
	explicit := path != ""
	if !explicit {
		path = common.DefaultConfigFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := settings.applyFile(data); err != nil {
			return Settings{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case explicit:
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	settings.applyEnv()

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func (s *Settings) applyFile(data []byte) error {
	var config fileConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return err
	}

	if config.Run.Recording != "" {
		s.RunFile = config.Run.Recording
	}
	if config.Run.WindowSeconds != 0 {
		s.WindowSeconds = config.Run.WindowSeconds
	}

	if config.Recording.SamplingRate != 0 {
		s.SamplingRate = config.Recording.SamplingRate
	}
	if config.Recording.DropChannels != nil {
		s.DropChannels = *config.Recording.DropChannels
	}
	if config.Recording.MarkerChannel != "" {
		s.MarkerChannel = config.Recording.MarkerChannel
	}
	if config.Recording.Prefilter {
		s.Prefilter = true
	}

	if len(config.Decoding.Markers) > 0 {
		s.MarkerDecoding = config.Decoding.Markers
	}
	if len(config.Decoding.Predictions) > 0 {
		s.PredDecoding = config.Decoding.Predictions
	}

	if config.Model.Path != "" {
		s.ModelsPath = config.Model.Path
	}
	if config.Model.Name != "" {
		s.ModelName = config.Model.Name
	}
	if config.Model.Ensemble != nil {
		s.Ensemble = *config.Model.Ensemble
	}
	if config.Model.EnsembleModels != nil {
		s.EnsembleModels = *config.Model.EnsembleModels
	}

	if config.Crops.Count != 0 {
		s.CropCount = config.Crops.Count
	}
	if config.Crops.Seconds != 0 {
		s.CropSeconds = config.Crops.Seconds
	}

	if config.Preprocess.Rereference != nil {
		s.PreprocReref = *config.Preprocess.Rereference
	}
	if config.Preprocess.Filter != nil {
		s.PreprocFilter = *config.Preprocess.Filter
	}
	if config.Preprocess.Standardize != nil {
		s.PreprocStandardize = *config.Preprocess.Standardize
	}
	if config.Preprocess.BandLow != 0 {
		s.BandLow = config.Preprocess.BandLow
	}
	if config.Preprocess.BandHigh != 0 {
		s.BandHigh = config.Preprocess.BandHigh
	}
	if config.Preprocess.ReferenceChannel != nil {
		s.RefChannel = *config.Preprocess.ReferenceChannel
	}

	if config.System.DataPath != "" {
		s.DataPath = config.System.DataPath
	}
	if config.System.MetricsPort != 0 {
		s.MetricsPort = config.System.MetricsPort
	}
	if config.System.LogLevel != "" {
		s.LogLevel = config.System.LogLevel
	}

	return nil
}

func (s *Settings) applyEnv() {
	s.RunFile = getEnvOrDefault(common.EnvRunFile, s.RunFile)
	s.WindowSeconds = getFloatOrDefault(common.EnvWindowSeconds, s.WindowSeconds)
	s.SamplingRate = getFloatOrDefault(common.EnvSamplingRate, s.SamplingRate)
	if v := os.Getenv(common.EnvDropChannels); v != "" {
		s.DropChannels = splitList(v)
	}
	s.MarkerChannel = getEnvOrDefault(common.EnvMarkerChannel, s.MarkerChannel)
	s.Prefilter = getBoolOrDefault(common.EnvPrefilter, s.Prefilter)
	s.ModelsPath = getEnvOrDefault(common.EnvModelsPath, s.ModelsPath)
	s.ModelName = getEnvOrDefault(common.EnvModelName, s.ModelName)
	s.Ensemble = getBoolOrDefault(common.EnvEnsemble, s.Ensemble)
	if v := os.Getenv(common.EnvEnsembleModels); v != "" {
		s.EnsembleModels = splitList(v)
	}
	s.CropCount = getIntOrDefault(common.EnvCropCount, s.CropCount)
	s.CropSeconds = getFloatOrDefault(common.EnvCropSeconds, s.CropSeconds)
	s.PreprocReref = getBoolOrDefault(common.EnvPreprocReref, s.PreprocReref)
	s.PreprocFilter = getBoolOrDefault(common.EnvPreprocFilter, s.PreprocFilter)
	s.PreprocStandardize = getBoolOrDefault(common.EnvPreprocStandardize, s.PreprocStandardize)
	s.BandLow = getFloatOrDefault(common.EnvPreprocBandLow, s.BandLow)
	s.BandHigh = getFloatOrDefault(common.EnvPreprocBandHigh, s.BandHigh)
	s.RefChannel = getIntOrDefault(common.EnvPreprocRefChannel, s.RefChannel)
	s.DataPath = getEnvOrDefault(common.EnvDataPath, s.DataPath)
	s.MetricsPort = getIntOrDefault(common.EnvMetricsPort, s.MetricsPort)
	s.LogLevel = getEnvOrDefault(common.EnvLogLevel, s.LogLevel)
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// validateSettings performs comprehensive validation of configuration values
func validateSettings(settings *Settings) error {
	if settings.WindowSeconds < common.MinWindowSeconds || settings.WindowSeconds > common.MaxWindowSeconds {
		return fmt.Errorf("window must be between %gs and %gs, got %gs", common.MinWindowSeconds, common.MaxWindowSeconds, settings.WindowSeconds)
	}
	if settings.SamplingRate < 0 {
		return fmt.Errorf("sampling rate override cannot be negative, got %g", settings.SamplingRate)
	}
	if settings.CropCount < 1 {
		return fmt.Errorf("crop count must be at least 1, got %d", settings.CropCount)
	}
	if settings.CropSeconds <= 0 || settings.CropSeconds > settings.WindowSeconds {
		return fmt.Errorf("crop length must be between 0s and the window length %gs, got %gs", settings.WindowSeconds, settings.CropSeconds)
	}
	if settings.PreprocFilter && (settings.BandLow < 0 || settings.BandLow >= settings.BandHigh) {
		return fmt.Errorf("filter band edges must satisfy 0 <= low < high, got [%g, %g]", settings.BandLow, settings.BandHigh)
	}
	if settings.RefChannel < -1 {
		return fmt.Errorf("reference channel must be -1 (mean) or a channel index, got %d", settings.RefChannel)
	}
	if settings.MetricsPort < common.MinMetricsPort || settings.MetricsPort > common.MaxMetricsPort {
		return fmt.Errorf("metrics port must be between %d and %d, got %d", common.MinMetricsPort, common.MaxMetricsPort, settings.MetricsPort)
	}

	if len(settings.MarkerDecoding) == 0 {
		return fmt.Errorf("marker decoding table cannot be empty")
	}
	if len(settings.PredDecoding) == 0 {
		return fmt.Errorf("prediction decoding table cannot be empty")
	}
	for digit := range settings.MarkerDecoding {
		if digit < common.MinMarkerDigit || digit > common.MaxMarkerDigit {
			return fmt.Errorf("marker digit must be between %d and %d, got %d", common.MinMarkerDigit, common.MaxMarkerDigit, digit)
		}
	}
	actions := make(map[string]int, len(settings.PredDecoding))
	for label, action := range settings.PredDecoding {
		if label < 0 {
			return fmt.Errorf("prediction label cannot be negative, got %d", label)
		}
		if prev, ok := actions[action]; ok {
			return fmt.Errorf("action %q is mapped to labels %d and %d", action, prev, label)
		}
		actions[action] = label
	}
	for digit, action := range settings.MarkerDecoding {
		if _, ok := actions[action]; !ok {
			return fmt.Errorf("marker digit %d decodes to action %q which has no prediction label", digit, action)
		}
	}

	if settings.Ensemble && len(settings.EnsembleModels) == 0 {
		return fmt.Errorf("ensemble mode requires at least one model")
	}

	return nil
}
