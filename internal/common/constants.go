package common

// Environment variable keys
const (
	EnvConfigFile         = "CONFIG_FILE"
	EnvRunFile            = "RUN_FILE"
	EnvWindowSeconds      = "WINDOW_SECONDS"
	EnvSamplingRate       = "SAMPLING_RATE"
	EnvDropChannels       = "DROP_CHANNELS"
	EnvMarkerChannel      = "MARKER_CHANNEL"
	EnvPrefilter          = "PREFILTER"
	EnvModelsPath         = "MODELS_PATH"
	EnvModelName          = "MODEL_NAME"
	EnvEnsemble           = "ENSEMBLE"
	EnvEnsembleModels     = "ENSEMBLE_MODELS"
	EnvCropCount          = "CROP_COUNT"
	EnvCropSeconds        = "CROP_SECONDS"
	EnvPreprocReref       = "PREPROC_REREF"
	EnvPreprocFilter      = "PREPROC_FILTER"
	EnvPreprocStandardize = "PREPROC_STANDARDIZE"
	EnvPreprocBandLow     = "PREPROC_BAND_LOW"
	EnvPreprocBandHigh    = "PREPROC_BAND_HIGH"
	EnvPreprocRefChannel  = "PREPROC_REF_CHANNEL"
	EnvDataPath           = "DATA_PATH"
	EnvMetricsPort        = "METRICS_PORT"
	EnvLogLevel           = "LOG_LEVEL"
)

// Configuration defaults
const (
	DefaultConfigFile    = "config.yaml"
	DefaultWindowSeconds = 1.0
	DefaultCropCount     = 10
	DefaultCropSeconds   = 0.5
	DefaultBandLow       = 8.0
	DefaultBandHigh      = 30.0
	DefaultRefChannel    = -1 // mean reference
	DefaultModelsPath    = "models"
	DefaultDataPath      = "data"
	DefaultMetricsPort   = 8080
	DefaultLogLevel      = "info"
)

// Validation constants
const (
	MinWindowSeconds = 0.5
	MaxWindowSeconds = 4.0
	MinMetricsPort   = 1024
	MaxMetricsPort   = 65535
	MinMarkerDigit   = 1
	MaxMarkerDigit   = 9
)
