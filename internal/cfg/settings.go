package cfg

import "github.com/emihelj/cybathlon/internal/common"

// Settings is the fully resolved decoder configuration: compiled
// defaults overlaid by the config file, overlaid by environment
// variables.
type Settings struct {
	// Run
	RunFile       string
	WindowSeconds float64

	// Recording
	SamplingRate  float64 // override; 0 reads the rate from the file
	DropChannels  []string
	MarkerChannel string
	Prefilter     bool

	// Decoding tables
	MarkerDecoding map[int]string // marker leading digit -> action
	PredDecoding   map[int]string // class label -> action

	// Models
	ModelsPath     string
	ModelName      string
	Ensemble       bool
	EnsembleModels []string

	// Crop preprocessing, applied on neural ensembles only
	PreprocReref       bool
	PreprocFilter      bool
	PreprocStandardize bool
	BandLow            float64
	BandHigh           float64
	RefChannel         int // -1 re-references against the channel mean

	// Crops
	CropCount   int
	CropSeconds float64

	// System
	DataPath    string
	MetricsPort int
	LogLevel    string
}

// ClassCount is the number of classes the loaded models must emit.
func (s *Settings) ClassCount() int { return len(s.PredDecoding) }

// Default decoding tables for the four-class motor imagery paradigm:
// rest, left hand, right hand, and the headlight command.
var (
	DefaultMarkerDecoding = map[int]string{1: "rest", 2: "left", 3: "right", 4: "headlight"}
	DefaultPredDecoding   = map[int]string{0: "rest", 1: "left", 2: "right", 3: "headlight"}

	DefaultEnsembleModels = []string{"model0.json", "model1.json", "model2.json"}
	DefaultDropChannels   = []string{"Fp1", "Fp2"}
)

func defaults() Settings {
	return Settings{
		WindowSeconds:      common.DefaultWindowSeconds,
		DropChannels:       copyList(DefaultDropChannels),
		MarkerDecoding:     copyTable(DefaultMarkerDecoding),
		PredDecoding:       copyTable(DefaultPredDecoding),
		ModelsPath:         common.DefaultModelsPath,
		Ensemble:           true,
		EnsembleModels:     copyList(DefaultEnsembleModels),
		PreprocReref:       true,
		PreprocFilter:      true,
		PreprocStandardize: true,
		BandLow:            common.DefaultBandLow,
		BandHigh:           common.DefaultBandHigh,
		RefChannel:         common.DefaultRefChannel,
		CropCount:          common.DefaultCropCount,
		CropSeconds:        common.DefaultCropSeconds,
		DataPath:           common.DefaultDataPath,
		MetricsPort:        common.DefaultMetricsPort,
		LogLevel:           common.DefaultLogLevel,
	}
}

func copyTable(t map[int]string) map[int]string {
	out := make(map[int]string, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

func copyList(l []string) []string {
	return append([]string(nil), l...)
}
