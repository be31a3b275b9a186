package model

// ParamRange is a numeric hyperparameter interval; Log marks
// log-uniform sampling.
type ParamRange struct {
	Min, Max float64
	Log      bool
}

// IntRange is an inclusive integer interval.
type IntRange struct {
	Min, Max int
}

// Space is the hyperparameter search space of one decoder family,
// published as data for offline tuning tools. Inference never reads
// it.
type Space struct {
	Ranges  map[string]ParamRange
	Ints    map[string]IntRange
	Choices map[string][]string
}

// SpaceFor returns the search space used when tuning the given family.
func SpaceFor(kind Kind) Space {
	switch kind {
	case KindCSP:
		return Space{
			Ranges: map[string]ParamRange{
				"svc.C": {Min: 1e-3, Max: 1e3, Log: true},
			},
		}
	case KindFBCSP:
		return Space{
			Ranges: map[string]ParamRange{
				"svc.C": {Min: 1e-2, Max: 1e3, Log: true},
			},
			Ints: map[string]IntRange{
				"filter.order": {Min: 2, Max: 5},
			},
			Choices: map[string][]string{
				"covariance.regularize": {"false", "true"},
			},
		}
	case KindRiemann:
		return Space{
			Ranges: map[string]ParamRange{
				"svc.C": {Min: 1e-1, Max: 1e3, Log: true},
			},
			Ints: map[string]IntRange{
				"filter.order": {Min: 1, Max: 5},
				"svc.degree":   {Min: 1, Max: 5},
			},
			Choices: map[string][]string{
				"filter.type": {"butter", "cheby", "ellip"},
				"svc.kernel":  {KernelRBF, KernelLinear, KernelPoly},
			},
		}
	default:
		// the neural family is tuned by its training schedule, not a
		// parameter grid
		return Space{}
	}
}
