package chrono

// Summary condenses a finished run into the two scores the validation
// workflow reports.
type Summary struct {
	Entries          int     `json:"entries"`
	BalancedAccuracy float64 `json:"balanced_accuracy"`
	Kappa            float64 `json:"kappa"`
}

// Summarize scores a chronogram.
func Summarize(entries []Entry) Summary {
	return Summary{
		Entries:          len(entries),
		BalancedAccuracy: BalancedAccuracy(entries),
		Kappa:            CohenKappa(entries),
	}
}

// BalancedAccuracy is the mean per-class recall over the classes that
// actually occur as ground truth, so rare classes weigh as much as
// frequent ones. An empty log scores zero.
func BalancedAccuracy(entries []Entry) float64 {
	total := make(map[int]int)
	hit := make(map[int]int)
	for _, e := range entries {
		total[e.Truth]++
		if e.Predicted == e.Truth {
			hit[e.Truth]++
		}
	}
	if len(total) == 0 {
		return 0
	}
	var sum float64
	for class, n := range total {
		sum += float64(hit[class]) / float64(n)
	}
	return sum / float64(len(total))
}

// CohenKappa is the agreement between truth and prediction corrected
// for chance. Degenerate logs where chance agreement is total (for
// example a single class on both sides) score zero, as does an empty
// log.
func CohenKappa(entries []Entry) float64 {
	n := len(entries)
	if n == 0 {
		return 0
	}
	truthCounts := make(map[int]int)
	predCounts := make(map[int]int)
	agree := 0
	for _, e := range entries {
		truthCounts[e.Truth]++
		predCounts[e.Predicted]++
		if e.Truth == e.Predicted {
			agree++
		}
	}
	po := float64(agree) / float64(n)
	var pe float64
	for class, t := range truthCounts {
		pe += float64(t) * float64(predCounts[class])
	}
	pe /= float64(n) * float64(n)
	if pe == 1 {
		return 0
	}
	return (po - pe) / (1 - pe)
}
