package calibration

import (
	"fmt"
	"math"
)

// DefaultBins is the number of fixed-width confidence buckets used for
// ECE and MCE computation.
const DefaultBins = 10

// Metrics holds the three standard probabilistic-forecast quality measures.
type Metrics struct {
	ECE     float64 `json:"ece"`
	Brier   float64 `json:"brier"`
	MCE     float64 `json:"mce"`
	Samples int     `json:"samples"`
}

// Compute evaluates ECE, Brier score, and MCE for a set of predicted win
// probabilities against binary outcomes. Predictions are bucketed into
// fixed-width bins; ECE weights each bin's |accuracy - confidence| gap by
// its share of samples, MCE takes the maximum gap.
func Compute(predictions []float64, outcomes []bool, bins int) (Metrics, error) {
	if len(predictions) != len(outcomes) {
		return Metrics{}, fmt.Errorf("predictions and outcomes length mismatch: %d vs %d", len(predictions), len(outcomes))
	}
	if len(predictions) == 0 {
		return Metrics{}, fmt.Errorf("no predictions to evaluate")
	}
	if bins <= 0 {
		bins = DefaultBins
	}

	var brierSum float64
	binCount := make([]int, bins)
	binConfidence := make([]float64, bins)
	binHits := make([]int, bins)

	for i, p := range predictions {
		if p < 0 || p > 1 || math.IsNaN(p) {
			return Metrics{}, fmt.Errorf("prediction %d out of range: %v", i, p)
		}
		y := 0.0
		if outcomes[i] {
			y = 1.0
		}
		brierSum += (p - y) * (p - y)

		b := int(p * float64(bins))
		if b == bins {
			b = bins - 1
		}
		binCount[b]++
		binConfidence[b] += p
		if outcomes[i] {
			binHits[b]++
		}
	}

	n := float64(len(predictions))
	m := Metrics{Brier: brierSum / n, Samples: len(predictions)}
	for b := 0; b < bins; b++ {
		if binCount[b] == 0 {
			continue
		}
		accuracy := float64(binHits[b]) / float64(binCount[b])
		confidence := binConfidence[b] / float64(binCount[b])
		gap := math.Abs(accuracy - confidence)
		m.ECE += gap * float64(binCount[b]) / n
		if gap > m.MCE {
			m.MCE = gap
		}
	}
	return m, nil
}
