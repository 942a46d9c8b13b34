package domain

import "fmt"

// RiskMode selects one of the fixed bet-sizing presets
type RiskMode string

const (
	RiskConservative RiskMode = "conservative"
	RiskBalanced     RiskMode = "balanced"
	RiskAggressive   RiskMode = "aggressive"
)

// RiskPreset couples a Kelly multiplier with bankroll and confidence limits.
// Presets are fixed; fields are not user-tunable.
type RiskPreset struct {
	Mode           RiskMode `json:"mode"`
	KellyFraction  float64  `json:"kelly_fraction"`
	MaxBetFraction float64  `json:"max_bet_fraction"`
	MinProbability float64  `json:"min_probability"` // inclusive minimum
}

var riskPresets = map[RiskMode]RiskPreset{
	RiskConservative: {Mode: RiskConservative, KellyFraction: 0.125, MaxBetFraction: 0.05, MinProbability: 0.65},
	RiskBalanced:     {Mode: RiskBalanced, KellyFraction: 0.25, MaxBetFraction: 0.10, MinProbability: 0.60},
	RiskAggressive:   {Mode: RiskAggressive, KellyFraction: 0.50, MaxBetFraction: 0.15, MinProbability: 0.55},
}

// PresetFor returns the preset for a risk mode
func PresetFor(mode RiskMode) (RiskPreset, error) {
	preset, ok := riskPresets[mode]
	if !ok {
		return RiskPreset{}, fmt.Errorf("unknown risk mode %q", mode)
	}
	return preset, nil
}

// Accepts reports whether a predicted probability clears the preset threshold.
// The minimum is inclusive.
func (p RiskPreset) Accepts(prob float64) bool {
	return prob >= p.MinProbability
}
