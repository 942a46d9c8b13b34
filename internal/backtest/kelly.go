package backtest

import "github.com/propedge/propedge/internal/domain"

// kellyStake sizes a bet from the Kelly criterion scaled by the preset's
// fraction and capped at the preset's bankroll limit. Returns 0 when the
// edge is non-positive.
func kellyStake(bankroll, prob, decimalOdds float64, preset domain.RiskPreset) float64 {
	if bankroll <= 0 {
		return 0
	}
	b := decimalOdds - 1
	if b <= 0 {
		return 0
	}
	// full Kelly: f* = (p*b - q) / b
	edge := (prob*b - (1 - prob)) / b
	if edge <= 0 {
		return 0
	}
	frac := edge * preset.KellyFraction
	if frac > preset.MaxBetFraction {
		frac = preset.MaxBetFraction
	}
	return bankroll * frac
}
