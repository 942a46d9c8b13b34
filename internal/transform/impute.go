package transform

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/propedge/propedge/internal/domain"
)

// ImputeStrategy selects how missing numeric values are filled
type ImputeStrategy string

const (
	ImputeSmart  ImputeStrategy = "smart"
	ImputeMean   ImputeStrategy = "mean"
	ImputeMedian ImputeStrategy = "median"
	ImputeZero   ImputeStrategy = "zero"
)

// NeutralContextDefaults holds the fixed neutral values the smart strategy
// fills context features with. The pipeline substitutes the same values when
// a weather or venue source degrades, keeping imputation and degradation
// consistent.
var NeutralContextDefaults = map[string]float64{
	"temperature_f":     70,
	"wind_mph":          0,
	"precip_prob":       0,
	"humidity_pct":      50,
	"is_dome":           0,
	"rest_days":         7,
	"travel_miles":      0,
	"is_primetime":      0,
	"is_division_game":  0,
	"altitude_ft":       0,
}

// smart-strategy column classes, resolved by naming convention
func smartClass(name string) string {
	switch {
	case strings.HasSuffix(name, "_std") || strings.HasSuffix(name, "_volatility"):
		return "variability"
	case strings.HasSuffix(name, "_rate") || strings.HasSuffix(name, "_share") || strings.HasSuffix(name, "_pct"):
		return "rate"
	default:
		if _, ok := NeutralContextDefaults[name]; ok {
			return "context"
		}
		return "counter"
	}
}

// imputeFit fills nulls and records each column's fill value so that
// transform-only passes reuse the fitted fills.
func imputeFit(t *domain.FeatureTable, strategy ImputeStrategy, fills map[string]float64) error {
	for _, name := range t.NumericColumnNames() {
		col, _ := t.Column(name)
		fill, err := fitFill(name, col.Float, strategy)
		if err != nil {
			return err
		}
		fills[name] = fill
		applyFill(col.Float, fill)
	}
	return nil
}

// imputeApply fills nulls with the previously fitted values. Columns unseen at
// fit time fall back to the strategy's cheap fill against the current table.
func imputeApply(t *domain.FeatureTable, strategy ImputeStrategy, fills map[string]float64) error {
	for _, name := range t.NumericColumnNames() {
		col, _ := t.Column(name)
		fill, ok := fills[name]
		if !ok {
			var err error
			fill, err = fitFill(name, col.Float, strategy)
			if err != nil {
				return err
			}
		}
		applyFill(col.Float, fill)
	}
	return nil
}

func fitFill(name string, vals []float64, strategy ImputeStrategy) (float64, error) {
	switch strategy {
	case ImputeZero:
		return 0, nil
	case ImputeMean:
		m, _ := meanStd(vals)
		return m, nil
	case ImputeMedian:
		return median(vals), nil
	case ImputeSmart:
		switch smartClass(name) {
		case "variability":
			return median(vals), nil
		case "rate":
			// League-average fill: the non-null column mean over the batch
			// approximates the league average for the (week, league) key.
			m, _ := meanStd(vals)
			return m, nil
		case "context":
			return NeutralContextDefaults[name], nil
		default: // performance counter
			return 0, nil
		}
	default:
		return 0, fmt.Errorf("unknown impute strategy %q", strategy)
	}
}

func applyFill(vals []float64, fill float64) {
	for i, v := range vals {
		if math.IsNaN(v) {
			vals[i] = fill
		}
	}
}

func median(vals []float64) float64 {
	present := make([]float64, 0, len(vals))
	for _, v := range vals {
		if !math.IsNaN(v) {
			present = append(present, v)
		}
	}
	if len(present) == 0 {
		return 0
	}
	sort.Float64s(present)
	mid := len(present) / 2
	if len(present)%2 == 1 {
		return present[mid]
	}
	return (present[mid-1] + present[mid]) / 2
}
