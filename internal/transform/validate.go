package transform

import (
	"fmt"
	"math"

	"github.com/propedge/propedge/internal/domain"
)

// ExtremeVarianceThreshold flags columns whose variance suggests an unscaled
// or corrupted input.
const ExtremeVarianceThreshold = 1e6

// ValidationResult is the outcome of a feature-quality scan
type ValidationResult struct {
	Passed bool     `json:"passed"`
	Issues []string `json:"issues,omitempty"`
}

// ValidateFeatures scans a table for infinite values, zero-variance columns,
// columns with extreme variance and missing system columns. Issues are
// human-readable and ordered by column name.
func ValidateFeatures(t *domain.FeatureTable) ValidationResult {
	var issues []string

	for _, name := range t.NumericColumnNames() {
		// week and season are constant by construction for a single run
		if name == domain.ColWeek || name == domain.ColSeason {
			continue
		}
		col, _ := t.Column(name)
		infinities := 0
		for _, v := range col.Float {
			if math.IsInf(v, 0) {
				infinities++
			}
		}
		if infinities > 0 {
			issues = append(issues, fmt.Sprintf("column %q contains %d infinite values", name, infinities))
			continue
		}
		_, std := meanStd(col.Float)
		if std == 0 {
			issues = append(issues, fmt.Sprintf("column %q has zero variance", name))
		} else if std*std > ExtremeVarianceThreshold {
			issues = append(issues, fmt.Sprintf("column %q variance %.1f exceeds threshold %.0f", name, std*std, ExtremeVarianceThreshold))
		}
	}

	for _, name := range domain.SystemColumns {
		if !t.HasColumn(name) {
			issues = append(issues, fmt.Sprintf("required system column %q is missing", name))
		}
	}

	return ValidationResult{Passed: len(issues) == 0, Issues: issues}
}
