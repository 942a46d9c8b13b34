// Package leakage certifies feature tables free of temporal and target leakage
// before they are trusted for training or backtesting.
package leakage

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/propedge/propedge/internal/domain"
)

// Severity classifies a finding
type Severity string

const (
	SeverityFatal   Severity = "fatal"
	SeverityWarning Severity = "warning"
)

// Finding is one recorded leakage rule violation
type Finding struct {
	Severity Severity `json:"severity"`
	Rule     string   `json:"rule"`
	Column   string   `json:"column,omitempty"`
	PropID   string   `json:"prop_id,omitempty"`
	Detail   string   `json:"detail"`
}

// Error raised on the first fatal finding when the detector runs in strict mode
type Error struct {
	Finding Finding
}

func (e *Error) Error() string {
	return fmt.Sprintf("leakage: rule %s failed on column %q: %s", e.Finding.Rule, e.Finding.Column, e.Finding.Detail)
}

// CorrelationThreshold is the absolute Pearson correlation at or above which a
// column is treated as target leakage.
const CorrelationThreshold = 0.99

// denyExact are column names that always indicate target leakage
var denyExact = map[string]struct{}{
	"outcome":      {},
	"result":       {},
	"actual_value": {},
	"over_hit":     {},
	"won":          {},
	"covered":      {},
}

// denyPrefixes are column name prefixes that always indicate target leakage
var denyPrefixes = []string{"result_", "outcome_", "final_"}

// Detector accumulates leakage findings over a sequence of checks.
// In strict mode the first fatal finding aborts the caller with *Error; in
// non-strict mode all checks run to completion and findings accumulate.
type Detector struct {
	strict   bool
	now      func() time.Time
	findings []Finding
}

// NewDetector creates a detector. Strict mode makes fatal findings fail fast.
func NewDetector(strict bool) *Detector {
	return &Detector{strict: strict, now: time.Now}
}

// SetNow overrides the detector's clock (for testing)
func (d *Detector) SetNow(now func() time.Time) { d.now = now }

// Report returns all findings recorded so far, in order. Idempotent.
func (d *Detector) Report() []Finding {
	return append([]Finding(nil), d.findings...)
}

func (d *Detector) record(f Finding) error {
	d.findings = append(d.findings, f)
	if f.Severity == SeverityFatal {
		log.Warn().Str("rule", f.Rule).Str("column", f.Column).Str("prop_id", f.PropID).Msg("Fatal leakage finding")
		if d.strict {
			return &Error{Finding: f}
		}
	} else {
		log.Debug().Str("rule", f.Rule).Str("column", f.Column).Msg("Leakage warning")
	}
	return nil
}

// CheckTemporalLeakage fails when any row's week exceeds currentWeek, when a
// row was computed after its game time, or when a rolling-window feature was
// derived using games at or after game time (tracked by *_as_of columns).
func (d *Detector) CheckTemporalLeakage(t *domain.FeatureTable, currentWeek int) error {
	if weekCol, ok := t.Column(domain.ColWeek); ok {
		for i, w := range weekCol.Float {
			if math.IsNaN(w) {
				continue
			}
			if int(w) > currentWeek {
				err := d.record(Finding{
					Severity: SeverityFatal,
					Rule:     "temporal_future_week",
					Column:   domain.ColWeek,
					PropID:   t.RowIDs()[i],
					Detail:   fmt.Sprintf("row week %d exceeds current week %d", int(w), currentWeek),
				})
				if err != nil {
					return err
				}
			}
		}
	}

	gameTimes, haveGameTime := t.Column(domain.ColGameTime)
	computed, haveComputed := t.Column(domain.ColComputedAt)
	if haveGameTime && haveComputed {
		for i := range computed.Time {
			if computed.Time[i].After(gameTimes.Time[i]) {
				err := d.record(Finding{
					Severity: SeverityFatal,
					Rule:     "temporal_computed_after_game",
					Column:   domain.ColComputedAt,
					PropID:   t.RowIDs()[i],
					Detail: fmt.Sprintf("computed_at %s after game_time %s",
						computed.Time[i].Format(time.RFC3339), gameTimes.Time[i].Format(time.RFC3339)),
				})
				if err != nil {
					return err
				}
			}
		}
	}

	// Rolling-window features record the timestamp of the latest game they
	// consumed in a sibling *_as_of column. Any window reaching the game
	// itself is leakage.
	if haveGameTime {
		for _, name := range t.ColumnNames() {
			if !strings.HasSuffix(name, "_as_of") {
				continue
			}
			col, _ := t.Column(name)
			if col.Kind != domain.KindTimestamp {
				continue
			}
			for i, asOf := range col.Time {
				if asOf.IsZero() {
					continue
				}
				if !asOf.Before(gameTimes.Time[i]) {
					err := d.record(Finding{
						Severity: SeverityFatal,
						Rule:     "temporal_window_reaches_game",
						Column:   name,
						PropID:   t.RowIDs()[i],
						Detail: fmt.Sprintf("rolling window as-of %s not before game_time %s",
							asOf.Format(time.RFC3339), gameTimes.Time[i].Format(time.RFC3339)),
					})
					if err != nil {
						return err
					}
				}
			}
		}
	}

	return nil
}

// CheckTargetLeakage fails when the table contains a deny-listed column name,
// or when any column correlates with the target column at or above the
// correlation threshold. The target column itself and metadata columns are
// excluded from the scan.
func (d *Detector) CheckTargetLeakage(t *domain.FeatureTable, targetCol string) error {
	for _, name := range t.ColumnNames() {
		if name == targetCol {
			continue
		}
		lower := strings.ToLower(name)
		if _, denied := denyExact[lower]; denied {
			if err := d.record(Finding{
				Severity: SeverityFatal,
				Rule:     "target_denied_name",
				Column:   name,
				Detail:   fmt.Sprintf("column %q is a known outcome indicator", name),
			}); err != nil {
				return err
			}
			continue
		}
		for _, prefix := range denyPrefixes {
			if strings.HasPrefix(lower, prefix) {
				if err := d.record(Finding{
					Severity: SeverityFatal,
					Rule:     "target_denied_prefix",
					Column:   name,
					Detail:   fmt.Sprintf("column %q matches denied prefix %q", name, prefix),
				}); err != nil {
					return err
				}
				break
			}
		}
	}

	target, ok := t.Column(targetCol)
	if !ok || target.Kind != domain.KindNumeric {
		return nil
	}
	for _, name := range t.ColumnNames() {
		if name == targetCol || isMetadataColumn(name) {
			continue
		}
		col, _ := t.Column(name)
		if col.Kind != domain.KindNumeric {
			continue
		}
		r := pearson(col.Float, target.Float)
		if math.Abs(r) >= CorrelationThreshold {
			if err := d.record(Finding{
				Severity: SeverityFatal,
				Rule:     "target_correlation",
				Column:   name,
				Detail:   fmt.Sprintf("|r|=%.4f with target %q at or above %.2f", math.Abs(r), targetCol, CorrelationThreshold),
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidateFeatureTimestamps fails when a timestamp column holds an unparsable
// (zero) value, when computed_at is in the future, or when computed_at for a
// row is after that row's game_time.
func (d *Detector) ValidateFeatureTimestamps(t *domain.FeatureTable) error {
	now := d.now()
	for _, name := range t.ColumnNames() {
		col, _ := t.Column(name)
		if col.Kind != domain.KindTimestamp {
			continue
		}
		for i, ts := range col.Time {
			if ts.IsZero() {
				if err := d.record(Finding{
					Severity: SeverityFatal,
					Rule:     "timestamp_unparsable",
					Column:   name,
					PropID:   t.RowIDs()[i],
					Detail:   "zero timestamp value",
				}); err != nil {
					return err
				}
			}
		}
	}

	computed, ok := t.Column(domain.ColComputedAt)
	if !ok {
		return nil
	}
	gameTimes, haveGameTime := t.Column(domain.ColGameTime)
	for i, ts := range computed.Time {
		if ts.After(now) {
			if err := d.record(Finding{
				Severity: SeverityFatal,
				Rule:     "timestamp_future_computed",
				Column:   domain.ColComputedAt,
				PropID:   t.RowIDs()[i],
				Detail:   fmt.Sprintf("computed_at %s is in the future", ts.Format(time.RFC3339)),
			}); err != nil {
				return err
			}
		}
		if haveGameTime && ts.After(gameTimes.Time[i]) {
			if err := d.record(Finding{
				Severity: SeverityFatal,
				Rule:     "timestamp_computed_after_game",
				Column:   domain.ColComputedAt,
				PropID:   t.RowIDs()[i],
				Detail:   fmt.Sprintf("computed_at %s after game_time %s", ts.Format(time.RFC3339), gameTimes.Time[i].Format(time.RFC3339)),
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func isMetadataColumn(name string) bool {
	switch name {
	case domain.ColPropID, domain.ColPlayerID, domain.ColGameTime,
		domain.ColFeatureVersion, domain.ColComputedAt,
		domain.ColWeek, domain.ColSeason, domain.ColLeague:
		return true
	}
	return false
}

// pearson computes the Pearson correlation coefficient over pairs where both
// values are present. Returns 0 when either series has zero variance.
func pearson(x, y []float64) float64 {
	n := 0
	var sumX, sumY float64
	for i := range x {
		if math.IsNaN(x[i]) || math.IsNaN(y[i]) {
			continue
		}
		sumX += x[i]
		sumY += y[i]
		n++
	}
	if n < 2 {
		return 0
	}
	meanX := sumX / float64(n)
	meanY := sumY / float64(n)
	var cov, varX, varY float64
	for i := range x {
		if math.IsNaN(x[i]) || math.IsNaN(y[i]) {
			continue
		}
		dx := x[i] - meanX
		dy := y[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}
	return cov / math.Sqrt(varX*varY)
}
