package calibration

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Degradation classifies how far calibration has drifted from ideal.
type Degradation string

const (
	DegradationNone     Degradation = "none"
	DegradationMild     Degradation = "mild"
	DegradationModerate Degradation = "moderate"
	DegradationSevere   Degradation = "severe"
)

// ECE thresholds separating the degradation classes.
const (
	eceMildThreshold     = 0.05
	eceModerateThreshold = 0.10
	eceSevereThreshold   = 0.15
)

// Trend describes the direction of calibration change over recent windows.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDegrading Trend = "degrading"
)

// trendSlopeThreshold is the minimum per-window ECE slope treated as a real
// direction rather than noise.
const trendSlopeThreshold = 0.005

// trendWindow is how many recent records feed the linear trend fit.
const trendWindow = 5

// Record is one rolling-window calibration evaluation. Records are appended
// to the monitor's history and never mutated afterwards.
type Record struct {
	WindowSize      int         `json:"window_size"`
	EvaluatedAt     time.Time   `json:"evaluated_at"`
	Predictions     []float64   `json:"predictions"`
	Outcomes        []bool      `json:"outcomes"`
	ECE             float64     `json:"ece"`
	Brier           float64     `json:"brier"`
	MCE             float64     `json:"mce"`
	Degradation     Degradation `json:"degradation"`
	Recommendations []string    `json:"recommendations,omitempty"`
}

// Monitor tracks prediction calibration over a rolling window of the most
// recent predictions and outcomes.
type Monitor struct {
	mu         sync.Mutex
	windowSize int
	bins       int
	preds      []float64
	outcomes   []bool
	history    []Record
	now        func() time.Time
}

// DefaultWindowSize is how many recent predictions a monitor evaluates per
// window when no size is given.
const DefaultWindowSize = 100

func NewMonitor(windowSize int) *Monitor {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Monitor{
		windowSize: windowSize,
		bins:       DefaultBins,
		now:        time.Now,
	}
}

// SetNow overrides the clock, used by tests.
func (m *Monitor) SetNow(now func() time.Time) { m.now = now }

// Observe records one prediction/outcome pair, evicting the oldest pair once
// the window is full.
func (m *Monitor) Observe(prediction float64, outcome bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preds = append(m.preds, prediction)
	m.outcomes = append(m.outcomes, outcome)
	if len(m.preds) > m.windowSize {
		m.preds = m.preds[1:]
		m.outcomes = m.outcomes[1:]
	}
}

// Evaluate computes calibration metrics over the current window, classifies
// degradation, appends the record to history, and returns it.
func (m *Monitor) Evaluate() (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.preds) == 0 {
		return nil, fmt.Errorf("no observations in window")
	}
	metrics, err := Compute(m.preds, m.outcomes, m.bins)
	if err != nil {
		return nil, err
	}

	rec := Record{
		WindowSize:  m.windowSize,
		EvaluatedAt: m.now().UTC(),
		Predictions: append([]float64(nil), m.preds...),
		Outcomes:    append([]bool(nil), m.outcomes...),
		ECE:         metrics.ECE,
		Brier:       metrics.Brier,
		MCE:         metrics.MCE,
	}
	rec.Degradation = classify(metrics.ECE)
	rec.Recommendations = recommend(rec.Degradation, metrics)

	m.history = append(m.history, rec)

	if rec.Degradation != DegradationNone {
		log.Warn().
			Float64("ece", rec.ECE).
			Float64("brier", rec.Brier).
			Float64("mce", rec.MCE).
			Str("degradation", string(rec.Degradation)).
			Msg("Calibration degradation detected")
	}
	return &rec, nil
}

// History returns a copy of all evaluation records in append order.
func (m *Monitor) History() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.history...)
}

// Trend fits a line through the ECE of the most recent evaluations and
// reports whether calibration is improving, stable, or degrading. Fewer than
// three evaluations is always stable.
func (m *Monitor) Trend() Trend {
	m.mu.Lock()
	defer m.mu.Unlock()

	recent := m.history
	if len(recent) > trendWindow {
		recent = recent[len(recent)-trendWindow:]
	}
	if len(recent) < 3 {
		return TrendStable
	}

	slope := eceSlope(recent)
	switch {
	case slope > trendSlopeThreshold:
		return TrendDegrading
	case slope < -trendSlopeThreshold:
		return TrendImproving
	default:
		return TrendStable
	}
}

func classify(ece float64) Degradation {
	switch {
	case ece < eceMildThreshold:
		return DegradationNone
	case ece < eceModerateThreshold:
		return DegradationMild
	case ece < eceSevereThreshold:
		return DegradationModerate
	default:
		return DegradationSevere
	}
}

func recommend(d Degradation, m Metrics) []string {
	var out []string
	switch d {
	case DegradationMild:
		out = append(out, "calibration drifting, monitor the next few windows before acting")
	case DegradationModerate:
		out = append(out, "recalibrate the predictor (e.g. Platt scaling) on recent outcomes")
	case DegradationSevere:
		out = append(out, "stop sizing bets from raw probabilities until the predictor is retrained")
	}
	if m.MCE > 2*m.ECE && m.MCE > eceModerateThreshold {
		out = append(out, "miscalibration is concentrated in a narrow confidence range, inspect per-bin accuracy")
	}
	return out
}

// eceSlope is the least-squares slope of ECE against record index.
func eceSlope(recs []Record) float64 {
	n := float64(len(recs))
	var sumX, sumY, sumXY, sumXX float64
	for i, r := range recs {
		x := float64(i)
		sumX += x
		sumY += r.ECE
		sumXY += x * r.ECE
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if math.Abs(denom) < 1e-12 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}
