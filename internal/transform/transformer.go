// Package transform turns a raw wide feature table into a model-ready table
// through ordered column-wise passes: imputation, normalization, categorical
// encoding and interaction creation.
//
// Fit and transform are split into two types so that transforming with an
// untrained transformer is impossible to express: only a Fitted value, which
// can be obtained exclusively from FitTransform, exposes Transform. Training
// and inference therefore always reuse identical statistics.
package transform

import (
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/propedge/propedge/internal/domain"
)

// NormalizedSuffix is appended to a column name for its z-scored variant
const NormalizedSuffix = "_normalized"

// EncodedSuffix is appended to a column name for its label-encoded variant
const EncodedSuffix = "_encoded"

// DefaultMaxInteractions caps how many interaction columns are created
const DefaultMaxInteractions = 10

// Config controls the transformer passes
type Config struct {
	Impute           ImputeStrategy
	NormalizeColumns []string    // empty selects every non-system numeric column
	OrdinalColumns   []string    // label-encoded categoricals
	OneHotColumns    []string    // one-hot encoded categoricals
	InteractionPairs [][2]string // ranked by domain relevance, most relevant first
	MaxInteractions  int
}

// DefaultConfig returns the transformer configuration used by the pipeline
func DefaultConfig() Config {
	return Config{
		Impute:          ImputeSmart,
		OrdinalColumns:  []string{"injury_status", "venue_type", "stat_type"},
		OneHotColumns:   []string{"position"},
		MaxInteractions: DefaultMaxInteractions,
	}
}

// Transformer holds configuration for an untrained transformer
type Transformer struct {
	cfg Config
}

// New creates an untrained transformer
func New(cfg Config) *Transformer {
	if cfg.MaxInteractions <= 0 {
		cfg.MaxInteractions = DefaultMaxInteractions
	}
	if cfg.Impute == "" {
		cfg.Impute = ImputeSmart
	}
	return &Transformer{cfg: cfg}
}

type normStat struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// Fitted is a transformer holding statistics retained from a fit pass.
// Transform replays the identical passes against new tables.
type Fitted struct {
	cfg         Config
	norms       map[string]normStat
	encodings   map[string]map[string]int
	oneHotCats  map[string][]string
	imputeFills map[string]float64
}

// FitTransform mutates the table in place through all passes, retaining the
// per-column statistics and category mappings for later transform-only reuse.
func (tr *Transformer) FitTransform(t *domain.FeatureTable) (*Fitted, error) {
	f := &Fitted{
		cfg:         tr.cfg,
		norms:       make(map[string]normStat),
		encodings:   make(map[string]map[string]int),
		oneHotCats:  make(map[string][]string),
		imputeFills: make(map[string]float64),
	}

	// Imputation must run first: normalization and encoding require
	// non-null inputs.
	if err := imputeFit(t, tr.cfg.Impute, f.imputeFills); err != nil {
		return nil, fmt.Errorf("imputation: %w", err)
	}
	if err := f.normalizeFit(t); err != nil {
		return nil, fmt.Errorf("normalization: %w", err)
	}
	if err := f.encodeFit(t); err != nil {
		return nil, fmt.Errorf("encoding: %w", err)
	}
	if err := f.interactions(t); err != nil {
		return nil, fmt.Errorf("interactions: %w", err)
	}

	log.Debug().Int("rows", t.NumRows()).Int("cols", t.NumCols()).Msg("Transformer fit complete")
	return f, nil
}

// Transform applies the fitted passes to a table without refitting statistics.
// Unseen categories map to the reserved unknown code.
func (f *Fitted) Transform(t *domain.FeatureTable) error {
	if err := imputeApply(t, f.cfg.Impute, f.imputeFills); err != nil {
		return fmt.Errorf("imputation: %w", err)
	}
	if err := f.normalizeApply(t); err != nil {
		return fmt.Errorf("normalization: %w", err)
	}
	if err := f.encodeApply(t); err != nil {
		return fmt.Errorf("encoding: %w", err)
	}
	if err := f.interactions(t); err != nil {
		return fmt.Errorf("interactions: %w", err)
	}
	return nil
}

// NormStats exposes the fitted mean/std per normalized column
func (f *Fitted) NormStats() map[string][2]float64 {
	out := make(map[string][2]float64, len(f.norms))
	for name, s := range f.norms {
		out[name] = [2]float64{s.Mean, s.Std}
	}
	return out
}

func (f *Fitted) normalizeTargets(t *domain.FeatureTable) []string {
	if len(f.cfg.NormalizeColumns) > 0 {
		return f.cfg.NormalizeColumns
	}
	var names []string
	for _, name := range t.NumericColumnNames() {
		if name == domain.ColWeek || name == domain.ColSeason {
			continue
		}
		names = append(names, name)
	}
	return names
}

func (f *Fitted) normalizeFit(t *domain.FeatureTable) error {
	for _, name := range f.normalizeTargets(t) {
		col, ok := t.Column(name)
		if !ok || col.Kind != domain.KindNumeric {
			continue
		}
		mean, std := meanStd(col.Float)
		if std == 0 {
			// Zero-variance columns are left to ValidateFeatures to flag
			// rather than normalized into NaN.
			continue
		}
		f.norms[name] = normStat{Mean: mean, Std: std}
		if err := t.AddNumeric(name+NormalizedSuffix, zscore(col.Float, mean, std)); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fitted) normalizeApply(t *domain.FeatureTable) error {
	for name, s := range f.norms {
		col, ok := t.Column(name)
		if !ok || col.Kind != domain.KindNumeric {
			continue
		}
		if err := t.AddNumeric(name+NormalizedSuffix, zscore(col.Float, s.Mean, s.Std)); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fitted) interactions(t *domain.FeatureTable) error {
	created := 0
	for _, pair := range f.cfg.InteractionPairs {
		if created >= f.cfg.MaxInteractions {
			break
		}
		a, okA := t.Column(pair[0])
		b, okB := t.Column(pair[1])
		if !okA || !okB || a.Kind != domain.KindNumeric || b.Kind != domain.KindNumeric {
			continue
		}
		name := pair[0] + "_x_" + pair[1]
		if t.HasColumn(name) {
			continue
		}
		vals := make([]float64, len(a.Float))
		for i := range vals {
			vals[i] = a.Float[i] * b.Float[i]
		}
		if err := t.AddNumeric(name, vals); err != nil {
			return err
		}
		created++
	}
	return nil
}

func meanStd(vals []float64) (float64, float64) {
	var sum float64
	n := 0
	for _, v := range vals {
		if math.IsNaN(v) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0, 0
	}
	mean := sum / float64(n)
	var sq float64
	for _, v := range vals {
		if math.IsNaN(v) {
			continue
		}
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(n))
}

func zscore(vals []float64, mean, std float64) []float64 {
	out := make([]float64, len(vals))
	for i, v := range vals {
		if math.IsNaN(v) {
			out[i] = math.NaN()
			continue
		}
		out[i] = (v - mean) / std
	}
	return out
}
