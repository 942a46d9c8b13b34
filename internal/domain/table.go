package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// ColumnKind is the semantic type of a feature column
type ColumnKind string

const (
	KindNumeric     ColumnKind = "numeric"
	KindCategorical ColumnKind = "categorical"
	KindBool        ColumnKind = "boolean"
	KindTimestamp   ColumnKind = "timestamp"
	KindIdentifier  ColumnKind = "identifier"
)

// System column names carried by every feature table
const (
	ColPropID         = "prop_id"
	ColPlayerID       = "player_id"
	ColGameTime       = "game_time"
	ColFeatureVersion = "feature_version"
	ColComputedAt     = "computed_at"
	ColWeek           = "week"
	ColSeason         = "season"
	ColLeague         = "league"
)

// SystemColumns lists the columns every table must carry after a pipeline run
var SystemColumns = []string{ColFeatureVersion, ColComputedAt, ColWeek, ColSeason, ColLeague}

// Column holds one named column of a feature table. Exactly one of the value
// slices is populated, selected by Kind. NaN marks a null in numeric columns.
type Column struct {
	Name  string      `json:"name"`
	Kind  ColumnKind  `json:"kind"`
	Float []float64   `json:"float,omitempty"`
	Str   []string    `json:"str,omitempty"`
	Bool  []bool      `json:"bool,omitempty"`
	Time  []time.Time `json:"time,omitempty"`
}

// Len returns the number of values in the column
func (c *Column) Len() int {
	switch c.Kind {
	case KindNumeric:
		return len(c.Float)
	case KindBool:
		return len(c.Bool)
	case KindTimestamp:
		return len(c.Time)
	default:
		return len(c.Str)
	}
}

// FeatureTable is a column-oriented collection of feature rows keyed by prop
// identifier. Rows carry no ordering guarantee; consumers must key by prop_id.
type FeatureTable struct {
	rowIDs   []string
	rowIndex map[string]int
	cols     map[string]*Column
	order    []string
}

// NewFeatureTable creates a table with one row per prop identifier.
// The prop_id identifier column is populated immediately.
func NewFeatureTable(propIDs []string) *FeatureTable {
	t := &FeatureTable{
		rowIDs:   append([]string(nil), propIDs...),
		rowIndex: make(map[string]int, len(propIDs)),
		cols:     make(map[string]*Column),
	}
	for i, id := range propIDs {
		t.rowIndex[id] = i
	}
	t.cols[ColPropID] = &Column{Name: ColPropID, Kind: KindIdentifier, Str: t.rowIDs}
	t.order = append(t.order, ColPropID)
	return t
}

// NumRows returns the row count
func (t *FeatureTable) NumRows() int { return len(t.rowIDs) }

// NumCols returns the column count
func (t *FeatureTable) NumCols() int { return len(t.order) }

// RowIDs returns the prop identifiers in row order
func (t *FeatureTable) RowIDs() []string { return t.rowIDs }

// RowIndex returns the row position for a prop identifier
func (t *FeatureTable) RowIndex(propID string) (int, bool) {
	i, ok := t.rowIndex[propID]
	return i, ok
}

// ColumnNames returns column names in insertion order
func (t *FeatureTable) ColumnNames() []string {
	return append([]string(nil), t.order...)
}

// HasColumn reports whether the named column exists
func (t *FeatureTable) HasColumn(name string) bool {
	_, ok := t.cols[name]
	return ok
}

// Column returns the named column
func (t *FeatureTable) Column(name string) (*Column, bool) {
	c, ok := t.cols[name]
	return c, ok
}

func (t *FeatureTable) add(c *Column) error {
	if _, exists := t.cols[c.Name]; exists {
		return fmt.Errorf("column %q already exists", c.Name)
	}
	if c.Len() != len(t.rowIDs) {
		return fmt.Errorf("column %q has %d values, table has %d rows", c.Name, c.Len(), len(t.rowIDs))
	}
	t.cols[c.Name] = c
	t.order = append(t.order, c.Name)
	return nil
}

// AddNumeric adds a numeric column. Values must align with row order.
func (t *FeatureTable) AddNumeric(name string, vals []float64) error {
	return t.add(&Column{Name: name, Kind: KindNumeric, Float: vals})
}

// AddCategorical adds a string-valued categorical column
func (t *FeatureTable) AddCategorical(name string, vals []string) error {
	return t.add(&Column{Name: name, Kind: KindCategorical, Str: vals})
}

// AddBool adds a boolean column
func (t *FeatureTable) AddBool(name string, vals []bool) error {
	return t.add(&Column{Name: name, Kind: KindBool, Bool: vals})
}

// AddTime adds a timestamp column
func (t *FeatureTable) AddTime(name string, vals []time.Time) error {
	return t.add(&Column{Name: name, Kind: KindTimestamp, Time: vals})
}

// AddIdentifier adds an identifier column (carried through projections)
func (t *FeatureTable) AddIdentifier(name string, vals []string) error {
	return t.add(&Column{Name: name, Kind: KindIdentifier, Str: vals})
}

// DropColumn removes a column if present
func (t *FeatureTable) DropColumn(name string) {
	if _, ok := t.cols[name]; !ok {
		return
	}
	delete(t.cols, name)
	for i, n := range t.order {
		if n == name {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// ConstNumeric builds a numeric column filled with one value
func (t *FeatureTable) ConstNumeric(v float64) []float64 {
	vals := make([]float64, len(t.rowIDs))
	for i := range vals {
		vals[i] = v
	}
	return vals
}

// SetSystemColumns stamps the fixed system columns onto the table
func (t *FeatureTable) SetSystemColumns(version string, computedAt time.Time, week, season int, league League) error {
	if err := t.AddCategorical(ColFeatureVersion, fillStr(len(t.rowIDs), version)); err != nil {
		return err
	}
	computed := make([]time.Time, len(t.rowIDs))
	for i := range computed {
		computed[i] = computedAt
	}
	if err := t.AddTime(ColComputedAt, computed); err != nil {
		return err
	}
	if err := t.AddNumeric(ColWeek, t.ConstNumeric(float64(week))); err != nil {
		return err
	}
	if err := t.AddNumeric(ColSeason, t.ConstNumeric(float64(season))); err != nil {
		return err
	}
	return t.AddCategorical(ColLeague, fillStr(len(t.rowIDs), string(league)))
}

// Schema returns column name to semantic type
func (t *FeatureTable) Schema() map[string]string {
	schema := make(map[string]string, len(t.order))
	for name, c := range t.cols {
		schema[name] = string(c.Kind)
	}
	return schema
}

// NumericColumnNames returns sorted names of numeric columns
func (t *FeatureTable) NumericColumnNames() []string {
	var names []string
	for name, c := range t.cols {
		if c.Kind == KindNumeric {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// FeatureVector extracts the numeric feature values for one row
func (t *FeatureTable) FeatureVector(propID string) (map[string]float64, bool) {
	i, ok := t.rowIndex[propID]
	if !ok {
		return nil, false
	}
	vec := make(map[string]float64)
	for name, c := range t.cols {
		if c.Kind == KindNumeric {
			vec[name] = c.Float[i]
		}
	}
	return vec, true
}

// ColumnStats summarizes one column for the statistics sidecar
type ColumnStats struct {
	Mean        *float64 `json:"mean,omitempty"`
	Std         *float64 `json:"std,omitempty"`
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	NullCount   int      `json:"null_count"`
	Cardinality *int     `json:"cardinality,omitempty"`
}

// Statistics computes the per-column summary for the table
func (t *FeatureTable) Statistics() map[string]ColumnStats {
	stats := make(map[string]ColumnStats, len(t.cols))
	for name, c := range t.cols {
		switch c.Kind {
		case KindNumeric:
			stats[name] = numericStats(c.Float)
		case KindCategorical, KindIdentifier:
			seen := make(map[string]struct{})
			nulls := 0
			for _, s := range c.Str {
				if s == "" {
					nulls++
					continue
				}
				seen[s] = struct{}{}
			}
			card := len(seen)
			stats[name] = ColumnStats{NullCount: nulls, Cardinality: &card}
		default:
			stats[name] = ColumnStats{}
		}
	}
	return stats
}

func numericStats(vals []float64) ColumnStats {
	var sum, sumSq float64
	n := 0
	nulls := 0
	min := math.Inf(1)
	max := math.Inf(-1)
	for _, v := range vals {
		if math.IsNaN(v) {
			nulls++
			continue
		}
		sum += v
		sumSq += v * v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		n++
	}
	if n == 0 {
		return ColumnStats{NullCount: nulls}
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	std := math.Sqrt(variance)
	return ColumnStats{Mean: &mean, Std: &std, Min: &min, Max: &max, NullCount: nulls}
}

func fillStr(n int, v string) []string {
	vals := make([]string, n)
	for i := range vals {
		vals[i] = v
	}
	return vals
}
