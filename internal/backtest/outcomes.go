package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"os"

	"github.com/propedge/propedge/internal/domain"
)

// FileOutcomes reads settled outcomes from a JSON file holding an array of
// prop outcomes, filtered per request.
type FileOutcomes struct {
	path string
}

func NewFileOutcomes(path string) *FileOutcomes {
	return &FileOutcomes{path: path}
}

func (f *FileOutcomes) Outcomes(ctx context.Context, league domain.League, season, week int) ([]domain.PropOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read outcomes file: %w", err)
	}
	var all []domain.PropOutcome
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("decode outcomes file: %w", err)
	}
	var matched []domain.PropOutcome
	for _, oc := range all {
		if oc.League == league && oc.Season == season && oc.Week == week {
			matched = append(matched, oc)
		}
	}
	return matched, nil
}

// StaticOutcomes serves a fixed outcome set, used by tests and dry runs
type StaticOutcomes struct {
	rows []domain.PropOutcome
}

func NewStaticOutcomes(rows []domain.PropOutcome) *StaticOutcomes {
	return &StaticOutcomes{rows: rows}
}

func (s *StaticOutcomes) Outcomes(ctx context.Context, league domain.League, season, week int) ([]domain.PropOutcome, error) {
	var matched []domain.PropOutcome
	for _, oc := range s.rows {
		if oc.League == league && oc.Season == season && oc.Week == week {
			matched = append(matched, oc)
		}
	}
	return matched, nil
}

// ImpliedPredictor derives its probability from the market's implied odds
// nudged by a deterministic per-prop offset. It stands in for a trained
// model in smoke runs.
type ImpliedPredictor struct{}

func (ImpliedPredictor) Predict(ctx context.Context, features map[string]float64) (float64, error) {
	prob, exists := features["implied_prob_over"]
	if !exists {
		prob = 0.5
	}
	edge, exists := features["edge_raw"]
	if exists {
		prob += clamp(edge*0.02, -0.05, 0.05)
	}
	return clamp(prob, 0.01, 0.99), nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// hashProb maps an id onto a stable pseudo-random probability, used when
// synthesizing outcome fixtures.
func hashProb(id string) float64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	return 0.3 + float64(h.Sum64()%4000)/10000.0
}

// SyntheticOutcomes fabricates settled results for the requested week from a
// snapshot loader, deterministic per prop id. It exists so a backtest can run
// end to end before a real results feed is wired in.
type SyntheticOutcomes struct {
	store SnapshotLoader
}

func NewSyntheticOutcomes(store SnapshotLoader) *SyntheticOutcomes {
	return &SyntheticOutcomes{store: store}
}

func (s *SyntheticOutcomes) Outcomes(ctx context.Context, league domain.League, season, week int) ([]domain.PropOutcome, error) {
	snapshotID := domain.SnapshotID(league, season, week)
	table, err := s.store.LoadFeatures(ctx, snapshotID, []string{"line", "over_odds", domain.ColGameTime})
	if err != nil {
		return nil, err
	}
	outcomes := make([]domain.PropOutcome, 0, table.NumRows())
	for i, propID := range table.RowIDs() {
		oc := domain.PropOutcome{
			PropID: propID,
			Week:   week,
			Season: season,
			League: league,
			Odds:   -110,
		}
		if col, exists := table.Column("line"); exists {
			oc.Line = col.Float[i]
		}
		if col, exists := table.Column("over_odds"); exists && !math.IsNaN(col.Float[i]) {
			oc.Odds = int(col.Float[i])
		}
		if col, exists := table.Column(domain.ColGameTime); exists {
			oc.GameTime = col.Time[i]
		}
		if col, exists := table.Column(domain.ColPlayerID); exists {
			oc.PlayerID = col.Str[i]
		}
		p := hashProb(propID)
		oc.OverHit = p > 0.5
		oc.ActualValue = oc.Line * (0.8 + p/2)
		outcomes = append(outcomes, oc)
	}
	return outcomes, nil
}
