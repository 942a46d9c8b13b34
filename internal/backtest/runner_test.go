package backtest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propedge/propedge/internal/domain"
	"github.com/propedge/propedge/internal/metrics"
)

type mockClock struct{ now time.Time }

func (m *mockClock) Now() time.Time { return m.now }

// tableLoader serves one in-memory feature table for every snapshot id
type tableLoader struct {
	table *domain.FeatureTable
	err   error
}

func (l *tableLoader) LoadFeatures(ctx context.Context, snapshotID string, columns []string) (*domain.FeatureTable, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.table, nil
}

// mapPredictor returns a fixed probability per prop, keyed by season_avg
type probePredictor struct {
	probs map[float64]float64
	err   error
}

func (p *probePredictor) Predict(ctx context.Context, features map[string]float64) (float64, error) {
	if p.err != nil {
		return 0, p.err
	}
	prob, exists := p.probs[features["season_avg"]]
	if !exists {
		return 0, fmt.Errorf("no probability for features %v", features)
	}
	return prob, nil
}

func testTable(t *testing.T, propIDs []string) *domain.FeatureTable {
	t.Helper()
	tab := domain.NewFeatureTable(propIDs)
	avgs := make([]float64, len(propIDs))
	for i := range propIDs {
		avgs[i] = float64(i + 1)
	}
	require.NoError(t, tab.AddNumeric("season_avg", avgs))
	return tab
}

func testConfig(t *testing.T) *Config {
	return &Config{
		League:            domain.LeagueNFL,
		Season:            2025,
		Weeks:             []int{5},
		RiskMode:          domain.RiskBalanced,
		StartingBankroll:  10000,
		CalibrationWindow: 50,
		OutputDir:         t.TempDir(),
	}
}

func outcomeRow(propID string, week int, gameTime time.Time, odds int, overHit bool) domain.PropOutcome {
	return domain.PropOutcome{
		PropID:   propID,
		PlayerID: "pl-" + propID,
		StatType: "receiving_yards",
		Line:     62.5,
		Odds:     odds,
		GameTime: gameTime,
		OverHit:  overHit,
		Week:     week,
		Season:   2025,
		League:   domain.LeagueNFL,
	}
}

func TestRunFullBacktest(t *testing.T) {
	t0 := time.Date(2025, 10, 5, 17, 0, 0, 0, time.UTC)
	config := testConfig(t)
	outcomes := NewStaticOutcomes([]domain.PropOutcome{
		outcomeRow("p1", 5, t0, -110, true),
		outcomeRow("p2", 5, t0, -110, true),
		outcomeRow("p3", 5, t0.Add(time.Hour), 100, false),
	})
	loader := &tableLoader{table: testTable(t, []string{"p1", "p2", "p3"})}
	predictor := &probePredictor{probs: map[float64]float64{
		1: 0.70, // p1, bet
		2: 0.55, // p2, below the balanced threshold
		3: 0.65, // p3, bet
	}}

	runner := NewRunner(config, loader, predictor, outcomes, nil, metrics.NewRegistry())
	fixed := time.Date(2025, 11, 1, 9, 0, 0, 0, time.UTC)
	runner.SetClock(&mockClock{now: fixed})

	result, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StageDone, result.Stage)
	assert.Equal(t, fixed, result.StartedAt)
	assert.Equal(t, fixed, result.FinishedAt)
	assert.Equal(t, 3, result.PropsLoaded)
	assert.Equal(t, 3, result.Predictions)
	assert.Equal(t, 1, result.Skipped)
	require.Len(t, result.Bets, 2)

	// game-time order: p1 settles before p3 and funds its stake
	first, second := result.Bets[0], result.Bets[1]
	assert.Equal(t, "p1", first.PropID)
	assert.Equal(t, "p3", second.PropID)

	// quarter Kelly at -110: edge 0.37, stake 10000 * 0.0925
	assert.InDelta(t, 925.0, first.Stake, 1e-9)
	assert.True(t, first.Won)
	assert.InDelta(t, 925.0*(10.0/11.0), first.Profit, 1e-9)

	bankrollAfterFirst := 10000 + 925.0*(10.0/11.0)
	assert.InDelta(t, bankrollAfterFirst, first.BankrollAfter, 1e-9)

	// p3 at even odds: edge 0.30, quarter Kelly 0.075 of the running bankroll
	assert.InDelta(t, bankrollAfterFirst*0.075, second.Stake, 1e-9)
	assert.False(t, second.Won)
	assert.InDelta(t, -second.Stake, second.Profit, 1e-9)

	staked := first.Stake + second.Stake
	profit := first.Profit + second.Profit
	assert.InDelta(t, profit/staked, result.ROI, 1e-9)

	// drawdown is the losing p3 bet, never recovered by run end
	assert.InDelta(t, 0.075, result.MaxDrawdown, 1e-9)
	assert.Equal(t, 0.0, result.RecoveryRate)

	assert.Equal(t, 2, result.Calibration.Samples)
	require.Len(t, result.Weeks, 1)
	assert.Equal(t, 5, result.Weeks[0].Week)
	assert.Equal(t, 2, result.Weeks[0].Bets)
	assert.Equal(t, 1, result.Weeks[0].Wins)
	assert.NotEmpty(t, result.Bands)

	// reporting stage wrote both artifacts
	_, err = os.Stat(filepath.Join(config.OutputDir, result.RunID+".jsonl"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(config.OutputDir, result.RunID+".md"))
	assert.NoError(t, err)
}

func TestRunAcceptsBoundaryProbability(t *testing.T) {
	t0 := time.Date(2025, 10, 5, 17, 0, 0, 0, time.UTC)
	config := testConfig(t)
	outcomes := NewStaticOutcomes([]domain.PropOutcome{
		outcomeRow("p1", 5, t0, 100, true),
		outcomeRow("p2", 5, t0, 100, true),
	})
	loader := &tableLoader{table: testTable(t, []string{"p1", "p2"})}
	predictor := &probePredictor{probs: map[float64]float64{
		1: 0.60,     // exactly at the balanced minimum: accepted
		2: 0.599999, // just below: skipped
	}}

	runner := NewRunner(config, loader, predictor, outcomes, nil, metrics.NewRegistry())
	result, err := runner.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Bets, 1)
	assert.Equal(t, "p1", result.Bets[0].PropID)
	assert.Equal(t, 1, result.Skipped)
}

func TestRunFailsAtLoading(t *testing.T) {
	config := testConfig(t)
	loader := &tableLoader{err: errors.New("store unavailable")}
	runner := NewRunner(config, loader, &probePredictor{}, NewStaticOutcomes(nil), nil, metrics.NewRegistry())

	result, err := runner.Run(context.Background())
	require.Error(t, err)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StageLoading, stageErr.Stage)
	require.NotNil(t, result)
	assert.Equal(t, StageFailed, result.Stage)
	assert.Equal(t, StageLoading, result.FailedStage)
	assert.NotEmpty(t, result.ErrorMessage)
	assert.Same(t, result, stageErr.Partial)
}

func TestRunFailsAtPredictingKeepsPartial(t *testing.T) {
	t0 := time.Date(2025, 10, 5, 17, 0, 0, 0, time.UTC)
	config := testConfig(t)
	outcomes := NewStaticOutcomes([]domain.PropOutcome{outcomeRow("p1", 5, t0, -110, true)})
	loader := &tableLoader{table: testTable(t, []string{"p1"})}
	predictor := &probePredictor{err: errors.New("model endpoint down")}

	runner := NewRunner(config, loader, predictor, outcomes, nil, metrics.NewRegistry())
	result, err := runner.Run(context.Background())
	require.Error(t, err)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StagePredicting, stageErr.Stage)
	// counts from the completed loading stage survive the failure
	assert.Equal(t, 1, result.PropsLoaded)
	assert.Equal(t, StageFailed, result.Stage)
}

func TestRunRejectsOutOfRangeProbability(t *testing.T) {
	t0 := time.Date(2025, 10, 5, 17, 0, 0, 0, time.UTC)
	config := testConfig(t)
	outcomes := NewStaticOutcomes([]domain.PropOutcome{outcomeRow("p1", 5, t0, -110, true)})
	loader := &tableLoader{table: testTable(t, []string{"p1"})}
	predictor := &probePredictor{probs: map[float64]float64{1: 1.5}}

	runner := NewRunner(config, loader, predictor, outcomes, nil, metrics.NewRegistry())
	_, err := runner.Run(context.Background())
	require.Error(t, err)

	var stageErr *StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, StagePredicting, stageErr.Stage)
}

func TestRunRequiresWeeks(t *testing.T) {
	config := testConfig(t)
	config.Weeks = nil
	runner := NewRunner(config, &tableLoader{}, &probePredictor{}, NewStaticOutcomes(nil), nil, metrics.NewRegistry())
	_, err := runner.Run(context.Background())
	assert.Error(t, err)
}

func TestKellyStake(t *testing.T) {
	balanced, err := domain.PresetFor(domain.RiskBalanced)
	require.NoError(t, err)

	// edge (p*b - q) / b at even odds with p=0.65 is 0.30
	stake := kellyStake(10000, 0.65, 2.0, balanced)
	assert.InDelta(t, 750.0, stake, 1e-9)

	// large edge capped by the max bet fraction
	stake = kellyStake(10000, 0.90, 2.0, balanced)
	assert.InDelta(t, 1000.0, stake, 1e-9)

	// no positive edge, no bet
	assert.Equal(t, 0.0, kellyStake(10000, 0.50, 2.0, balanced))
	assert.Equal(t, 0.0, kellyStake(0, 0.90, 2.0, balanced))
	assert.Equal(t, 0.0, kellyStake(10000, 0.90, 1.0, balanced))
}

func TestDrawdown(t *testing.T) {
	// flat series has no drawdown and full recovery by convention
	dd, rec := drawdown([]float64{100, 100, 100})
	assert.Equal(t, 0.0, dd)
	assert.Equal(t, 1.0, rec)

	// 100 -> 120 -> 90 -> 105: drawdown 25% of peak, half recovered
	dd, rec = drawdown([]float64{100, 120, 90, 105})
	assert.InDelta(t, 0.25, dd, 1e-9)
	assert.InDelta(t, 0.5, rec, 1e-9)

	// ends at the trough
	dd, rec = drawdown([]float64{100, 120, 90})
	assert.InDelta(t, 0.25, dd, 1e-9)
	assert.Equal(t, 0.0, rec)
}

func TestSharpe(t *testing.T) {
	assert.Equal(t, 0.0, sharpe([]float64{0.1}))
	assert.Equal(t, 0.0, sharpe([]float64{0.1, 0.1, 0.1}))

	// mean 0.05, sample std ~0.0707
	got := sharpe([]float64{0.0, 0.1})
	assert.InDelta(t, 0.7071, got, 1e-3)
}

func TestConfidenceBands(t *testing.T) {
	bets := []Bet{
		{Probability: 0.62, Won: true},
		{Probability: 0.64, Won: false},
		{Probability: 0.97, Won: true},
		{Probability: 1.00, Won: true},
	}
	bands := confidenceBands(bets)
	require.Len(t, bands, 2)

	assert.InDelta(t, 0.60, bands[0].Low, 1e-9)
	assert.Equal(t, 2, bands[0].Bets)
	assert.InDelta(t, 0.5, bands[0].WinRate, 1e-9)

	// the top band is inclusive of 1.0
	assert.Equal(t, 2, bands[1].Bets)
	assert.InDelta(t, 1.0, bands[1].WinRate, 1e-9)
}
