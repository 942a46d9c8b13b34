package backtest

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/propedge/propedge/internal/calibration"
	"github.com/propedge/propedge/internal/domain"
	"github.com/propedge/propedge/internal/metrics"
)

// simRow couples a settled outcome with the features the predictor sees
type simRow struct {
	outcome  domain.PropOutcome
	features map[string]float64
	prob     float64
}

// Runner executes a backtest over historical feature snapshots
type Runner struct {
	config    *Config
	store     SnapshotLoader
	predictor Predictor
	outcomes  OutcomeSource
	monitor   *calibration.Monitor
	writer    *Writer
	repo      *ExperimentRepo
	metrics   *metrics.Registry
	clock     Clock
}

// NewRunner creates a backtest runner. repo may be nil when no experiment
// database is configured.
func NewRunner(config *Config, store SnapshotLoader, predictor Predictor, outcomes OutcomeSource, repo *ExperimentRepo, reg *metrics.Registry) *Runner {
	if config == nil {
		config = DefaultConfig()
	}
	return &Runner{
		config:    config,
		store:     store,
		predictor: predictor,
		outcomes:  outcomes,
		monitor:   calibration.NewMonitor(config.CalibrationWindow),
		writer:    NewWriter(config.OutputDir),
		repo:      repo,
		metrics:   reg,
		clock:     &RealClock{},
	}
}

// SetClock sets the clock implementation (for testing)
func (r *Runner) SetClock(clock Clock) { r.clock = clock }

// Monitor exposes the run's calibration monitor
func (r *Runner) Monitor() *calibration.Monitor { return r.monitor }

// Run drives the run through its stages. On a stage failure the returned
// Result carries everything computed so far and the error is a *StageError.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	preset, err := domain.PresetFor(r.config.RiskMode)
	if err != nil {
		return nil, err
	}
	if len(r.config.Weeks) == 0 {
		return nil, fmt.Errorf("no weeks to backtest")
	}

	result := &Result{
		RunID:     uuid.NewString(),
		Config:    r.config,
		StartedAt: r.clock.Now().UTC(),
	}
	log.Info().
		Str("run_id", result.RunID).
		Str("league", string(r.config.League)).
		Int("season", r.config.Season).
		Ints("weeks", r.config.Weeks).
		Str("risk_mode", string(r.config.RiskMode)).
		Msg("Backtest started")

	rows, err := r.runStage(result, StageLoading, func() ([]simRow, error) {
		return r.load(ctx)
	})
	if err != nil {
		return result, err
	}
	result.PropsLoaded = len(rows)

	rows, err = r.runStage(result, StagePredicting, func() ([]simRow, error) {
		return r.predict(ctx, rows)
	})
	if err != nil {
		return result, err
	}
	result.Predictions = len(rows)

	if _, err = r.runStage(result, StageSimulating, func() ([]simRow, error) {
		r.simulate(result, rows, preset)
		return rows, nil
	}); err != nil {
		return result, err
	}

	if _, err = r.runStage(result, StageAggregating, func() ([]simRow, error) {
		return nil, r.aggregate(result)
	}); err != nil {
		return result, err
	}

	if _, err = r.runStage(result, StageReporting, func() ([]simRow, error) {
		if werr := r.writer.WriteResults(result); werr != nil {
			return nil, werr
		}
		if werr := r.writer.WriteReport(result); werr != nil {
			return nil, werr
		}
		return nil, r.repo.Save(ctx, result)
	}); err != nil {
		return result, err
	}

	result.Stage = StageDone
	result.FinishedAt = r.clock.Now().UTC()
	r.metrics.RecordBacktestRun(string(StageDone))
	log.Info().
		Str("run_id", result.RunID).
		Int("bets", len(result.Bets)).
		Float64("roi", result.ROI).
		Float64("max_drawdown", result.MaxDrawdown).
		Msg("Backtest complete")
	return result, nil
}

// runStage executes one stage, converting any failure into the Failed
// terminal state with partial results preserved.
func (r *Runner) runStage(result *Result, stage Stage, fn func() ([]simRow, error)) ([]simRow, error) {
	result.Stage = stage
	log.Debug().Str("run_id", result.RunID).Str("stage", string(stage)).Msg("Backtest stage")
	out, err := fn()
	if err != nil {
		result.Stage = StageFailed
		result.FailedStage = stage
		result.ErrorMessage = err.Error()
		result.FinishedAt = r.clock.Now().UTC()
		r.metrics.RecordBacktestRun(string(StageFailed))
		log.Error().Err(err).Str("run_id", result.RunID).Str("stage", string(stage)).Msg("Backtest stage failed")
		return nil, &StageError{Stage: stage, Err: err, Partial: result}
	}
	return out, nil
}

// load pulls settled outcomes and their feature vectors for each week
func (r *Runner) load(ctx context.Context) ([]simRow, error) {
	var rows []simRow
	for _, week := range r.config.Weeks {
		outcomes, err := r.outcomes.Outcomes(ctx, r.config.League, r.config.Season, week)
		if err != nil {
			return nil, fmt.Errorf("week %d outcomes: %w", week, err)
		}
		snapshotID := domain.SnapshotID(r.config.League, r.config.Season, week)
		table, err := r.store.LoadFeatures(ctx, snapshotID, nil)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", snapshotID, err)
		}
		for _, oc := range outcomes {
			features, exists := table.FeatureVector(oc.PropID)
			if !exists {
				log.Warn().Str("prop_id", oc.PropID).Str("snapshot_id", snapshotID).Msg("Outcome has no feature row")
				continue
			}
			rows = append(rows, simRow{outcome: oc, features: features})
		}
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no outcomes matched feature snapshots")
	}
	return rows, nil
}

// predict invokes the external predictor per row
func (r *Runner) predict(ctx context.Context, rows []simRow) ([]simRow, error) {
	for i := range rows {
		prob, err := r.predictor.Predict(ctx, rows[i].features)
		if err != nil {
			return nil, fmt.Errorf("prop %s: %w", rows[i].outcome.PropID, err)
		}
		if math.IsNaN(prob) || prob < 0 || prob > 1 {
			return nil, fmt.Errorf("prop %s: probability %v out of range", rows[i].outcome.PropID, prob)
		}
		rows[i].prob = prob
	}
	return rows, nil
}

// simulate places bets sequentially in game-time order. The bankroll is
// running state, so ordering here is load-bearing.
func (r *Runner) simulate(result *Result, rows []simRow, preset domain.RiskPreset) {
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].outcome.GameTime.Equal(rows[j].outcome.GameTime) {
			return rows[i].outcome.GameTime.Before(rows[j].outcome.GameTime)
		}
		return rows[i].outcome.PropID < rows[j].outcome.PropID
	})

	bankroll := r.config.StartingBankroll
	result.Bankroll = append(result.Bankroll, bankroll)

	for _, row := range rows {
		if !preset.Accepts(row.prob) {
			result.Skipped++
			continue
		}
		dec := domain.AmericanToDecimal(row.outcome.Odds)
		stake := kellyStake(bankroll, row.prob, dec, preset)
		if stake <= 0 {
			result.Skipped++
			continue
		}

		won := row.outcome.OverHit
		profit := -stake
		if won {
			profit = stake * (dec - 1)
		}
		bankroll += profit

		result.Bets = append(result.Bets, Bet{
			PropID:        row.outcome.PropID,
			PlayerID:      row.outcome.PlayerID,
			StatType:      row.outcome.StatType,
			Week:          row.outcome.Week,
			GameTime:      row.outcome.GameTime,
			Probability:   row.prob,
			DecimalOdds:   dec,
			Stake:         stake,
			Won:           won,
			Profit:        profit,
			BankrollAfter: bankroll,
		})
		result.Bankroll = append(result.Bankroll, bankroll)
		r.monitor.Observe(row.prob, won)
	}
}

// aggregate computes ROI, Sharpe, drawdown, recovery, calibration metrics,
// confidence bands, and per-week summaries
func (r *Runner) aggregate(result *Result) error {
	if len(result.Bets) == 0 {
		log.Warn().Str("run_id", result.RunID).Msg("No bets placed, aggregates are zero")
		return nil
	}

	var staked, profit float64
	returns := make([]float64, len(result.Bets))
	preds := make([]float64, len(result.Bets))
	outcomes := make([]bool, len(result.Bets))
	for i, b := range result.Bets {
		staked += b.Stake
		profit += b.Profit
		returns[i] = b.Profit / b.Stake
		preds[i] = b.Probability
		outcomes[i] = b.Won
	}
	if staked > 0 {
		result.ROI = profit / staked
	}
	result.Sharpe = sharpe(returns)
	result.MaxDrawdown, result.RecoveryRate = drawdown(result.Bankroll)

	cal, err := calibration.Compute(preds, outcomes, calibration.DefaultBins)
	if err != nil {
		return err
	}
	result.Calibration = cal
	if _, err := r.monitor.Evaluate(); err != nil {
		return err
	}

	result.Bands = confidenceBands(result.Bets)
	result.Weeks = weekSummaries(result.Bets)
	return nil
}

// sharpe is the mean of per-bet returns over their standard deviation
func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std
}

// drawdown returns the greatest peak-to-trough decline of the bankroll
// series as a fraction of the peak, plus how much of that decline was
// recovered by the end of the series.
func drawdown(series []float64) (maxDD, recovery float64) {
	if len(series) == 0 {
		return 0, 1
	}
	peak := series[0]
	trough := series[0]
	peakAtTrough := series[0]
	for _, v := range series {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (peak - v) / peak
			if dd > maxDD {
				maxDD = dd
				trough = v
				peakAtTrough = peak
			}
		}
	}
	if maxDD == 0 {
		return 0, 1
	}
	final := series[len(series)-1]
	lost := peakAtTrough - trough
	regained := final - trough
	if regained <= 0 {
		return maxDD, 0
	}
	recovery = regained / lost
	if recovery > 1 {
		recovery = 1
	}
	return maxDD, recovery
}

func confidenceBands(bets []Bet) []ConfidenceBand {
	const width = 0.05
	bands := make([]ConfidenceBand, 0, 10)
	for low := 0.50; low < 1.0; low += width {
		high := low + width
		band := ConfidenceBand{Low: low, High: high}
		for _, b := range bets {
			if b.Probability >= low && (b.Probability < high || (high >= 1.0 && b.Probability <= 1.0)) {
				band.Bets++
				if b.Won {
					band.Wins++
				}
			}
		}
		if band.Bets > 0 {
			band.WinRate = float64(band.Wins) / float64(band.Bets)
			bands = append(bands, band)
		}
	}
	return bands
}

func weekSummaries(bets []Bet) []WeekSummary {
	byWeek := make(map[int]*WeekSummary)
	for _, b := range bets {
		ws, exists := byWeek[b.Week]
		if !exists {
			ws = &WeekSummary{Week: b.Week}
			byWeek[b.Week] = ws
		}
		ws.Bets++
		if b.Won {
			ws.Wins++
		}
		ws.Staked += b.Stake
		ws.Profit += b.Profit
		ws.EndBankroll = b.BankrollAfter
	}
	weeks := make([]WeekSummary, 0, len(byWeek))
	for _, ws := range byWeek {
		if ws.Staked > 0 {
			ws.ROI = ws.Profit / ws.Staked
		}
		weeks = append(weeks, *ws)
	}
	sort.Slice(weeks, func(i, j int) bool { return weeks[i].Week < weeks[j].Week })
	return weeks
}
