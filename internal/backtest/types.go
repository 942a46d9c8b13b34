package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/propedge/propedge/internal/calibration"
	"github.com/propedge/propedge/internal/domain"
)

// Stage names one phase of a backtest run
type Stage string

const (
	StageLoading     Stage = "loading"
	StagePredicting  Stage = "predicting"
	StageSimulating  Stage = "simulating"
	StageAggregating Stage = "aggregating"
	StageReporting   Stage = "reporting"
	StageDone        Stage = "done"
	StageFailed      Stage = "failed"
)

// StageError reports a failure at a specific stage. Partial carries whatever
// the run had computed before the failure.
type StageError struct {
	Stage   Stage
	Err     error
	Partial *Result
}

func (e *StageError) Error() string {
	return fmt.Sprintf("backtest stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Config represents a backtest run configuration
type Config struct {
	League            domain.League   `json:"league"`
	Season            int             `json:"season"`
	Weeks             []int           `json:"weeks"`
	RiskMode          domain.RiskMode `json:"risk_mode"`
	StartingBankroll  float64         `json:"starting_bankroll"`
	CalibrationWindow int             `json:"calibration_window"`
	OutputDir         string          `json:"output_dir"`
}

// DefaultConfig returns a backtest configuration with standard values
func DefaultConfig() *Config {
	return &Config{
		League:            domain.LeagueNFL,
		RiskMode:          domain.RiskBalanced,
		StartingBankroll:  10000,
		CalibrationWindow: calibration.DefaultWindowSize,
		OutputDir:         "./artifacts/backtest",
	}
}

// Bet is one simulated wager in game-time order
type Bet struct {
	PropID        string    `json:"prop_id"`
	PlayerID      string    `json:"player_id"`
	StatType      string    `json:"stat_type"`
	Week          int       `json:"week"`
	GameTime      time.Time `json:"game_time"`
	Probability   float64   `json:"probability"`
	DecimalOdds   float64   `json:"decimal_odds"`
	Stake         float64   `json:"stake"`
	Won           bool      `json:"won"`
	Profit        float64   `json:"profit"`
	BankrollAfter float64   `json:"bankroll_after"`
}

// ConfidenceBand breaks win rate down by predicted-probability range
type ConfidenceBand struct {
	Low     float64 `json:"low"`
	High    float64 `json:"high"`
	Bets    int     `json:"bets"`
	Wins    int     `json:"wins"`
	WinRate float64 `json:"win_rate"`
}

// WeekSummary aggregates the bets placed within one week
type WeekSummary struct {
	Week         int     `json:"week"`
	Bets         int     `json:"bets"`
	Wins         int     `json:"wins"`
	Staked       float64 `json:"staked"`
	Profit       float64 `json:"profit"`
	ROI          float64 `json:"roi"`
	EndBankroll  float64 `json:"end_bankroll"`
}

// Result is the full outcome of one backtest run. On failure it carries the
// partial aggregates computed before the failing stage.
type Result struct {
	RunID        string    `json:"run_id"`
	Config       *Config   `json:"config"`
	Stage        Stage     `json:"stage"`
	FailedStage  Stage     `json:"failed_stage,omitempty"`
	ErrorMessage string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`

	PropsLoaded int `json:"props_loaded"`
	Predictions int `json:"predictions"`
	Skipped     int `json:"skipped"`

	Bets     []Bet     `json:"bets"`
	Bankroll []float64 `json:"bankroll"`

	ROI          float64             `json:"roi"`
	Sharpe       float64             `json:"sharpe"`
	MaxDrawdown  float64             `json:"max_drawdown"`
	RecoveryRate float64             `json:"recovery_rate"`
	Calibration  calibration.Metrics `json:"calibration"`
	Bands        []ConfidenceBand    `json:"bands"`
	Weeks        []WeekSummary       `json:"weeks"`
}

// Predictor is the external inference capability: given a feature vector,
// return the probability that the prop's over side hits.
type Predictor interface {
	Predict(ctx context.Context, features map[string]float64) (float64, error)
}

// OutcomeSource supplies settled prop results for the simulated weeks
type OutcomeSource interface {
	Outcomes(ctx context.Context, league domain.League, season, week int) ([]domain.PropOutcome, error)
}

// SnapshotLoader retrieves historical feature snapshots by identifier with
// optional column projection
type SnapshotLoader interface {
	LoadFeatures(ctx context.Context, snapshotID string, columns []string) (*domain.FeatureTable, error)
}

// Clock interface for time operations (injectable for testing)
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using real time
type RealClock struct{}

func (r *RealClock) Now() time.Time { return time.Now() }
