package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// ExperimentRepo persists completed runs as experiment records in Postgres.
// A nil repo is valid and makes every method a no-op, for runs without a
// configured database.
type ExperimentRepo struct {
	db *sqlx.DB
}

const experimentSchema = `
CREATE TABLE IF NOT EXISTS backtest_runs (
    run_id        TEXT PRIMARY KEY,
    league        TEXT NOT NULL,
    season        INTEGER NOT NULL,
    risk_mode     TEXT NOT NULL,
    stage         TEXT NOT NULL,
    bets          INTEGER NOT NULL,
    roi           DOUBLE PRECISION NOT NULL,
    sharpe        DOUBLE PRECISION NOT NULL,
    max_drawdown  DOUBLE PRECISION NOT NULL,
    recovery_rate DOUBLE PRECISION NOT NULL,
    ece           DOUBLE PRECISION NOT NULL,
    brier         DOUBLE PRECISION NOT NULL,
    mce           DOUBLE PRECISION NOT NULL,
    started_at    TIMESTAMPTZ NOT NULL,
    finished_at   TIMESTAMPTZ NOT NULL,
    result        JSONB NOT NULL
)`

// NewExperimentRepo connects to Postgres and ensures the runs table exists
func NewExperimentRepo(dsn string) (*ExperimentRepo, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect experiment db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	if _, err := db.Exec(experimentSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure backtest_runs table: %w", err)
	}
	return &ExperimentRepo{db: db}, nil
}

// Close releases the database connection
func (r *ExperimentRepo) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Save inserts one run record. No-op on a nil repo.
func (r *ExperimentRepo) Save(ctx context.Context, result *Result) error {
	if r == nil || r.db == nil {
		return nil
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", result.RunID, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO backtest_runs (
		    run_id, league, season, risk_mode, stage, bets,
		    roi, sharpe, max_drawdown, recovery_rate, ece, brier, mce,
		    started_at, finished_at, result
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		result.RunID, result.Config.League, result.Config.Season, result.Config.RiskMode,
		result.Stage, len(result.Bets),
		result.ROI, result.Sharpe, result.MaxDrawdown, result.RecoveryRate,
		result.Calibration.ECE, result.Calibration.Brier, result.Calibration.MCE,
		result.StartedAt, result.FinishedAt, payload)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", result.RunID, err)
	}
	log.Info().Str("run_id", result.RunID).Msg("Backtest run persisted")
	return nil
}

// RunRow is the flat experiment record returned by listings
type RunRow struct {
	RunID       string    `db:"run_id" json:"run_id"`
	League      string    `db:"league" json:"league"`
	Season      int       `db:"season" json:"season"`
	RiskMode    string    `db:"risk_mode" json:"risk_mode"`
	Stage       string    `db:"stage" json:"stage"`
	Bets        int       `db:"bets" json:"bets"`
	ROI         float64   `db:"roi" json:"roi"`
	Sharpe      float64   `db:"sharpe" json:"sharpe"`
	MaxDrawdown float64   `db:"max_drawdown" json:"max_drawdown"`
	FinishedAt  time.Time `db:"finished_at" json:"finished_at"`
}

// List returns the most recent runs, newest first
func (r *ExperimentRepo) List(ctx context.Context, limit int) ([]RunRow, error) {
	if r == nil || r.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	var rows []RunRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT run_id, league, season, risk_mode, stage, bets,
		       roi, sharpe, max_drawdown, finished_at
		FROM backtest_runs ORDER BY finished_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return rows, nil
}

// Get loads the full stored result for one run
func (r *ExperimentRepo) Get(ctx context.Context, runID string) (*Result, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("no experiment database configured")
	}
	var payload []byte
	if err := r.db.GetContext(ctx, &payload, `SELECT result FROM backtest_runs WHERE run_id = $1`, runID); err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	var result Result
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return &result, nil
}
