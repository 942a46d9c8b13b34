package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/propedge/propedge/internal/backtest"
	"github.com/propedge/propedge/internal/domain"
	"github.com/propedge/propedge/internal/metrics"
)

// backtestCmd replays stored snapshots against settled outcomes
var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run a backtest over stored feature snapshots",
	Long: `Simulate betting decisions over historical weeks using saved feature
snapshots, a predictor, and settled outcomes, with Kelly bet sizing.

Examples:
  propedge backtest --league nfl --season 2025 --weeks 1,2,3,4 --risk conservative
  propedge backtest --league nba --season 2025 --weeks 10 --outcomes outcomes.json`,
	RunE: runBacktest,
}

var (
	btLeague   string
	btSeason   int
	btWeeks    []int
	btRisk     string
	btBankroll float64
	btOutcomes string
)

func init() {
	rootCmd.AddCommand(backtestCmd)

	backtestCmd.Flags().StringVar(&btLeague, "league", "nfl", "League: nfl, nba, mlb, nhl")
	backtestCmd.Flags().IntVar(&btSeason, "season", time.Now().Year(), "Season year")
	backtestCmd.Flags().IntSliceVar(&btWeeks, "weeks", nil, "Weeks to simulate (required)")
	backtestCmd.Flags().StringVar(&btRisk, "risk", "", "Risk mode: conservative, balanced, aggressive")
	backtestCmd.Flags().Float64Var(&btBankroll, "bankroll", 0, "Starting bankroll")
	backtestCmd.Flags().StringVar(&btOutcomes, "outcomes", "", "Path to settled outcomes JSON (default: synthetic)")
	_ = backtestCmd.MarkFlagRequired("weeks")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	league := domain.League(btLeague)
	if !league.Valid() {
		return fmt.Errorf("unsupported league %q", btLeague)
	}

	runCfg := backtest.DefaultConfig()
	runCfg.League = league
	runCfg.Season = btSeason
	runCfg.Weeks = btWeeks
	runCfg.RiskMode = cfg.Backtest.RiskMode
	if btRisk != "" {
		runCfg.RiskMode = domain.RiskMode(btRisk)
	}
	if _, err := domain.PresetFor(runCfg.RiskMode); err != nil {
		return err
	}
	runCfg.StartingBankroll = cfg.Backtest.StartingBankroll
	if btBankroll > 0 {
		runCfg.StartingBankroll = btBankroll
	}
	runCfg.CalibrationWindow = cfg.Backtest.CalibrationWindow
	runCfg.OutputDir = cfg.Backtest.OutputDir

	reg := metrics.NewRegistry()
	st, err := newStore(cfg, reg)
	if err != nil {
		return err
	}
	defer st.Close()

	var outcomes backtest.OutcomeSource
	outcomesPath := cfg.Backtest.OutcomesFile
	if btOutcomes != "" {
		outcomesPath = btOutcomes
	}
	if outcomesPath != "" {
		outcomes = backtest.NewFileOutcomes(outcomesPath)
	} else {
		log.Warn().Msg("No outcomes file configured, using synthetic outcomes")
		outcomes = backtest.NewSyntheticOutcomes(st)
	}

	var repo *backtest.ExperimentRepo
	if cfg.Database.DSN != "" {
		repo, err = backtest.NewExperimentRepo(cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer repo.Close()
	}

	runner := backtest.NewRunner(runCfg, st, backtest.ImpliedPredictor{}, outcomes, repo, reg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	result, err := runner.Run(ctx)
	if err != nil {
		var stageErr *backtest.StageError
		if errors.As(err, &stageErr) {
			fmt.Printf("Backtest failed at stage %s: %v\n", stageErr.Stage, stageErr.Err)
			if result != nil && len(result.Bets) > 0 {
				fmt.Printf("Partial results: %d bets placed before failure\n", len(result.Bets))
			}
		}
		return err
	}

	fmt.Printf("Backtest %s complete\n", result.RunID)
	fmt.Printf("  Bets:         %d (%d skipped)\n", len(result.Bets), result.Skipped)
	fmt.Printf("  ROI:          %.2f%%\n", result.ROI*100)
	fmt.Printf("  Sharpe:       %.3f\n", result.Sharpe)
	fmt.Printf("  Max drawdown: %.2f%%\n", result.MaxDrawdown*100)
	fmt.Printf("  ECE/Brier:    %.4f / %.4f\n", result.Calibration.ECE, result.Calibration.Brier)
	if trend := runner.Monitor().Trend(); trend != "" {
		fmt.Printf("  Calibration:  %s\n", trend)
	}
	return nil
}
