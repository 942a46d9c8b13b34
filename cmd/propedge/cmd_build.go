package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/propedge/propedge/internal/domain"
	"github.com/propedge/propedge/internal/leakage"
	"github.com/propedge/propedge/internal/metrics"
	"github.com/propedge/propedge/internal/pipeline"
)

// buildCmd builds a feature snapshot from a prop batch
var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build features for a batch of props",
	Long: `Build a feature table for a batch of prop records, run the leakage
gates over the result, and optionally persist it as an immutable snapshot.

Examples:
  propedge build --input props.json --week 12 --season 2025 --league nfl --save
  propedge build --input props.json --week 3 --season 2025 --league nba --strict=false`,
	RunE: runBuild,
}

var (
	buildInput  string
	buildWeek   int
	buildSeason int
	buildLeague string
	buildSave   bool
	buildStrict bool
)

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().StringVar(&buildInput, "input", "", "Path to JSON file holding an array of prop records (required)")
	buildCmd.Flags().IntVar(&buildWeek, "week", 0, "Week number (required)")
	buildCmd.Flags().IntVar(&buildSeason, "season", time.Now().Year(), "Season year")
	buildCmd.Flags().StringVar(&buildLeague, "league", "nfl", "League: nfl, nba, mlb, nhl")
	buildCmd.Flags().BoolVar(&buildSave, "save", false, "Persist the table as a snapshot")
	buildCmd.Flags().BoolVar(&buildStrict, "strict", true, "Fail on fatal leakage findings")
	_ = buildCmd.MarkFlagRequired("input")
	_ = buildCmd.MarkFlagRequired("week")
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(buildInput)
	if err != nil {
		return fmt.Errorf("read props: %w", err)
	}
	var props []domain.PropRecord
	if err := json.Unmarshal(raw, &props); err != nil {
		return fmt.Errorf("decode props: %w", err)
	}

	league := domain.League(buildLeague)
	if !league.Valid() {
		return fmt.Errorf("unsupported league %q", buildLeague)
	}

	reg := metrics.NewRegistry()
	pipeCfg := pipeline.DefaultConfig()
	if cfg.Pipeline.MaxConcurrentFetches > 0 {
		pipeCfg.MaxConcurrentFetches = cfg.Pipeline.MaxConcurrentFetches
	}
	if cfg.Pipeline.RecentLinesCount > 0 {
		pipeCfg.RecentLinesCount = cfg.Pipeline.RecentLinesCount
	}

	builder := pipeline.NewBuilder(pipeCfg, newProviders(cfg), newSourceCache(cfg), reg)
	defer builder.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	table, report, err := builder.BuildFeatures(ctx, props, buildWeek, league, buildSeason)
	if err != nil {
		return fmt.Errorf("feature build failed: %w", err)
	}

	for _, d := range report.Degradations {
		log.Warn().Str("source", d.Source).Str("key", d.Key).Str("reason", d.Reason).Msg("Source degraded")
	}
	for _, dp := range report.Dropped {
		log.Warn().Str("prop_id", dp.PropID).Str("reason", dp.Reason).Msg("Prop dropped")
	}

	// leakage gates run over the finished table only
	detector := leakage.NewDetector(buildStrict)
	if err := detector.CheckTemporalLeakage(table, buildWeek); err != nil {
		return err
	}
	if err := detector.CheckTargetLeakage(table, ""); err != nil {
		return err
	}
	if err := detector.ValidateFeatureTimestamps(table); err != nil {
		return err
	}
	for _, f := range detector.Report() {
		log.Warn().
			Str("severity", string(f.Severity)).
			Str("rule", f.Rule).
			Str("column", f.Column).
			Msg(f.Detail)
	}

	fmt.Printf("Built %d rows x %d columns for %s week %d\n", table.NumRows(), table.NumCols(), league, buildWeek)

	if buildSave {
		st, err := newStore(cfg, reg)
		if err != nil {
			return err
		}
		defer st.Close()
		snapshotID := domain.SnapshotID(league, buildSeason, buildWeek)
		summary, err := st.SaveFeatures(ctx, snapshotID, table, domain.SnapshotMetadata{
			Week:   buildWeek,
			Season: buildSeason,
			League: league,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Saved snapshot %s (%d bytes) to %s\n", summary.SnapshotID, summary.Bytes, summary.Path)
	}
	return nil
}
