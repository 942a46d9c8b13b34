package domain

import (
	"fmt"
	"time"
)

// League identifies the sport a prop belongs to
type League string

const (
	LeagueNFL League = "nfl"
	LeagueNBA League = "nba"
	LeagueMLB League = "mlb"
	LeagueNHL League = "nhl"
)

// Valid reports whether the league tag is one of the supported leagues
func (l League) Valid() bool {
	switch l {
	case LeagueNFL, LeagueNBA, LeagueMLB, LeagueNHL:
		return true
	}
	return false
}

// PropRecord represents one betting market for one player/stat/line at one game.
// Records are produced by the ingestion layer and are immutable once ingested.
type PropRecord struct {
	PropID     string    `json:"prop_id"`
	PlayerID   string    `json:"player_id"`
	PlayerName string    `json:"player_name"`
	Team       string    `json:"team"`
	Opponent   string    `json:"opponent"`
	StatType   string    `json:"stat_type"`
	Line       float64   `json:"line"`
	Odds       int       `json:"odds"` // American format, signed
	GameID     string    `json:"game_id"`
	GameTime   time.Time `json:"game_time"`
	Home       bool      `json:"home"`
	League     League    `json:"league"`
}

// Validate checks the required fields of a prop record
func (p *PropRecord) Validate() error {
	if p.PropID == "" {
		return fmt.Errorf("prop record missing prop_id")
	}
	if p.PlayerID == "" && p.PlayerName == "" {
		return fmt.Errorf("prop %s: no player identity", p.PropID)
	}
	if p.StatType == "" {
		return fmt.Errorf("prop %s: missing stat_type", p.PropID)
	}
	if p.GameTime.IsZero() {
		return fmt.Errorf("prop %s: missing game_time", p.PropID)
	}
	if !p.League.Valid() {
		return fmt.Errorf("prop %s: unsupported league %q", p.PropID, p.League)
	}
	return nil
}

// PropOutcome is the settled result of a prop market, used by the backtest engine
type PropOutcome struct {
	PropID      string    `json:"prop_id"`
	PlayerID    string    `json:"player_id"`
	StatType    string    `json:"stat_type"`
	Line        float64   `json:"line"`
	Odds        int       `json:"odds"`
	GameTime    time.Time `json:"game_time"`
	ActualValue float64   `json:"actual_value"`
	OverHit     bool      `json:"over_hit"`
	Week        int       `json:"week"`
	Season      int       `json:"season"`
	League      League    `json:"league"`
}

// AmericanToDecimal converts signed American odds to decimal odds
func AmericanToDecimal(odds int) float64 {
	if odds >= 0 {
		return 1.0 + float64(odds)/100.0
	}
	return 1.0 + 100.0/float64(-odds)
}

// ImpliedProbability returns the no-vig implied win probability for one side
func ImpliedProbability(odds int) float64 {
	if odds >= 0 {
		return 100.0 / (float64(odds) + 100.0)
	}
	return float64(-odds) / (float64(-odds) + 100.0)
}
