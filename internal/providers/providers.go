// Package providers defines the external data-source capabilities the feature
// pipeline consumes, plus HTTP and deterministic fake implementations. The
// concrete implementation for each capability is selected once at startup from
// configuration.
package providers

import (
	"context"
	"time"

	"github.com/propedge/propedge/internal/domain"
)

// PlayerStats carries season and situational averages plus demographics for
// one player and one stat type.
type PlayerStats struct {
	PlayerID        string    `json:"player_id"`
	PlayerName      string    `json:"player_name"`
	Team            string    `json:"team"`
	Position        string    `json:"position"`
	Age             float64   `json:"age"`
	ExperienceYears float64   `json:"experience_years"`
	GamesPlayed     float64   `json:"games_played"`
	SeasonAvg       float64   `json:"season_avg"`
	SeasonStd       float64   `json:"season_std"`
	SeasonHigh      float64   `json:"season_high"`
	SeasonLow       float64   `json:"season_low"`
	HomeAvg         float64   `json:"home_avg"`
	AwayAvg         float64   `json:"away_avg"`
	UsageRate       float64   `json:"usage_rate"`
	SnapShare       float64   `json:"snap_share"`
	TargetShare     float64   `json:"target_share"`
	OpponentRank    float64   `json:"opponent_rank"`     // opponent defensive rank vs this stat
	OpponentAllowed float64   `json:"opponent_allowed"`  // avg of this stat allowed by opponent
	OpponentPace    float64   `json:"opponent_pace"`
	RestDays        float64   `json:"rest_days"`
	StatsAsOf       time.Time `json:"stats_as_of"` // latest game consumed by the aggregates
}

// StatLine is one historical game value for a player/stat pair
type StatLine struct {
	GameID   string    `json:"game_id"`
	GameTime time.Time `json:"game_time"`
	Value    float64   `json:"value"`
}

// InjuryReport is the current injury designation for a player
type InjuryReport struct {
	PlayerID  string    `json:"player_id"`
	Status    string    `json:"status"` // healthy|questionable|doubtful|out
	Detail    string    `json:"detail,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Weather is the forecast for a game's venue
type Weather struct {
	GameID      string  `json:"game_id"`
	TempF       float64 `json:"temp_f"`
	WindMPH     float64 `json:"wind_mph"`
	PrecipProb  float64 `json:"precip_prob"`
	HumidityPct float64 `json:"humidity_pct"`
	VenueType   string  `json:"venue_type"` // outdoor|dome|retractable
}

// Market is the current betting market state for a prop
type Market struct {
	PropID      string    `json:"prop_id"`
	CurrentLine float64   `json:"current_line"`
	OpeningLine float64   `json:"opening_line"`
	Consensus   float64   `json:"consensus"`
	BookCount   int       `json:"book_count"`
	OverOdds    int       `json:"over_odds"`
	UnderOdds   int       `json:"under_odds"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PlayerStatsProvider serves season/rolling averages and demographics
type PlayerStatsProvider interface {
	PlayerStats(ctx context.Context, playerID, statType string, league domain.League) (*PlayerStats, error)
	RecentStatLines(ctx context.Context, playerID, statType string, n int) ([]StatLine, error)
}

// InjuryProvider serves current injury designations
type InjuryProvider interface {
	InjuryStatus(ctx context.Context, playerID string) (*InjuryReport, error)
}

// WeatherProvider serves game-day forecasts
type WeatherProvider interface {
	GameWeather(ctx context.Context, gameID string) (*Weather, error)
}

// OddsProvider serves market/odds state per prop
type OddsProvider interface {
	Market(ctx context.Context, propID string) (*Market, error)
}

// Set bundles the four capabilities the pipeline consumes
type Set struct {
	PlayerStats PlayerStatsProvider
	Injuries    InjuryProvider
	Weather     WeatherProvider
	Odds        OddsProvider
}
