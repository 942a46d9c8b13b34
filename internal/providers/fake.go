package providers

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/propedge/propedge/internal/domain"
)

// FakeSet returns deterministic offline providers for all four capabilities.
// Values derive from hashes of the identifiers, so repeated runs and tests see
// stable data without network access.
func FakeSet(now time.Time) Set {
	return Set{
		PlayerStats: &FakePlayerStats{Now: now},
		Injuries:    &FakeInjuries{Now: now},
		Weather:     &FakeWeather{},
		Odds:        &FakeOdds{Now: now},
	}
}

func hashOf(parts ...string) uint64 {
	h := fnv.New64a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// spread maps a hash into [lo, hi)
func spread(h uint64, lo, hi float64) float64 {
	return lo + float64(h%10000)/10000.0*(hi-lo)
}

// FakePlayerStats serves hash-derived player aggregates
type FakePlayerStats struct {
	Now time.Time
}

func (f *FakePlayerStats) PlayerStats(_ context.Context, playerID, statType string, _ domain.League) (*PlayerStats, error) {
	h := hashOf(playerID, statType)
	base := spread(h, 4, 26)
	positions := []string{"QB", "RB", "WR", "TE"}
	return &PlayerStats{
		PlayerID:        playerID,
		PlayerName:      "Player " + playerID,
		Position:        positions[h%uint64(len(positions))],
		Age:             spread(h>>3, 22, 34),
		ExperienceYears: spread(h>>5, 0, 12),
		GamesPlayed:     spread(h>>7, 4, 17),
		SeasonAvg:       base,
		SeasonStd:       spread(h>>9, 0.5, base/2),
		SeasonHigh:      base * 1.6,
		SeasonLow:       base * 0.4,
		HomeAvg:         base * spread(h>>11, 0.9, 1.1),
		AwayAvg:         base * spread(h>>13, 0.85, 1.05),
		UsageRate:       spread(h>>15, 0.05, 0.35),
		SnapShare:       spread(h>>17, 0.3, 1.0),
		TargetShare:     spread(h>>19, 0.05, 0.3),
		OpponentRank:    float64(1 + h>>21%32),
		OpponentAllowed: base * spread(h>>23, 0.8, 1.2),
		OpponentPace:    spread(h>>25, 60, 75),
		RestDays:        float64(4 + h>>27%7),
		StatsAsOf:       f.Now.Add(-36 * time.Hour),
	}, nil
}

func (f *FakePlayerStats) RecentStatLines(_ context.Context, playerID, statType string, n int) ([]StatLine, error) {
	h := hashOf(playerID, statType)
	base := spread(h, 4, 26)
	lines := make([]StatLine, n)
	for i := 0; i < n; i++ {
		gh := hashOf(playerID, statType, fmt.Sprint(i))
		lines[i] = StatLine{
			GameID:   fmt.Sprintf("g-%s-%d", playerID, i),
			GameTime: f.Now.Add(-time.Duration(i+1) * 7 * 24 * time.Hour),
			Value:    base * spread(gh, 0.5, 1.5),
		}
	}
	return lines, nil
}

// FakeInjuries serves hash-derived injury designations
type FakeInjuries struct {
	Now time.Time
}

func (f *FakeInjuries) InjuryStatus(_ context.Context, playerID string) (*InjuryReport, error) {
	statuses := []string{"healthy", "healthy", "healthy", "questionable", "doubtful", "out"}
	h := hashOf("injury", playerID)
	return &InjuryReport{
		PlayerID:  playerID,
		Status:    statuses[h%uint64(len(statuses))],
		UpdatedAt: f.Now.Add(-6 * time.Hour),
	}, nil
}

// FakeWeather serves hash-derived forecasts; a third of venues are domes
type FakeWeather struct{}

func (f *FakeWeather) GameWeather(_ context.Context, gameID string) (*Weather, error) {
	h := hashOf("weather", gameID)
	w := &Weather{
		GameID:      gameID,
		TempF:       spread(h, 25, 90),
		WindMPH:     spread(h>>4, 0, 25),
		PrecipProb:  spread(h>>8, 0, 0.8),
		HumidityPct: spread(h>>12, 20, 95),
		VenueType:   "outdoor",
	}
	if h%3 == 0 {
		w.VenueType = "dome"
		w.TempF = 70
		w.WindMPH = 0
		w.PrecipProb = 0
		w.HumidityPct = 50
	}
	return w, nil
}

// FakeOdds serves hash-derived market state
type FakeOdds struct {
	Now time.Time
}

func (f *FakeOdds) Market(_ context.Context, propID string) (*Market, error) {
	h := hashOf("market", propID)
	line := spread(h, 3, 30)
	return &Market{
		PropID:      propID,
		CurrentLine: line,
		OpeningLine: line + spread(h>>4, -1.5, 1.5),
		Consensus:   line + spread(h>>8, -1, 1),
		BookCount:   int(3 + h>>12%9),
		OverOdds:    -120 + int(h>>16%40),
		UnderOdds:   -120 + int(h>>20%40),
		UpdatedAt:   f.Now.Add(-30 * time.Minute),
	}, nil
}
