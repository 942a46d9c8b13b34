package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropRecordValidate(t *testing.T) {
	valid := PropRecord{
		PropID:   "p1",
		PlayerID: "pl1",
		StatType: "receptions",
		Line:     5.5,
		Odds:     -110,
		GameID:   "g1",
		GameTime: time.Date(2025, 11, 23, 18, 0, 0, 0, time.UTC),
		League:   LeagueNFL,
	}
	require.NoError(t, valid.Validate())

	t.Run("missing prop id", func(t *testing.T) {
		p := valid
		p.PropID = ""
		assert.Error(t, p.Validate())
	})

	t.Run("name alone is enough identity", func(t *testing.T) {
		p := valid
		p.PlayerID = ""
		p.PlayerName = "Sam Receiver"
		assert.NoError(t, p.Validate())
	})

	t.Run("bad league", func(t *testing.T) {
		p := valid
		p.League = "xfl"
		assert.Error(t, p.Validate())
	})
}

func TestOddsConversions(t *testing.T) {
	assert.InDelta(t, 1.909, AmericanToDecimal(-110), 0.001)
	assert.InDelta(t, 2.5, AmericanToDecimal(150), 0.001)
	assert.InDelta(t, 0.5238, ImpliedProbability(-110), 0.001)
	assert.InDelta(t, 0.4, ImpliedProbability(150), 0.001)
}

func TestRiskPresetBoundaries(t *testing.T) {
	conservative, err := PresetFor(RiskConservative)
	require.NoError(t, err)

	// the minimum probability threshold is inclusive
	assert.True(t, conservative.Accepts(0.65))
	assert.False(t, conservative.Accepts(0.649999))
	assert.True(t, conservative.Accepts(0.9))

	balanced, err := PresetFor(RiskBalanced)
	require.NoError(t, err)
	assert.True(t, balanced.Accepts(0.60))
	assert.False(t, balanced.Accepts(0.599))

	aggressive, err := PresetFor(RiskAggressive)
	require.NoError(t, err)
	assert.Equal(t, 0.5, aggressive.KellyFraction)
	assert.Equal(t, 0.15, aggressive.MaxBetFraction)
	assert.True(t, aggressive.Accepts(0.55))

	_, err = PresetFor(RiskMode("yolo"))
	assert.Error(t, err)
}

func TestSnapshotIDFormat(t *testing.T) {
	assert.Equal(t, "nfl-2025-week12", SnapshotID(LeagueNFL, 2025, 12))
	assert.Equal(t, "nba-2024-week3", SnapshotID(LeagueNBA, 2024, 3))
}

func TestFeatureTable(t *testing.T) {
	tab := NewFeatureTable([]string{"p1", "p2", "p3"})
	require.Equal(t, 3, tab.NumRows())

	require.NoError(t, tab.AddNumeric("line", []float64{5.5, 22.5, math.NaN()}))
	require.NoError(t, tab.AddCategorical("position", []string{"WR", "QB", "TE"}))
	require.NoError(t, tab.AddBool("is_home", []bool{true, false, true}))

	t.Run("rejects length mismatch", func(t *testing.T) {
		assert.Error(t, tab.AddNumeric("bad", []float64{1}))
	})

	t.Run("rejects duplicate column", func(t *testing.T) {
		assert.Error(t, tab.AddNumeric("line", []float64{1, 2, 3}))
	})

	t.Run("row lookup by prop id", func(t *testing.T) {
		idx, exists := tab.RowIndex("p2")
		require.True(t, exists)
		assert.Equal(t, 1, idx)
		_, exists = tab.RowIndex("missing")
		assert.False(t, exists)
	})

	t.Run("statistics skip nulls", func(t *testing.T) {
		stats := tab.Statistics()
		line := stats["line"]
		assert.Equal(t, 1, line.NullCount)
		require.NotNil(t, line.Mean)
		assert.InDelta(t, 14.0, *line.Mean, 1e-9)
	})

	t.Run("feature vector holds numerics only", func(t *testing.T) {
		vec, exists := tab.FeatureVector("p1")
		require.True(t, exists)
		assert.InDelta(t, 5.5, vec["line"], 1e-9)
		_, hasCat := vec["position"]
		assert.False(t, hasCat)
	})

	t.Run("system columns stamped on every row", func(t *testing.T) {
		now := time.Date(2025, 11, 20, 12, 0, 0, 0, time.UTC)
		require.NoError(t, tab.SetSystemColumns("v2.3", now, 12, 2025, LeagueNFL))
		col, exists := tab.Column(ColFeatureVersion)
		require.True(t, exists)
		for i := 0; i < tab.NumRows(); i++ {
			assert.Equal(t, "v2.3", col.Str[i])
		}
		week, exists := tab.Column(ColWeek)
		require.True(t, exists)
		assert.Equal(t, 12.0, week.Float[0])
	})
}
