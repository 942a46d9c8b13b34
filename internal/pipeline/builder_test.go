package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propedge/propedge/internal/domain"
	"github.com/propedge/propedge/internal/metrics"
	"github.com/propedge/propedge/internal/providers"
	"github.com/propedge/propedge/internal/transform"
)

var buildNow = time.Date(2025, 11, 18, 12, 0, 0, 0, time.UTC)

type failWeather struct{}

func (failWeather) GameWeather(context.Context, string) (*providers.Weather, error) {
	return nil, errors.New("forecast timeout")
}

type failInjuries struct{}

func (failInjuries) InjuryStatus(context.Context, string) (*providers.InjuryReport, error) {
	return nil, errors.New("injury feed unavailable")
}

func newTestBuilder(t *testing.T, set providers.Set) *Builder {
	t.Helper()
	b := NewBuilder(DefaultConfig(), set, nil, metrics.NewRegistry())
	b.SetNow(func() time.Time { return buildNow })
	t.Cleanup(b.Close)
	return b
}

func nflProp(propID, playerID, gameID string) domain.PropRecord {
	return domain.PropRecord{
		PropID:   propID,
		PlayerID: playerID,
		Team:     "KC",
		Opponent: "BUF",
		StatType: "receiving_yards",
		Line:     62.5,
		Odds:     -110,
		GameID:   gameID,
		GameTime: buildNow.Add(5 * 24 * time.Hour),
		Home:     true,
		League:   domain.LeagueNFL,
	}
}

func TestBuildFeaturesRowPerProp(t *testing.T) {
	b := newTestBuilder(t, providers.FakeSet(buildNow))
	props := []domain.PropRecord{
		nflProp("prop-1", "pl-1", "g-1"),
		nflProp("prop-2", "pl-2", "g-1"),
		nflProp("prop-3", "pl-3", "g-2"),
	}

	table, report, err := b.BuildFeatures(context.Background(), props, 12, domain.LeagueNFL, 2025)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Empty(t, report.Dropped)

	assert.Equal(t, 3, table.NumRows())
	assert.Equal(t, []string{"prop-1", "prop-2", "prop-3"}, table.RowIDs())

	for _, name := range domain.SystemColumns {
		assert.True(t, table.HasColumn(name), "missing system column %s", name)
	}
	week, _ := table.Column(domain.ColWeek)
	assert.Equal(t, 12.0, week.Float[0])
	version, _ := table.Column(domain.ColFeatureVersion)
	assert.Equal(t, FeatureVersion, version.Str[0])

	// raw, encoded, and derived blocks are all present
	assert.True(t, table.HasColumn("season_avg"))
	assert.True(t, table.HasColumn("line_vs_season_avg"))
	assert.True(t, table.HasColumn("injury_status"+transform.EncodedSuffix))
	assert.True(t, table.HasColumn("usage_rate_x_opponent_pace"))

	require.NotNil(t, b.Fitted())
}

func TestBuildFeaturesWeatherDegradesToNeutral(t *testing.T) {
	set := providers.FakeSet(buildNow)
	set.Weather = failWeather{}
	b := newTestBuilder(t, set)
	props := []domain.PropRecord{
		nflProp("prop-1", "pl-1", "g-1"),
		nflProp("prop-2", "pl-2", "g-1"),
	}

	table, report, err := b.BuildFeatures(context.Background(), props, 12, domain.LeagueNFL, 2025)
	require.NoError(t, err, "a degraded source never fails the batch")

	assert.Equal(t, 2, table.NumRows())
	require.True(t, report.Degraded())
	require.Len(t, report.Degradations, 1, "one shared game, one degradation")
	assert.Equal(t, "weather", report.Degradations[0].Source)
	assert.Equal(t, "g-1", report.Degradations[0].Key)
	assert.Contains(t, report.Degradations[0].Reason, "forecast timeout")

	// context features take the neutral defaults through smart imputation
	temp, _ := table.Column("temperature_f")
	wind, _ := table.Column("wind_mph")
	humidity, _ := table.Column("humidity_pct")
	for i := 0; i < table.NumRows(); i++ {
		assert.Equal(t, 70.0, temp.Float[i])
		assert.Equal(t, 0.0, wind.Float[i])
		assert.Equal(t, 50.0, humidity.Float[i])
	}
	venue, _ := table.Column("venue_type")
	assert.Equal(t, "outdoor", venue.Str[0])
}

func TestBuildFeaturesInjuryDegradesToQuestionable(t *testing.T) {
	set := providers.FakeSet(buildNow)
	set.Injuries = failInjuries{}
	b := newTestBuilder(t, set)

	table, report, err := b.BuildFeatures(context.Background(),
		[]domain.PropRecord{nflProp("prop-1", "pl-1", "g-1")}, 12, domain.LeagueNFL, 2025)
	require.NoError(t, err)
	require.True(t, report.Degraded())
	assert.Equal(t, "injuries", report.Degradations[0].Source)

	status, _ := table.Column("injury_status")
	assert.Equal(t, "questionable", status.Str[0])
	risk, _ := table.Column("injury_risk")
	assert.Equal(t, 0.4, risk.Float[0])
}

func TestBuildFeaturesDropsAndDedupes(t *testing.T) {
	b := newTestBuilder(t, providers.FakeSet(buildNow))

	nameOnly := nflProp("prop-2", "", "g-1")
	nameOnly.PlayerName = "Joe Smith"
	noIdentity := nflProp("prop-3", "", "g-1")

	props := []domain.PropRecord{
		nflProp("prop-1", "pl-1", "g-1"),
		nflProp("prop-1", "pl-1", "g-1"), // duplicate identifier
		nameOnly,
		noIdentity,
	}

	table, report, err := b.BuildFeatures(context.Background(), props, 12, domain.LeagueNFL, 2025)
	require.NoError(t, err)

	assert.Equal(t, 2, table.NumRows())
	require.Len(t, report.Dropped, 2)
	assert.Equal(t, "prop-1", report.Dropped[0].PropID)
	assert.Equal(t, "duplicate prop identifier", report.Dropped[0].Reason)
	assert.Equal(t, "prop-3", report.Dropped[1].PropID)
	assert.Equal(t, "unresolvable player identity", report.Dropped[1].Reason)

	// a name-only prop resolves to a deterministic slug identity
	idx, exists := table.RowIndex("prop-2")
	require.True(t, exists)
	pid, _ := table.Column(domain.ColPlayerID)
	assert.Equal(t, "name:joe-smith", pid.Str[idx])
}

func TestBuildFeaturesAllDroppedFails(t *testing.T) {
	b := newTestBuilder(t, providers.FakeSet(buildNow))
	_, report, err := b.BuildFeatures(context.Background(),
		[]domain.PropRecord{nflProp("prop-1", "", "g-1")}, 12, domain.LeagueNFL, 2025)
	require.Error(t, err)
	require.NotNil(t, report)
	assert.Len(t, report.Dropped, 1)
}

func TestBuildFeaturesTableCache(t *testing.T) {
	b := newTestBuilder(t, providers.FakeSet(buildNow))
	props := []domain.PropRecord{nflProp("prop-1", "pl-1", "g-1")}

	first, _, err := b.BuildFeatures(context.Background(), props, 12, domain.LeagueNFL, 2025)
	require.NoError(t, err)
	second, _, err := b.BuildFeatures(context.Background(), props, 12, domain.LeagueNFL, 2025)
	require.NoError(t, err)
	assert.Same(t, first, second)

	// a different prop set misses the cache
	other, _, err := b.BuildFeatures(context.Background(),
		[]domain.PropRecord{nflProp("prop-9", "pl-9", "g-1")}, 12, domain.LeagueNFL, 2025)
	require.NoError(t, err)
	assert.NotSame(t, first, other)
}

func TestBuildFeaturesRejectsBadBatch(t *testing.T) {
	b := newTestBuilder(t, providers.FakeSet(buildNow))

	_, _, err := b.BuildFeatures(context.Background(), nil, 12, domain.LeagueNFL, 2025)
	require.Error(t, err)
	var perr *Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "build", perr.Op)

	_, _, err = b.BuildFeatures(context.Background(),
		[]domain.PropRecord{nflProp("prop-1", "pl-1", "g-1")}, 12, domain.League("xfl"), 2025)
	assert.Error(t, err)
}

func TestIndoorLeagueSkipsWeather(t *testing.T) {
	set := providers.FakeSet(buildNow)
	set.Weather = failWeather{} // must never be consulted
	b := newTestBuilder(t, set)

	prop := nflProp("prop-1", "pl-1", "g-1")
	prop.League = domain.LeagueNBA
	prop.StatType = "points"

	table, report, err := b.BuildFeatures(context.Background(),
		[]domain.PropRecord{prop}, 12, domain.LeagueNBA, 2025)
	require.NoError(t, err)
	assert.False(t, report.Degraded())

	venue, _ := table.Column("venue_type")
	assert.Equal(t, "indoor", venue.Str[0])
	temp, _ := table.Column("temperature_f")
	assert.Equal(t, 70.0, temp.Float[0])
	dome, _ := table.Column("is_dome")
	assert.Equal(t, 1.0, dome.Float[0])
}

func TestPriorLinesExcludeGameAndLater(t *testing.T) {
	gameTime := buildNow.Add(48 * time.Hour)
	lines := []providers.StatLine{
		{GameID: "g1", GameTime: gameTime.Add(-14 * 24 * time.Hour), Value: 10},
		{GameID: "g2", GameTime: gameTime, Value: 99},
		{GameID: "g3", GameTime: gameTime.Add(-7 * 24 * time.Hour), Value: 20},
		{GameID: "g4", GameTime: gameTime.Add(24 * time.Hour), Value: 50},
	}
	prior := priorLines(lines, gameTime)
	require.Len(t, prior, 2)
	// newest first
	assert.Equal(t, "g3", prior[0].GameID)
	assert.Equal(t, "g1", prior[1].GameID)

	assert.Equal(t, 20.0, avgFirst(prior, 1))
	assert.Equal(t, 15.0, avgFirst(prior, 5))
	assert.Equal(t, 0.5, hitRate(prior, 15))
}
