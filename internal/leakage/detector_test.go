package leakage

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propedge/propedge/internal/domain"
)

var testNow = time.Date(2025, 11, 20, 12, 0, 0, 0, time.UTC)

func newTable(t *testing.T) *domain.FeatureTable {
	t.Helper()
	tab := domain.NewFeatureTable([]string{"p1", "p2"})
	gameTime := testNow.Add(72 * time.Hour)
	require.NoError(t, tab.AddTime(domain.ColGameTime, []time.Time{gameTime, gameTime}))
	require.NoError(t, tab.AddTime(domain.ColComputedAt, []time.Time{testNow, testNow}))
	return tab
}

func TestCheckTargetLeakageDeniedNames(t *testing.T) {
	tab := newTable(t)
	require.NoError(t, tab.AddNumeric("outcome_actual_value", []float64{1, 0}))

	t.Run("non-strict accumulates the finding", func(t *testing.T) {
		d := NewDetector(false)
		require.NoError(t, d.CheckTargetLeakage(tab, ""))
		findings := d.Report()
		require.Len(t, findings, 1)
		assert.Equal(t, SeverityFatal, findings[0].Severity)
		assert.Equal(t, "outcome_actual_value", findings[0].Column)
		assert.Equal(t, "target_denied_prefix", findings[0].Rule)
	})

	t.Run("strict fails fast with typed error", func(t *testing.T) {
		d := NewDetector(true)
		err := d.CheckTargetLeakage(tab, "")
		require.Error(t, err)
		var leakErr *Error
		require.True(t, errors.As(err, &leakErr))
		assert.Equal(t, "outcome_actual_value", leakErr.Finding.Column)
	})
}

func TestCheckTargetLeakageExactDeny(t *testing.T) {
	tab := newTable(t)
	require.NoError(t, tab.AddNumeric("over_hit", []float64{1, 0}))

	d := NewDetector(false)
	require.NoError(t, d.CheckTargetLeakage(tab, ""))
	require.Len(t, d.Report(), 1)
	assert.Equal(t, "target_denied_name", d.Report()[0].Rule)
}

func TestCheckTargetLeakageCorrelation(t *testing.T) {
	tab := domain.NewFeatureTable([]string{"p1", "p2", "p3", "p4"})
	require.NoError(t, tab.AddNumeric("target", []float64{1, 2, 3, 4}))
	// perfectly correlated with the target
	require.NoError(t, tab.AddNumeric("mirror", []float64{2, 4, 6, 8}))
	// weakly related
	require.NoError(t, tab.AddNumeric("noise", []float64{5, 1, 4, 2}))

	d := NewDetector(false)
	require.NoError(t, d.CheckTargetLeakage(tab, "target"))
	findings := d.Report()
	require.Len(t, findings, 1)
	assert.Equal(t, "mirror", findings[0].Column)
	assert.Equal(t, "target_correlation", findings[0].Rule)
}

func TestCheckTemporalLeakageFutureWeek(t *testing.T) {
	tab := newTable(t)
	require.NoError(t, tab.AddNumeric(domain.ColWeek, []float64{12, 14}))

	d := NewDetector(false)
	require.NoError(t, d.CheckTemporalLeakage(tab, 12))
	findings := d.Report()
	require.Len(t, findings, 1)
	assert.Equal(t, "temporal_future_week", findings[0].Rule)
	assert.Equal(t, "p2", findings[0].PropID)
}

func TestCheckTemporalLeakageRollingWindow(t *testing.T) {
	tab := newTable(t)
	gameTime := testNow.Add(72 * time.Hour)
	// p1's window closes before the game, p2's window reaches game time
	require.NoError(t, tab.AddTime("rolling_window_as_of", []time.Time{
		gameTime.Add(-7 * 24 * time.Hour),
		gameTime,
	}))

	d := NewDetector(false)
	require.NoError(t, d.CheckTemporalLeakage(tab, 12))
	findings := d.Report()
	require.Len(t, findings, 1)
	assert.Equal(t, "temporal_window_reaches_game", findings[0].Rule)
	assert.Equal(t, "p2", findings[0].PropID)
}

func TestValidateFeatureTimestampsComputedAfterGame(t *testing.T) {
	tab := domain.NewFeatureTable([]string{"p1", "p2"})
	gameTime := testNow.Add(-24 * time.Hour)
	require.NoError(t, tab.AddTime(domain.ColGameTime, []time.Time{gameTime, gameTime}))
	// p2 was computed after its game started
	require.NoError(t, tab.AddTime(domain.ColComputedAt, []time.Time{
		gameTime.Add(-time.Hour),
		gameTime.Add(time.Hour),
	}))

	d := NewDetector(false)
	d.SetNow(func() time.Time { return testNow })
	require.NoError(t, d.ValidateFeatureTimestamps(tab))
	findings := d.Report()
	require.Len(t, findings, 1)
	assert.Equal(t, SeverityFatal, findings[0].Severity)
	assert.Equal(t, "timestamp_computed_after_game", findings[0].Rule)
	assert.Equal(t, "p2", findings[0].PropID)
}

func TestValidateFeatureTimestampsZeroValue(t *testing.T) {
	tab := domain.NewFeatureTable([]string{"p1"})
	require.NoError(t, tab.AddTime("stats_as_of", []time.Time{{}}))

	d := NewDetector(false)
	d.SetNow(func() time.Time { return testNow })
	require.NoError(t, d.ValidateFeatureTimestamps(tab))
	require.Len(t, d.Report(), 1)
	assert.Equal(t, "timestamp_unparsable", d.Report()[0].Rule)
}

func TestValidateFeatureTimestampsFutureComputed(t *testing.T) {
	tab := domain.NewFeatureTable([]string{"p1"})
	gameTime := testNow.Add(96 * time.Hour)
	require.NoError(t, tab.AddTime(domain.ColGameTime, []time.Time{gameTime}))
	require.NoError(t, tab.AddTime(domain.ColComputedAt, []time.Time{testNow.Add(time.Hour)}))

	d := NewDetector(false)
	d.SetNow(func() time.Time { return testNow })
	require.NoError(t, d.ValidateFeatureTimestamps(tab))
	require.Len(t, d.Report(), 1)
	assert.Equal(t, "timestamp_future_computed", d.Report()[0].Rule)
}

func TestReportIsIdempotent(t *testing.T) {
	tab := newTable(t)
	require.NoError(t, tab.AddNumeric("won", []float64{1, 0}))

	d := NewDetector(false)
	require.NoError(t, d.CheckTargetLeakage(tab, ""))
	first := d.Report()
	second := d.Report()
	assert.Equal(t, first, second)

	// mutating one copy must not affect the other
	first[0].Rule = "mutated"
	assert.NotEqual(t, first[0].Rule, d.Report()[0].Rule)
}
