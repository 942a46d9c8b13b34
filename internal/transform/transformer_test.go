package transform

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propedge/propedge/internal/domain"
)

func buildTable(t *testing.T) *domain.FeatureTable {
	t.Helper()
	tab := domain.NewFeatureTable([]string{"p1", "p2", "p3", "p4"})
	require.NoError(t, tab.AddNumeric("season_avg", []float64{4.5, 6.0, 2.5, 8.0}))
	require.NoError(t, tab.AddNumeric("line", []float64{5.5, 6.5, 3.5, 7.5}))
	require.NoError(t, tab.AddCategorical("injury_status", []string{"healthy", "questionable", "healthy", "out"}))
	require.NoError(t, tab.AddCategorical("position", []string{"WR", "QB", "WR", "TE"}))
	return tab
}

func testConfig() Config {
	return Config{
		Impute:         ImputeSmart,
		OrdinalColumns: []string{"injury_status"},
		OneHotColumns:  []string{"position"},
	}
}

func TestFitTransformNormalization(t *testing.T) {
	tab := buildTable(t)
	fitted, err := New(testConfig()).FitTransform(tab)
	require.NoError(t, err)
	require.NotNil(t, fitted)

	// every normalized column has mean 0 and std 1 within tolerance
	for _, name := range []string{"season_avg" + NormalizedSuffix, "line" + NormalizedSuffix} {
		col, exists := tab.Column(name)
		require.True(t, exists, name)
		var sum, sumSq float64
		for _, v := range col.Float {
			sum += v
			sumSq += v * v
		}
		n := float64(len(col.Float))
		mean := sum / n
		std := math.Sqrt(sumSq/n - mean*mean)
		assert.InDelta(t, 0.0, mean, 1e-6, name)
		assert.InDelta(t, 1.0, std, 1e-6, name)
	}
}

func TestZeroVarianceColumnsAreNotNormalized(t *testing.T) {
	tab := domain.NewFeatureTable([]string{"p1", "p2"})
	require.NoError(t, tab.AddNumeric("flat", []float64{3, 3}))
	require.NoError(t, tab.AddNumeric("varies", []float64{1, 2}))

	fitted, err := New(Config{Impute: ImputeZero}).FitTransform(tab)
	require.NoError(t, err)

	assert.False(t, tab.HasColumn("flat"+NormalizedSuffix))
	assert.True(t, tab.HasColumn("varies"+NormalizedSuffix))
	_, tracked := fitted.NormStats()["flat"]
	assert.False(t, tracked)

	// the constant column is flagged by validation, not silently mangled
	result := ValidateFeatures(tab)
	assert.False(t, result.Passed)
	found := false
	for _, issue := range result.Issues {
		if strings.Contains(issue, `"flat"`) && strings.Contains(issue, "zero variance") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestOrdinalEncoding(t *testing.T) {
	tab := buildTable(t)
	fitted, err := New(testConfig()).FitTransform(tab)
	require.NoError(t, err)

	col, exists := tab.Column("injury_status" + EncodedSuffix)
	require.True(t, exists)
	// categories sorted: healthy=0, out=1, questionable=2
	assert.Equal(t, []float64{0, 2, 0, 1}, col.Float)

	mapping := fitted.Encodings()["injury_status"]
	assert.Equal(t, 0, mapping["healthy"])
	assert.Equal(t, 1, mapping["out"])
	assert.Equal(t, 2, mapping["questionable"])
}

func TestEncodingIdempotence(t *testing.T) {
	fitted, err := New(testConfig()).FitTransform(buildTable(t))
	require.NoError(t, err)

	fresh := func() *domain.FeatureTable {
		tab := domain.NewFeatureTable([]string{"q1", "q2"})
		require.NoError(t, tab.AddNumeric("season_avg", []float64{5.0, 3.0}))
		require.NoError(t, tab.AddNumeric("line", []float64{5.5, 4.5}))
		require.NoError(t, tab.AddCategorical("injury_status", []string{"questionable", "healthy"}))
		require.NoError(t, tab.AddCategorical("position", []string{"QB", "WR"}))
		return tab
	}

	first := fresh()
	second := fresh()
	require.NoError(t, fitted.Transform(first))
	require.NoError(t, fitted.Transform(second))

	// the same fitted mapping yields identical output both times
	a, _ := first.Column("injury_status" + EncodedSuffix)
	b, _ := second.Column("injury_status" + EncodedSuffix)
	assert.Equal(t, a.Float, b.Float)
	assert.Equal(t, []float64{2, 0}, a.Float)
}

func TestUnseenCategories(t *testing.T) {
	fitted, err := New(testConfig()).FitTransform(buildTable(t))
	require.NoError(t, err)

	tab := domain.NewFeatureTable([]string{"q1"})
	require.NoError(t, tab.AddNumeric("season_avg", []float64{5.0}))
	require.NoError(t, tab.AddNumeric("line", []float64{5.5}))
	require.NoError(t, tab.AddCategorical("injury_status", []string{"suspended"}))
	require.NoError(t, tab.AddCategorical("position", []string{"K"}))
	require.NoError(t, fitted.Transform(tab))

	encoded, _ := tab.Column("injury_status" + EncodedSuffix)
	assert.Equal(t, float64(UnknownCode), encoded.Float[0])

	// unseen one-hot category leaves every dummy at zero
	for _, cat := range []string{"QB", "TE", "WR"} {
		dummy, exists := tab.Column("position_" + cat)
		require.True(t, exists)
		assert.Equal(t, 0.0, dummy.Float[0])
	}
	assert.False(t, tab.HasColumn("position_K"))
}

func TestSmartImputation(t *testing.T) {
	tab := domain.NewFeatureTable([]string{"p1", "p2", "p3"})
	require.NoError(t, tab.AddNumeric("temperature_f", []float64{math.NaN(), 55, math.NaN()}))
	require.NoError(t, tab.AddNumeric("season_std", []float64{1.0, math.NaN(), 3.0}))
	require.NoError(t, tab.AddNumeric("usage_rate", []float64{0.2, math.NaN(), 0.4}))
	require.NoError(t, tab.AddNumeric("receptions_last5", []float64{math.NaN(), 4, 6}))

	_, err := New(Config{Impute: ImputeSmart}).FitTransform(tab)
	require.NoError(t, err)

	temp, _ := tab.Column("temperature_f")
	assert.Equal(t, 70.0, temp.Float[0], "context features fill with neutral defaults")
	assert.Equal(t, 55.0, temp.Float[1])

	variability, _ := tab.Column("season_std")
	assert.Equal(t, 2.0, variability.Float[1], "variability features fill with the median")

	rate, _ := tab.Column("usage_rate")
	assert.InDelta(t, 0.3, rate.Float[1], 1e-9, "rate features fill with the batch mean")

	counter, _ := tab.Column("receptions_last5")
	assert.Equal(t, 0.0, counter.Float[0], "counters fill with zero")
}

func TestInteractionCap(t *testing.T) {
	tab := domain.NewFeatureTable([]string{"p1", "p2"})
	for _, name := range []string{"a", "b", "c", "d"} {
		require.NoError(t, tab.AddNumeric(name, []float64{1, 2}))
	}
	cfg := Config{
		Impute: ImputeZero,
		InteractionPairs: [][2]string{
			{"a", "b"}, {"a", "c"}, {"a", "d"}, {"b", "c"},
		},
		MaxInteractions: 2,
	}
	_, err := New(cfg).FitTransform(tab)
	require.NoError(t, err)

	// only the two highest-ranked pairs are created
	assert.True(t, tab.HasColumn("a_x_b"))
	assert.True(t, tab.HasColumn("a_x_c"))
	assert.False(t, tab.HasColumn("a_x_d"))
	assert.False(t, tab.HasColumn("b_x_c"))

	prod, _ := tab.Column("a_x_b")
	assert.Equal(t, []float64{1, 4}, prod.Float)
}

func TestValidateFeaturesFlagsInfinity(t *testing.T) {
	tab := domain.NewFeatureTable([]string{"p1", "p2"})
	require.NoError(t, tab.AddNumeric("ratio", []float64{1, math.Inf(1)}))

	result := ValidateFeatures(tab)
	assert.False(t, result.Passed)
	require.NotEmpty(t, result.Issues)
	assert.Contains(t, result.Issues[0], `"ratio"`)
	assert.Contains(t, result.Issues[0], "infinite")
}
