package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/propedge/propedge/internal/domain"
)

func TestGuardRetriesTransientFailures(t *testing.T) {
	g := NewGuard("test", GuardConfig{RPS: 1000, Burst: 1000, Timeout: 5 * time.Second, MaxRetries: 2})

	calls := 0
	err := g.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestGuardBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	g := NewGuard("test", GuardConfig{
		RPS: 1000, Burst: 1000,
		Timeout:          time.Second,
		MaxRetries:       0,
		FailureThreshold: 2,
		OpenTimeout:      time.Minute,
	})

	fail := func(ctx context.Context) error { return errors.New("boom") }
	ctx := context.Background()
	require.Error(t, g.Do(ctx, fail))
	require.Error(t, g.Do(ctx, fail))
	assert.Equal(t, "open", g.State())

	// an open breaker rejects without invoking the call
	invoked := false
	err := g.Do(ctx, func(ctx context.Context) error { invoked = true; return nil })
	require.Error(t, err)
	assert.False(t, invoked)
}

func TestGuardHonorsContextCancellation(t *testing.T) {
	g := NewGuard("test", GuardConfig{RPS: 1000, Burst: 1000, Timeout: 50 * time.Millisecond, MaxRetries: 10})

	err := g.Do(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.Error(t, err)
}

func TestFakeSetIsDeterministic(t *testing.T) {
	set := FakeSet(time.Date(2025, 11, 18, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	first, err := set.PlayerStats.PlayerStats(ctx, "pl-1", "receiving_yards", domain.LeagueNFL)
	require.NoError(t, err)
	second, err := set.PlayerStats.PlayerStats(ctx, "pl-1", "receiving_yards", domain.LeagueNFL)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Greater(t, first.SeasonAvg, 0.0)
	assert.True(t, first.StatsAsOf.Before(time.Now()))

	lines, err := set.PlayerStats.RecentStatLines(ctx, "pl-1", "receiving_yards", 10)
	require.NoError(t, err)
	assert.Len(t, lines, 10)

	injury, err := set.Injuries.InjuryStatus(ctx, "pl-1")
	require.NoError(t, err)
	assert.Contains(t, []string{"healthy", "questionable", "doubtful", "out"}, injury.Status)

	market, err := set.Odds.Market(ctx, "prop-1")
	require.NoError(t, err)
	assert.Greater(t, market.BookCount, 0)
}

func TestHTTPPlayerStatsClient(t *testing.T) {
	var gotKey, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"player_id":"pl-1","season_avg":72.4,"position":"WR"}`))
	}))
	defer srv.Close()

	cfg := DefaultGuardConfig()
	cfg.APIKey = "test-key"
	client := NewHTTPPlayerStats(srv.URL, cfg)

	stats, err := client.PlayerStats(context.Background(), "pl-1", "receiving_yards", domain.LeagueNFL)
	require.NoError(t, err)
	assert.Equal(t, "pl-1", stats.PlayerID)
	assert.Equal(t, 72.4, stats.SeasonAvg)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "/v1/players/pl-1/stats", gotPath)
}

func TestHTTPClientSurfacesStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := DefaultGuardConfig()
	cfg.MaxRetries = 0
	client := NewHTTPWeather(srv.URL, cfg)

	_, err := client.GameWeather(context.Background(), "g-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}