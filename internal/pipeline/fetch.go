package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/propedge/propedge/internal/domain"
	"github.com/propedge/propedge/internal/providers"
)

// outcome tags one fetch result per the degradation policy: a failed or timed
// out source degrades to defaults instead of failing the batch.
type outcome[T any] struct {
	value  T
	status SourceStatus
	reason string
}

func ok[T any](v T) outcome[T] { return outcome[T]{value: v, status: SourceOK} }

func degraded[T any](reason string) outcome[T] {
	var zero T
	return outcome[T]{value: zero, status: SourceDegraded, reason: reason}
}

// playerData bundles the two player-stat fetches cached under separate TTLs
type playerData struct {
	Stats *providers.PlayerStats
	Lines []providers.StatLine
}

// cachedFetch wraps a source call with the byte cache. Cache read and write
// failures degrade to a direct computation, never to a caller failure.
func cachedFetch[T any](ctx context.Context, b *Builder, tier, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	var out T
	if b.sourceCache != nil {
		if raw, hit := b.sourceCache.Get(ctx, key); hit {
			if err := json.Unmarshal(raw, &out); err == nil {
				b.metrics.RecordCacheHit(tier)
				return out, nil
			}
			log.Warn().Str("key", key).Msg("Discarding undecodable cache entry")
		}
		b.metrics.RecordCacheMiss(tier)
	}

	out, err := fetch(ctx)
	if err != nil {
		return out, err
	}
	if b.sourceCache != nil {
		if raw, err := json.Marshal(out); err == nil {
			_ = b.sourceCache.Set(ctx, key, raw, ttl)
		}
	}
	return out, nil
}

// fetchPlayerData resolves player aggregates and recent lines per unique
// (player, stat type) pair in the batch.
func (b *Builder) fetchPlayerData(ctx context.Context, props []domain.PropRecord) map[string]outcome[playerData] {
	type key struct{ playerID, statType string }
	keys := make(map[key]domain.League)
	for _, p := range props {
		if p.PlayerID != "" {
			keys[key{p.PlayerID, p.StatType}] = p.League
		}
	}

	results := make(map[string]outcome[playerData], len(keys))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, b.cfg.MaxConcurrentFetches)

	for k, league := range keys {
		wg.Add(1)
		go func(k key, league domain.League) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			var res outcome[playerData]
			stats, err := cachedFetch(ctx, b, "player_stats",
				fmt.Sprintf("stats:%s:%s:%s", league, k.statType, k.playerID),
				b.cfg.PlayerStatsTTL,
				func(ctx context.Context) (*providers.PlayerStats, error) {
					return b.providers.PlayerStats.PlayerStats(ctx, k.playerID, k.statType, league)
				})
			if err != nil {
				res = degraded[playerData](fmt.Sprintf("player stats unavailable: %v", err))
			} else {
				lines, err := cachedFetch(ctx, b, "recent_lines",
					fmt.Sprintf("lines:%s:%s", k.statType, k.playerID),
					b.cfg.RecentLinesTTL,
					func(ctx context.Context) ([]providers.StatLine, error) {
						return b.providers.PlayerStats.RecentStatLines(ctx, k.playerID, k.statType, b.cfg.RecentLinesCount)
					})
				if err != nil {
					// Aggregates alone still produce a usable block
					res = outcome[playerData]{value: playerData{Stats: stats}, status: SourceDegraded,
						reason: fmt.Sprintf("recent lines unavailable: %v", err)}
				} else {
					res = ok(playerData{Stats: stats, Lines: lines})
				}
			}

			mu.Lock()
			results[k.playerID+"|"+k.statType] = res
			mu.Unlock()
		}(k, league)
	}
	wg.Wait()
	return results
}

// fetchInjuries resolves injury status per unique player in the batch
func (b *Builder) fetchInjuries(ctx context.Context, props []domain.PropRecord) map[string]outcome[*providers.InjuryReport] {
	playerIDs := make(map[string]struct{})
	for _, p := range props {
		if p.PlayerID != "" {
			playerIDs[p.PlayerID] = struct{}{}
		}
	}

	results := make(map[string]outcome[*providers.InjuryReport], len(playerIDs))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, b.cfg.MaxConcurrentFetches)

	for id := range playerIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			report, err := cachedFetch(ctx, b, "injuries", "injury:"+id,
				b.cfg.InjuryTTL,
				func(ctx context.Context) (*providers.InjuryReport, error) {
					return b.providers.Injuries.InjuryStatus(ctx, id)
				})

			var res outcome[*providers.InjuryReport]
			if err != nil {
				res = degraded[*providers.InjuryReport](fmt.Sprintf("injury status unavailable: %v", err))
			} else {
				res = ok(report)
			}

			mu.Lock()
			results[id] = res
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	return results
}

// fetchWeather resolves forecasts per unique game. Only leagues played
// outdoors are queried; others take neutral defaults directly.
func (b *Builder) fetchWeather(ctx context.Context, props []domain.PropRecord) map[string]outcome[*providers.Weather] {
	gameIDs := make(map[string]struct{})
	for _, p := range props {
		if p.League == domain.LeagueNFL || p.League == domain.LeagueMLB {
			gameIDs[p.GameID] = struct{}{}
		}
	}

	results := make(map[string]outcome[*providers.Weather], len(gameIDs))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, b.cfg.MaxConcurrentFetches)

	for id := range gameIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			weather, err := cachedFetch(ctx, b, "weather", "weather:"+id,
				b.cfg.WeatherTTL,
				func(ctx context.Context) (*providers.Weather, error) {
					return b.providers.Weather.GameWeather(ctx, id)
				})

			var res outcome[*providers.Weather]
			if err != nil {
				res = degraded[*providers.Weather](fmt.Sprintf("weather unavailable: %v", err))
			} else {
				res = ok(weather)
			}

			mu.Lock()
			results[id] = res
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	return results
}

// fetchMarkets resolves market state per prop
func (b *Builder) fetchMarkets(ctx context.Context, props []domain.PropRecord) map[string]outcome[*providers.Market] {
	results := make(map[string]outcome[*providers.Market], len(props))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, b.cfg.MaxConcurrentFetches)

	for _, p := range props {
		wg.Add(1)
		go func(p domain.PropRecord) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			market, err := cachedFetch(ctx, b, "odds", "market:"+p.PropID,
				b.cfg.MarketTTL,
				func(ctx context.Context) (*providers.Market, error) {
					return b.providers.Odds.Market(ctx, p.PropID)
				})

			var res outcome[*providers.Market]
			if err != nil {
				res = degraded[*providers.Market](fmt.Sprintf("market unavailable: %v", err))
			} else {
				res = ok(market)
			}

			mu.Lock()
			results[p.PropID] = res
			mu.Unlock()
		}(p)
	}
	wg.Wait()
	return results
}
