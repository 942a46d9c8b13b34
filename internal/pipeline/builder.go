// Package pipeline orchestrates per-prop feature construction: concurrent
// data-source fan-out, per-category feature blocks, and the transformer fit
// pass, with graceful degradation per source.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/propedge/propedge/internal/cache"
	"github.com/propedge/propedge/internal/domain"
	"github.com/propedge/propedge/internal/metrics"
	"github.com/propedge/propedge/internal/providers"
	"github.com/propedge/propedge/internal/transform"
)

// FeatureVersion is the current feature-schema version stamped on every row
const FeatureVersion = "v2.3"

// Config controls the pipeline's caching and fetch behavior
type Config struct {
	FeatureVersion       string
	PlayerStatsTTL       time.Duration
	RecentLinesTTL       time.Duration
	InjuryTTL            time.Duration
	WeatherTTL           time.Duration
	MarketTTL            time.Duration
	TableTTL             time.Duration
	RecentLinesCount     int
	MaxConcurrentFetches int
	Transform            transform.Config
}

// DefaultConfig returns the production cache TTLs and fetch limits
func DefaultConfig() Config {
	cfg := Config{
		FeatureVersion:       FeatureVersion,
		PlayerStatsTTL:       time.Hour,
		RecentLinesTTL:       30 * time.Minute,
		InjuryTTL:            time.Hour,
		WeatherTTL:           6 * time.Hour,
		MarketTTL:            15 * time.Minute,
		TableTTL:             12 * time.Hour,
		RecentLinesCount:     10,
		MaxConcurrentFetches: 8,
		Transform:            transform.DefaultConfig(),
	}
	cfg.Transform.InteractionPairs = [][2]string{
		{"usage_rate", "opponent_pace"},
		{"line_vs_season_avg", "volatility_ratio"},
		{"snap_share", "target_share"},
		{"wind_mph", "precip_prob"},
		{"season_avg", "is_home"},
		{"form_trend", "rest_advantage"},
		{"matchup_advantage", "consistency_score"},
		{"implied_prob_over", "hit_rate_vs_line"},
		{"temperature_f", "humidity_pct"},
		{"target_share", "opponent_softness"},
	}
	return cfg
}

// Builder assembles feature tables for batches of props
type Builder struct {
	cfg         Config
	providers   providers.Set
	sourceCache cache.Cache     // per-source fetch results, independent TTLs
	tableCache  *cache.TTLCache // assembled tables, 12h
	metrics     *metrics.Registry
	now         func() time.Time

	mu     sync.Mutex
	fitted *transform.Fitted
}

// NewBuilder creates a pipeline builder. sourceCache and reg may be nil.
func NewBuilder(cfg Config, set providers.Set, sourceCache cache.Cache, reg *metrics.Registry) *Builder {
	if cfg.RecentLinesCount <= 0 {
		cfg.RecentLinesCount = 10
	}
	if cfg.MaxConcurrentFetches <= 0 {
		cfg.MaxConcurrentFetches = 8
	}
	if cfg.FeatureVersion == "" {
		cfg.FeatureVersion = FeatureVersion
	}
	return &Builder{
		cfg:         cfg,
		providers:   set,
		sourceCache: sourceCache,
		tableCache:  cache.NewTTLCache(64),
		metrics:     reg,
		now:         time.Now,
	}
}

// SetNow overrides the builder's clock (for testing)
func (b *Builder) SetNow(now func() time.Time) { b.now = now }

// Fitted returns the transformer state from the most recent build, for
// transform-only reuse at inference time.
func (b *Builder) Fitted() *transform.Fitted {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fitted
}

// Close releases the table cache's cleanup goroutine
func (b *Builder) Close() { b.tableCache.Stop() }

type cachedBuild struct {
	table  *domain.FeatureTable
	report *BuildReport
}

// BuildFeatures assembles one feature table for a batch of props belonging to
// one (week, league, season) key. Every input prop identifier appears exactly
// once in the output unless its player identity cannot be resolved, in which
// case the drop is recorded in the report. A single failed data source
// degrades to defaults; it never fails the batch.
func (b *Builder) BuildFeatures(ctx context.Context, props []domain.PropRecord, week int, league domain.League, season int) (*domain.FeatureTable, *BuildReport, error) {
	start := b.now()
	b.metrics.BuildStarted()
	defer b.metrics.BuildFinished()

	if len(props) == 0 {
		return nil, nil, &Error{Op: "build", Week: week, League: league, Err: fmt.Errorf("empty prop batch")}
	}
	if !league.Valid() {
		return nil, nil, &Error{Op: "build", Week: week, League: league, Err: fmt.Errorf("unsupported league %q", league)}
	}

	cacheKey := buildCacheKey(props, week, league, season)
	if v, hit := b.tableCache.Get(cacheKey); hit {
		b.metrics.RecordCacheHit("feature_table")
		cached := v.(cachedBuild)
		return cached.table, cached.report, nil
	}
	b.metrics.RecordCacheMiss("feature_table")

	report := &BuildReport{}
	retained := b.resolveIdentities(props, report)
	if len(retained) == 0 {
		b.metrics.RecordBuild(string(league), b.now().Sub(start).Seconds(), false, 0)
		return nil, report, &Error{Op: "build", Week: week, League: league,
			Err: fmt.Errorf("no props with resolvable player identity (%d dropped)", len(report.Dropped))}
	}

	// Fan out the four source classes concurrently; each class is itself
	// concurrent per key and individually bounded by the provider guard's
	// timeout. Results merge only after each fetch completes, so no row is
	// written concurrently.
	var (
		wg         sync.WaitGroup
		playerRes  map[string]outcome[playerData]
		injuryRes  map[string]outcome[*providers.InjuryReport]
		weatherRes map[string]outcome[*providers.Weather]
		marketRes  map[string]outcome[*providers.Market]
	)
	wg.Add(4)
	go func() { defer wg.Done(); playerRes = b.fetchPlayerData(ctx, retained) }()
	go func() { defer wg.Done(); injuryRes = b.fetchInjuries(ctx, retained) }()
	go func() { defer wg.Done(); weatherRes = b.fetchWeather(ctx, retained) }()
	go func() { defer wg.Done(); marketRes = b.fetchMarkets(ctx, retained) }()
	wg.Wait()

	recordDegradations(report, b.metrics, "player_stats", keysOf(playerRes), func(k string) (SourceStatus, string) {
		r := playerRes[k]
		return r.status, r.reason
	})
	recordDegradations(report, b.metrics, "injuries", keysOf(injuryRes), func(k string) (SourceStatus, string) {
		r := injuryRes[k]
		return r.status, r.reason
	})
	recordDegradations(report, b.metrics, "weather", keysOf(weatherRes), func(k string) (SourceStatus, string) {
		r := weatherRes[k]
		return r.status, r.reason
	})
	recordDegradations(report, b.metrics, "odds", keysOf(marketRes), func(k string) (SourceStatus, string) {
		r := marketRes[k]
		return r.status, r.reason
	})

	computedAt := b.now()
	table, err := b.assembleTable(retained, computedAt, playerRes, injuryRes, weatherRes, marketRes)
	if err != nil {
		b.metrics.RecordBuild(string(league), b.now().Sub(start).Seconds(), false, 0)
		return nil, report, &Error{Op: "assemble", Week: week, League: league, Err: err}
	}
	if err := table.SetSystemColumns(b.cfg.FeatureVersion, computedAt, week, season, league); err != nil {
		return nil, report, &Error{Op: "assemble", Week: week, League: league, Err: err}
	}

	fitted, err := transform.New(b.cfg.Transform).FitTransform(table)
	if err != nil {
		b.metrics.RecordBuild(string(league), b.now().Sub(start).Seconds(), false, 0)
		return nil, report, &Error{Op: "transform", Week: week, League: league, Err: err}
	}
	b.mu.Lock()
	b.fitted = fitted
	b.mu.Unlock()

	b.tableCache.Set(cacheKey, cachedBuild{table: table, report: report}, b.cfg.TableTTL)
	b.metrics.RecordBuild(string(league), b.now().Sub(start).Seconds(), true, table.NumRows())

	log.Info().Int("props", len(props)).Int("rows", table.NumRows()).
		Int("cols", table.NumCols()).Int("degradations", len(report.Degradations)).
		Int("dropped", len(report.Dropped)).
		Int("week", week).Str("league", string(league)).
		Msg("Feature build complete")

	return table, report, nil
}

// resolveIdentities drops props whose player cannot be identified and dedupes
// repeated prop identifiers, recording every exclusion.
func (b *Builder) resolveIdentities(props []domain.PropRecord, report *BuildReport) []domain.PropRecord {
	seen := make(map[string]struct{}, len(props))
	retained := make([]domain.PropRecord, 0, len(props))
	for _, p := range props {
		if _, dup := seen[p.PropID]; dup {
			report.Dropped = append(report.Dropped, DroppedProp{PropID: p.PropID, Reason: "duplicate prop identifier"})
			continue
		}
		seen[p.PropID] = struct{}{}

		if p.PlayerID == "" {
			if p.PlayerName == "" {
				b.metrics.RecordDroppedProp()
				report.Dropped = append(report.Dropped, DroppedProp{PropID: p.PropID, Reason: "unresolvable player identity"})
				log.Warn().Str("prop_id", p.PropID).Msg("Dropping prop: unresolvable player identity")
				continue
			}
			p.PlayerID = nameSlug(p.PlayerName)
		}
		retained = append(retained, p)
	}
	return retained
}

func nameSlug(name string) string {
	return "name:" + strings.ToLower(strings.Join(strings.Fields(name), "-"))
}

// buildCacheKey incorporates the input identity so differing prop sets never
// collide.
func buildCacheKey(props []domain.PropRecord, week int, league domain.League, season int) string {
	ids := make([]string, len(props))
	for i, p := range props {
		ids[i] = p.PropID
	}
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(strings.Join(ids, ",")))
	return fmt.Sprintf("table:%s:%d:%d:%s", league, season, week, hex.EncodeToString(sum[:8]))
}

func keysOf[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func recordDegradations(report *BuildReport, reg *metrics.Registry, source string, keys []string, get func(string) (SourceStatus, string)) {
	for _, k := range keys {
		status, reason := get(k)
		if status == SourceOK {
			continue
		}
		reg.RecordDegradation(source)
		report.Degradations = append(report.Degradations, Degradation{Source: source, Key: k, Reason: reason})
		log.Warn().Str("source", source).Str("key", k).Str("reason", reason).Msg("Data source degraded")
	}
}
