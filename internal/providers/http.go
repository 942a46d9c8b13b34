package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/propedge/propedge/internal/domain"
)

// httpClient issues guarded JSON GET requests against one provider host
type httpClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	guard   *Guard
}

func newHTTPClient(name, baseURL string, cfg GuardConfig) *httpClient {
	return &httpClient{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{},
		guard:   NewGuard(name, cfg),
	}
}

func (c *httpClient) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	return c.guard.Do(ctx, func(ctx context.Context) error {
		u := c.baseURL + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		if c.apiKey != "" {
			req.Header.Set("X-API-Key", c.apiKey)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
}

// HTTPPlayerStats is the HTTP-backed player stats provider
type HTTPPlayerStats struct {
	c *httpClient
}

// NewHTTPPlayerStats creates a player stats client for the given host
func NewHTTPPlayerStats(baseURL string, cfg GuardConfig) *HTTPPlayerStats {
	return &HTTPPlayerStats{c: newHTTPClient("player_stats", baseURL, cfg)}
}

func (p *HTTPPlayerStats) PlayerStats(ctx context.Context, playerID, statType string, league domain.League) (*PlayerStats, error) {
	var out PlayerStats
	q := url.Values{"stat": {statType}, "league": {string(league)}}
	if err := p.c.getJSON(ctx, "/v1/players/"+url.PathEscape(playerID)+"/stats", q, &out); err != nil {
		return nil, fmt.Errorf("player stats for %s: %w", playerID, err)
	}
	return &out, nil
}

func (p *HTTPPlayerStats) RecentStatLines(ctx context.Context, playerID, statType string, n int) ([]StatLine, error) {
	var out []StatLine
	q := url.Values{"stat": {statType}, "limit": {fmt.Sprint(n)}}
	if err := p.c.getJSON(ctx, "/v1/players/"+url.PathEscape(playerID)+"/lines", q, &out); err != nil {
		return nil, fmt.Errorf("recent lines for %s: %w", playerID, err)
	}
	return out, nil
}

// HTTPInjuries is the HTTP-backed injury provider
type HTTPInjuries struct {
	c *httpClient
}

// NewHTTPInjuries creates an injury status client for the given host
func NewHTTPInjuries(baseURL string, cfg GuardConfig) *HTTPInjuries {
	return &HTTPInjuries{c: newHTTPClient("injuries", baseURL, cfg)}
}

func (p *HTTPInjuries) InjuryStatus(ctx context.Context, playerID string) (*InjuryReport, error) {
	var out InjuryReport
	if err := p.c.getJSON(ctx, "/v1/injuries/"+url.PathEscape(playerID), nil, &out); err != nil {
		return nil, fmt.Errorf("injury status for %s: %w", playerID, err)
	}
	return &out, nil
}

// HTTPWeather is the HTTP-backed weather provider
type HTTPWeather struct {
	c *httpClient
}

// NewHTTPWeather creates a weather client for the given host
func NewHTTPWeather(baseURL string, cfg GuardConfig) *HTTPWeather {
	return &HTTPWeather{c: newHTTPClient("weather", baseURL, cfg)}
}

func (p *HTTPWeather) GameWeather(ctx context.Context, gameID string) (*Weather, error) {
	var out Weather
	if err := p.c.getJSON(ctx, "/v1/games/"+url.PathEscape(gameID)+"/weather", nil, &out); err != nil {
		return nil, fmt.Errorf("weather for game %s: %w", gameID, err)
	}
	return &out, nil
}

// HTTPOdds is the HTTP-backed market/odds provider
type HTTPOdds struct {
	c *httpClient
}

// NewHTTPOdds creates a market client for the given host
func NewHTTPOdds(baseURL string, cfg GuardConfig) *HTTPOdds {
	return &HTTPOdds{c: newHTTPClient("odds", baseURL, cfg)}
}

func (p *HTTPOdds) Market(ctx context.Context, propID string) (*Market, error) {
	var out Market
	if err := p.c.getJSON(ctx, "/v1/markets/"+url.PathEscape(propID), nil, &out); err != nil {
		return nil, fmt.Errorf("market for %s: %w", propID, err)
	}
	return &out, nil
}
