package pipeline

import (
	"math"
	"sort"
	"time"

	"github.com/propedge/propedge/internal/domain"
	"github.com/propedge/propedge/internal/providers"
)

// injuryRisk maps an injury designation onto a play-probability risk scale
var injuryRisk = map[string]float64{
	"healthy":      0.0,
	"probable":     0.1,
	"questionable": 0.4,
	"doubtful":     0.75,
	"out":          1.0,
}

// assembleTable computes the per-category feature blocks for the retained
// props. Missing data is written as NaN and left to the transformer's smart
// imputation, which uses the same category defaults the degradation policy
// promises.
func (b *Builder) assembleTable(
	props []domain.PropRecord,
	computedAt time.Time,
	players map[string]outcome[playerData],
	injuries map[string]outcome[*providers.InjuryReport],
	weather map[string]outcome[*providers.Weather],
	markets map[string]outcome[*providers.Market],
) (*domain.FeatureTable, error) {

	n := len(props)
	ids := make([]string, n)
	for i, p := range props {
		ids[i] = p.PropID
	}
	t := domain.NewFeatureTable(ids)

	// carried-through metadata
	playerIDs := make([]string, n)
	gameTimes := make([]time.Time, n)
	teams := make([]string, n)
	opponents := make([]string, n)
	statTypes := make([]string, n)
	positions := make([]string, n)
	injuryStatus := make([]string, n)
	venueTypes := make([]string, n)

	numeric := func() []float64 {
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = math.NaN()
		}
		return vals
	}

	// player block
	seasonAvg, seasonStd := numeric(), numeric()
	seasonHigh, seasonLow := numeric(), numeric()
	last3, last5, last10 := numeric(), numeric(), numeric()
	homeAvg, awayAvg := numeric(), numeric()
	gamesPlayed, age, expYears := numeric(), numeric(), numeric()
	usageRate, snapShare, targetShare := numeric(), numeric(), numeric()
	restDays := numeric()
	asOf := make([]time.Time, n)

	// matchup block
	oppRank, oppAllowed, oppPace := numeric(), numeric(), numeric()
	isHome, matchupAdv, oppSoftness := numeric(), numeric(), numeric()

	// context block
	tempF, windMPH, precipProb, humidityPct := numeric(), numeric(), numeric(), numeric()
	isDome, isPrimetime, injRisk, daysToGame := numeric(), numeric(), numeric(), numeric()

	// market block
	line, openingLine, lineMove := numeric(), numeric(), numeric()
	consensusLine, consensusDiff := numeric(), numeric()
	bookCount, overOdds, underOdds := numeric(), numeric(), numeric()
	impliedOver, marketHold := numeric(), numeric()

	for i, p := range props {
		playerIDs[i] = p.PlayerID
		gameTimes[i] = p.GameTime
		teams[i] = p.Team
		opponents[i] = p.Opponent
		statTypes[i] = p.StatType
		asOf[i] = p.GameTime.Add(-7 * 24 * time.Hour) // neutral, predates the game

		isHome[i] = 0
		if p.Home {
			isHome[i] = 1
		}
		isPrimetime[i] = 0
		if h := p.GameTime.UTC().Hour(); h >= 23 || h < 3 {
			isPrimetime[i] = 1
		}
		daysToGame[i] = p.GameTime.Sub(computedAt).Hours() / 24

		if res, found := players[p.PlayerID+"|"+p.StatType]; found && res.status != SourceFailed && res.value.Stats != nil {
			s := res.value.Stats
			positions[i] = s.Position
			seasonAvg[i], seasonStd[i] = s.SeasonAvg, s.SeasonStd
			seasonHigh[i], seasonLow[i] = s.SeasonHigh, s.SeasonLow
			homeAvg[i], awayAvg[i] = s.HomeAvg, s.AwayAvg
			gamesPlayed[i], age[i], expYears[i] = s.GamesPlayed, s.Age, s.ExperienceYears
			usageRate[i], snapShare[i], targetShare[i] = s.UsageRate, s.SnapShare, s.TargetShare
			restDays[i] = s.RestDays
			oppRank[i], oppAllowed[i], oppPace[i] = s.OpponentRank, s.OpponentAllowed, s.OpponentPace
			matchupAdv[i] = s.SeasonAvg - s.OpponentAllowed
			oppSoftness[i] = s.OpponentRank / 32.0
			if !s.StatsAsOf.IsZero() && s.StatsAsOf.Before(p.GameTime) {
				asOf[i] = s.StatsAsOf
			}

			prior := priorLines(res.value.Lines, p.GameTime)
			last3[i] = avgFirst(prior, 3)
			last5[i] = avgFirst(prior, 5)
			last10[i] = avgFirst(prior, 10)
			if len(prior) > 0 && prior[0].GameTime.After(asOf[i]) {
				asOf[i] = prior[0].GameTime
			}
		}

		injuryStatus[i] = "questionable" // neutral designation when unknown
		if res, found := injuries[p.PlayerID]; found && res.status == SourceOK && res.value != nil {
			injuryStatus[i] = res.value.Status
		}
		if risk, known := injuryRisk[injuryStatus[i]]; known {
			injRisk[i] = risk
		}

		venueTypes[i] = "outdoor"
		switch p.League {
		case domain.LeagueNBA, domain.LeagueNHL:
			venueTypes[i] = "indoor"
			tempF[i], windMPH[i], precipProb[i], humidityPct[i], isDome[i] = 70, 0, 0, 50, 1
		default:
			if res, found := weather[p.GameID]; found && res.status == SourceOK && res.value != nil {
				w := res.value
				venueTypes[i] = w.VenueType
				tempF[i], windMPH[i] = w.TempF, w.WindMPH
				precipProb[i], humidityPct[i] = w.PrecipProb, w.HumidityPct
				if w.VenueType == "dome" {
					isDome[i] = 1
				} else {
					isDome[i] = 0
				}
			}
			// degraded weather stays NaN for smart imputation to neutralize
		}

		if res, found := markets[p.PropID]; found && res.status == SourceOK && res.value != nil {
			m := res.value
			line[i], openingLine[i] = m.CurrentLine, m.OpeningLine
			lineMove[i] = m.CurrentLine - m.OpeningLine
			consensusLine[i] = m.Consensus
			consensusDiff[i] = m.CurrentLine - m.Consensus
			bookCount[i] = float64(m.BookCount)
			overOdds[i], underOdds[i] = float64(m.OverOdds), float64(m.UnderOdds)
			impliedOver[i] = domain.ImpliedProbability(m.OverOdds)
			marketHold[i] = domain.ImpliedProbability(m.OverOdds) + domain.ImpliedProbability(m.UnderOdds) - 1
		} else {
			// the prop record itself carries the last known line and odds
			line[i] = p.Line
			overOdds[i] = float64(p.Odds)
			impliedOver[i] = domain.ImpliedProbability(p.Odds)
		}
	}

	// derived block
	lineVsSeason, lineVsLast5, formTrend := numeric(), numeric(), numeric()
	volatilityRatio, hitRateVsLine := numeric(), numeric()
	homeAwaySplit, restAdvantage, consistency, edgeRaw := numeric(), numeric(), numeric(), numeric()
	for i, p := range props {
		lineVsSeason[i] = line[i] - seasonAvg[i]
		lineVsLast5[i] = line[i] - last5[i]
		formTrend[i] = last3[i] - seasonAvg[i]
		if seasonAvg[i] != 0 && !math.IsNaN(seasonAvg[i]) {
			volatilityRatio[i] = seasonStd[i] / math.Abs(seasonAvg[i])
			edgeRaw[i] = (seasonAvg[i] - line[i]) / math.Abs(seasonAvg[i])
		}
		homeAwaySplit[i] = homeAvg[i] - awayAvg[i]
		restAdvantage[i] = restDays[i] - 7
		if !math.IsNaN(volatilityRatio[i]) {
			consistency[i] = 1 / (1 + volatilityRatio[i])
		}
		if res, found := players[p.PlayerID+"|"+p.StatType]; found {
			prior := priorLines(res.value.Lines, p.GameTime)
			hitRateVsLine[i] = hitRate(prior, line[i])
		}
	}

	type col struct {
		name string
		add  func(string) error
	}
	addNum := func(name string, vals []float64) col {
		return col{name, func(n string) error { return t.AddNumeric(n, vals) }}
	}
	addCat := func(name string, vals []string) col {
		return col{name, func(n string) error { return t.AddCategorical(n, vals) }}
	}
	cols := []col{
		{domain.ColPlayerID, func(n string) error { return t.AddIdentifier(n, playerIDs) }},
		{domain.ColGameTime, func(n string) error { return t.AddTime(n, gameTimes) }},
		addCat("team", teams), addCat("opponent", opponents),
		addCat("stat_type", statTypes), addCat("position", positions),
		addCat("injury_status", injuryStatus), addCat("venue_type", venueTypes),

		addNum("season_avg", seasonAvg), addNum("season_std", seasonStd),
		addNum("season_high", seasonHigh), addNum("season_low", seasonLow),
		addNum("last3_avg", last3), addNum("last5_avg", last5), addNum("last10_avg", last10),
		addNum("home_avg", homeAvg), addNum("away_avg", awayAvg),
		addNum("games_played", gamesPlayed), addNum("age", age), addNum("experience_years", expYears),
		addNum("usage_rate", usageRate), addNum("snap_share", snapShare), addNum("target_share", targetShare),
		addNum("rest_days", restDays),
		{"rolling_window_as_of", func(n string) error { return t.AddTime(n, asOf) }},

		addNum("opponent_rank", oppRank), addNum("opponent_allowed", oppAllowed),
		addNum("opponent_pace", oppPace), addNum("is_home", isHome),
		addNum("matchup_advantage", matchupAdv), addNum("opponent_softness", oppSoftness),

		addNum("temperature_f", tempF), addNum("wind_mph", windMPH),
		addNum("precip_prob", precipProb), addNum("humidity_pct", humidityPct),
		addNum("is_dome", isDome), addNum("is_primetime", isPrimetime),
		addNum("injury_risk", injRisk), addNum("days_to_game", daysToGame),

		addNum("line", line), addNum("opening_line", openingLine), addNum("line_move", lineMove),
		addNum("consensus_line", consensusLine), addNum("consensus_diff", consensusDiff),
		addNum("book_count", bookCount), addNum("over_odds", overOdds), addNum("under_odds", underOdds),
		addNum("implied_prob_over", impliedOver), addNum("market_hold", marketHold),

		addNum("line_vs_season_avg", lineVsSeason), addNum("line_vs_last5", lineVsLast5),
		addNum("form_trend", formTrend), addNum("volatility_ratio", volatilityRatio),
		addNum("hit_rate_vs_line", hitRateVsLine), addNum("home_away_split", homeAwaySplit),
		addNum("rest_advantage", restAdvantage), addNum("consistency_score", consistency),
		addNum("edge_raw", edgeRaw),
	}
	for _, c := range cols {
		if err := c.add(c.name); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// priorLines returns the stat lines strictly before gameTime, newest first
func priorLines(lines []providers.StatLine, gameTime time.Time) []providers.StatLine {
	prior := make([]providers.StatLine, 0, len(lines))
	for _, l := range lines {
		if l.GameTime.Before(gameTime) {
			prior = append(prior, l)
		}
	}
	sort.Slice(prior, func(i, j int) bool { return prior[i].GameTime.After(prior[j].GameTime) })
	return prior
}

func avgFirst(lines []providers.StatLine, n int) float64 {
	if len(lines) == 0 {
		return math.NaN()
	}
	if n > len(lines) {
		n = len(lines)
	}
	var sum float64
	for _, l := range lines[:n] {
		sum += l.Value
	}
	return sum / float64(n)
}

func hitRate(lines []providers.StatLine, line float64) float64 {
	if len(lines) == 0 || math.IsNaN(line) {
		return math.NaN()
	}
	hits := 0
	for _, l := range lines {
		if l.Value > line {
			hits++
		}
	}
	return float64(hits) / float64(len(lines))
}
