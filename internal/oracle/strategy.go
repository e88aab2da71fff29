package oracle

import (
	"math"
	"sort"

	"github.com/iradkot/glucose-oracle/internal/models"
)

// noAveragePenalty pushes a cluster with no resolvable +2h average below
// any cluster that has one, regardless of how close to the ideal target the
// others land.
const noAveragePenalty = 1e9

// actionCategory is the categorical summary of a 30-minute action profile.
type actionCategory struct {
	key     string
	title   string
	summary string
}

// categorizeActions buckets an action summary. The buckets are intentionally
// coarse: no action, carbs only, then insulin by dose band.
func categorizeActions(a models.ActionSummary) actionCategory {
	switch {
	case a.Insulin == 0 && a.Carbs == 0:
		return actionCategory{
			key:     "none",
			title:   "No action",
			summary: "No insulin or carbs in the first 30 minutes.",
		}
	case a.Insulin == 0:
		return actionCategory{
			key:     "carbs-only",
			title:   "Carbs only",
			summary: "Carbs without insulin in the first 30 minutes.",
		}
	case a.Insulin < 1:
		return actionCategory{
			key:     "micro-bolus",
			title:   "Micro-bolus (<1U)",
			summary: "A small correction under one unit in the first 30 minutes.",
		}
	case a.Insulin <= 2:
		return actionCategory{
			key:     "small-bolus",
			title:   "Small bolus (1–2U)",
			summary: "One to two units in the first 30 minutes.",
		}
	case a.Insulin > 3:
		return actionCategory{
			key:     "large-bolus",
			title:   "Large bolus (>3U)",
			summary: "More than three units in the first 30 minutes.",
		}
	default:
		return actionCategory{
			key:     "moderate-bolus",
			title:   "Moderate bolus",
			summary: "Between two and three units in the first 30 minutes.",
		}
	}
}

type strategyGroup struct {
	category actionCategory
	matches  []*models.MatchTrace
	order    int // first-seen order, stabilizes sorting
}

// buildStrategies clusters matches by their categorized 30-minute action
// profile, computes the +2h outcome for each cluster, keeps the largest
// clusters and flags exactly one as best.
func buildStrategies(matches []models.MatchTrace, cfg Config) []models.StrategyCard {
	groups := make(map[string]*strategyGroup)
	var ordered []*strategyGroup
	for i := range matches {
		cat := categorizeActions(matches[i].Actions)
		g, ok := groups[cat.key]
		if !ok {
			g = &strategyGroup{category: cat, order: len(ordered)}
			groups[cat.key] = g
			ordered = append(ordered, g)
		}
		g.matches = append(g.matches, &matches[i])
	}

	cards := make([]models.StrategyCard, 0, len(ordered))
	scores := make([]float64, 0, len(ordered))
	for _, g := range ordered {
		var outcomes []float64
		for _, m := range g.matches {
			if v, ok := valueAtMinute(m.Series, cfg.TIRWindowMinutes); ok {
				outcomes = append(outcomes, v)
			}
		}

		card := models.StrategyCard{
			Key:        g.category.key,
			Title:      g.category.title,
			Summary:    g.category.summary,
			MatchCount: len(g.matches),
		}

		score := 0.0
		if len(outcomes) > 0 {
			sum, inBand := 0.0, 0
			for _, v := range outcomes {
				sum += v
				if v >= cfg.TargetLow && v <= cfg.TargetHigh {
					inBand++
				}
			}
			avg := sum / float64(len(outcomes))
			card.AvgGlucose2h = &avg
			card.SuccessRate = float64(inBand) / float64(len(outcomes))
			// Success rate dominates; distance to the ideal target only
			// breaks ties.
			score = card.SuccessRate*1000 - math.Abs(avg-cfg.IdealTarget)
		} else {
			score = -noAveragePenalty
		}

		cards = append(cards, card)
		scores = append(scores, score)
	}

	// Largest clusters first, success score breaking ties.
	idx := make([]int, len(cards))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		if cards[idx[a]].MatchCount != cards[idx[b]].MatchCount {
			return cards[idx[a]].MatchCount > cards[idx[b]].MatchCount
		}
		return scores[idx[a]] > scores[idx[b]]
	})

	keep := len(idx)
	if keep > cfg.MaxStrategies {
		keep = cfg.MaxStrategies
	}

	result := make([]models.StrategyCard, 0, keep)
	resultScores := make([]float64, 0, keep)
	for _, i := range idx[:keep] {
		result = append(result, cards[i])
		resultScores = append(resultScores, scores[i])
	}

	if len(result) > 0 {
		best := 0
		for i := 1; i < len(result); i++ {
			if resultScores[i] > resultScores[best] {
				best = i
			}
		}
		result[best].IsBest = true
	}
	return result
}
