package model

import (
	"math"

	"github.com/bigpulp/valuemodel/internal/config"
	"github.com/bigpulp/valuemodel/internal/market"
	"github.com/bigpulp/valuemodel/internal/stats"
)

// TraitModel is one fitted pricing model (asks or sales). Traits with zero
// observed support are absent from both maps; absent and zero are distinct
// states, and the rarity prior relies on that distinction.
type TraitModel struct {
	BaselineLog  float64
	HasBaseline  bool
	TraitDeltas  map[market.TraitKey]float64
	TraitSupport map[market.TraitKey]float64
	Sigma        float64
	HasSigma     bool
}

// Fit computes a trait model from an observation set and its parallel weight
// vector. For each observed trait: winsorize log-prices to the trait's own
// weighted [lower, upper] quantile range, take the weighted mean, difference
// against the baseline, then shrink toward zero by nEff/(nEff+K).
func Fit(obs []market.Observation, weights []float64, traits *market.TraitIndex, p config.FitterParams) *TraitModel {
	m := &TraitModel{
		TraitDeltas:  make(map[market.TraitKey]float64),
		TraitSupport: make(map[market.TraitKey]float64),
	}
	if len(obs) == 0 {
		return m
	}

	logs := make([]float64, len(obs))
	for i, o := range obs {
		logs[i] = math.Log(o.Price)
	}
	m.BaselineLog, m.HasBaseline = stats.WeightedMedian(logs, weights)
	if !m.HasBaseline {
		return m
	}

	m.TraitDeltas, m.TraitSupport = FitDeltas(obs, weights, traits, m.BaselineLog, p)
	m.Sigma, m.HasSigma = residualSigma(obs, weights, logs, traits, m, p.SigmaSampleLimit)
	return m
}

// FitDeltas computes shrunk per-trait deltas against an externally supplied
// baseline log-price. Exposed separately from Fit so the shrinkage step can
// be exercised with arbitrary baselines and parameter sets.
func FitDeltas(obs []market.Observation, weights []float64, traits *market.TraitIndex, baselineLog float64, p config.FitterParams) (map[market.TraitKey]float64, map[market.TraitKey]float64) {
	deltas := make(map[market.TraitKey]float64)
	support := make(map[market.TraitKey]float64)

	// Group (logPrice, weight) pairs by trait key via the metadata join.
	type group struct {
		logs    []float64
		weights []float64
	}
	groups := make(map[market.TraitKey]*group)
	for i, o := range obs {
		keys, ok := traits.Traits(o.ID)
		if !ok {
			continue
		}
		logPrice := math.Log(o.Price)
		for _, key := range keys {
			g := groups[key]
			if g == nil {
				g = &group{}
				groups[key] = g
			}
			g.logs = append(g.logs, logPrice)
			g.weights = append(g.weights, weights[i])
		}
	}

	for key, g := range groups {
		nEff := 0.0
		for _, w := range g.weights {
			nEff += w
		}
		if nEff <= 0 {
			continue
		}

		winsorized := winsorize(g.logs, g.weights, p.WinsorLowerQ, p.WinsorUpperQ)
		meanTrait, ok := stats.WeightedMean(winsorized, g.weights)
		if !ok {
			continue
		}

		naiveDelta := meanTrait - baselineLog
		k := p.K(key.Category())
		deltas[key] = naiveDelta * nEff / (nEff + k)
		support[key] = nEff
	}
	return deltas, support
}

// winsorize clips values to their weighted [loQ, hiQ] quantile range. Values
// are clipped, never discarded, so every observation keeps its vote.
func winsorize(values, weights []float64, loQ, hiQ float64) []float64 {
	lo, okLo := stats.WeightedQuantile(values, weights, loQ)
	hi, okHi := stats.WeightedQuantile(values, weights, hiQ)
	if !okLo || !okHi {
		out := make([]float64, len(values))
		copy(out, values)
		return out
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = stats.Clamp(v, lo, hi)
	}
	return out
}

// residualSigma is the robust scale of prediction residuals over a bounded
// leading sample of the (deterministically ordered) observation set.
func residualSigma(obs []market.Observation, weights, logs []float64, traits *market.TraitIndex, m *TraitModel, limit int) (float64, bool) {
	n := len(obs)
	if limit > 0 && n > limit {
		n = limit
	}

	residuals := make([]float64, 0, n)
	residWeights := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		keys, ok := traits.Traits(obs[i].ID)
		if !ok {
			continue
		}
		pred := m.PredictLog(keys)
		residuals = append(residuals, pred-logs[i])
		residWeights = append(residWeights, weights[i])
	}
	if len(residuals) == 0 {
		return 0, false
	}

	median, ok := stats.WeightedMedian(residuals, residWeights)
	if !ok {
		return 0, false
	}
	return stats.RobustMAD(residuals, residWeights, median)
}

// PredictLog reconstructs a log-price from the baseline plus the summed
// deltas of the given traits. Traits missing from the model contribute
// nothing.
func (m *TraitModel) PredictLog(keys []market.TraitKey) float64 {
	pred := m.BaselineLog
	for _, key := range keys {
		pred += m.TraitDeltas[key]
	}
	return pred
}

// Support returns the effective sample size behind a trait's delta, zero when
// the trait was never observed.
func (m *TraitModel) Support(key market.TraitKey) float64 {
	return m.TraitSupport[key]
}
