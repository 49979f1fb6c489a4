// Package model implements the statistical core of the value-model build:
// per-observation weighting, the empirical-Bayes trait fitter, the rarity
// fallback prior, and the integrity gate.
package model

import (
	"math"
	"time"

	"github.com/bigpulp/valuemodel/internal/config"
	"github.com/bigpulp/valuemodel/internal/market"
	"github.com/bigpulp/valuemodel/internal/stats"
)

const hoursPerDay = 24.0

// AskWeights computes the per-observation weight vector for ask listings:
// time decay × outlier downweight × delusion downweight. Every weight lies
// in (0, 1].
func AskWeights(obs []market.Observation, now time.Time, p config.WeightingParams) []float64 {
	median, mad := logScale(obs)

	weights := make([]float64, len(obs))
	for i, o := range obs {
		w := timeDecay(o, now, p.HalfLifeAskDays, p.NoTimestampAsk)
		w *= outlierDownweight(o.Price, median, mad, p.OutlierZScale)
		w *= delusionDownweight(o, p.DelusionFloorMult)
		weights[i] = w
	}
	return weights
}

// SaleWeights computes the per-observation weight vector for cleared sales:
// time decay × outlier downweight × flag downweights.
func SaleWeights(obs []market.Observation, now time.Time, p config.WeightingParams) []float64 {
	median, mad := logScale(obs)

	weights := make([]float64, len(obs))
	for i, o := range obs {
		w := timeDecay(o, now, p.HalfLifeSaleDays, p.NoTimestampSale)
		w *= outlierDownweight(o.Price, median, mad, p.OutlierZScale)
		if o.SameOwner {
			w *= p.SameOwnerWeight
		}
		if o.Extreme {
			w *= p.ExtremeWeight
		}
		weights[i] = w
	}
	return weights
}

// logScale returns the global median and MAD of the set's own log-prices.
// Each observation is scored against its own population, never the other
// model's.
func logScale(obs []market.Observation) (median, mad float64) {
	if len(obs) == 0 {
		return 0, 0
	}
	logs := make([]float64, len(obs))
	ones := make([]float64, len(obs))
	for i, o := range obs {
		logs[i] = math.Log(o.Price)
		ones[i] = 1
	}
	median, _ = stats.WeightedMedian(logs, ones)
	mad, _ = stats.RobustMAD(logs, ones, median)
	return median, mad
}

// timeDecay halves an observation's influence every halfLife days. Undated
// observations get the fixed fallback instead of being discarded.
func timeDecay(o market.Observation, now time.Time, halfLifeDays, fallback float64) float64 {
	if !o.HasTimestamp {
		return fallback
	}
	ageDays := now.Sub(o.Timestamp).Hours() / hoursPerDay
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-math.Ln2 * ageDays / halfLifeDays)
}

// outlierDownweight is a smooth Cauchy-like damping of prices far from the
// set's robust center. No hard cutoff: extreme-but-real prices still count.
func outlierDownweight(price, median, mad, zScale float64) float64 {
	z := stats.RobustZScore(math.Log(price), median, mad)
	return 1.0 / (1.0 + (z/zScale)*(z/zScale))
}

// delusionDownweight suppresses listings priced far above the floor. Below
// floorMult × floor the weight is 1; past that it decays quadratically with
// the distance, so delusional asks fade without ever reaching zero.
func delusionDownweight(o market.Observation, floorMult float64) float64 {
	if o.ReferenceFloor <= 0 {
		return 1.0
	}
	excess := o.Price/o.ReferenceFloor - floorMult
	if excess <= 0 {
		return 1.0
	}
	return 1.0 / (1.0 + excess*excess)
}
