package model

import (
	"math"

	"github.com/bigpulp/valuemodel/internal/config"
	"github.com/bigpulp/valuemodel/internal/market"
	"github.com/bigpulp/valuemodel/internal/stats"
)

// BuildRarityPrior computes a weak frequency-based delta for every trait that
// is essentially unpriced in BOTH fitted models. It carries no market signal,
// only a frequency regularizer that keeps valuation coverage gap-free: the
// rarer the trait, the larger its nudge, with the log-ratio clamped before
// scaling by the deliberately small beta.
//
// Traits with effective support at or above maxSupport in either model are
// excluded entirely so market evidence is never double-counted.
func BuildRarityPrior(traits *market.TraitIndex, ask, sales *TraitModel, p config.PriorParams) map[market.TraitKey]float64 {
	prior := make(map[market.TraitKey]float64)

	total := float64(traits.TotalNFTs())
	distinct := float64(traits.DistinctTraits())
	if total <= 0 || distinct <= 0 {
		return prior
	}
	meanFreq := total / distinct

	for key, count := range traits.Frequencies() {
		if count <= 0 {
			continue
		}
		if ask.Support(key) >= p.MaxSupport || sales.Support(key) >= p.MaxSupport {
			continue
		}
		freq := float64(count) / total
		logRatio := stats.Clamp(math.Log(meanFreq/freq), -p.LogClamp, p.LogClamp)
		prior[key] = p.Beta * logRatio
	}
	return prior
}
