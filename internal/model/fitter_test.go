package model

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigpulp/valuemodel/internal/config"
	"github.com/bigpulp/valuemodel/internal/market"
)

// traitIndexFixture builds a metadata index where NFT ids 1..n all carry the
// given trait.
func traitIndexFixture(t *testing.T, n int, category, value string) *market.TraitIndex {
	t.Helper()
	records := make([]market.MetadataRecord, 0, n)
	for i := 1; i <= n; i++ {
		records = append(records, market.MetadataRecord{
			Name:       fmt.Sprintf("Big Pulp #%d", i),
			Attributes: []market.Attribute{{TraitType: category, Value: value}},
		})
	}
	idx, err := market.BuildTraitIndex(records)
	require.NoError(t, err)
	return idx
}

func TestFitDeltas_ShrinkageExample(t *testing.T) {
	// Two sales of head::bandana at 10 and 12, unit weights, baseline
	// log 2.0, K=20: naiveDelta ≈ 0.394, nEff=2, delta ≈ 0.394×2/22.
	idx := traitIndexFixture(t, 2, "Head", "Bandana")
	obs := []market.Observation{
		{ID: "1", Price: 10},
		{ID: "2", Price: 12},
	}
	weights := []float64{1, 1}

	p := config.DefaultParams().Fitter
	p.KByCategory = map[string]float64{"head": 20}

	deltas, support := FitDeltas(obs, weights, idx, 2.0, p)

	key := market.NewTraitKey("Head", "Bandana")
	require.Contains(t, deltas, key)
	assert.GreaterOrEqual(t, deltas[key], 0.03)
	assert.LessOrEqual(t, deltas[key], 0.04)
	assert.InDelta(t, 2.0, support[key], 1e-12)
}

func TestFitDeltas_ShrinkageMonotonicInSupport(t *testing.T) {
	// Same per-observation evidence, growing sample: the shrunk delta's
	// magnitude must strictly increase and approach the naive estimate.
	p := config.DefaultParams().Fitter
	p.KByCategory = map[string]float64{"head": 20}
	key := market.NewTraitKey("Head", "Bandana")
	baseline := 2.0
	naive := math.Log(10) - baseline

	prev := 0.0
	for _, n := range []int{1, 2, 5, 20, 200, 2000} {
		idx := traitIndexFixture(t, n, "Head", "Bandana")
		obs := make([]market.Observation, n)
		weights := make([]float64, n)
		for i := 0; i < n; i++ {
			obs[i] = market.Observation{ID: fmt.Sprintf("%d", i+1), Price: 10}
			weights[i] = 1
		}

		deltas, _ := FitDeltas(obs, weights, idx, baseline, p)
		d := deltas[key]
		assert.Greater(t, d, prev, "delta must grow with nEff (n=%d)", n)
		assert.Less(t, d, naive, "shrunk delta must stay below naive (n=%d)", n)
		prev = d
	}
	// With nEff=2000 and K=20, shrinkage retains ~99% of the naive delta.
	assert.InDelta(t, naive, prev, naive*0.02)
}

func TestWinsorize_Bounded(t *testing.T) {
	// 20 unit weights: the p10 walk stops on the second element and the p90
	// walk on the 18th, so both outliers sit outside the clip range.
	values := []float64{-10, 100}
	for i := 1; i <= 18; i++ {
		values = append(values, float64(i))
	}
	weights := make([]float64, len(values))
	for i := range weights {
		weights[i] = 1
	}

	out := winsorize(values, weights, 0.10, 0.90)
	require.Len(t, out, len(values))

	lo, hi := out[0], out[0]
	for _, v := range out {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	// Every winsorized value sits inside the sample's own [p10, p90] range;
	// the extremes are clipped, not removed.
	assert.GreaterOrEqual(t, lo, 1.0)
	assert.LessOrEqual(t, hi, 17.0)
	assert.Equal(t, len(values), len(out))

	// Input slice is untouched.
	assert.Equal(t, -10.0, values[0])
	assert.Equal(t, 100.0, values[len(values)-1])
}

func TestFit_BaselineIsWeightedMedian(t *testing.T) {
	idx := traitIndexFixture(t, 3, "Head", "Bandana")
	obs := []market.Observation{
		{ID: "1", Price: 5},
		{ID: "2", Price: 10},
		{ID: "3", Price: 20},
	}
	weights := []float64{1, 1, 1}

	m := Fit(obs, weights, idx, config.DefaultParams().Fitter)
	require.True(t, m.HasBaseline)
	assert.InDelta(t, math.Log(10), m.BaselineLog, 1e-12)
	assert.True(t, m.HasSigma)
}

func TestFit_EmptySet(t *testing.T) {
	idx := traitIndexFixture(t, 1, "Head", "Bandana")
	m := Fit(nil, nil, idx, config.DefaultParams().Fitter)

	assert.False(t, m.HasBaseline)
	assert.False(t, m.HasSigma)
	assert.Empty(t, m.TraitDeltas)
	assert.Empty(t, m.TraitSupport)
}

func TestFit_UnmappedObservationsIgnored(t *testing.T) {
	idx := traitIndexFixture(t, 1, "Head", "Bandana")
	obs := []market.Observation{
		{ID: "1", Price: 10},
		{ID: "9999", Price: 50}, // not in metadata: contributes to baseline only
	}
	weights := []float64{1, 1}

	m := Fit(obs, weights, idx, config.DefaultParams().Fitter)
	assert.Len(t, m.TraitSupport, 1)
	assert.InDelta(t, 1.0, m.Support(market.NewTraitKey("Head", "Bandana")), 1e-12)
}

func TestPredictLog_SumsDeltas(t *testing.T) {
	m := &TraitModel{
		BaselineLog: 1.0,
		HasBaseline: true,
		TraitDeltas: map[market.TraitKey]float64{
			"head::Crown":   0.5,
			"background::X": -0.1,
		},
	}

	pred := m.PredictLog([]market.TraitKey{"head::Crown", "background::X", "mouth::Unseen"})
	assert.InDelta(t, 1.4, pred, 1e-12)
}

func TestFit_ZeroSupportTraitsAbsent(t *testing.T) {
	// Traits that never appear on a priced NFT are absent from the maps,
	// not present with a zero value. The rarity prior depends on this.
	records := []market.MetadataRecord{
		{Name: "Big Pulp #1", Attributes: []market.Attribute{{TraitType: "Head", Value: "Bandana"}}},
		{Name: "Big Pulp #2", Attributes: []market.Attribute{{TraitType: "Head", Value: "Crown"}}},
	}
	idx, err := market.BuildTraitIndex(records)
	require.NoError(t, err)

	obs := []market.Observation{{ID: "1", Price: 10}}
	m := Fit(obs, []float64{1}, idx, config.DefaultParams().Fitter)

	_, hasCrown := m.TraitSupport[market.NewTraitKey("Head", "Crown")]
	assert.False(t, hasCrown)
	_, hasCrown = m.TraitDeltas[market.NewTraitKey("Head", "Crown")]
	assert.False(t, hasCrown)
}
