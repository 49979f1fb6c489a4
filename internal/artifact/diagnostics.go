package artifact

import (
	"math"
	"math/rand"
	"sort"

	"github.com/bigpulp/valuemodel/internal/market"
	"github.com/bigpulp/valuemodel/internal/model"
	"github.com/bigpulp/valuemodel/internal/stats"
)

// Soft-diagnostic thresholds. These feed warnings and is_healthy only; the
// fatal checks live in the integrity gate.
const (
	sparseSalesThreshold  = 100
	nearZeroSigma         = 0.10
	minTraitCoverageRatio = 0.5
)

// Diagnostics is the monitoring companion to the value model. Nothing in it
// is fatal; is_healthy exists so an automated pipeline can alert without
// blocking the publish.
type Diagnostics struct {
	SalesMappingRate float64 `json:"sales_mapping_rate"`
	AskCount         int     `json:"ask_count"`
	SaleCount        int     `json:"sale_count"`
	AskTraitCount    int     `json:"ask_trait_count"`
	SalesTraitCount  int     `json:"sales_trait_count"`
	PriorTraitCount  int     `json:"prior_trait_count"`

	TopAskDeltas   []TraitDelta `json:"top_ask_deltas"`
	TopSalesDeltas []TraitDelta `json:"top_sales_deltas"`

	Validation      ValidationSample `json:"validation"`
	PredictionStd   float64          `json:"prediction_std"`
	VariancePassed  bool             `json:"variance_passed"`
	AskSigmaValid   bool             `json:"ask_sigma_valid"`
	SalesSigmaValid bool             `json:"sales_sigma_valid"`

	Warnings  []string `json:"warnings"`
	IsHealthy bool     `json:"is_healthy"`
}

// TraitDelta is one ranked entry of the largest-magnitude deltas.
type TraitDelta struct {
	Trait   string  `json:"trait"`
	Delta   float64 `json:"delta"`
	Support float64 `json:"support"`
}

// ValidationSample reports prediction error over randomly sampled sales.
type ValidationSample struct {
	SampleSize      int     `json:"sample_size"`
	MeanAbsErrLog   float64 `json:"mean_abs_err_log"`
	MedianAbsPctErr float64 `json:"median_abs_pct_err"`
}

// TopDeltas returns the n largest-magnitude trait deltas of a model, ordered
// by |delta| descending with the trait key as tie-breaker.
func TopDeltas(m *model.TraitModel, n int) []TraitDelta {
	out := make([]TraitDelta, 0, len(m.TraitDeltas))
	for key, d := range m.TraitDeltas {
		out = append(out, TraitDelta{Trait: string(key), Delta: d, Support: m.TraitSupport[key]})
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := math.Abs(out[i].Delta), math.Abs(out[j].Delta)
		if ai != aj {
			return ai > aj
		}
		return out[i].Trait < out[j].Trait
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Validate measures prediction error of the sales model over a random sample
// of sale observations. The rng must be seeded from the input content so the
// sample is replayable.
func Validate(sales []market.Observation, m *model.TraitModel, traits *market.TraitIndex, sampleSize int, rng *rand.Rand) ValidationSample {
	if len(sales) == 0 || !m.HasBaseline {
		return ValidationSample{}
	}

	idxs := rng.Perm(len(sales))
	if sampleSize < len(idxs) {
		idxs = idxs[:sampleSize]
	}

	absErrs := make([]float64, 0, len(idxs))
	absPctErrs := make([]float64, 0, len(idxs))
	for _, i := range idxs {
		o := sales[i]
		keys, ok := traits.Traits(o.ID)
		if !ok {
			continue
		}
		predLog := m.PredictLog(keys)
		actualLog := math.Log(o.Price)
		absErrs = append(absErrs, math.Abs(predLog-actualLog))
		absPctErrs = append(absPctErrs, math.Abs(math.Exp(predLog)-o.Price)/o.Price)
	}
	if len(absErrs) == 0 {
		return ValidationSample{}
	}

	mae := 0.0
	for _, e := range absErrs {
		mae += e
	}
	mae /= float64(len(absErrs))

	ones := make([]float64, len(absPctErrs))
	for i := range ones {
		ones[i] = 1
	}
	medAPE, _ := stats.WeightedMedian(absPctErrs, ones)

	return ValidationSample{
		SampleSize:      len(absErrs),
		MeanAbsErrLog:   mae,
		MedianAbsPctErr: medAPE,
	}
}

// CollectWarnings derives the soft warning list from the fitted models and
// the gate's own soft findings.
func CollectWarnings(askCount, saleCount int, ask, sales *model.TraitModel, traits *market.TraitIndex, gateWarnings []string) []string {
	warnings := append([]string{}, gateWarnings...)

	if saleCount > 0 && saleCount < sparseSalesThreshold {
		warnings = append(warnings, "sparse sales sample: estimates lean heavily on shrinkage")
	}
	if saleCount > 0 && sales.HasSigma && sales.Sigma < nearZeroSigma {
		warnings = append(warnings, "sales residual sigma near zero: prices may be degenerate")
	}
	if askCount > 0 && ask.HasSigma && ask.Sigma < nearZeroSigma {
		warnings = append(warnings, "ask residual sigma near zero: listings may be degenerate")
	}

	covered := make(map[string]struct{})
	for key := range ask.TraitSupport {
		covered[string(key)] = struct{}{}
	}
	for key := range sales.TraitSupport {
		covered[string(key)] = struct{}{}
	}
	if distinct := traits.DistinctTraits(); distinct > 0 {
		if float64(len(covered))/float64(distinct) < minTraitCoverageRatio {
			warnings = append(warnings, "low trait coverage: most traits rely on the rarity prior")
		}
	}
	return warnings
}
