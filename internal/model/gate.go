package model

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"

	"github.com/bigpulp/valuemodel/internal/config"
	"github.com/bigpulp/valuemodel/internal/market"
)

// GateInput carries everything the integrity gate inspects.
type GateInput struct {
	Ask    *TraitModel
	Sales  *TraitModel
	Traits *market.TraitIndex

	SaleObservations []market.Observation
	MappedSales      int // sale records joined to a known trait set
	TotalSales       int

	AskMedian    float64 // median of loaded (capped) ask prices
	OffersMedian float64 // median reported by the upstream offers index
}

// GateResult is the outcome of the integrity gate. Violations are fatal and
// all of them are reported together; warnings are diagnostics-only.
type GateResult struct {
	Violations []string
	Warnings   []string

	// PredictionStd is the measured price-space standard deviation from the
	// variance check, surfaced for the diagnostics artifact.
	PredictionStd float64
}

// Passed reports whether no hard check failed.
func (r *GateResult) Passed() bool {
	return len(r.Violations) == 0
}

// Err aggregates every violated check into a single error, nil when the gate
// passed. Reporting the full list at once is deliberate: a failed automated
// build should need only one run to debug.
func (r *GateResult) Err() error {
	if r.Passed() {
		return nil
	}
	return fmt.Errorf("model integrity gate failed: %s", strings.Join(r.Violations, "; "))
}

// RunIntegrityGate executes the hard sanity battery against the fitted
// models. The rng drives the prediction-variance sample and must be seeded
// from the input content for reproducible builds.
func RunIntegrityGate(in GateInput, p config.GateParams, rng *rand.Rand) *GateResult {
	r := &GateResult{}

	if len(in.SaleObservations) > 0 {
		checkSales(in, p, r)
	}

	checkSigma(r, "ask", in.Ask, p)
	checkVariance(in, p, rng, r)

	// Soft check: the loaded ask median should roughly agree with what the
	// offers index itself reports.
	if in.OffersMedian > 0 && in.AskMedian > 0 {
		divergence := math.Abs(in.AskMedian-in.OffersMedian) / in.OffersMedian
		if divergence > p.MaxAskMedianDivergence {
			r.Warnings = append(r.Warnings, fmt.Sprintf(
				"ask median %.4f diverges %.0f%% from offers index median %.4f",
				in.AskMedian, divergence*100, in.OffersMedian))
		}
	}

	return r
}

func checkSales(in GateInput, p config.GateParams, r *GateResult) {
	if in.TotalSales > 0 {
		rate := float64(in.MappedSales) / float64(in.TotalSales)
		if rate < p.MinSalesMappingRate {
			r.Violations = append(r.Violations, fmt.Sprintf(
				"sales mapping rate %.3f below minimum %.3f", rate, p.MinSalesMappingRate))
		}
	}

	distinct := make(map[string]struct{}, len(in.SaleObservations))
	for _, o := range in.SaleObservations {
		distinct[o.ID] = struct{}{}
	}
	if len(distinct) <= p.MinDistinctSaleNFTs {
		r.Violations = append(r.Violations, fmt.Sprintf(
			"distinct priced NFT count in sales is %d, need more than %d",
			len(distinct), p.MinDistinctSaleNFTs))
	}

	if len(in.Sales.TraitSupport) == 0 {
		r.Violations = append(r.Violations, "sales trait support map is empty")
	}
	if !in.Sales.HasBaseline || math.IsNaN(in.Sales.BaselineLog) || math.IsInf(in.Sales.BaselineLog, 0) {
		r.Violations = append(r.Violations, "sales baseline log-price is not a finite number")
	}

	checkSigma(r, "sales", in.Sales, p)
}

// checkSigma enforces the open interval (sigmaMin, sigmaMax). A sigma outside
// it means degenerate constant-price data or garbage.
func checkSigma(r *GateResult, name string, m *TraitModel, p config.GateParams) {
	if !m.HasSigma {
		r.Violations = append(r.Violations, fmt.Sprintf("%s model has no residual sigma", name))
		return
	}
	if m.Sigma <= p.SigmaMin || m.Sigma >= p.SigmaMax {
		r.Violations = append(r.Violations, fmt.Sprintf(
			"%s model sigma %.4f outside (%.2f, %.2f)", name, m.Sigma, p.SigmaMin, p.SigmaMax))
	}
}

// checkVariance guards against a degenerate model that predicts a
// near-constant price for everything: predicted prices over a random NFT
// sample must spread by more than the configured standard deviation.
func checkVariance(in GateInput, p config.GateParams, rng *rand.Rand, r *GateResult) {
	m := in.Sales
	if !m.HasBaseline {
		m = in.Ask
	}
	if !m.HasBaseline {
		r.Violations = append(r.Violations, "no model available for prediction variance check")
		return
	}

	ids := in.Traits.IDs()
	sort.Strings(ids)
	if len(ids) == 0 {
		r.Violations = append(r.Violations, "trait index is empty")
		return
	}

	n := p.VarianceSampleSize
	if n > len(ids) {
		n = len(ids)
	}
	rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

	prices := make([]float64, 0, n)
	for _, id := range ids[:n] {
		keys, ok := in.Traits.Traits(id)
		if !ok {
			continue
		}
		prices = append(prices, math.Exp(m.PredictLog(keys)))
	}
	r.PredictionStd = stdDev(prices)
	if r.PredictionStd <= p.MinPredictionStd {
		r.Violations = append(r.Violations, fmt.Sprintf(
			"prediction standard deviation %.5f over %d sampled NFTs at or below minimum %.3f",
			r.PredictionStd, len(prices), p.MinPredictionStd))
	}
}

func stdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	variance := 0.0
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	return math.Sqrt(variance / float64(len(xs)))
}
