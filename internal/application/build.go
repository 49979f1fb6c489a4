// Package application orchestrates the value-model build: load the three
// input documents, weight the observations, fit both trait models, build the
// rarity prior, run the integrity gate, and emit the artifacts. One pass,
// no concurrency, fail-closed.
package application

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/bigpulp/valuemodel/internal/artifact"
	"github.com/bigpulp/valuemodel/internal/config"
	"github.com/bigpulp/valuemodel/internal/market"
	"github.com/bigpulp/valuemodel/internal/model"
	"github.com/bigpulp/valuemodel/internal/persistence"
	"github.com/bigpulp/valuemodel/internal/stats"
)

// Output file names inside the build's out directory.
const (
	ModelFileName       = "value_model.json"
	DiagnosticsFileName = "value_model_diagnostics.json"
)

// askQuantiles are the market summary quantiles emitted on the artifact.
var askQuantiles = map[string]float64{
	"p10": 0.10,
	"p25": 0.25,
	"p50": 0.50,
	"p75": 0.75,
	"p90": 0.90,
}

// RateSource supplies the optional XCH/USD rate; nil result means "unknown".
type RateSource interface {
	USDRate(ctx context.Context) *float64
}

// BuildOptions name the input documents and the output directory.
type BuildOptions struct {
	MetadataPath string
	OffersPath   string
	SalesPath    string
	OutDir       string
	SkipFX       bool
}

// Summary is what the operator sees after a successful build.
type Summary struct {
	AskCount         int
	SaleCount        int
	MappedSales      int
	SalesMappingRate float64
	AskTraits        int
	SalesTraits      int
	PriorTraits      int
	Warnings         []string
	IsHealthy        bool
	XCHUSD           *float64
	ModelPath        string
	DiagnosticsPath  string
}

// Builder runs the batch pipeline. Safe to re-run any number of times:
// identical inputs produce identical model fields.
type Builder struct {
	params config.Params
	rates  RateSource
	ledger persistence.BuildRepo
	log    zerolog.Logger
	now    func() time.Time
}

// NewBuilder wires a pipeline. rates and ledger may be nil, disabling the FX
// annotation and the build ledger respectively.
func NewBuilder(params config.Params, rates RateSource, ledger persistence.BuildRepo, log zerolog.Logger) *Builder {
	return &Builder{
		params: params,
		rates:  rates,
		ledger: ledger,
		log:    log,
		now:    time.Now,
	}
}

// Run executes one build. On any integrity-gate violation it returns the
// aggregated error and writes nothing.
func (b *Builder) Run(ctx context.Context, opts BuildOptions) (*Summary, error) {
	metadataRaw, err := os.ReadFile(opts.MetadataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata document: %w", err)
	}
	offersRaw, err := os.ReadFile(opts.OffersPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read offers index: %w", err)
	}
	salesRaw, err := os.ReadFile(opts.SalesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read sales index: %w", err)
	}

	hashes := artifact.HashInputs(metadataRaw, offersRaw, salesRaw)
	b.log.Info().
		Str("metadata_hash", hashes.Metadata[:12]).
		Str("offers_hash", hashes.Offers[:12]).
		Str("sales_hash", hashes.Sales[:12]).
		Msg("input documents hashed")

	// The one network call happens up front and never blocks the
	// deterministic computation behind retries.
	var xchUSD *float64
	if !opts.SkipFX && b.rates != nil {
		xchUSD = b.rates.USDRate(ctx)
	}

	records, err := market.ParseMetadata(metadataRaw)
	if err != nil {
		return nil, err
	}
	offers, err := market.ParseOffersIndex(offersRaw)
	if err != nil {
		return nil, err
	}
	salesIdx, err := market.ParseSalesIndex(salesRaw)
	if err != nil {
		return nil, err
	}

	traits, err := market.BuildTraitIndex(records)
	if err != nil {
		return nil, err
	}

	askObs := market.LoadAsks(offers, b.params.Weighting.CapMultAsk)
	saleObs := market.LoadSales(salesIdx)
	if len(askObs) == 0 && len(saleObs) == 0 {
		return nil, fmt.Errorf("no ask or sale observations survived loading: nothing to fit")
	}
	b.log.Info().
		Int("asks", len(askObs)).
		Int("sales", len(saleObs)).
		Int("nfts", traits.TotalNFTs()).
		Msg("observations loaded")

	now := b.now()
	askWeights := model.AskWeights(askObs, now, b.params.Weighting)
	saleWeights := model.SaleWeights(saleObs, now, b.params.Weighting)

	askModel := model.Fit(askObs, askWeights, traits, b.params.Fitter)
	salesModel := model.Fit(saleObs, saleWeights, traits, b.params.Fitter)

	mapped := 0
	for _, o := range saleObs {
		if _, ok := traits.Traits(o.ID); ok {
			mapped++
		}
	}
	mappingRate := 0.0
	if len(saleObs) > 0 {
		mappingRate = float64(mapped) / float64(len(saleObs))
	}

	askPrices := make([]float64, len(askObs))
	ones := make([]float64, len(askObs))
	for i, o := range askObs {
		askPrices[i] = o.Price
		ones[i] = 1
	}
	askMedian, _ := stats.WeightedMedian(askPrices, ones)

	gateRNG := rand.New(rand.NewSource(hashes.Seed()))
	gate := model.RunIntegrityGate(model.GateInput{
		Ask:              askModel,
		Sales:            salesModel,
		Traits:           traits,
		SaleObservations: saleObs,
		MappedSales:      mapped,
		TotalSales:       len(saleObs),
		AskMedian:        askMedian,
		OffersMedian:     offers.MarketStats.MedianXCH,
	}, b.params.Gate, gateRNG)
	if err := gate.Err(); err != nil {
		return nil, err
	}

	prior := model.BuildRarityPrior(traits, askModel, salesModel, b.params.Prior)

	validationRNG := rand.New(rand.NewSource(hashes.Seed() + 1))
	validation := artifact.Validate(saleObs, salesModel, traits, b.params.Diagnostics.ValidationSampleSize, validationRNG)
	warnings := artifact.CollectWarnings(len(askObs), len(saleObs), askModel, salesModel, traits, gate.Warnings)

	meta := artifact.NewBuildMeta(now)
	valueModel := b.assembleModel(askModel, salesModel, prior, offers, askPrices, ones, len(saleObs), hashes, meta, xchUSD)
	diagnostics := b.assembleDiagnostics(askModel, salesModel, prior, gate, validation, warnings, mappingRate, len(askObs), len(saleObs))

	modelBytes, err := artifact.MarshalCanonical(valueModel)
	if err != nil {
		return nil, err
	}
	modelPath := filepath.Join(opts.OutDir, ModelFileName)
	if err := artifact.WriteBytesAtomic(modelPath, modelBytes); err != nil {
		return nil, err
	}
	diagPath := filepath.Join(opts.OutDir, DiagnosticsFileName)
	if err := artifact.WriteCanonicalAtomic(diagPath, diagnostics); err != nil {
		return nil, err
	}

	if b.ledger != nil {
		rec := persistence.BuildRecord{
			BuildID:          meta.BuildID,
			GeneratedAt:      now.UTC(),
			SchemaVersion:    artifact.SchemaVersion,
			MetadataHash:     hashes.Metadata,
			OffersHash:       hashes.Offers,
			SalesHash:        hashes.Sales,
			ArtifactHash:     artifact.HashBytes(modelBytes),
			AskCount:         len(askObs),
			SaleCount:        len(saleObs),
			SalesMappingRate: mappingRate,
			IsHealthy:        diagnostics.IsHealthy,
		}
		if err := b.ledger.Record(ctx, rec); err != nil {
			// Bookkeeping only: a ledger outage never fails a valid build.
			b.log.Warn().Err(err).Msg("failed to record build in ledger")
		}
	}

	return &Summary{
		AskCount:         len(askObs),
		SaleCount:        len(saleObs),
		MappedSales:      mapped,
		SalesMappingRate: mappingRate,
		AskTraits:        len(askModel.TraitSupport),
		SalesTraits:      len(salesModel.TraitSupport),
		PriorTraits:      len(prior),
		Warnings:         warnings,
		IsHealthy:        diagnostics.IsHealthy,
		XCHUSD:           xchUSD,
		ModelPath:        modelPath,
		DiagnosticsPath:  diagPath,
	}, nil
}

func (b *Builder) assembleModel(ask, sales *model.TraitModel, prior map[market.TraitKey]float64, offers *market.OffersIndex, askPrices, ones []float64, saleCount int, hashes artifact.InputHashes, meta artifact.BuildMeta, xchUSD *float64) artifact.ValueModel {
	quantiles := make(map[string]float64, len(askQuantiles))
	for name, q := range askQuantiles {
		if v, ok := stats.WeightedQuantile(askPrices, ones, q); ok {
			quantiles[name] = v
		}
	}

	priorOut := make(map[string]float64, len(prior))
	for key, d := range prior {
		priorOut[string(key)] = d
	}

	return artifact.ValueModel{
		SchemaVersion:      artifact.SchemaVersion,
		XCHUSD:             xchUSD,
		Ask:                artifact.NewModelSection(ask),
		Sales:              artifact.NewModelSection(sales),
		TraitPriorDeltaLog: priorOut,
		Market: artifact.MarketSummary{
			FloorXCH:     offers.MarketStats.FloorXCH,
			MedianXCH:    offers.MarketStats.MedianXCH,
			AskQuantiles: quantiles,
			AskCount:     len(askPrices),
			SaleCount:    saleCount,
		},
		InputHashes: hashes,
		Build:       meta,
	}
}

func (b *Builder) assembleDiagnostics(ask, sales *model.TraitModel, prior map[market.TraitKey]float64, gate *model.GateResult, validation artifact.ValidationSample, warnings []string, mappingRate float64, askCount, saleCount int) artifact.Diagnostics {
	g := b.params.Gate
	askSigmaValid := ask.HasSigma && ask.Sigma > g.SigmaMin && ask.Sigma < g.SigmaMax
	salesSigmaValid := sales.HasSigma && sales.Sigma > g.SigmaMin && sales.Sigma < g.SigmaMax
	variancePassed := gate.PredictionStd > g.MinPredictionStd

	return artifact.Diagnostics{
		SalesMappingRate: mappingRate,
		AskCount:         askCount,
		SaleCount:        saleCount,
		AskTraitCount:    len(ask.TraitSupport),
		SalesTraitCount:  len(sales.TraitSupport),
		PriorTraitCount:  len(prior),
		TopAskDeltas:     artifact.TopDeltas(ask, b.params.Diagnostics.TopDeltas),
		TopSalesDeltas:   artifact.TopDeltas(sales, b.params.Diagnostics.TopDeltas),
		Validation:       validation,
		PredictionStd:    gate.PredictionStd,
		VariancePassed:   variancePassed,
		AskSigmaValid:    askSigmaValid,
		SalesSigmaValid:  salesSigmaValid,
		Warnings:         warnings,
		IsHealthy:        len(warnings) == 0 && variancePassed && askSigmaValid,
	}
}
