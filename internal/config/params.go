// Package config defines the model parameter set for the trait value-model
// build. Parameters are loaded once, validated, and passed explicitly into
// every component; nothing in the pipeline reads package-level state.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Params holds every tunable of the value-model build.
type Params struct {
	Weighting   WeightingParams   `yaml:"weighting"`
	Fitter      FitterParams      `yaml:"fitter"`
	Prior       PriorParams       `yaml:"prior"`
	Gate        GateParams        `yaml:"gate"`
	Diagnostics DiagnosticsParams `yaml:"diagnostics"`
	FX          FXParams          `yaml:"fx"`
}

// WeightingParams controls the per-observation weight factors.
type WeightingParams struct {
	CapMultAsk         float64 `yaml:"cap_mult_ask"`          // hard ask cap: floor × this
	HalfLifeAskDays    float64 `yaml:"half_life_ask_days"`    // asks are perishable
	HalfLifeSaleDays   float64 `yaml:"half_life_sale_days"`   // sales carry longer
	NoTimestampAsk     float64 `yaml:"no_timestamp_ask"`      // decay weight for undated asks
	NoTimestampSale    float64 `yaml:"no_timestamp_sale"`     // decay weight for undated sales
	OutlierZScale      float64 `yaml:"outlier_z_scale"`       // z divisor in the Cauchy downweight
	SameOwnerWeight    float64 `yaml:"same_owner_weight"`     // suspected wash trade
	ExtremeWeight      float64 `yaml:"extreme_weight"`        // upstream extreme flag
	DelusionFloorMult  float64 `yaml:"delusion_floor_mult"`   // floor multiple where delusion damping starts
}

// FitterParams controls winsorization and empirical-Bayes shrinkage.
type FitterParams struct {
	WinsorLowerQ     float64            `yaml:"winsor_lower_q"`
	WinsorUpperQ     float64            `yaml:"winsor_upper_q"`
	KByCategory      map[string]float64 `yaml:"k_by_category"`
	KDefault         float64            `yaml:"k_default"`
	SigmaSampleLimit int                `yaml:"sigma_sample_limit"` // bounded residual sample
}

// PriorParams controls the rarity fallback prior.
type PriorParams struct {
	Beta       float64 `yaml:"beta"`        // deliberately tiny; fallback, not a market signal
	LogClamp   float64 `yaml:"log_clamp"`   // clamp on ln(meanFreq/freq)
	MaxSupport float64 `yaml:"max_support"` // trait is "unpriced" below this nEff in both models
}

// GateParams controls the hard integrity checks.
type GateParams struct {
	MinSalesMappingRate    float64 `yaml:"min_sales_mapping_rate"`
	MinDistinctSaleNFTs    int     `yaml:"min_distinct_sale_nfts"` // strict: count must exceed this
	VarianceSampleSize     int     `yaml:"variance_sample_size"`
	MinPredictionStd       float64 `yaml:"min_prediction_std"` // in price space
	SigmaMin               float64 `yaml:"sigma_min"`
	SigmaMax               float64 `yaml:"sigma_max"`
	MaxAskMedianDivergence float64 `yaml:"max_ask_median_divergence"` // soft check only
}

// DiagnosticsParams controls the diagnostics artifact.
type DiagnosticsParams struct {
	TopDeltas            int `yaml:"top_deltas"`
	ValidationSampleSize int `yaml:"validation_sample_size"`
}

// FXParams controls the optional exchange-rate lookup.
type FXParams struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	Enabled bool          `yaml:"enabled"`
}

// DefaultParams returns the production parameter set.
func DefaultParams() Params {
	return Params{
		Weighting: WeightingParams{
			CapMultAsk:        5.0,
			HalfLifeAskDays:   14,
			HalfLifeSaleDays:  90,
			NoTimestampAsk:    1.0,
			NoTimestampSale:   0.5,
			OutlierZScale:     3.0,
			SameOwnerWeight:   0.2,
			ExtremeWeight:     0.3,
			DelusionFloorMult: 3.0,
		},
		Fitter: FitterParams{
			WinsorLowerQ: 0.10,
			WinsorUpperQ: 0.90,
			KByCategory: map[string]float64{
				"background": 10,
				"base":       14,
				"head":       20,
				"facewear":   20,
				"face":       20,
				"mouth":      20,
				"clothes":    20,
			},
			KDefault:         16,
			SigmaSampleLimit: 200,
		},
		Prior: PriorParams{
			Beta:       0.06,
			LogClamp:   2.0,
			MaxSupport: 1.0,
		},
		Gate: GateParams{
			MinSalesMappingRate:    0.95,
			MinDistinctSaleNFTs:    50,
			VarianceSampleSize:     50,
			MinPredictionStd:       0.03,
			SigmaMin:               0.05,
			SigmaMax:               2.0,
			MaxAskMedianDivergence: 0.5,
		},
		Diagnostics: DiagnosticsParams{
			TopDeltas:            20,
			ValidationSampleSize: 30,
		},
		FX: FXParams{
			URL:     "https://api.coingecko.com/api/v3/simple/price?ids=chia&vs_currencies=usd",
			Timeout: 10 * time.Second,
			Enabled: true,
		},
	}
}

// Load reads a YAML parameter file layered over the defaults.
func Load(path string) (Params, error) {
	p := DefaultParams()

	data, err := os.ReadFile(path)
	if err != nil {
		return Params{}, fmt.Errorf("failed to read params file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Params{}, fmt.Errorf("failed to parse params YAML: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Params{}, fmt.Errorf("params validation failed: %w", err)
	}
	return p, nil
}

// Validate rejects parameter sets that would make the build meaningless.
func (p Params) Validate() error {
	if p.Weighting.CapMultAsk <= 1.0 {
		return fmt.Errorf("cap_mult_ask must exceed 1.0, got %v", p.Weighting.CapMultAsk)
	}
	if p.Weighting.HalfLifeAskDays <= 0 || p.Weighting.HalfLifeSaleDays <= 0 {
		return fmt.Errorf("half-lives must be positive")
	}
	if p.Weighting.SameOwnerWeight <= 0 || p.Weighting.SameOwnerWeight > 1 ||
		p.Weighting.ExtremeWeight <= 0 || p.Weighting.ExtremeWeight > 1 {
		return fmt.Errorf("flag weights must lie in (0,1]")
	}
	if p.Fitter.WinsorLowerQ < 0 || p.Fitter.WinsorUpperQ > 1 ||
		p.Fitter.WinsorLowerQ >= p.Fitter.WinsorUpperQ {
		return fmt.Errorf("winsor quantiles must satisfy 0 <= lower < upper <= 1")
	}
	for cat, k := range p.Fitter.KByCategory {
		if k <= 0 {
			return fmt.Errorf("shrinkage K for category %q must be positive, got %v", cat, k)
		}
	}
	if p.Fitter.KDefault <= 0 {
		return fmt.Errorf("k_default must be positive")
	}
	if p.Prior.Beta < 0 || p.Prior.LogClamp <= 0 {
		return fmt.Errorf("prior parameters out of range")
	}
	if p.Gate.SigmaMin <= 0 || p.Gate.SigmaMax <= p.Gate.SigmaMin {
		return fmt.Errorf("sigma bounds must satisfy 0 < min < max")
	}
	if p.Gate.MinSalesMappingRate <= 0 || p.Gate.MinSalesMappingRate > 1 {
		return fmt.Errorf("min_sales_mapping_rate must lie in (0,1]")
	}
	return nil
}

// K returns the shrinkage constant for a trait category.
func (f FitterParams) K(category string) float64 {
	if k, ok := f.KByCategory[category]; ok {
		return k
	}
	return f.KDefault
}
