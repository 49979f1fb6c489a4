package artifact

import (
	"runtime"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/bigpulp/valuemodel/internal/model"
)

// SchemaVersion identifies the artifact layout for downstream consumers.
const SchemaVersion = 2

// ValueModel is the emitted pricing model document. Constructed once per
// build, never mutated; consumers treat it as a read-only versioned snapshot.
type ValueModel struct {
	SchemaVersion      int                `json:"schema_version"`
	XCHUSD             *float64           `json:"xch_usd"`
	Ask                ModelSection       `json:"ask"`
	Sales              ModelSection       `json:"sales"`
	TraitPriorDeltaLog map[string]float64 `json:"trait_prior_delta_log"`
	Market             MarketSummary      `json:"market"`
	InputHashes        InputHashes        `json:"input_hashes"`
	Build              BuildMeta          `json:"build"`
}

// ModelSection serializes one fitted trait model. BaselineLog and Sigma are
// null when the underlying observation set was empty.
type ModelSection struct {
	BaselineLog   *float64           `json:"baseline_log"`
	TraitDeltaLog map[string]float64 `json:"trait_delta_log"`
	TraitSupport  map[string]float64 `json:"trait_support"`
	Sigma         *float64           `json:"sigma"`
}

// MarketSummary carries collection-level summary prices.
type MarketSummary struct {
	FloorXCH     float64            `json:"floor_xch"`
	MedianXCH    float64            `json:"median_xch"`
	AskQuantiles map[string]float64 `json:"ask_quantiles"`
	AskCount     int                `json:"ask_count"`
	SaleCount    int                `json:"sale_count"`
}

// BuildMeta records where and when the artifact came from.
type BuildMeta struct {
	BuildID     string `json:"build_id"`
	GeneratedAt string `json:"generated_at"`
	Revision    string `json:"revision"`
	GoVersion   string `json:"go_version"`
}

// NewModelSection converts a fitted model into its serialized form.
func NewModelSection(m *model.TraitModel) ModelSection {
	s := ModelSection{
		TraitDeltaLog: make(map[string]float64, len(m.TraitDeltas)),
		TraitSupport:  make(map[string]float64, len(m.TraitSupport)),
	}
	for key, d := range m.TraitDeltas {
		s.TraitDeltaLog[string(key)] = d
	}
	for key, n := range m.TraitSupport {
		s.TraitSupport[string(key)] = n
	}
	if m.HasBaseline {
		baseline := m.BaselineLog
		s.BaselineLog = &baseline
	}
	if m.HasSigma {
		sigma := m.Sigma
		s.Sigma = &sigma
	}
	return s
}

// NewBuildMeta stamps the artifact with a fresh build id, the VCS revision
// when the binary carries one, and the Go runtime version.
func NewBuildMeta(now time.Time) BuildMeta {
	meta := BuildMeta{
		BuildID:     uuid.NewString(),
		GeneratedAt: now.UTC().Format(time.RFC3339),
		GoVersion:   runtime.Version(),
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				meta.Revision = setting.Value
				break
			}
		}
	}
	return meta
}
