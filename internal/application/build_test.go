package application

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigpulp/valuemodel/internal/config"
	"github.com/bigpulp/valuemodel/internal/persistence"
)

type fixedRate struct{ rate float64 }

func (f *fixedRate) USDRate(ctx context.Context) *float64 {
	r := f.rate
	return &r
}

type memLedger struct{ records []persistence.BuildRecord }

func (m *memLedger) Record(ctx context.Context, rec persistence.BuildRecord) error {
	m.records = append(m.records, rec)
	return nil
}

// writeFixtures produces a coherent document triple: 120 NFTs, asks for the
// first 80, and saleCount sales with trait-driven price structure plus
// off-trait noise so sigma and prediction variance land inside gate bounds.
func writeFixtures(t *testing.T, dir string, saleCount int) (metadata, offers, sales string) {
	t.Helper()

	type attr struct {
		TraitType string `json:"trait_type"`
		Value     string `json:"value"`
	}
	type rec struct {
		Name       string `json:"name"`
		Attributes []attr `json:"attributes"`
	}

	price := func(i int) float64 { return 6.0 + 3.0*float64(i%4) + 2.0*float64(i%3) }

	records := make([]rec, 0, 120)
	for i := 1; i <= 120; i++ {
		head := "Cap"
		if i%2 == 0 {
			head = "Crown"
		}
		records = append(records, rec{
			Name: fmt.Sprintf("Big Pulp #%d", i),
			Attributes: []attr{
				{TraitType: "Head", Value: head},
				{TraitType: "Background", Value: fmt.Sprintf("BG%d", i%4)},
			},
		})
	}

	listings := make(map[string]any, 80)
	for i := 1; i <= 80; i++ {
		listings[fmt.Sprintf("%d", i)] = map[string]any{
			"best_listing": map[string]any{
				"price_xch":  price(i) * 1.1,
				"updated_at": "2026-08-20T10:00:00Z",
			},
		}
	}
	offersDoc := map[string]any{
		"listings_by_id": listings,
		"market_stats":   map[string]any{"floor_xch": 6.6, "median_xch": 12.0},
	}

	events := make([]map[string]any, 0, saleCount)
	for i := 1; i <= saleCount; i++ {
		events = append(events, map[string]any{
			"internal_id":    fmt.Sprintf("%d", i),
			"price_xch":      price(i),
			"is_valid_price": true,
			"timestamp":      "2026-08-10T00:00:00Z",
		})
	}
	salesDoc := map[string]any{"events": events}

	metadata = filepath.Join(dir, "metadata.json")
	offers = filepath.Join(dir, "offers_index.json")
	sales = filepath.Join(dir, "sales_index.json")
	for path, doc := range map[string]any{metadata: records, offers: offersDoc, sales: salesDoc} {
		data, err := json.Marshal(doc)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, data, 0o644))
	}
	return metadata, offers, sales
}

func testBuilder(ledger persistence.BuildRepo) *Builder {
	b := NewBuilder(config.DefaultParams(), &fixedRate{rate: 14.5}, ledger, zerolog.Nop())
	b.now = func() time.Time { return time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC) }
	return b
}

func TestRun_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	metadata, offers, sales := writeFixtures(t, dir, 100)
	ledger := &memLedger{}

	summary, err := testBuilder(ledger).Run(context.Background(), BuildOptions{
		MetadataPath: metadata,
		OffersPath:   offers,
		SalesPath:    sales,
		OutDir:       filepath.Join(dir, "out"),
	})
	require.NoError(t, err)

	assert.Equal(t, 80, summary.AskCount)
	assert.Equal(t, 100, summary.SaleCount)
	assert.Equal(t, 100, summary.MappedSales)
	assert.InDelta(t, 1.0, summary.SalesMappingRate, 1e-12)
	assert.Greater(t, summary.AskTraits, 0)
	assert.Greater(t, summary.SalesTraits, 0)
	require.NotNil(t, summary.XCHUSD)
	assert.Equal(t, 14.5, *summary.XCHUSD)

	// Both artifacts exist and parse.
	var modelDoc map[string]any
	data, err := os.ReadFile(summary.ModelPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &modelDoc))
	assert.EqualValues(t, 2, modelDoc["schema_version"])
	assert.Contains(t, modelDoc, "input_hashes")

	var diagDoc map[string]any
	data, err = os.ReadFile(summary.DiagnosticsPath)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &diagDoc))
	assert.Contains(t, diagDoc, "is_healthy")

	// The ledger saw exactly one record for this build.
	require.Len(t, ledger.records, 1)
	assert.Equal(t, 100, ledger.records[0].SaleCount)
	assert.NotEmpty(t, ledger.records[0].ArtifactHash)
}

func TestRun_Deterministic(t *testing.T) {
	dir := t.TempDir()
	metadata, offers, sales := writeFixtures(t, dir, 100)

	run := func(out string) map[string]any {
		summary, err := testBuilder(nil).Run(context.Background(), BuildOptions{
			MetadataPath: metadata,
			OffersPath:   offers,
			SalesPath:    sales,
			OutDir:       out,
			SkipFX:       true,
		})
		require.NoError(t, err)
		data, err := os.ReadFile(summary.ModelPath)
		require.NoError(t, err)
		var doc map[string]any
		require.NoError(t, json.Unmarshal(data, &doc))
		return doc
	}

	a := run(filepath.Join(dir, "out_a"))
	b := run(filepath.Join(dir, "out_b"))

	// Everything except the per-run build metadata must be byte-identical;
	// compare the canonical re-serialization of the remaining fields.
	delete(a, "build")
	delete(b, "build")
	aBytes, err := json.Marshal(a)
	require.NoError(t, err)
	bBytes, err := json.Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, aBytes, bBytes)
}

func TestRun_GateFailureWritesNothing(t *testing.T) {
	dir := t.TempDir()
	metadata, offers, sales := writeFixtures(t, dir, 10)
	out := filepath.Join(dir, "out")

	_, err := testBuilder(nil).Run(context.Background(), BuildOptions{
		MetadataPath: metadata,
		OffersPath:   offers,
		SalesPath:    sales,
		OutDir:       out,
		SkipFX:       true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "integrity gate failed")
	assert.Contains(t, err.Error(), "distinct priced NFT count")

	// Fail-closed: the out directory must not contain partial artifacts.
	_, statErr := os.Stat(filepath.Join(out, ModelFileName))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(out, DiagnosticsFileName))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_MissingOffersIsFatal(t *testing.T) {
	dir := t.TempDir()
	metadata, _, sales := writeFixtures(t, dir, 100)

	_, err := testBuilder(nil).Run(context.Background(), BuildOptions{
		MetadataPath: metadata,
		OffersPath:   filepath.Join(dir, "missing.json"),
		SalesPath:    sales,
		OutDir:       filepath.Join(dir, "out"),
		SkipFX:       true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "offers index")
}

func TestRun_SkipFXLeavesRateNil(t *testing.T) {
	dir := t.TempDir()
	metadata, offers, sales := writeFixtures(t, dir, 100)

	summary, err := testBuilder(nil).Run(context.Background(), BuildOptions{
		MetadataPath: metadata,
		OffersPath:   offers,
		SalesPath:    sales,
		OutDir:       filepath.Join(dir, "out"),
		SkipFX:       true,
	})
	require.NoError(t, err)
	assert.Nil(t, summary.XCHUSD)

	data, err := os.ReadFile(summary.ModelPath)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	rate, present := doc["xch_usd"]
	assert.True(t, present, "xch_usd field must exist even when degraded")
	assert.Nil(t, rate)
}
