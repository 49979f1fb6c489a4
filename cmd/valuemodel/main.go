package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/bigpulp/valuemodel/internal/application"
	"github.com/bigpulp/valuemodel/internal/config"
	"github.com/bigpulp/valuemodel/internal/fx"
	"github.com/bigpulp/valuemodel/internal/persistence"
	"github.com/bigpulp/valuemodel/internal/persistence/postgres"
)

const (
	appName = "valuemodel"
	version = "v2.1.0"
)

var (
	metadataPath string
	offersPath   string
	salesPath    string
	outDir       string
	paramsPath   string
	skipFX       bool
	pgDSN        string
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Empirical-Bayes trait pricing model builder for the bigpulp collection",
		Version: version,
		Long: `valuemodel fits two independent trait pricing models (asks and sales) from
raw marketplace documents, blends in a weak rarity prior for unpriced traits,
validates the result against integrity gates, and emits deterministic,
hashed, versioned JSON artifacts.`,
	}

	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Run one value-model build",
		Long: `Run the full batch pipeline once: load the metadata, offers, and sales
documents, fit both trait models, and write the value-model and diagnostics
artifacts. Exits non-zero with nothing written if any integrity check fails.`,
		RunE: runBuild,
	}
	buildCmd.Flags().StringVar(&metadataPath, "metadata", "data/metadata.json", "Collection metadata document")
	buildCmd.Flags().StringVar(&offersPath, "offers", "data/offers_index.json", "Offers/listings index document")
	buildCmd.Flags().StringVar(&salesPath, "sales", "data/sales_index.json", "Sales index document")
	buildCmd.Flags().StringVar(&outDir, "out-dir", "out", "Directory for emitted artifacts")
	buildCmd.Flags().StringVar(&paramsPath, "config", "", "Model parameter YAML (defaults used when empty)")
	buildCmd.Flags().BoolVar(&skipFX, "skip-fx", false, "Skip the exchange-rate lookup (xch_usd becomes null)")
	buildCmd.Flags().StringVar(&pgDSN, "pg-dsn", "", "Optional PostgreSQL DSN for the build ledger")
	rootCmd.AddCommand(buildCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s (%s)\n", appName, version, runtime.Version())
		},
	})

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("build failed")
		os.Exit(1)
	}
}

func runBuild(cmd *cobra.Command, args []string) error {
	params := config.DefaultParams()
	if paramsPath != "" {
		loaded, err := config.Load(paramsPath)
		if err != nil {
			return err
		}
		params = loaded
	}

	var rates application.RateSource
	if params.FX.Enabled && !skipFX {
		rates = fx.NewClient(params.FX, log.Logger)
	}

	var ledger persistence.BuildRepo
	if pgDSN != "" {
		repo, closeFn, err := postgres.Open(pgDSN)
		if err != nil {
			return err
		}
		defer closeFn()
		ledger = repo
	}

	builder := application.NewBuilder(params, rates, ledger, log.Logger)
	summary, err := builder.Run(context.Background(), application.BuildOptions{
		MetadataPath: metadataPath,
		OffersPath:   offersPath,
		SalesPath:    salesPath,
		OutDir:       outDir,
		SkipFX:       skipFX,
	})
	if err != nil {
		return err
	}

	log.Info().
		Int("asks", summary.AskCount).
		Int("sales", summary.SaleCount).
		Int("ask_traits", summary.AskTraits).
		Int("sales_traits", summary.SalesTraits).
		Int("prior_traits", summary.PriorTraits).
		Float64("sales_mapping_rate", summary.SalesMappingRate).
		Bool("is_healthy", summary.IsHealthy).
		Msg("value model built")
	for _, w := range summary.Warnings {
		log.Warn().Msg(w)
	}

	fmt.Printf("model:       %s\n", summary.ModelPath)
	fmt.Printf("diagnostics: %s\n", summary.DiagnosticsPath)
	if summary.XCHUSD != nil {
		fmt.Printf("xch_usd:     %.4f\n", *summary.XCHUSD)
	} else {
		fmt.Println("xch_usd:     unavailable")
	}
	return nil
}
