package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/deal-pipeline/internal/ingest"
	"github.com/sells-group/deal-pipeline/internal/source"
	"github.com/sells-group/deal-pipeline/internal/store"
	"github.com/sells-group/deal-pipeline/internal/taxonomy"
)

var importCmd = &cobra.Command{
	Use:   "import [source...]",
	Short: "Crawl source index pages into the catalog",
	Long:  "Index phase only: walks each source's listing index and upserts a row per listing. Detail pages are not fetched.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd, args, ingest.Phases{Index: true})
	},
}

var enrichCmd = &cobra.Command{
	Use:   "enrich [source...]",
	Short: "Fetch detail pages for queued deals",
	Long:  "Enrich phase only: renders each queued listing, archives its PDF and writes detail fields, financials and sector.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd, args, ingest.Phases{Enrich: true})
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [source...]",
	Short: "Run import then enrich for each source",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd, args, ingest.Both)
	},
}

func runIngest(cmd *cobra.Command, args []string, phases ingest.Phases) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	if dryRun {
		cfg.Pipeline.DryRun = true
	}
	mode := "catalog"
	if phases.Enrich {
		mode = "ingest"
	}
	if err := cfg.Validate(mode); err != nil {
		return err
	}

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	adapters, err := selectAdapters(siteRegistry(), args)
	if err != nil {
		return err
	}
	if len(adapters) == 0 {
		fmt.Fprintln(os.Stderr, "No sources enabled.")
		return nil
	}

	resolver, err := source.NewResolver(adapters...)
	if err != nil {
		return err
	}
	indexer := ingest.NewIndexIngestor(st, resolver)

	var enricher *ingest.Enricher
	if phases.Enrich {
		var closeObjects func()
		enricher, closeObjects, err = newEnricher(ctx, st, resolver)
		if err != nil {
			return err
		}
		defer closeObjects()
	}

	orch := ingest.NewOrchestrator(st, indexer, enricher)
	orch.Parallel, _ = cmd.Flags().GetBool("parallel")
	orch.MaxRuntime = seconds(cfg.Pipeline.MaxRuntimeSeconds)

	results, runErr := orch.Run(ctx, adapters, phases)
	for _, r := range results {
		if r.Index != nil {
			fmt.Println(r.Index.String())
		}
		if r.Enrich != nil {
			fmt.Println(r.Enrich.String())
		}
		if r.Err != nil {
			zap.L().Error("source failed", zap.String("source", r.Source), zap.Error(r.Err))
		}
	}
	return runErr
}

// newEnricher wires the enricher for one job.
func newEnricher(ctx context.Context, st store.Store, resolver *taxonomy.Resolver) (*ingest.Enricher, func(), error) {
	opts := ingest.Options{
		FreshnessFor: func(name string) int {
			return cfg.Source(name).FreshnessDays
		},
		SessionRestartEvery: cfg.Pipeline.SessionRestartEvery,
		DryRun:              cfg.Pipeline.DryRun,
		MinPDFBytes:         cfg.Pipeline.MinPDFBytes,
		PDFDir:              cfg.Pipeline.PDFDir,
		ExtractionVersion:   cfg.Pipeline.ExtractionVersion,
		FetchRetries:        cfg.Fetch.Retries,
		RunID:               uuid.NewString(),
		BlockedThreshold:    cfg.Pipeline.BlockedThreshold,
	}

	if cfg.Pipeline.DryRun {
		return ingest.NewEnricher(st, resolver, nil, sessionFactory(true), opts), func() {}, nil
	}
	objects, closeObjects, err := initObjects(ctx)
	if err != nil {
		return nil, closeObjects, err
	}
	return ingest.NewEnricher(st, resolver, objects, sessionFactory(false), opts), closeObjects, nil
}

func init() {
	for _, c := range []*cobra.Command{importCmd, enrichCmd, ingestCmd} {
		c.Flags().Bool("parallel", false, "run sources concurrently, one session per source")
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{enrichCmd, ingestCmd} {
		c.Flags().Bool("dry-run", false, "fetch and extract without uploading or writing artifacts (overrides DRY_RUN)")
	}
}
