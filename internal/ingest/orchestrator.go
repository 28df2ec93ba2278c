package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/deal-pipeline/internal/identity"
	"github.com/sells-group/deal-pipeline/internal/model"
	"github.com/sells-group/deal-pipeline/internal/source"
	"github.com/sells-group/deal-pipeline/internal/store"
)

// Phases selects which ingestion phases a run performs.
type Phases struct {
	Index  bool
	Enrich bool
}

// Both runs index then enrich.
var Both = Phases{Index: true, Enrich: true}

// SourceResult is the outcome of ingesting one source.
type SourceResult struct {
	Source string         `json:"source"`
	Index  *IndexSummary  `json:"index,omitempty"`
	Enrich *EnrichSummary `json:"enrich,omitempty"`
	Err    error          `json:"-"`
}

// Orchestrator drives the index and enrich phases per source and records each
// phase as a run.
type Orchestrator struct {
	store    store.Store
	indexer  *IndexIngestor
	enricher *Enricher
	// Parallel runs sources concurrently, one session per source.
	Parallel bool
	// MaxRuntime bounds the whole job across all sources and phases; zero
	// means unbounded.
	MaxRuntime time.Duration
}

// NewOrchestrator creates an Orchestrator. enricher may be nil when only the
// index phase is run.
func NewOrchestrator(st store.Store, indexer *IndexIngestor, enricher *Enricher) *Orchestrator {
	return &Orchestrator{store: st, indexer: indexer, enricher: enricher}
}

// Run ingests each adapter. A failing source does not stop the others; the
// per-source errors are joined into the returned error. Reaching MaxRuntime
// ends the job cleanly: the running phase stops at its next listing and
// sources not yet started are skipped.
func (o *Orchestrator) Run(ctx context.Context, adapters []source.Adapter, phases Phases) ([]SourceResult, error) {
	if phases.Enrich && o.enricher == nil {
		return nil, eris.New("ingest: enrich phase requested without an enricher")
	}
	if o.MaxRuntime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.MaxRuntime)
		defer cancel()
	}
	results := make([]SourceResult, len(adapters))

	if o.Parallel && len(adapters) > 1 {
		var g errgroup.Group
		for i, a := range adapters {
			g.Go(func() error {
				results[i] = o.runSource(ctx, a, phases)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, a := range adapters {
			if deadlineReached(ctx) {
				zap.L().Warn("ingest: max runtime reached, skipping remaining sources",
					zap.Int("skipped", len(adapters)-i))
				results = results[:i]
				break
			}
			if err := ctx.Err(); err != nil {
				results = results[:i]
				return results, eris.Wrap(err, "ingest: cancelled")
			}
			results[i] = o.runSource(ctx, a, phases)
		}
	}

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return results, errors.Join(errs...)
}

func (o *Orchestrator) runSource(ctx context.Context, a source.Adapter, phases Phases) SourceResult {
	res := SourceResult{Source: a.Name()}
	var errs []error

	if phases.Index {
		err := o.recorded(ctx, "import", a.Name(), func() (any, error) {
			sum, err := o.indexer.Run(ctx, a)
			res.Index = sum
			return sum, err
		})
		if err != nil {
			errs = append(errs, err)
			// Only taxonomy violations let enrichment proceed; the rows are in.
			if !identity.IsTaxonomy(err) {
				res.Err = err
				return res
			}
		}
	}

	if phases.Enrich {
		err := o.recorded(ctx, "enrich", a.Name(), func() (any, error) {
			sum, err := o.enricher.Run(ctx, a)
			res.Enrich = sum
			return sum, err
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	res.Err = errors.Join(errs...)
	return res
}

// recorded wraps a phase in a runs row. Failing to record a run is logged and
// never fails the phase.
func (o *Orchestrator) recorded(ctx context.Context, command, src string, fn func() (any, error)) error {
	run, err := o.store.StartRun(context.WithoutCancel(ctx), command, src)
	if err != nil {
		zap.L().Warn("ingest: start run", zap.String("command", command), zap.String("source", src), zap.Error(err))
	}
	summary, phaseErr := fn()
	if run != nil {
		status := model.RunComplete
		if phaseErr != nil {
			status = model.RunFailed
		}
		if err := o.store.FinishRun(context.WithoutCancel(ctx), run.ID, status, summary); err != nil {
			zap.L().Warn("ingest: finish run", zap.String("run_id", run.ID), zap.Error(err))
		}
	}
	return phaseErr
}
