package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-pipeline/internal/identity"
	"github.com/sells-group/deal-pipeline/internal/model"
	"github.com/sells-group/deal-pipeline/internal/source"
	"github.com/sells-group/deal-pipeline/internal/store"
	"github.com/sells-group/deal-pipeline/internal/taxonomy"
)

// maxIndexErrors aborts an index run whose upserts keep failing.
const maxIndexErrors = 25

// IndexIngestor upserts index rows for one source at a time. It keeps no
// state beyond the catalog.
type IndexIngestor struct {
	store    store.Store
	resolver *taxonomy.Resolver
}

// NewIndexIngestor creates an IndexIngestor.
func NewIndexIngestor(st store.Store, resolver *taxonomy.Resolver) *IndexIngestor {
	return &IndexIngestor{store: st, resolver: resolver}
}

// Run drains the adapter's index sequence into the catalog. An unmapped
// declared sector does not stop the run; the first such TaxonomyError is
// returned once the sequence is drained. A ctx deadline ends the run cleanly
// with TimedOut set; rows already seen are kept.
func (ix *IndexIngestor) Run(ctx context.Context, a source.Adapter) (*IndexSummary, error) {
	start := time.Now()
	sum := &IndexSummary{Source: a.Name()}
	log := zap.L().With(zap.String("component", "index"), zap.String("source", a.Name()))
	log.Info("index: starting")
	// Rows already yielded are written even if the deadline fires meanwhile.
	db := context.WithoutCancel(ctx)

	var taxErr *identity.TaxonomyError
	for rec, err := range a.IndexRecords(ctx) {
		if err != nil && deadlineReached(ctx) {
			sum.TimedOut = true
			break
		}
		if err != nil {
			sum.Errors++
			sum.Duration = time.Since(start)
			return sum, eris.Wrapf(err, "index: %s", a.Name())
		}
		sum.Seen++

		row := rec.Row(a.Name())
		if err := ix.classify(&row); err != nil {
			var te *identity.TaxonomyError
			if !errors.As(err, &te) {
				return sum, err
			}
			sum.Unmapped++
			if taxErr == nil {
				taxErr = te
			}
			log.Warn("index: unmapped sector",
				zap.String("listing_id", row.SourceListingID),
				zap.String("sector_raw", row.SectorRaw),
				zap.String("code", te.Code),
			)
		}

		outcome, err := ix.store.UpsertIndex(db, row)
		if err != nil {
			sum.Errors++
			log.Error("index: upsert failed", zap.String("listing_id", row.SourceListingID), zap.Error(err))
			if sum.Errors >= maxIndexErrors {
				sum.Duration = time.Since(start)
				return sum, eris.Wrapf(err, "index: %s: aborting after %d errors", a.Name(), sum.Errors)
			}
			continue
		}
		switch outcome {
		case store.UpsertInserted:
			sum.Inserted++
		case store.UpsertRefreshed:
			sum.Refreshed++
		}
		if deadlineReached(ctx) {
			sum.TimedOut = true
			break
		}
	}
	if sum.TimedOut {
		log.Warn("index: max runtime reached", zap.Int("seen", sum.Seen))
	}

	sum.Duration = time.Since(start)
	log.Info("index: complete",
		zap.Int("seen", sum.Seen),
		zap.Int("inserted", sum.Inserted),
		zap.Int("refreshed", sum.Refreshed),
		zap.Int("unmapped", sum.Unmapped),
		zap.Bool("timed_out", sum.TimedOut),
		zap.Duration("duration", sum.Duration),
	)
	if taxErr != nil {
		return sum, taxErr
	}
	return sum, nil
}

// classify fills the sector fields of row when the index carries enough to
// place it: a declared sector label, or a reference prefix that encodes one.
// Rows with neither are left for the enricher.
func (ix *IndexIngestor) classify(row *model.IndexRow) error {
	if row.SectorRaw == "" {
		if r, ok := ix.resolver.ResolveRef(row.Source, row.SourceListingID); ok {
			applyIndexResult(row, r)
		}
		return nil
	}
	r, err := ix.resolver.ResolveListing(row.Source, row.SectorRaw, row.Title, "")
	if err != nil {
		return err
	}
	applyIndexResult(row, r)
	return nil
}

func applyIndexResult(row *model.IndexRow, r taxonomy.Result) {
	row.Industry = r.Industry
	row.Sector = r.Sector
	row.SectorSrc = r.Source
	row.Confidence = r.Confidence
	row.Reason = r.Reason
}
