package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-pipeline/internal/fetch"
	"github.com/sells-group/deal-pipeline/internal/identity"
	"github.com/sells-group/deal-pipeline/internal/model"
	"github.com/sells-group/deal-pipeline/internal/objectstore"
	"github.com/sells-group/deal-pipeline/internal/resilience"
	"github.com/sells-group/deal-pipeline/internal/source"
	"github.com/sells-group/deal-pipeline/internal/store"
	"github.com/sells-group/deal-pipeline/internal/taxonomy"
)

// Defaults for enrichment options.
const (
	DefaultSessionRestartEvery = 40
	DefaultMinPDFBytes         = 10 * 1024
	DefaultFreshnessDays       = 7
	DefaultExtractionVersion   = "v1"
	DefaultBlockedThreshold    = 5
)

// Options configures an Enricher.
type Options struct {
	FreshnessDays int
	// FreshnessFor overrides FreshnessDays per source when it returns a
	// positive value.
	FreshnessFor        func(source string) int
	SessionRestartEvery int
	DryRun              bool
	MinPDFBytes         int64
	PDFDir              string
	ExtractionVersion   string
	// FetchRetries is the number of retries after the first detail fetch.
	FetchRetries int
	FetchBackoff time.Duration
	// RunID tags artifacts with the job that created them.
	RunID string
	// BlockedThreshold ends a source's batch after this many consecutive
	// listings fail to fetch or come back blocked. Negative disables it.
	BlockedThreshold int
}

func (o Options) withDefaults() Options {
	if o.FreshnessDays <= 0 {
		o.FreshnessDays = DefaultFreshnessDays
	}
	if o.SessionRestartEvery <= 0 {
		o.SessionRestartEvery = DefaultSessionRestartEvery
	}
	if o.MinPDFBytes <= 0 {
		o.MinPDFBytes = DefaultMinPDFBytes
	}
	if o.PDFDir == "" {
		o.PDFDir = filepath.Join(os.TempDir(), "deal-pdfs")
	}
	if o.ExtractionVersion == "" {
		o.ExtractionVersion = DefaultExtractionVersion
	}
	if o.FetchRetries < 0 {
		o.FetchRetries = 0
	}
	if o.RunID == "" {
		o.RunID = uuid.NewString()
	}
	if o.BlockedThreshold == 0 {
		o.BlockedThreshold = DefaultBlockedThreshold
	}
	return o
}

// Enricher promotes index rows to complete deals, one source at a time.
type Enricher struct {
	store    store.Store
	resolver *taxonomy.Resolver
	objects  objectstore.Store
	sessions source.SessionFactory
	opts     Options
}

// NewEnricher creates an Enricher. objects may be nil only for dry runs.
func NewEnricher(st store.Store, resolver *taxonomy.Resolver, objects objectstore.Store, sessions source.SessionFactory, opts Options) *Enricher {
	return &Enricher{
		store:    st,
		resolver: resolver,
		objects:  objects,
		sessions: sessions,
		opts:     opts.withDefaults(),
	}
}

// listingResult is the fate of one listing. fatal aborts the job.
type listingResult struct {
	outcome Outcome
	reason  string
	taxErr  *identity.TaxonomyError
	fatal   error
	// fetchErr is set when the detail page could not be fetched.
	fetchErr error
}

func (e *Enricher) freshnessDays(src string) int {
	if e.opts.FreshnessFor != nil {
		if d := e.opts.FreshnessFor(src); d > 0 {
			return d
		}
	}
	return e.opts.FreshnessDays
}

// Run processes the source's refresh queue serially. Per-listing failures are
// recorded on the deal and counted; the job fails only when its session
// cannot be opened, the catalog is unusable, or a taxonomy violation was
// seen, in which case the first TaxonomyError is returned after the batch.
//
// A ctx deadline is the job's runtime bound: reaching it ends the batch
// cleanly with TimedOut set. Any other cancellation is an error.
func (e *Enricher) Run(ctx context.Context, a source.Adapter) (*EnrichSummary, error) {
	start := time.Now()
	sum := newEnrichSummary(a.Name())
	log := zap.L().With(zap.String("component", "enrich"), zap.String("source", a.Name()))
	defer func() { sum.Duration = time.Since(start) }()

	if deadlineReached(ctx) {
		sum.TimedOut = true
		log.Warn("enrich: max runtime reached before start")
		return sum, nil
	}

	deals, err := e.store.FetchDealsForEnrichment(ctx, a.Name(), e.freshnessDays(a.Name()), a.Order())
	if err != nil {
		return sum, eris.Wrapf(err, "enrich: load queue %s", a.Name())
	}
	sum.Queued = len(deals)
	log.Info("enrich: starting", zap.Int("queued", len(deals)), zap.Bool("dry_run", e.opts.DryRun))

	breaker := resilience.NewBreaker(e.opts.BlockedThreshold, nil)

	var sess source.Session
	closeSession := func() {
		if sess == nil {
			return
		}
		if err := sess.Close(); err != nil {
			log.Warn("enrich: close session", zap.Error(err))
		}
		sess = nil
	}
	defer closeSession()

	var taxErr *identity.TaxonomyError
	sinceRestart := 0
	for i := range deals {
		if deadlineReached(ctx) {
			sum.TimedOut = true
			log.Warn("enrich: max runtime reached", zap.Int("remaining", len(deals)-i))
			break
		}
		if err := ctx.Err(); err != nil {
			return sum, eris.Wrap(err, "enrich: cancelled")
		}
		if breaker.Allow() != nil {
			sum.BlockedOut = true
			log.Warn("enrich: source keeps blocking, ending batch",
				zap.Int("consecutive", e.opts.BlockedThreshold),
				zap.Int("remaining", len(deals)-i),
			)
			break
		}

		if sess != nil && sinceRestart >= e.opts.SessionRestartEvery {
			log.Info("enrich: restarting session", zap.Int("after", sinceRestart))
			closeSession()
		}
		if sess == nil {
			sess, err = e.sessions.Open(ctx, a)
			if err != nil {
				return sum, eris.Wrapf(err, "enrich: open session %s", a.Name())
			}
			sum.Sessions++
			sinceRestart = 0
		}

		res := e.processSafe(ctx, sess, a, &deals[i], sum)
		sinceRestart++
		sum.count(res.outcome, res.reason)
		breaker.Record(res.fetchErr, nil)
		if res.taxErr != nil && taxErr == nil {
			taxErr = res.taxErr
		}
		if res.fatal != nil {
			return sum, res.fatal
		}
		if res.outcome == OutcomeFailed {
			// A panicking or wedged session is not reused.
			closeSession()
		}
	}
	// The last listing may have been the one cut by the deadline.
	if deadlineReached(ctx) {
		sum.TimedOut = true
	}

	sum.Duration = time.Since(start)
	log.Info("enrich: complete",
		zap.Int("processed", sum.Processed),
		zap.Int("updated", sum.Updated),
		zap.Int("unchanged", sum.Unchanged),
		zap.Int("lost", sum.Lost),
		zap.Int("quarantined", sum.Quarantined),
		zap.Int("retry", sum.Retry),
		zap.Int("failed", sum.Failed),
		zap.Int("artifacts", sum.Artifacts),
		zap.Bool("timed_out", sum.TimedOut),
		zap.Bool("blocked_out", sum.BlockedOut),
		zap.Duration("duration", sum.Duration),
	)
	if taxErr != nil {
		return sum, taxErr
	}
	return sum, nil
}

// processSafe contains panics to the listing that raised them.
func (e *Enricher) processSafe(ctx context.Context, sess source.Session, a source.Adapter, d *model.Deal, sum *EnrichSummary) (res listingResult) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("enrich: listing panicked",
				zap.String("source", d.Source),
				zap.String("listing_id", d.SourceListingID),
				zap.Int64("deal_id", d.ID),
				zap.Any("panic", r),
			)
			reason := "panic"
			if err := e.store.MarkForRetry(context.WithoutCancel(ctx), d.ID, reason); err != nil {
				zap.L().Error("enrich: mark for retry", zap.Int64("deal_id", d.ID), zap.Error(err))
			}
			res = listingResult{outcome: OutcomeFailed, reason: reason}
		}
	}()
	return e.process(ctx, sess, a, d, sum)
}

func (e *Enricher) process(ctx context.Context, sess source.Session, a source.Adapter, d *model.Deal, sum *EnrichSummary) listingResult {
	log := zap.L().With(
		zap.String("source", d.Source),
		zap.String("listing_id", d.SourceListingID),
		zap.Int64("deal_id", d.ID),
	)
	// Catalog writes must land even when the job deadline fires mid-listing.
	db := context.WithoutCancel(ctx)

	url := model.Deref(d.SourceURL)
	if url == "" {
		return e.quarantine(db, d, identity.ReasonMissingURL, log)
	}

	// 1. Fetch.
	var page *source.DetailPage
	err := e.timed(sum, PhaseFetch, func() error {
		var err error
		page, err = resilience.DoVal(ctx, e.fetchPolicy(), func(ctx context.Context) (*source.DetailPage, error) {
			return sess.FetchDetail(ctx, url)
		})
		return err
	})
	if err != nil {
		res := e.retry(ctx, d, fetchReason(ctx, err), err, log)
		if !deadlineReached(ctx) {
			res.fetchErr = err
		}
		return res
	}

	// 2. Terminal detection.
	if lost, why := a.IsTerminal(page); lost {
		if err := e.store.MarkLost(db, d.ID, why); err != nil {
			return e.retry(ctx, d, identity.ReasonUpdateFailed, err, log)
		}
		log.Info("enrich: listing lost", zap.String("reason", why))
		return listingResult{outcome: OutcomeLost, reason: why}
	}

	// 3. Extract.
	var ex *source.Extracted
	err = e.timed(sum, PhaseExtract, func() error {
		var err error
		ex, err = a.Extract(page)
		return err
	})
	if err != nil {
		if code, ok := identity.ReasonOf(err); ok {
			return e.quarantine(db, d, code, log)
		}
		log.Warn("enrich: extract failed", zap.Error(err))
		return e.quarantine(db, d, identity.ReasonExtractFailed, log)
	}
	if a.RequiresCanonicalID() && ex.CanonicalID == "" {
		return e.quarantine(db, d, identity.IDNotFound(a.Name()), log)
	}

	// 4. Canonicalise identity.
	if ex.CanonicalID != "" {
		if err := e.claimCanonical(db, d, ex.CanonicalID); err != nil {
			if code, ok := identity.ReasonOf(err); ok {
				log.Warn("enrich: canonical id owned by another deal", zap.Error(err))
				return e.quarantine(db, d, code, log)
			}
			return e.retry(ctx, d, identity.ReasonUpdateFailed, err, log)
		}
	}

	// 5. Resolve industry.
	sectorRaw := ex.SectorRaw
	if sectorRaw == "" {
		sectorRaw = model.Deref(d.SectorRaw)
	}
	var r taxonomy.Result
	err = e.timed(sum, PhaseResolve, func() error {
		var err error
		r, err = e.classify(a.Name(), sectorRaw, d.SourceListingID, ex.Title, ex.Description)
		return err
	})
	if err != nil {
		var te *identity.TaxonomyError
		if errors.As(err, &te) {
			res := e.quarantine(db, d, te.Code, log)
			res.taxErr = te
			return res
		}
		return listingResult{outcome: OutcomeFailed, fatal: eris.Wrapf(err, "enrich: resolve %s", d.UID())}
	}
	if err := taxonomy.CheckIndustry(a.Name(), r.Industry); err != nil {
		return e.quarantine(db, d, identity.ReasonIndustryNotCanonical, log)
	}

	hash := identity.ContentHash(ex.Title, ex.Description, ex.Location)
	fields := model.DetailFields{
		Title:               ex.Title,
		Description:         ex.Description,
		Location:            ex.Location,
		SectorRaw:           sectorRaw,
		IndustryRaw:         ex.IndustryRaw,
		CanonicalExternalID: ex.CanonicalID,
		Industry:            r.Industry,
		Sector:              r.Sector,
		SectorSource:        r.Source,
		Confidence:          r.Confidence,
		Reason:              r.Reason,
		Financials:          ex.Financials,
		ContentHash:         hash,
	}

	if unchanged, err := e.unchanged(db, d, hash, r.Industry); err != nil {
		return e.retry(ctx, d, identity.ReasonArtifactFailed, err, log)
	} else if unchanged {
		if err := e.store.TouchDetailFetched(db, d.ID); err != nil {
			return e.retry(ctx, d, identity.ReasonUpdateFailed, err, log)
		}
		log.Debug("enrich: content unchanged")
		return listingResult{outcome: OutcomeUnchanged}
	}

	if e.opts.DryRun {
		log.Info("enrich: dry run, skipping folder, upload and artifact",
			zap.String("industry", r.Industry),
			zap.Int("pdf_bytes", len(page.PDF)),
		)
	} else {
		if res, ok := e.materialize(ctx, db, d, a, page, ex, r, &fields, sum, log); !ok {
			return res
		}
		e.archiveDocuments(ctx, db, d, a, ex.Documents, fields.DriveFolderID, sum, log)
	}

	// 9. Update deal.
	err = e.timed(sum, PhaseUpdate, func() error {
		return e.store.UpdateDetailFields(db, d.ID, fields)
	})
	switch {
	case errors.Is(err, store.ErrDuplicateCanonicalID):
		return e.quarantine(db, d, identity.ReasonDuplicateCanonicalID, log)
	case errors.Is(err, store.ErrIndustryNotCanonical):
		return e.quarantine(db, d, identity.ReasonIndustryNotCanonical, log)
	case errors.Is(err, store.ErrDealNotFound):
		log.Warn("enrich: deal vanished before update")
		return listingResult{outcome: OutcomeSkipped, reason: "deal_not_found"}
	case err != nil:
		return e.retry(ctx, d, identity.ReasonUpdateFailed, err, log)
	}
	log.Info("enrich: listing updated",
		zap.String("industry", r.Industry),
		zap.String("canonical_id", ex.CanonicalID),
	)
	return listingResult{outcome: OutcomeUpdated}
}

// materialize runs steps 6 to 8: the per-deal folder, the PDF upload and the
// artifact record. It fills the linkage fields on success.
func (e *Enricher) materialize(ctx, db context.Context, d *model.Deal, a source.Adapter, page *source.DetailPage,
	ex *source.Extracted, r taxonomy.Result, fields *model.DetailFields, sum *EnrichSummary, log *zap.Logger) (listingResult, bool) {
	parent, ok := taxonomy.FolderID(a.Name(), r.Industry)
	if !ok {
		log.Error("enrich: no parent folder", zap.String("industry", r.Industry))
		return e.retry(ctx, d, identity.ReasonFolderFailed, eris.Errorf("enrich: no folder for %s/%s", a.Name(), r.Industry), log), false
	}

	// 6. Materialise folder.
	var folder objectstore.Folder
	err := e.timed(sum, PhaseFolder, func() error {
		var err error
		folder, err = e.objects.GetOrCreateFolder(ctx, parent, objectstore.FolderName(d.SourceListingID, ex.Title))
		return err
	})
	if err != nil {
		return e.retry(ctx, d, identity.ReasonFolderFailed, err, log), false
	}
	fields.DriveFolderID = folder.ID
	fields.DriveFolderURL = folder.URL

	if int64(len(page.PDF)) <= e.opts.MinPDFBytes {
		if len(page.PDF) > 0 {
			log.Debug("enrich: pdf below size threshold", zap.Int("bytes", len(page.PDF)))
		}
		return listingResult{}, true
	}

	// 7. Upload PDF unless this exact file is already recorded.
	pdfHash := identity.FileHash(page.PDF)
	existing, err := e.store.ArtifactByHash(db, d.ID, pdfHash)
	if err != nil {
		return e.retry(ctx, d, identity.ReasonArtifactFailed, err, log), false
	}
	if existing != nil {
		fields.PDFDriveURL = existing.DriveURL
		return listingResult{}, true
	}

	var driveURL, fileID string
	err = e.timed(sum, PhaseUpload, func() error {
		filename := fmt.Sprintf("%s_%s.pdf", d.Source, safeFileName(d.SourceListingID))
		path, err := e.writeFile(filename, page.PDF)
		if err != nil {
			return err
		}
		defer os.Remove(path) //nolint:errcheck
		if driveURL, err = e.objects.UploadPDF(ctx, path, filename, folder.ID); err != nil {
			return err
		}
		fileID, err = objectstore.FileIDFromURL(driveURL)
		return err
	})
	if err != nil {
		return e.retry(ctx, d, identity.ReasonUploadFailed, err, log), false
	}

	// 8. Record artifact.
	inserted, err := e.store.RecordArtifact(db, &model.Artifact{
		DealID:            d.ID,
		ArtifactType:      model.ArtifactListingPDF,
		ArtifactHash:      pdfHash,
		DriveFileID:       fileID,
		DriveURL:          driveURL,
		ExtractionVersion: e.opts.ExtractionVersion,
		CreatedBy:         "enrich:" + e.opts.RunID,
	})
	if err != nil {
		if errors.Is(err, store.ErrDealNotFound) {
			log.Error("enrich: artifact references a missing deal", zap.Error(err))
			return listingResult{outcome: OutcomeFailed, reason: identity.ReasonArtifactFailed}, false
		}
		return e.retry(ctx, d, identity.ReasonArtifactFailed, err, log), false
	}
	if inserted {
		sum.Artifacts++
	}
	fields.PDFDriveURL = driveURL
	return listingResult{}, true
}

// claimCanonical returns a CollisionError when another deal of the same
// source already owns canonicalID.
func (e *Enricher) claimCanonical(ctx context.Context, d *model.Deal, canonicalID string) error {
	owner, err := e.store.FindByCanonicalID(ctx, d.Source, canonicalID)
	if err != nil {
		return err
	}
	if owner != nil && owner.ID != d.ID {
		return &identity.CollisionError{
			Code:        identity.ReasonCanonicalisedElsewhere,
			CanonicalID: canonicalID,
			OwnerID:     owner.ID,
		}
	}
	return nil
}

// classify resolves the declared label, falling back to the listing
// reference prefix for sources that encode the sector there.
func (e *Enricher) classify(src, sectorRaw, listingID, title, description string) (taxonomy.Result, error) {
	if sectorRaw == "" {
		if r, ok := e.resolver.ResolveRef(src, listingID); ok {
			return r, nil
		}
	}
	return e.resolver.ResolveListing(src, sectorRaw, title, description)
}

// unchanged reports whether the listing content matches the last enrichment
// and an artifact already exists, so only the fetch time needs touching.
func (e *Enricher) unchanged(ctx context.Context, d *model.Deal, hash, industry string) (bool, error) {
	if d.ContentHash == nil || *d.ContentHash != hash || model.Deref(d.Industry) != industry {
		return false, nil
	}
	arts, err := e.store.ListArtifacts(ctx, d.ID)
	if err != nil {
		return false, err
	}
	return len(arts) > 0, nil
}

// archiveDocuments stores documents attached to the listing, such as an
// information memorandum, in the deal folder. A document that cannot be
// archived is logged and counted; the listing still updates.
func (e *Enricher) archiveDocuments(ctx, db context.Context, d *model.Deal, a source.Adapter, docs []string,
	folderID string, sum *EnrichSummary, log *zap.Logger) {
	dl, ok := a.(source.DocumentFetcher)
	if !ok || len(docs) == 0 || folderID == "" {
		return
	}
	for _, u := range docs {
		err := e.timed(sum, PhaseDocuments, func() error {
			return e.archiveDocument(ctx, db, d, dl, u, folderID, sum)
		})
		if err != nil {
			sum.DocumentErrors++
			log.Warn("enrich: document not archived", zap.String("url", u), zap.Error(err))
		}
	}
}

func (e *Enricher) archiveDocument(ctx, db context.Context, d *model.Deal, dl source.DocumentFetcher, u, folderID string, sum *EnrichSummary) error {
	body, err := dl.FetchDocument(ctx, u)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return eris.Errorf("enrich: empty document %s", u)
	}
	hash := identity.FileHash(body)
	existing, err := e.store.ArtifactByHash(db, d.ID, hash)
	if err != nil || existing != nil {
		return err
	}

	filename := fmt.Sprintf("%s_%s_im_%s.pdf", d.Source, safeFileName(d.SourceListingID), hash[:8])
	path, err := e.writeFile(filename, body)
	if err != nil {
		return err
	}
	defer os.Remove(path) //nolint:errcheck

	driveURL, err := e.objects.UploadPDF(ctx, path, filename, folderID)
	if err != nil {
		return err
	}
	fileID, err := objectstore.FileIDFromURL(driveURL)
	if err != nil {
		return err
	}
	inserted, err := e.store.RecordArtifact(db, &model.Artifact{
		DealID:            d.ID,
		ArtifactType:      model.ArtifactInformationMemorandum,
		ArtifactHash:      hash,
		DriveFileID:       fileID,
		DriveURL:          driveURL,
		ExtractionVersion: e.opts.ExtractionVersion,
		CreatedBy:         "enrich:" + e.opts.RunID,
	})
	if err != nil {
		return err
	}
	if inserted {
		sum.Artifacts++
	}
	return nil
}

func (e *Enricher) writeFile(filename string, data []byte) (string, error) {
	if err := os.MkdirAll(e.opts.PDFDir, 0o755); err != nil {
		return "", eris.Wrap(err, "enrich: create pdf dir")
	}
	path := filepath.Join(e.opts.PDFDir, filename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", eris.Wrapf(err, "enrich: write %s", path)
	}
	return path, nil
}

func safeFileName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, s)
}

func (e *Enricher) fetchPolicy() resilience.Policy {
	p := resilience.DefaultPolicy().WithAttempts(e.opts.FetchRetries + 1).Logged("enrich", "fetch_detail")
	if e.opts.FetchBackoff > 0 {
		p.InitialBackoff = e.opts.FetchBackoff
		p.MaxBackoff = e.opts.FetchBackoff
	}
	return p
}

func (e *Enricher) timed(sum *EnrichSummary, p Phase, fn func() error) error {
	start := time.Now()
	err := fn()
	sum.Timings[p] += time.Since(start)
	return err
}

func (e *Enricher) quarantine(db context.Context, d *model.Deal, code string, log *zap.Logger) listingResult {
	if err := e.store.Quarantine(db, d.ID, code); err != nil {
		log.Error("enrich: quarantine", zap.String("reason", code), zap.Error(err))
		return listingResult{outcome: OutcomeFailed, reason: code}
	}
	log.Warn("enrich: listing quarantined", zap.String("reason", code))
	return listingResult{outcome: OutcomeQuarantined, reason: code}
}

// retry leaves the deal in the queue with the failure reason. A listing cut by
// the job deadline is recorded as a timeout whatever step it was on.
func (e *Enricher) retry(ctx context.Context, d *model.Deal, reason string, cause error, log *zap.Logger) listingResult {
	if deadlineReached(ctx) {
		reason = identity.ReasonTimeout
	}
	if err := e.store.MarkForRetry(context.WithoutCancel(ctx), d.ID, reason); err != nil {
		log.Error("enrich: mark for retry", zap.String("reason", reason), zap.Error(err))
		return listingResult{outcome: OutcomeFailed, reason: reason}
	}
	log.Warn("enrich: listing will retry", zap.String("reason", reason), zap.Error(cause))
	return listingResult{outcome: OutcomeRetry, reason: reason}
}

func deadlineReached(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}

func fetchReason(ctx context.Context, err error) string {
	var be *fetch.BlockedError
	switch {
	case errors.As(err, &be):
		return identity.ReasonBlocked
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return identity.ReasonTimeout
	}
	return identity.ReasonFetchFailed
}
