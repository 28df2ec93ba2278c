// Package store is the catalog: deals, artifacts, status history, snapshots
// and job runs.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-pipeline/internal/model"
)

// Sentinel errors. Callers match them with errors.Is.
var (
	ErrDealNotFound         = eris.New("store: deal not found")
	ErrDuplicateCanonicalID = eris.New("store: canonical external id already owned by another deal")
	ErrIndustryNotCanonical = eris.New("store: industry outside the canonical enumeration")
	ErrColumnNotPullable    = eris.New("store: column is not pull-eligible")
	ErrInvalidValue         = eris.New("store: value outside the declared enumeration")
	ErrSchemaMismatch       = eris.New("store: schema guard failed")
)

// UpsertOutcome reports what UpsertIndex did.
type UpsertOutcome int

const (
	// UpsertInserted means a new index row was created.
	UpsertInserted UpsertOutcome = iota + 1
	// UpsertRefreshed means an existing row was re-sighted.
	UpsertRefreshed
)

// Order is the deterministic processing order a source declares.
type Order string

const (
	OrderListingIDAsc Order = "listing_id_asc"
	OrderLastSeenDesc Order = "last_seen_desc"
)

// DealFilter specifies criteria for listing deals.
type DealFilter struct {
	Source   string          `json:"source,omitempty"`
	Status   *model.Status   `json:"status,omitempty"`
	Decision *model.Decision `json:"decision,omitempty"`
	Industry string          `json:"industry,omitempty"`
	Limit    int             `json:"limit,omitempty"`
	Offset   int             `json:"offset,omitempty"`
}

// UserDeal is an analyst-supplied deal imported from a spreadsheet.
type UserDeal struct {
	ListingID   string
	Title       string
	Description string
	Location    string
	SectorRaw   string
	Industry    string
	Sector      string
	Financials  model.Financials
	Owner       string
	Notes       string
}

// Store defines the catalog persistence interface.
type Store interface {
	// Deals
	DealExists(ctx context.Context, source, listingID string) (bool, error)
	UpsertIndex(ctx context.Context, row model.IndexRow) (UpsertOutcome, error)
	UpsertUserDeal(ctx context.Context, d UserDeal) (UpsertOutcome, error)
	GetDeal(ctx context.Context, id int64) (*model.Deal, error)
	GetDealByIdentity(ctx context.Context, id model.Identity) (*model.Deal, error)
	FindByCanonicalID(ctx context.Context, source, canonicalID string) (*model.Deal, error)
	FindBySourceURL(ctx context.Context, source, url string) (*model.Deal, error)
	ListDeals(ctx context.Context, filter DealFilter) ([]model.Deal, error)

	// Enrichment queue
	FetchDealsForEnrichment(ctx context.Context, source string, freshnessDays int, order Order) ([]model.Deal, error)
	UpdateDetailFields(ctx context.Context, dealID int64, f model.DetailFields) error
	Quarantine(ctx context.Context, dealID int64, reason string) error
	MarkForRetry(ctx context.Context, dealID int64, reason string) error
	MarkLost(ctx context.Context, dealID int64, reason string) error
	TouchDetailFetched(ctx context.Context, dealID int64) error
	RequeueQuarantined(ctx context.Context, source, reason string) (int, error)

	// Reconciler path
	UpdateDealFields(ctx context.Context, id model.Identity, updates map[string]any, source model.UpdateSource) error
	InsertStatusHistory(ctx context.Context, dealID int64, oldStatus, newStatus *string, by model.UpdateSource) error
	ListStatusHistory(ctx context.Context, dealID int64) ([]model.StatusChange, error)

	// Artifacts
	RecordArtifact(ctx context.Context, a *model.Artifact) (bool, error)
	ArtifactByHash(ctx context.Context, dealID int64, hash string) (*model.Artifact, error)
	ListArtifacts(ctx context.Context, dealID int64) ([]model.Artifact, error)

	// Derived values
	RecomputeEffectiveFields(ctx context.Context) (int, error)
	RecalculateFinancialMetrics(ctx context.Context) (int, error)

	// Snapshots
	SnapshotExists(ctx context.Context, key string) (bool, error)
	WriteSnapshot(ctx context.Context, key string, rows []model.SnapshotRow, replace bool) (int, error)
	ListSnapshot(ctx context.Context, key string) ([]model.SnapshotRow, error)
	ListSnapshotKeys(ctx context.Context) ([]string, error)

	// Runs
	StartRun(ctx context.Context, command, source string) (*model.Run, error)
	FinishRun(ctx context.Context, id, status string, summary any) error
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)

	// Integrity
	Audit(ctx context.Context) (*AuditReport, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	SchemaGuard(ctx context.Context) error
	Close() error
}

// now returns the catalog clock, truncated to seconds in UTC.
func now(clock func() time.Time) time.Time {
	return clock().UTC().Truncate(time.Second)
}
