package model

import (
	"time"
)

// Status is the analyst workflow stage of a deal. A nil status means Unassessed.
type Status string

const (
	StatusInitialContact Status = "Initial Contact"
	StatusCIM            Status = "CIM"
	StatusCIMDD          Status = "CIM DD"
	StatusMeeting        Status = "Meeting"
	StatusLOI            Status = "LOI"
	StatusUnderOffer     Status = "Under Offer"
	StatusPass           Status = "Pass"
	StatusLost           Status = "Lost"
)

// Statuses lists the workflow stages in funnel order.
var Statuses = []Status{
	StatusInitialContact,
	StatusCIM,
	StatusCIMDD,
	StatusMeeting,
	StatusLOI,
	StatusUnderOffer,
	StatusPass,
	StatusLost,
}

// Valid reports whether s is one of the declared workflow stages.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal reports whether a deal in this status leaves the refresh queue.
func (s Status) Terminal() bool {
	return s == StatusPass || s == StatusLost
}

// Decision is the analyst's go/no-go call on a deal.
type Decision string

const (
	DecisionPass     Decision = "Pass"
	DecisionPark     Decision = "Park"
	DecisionProgress Decision = "Progress"
)

// Decisions lists the allowed decisions.
var Decisions = []Decision{DecisionPass, DecisionPark, DecisionProgress}

// SectorSource records where a deal's sector came from.
type SectorSource string

const (
	SectorBroker       SectorSource = "broker"
	SectorInferred     SectorSource = "inferred"
	SectorManual       SectorSource = "manual"
	SectorUnclassified SectorSource = "unclassified"
)

// UpdateSource records which path made the latest mutation of a deal.
type UpdateSource string

const (
	UpdateAuto   UpdateSource = "AUTO"
	UpdateManual UpdateSource = "MANUAL"
	UpdateImport UpdateSource = "IMPORT"
)

// ArtifactType classifies stored binaries.
type ArtifactType string

const (
	ArtifactPDF                   ArtifactType = "pdf"
	ArtifactListingPDF            ArtifactType = "listing_pdf"
	ArtifactInformationMemorandum ArtifactType = "information_memorandum"
)

// Valid reports whether t is a known artifact type.
func (t ArtifactType) Valid() bool {
	switch t {
	case ArtifactPDF, ArtifactListingPDF, ArtifactInformationMemorandum:
		return true
	}
	return false
}

// Deal is the canonical catalog entity for one business-for-sale listing.
type Deal struct {
	ID                  int64   `db:"id" json:"id"`
	Source              string  `db:"source" json:"source"`
	SourceListingID     string  `db:"source_listing_id" json:"source_listing_id"`
	SourceURL           *string `db:"source_url" json:"source_url,omitempty"`
	CanonicalExternalID *string `db:"canonical_external_id" json:"canonical_external_id,omitempty"`

	Title                     *string       `db:"title" json:"title,omitempty"`
	Description               *string       `db:"description" json:"description,omitempty"`
	Location                  *string       `db:"location" json:"location,omitempty"`
	LocationRaw               *string       `db:"location_raw" json:"location_raw,omitempty"`
	TurnoverRangeRaw          *string       `db:"turnover_range_raw" json:"turnover_range_raw,omitempty"`
	SectorRaw                 *string       `db:"sector_raw" json:"sector_raw,omitempty"`
	IndustryRaw               *string       `db:"industry_raw" json:"industry_raw,omitempty"`
	Industry                  *string       `db:"industry" json:"industry,omitempty"`
	Sector                    *string       `db:"sector" json:"sector,omitempty"`
	SectorSource              *SectorSource `db:"sector_source" json:"sector_source,omitempty"`
	SectorInferenceConfidence *float64      `db:"sector_inference_confidence" json:"sector_inference_confidence,omitempty"`
	SectorInferenceReason     *string       `db:"sector_inference_reason" json:"sector_inference_reason,omitempty"`

	Financials
	RevenueKManual     *float64 `db:"revenue_k_manual" json:"revenue_k_manual,omitempty"`
	EbitdaKManual      *float64 `db:"ebitda_k_manual" json:"ebitda_k_manual,omitempty"`
	AskingPriceKManual *float64 `db:"asking_price_k_manual" json:"asking_price_k_manual,omitempty"`
	Derived

	FirstSeen          time.Time     `db:"first_seen" json:"first_seen"`
	LastSeen           time.Time     `db:"last_seen" json:"last_seen"`
	LastUpdated        *time.Time    `db:"last_updated" json:"last_updated,omitempty"`
	LastUpdatedSource  *UpdateSource `db:"last_updated_source" json:"last_updated_source,omitempty"`
	DetailFetchedAt    *time.Time    `db:"detail_fetched_at" json:"detail_fetched_at,omitempty"`
	NeedsDetailRefresh bool          `db:"needs_detail_refresh" json:"needs_detail_refresh"`
	DetailFetchReason  *string       `db:"detail_fetch_reason" json:"detail_fetch_reason,omitempty"`

	Status     *Status   `db:"status" json:"status,omitempty"`
	Decision   *Decision `db:"decision" json:"decision,omitempty"`
	Owner      *string   `db:"owner" json:"owner,omitempty"`
	Priority   *string   `db:"priority" json:"priority,omitempty"`
	PassReason *string   `db:"pass_reason" json:"pass_reason,omitempty"`
	Notes      *string   `db:"notes" json:"notes,omitempty"`
	LostReason *string   `db:"lost_reason" json:"lost_reason,omitempty"`

	DriveFolderID  *string `db:"drive_folder_id" json:"drive_folder_id,omitempty"`
	DriveFolderURL *string `db:"drive_folder_url" json:"drive_folder_url,omitempty"`
	PDFDriveURL    *string `db:"pdf_drive_url" json:"pdf_drive_url,omitempty"`
	ContentHash    *string `db:"content_hash" json:"content_hash,omitempty"`
}

// Financials holds the source-declared money and ratio fields.
// Money is carried in thousands of pounds, ratios in percentage points.
type Financials struct {
	RevenueK         *float64 `db:"revenue_k" json:"revenue_k,omitempty"`
	EbitdaK          *float64 `db:"ebitda_k" json:"ebitda_k,omitempty"`
	AskingPriceK     *float64 `db:"asking_price_k" json:"asking_price_k,omitempty"`
	ProfitMarginPct  *float64 `db:"profit_margin_pct" json:"profit_margin_pct,omitempty"`
	RevenueGrowthPct *float64 `db:"revenue_growth_pct" json:"revenue_growth_pct,omitempty"`
	LeveragePct      *float64 `db:"leverage_pct" json:"leverage_pct,omitempty"`
}

// Derived holds values recomputed from the declared and manual tracks.
type Derived struct {
	RevenueKEffective     *float64 `db:"revenue_k_effective" json:"revenue_k_effective,omitempty"`
	EbitdaKEffective      *float64 `db:"ebitda_k_effective" json:"ebitda_k_effective,omitempty"`
	AskingPriceKEffective *float64 `db:"asking_price_k_effective" json:"asking_price_k_effective,omitempty"`
	EbitdaMargin          *float64 `db:"ebitda_margin" json:"ebitda_margin,omitempty"`
	RevenueMultiple       *float64 `db:"revenue_multiple" json:"revenue_multiple,omitempty"`
	EbitdaMultiple        *float64 `db:"ebitda_multiple" json:"ebitda_multiple,omitempty"`
}

// Identity is the stable per-source key of a deal.
type Identity struct {
	Source          string
	SourceListingID string
}

// UID returns the "source:listing" workspace key.
func (i Identity) UID() string {
	return i.Source + ":" + i.SourceListingID
}

// Identity returns the deal's stable key.
func (d *Deal) Identity() Identity {
	return Identity{Source: d.Source, SourceListingID: d.SourceListingID}
}

// UID returns the "source:listing" workspace key.
func (d *Deal) UID() string {
	return d.Identity().UID()
}

// IndexRow is one listing stub discovered on a source's index pages.
type IndexRow struct {
	Source           string
	SourceListingID  string
	SourceURL        string
	Title            string
	SectorRaw        string
	IndustryRaw      string
	LocationRaw      string
	TurnoverRangeRaw string

	// Set when the sector was resolved at index time.
	Industry   string
	Sector     string
	SectorSrc  SectorSource
	Confidence float64
	Reason     string
}

// DetailFields is the system-owned payload written after a successful enrichment.
type DetailFields struct {
	Title               string
	Description         string
	Location            string
	SectorRaw           string
	IndustryRaw         string
	CanonicalExternalID string
	Industry            string
	Sector              string
	SectorSource        SectorSource
	Confidence          float64
	Reason              string
	Financials          Financials
	DriveFolderID       string
	DriveFolderURL      string
	PDFDriveURL         string
	ContentHash         string
}

// Artifact records a binary stored for a deal in the object store.
type Artifact struct {
	ID                int64        `db:"id" json:"id"`
	DealID            int64        `db:"deal_id" json:"deal_id"`
	ArtifactType      ArtifactType `db:"artifact_type" json:"artifact_type"`
	ArtifactHash      string       `db:"artifact_hash" json:"artifact_hash"`
	DriveFileID       string       `db:"drive_file_id" json:"drive_file_id"`
	DriveURL          string       `db:"drive_url" json:"drive_url"`
	ExtractionVersion string       `db:"extraction_version" json:"extraction_version"`
	CreatedBy         string       `db:"created_by" json:"created_by"`
	CreatedAt         time.Time    `db:"created_at" json:"created_at"`
}

// StatusChange is one row of the append-only status ledger.
type StatusChange struct {
	ID        int64        `db:"id" json:"id"`
	DealID    int64        `db:"deal_id" json:"deal_id"`
	OldStatus *string      `db:"old_status" json:"old_status,omitempty"`
	NewStatus *string      `db:"new_status" json:"new_status,omitempty"`
	ChangedAt time.Time    `db:"changed_at" json:"changed_at"`
	ChangedBy UpdateSource `db:"changed_by" json:"changed_by"`
}

// SnapshotRow is one aggregate cell of a weekly pipeline snapshot.
type SnapshotRow struct {
	SnapshotKey     string    `db:"snapshot_key" json:"snapshot_key"`
	Industry        string    `db:"industry" json:"industry"`
	Status          string    `db:"status" json:"status"`
	Source          string    `db:"source" json:"source"`
	DealCount       int       `db:"deal_count" json:"deal_count"`
	SnapshotRunDate time.Time `db:"snapshot_run_date" json:"snapshot_run_date"`
}

// Run records one CLI job execution.
type Run struct {
	ID         string     `db:"id" json:"id"`
	Command    string     `db:"command" json:"command"`
	Source     *string    `db:"source" json:"source,omitempty"`
	Status     string     `db:"status" json:"status"`
	Summary    *string    `db:"summary" json:"summary,omitempty"`
	StartedAt  time.Time  `db:"started_at" json:"started_at"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

// Run statuses.
const (
	RunRunning  = "running"
	RunComplete = "complete"
	RunFailed   = "failed"
)

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// StrOrNil returns nil for the empty string.
func StrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
