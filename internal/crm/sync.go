// Package crm mirrors progressed deals into Salesforce as Opportunities.
package crm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/deal-pipeline/internal/model"
	"github.com/sells-group/deal-pipeline/internal/store"
	"github.com/sells-group/deal-pipeline/pkg/salesforce"
)

// Custom Opportunity fields written alongside the standard ones.
const (
	fieldSourceURL = "Source_URL__c"
	fieldIndustry  = "Industry__c"
	fieldFolderURL = "Deal_Folder_URL__c"
)

// RequiredFields must exist on the Opportunity object before a sync.
var RequiredFields = []string{salesforce.DealUIDField, fieldSourceURL, fieldIndustry, fieldFolderURL}

// closeHorizon sets the CloseDate of a new Opportunity relative to the sync.
const closeHorizon = 90 * 24 * time.Hour

// maxName is the Opportunity Name length limit.
const maxName = 120

// stages maps workflow status to Opportunity stage.
var stages = map[model.Status]string{
	model.StatusInitialContact: "Prospecting",
	model.StatusCIM:            "Qualification",
	model.StatusCIMDD:          "Needs Analysis",
	model.StatusMeeting:        "Id. Decision Makers",
	model.StatusLOI:            "Proposal/Price Quote",
	model.StatusUnderOffer:     "Negotiation/Review",
	model.StatusPass:           "Closed Lost",
	model.StatusLost:           "Closed Lost",
}

// Stage returns the Opportunity stage for a deal status. Deals not yet in the
// workflow are prospects.
func Stage(s *model.Status) string {
	if s == nil {
		return "Prospecting"
	}
	if st, ok := stages[*s]; ok {
		return st
	}
	return "Prospecting"
}

// Result summarises a sync.
type Result struct {
	Deals    int                  `json:"deals"`
	Created  int                  `json:"created"`
	Updated  int                  `json:"updated"`
	Failures []salesforce.Failure `json:"failures,omitempty"`
	DryRun   bool                 `json:"dry_run"`
	Duration time.Duration        `json:"duration"`
}

// String renders a one-line summary.
func (r Result) String() string {
	return fmt.Sprintf("deals=%d created=%d updated=%d failed=%d dry_run=%t",
		r.Deals, r.Created, r.Updated, len(r.Failures), r.DryRun)
}

// Syncer upserts Opportunities for deals with a Progress decision.
type Syncer struct {
	store store.Store
	sf    salesforce.Client
	now   func() time.Time
}

// NewSyncer creates a Syncer.
func NewSyncer(st store.Store, sf salesforce.Client) *Syncer {
	return &Syncer{store: st, sf: sf, now: time.Now}
}

// Sync pushes every progressed deal. A dry run only builds the records.
func (s *Syncer) Sync(ctx context.Context, dryRun bool) (*Result, error) {
	start := time.Now()
	log := zap.L().With(zap.String("component", "crm"))

	progress := model.DecisionProgress
	deals, err := s.store.ListDeals(ctx, store.DealFilter{Decision: &progress})
	if err != nil {
		return nil, err
	}
	res := &Result{Deals: len(deals), DryRun: dryRun}
	inputs := make([]salesforce.OpportunityInput, 0, len(deals))
	for i := range deals {
		inputs = append(inputs, s.Opportunity(&deals[i]))
	}

	if dryRun {
		for _, in := range inputs {
			log.Info("crm: would upsert opportunity",
				zap.String("uid", in.DealUID),
				zap.Any("stage", in.Fields["StageName"]),
			)
		}
		res.Duration = time.Since(start)
		return res, nil
	}

	if len(inputs) > 0 {
		if err := salesforce.RequireFields(ctx, s.sf, salesforce.OpportunityObject, RequiredFields...); err != nil {
			return nil, err
		}
	}
	up, err := salesforce.UpsertOpportunities(ctx, s.sf, inputs)
	if up != nil {
		res.Created, res.Updated, res.Failures = up.Created, up.Updated, up.Failures
	}
	if err != nil {
		return res, err
	}
	for _, f := range res.Failures {
		log.Warn("crm: opportunity rejected", zap.String("uid", f.DealUID), zap.Strings("errors", f.Errors))
	}
	res.Duration = time.Since(start)
	log.Info("crm: sync complete",
		zap.Int("deals", res.Deals),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("failed", len(res.Failures)),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// Opportunity maps a deal to its Opportunity record. Amount is the effective
// asking price in pounds.
func (s *Syncer) Opportunity(d *model.Deal) salesforce.OpportunityInput {
	name := model.Deref(d.Title)
	if name == "" {
		name = d.UID()
	}
	if r := []rune(name); len(r) > maxName {
		name = string(r[:maxName])
	}
	fields := map[string]any{
		"Name":         name,
		"StageName":    Stage(d.Status),
		"LeadSource":   d.Source,
		"Description":  model.Deref(d.Description),
		fieldSourceURL: model.Deref(d.SourceURL),
		fieldIndustry:  model.Deref(d.Industry),
		fieldFolderURL: model.Deref(d.DriveFolderURL),
	}
	if d.AskingPriceKEffective != nil {
		fields["Amount"] = model.Round2(*d.AskingPriceKEffective * 1000)
	}
	return salesforce.OpportunityInput{
		DealUID: d.UID(),
		Fields:  fields,
		CreateFields: map[string]any{
			"CloseDate": s.now().Add(closeHorizon).Format("2006-01-02"),
		},
	}
}
