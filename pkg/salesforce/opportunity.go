package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Opportunity object and the external-id field linking it to a catalog deal.
const (
	OpportunityObject = "Opportunity"
	DealUIDField      = "Deal_UID__c"
)

// queryChunk bounds the IN list of a lookup query.
const queryChunk = 100

// Opportunity is the subset of an Opportunity record read back by the sync.
type Opportunity struct {
	ID        string `json:"Id" salesforce:"Id"`
	Name      string `json:"Name" salesforce:"Name"`
	DealUID   string `json:"Deal_UID__c" salesforce:"Deal_UID__c"`
	StageName string `json:"StageName" salesforce:"StageName"`
}

// OpportunityInput is an Opportunity to create or update, keyed by deal uid.
type OpportunityInput struct {
	DealUID string
	Fields  map[string]any
	// CreateFields are only sent when the record is new.
	CreateFields map[string]any
}

// Failure is a record Salesforce rejected.
type Failure struct {
	DealUID string   `json:"deal_uid"`
	Errors  []string `json:"errors"`
}

// UpsertResult counts the outcome of UpsertOpportunities.
type UpsertResult struct {
	Created  int       `json:"created"`
	Updated  int       `json:"updated"`
	Failures []Failure `json:"failures,omitempty"`
}

// FindOpportunities returns the Opportunity ids for the given deal uids.
// Uids without a record are absent from the map.
func FindOpportunities(ctx context.Context, c Client, uids []string) (map[string]string, error) {
	out := make(map[string]string, len(uids))
	for start := 0; start < len(uids); start += queryChunk {
		end := min(start+queryChunk, len(uids))
		quoted := make([]string, 0, end-start)
		for _, u := range uids[start:end] {
			quoted = append(quoted, "'"+escapeSoql(u)+"'")
		}
		soql := fmt.Sprintf("SELECT Id, Name, %s, StageName FROM %s WHERE %s IN (%s)",
			DealUIDField, OpportunityObject, DealUIDField, strings.Join(quoted, ", "))

		var opps []Opportunity
		if err := c.Query(ctx, soql, &opps); err != nil {
			return nil, eris.Wrap(err, "sf: find opportunities")
		}
		for _, o := range opps {
			out[o.DealUID] = o.ID
		}
	}
	return out, nil
}

// UpsertOpportunities looks up existing records by deal uid, then inserts the
// new ones and updates the rest in batches of 200. Per-record rejections are
// collected in the result; request failures abort.
func UpsertOpportunities(ctx context.Context, c Client, inputs []OpportunityInput) (*UpsertResult, error) {
	res := &UpsertResult{}
	if len(inputs) == 0 {
		return res, nil
	}
	uids := make([]string, len(inputs))
	for i, in := range inputs {
		uids[i] = in.DealUID
	}
	existing, err := FindOpportunities(ctx, c, uids)
	if err != nil {
		return nil, err
	}

	var creates []OpportunityInput
	var updates []OpportunityInput
	for _, in := range inputs {
		if _, ok := existing[in.DealUID]; ok {
			updates = append(updates, in)
		} else {
			creates = append(creates, in)
		}
	}

	for start := 0; start < len(creates); start += maxBatchSize {
		batch := creates[start:min(start+maxBatchSize, len(creates))]
		records := make([]map[string]any, len(batch))
		for i, in := range batch {
			rec := make(map[string]any, len(in.Fields)+len(in.CreateFields)+1)
			for k, v := range in.CreateFields {
				rec[k] = v
			}
			for k, v := range in.Fields {
				rec[k] = v
			}
			rec[DealUIDField] = in.DealUID
			records[i] = rec
		}
		results, err := c.Insert(ctx, OpportunityObject, records)
		if err != nil {
			return res, eris.Wrapf(err, "sf: create opportunities batch %d", start)
		}
		res.Created += tally(res, batch, results)
	}

	for start := 0; start < len(updates); start += maxBatchSize {
		batch := updates[start:min(start+maxBatchSize, len(updates))]
		records := make([]RecordUpdate, len(batch))
		for i, in := range batch {
			records[i] = RecordUpdate{ID: existing[in.DealUID], Fields: in.Fields}
		}
		results, err := c.Update(ctx, OpportunityObject, records)
		if err != nil {
			return res, eris.Wrapf(err, "sf: update opportunities batch %d", start)
		}
		res.Updated += tally(res, batch, results)
	}
	return res, nil
}

// tally records failures and returns the number of successes.
func tally(res *UpsertResult, batch []OpportunityInput, results []SaveResult) int {
	ok := 0
	for i, in := range batch {
		if i < len(results) && results[i].Success {
			ok++
			continue
		}
		var errs []string
		if i < len(results) {
			errs = results[i].Errors
		} else {
			errs = []string{"no result returned"}
		}
		res.Failures = append(res.Failures, Failure{DealUID: in.DealUID, Errors: errs})
	}
	return ok
}

// RequireFields checks that an SObject carries the named fields, so a missing
// custom field fails before any record is written.
func RequireFields(ctx context.Context, c Client, object string, fields ...string) error {
	desc, err := c.Describe(ctx, object)
	if err != nil {
		return err
	}
	have := make(map[string]bool, len(desc.Fields))
	for _, f := range desc.Fields {
		have[f.Name] = true
	}
	var missing []string
	for _, f := range fields {
		if !have[f] {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return eris.Errorf("sf: %s is missing fields %s", object, strings.Join(missing, ", "))
	}
	return nil
}

// escapeSoql escapes SOQL string literal metacharacters.
func escapeSoql(s string) string {
	return strings.NewReplacer(`\`, `\\`, "'", `\'`).Replace(s)
}
