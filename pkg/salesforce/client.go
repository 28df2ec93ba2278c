// Package salesforce provides JWT-authenticated REST access to the Salesforce
// objects the CRM sync writes.
package salesforce

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// maxBatchSize is the sObject Collections limit per request.
const maxBatchSize = 200

// Client is the subset of the REST API the CRM sync uses.
type Client interface {
	Query(ctx context.Context, soql string, out any) error
	Insert(ctx context.Context, object string, records []map[string]any) ([]SaveResult, error)
	Update(ctx context.Context, object string, records []RecordUpdate) ([]SaveResult, error)
	Describe(ctx context.Context, object string) (*ObjectSchema, error)
}

// RecordUpdate changes Fields on the record with ID.
type RecordUpdate struct {
	ID     string
	Fields map[string]any
}

// SaveResult is the per-record outcome of Insert or Update, in input order.
type SaveResult struct {
	ID      string
	Success bool
	Errors  []string
}

// Field is one column of an object schema.
type Field struct {
	Name       string `json:"name"`
	Label      string `json:"label"`
	Type       string `json:"type"`
	Length     int    `json:"length"`
	Updateable bool   `json:"updateable"`
}

// ObjectSchema is the describe payload of an sObject, trimmed to its fields.
type ObjectSchema struct {
	Name   string  `json:"name"`
	Label  string  `json:"label"`
	Fields []Field `json:"fields"`
}

// Creds are the JWT bearer-flow credentials of a connected app.
type Creds struct {
	LoginURL string
	Username string
	ClientID string
	// PrivateKeyPEM is the connected app's RSA key.
	PrivateKeyPEM string
}

// ClientOption configures NewClient.
type ClientOption func(*restClient)

// WithRateLimit caps API calls per second. Calls are unthrottled by default.
func WithRateLimit(rps float64) ClientOption {
	return func(c *restClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// restClient adapts go-salesforce, which takes no context; ctx only bounds
// the wait for a rate-limit token.
type restClient struct {
	sf      *salesforce.Salesforce
	limiter *rate.Limiter
}

// NewClient wraps an authenticated go-salesforce instance.
func NewClient(sf *salesforce.Salesforce, opts ...ClientOption) Client {
	c := &restClient{sf: sf}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect authenticates with the JWT bearer flow.
func Connect(creds Creds, opts ...ClientOption) (Client, error) {
	if creds.ClientID == "" || creds.Username == "" || creds.PrivateKeyPEM == "" {
		return nil, eris.New("sf: client id, username and private key are required")
	}
	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         creds.LoginURL,
		Username:       creds.Username,
		ConsumerKey:    creds.ClientID,
		ConsumerRSAPem: creds.PrivateKeyPEM,
	})
	if err != nil {
		return nil, eris.Wrap(err, "sf: jwt login")
	}
	return NewClient(sf, opts...), nil
}

func (c *restClient) throttle(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return eris.Wrap(c.limiter.Wait(ctx), "sf: rate limit")
}

func (c *restClient) Query(ctx context.Context, soql string, out any) error {
	if err := c.throttle(ctx); err != nil {
		return err
	}
	return eris.Wrap(c.sf.Query(soql, out), "sf: query")
}

func (c *restClient) Insert(ctx context.Context, object string, records []map[string]any) ([]SaveResult, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}
	res, err := c.sf.InsertCollection(object, records, maxBatchSize)
	if err != nil {
		return nil, eris.Wrapf(err, "sf: insert %s", object)
	}
	out := make([]SaveResult, 0, len(res.Results))
	for _, r := range res.Results {
		sr := SaveResult{ID: r.Id, Success: r.Success}
		for _, e := range r.Errors {
			sr.Errors = append(sr.Errors, e.Message)
		}
		out = append(out, sr)
	}
	return out, nil
}

func (c *restClient) Update(ctx context.Context, object string, records []RecordUpdate) ([]SaveResult, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		row := map[string]any{"Id": rec.ID}
		for k, v := range rec.Fields {
			if k != "Id" {
				row[k] = v
			}
		}
		payload = append(payload, row)
	}
	res, err := c.sf.UpdateCollection(object, payload, maxBatchSize)
	if err != nil {
		return nil, eris.Wrapf(err, "sf: update %s", object)
	}
	out := make([]SaveResult, 0, len(res.Results))
	for _, r := range res.Results {
		sr := SaveResult{ID: r.Id, Success: r.Success}
		for _, e := range r.Errors {
			sr.Errors = append(sr.Errors, e.Message)
		}
		out = append(out, sr)
	}
	return out, nil
}

func (c *restClient) Describe(ctx context.Context, object string) (*ObjectSchema, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}
	resp, err := c.sf.DoRequest(http.MethodGet, "/sobjects/"+object+"/describe", nil)
	if err != nil {
		return nil, eris.Wrapf(err, "sf: describe %s", object)
	}
	defer resp.Body.Close() //nolint:errcheck

	var schema ObjectSchema
	if err := json.NewDecoder(resp.Body).Decode(&schema); err != nil {
		return nil, eris.Wrapf(err, "sf: decode describe %s", object)
	}
	return &schema, nil
}
