package salesforce

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// mockClient is a Client whose calls fall back to always-successful defaults.
type mockClient struct {
	queryFn    func(ctx context.Context, soql string, out any) error
	insertFn   func(ctx context.Context, object string, records []map[string]any) ([]SaveResult, error)
	updateFn   func(ctx context.Context, object string, records []RecordUpdate) ([]SaveResult, error)
	describeFn func(ctx context.Context, object string) (*ObjectSchema, error)
}

var (
	_ Client = (*mockClient)(nil)
	_ Client = (*restClient)(nil)
)

func (m *mockClient) Query(ctx context.Context, soql string, out any) error {
	if m.queryFn == nil {
		return nil
	}
	return m.queryFn(ctx, soql, out)
}

func (m *mockClient) Insert(ctx context.Context, object string, records []map[string]any) ([]SaveResult, error) {
	if m.insertFn != nil {
		return m.insertFn(ctx, object, records)
	}
	out := make([]SaveResult, 0, len(records))
	for i := range records {
		out = append(out, SaveResult{ID: "006" + string(rune('A'+i)), Success: true})
	}
	return out, nil
}

func (m *mockClient) Update(ctx context.Context, object string, records []RecordUpdate) ([]SaveResult, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, object, records)
	}
	out := make([]SaveResult, 0, len(records))
	for _, r := range records {
		out = append(out, SaveResult{ID: r.ID, Success: true})
	}
	return out, nil
}

func (m *mockClient) Describe(ctx context.Context, object string) (*ObjectSchema, error) {
	if m.describeFn != nil {
		return m.describeFn(ctx, object)
	}
	return &ObjectSchema{Name: object, Label: object}, nil
}

func TestWithRateLimit_Burst(t *testing.T) {
	tests := []struct {
		rps       float64
		wantNil   bool
		wantBurst int
	}{
		{rps: 10, wantBurst: 10},
		{rps: 0.5, wantBurst: 1},
		{rps: 0, wantNil: true},
		{rps: -2, wantNil: true},
	}
	for _, tt := range tests {
		c := NewClient(nil, WithRateLimit(tt.rps)).(*restClient)
		if tt.wantNil {
			assert.Nil(t, c.limiter, "rps=%v", tt.rps)
			continue
		}
		require.NotNil(t, c.limiter, "rps=%v", tt.rps)
		assert.Equal(t, rate.Limit(tt.rps), c.limiter.Limit())
		assert.Equal(t, tt.wantBurst, c.limiter.Burst())
	}
}

func TestThrottle(t *testing.T) {
	assert.NoError(t, (&restClient{}).throttle(context.Background()))

	c := &restClient{limiter: rate.NewLimiter(rate.Every(time.Hour), 0)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.throttle(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sf: rate limit")
}

func TestConnect_MissingCreds(t *testing.T) {
	for _, creds := range []Creds{
		{Username: "ops@example.com", PrivateKeyPEM: "pem"},
		{ClientID: "3MVG9", PrivateKeyPEM: "pem"},
		{ClientID: "3MVG9", Username: "ops@example.com"},
	} {
		_, err := Connect(creds)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "are required")
	}
}
