package workspace

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/sells-group/deal-pipeline/internal/resilience"
)

// fakeSheetsAPI serves the subset of the Sheets v4 REST API GoogleSheet uses.
type fakeSheetsAPI struct {
	mu       sync.Mutex
	values   [][]any
	failNext int
	calls    []string
	bodies   map[string][]byte
}

func (f *fakeSheetsAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, _ := io.ReadAll(r.Body)
	if f.bodies == nil {
		f.bodies = map[string][]byte{}
	}
	w.Header().Set("Content-Type", "application/json")
	if f.failNext > 0 {
		f.failNext--
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"code":429,"message":"Quota exceeded","status":"RESOURCE_EXHAUSTED"}}`)
		return
	}

	path := r.URL.Path
	var op string
	switch {
	case r.Method == http.MethodGet && strings.Contains(path, "/values/"):
		op = "values.get"
		_ = json.NewEncoder(w).Encode(map[string]any{"range": "Deals!A1:ZZ100", "values": f.values})
	case r.Method == http.MethodPost && strings.HasSuffix(path, "/values:batchUpdate"):
		op = "values.batchUpdate"
		_, _ = io.WriteString(w, `{}`)
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":append"):
		op = "values.append"
		_, _ = io.WriteString(w, `{}`)
	case r.Method == http.MethodPost && strings.HasSuffix(path, ":batchUpdate"):
		op = "batchUpdate"
		_, _ = io.WriteString(w, `{}`)
	case r.Method == http.MethodGet:
		op = "get"
		_, _ = io.WriteString(w, `{"sheets":[{"properties":{"sheetId":0,"title":"Summary"}},{"properties":{"sheetId":7,"title":"Deals"}}]}`)
	default:
		http.NotFound(w, r)
		return
	}
	f.calls = append(f.calls, op)
	f.bodies[op] = body
}

func newTestGoogleSheet(t *testing.T, fake *fakeSheetsAPI) *GoogleSheet {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	g, err := NewGoogleSheet(context.Background(),
		SheetsOptions{SpreadsheetID: "1bXyZ", Tab: "Deals", WriteRPS: 1000},
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	p := resilience.QuotaPolicy(3)
	p.InitialBackoff = time.Millisecond
	p.MaxBackoff = 5 * time.Millisecond
	return g.WithPolicy(p)
}

func TestGoogleSheet_ReadAllRetriesQuota(t *testing.T) {
	fake := &fakeSheetsAPI{
		failNext: 1,
		values: [][]any{
			{"deal_uid", "source"},
			{"bb:51106", "bb", 1200},
			{},
		},
	}
	g := newTestGoogleSheet(t, fake)

	rows, err := g.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"bb:51106", "bb", "1200"}, rows[1])
	assert.Empty(t, rows[2])
	assert.Equal(t, []string{"values.get"}, fake.calls)
}

func TestGoogleSheet_ReadAllGivesUpAfterAttempts(t *testing.T) {
	fake := &fakeSheetsAPI{failNext: 10}
	g := newTestGoogleSheet(t, fake)

	_, err := g.ReadAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workspace: read values")
	assert.Equal(t, 7, fake.failNext)
}

func TestGoogleSheet_UpdateCells(t *testing.T) {
	fake := &fakeSheetsAPI{}
	g := newTestGoogleSheet(t, fake)

	err := g.UpdateCells(context.Background(), []CellUpdate{
		{Row: 1, Col: ColumnIndex("title"), Value: "Care Home"},
		{Row: 4, Col: ColumnIndex("source_url"), Value: Hyperlink("https://bb.test/1", "Listing")},
	})
	require.NoError(t, err)

	var req struct {
		ValueInputOption string `json:"valueInputOption"`
		Data             []struct {
			Range  string  `json:"range"`
			Values [][]any `json:"values"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(fake.bodies["values.batchUpdate"], &req))
	assert.Equal(t, "USER_ENTERED", req.ValueInputOption)
	require.Len(t, req.Data, 2)
	assert.Equal(t, "'Deals'!D2", req.Data[0].Range)
	assert.Equal(t, "'Deals'!"+ColumnLetter(ColumnIndex("source_url"))+"5", req.Data[1].Range)
	assert.Equal(t, `=HYPERLINK("https://bb.test/1","Listing")`, req.Data[1].Values[0][0])
}

func TestGoogleSheet_ApplyValidationsResolvesTab(t *testing.T) {
	fake := &fakeSheetsAPI{}
	g := newTestGoogleSheet(t, fake)
	ctx := context.Background()

	rules := NewReconciler(nil, nil, nil).Validations()
	require.NoError(t, g.ApplyValidations(ctx, rules))
	require.NoError(t, g.ProtectRanges(ctx, SystemColumns()))
	assert.Equal(t, []string{"get", "batchUpdate", "batchUpdate"}, fake.calls)

	var req struct {
		Requests []struct {
			AddProtectedRange struct {
				ProtectedRange struct {
					Range struct {
						SheetID          int64 `json:"sheetId"`
						StartColumnIndex int64 `json:"startColumnIndex"`
					} `json:"range"`
					WarningOnly bool `json:"warningOnly"`
				} `json:"protectedRange"`
			} `json:"addProtectedRange"`
		} `json:"requests"`
	}
	require.NoError(t, json.Unmarshal(fake.bodies["batchUpdate"], &req))
	require.Len(t, req.Requests, len(SystemColumns()))
	first := req.Requests[0].AddProtectedRange.ProtectedRange
	assert.Equal(t, int64(7), first.Range.SheetID)
	assert.True(t, first.WarningOnly)
}

func TestNewGoogleSheet_RequiresSpreadsheet(t *testing.T) {
	_, err := NewGoogleSheet(context.Background(), SheetsOptions{})
	require.Error(t, err)
}
