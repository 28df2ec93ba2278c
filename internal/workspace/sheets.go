package workspace

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/sells-group/deal-pipeline/internal/resilience"
)

// maxValueRanges bounds the ranges sent in one values batch update.
const maxValueRanges = 500

// GoogleSheet is a Sheet backed by one tab of a Google spreadsheet.
type GoogleSheet struct {
	svc           *sheets.Service
	spreadsheetID string
	tab           string
	policy        resilience.Policy
	limiter       *rate.Limiter

	mu      sync.Mutex
	sheetID *int64
}

// SheetsOptions configures a GoogleSheet.
type SheetsOptions struct {
	SpreadsheetID   string
	Tab             string
	CredentialsFile string
	// WriteRPS bounds API calls per second.
	WriteRPS    float64
	MaxAttempts int
}

// NewGoogleSheet creates a Sheets v4 client for one tab. opts are appended
// after the credentials option.
func NewGoogleSheet(ctx context.Context, o SheetsOptions, opts ...option.ClientOption) (*GoogleSheet, error) {
	if o.SpreadsheetID == "" {
		return nil, eris.New("workspace: spreadsheet id is required")
	}
	if o.Tab == "" {
		o.Tab = "Deals"
	}
	if o.WriteRPS <= 0 {
		o.WriteRPS = 1
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	base := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
	if o.CredentialsFile != "" {
		base = append(base, option.WithCredentialsFile(o.CredentialsFile))
	}
	svc, err := sheets.NewService(ctx, append(base, opts...)...)
	if err != nil {
		return nil, eris.Wrap(err, "workspace: create sheets service")
	}
	return &GoogleSheet{
		svc:           svc,
		spreadsheetID: o.SpreadsheetID,
		tab:           o.Tab,
		policy:        resilience.QuotaPolicy(o.MaxAttempts).Logged("workspace", "sheets"),
		limiter:       rate.NewLimiter(rate.Limit(o.WriteRPS), 1),
	}, nil
}

// WithPolicy overrides the retry policy.
func (g *GoogleSheet) WithPolicy(p resilience.Policy) *GoogleSheet {
	g.policy = p
	return g
}

func (g *GoogleSheet) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := resilience.Do(ctx, g.policy, func(ctx context.Context) error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		return resilience.FromGoogle(fn(ctx))
	})
	if err != nil {
		return eris.Wrapf(err, "workspace: %s", op)
	}
	return nil
}

func (g *GoogleSheet) a1(r string) string {
	return "'" + strings.ReplaceAll(g.tab, "'", "''") + "'!" + r
}

// ReadAll reads the whole tab. Formulas come back unevaluated so hyperlink
// cells compare equal to what push writes.
func (g *GoogleSheet) ReadAll(ctx context.Context) ([][]string, error) {
	var vr *sheets.ValueRange
	err := g.call(ctx, "read values", func(ctx context.Context) error {
		var err error
		vr, err = g.svc.Spreadsheets.Values.Get(g.spreadsheetID, g.a1("A:ZZ")).
			ValueRenderOption("FORMULA").
			DateTimeRenderOption("FORMATTED_STRING").
			Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([][]string, len(vr.Values))
	for i, row := range vr.Values {
		cells := make([]string, len(row))
		for j, v := range row {
			if v != nil {
				cells[j] = fmt.Sprint(v)
			}
		}
		out[i] = cells
	}
	return out, nil
}

// WriteHeader writes the header row.
func (g *GoogleSheet) WriteHeader(ctx context.Context, header []string) error {
	vr := &sheets.ValueRange{Values: [][]any{toAny(header)}}
	return g.call(ctx, "write header", func(ctx context.Context) error {
		_, err := g.svc.Spreadsheets.Values.Update(g.spreadsheetID, g.a1("A1"), vr).
			ValueInputOption("USER_ENTERED").Context(ctx).Do()
		return err
	})
}

// AppendRows appends rows after the last non-empty row.
func (g *GoogleSheet) AppendRows(ctx context.Context, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = toAny(r)
	}
	vr := &sheets.ValueRange{Values: values}
	return g.call(ctx, "append rows", func(ctx context.Context) error {
		_, err := g.svc.Spreadsheets.Values.Append(g.spreadsheetID, g.a1("A1"), vr).
			ValueInputOption("USER_ENTERED").
			InsertDataOption("INSERT_ROWS").
			Context(ctx).Do()
		return err
	})
}

// UpdateCells writes cells in batches of value ranges.
func (g *GoogleSheet) UpdateCells(ctx context.Context, updates []CellUpdate) error {
	for start := 0; start < len(updates); start += maxValueRanges {
		end := min(start+maxValueRanges, len(updates))
		data := make([]*sheets.ValueRange, 0, end-start)
		for _, u := range updates[start:end] {
			data = append(data, &sheets.ValueRange{
				Range:  g.a1(fmt.Sprintf("%s%d", ColumnLetter(u.Col), u.Row+1)),
				Values: [][]any{{u.Value}},
			})
		}
		req := &sheets.BatchUpdateValuesRequest{ValueInputOption: "USER_ENTERED", Data: data}
		err := g.call(ctx, "update cells", func(ctx context.Context) error {
			_, err := g.svc.Spreadsheets.Values.BatchUpdate(g.spreadsheetID, req).Context(ctx).Do()
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ApplyValidations installs strict ONE_OF_LIST dropdowns below the header.
func (g *GoogleSheet) ApplyValidations(ctx context.Context, rules []Validation) error {
	id, err := g.tabID(ctx)
	if err != nil {
		return err
	}
	reqs := make([]*sheets.Request, 0, len(rules))
	for _, r := range rules {
		values := make([]*sheets.ConditionValue, len(r.Values))
		for i, v := range r.Values {
			values[i] = &sheets.ConditionValue{UserEnteredValue: v}
		}
		reqs = append(reqs, &sheets.Request{SetDataValidation: &sheets.SetDataValidationRequest{
			Range: columnRange(id, r.Col),
			Rule: &sheets.DataValidationRule{
				Condition:    &sheets.BooleanCondition{Type: "ONE_OF_LIST", Values: values},
				Strict:       true,
				ShowCustomUi: true,
			},
		}})
	}
	return g.batch(ctx, "apply validations", reqs)
}

// ApplyConditionalFormats adds background colour rules.
func (g *GoogleSheet) ApplyConditionalFormats(ctx context.Context, rules []ConditionalFormat) error {
	id, err := g.tabID(ctx)
	if err != nil {
		return err
	}
	reqs := make([]*sheets.Request, 0, len(rules))
	for i, r := range rules {
		reqs = append(reqs, &sheets.Request{AddConditionalFormatRule: &sheets.AddConditionalFormatRuleRequest{
			Index: int64(i),
			Rule: &sheets.ConditionalFormatRule{
				Ranges: []*sheets.GridRange{columnRange(id, r.Col)},
				BooleanRule: &sheets.BooleanRule{
					Condition: &sheets.BooleanCondition{
						Type:   "TEXT_EQ",
						Values: []*sheets.ConditionValue{{UserEnteredValue: r.Value}},
					},
					Format: &sheets.CellFormat{BackgroundColor: &sheets.Color{
						Red: r.Color.Red, Green: r.Color.Green, Blue: r.Color.Blue,
					}},
				},
			},
		}})
	}
	return g.batch(ctx, "apply conditional formats", reqs)
}

// ProtectRanges protects whole columns with a warning only.
func (g *GoogleSheet) ProtectRanges(ctx context.Context, cols []int) error {
	id, err := g.tabID(ctx)
	if err != nil {
		return err
	}
	reqs := make([]*sheets.Request, 0, len(cols))
	for _, c := range cols {
		rng := columnRange(id, c)
		rng.StartRowIndex = 0
		reqs = append(reqs, &sheets.Request{AddProtectedRange: &sheets.AddProtectedRangeRequest{
			ProtectedRange: &sheets.ProtectedRange{
				Range:       rng,
				Description: "system column " + ColumnLetter(c),
				WarningOnly: true,
			},
		}})
	}
	return g.batch(ctx, "protect ranges", reqs)
}

func (g *GoogleSheet) batch(ctx context.Context, op string, reqs []*sheets.Request) error {
	if len(reqs) == 0 {
		return nil
	}
	req := &sheets.BatchUpdateSpreadsheetRequest{Requests: reqs}
	return g.call(ctx, op, func(ctx context.Context) error {
		_, err := g.svc.Spreadsheets.BatchUpdate(g.spreadsheetID, req).Context(ctx).Do()
		return err
	})
}

// tabID resolves and caches the numeric sheet id of the tab.
func (g *GoogleSheet) tabID(ctx context.Context) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sheetID != nil {
		return *g.sheetID, nil
	}
	var ss *sheets.Spreadsheet
	err := g.call(ctx, "get spreadsheet", func(ctx context.Context) error {
		var err error
		ss, err = g.svc.Spreadsheets.Get(g.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
		return err
	})
	if err != nil {
		return 0, err
	}
	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == g.tab {
			id := s.Properties.SheetId
			g.sheetID = &id
			zap.L().Debug("workspace: resolved tab", zap.String("tab", g.tab), zap.Int64("sheet_id", id))
			return id, nil
		}
	}
	return 0, eris.Errorf("workspace: tab %q not found in spreadsheet", g.tab)
}

// columnRange covers a column from the first data row down.
func columnRange(sheetID int64, col int) *sheets.GridRange {
	return &sheets.GridRange{
		SheetId:          sheetID,
		StartRowIndex:    1,
		StartColumnIndex: int64(col),
		EndColumnIndex:   int64(col + 1),
	}
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
