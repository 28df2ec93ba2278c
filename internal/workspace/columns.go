// Package workspace reconciles the catalog with the analyst spreadsheet:
// push writes system-owned columns out, pull reads analyst edits back.
package workspace

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/deal-pipeline/internal/model"
)

// Kind is how a column's cells are rendered and coerced.
type Kind int

const (
	KindText Kind = iota
	KindNumber
	KindDate
	KindURL
	KindEnum
)

// Column declares one workspace column and who owns it.
type Column struct {
	Name string
	// Push columns are written from the catalog.
	Push bool
	// Pull columns are read back into the catalog.
	Pull bool
	// System columns are never pulled and are protected in the sheet.
	System bool
	// AllowBlankPull lets an empty cell clear the catalog value.
	AllowBlankPull bool
	// Virtual columns have no catalog column of their own.
	Virtual bool
	Kind    Kind
	// Enum names the dropdown list of a KindEnum column.
	Enum string
	// Label is the link text of a KindURL column.
	Label string
}

// Dropdown list names.
const (
	EnumStatus     = "status"
	EnumDecision   = "decision"
	EnumOwner      = "owner"
	EnumPriority   = "priority"
	EnumPassReason = "pass_reason"
)

// Columns is the single ownership table for the workspace, in sheet order.
var Columns = []Column{
	{Name: "deal_uid", Push: true, System: true, Virtual: true},
	{Name: "source", Push: true, System: true},
	{Name: "source_listing_id", Push: true, System: true},
	{Name: "title", Push: true, System: true},
	{Name: "industry", Push: true, System: true},
	{Name: "sector", Push: true, System: true},
	{Name: "location", Push: true, System: true},
	{Name: "revenue_k", Push: true, System: true, Kind: KindNumber},
	{Name: "ebitda_k", Push: true, System: true, Kind: KindNumber},
	{Name: "asking_price_k", Push: true, System: true, Kind: KindNumber},
	{Name: "revenue_k_manual", Pull: true, AllowBlankPull: true, Kind: KindNumber},
	{Name: "ebitda_k_manual", Pull: true, AllowBlankPull: true, Kind: KindNumber},
	{Name: "asking_price_k_manual", Pull: true, AllowBlankPull: true, Kind: KindNumber},
	{Name: "revenue_k_effective", Push: true, System: true, Kind: KindNumber},
	{Name: "ebitda_k_effective", Push: true, System: true, Kind: KindNumber},
	{Name: "asking_price_k_effective", Push: true, System: true, Kind: KindNumber},
	{Name: "ebitda_margin", Push: true, System: true, Kind: KindNumber},
	{Name: "revenue_multiple", Push: true, System: true, Kind: KindNumber},
	{Name: "ebitda_multiple", Push: true, System: true, Kind: KindNumber},
	{Name: "status", Push: true, Pull: true, AllowBlankPull: true, Kind: KindEnum, Enum: EnumStatus},
	{Name: "decision", Pull: true, AllowBlankPull: true, Kind: KindEnum, Enum: EnumDecision},
	{Name: "owner", Pull: true, AllowBlankPull: true, Kind: KindEnum, Enum: EnumOwner},
	{Name: "priority", Pull: true, AllowBlankPull: true, Kind: KindEnum, Enum: EnumPriority},
	{Name: "pass_reason", Pull: true, AllowBlankPull: true, Kind: KindEnum, Enum: EnumPassReason},
	{Name: "notes", Pull: true, AllowBlankPull: true},
	{Name: "lost_reason", Push: true, Pull: true, AllowBlankPull: true},
	{Name: "source_url", Push: true, System: true, Kind: KindURL, Label: "Listing"},
	{Name: "drive_folder_url", Push: true, System: true, Kind: KindURL, Label: "Folder"},
	{Name: "pdf_drive_url", Push: true, System: true, Kind: KindURL, Label: "PDF"},
	{Name: "first_seen", Push: true, System: true, Kind: KindDate},
	{Name: "last_seen", Push: true, System: true, Kind: KindDate},
	{Name: "last_updated_source", Push: true, System: true},
}

// Default dropdown values. Owners are overridable through configuration.
var (
	Owners      = []string{"AMO", "JS", "RB", "TW"}
	Priorities  = []string{"High", "Medium", "Low"}
	PassReasons = []string{
		"Too small",
		"Too large",
		"Valuation",
		"Sector",
		"Location",
		"Owner dependency",
		"Declining trading",
		"Other",
	}
)

// Header returns the declared column names in order.
func Header() []string {
	out := make([]string, len(Columns))
	for i, c := range Columns {
		out[i] = c.Name
	}
	return out
}

// ColumnIndex returns the position of a column, or -1.
func ColumnIndex(name string) int {
	for i, c := range Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Enums holds the dropdown lists in effect.
type Enums map[string][]string

// DefaultEnums returns the dropdown lists with the given owners, or the
// default owners when none are given.
func DefaultEnums(owners []string) Enums {
	if len(owners) == 0 {
		owners = Owners
	}
	statuses := make([]string, len(model.Statuses))
	for i, s := range model.Statuses {
		statuses[i] = string(s)
	}
	decisions := make([]string, len(model.Decisions))
	for i, d := range model.Decisions {
		decisions[i] = string(d)
	}
	return Enums{
		EnumStatus:     statuses,
		EnumDecision:   decisions,
		EnumOwner:      owners,
		EnumPriority:   Priorities,
		EnumPassReason: PassReasons,
	}
}

// Allows reports whether v is in the named list.
func (e Enums) Allows(list, v string) bool {
	for _, s := range e[list] {
		if s == v {
			return true
		}
	}
	return false
}

// value returns the catalog value of a column as nil, string, float64 or time.
func (c Column) value(d *model.Deal) any {
	switch c.Name {
	case "deal_uid":
		return d.UID()
	case "source":
		return d.Source
	case "source_listing_id":
		return d.SourceListingID
	case "title":
		return strOrNil(d.Title)
	case "industry":
		return strOrNil(d.Industry)
	case "sector":
		return strOrNil(d.Sector)
	case "location":
		if d.Location != nil {
			return *d.Location
		}
		return strOrNil(d.LocationRaw)
	case "revenue_k":
		return floatOrNil(d.RevenueK)
	case "ebitda_k":
		return floatOrNil(d.EbitdaK)
	case "asking_price_k":
		return floatOrNil(d.AskingPriceK)
	case "revenue_k_manual":
		return floatOrNil(d.RevenueKManual)
	case "ebitda_k_manual":
		return floatOrNil(d.EbitdaKManual)
	case "asking_price_k_manual":
		return floatOrNil(d.AskingPriceKManual)
	case "revenue_k_effective":
		return floatOrNil(d.RevenueKEffective)
	case "ebitda_k_effective":
		return floatOrNil(d.EbitdaKEffective)
	case "asking_price_k_effective":
		return floatOrNil(d.AskingPriceKEffective)
	case "ebitda_margin":
		return floatOrNil(d.EbitdaMargin)
	case "revenue_multiple":
		return floatOrNil(d.RevenueMultiple)
	case "ebitda_multiple":
		return floatOrNil(d.EbitdaMultiple)
	case "status":
		if d.Status == nil {
			return nil
		}
		return string(*d.Status)
	case "decision":
		if d.Decision == nil {
			return nil
		}
		return string(*d.Decision)
	case "owner":
		return strOrNil(d.Owner)
	case "priority":
		return strOrNil(d.Priority)
	case "pass_reason":
		return strOrNil(d.PassReason)
	case "notes":
		return strOrNil(d.Notes)
	case "lost_reason":
		return strOrNil(d.LostReason)
	case "source_url":
		return strOrNil(d.SourceURL)
	case "drive_folder_url":
		return strOrNil(d.DriveFolderURL)
	case "pdf_drive_url":
		return strOrNil(d.PDFDriveURL)
	case "first_seen":
		return d.FirstSeen
	case "last_seen":
		return d.LastSeen
	case "last_updated_source":
		if d.LastUpdatedSource == nil {
			return nil
		}
		return string(*d.LastUpdatedSource)
	}
	panic(fmt.Sprintf("workspace: unhandled column %s", c.Name))
}

// render formats a catalog value as the cell text written with USER_ENTERED.
func (c Column) render(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return x.UTC().Format(time.DateOnly)
	case string:
		if c.Kind == KindURL && x != "" {
			return Hyperlink(x, c.Label)
		}
		return x
	}
	return fmt.Sprint(v)
}

// Hyperlink returns a HYPERLINK formula with quotes escaped.
func Hyperlink(url, label string) string {
	esc := func(s string) string { return strings.ReplaceAll(s, `"`, `""`) }
	return fmt.Sprintf(`=HYPERLINK("%s","%s")`, esc(url), esc(label))
}

// sameCell compares a sheet cell with rendered catalog text in the column's
// domain, so "2500" and "2500.0" are equal for numbers.
func (c Column) sameCell(cell, rendered string) bool {
	cell, rendered = strings.TrimSpace(cell), strings.TrimSpace(rendered)
	if c.Kind == KindNumber && cell != "" && rendered != "" {
		a, errA := parseNumber(cell)
		b, errB := parseNumber(rendered)
		if errA == nil && errB == nil {
			return model.FloatPtrEqual(&a, &b)
		}
	}
	if c.Kind == KindDate && cell != "" && rendered != "" {
		a, okA := parseDate(cell)
		b, okB := parseDate(rendered)
		if okA && okB {
			return a.Equal(b)
		}
	}
	return cell == rendered
}

// dateLayouts are the shapes a date cell comes back in under FORMATTED_STRING,
// day first for en_GB sheets.
var dateLayouts = []string{
	time.DateOnly,
	"2/1/2006",
	"2/1/06",
	"2006/01/02",
	"2 Jan 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	time.DateTime,
	time.RFC3339,
}

// sheetsEpoch is day zero of a spreadsheet date serial.
var sheetsEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// parseDate reads a date cell as a UTC calendar day. Bare integers are date
// serials, which is how a date cell reads once its number format is cleared.
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return time.Time{}, false
		}
		return sheetsEpoch.AddDate(0, 0, n), true
	}
	for _, l := range dateLayouts {
		if t, err := time.Parse(l, s); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// parseNumber accepts the formats analysts type: thousands separators,
// a leading pound sign, surrounding spaces.
func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "£")
	s = strings.ReplaceAll(s, ",", "")
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

func strOrNil(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func floatOrNil(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
