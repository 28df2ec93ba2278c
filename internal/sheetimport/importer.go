package sheetimport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/deal-pipeline/internal/identity"
	"github.com/sells-group/deal-pipeline/internal/money"
	"github.com/sells-group/deal-pipeline/internal/store"
	"github.com/sells-group/deal-pipeline/internal/taxonomy"
)

// ErrNoHeader is returned when the sheet has no recognisable header row.
var ErrNoHeader = eris.New("sheetimport: no header row")

// field is a UserDeal attribute a column can map to.
type field int

const (
	fieldTitle field = iota
	fieldDescription
	fieldLocation
	fieldSector
	fieldIndustry
	fieldRevenue
	fieldEbitda
	fieldAskingPrice
	fieldMargin
	fieldGrowth
	fieldLeverage
	fieldOwner
	fieldNotes
)

// aliases maps normalised header labels to fields. Money headers may carry a
// unit suffix, e.g. "Revenue (£000s)", which is stripped before lookup.
var aliases = map[string]field{
	"title":          fieldTitle,
	"name":           fieldTitle,
	"business":       fieldTitle,
	"description":    fieldDescription,
	"summary":        fieldDescription,
	"location":       fieldLocation,
	"region":         fieldLocation,
	"sector":         fieldSector,
	"industry":       fieldIndustry,
	"revenue":        fieldRevenue,
	"turnover":       fieldRevenue,
	"revenue k":      fieldRevenue,
	"ebitda":         fieldEbitda,
	"ebitda k":       fieldEbitda,
	"profit":         fieldEbitda,
	"asking price":   fieldAskingPrice,
	"price":          fieldAskingPrice,
	"asking price k": fieldAskingPrice,
	"profit margin":  fieldMargin,
	"margin":         fieldMargin,
	"growth":         fieldGrowth,
	"revenue growth": fieldGrowth,
	"leverage":       fieldLeverage,
	"owner":          fieldOwner,
	"notes":          fieldNotes,
}

// column is a mapped header cell.
type column struct {
	index int
	field field
	unit  money.Unit
}

// Result summarises an import.
type Result struct {
	Rows         int           `json:"rows"`
	Inserted     int           `json:"inserted"`
	Refreshed    int           `json:"refreshed"`
	Blank        int           `json:"blank"`
	Invalid      int           `json:"invalid"`
	Unclassified int           `json:"unclassified"`
	Duration     time.Duration `json:"duration"`
}

// String renders a one-line summary.
func (r Result) String() string {
	return fmt.Sprintf("rows=%d inserted=%d refreshed=%d blank=%d invalid=%d unclassified=%d",
		r.Rows, r.Inserted, r.Refreshed, r.Blank, r.Invalid, r.Unclassified)
}

// Importer writes spreadsheet rows to the catalog.
type Importer struct {
	store  store.Store
	owners map[string]bool
}

// NewImporter creates an Importer. owners, when non-empty, restricts the owner
// column to the configured initials; other values are dropped.
func NewImporter(st store.Store, owners []string) *Importer {
	im := &Importer{store: st}
	if len(owners) > 0 {
		im.owners = make(map[string]bool, len(owners))
		for _, o := range owners {
			im.owners[o] = true
		}
	}
	return im
}

// ImportFile reads the workbook at path and imports its rows.
func (im *Importer) ImportFile(ctx context.Context, path string, opts ReadOptions) (*Result, error) {
	rows, err := ReadXLSX(path, opts)
	if err != nil {
		return nil, err
	}
	return im.Import(ctx, rows)
}

// Import maps rows, the first of which is the header, to user deals and upserts
// them. A row with a non-canonical industry is skipped and counted invalid;
// store errors abort the import.
func (im *Importer) Import(ctx context.Context, rows [][]string) (*Result, error) {
	start := time.Now()
	if len(rows) == 0 {
		return nil, ErrNoHeader
	}
	cols, err := mapHeader(rows[0])
	if err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("component", "sheetimport"))

	res := &Result{}
	for i, row := range rows[1:] {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "sheetimport: cancelled")
		}
		line := i + 2
		d, ok := im.toUserDeal(cols, row)
		if !ok {
			res.Blank++
			continue
		}
		res.Rows++

		if d.Industry != "" {
			canon, ok := canonicalIndustry(d.Industry)
			if !ok {
				log.Warn("sheetimport: industry not canonical, row skipped",
					zap.Int("line", line), zap.String("industry", d.Industry))
				res.Invalid++
				continue
			}
			d.Industry = canon
		} else {
			res.Unclassified++
		}

		outcome, err := im.store.UpsertUserDeal(ctx, d)
		if err != nil {
			return res, eris.Wrapf(err, "sheetimport: line %d", line)
		}
		switch outcome {
		case store.UpsertInserted:
			res.Inserted++
		default:
			res.Refreshed++
		}
		log.Debug("sheetimport: row imported",
			zap.Int("line", line),
			zap.String("uid", identity.UID("manual", d.ListingID)),
		)
	}
	res.Duration = time.Since(start)
	log.Info("sheetimport: complete",
		zap.Int("rows", res.Rows),
		zap.Int("inserted", res.Inserted),
		zap.Int("refreshed", res.Refreshed),
		zap.Int("invalid", res.Invalid),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func mapHeader(header []string) ([]column, error) {
	var cols []column
	seen := map[field]bool{}
	for i, h := range header {
		label, unit := splitUnit(h)
		f, ok := aliases[label]
		if !ok || seen[f] {
			continue
		}
		seen[f] = true
		cols = append(cols, column{index: i, field: f, unit: unit})
	}
	if !seen[fieldTitle] && !seen[fieldSector] {
		return nil, eris.Wrapf(ErrNoHeader, "need a title or sector column, got %q", strings.Join(header, ", "))
	}
	return cols, nil
}

// splitUnit normalises a header label and extracts a money unit hint from a
// trailing "(£000s)", "(£m)" or similar.
func splitUnit(h string) (string, money.Unit) {
	label := strings.TrimSpace(h)
	unit := money.UnitNone
	if open := strings.IndexAny(label, "(["); open >= 0 {
		unit = money.DetectUnit(label[open:])
		label = label[:open]
	}
	label = strings.ToLower(strings.TrimSpace(label))
	label = strings.NewReplacer("_", " ", "-", " ").Replace(label)
	label = strings.Join(strings.Fields(label), " ")
	if unit == money.UnitNone && strings.HasSuffix(label, " k") {
		unit = money.UnitThousands
	}
	return label, unit
}

// toUserDeal builds a UserDeal from a row. It reports false for a row with no
// title, sector or figures.
func (im *Importer) toUserDeal(cols []column, row []string) (store.UserDeal, bool) {
	var d store.UserDeal
	for _, c := range cols {
		v := cell(row, c.index)
		if v == "" {
			continue
		}
		switch c.field {
		case fieldTitle:
			d.Title = v
		case fieldDescription:
			d.Description = v
		case fieldLocation:
			d.Location = v
		case fieldSector:
			d.SectorRaw = v
		case fieldIndustry:
			d.Industry = v
		case fieldRevenue:
			d.Financials.RevenueK = money.ToThousandsHint(v, c.unit)
		case fieldEbitda:
			d.Financials.EbitdaK = money.ToThousandsHint(v, c.unit)
		case fieldAskingPrice:
			d.Financials.AskingPriceK = money.ToThousandsHint(v, c.unit)
		case fieldMargin:
			d.Financials.ProfitMarginPct = money.ToPercent(v)
		case fieldGrowth:
			d.Financials.RevenueGrowthPct = money.ToPercent(v)
		case fieldLeverage:
			d.Financials.LeveragePct = money.ToPercent(v)
		case fieldOwner:
			if im.owners == nil || im.owners[strings.ToUpper(v)] {
				d.Owner = strings.ToUpper(v)
			}
		case fieldNotes:
			d.Notes = v
		}
	}
	if d.Title == "" && d.SectorRaw == "" && d.Financials.RevenueK == nil && d.Financials.EbitdaK == nil {
		return d, false
	}
	if d.Title == "" {
		d.Title = d.SectorRaw
		if d.Location != "" {
			d.Title += ", " + d.Location
		}
	}
	d.ListingID = identity.UserDealListingID(d.SectorRaw, d.Location, d.Financials.RevenueK, d.Financials.EbitdaK)
	return d, true
}

// canonicalIndustry matches an industry case-insensitively, accepting spaces
// or ampersands for the enumeration's underscores.
func canonicalIndustry(v string) (string, bool) {
	key := normIndustry(v)
	for _, ind := range taxonomy.IndustryPriority {
		if normIndustry(ind) == key {
			return ind, true
		}
	}
	return "", false
}

func normIndustry(s string) string {
	s = strings.NewReplacer("&", " ", "_", " ", "-", " ").Replace(strings.ToLower(s))
	var b strings.Builder
	for _, w := range strings.Fields(s) {
		if w != "and" {
			b.WriteString(w)
		}
	}
	return b.String()
}

func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
