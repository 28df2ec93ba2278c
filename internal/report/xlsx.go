package report

import (
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// WriteXLSX saves the funnel as a workbook with a summary sheet, an industry
// sheet and the raw snapshot rows.
func (f *Funnel) WriteXLSX(path string) error {
	wb := xlsx.NewFile()

	summary, err := wb.AddSheet("Funnel")
	if err != nil {
		return eris.Wrap(err, "report: add funnel sheet")
	}
	addRow(summary, "Status", f.Key, f.PreviousKey, "Change")
	for _, l := range f.Statuses {
		row := summary.AddRow()
		row.AddCell().SetString(l.Status)
		row.AddCell().SetInt(l.Current)
		row.AddCell().SetInt(l.Previous)
		row.AddCell().SetInt(l.Delta())
	}
	row := summary.AddRow()
	row.AddCell().SetString("Total")
	row.AddCell().SetInt(f.Total)
	row.AddCell().SetInt(f.PreviousTotal)
	row.AddCell().SetInt(f.Total - f.PreviousTotal)

	industries, err := wb.AddSheet("Industries")
	if err != nil {
		return eris.Wrap(err, "report: add industry sheet")
	}
	addRow(industries, "Industry", "Deals", "New this week")
	newBy := map[string]int{}
	for _, c := range f.NewByIndustry {
		newBy[c.Label] = c.Count
	}
	for _, c := range f.ByIndustry {
		row := industries.AddRow()
		row.AddCell().SetString(c.Label)
		row.AddCell().SetInt(c.Count)
		row.AddCell().SetInt(newBy[c.Label])
	}

	raw, err := wb.AddSheet("Snapshot")
	if err != nil {
		return eris.Wrap(err, "report: add snapshot sheet")
	}
	addRow(raw, "snapshot_key", "industry", "status", "source", "deal_count")
	for _, r := range f.Rows {
		row := raw.AddRow()
		row.AddCell().SetString(r.SnapshotKey)
		row.AddCell().SetString(r.Industry)
		row.AddCell().SetString(r.Status)
		row.AddCell().SetString(r.Source)
		row.AddCell().SetInt(r.DealCount)
	}

	if err := wb.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}
