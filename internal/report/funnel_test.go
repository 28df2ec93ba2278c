package report

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/deal-pipeline/internal/model"
)

func snapRows(key string, rows ...model.SnapshotRow) []model.SnapshotRow {
	for i := range rows {
		rows[i].SnapshotKey = key
	}
	return rows
}

func testFunnel() *Funnel {
	previous := snapRows("2025-W01",
		model.SnapshotRow{Industry: "Healthcare", Status: "New", Source: "bb", DealCount: 3},
		model.SnapshotRow{Industry: "Healthcare", Status: "CIM", Source: "bb", DealCount: 1},
	)
	current := snapRows("2025-W02",
		model.SnapshotRow{Industry: "Healthcare", Status: "New", Source: "bb", DealCount: 2},
		model.SnapshotRow{Industry: "Technology", Status: "New", Source: "mv", DealCount: 4},
		model.SnapshotRow{Industry: "Healthcare", Status: "CIM", Source: "bb", DealCount: 2},
		model.SnapshotRow{Industry: "NA", Status: "Unassessed", Source: "ec", DealCount: 1},
	)
	return BuildFunnel("2025-W02", current, "2025-W01", previous)
}

func statusLine(t *testing.T, f *Funnel, status string) StatusLine {
	t.Helper()
	for _, l := range f.Statuses {
		if l.Status == status {
			return l
		}
	}
	t.Fatalf("no line for %s", status)
	return StatusLine{}
}

func TestBuildFunnel(t *testing.T) {
	f := testFunnel()

	assert.Equal(t, 9, f.Total)
	assert.Equal(t, 4, f.PreviousTotal)
	assert.Equal(t, FunnelOrder(), func() []string {
		var out []string
		for _, l := range f.Statuses {
			out = append(out, l.Status)
		}
		return out
	}())

	assert.Equal(t, StatusLine{Status: "New", Current: 6, Previous: 3}, statusLine(t, f, "New"))
	assert.Equal(t, 1, statusLine(t, f, "CIM").Delta())
	assert.Equal(t, 0, statusLine(t, f, "Lost").Current)

	assert.Equal(t, []Count{{Label: "mv", Count: 4}, {Label: "bb", Count: 2}}, f.NewBySource)
	assert.Equal(t, []Count{{Label: "Technology", Count: 4}, {Label: "Healthcare", Count: 2}}, f.NewByIndustry)
	assert.Equal(t, []Count{{Label: "Healthcare", Count: 4}, {Label: "Technology", Count: 4}, {Label: "NA", Count: 1}}, f.ByIndustry)
}

func TestBuildFunnel_FirstWeek(t *testing.T) {
	f := BuildFunnel("2025-W01", snapRows("2025-W01",
		model.SnapshotRow{Industry: "Healthcare", Status: "New", Source: "bb", DealCount: 3},
	), "", nil)

	assert.Zero(t, f.PreviousTotal)
	text := f.Text()
	assert.Contains(t, text, "Total deals: 3\n")
	assert.NotContains(t, text, "(+")
	assert.NotContains(t, text, "vs")
}

func TestFunnelText(t *testing.T) {
	text := testFunnel().Text()

	assert.Contains(t, text, "Deal pipeline 2025-W02 (vs 2025-W01)")
	assert.Contains(t, text, "Total deals: 9 (+5)")
	assert.Contains(t, text, "New this week by source")
	assert.Regexp(t, `CIM\s+2 \(\+1\)`, text)
	// Stages empty in both weeks are omitted.
	assert.NotContains(t, text, "Under Offer")
}

func TestWriteXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.xlsx")
	require.NoError(t, testFunnel().WriteXLSX(path))

	wb, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.Contains(t, wb.Sheet, "Funnel")
	require.Contains(t, wb.Sheet, "Industries")
	require.Contains(t, wb.Sheet, "Snapshot")

	funnel := wb.Sheet["Funnel"]
	assert.Equal(t, "Status", funnel.Rows[0].Cells[0].String())
	assert.Equal(t, "2025-W02", funnel.Rows[0].Cells[1].String())
	// Header, every stage and the total.
	assert.Len(t, funnel.Rows, len(FunnelOrder())+2)

	raw := wb.Sheet["Snapshot"]
	assert.Len(t, raw.Rows, 5)
	assert.Equal(t, "2025-W02", raw.Rows[1].Cells[0].String())
}
