// Package report turns weekly snapshots into a funnel report and delivers it
// to the configured sinks.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/deal-pipeline/internal/model"
	"github.com/sells-group/deal-pipeline/internal/snapshot"
)

// StatusLine is one funnel stage compared with the previous week.
type StatusLine struct {
	Status   string `json:"status"`
	Current  int    `json:"current"`
	Previous int    `json:"previous"`
}

// Delta is the week-over-week change.
func (l StatusLine) Delta() int { return l.Current - l.Previous }

// Count is a labelled deal count.
type Count struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Funnel is the weekly report model.
type Funnel struct {
	Key           string              `json:"key"`
	PreviousKey   string              `json:"previous_key,omitempty"`
	Total         int                 `json:"total"`
	PreviousTotal int                 `json:"previous_total"`
	Statuses      []StatusLine        `json:"statuses"`
	NewBySource   []Count             `json:"new_by_source"`
	NewByIndustry []Count             `json:"new_by_industry"`
	ByIndustry    []Count             `json:"by_industry"`
	Rows          []model.SnapshotRow `json:"-"`
}

// FunnelOrder lists the report stages, the pre-workflow buckets first.
func FunnelOrder() []string {
	out := []string{snapshot.StatusNew, snapshot.StatusUnassessed}
	for _, s := range model.Statuses {
		out = append(out, string(s))
	}
	return out
}

// BuildFunnel compares the current snapshot with the previous one, which may
// be empty for the first week.
func BuildFunnel(key string, current []model.SnapshotRow, previousKey string, previous []model.SnapshotRow) *Funnel {
	f := &Funnel{Key: key, PreviousKey: previousKey, Rows: current}

	cur := map[string]int{}
	newBySource := map[string]int{}
	newByIndustry := map[string]int{}
	byIndustry := map[string]int{}
	for _, r := range current {
		cur[r.Status] += r.DealCount
		f.Total += r.DealCount
		byIndustry[r.Industry] += r.DealCount
		if r.Status == snapshot.StatusNew {
			newBySource[r.Source] += r.DealCount
			newByIndustry[r.Industry] += r.DealCount
		}
	}
	prev := map[string]int{}
	for _, r := range previous {
		prev[r.Status] += r.DealCount
		f.PreviousTotal += r.DealCount
	}

	for _, s := range FunnelOrder() {
		f.Statuses = append(f.Statuses, StatusLine{Status: s, Current: cur[s], Previous: prev[s]})
	}
	f.NewBySource = sortedCounts(newBySource)
	f.NewByIndustry = sortedCounts(newByIndustry)
	f.ByIndustry = sortedCounts(byIndustry)
	return f
}

// sortedCounts orders by count descending, then label.
func sortedCounts(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Label: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// Title is the report heading.
func (f *Funnel) Title() string {
	return "Deal pipeline " + f.Key
}

// Text renders the report as a plain-text chat message.
func (f *Funnel) Text() string {
	var b strings.Builder
	b.WriteString(f.Title())
	if f.PreviousKey != "" {
		fmt.Fprintf(&b, " (vs %s)", f.PreviousKey)
	}
	fmt.Fprintf(&b, "\nTotal deals: %d%s\n", f.Total, signed(f.Total-f.PreviousTotal, f.PreviousKey != ""))

	b.WriteString("\nFunnel\n")
	for _, l := range f.Statuses {
		if l.Current == 0 && l.Previous == 0 {
			continue
		}
		fmt.Fprintf(&b, "  %-16s %5d%s\n", l.Status, l.Current, signed(l.Delta(), f.PreviousKey != ""))
	}

	if len(f.NewBySource) > 0 {
		b.WriteString("\nNew this week by source\n")
		for _, c := range f.NewBySource {
			fmt.Fprintf(&b, "  %-16s %5d\n", c.Label, c.Count)
		}
		b.WriteString("\nNew this week by industry\n")
		for _, c := range f.NewByIndustry {
			fmt.Fprintf(&b, "  %-30s %5d\n", c.Label, c.Count)
		}
	}
	return b.String()
}

func signed(d int, show bool) string {
	if !show {
		return ""
	}
	return fmt.Sprintf(" (%+d)", d)
}
