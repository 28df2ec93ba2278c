// Package ingest runs the two ingestion phases: the index ingestor that
// discovers listings, and the enricher that promotes them to complete deals.
package ingest

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Phase names a timed step of enrichment.
type Phase string

const (
	PhaseFetch     Phase = "fetch"
	PhaseExtract   Phase = "extract"
	PhaseResolve   Phase = "resolve"
	PhaseFolder    Phase = "folder"
	PhaseUpload    Phase = "upload"
	PhaseUpdate    Phase = "update"
	PhaseDocuments Phase = "documents"
)

var phaseOrder = []Phase{PhaseFetch, PhaseExtract, PhaseResolve, PhaseFolder, PhaseUpload, PhaseDocuments, PhaseUpdate}

// IndexSummary counts the outcome of one index run.
type IndexSummary struct {
	Source    string        `json:"source"`
	Inserted  int           `json:"inserted"`
	Refreshed int           `json:"refreshed"`
	Seen      int           `json:"seen"`
	Unmapped  int           `json:"unmapped"`
	Errors    int           `json:"errors"`
	TimedOut  bool          `json:"timed_out"`
	Duration  time.Duration `json:"duration_ns"`
}

func (s *IndexSummary) String() string {
	out := fmt.Sprintf("import %s: seen=%d inserted=%d refreshed=%d unmapped=%d errors=%d in %s",
		s.Source, s.Seen, s.Inserted, s.Refreshed, s.Unmapped, s.Errors, s.Duration.Round(time.Millisecond))
	if s.TimedOut {
		out += " (stopped at deadline)"
	}
	return out
}

// Outcome is the fate of one listing during enrichment.
type Outcome string

const (
	OutcomeUpdated     Outcome = "updated"
	OutcomeUnchanged   Outcome = "unchanged"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeLost        Outcome = "lost"
	OutcomeQuarantined Outcome = "quarantined"
	OutcomeRetry       Outcome = "retry"
	OutcomeFailed      Outcome = "failed"
)

// EnrichSummary counts the outcome of one enrichment run.
type EnrichSummary struct {
	Source      string `json:"source"`
	Queued      int    `json:"queued"`
	Processed   int    `json:"processed"`
	Updated     int    `json:"updated"`
	Unchanged   int    `json:"unchanged"`
	Skipped     int    `json:"skipped"`
	Lost        int    `json:"lost"`
	Quarantined int    `json:"quarantined"`
	Retry       int    `json:"retry"`
	Failed      int    `json:"failed"`
	Artifacts   int    `json:"artifacts"`
	Sessions    int    `json:"sessions"`
	TimedOut    bool   `json:"timed_out"`

	// BlockedOut is set when the batch ended early on repeated fetch failures.
	BlockedOut bool `json:"blocked_out,omitempty"`
	// DocumentErrors counts attached documents that could not be archived.
	DocumentErrors int `json:"document_errors,omitempty"`

	Reasons  map[string]int          `json:"reasons,omitempty"`
	Timings  map[Phase]time.Duration `json:"timings_ns,omitempty"`
	Duration time.Duration           `json:"duration_ns"`
}

func newEnrichSummary(source string) *EnrichSummary {
	return &EnrichSummary{
		Source:  source,
		Reasons: make(map[string]int),
		Timings: make(map[Phase]time.Duration),
	}
}

func (s *EnrichSummary) count(o Outcome, reason string) {
	s.Processed++
	switch o {
	case OutcomeUpdated:
		s.Updated++
	case OutcomeUnchanged:
		s.Unchanged++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeLost:
		s.Lost++
	case OutcomeQuarantined:
		s.Quarantined++
	case OutcomeRetry:
		s.Retry++
	case OutcomeFailed:
		s.Failed++
	}
	if reason != "" {
		s.Reasons[reason]++
	}
}

func (s *EnrichSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "enrich %s: queued=%d processed=%d updated=%d unchanged=%d skipped=%d lost=%d quarantined=%d retry=%d failed=%d artifacts=%d in %s",
		s.Source, s.Queued, s.Processed, s.Updated, s.Unchanged, s.Skipped, s.Lost, s.Quarantined, s.Retry, s.Failed,
		s.Artifacts, s.Duration.Round(time.Millisecond))
	if s.TimedOut {
		b.WriteString(" (stopped at deadline)")
	}
	if s.BlockedOut {
		b.WriteString(" (stopped: source blocking)")
	}
	if s.DocumentErrors > 0 {
		fmt.Fprintf(&b, " document_errors=%d", s.DocumentErrors)
	}
	var parts []string
	for _, p := range phaseOrder {
		if d, ok := s.Timings[p]; ok {
			parts = append(parts, fmt.Sprintf("%s=%s", p, d.Round(time.Millisecond)))
		}
	}
	if len(parts) > 0 {
		b.WriteString("\n  timings: " + strings.Join(parts, " "))
	}
	if len(s.Reasons) > 0 {
		reasons := make([]string, 0, len(s.Reasons))
		for r, n := range s.Reasons {
			reasons = append(reasons, fmt.Sprintf("%s=%d", r, n))
		}
		sort.Strings(reasons)
		b.WriteString("\n  reasons: " + strings.Join(reasons, " "))
	}
	return b.String()
}
