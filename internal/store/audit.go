package store

import (
	"context"
	"strings"

	"github.com/sells-group/deal-pipeline/internal/model"
	"github.com/sells-group/deal-pipeline/internal/taxonomy"
)

// AuditReport lists catalog rows that violate an integrity rule. Each slice
// holds deal UIDs, or artifact ids for orphans.
type AuditReport struct {
	NonCanonicalIndustry []string `json:"non_canonical_industry"`
	StaleDerived         []string `json:"stale_derived"`
	OrphanArtifacts      []int64  `json:"orphan_artifacts"`
	DuplicateCanonical   []string `json:"duplicate_canonical"`
	TerminalInQueue      []string `json:"terminal_in_queue"`
	PassWithoutReason    []string `json:"pass_without_reason"`
}

// Clean reports whether no violations were found. Pass without a reason is
// advisory and does not count.
func (r *AuditReport) Clean() bool {
	return len(r.NonCanonicalIndustry) == 0 && len(r.StaleDerived) == 0 &&
		len(r.OrphanArtifacts) == 0 && len(r.DuplicateCanonical) == 0 &&
		len(r.TerminalInQueue) == 0
}

type auditRow struct {
	Source          string  `db:"source"`
	SourceListingID string  `db:"source_listing_id"`
	Value           *string `db:"value"`
}

func (a auditRow) uid() string {
	return model.Identity{Source: a.Source, SourceListingID: a.SourceListingID}.UID()
}

// Audit scans the catalog for integrity violations.
func (s *SQLStore) Audit(ctx context.Context) (*AuditReport, error) {
	r := &AuditReport{}

	var industries []auditRow
	if err := s.db.SelectContext(ctx, &industries,
		"SELECT source, source_listing_id, industry AS value FROM deals WHERE industry IS NOT NULL ORDER BY source, source_listing_id"); err != nil {
		return nil, s.wrap(err, "audit industries")
	}
	for _, row := range industries {
		if !taxonomy.IsCanonical(model.Deref(row.Value)) {
			r.NonCanonicalIndustry = append(r.NonCanonicalIndustry, row.uid())
		}
	}

	var fin []derivedRow
	if err := s.db.SelectContext(ctx, &fin, derivedSelect+" ORDER BY id"); err != nil {
		return nil, s.wrap(err, "audit financials")
	}
	stale := map[int64]bool{}
	for _, row := range fin {
		if !row.derive().Equal(row.Derived) {
			stale[row.ID] = true
		}
	}
	if len(stale) > 0 {
		var ids []auditIDRow
		if err := s.db.SelectContext(ctx, &ids, "SELECT id, source, source_listing_id FROM deals ORDER BY id"); err != nil {
			return nil, s.wrap(err, "audit ids")
		}
		for _, row := range ids {
			if stale[row.ID] {
				r.StaleDerived = append(r.StaleDerived, row.Source+":"+row.SourceListingID)
			}
		}
	}

	if err := s.db.SelectContext(ctx, &r.OrphanArtifacts, `SELECT a.id FROM deal_artifacts a
		LEFT JOIN deals d ON d.id = a.deal_id WHERE d.id IS NULL ORDER BY a.id`); err != nil {
		return nil, s.wrap(err, "audit orphan artifacts")
	}

	var dups []auditRow
	if err := s.db.SelectContext(ctx, &dups, `SELECT source, canonical_external_id AS source_listing_id, NULL AS value
		FROM deals WHERE canonical_external_id IS NOT NULL
		GROUP BY source, canonical_external_id HAVING COUNT(*) > 1 ORDER BY source, canonical_external_id`); err != nil {
		return nil, s.wrap(err, "audit duplicate canonical ids")
	}
	for _, row := range dups {
		r.DuplicateCanonical = append(r.DuplicateCanonical, row.uid())
	}

	var terminal []auditRow
	if err := s.db.SelectContext(ctx, &terminal, s.q(`SELECT source, source_listing_id, status AS value FROM deals
		WHERE needs_detail_refresh = 1 AND status IN (?, ?) ORDER BY source, source_listing_id`),
		string(model.StatusPass), string(model.StatusLost)); err != nil {
		return nil, s.wrap(err, "audit terminal queue")
	}
	for _, row := range terminal {
		r.TerminalInQueue = append(r.TerminalInQueue, row.uid())
	}

	var pass []auditRow
	if err := s.db.SelectContext(ctx, &pass, s.q(`SELECT source, source_listing_id, pass_reason AS value FROM deals
		WHERE status = ? ORDER BY source, source_listing_id`), string(model.StatusPass)); err != nil {
		return nil, s.wrap(err, "audit pass reasons")
	}
	for _, row := range pass {
		if strings.TrimSpace(model.Deref(row.Value)) == "" {
			r.PassWithoutReason = append(r.PassWithoutReason, row.uid())
		}
	}
	return r, nil
}

type auditIDRow struct {
	ID              int64  `db:"id"`
	Source          string `db:"source"`
	SourceListingID string `db:"source_listing_id"`
}
