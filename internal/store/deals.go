package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-pipeline/internal/model"
	"github.com/sells-group/deal-pipeline/internal/taxonomy"
)

var dealColumns = requiredColumns["deals"]

func (s *SQLStore) selectDeals() *sqlbuilder.SelectBuilder {
	sb := s.flavor.NewSelectBuilder()
	sb.Select(dealColumns...)
	sb.From("deals")
	return sb
}

// DealExists reports whether (source, listingID) is already catalogued.
func (s *SQLStore) DealExists(ctx context.Context, source, listingID string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		s.q("SELECT COUNT(*) FROM deals WHERE source = ? AND source_listing_id = ?"), source, listingID)
	if err != nil {
		return false, s.wrap(err, "deal exists")
	}
	return n > 0, nil
}

// UpsertIndex inserts a new index row or touches an existing one. Re-sightings
// only advance last_seen and coalesce raw taxonomy fields; analyst-owned
// columns are never written here. For sources that key on URL slugs, a row with
// the same source_url is treated as the same listing.
func (s *SQLStore) UpsertIndex(ctx context.Context, row model.IndexRow) (UpsertOutcome, error) {
	if row.Source == "" || row.SourceListingID == "" {
		return 0, eris.New("store: index row needs source and listing id")
	}
	if row.Industry != "" && !taxonomy.IsCanonical(row.Industry) {
		return 0, eris.Wrapf(ErrIndustryNotCanonical, "%s:%s industry %q", row.Source, row.SourceListingID, row.Industry)
	}

	var outcome UpsertOutcome
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		ts := s.now()
		id, err := s.lookupIndexRow(ctx, tx, row)
		if err != nil {
			return err
		}

		if id == 0 {
			ib := s.flavor.NewInsertBuilder()
			ib.InsertInto("deals")
			ib.Cols("source", "source_listing_id", "source_url", "title", "sector_raw", "industry_raw",
				"location_raw", "turnover_range_raw", "industry", "sector", "sector_source",
				"sector_inference_confidence", "sector_inference_reason",
				"first_seen", "last_seen", "last_updated", "last_updated_source", "needs_detail_refresh")
			ib.Values(row.Source, row.SourceListingID, nullStr(row.SourceURL), nullStr(row.Title),
				nullStr(row.SectorRaw), nullStr(row.IndustryRaw), nullStr(row.LocationRaw), nullStr(row.TurnoverRangeRaw),
				nullStr(row.Industry), nullStr(row.Sector), sectorSourceArg(row.Industry, row.SectorSrc),
				confidenceArg(row.Industry, row.Confidence), reasonArg(row.Industry, row.Reason),
				ts, ts, ts, string(model.UpdateAuto), 1)
			query, args := ib.Build()
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return s.wrapf(err, "insert index row %s:%s", row.Source, row.SourceListingID)
			}
			outcome = UpsertInserted
			return nil
		}

		ub := s.flavor.NewUpdateBuilder()
		ub.Update("deals")
		ub.Set(
			ub.Assign("last_seen", ts),
			coalesceNew(ub, "sector_raw", row.SectorRaw),
			coalesceNew(ub, "industry_raw", row.IndustryRaw),
			coalesceNew(ub, "location_raw", row.LocationRaw),
			coalesceNew(ub, "turnover_range_raw", row.TurnoverRangeRaw),
			fmt.Sprintf("source_url = COALESCE(source_url, %s)", ub.Var(nullStr(row.SourceURL))),
			fmt.Sprintf("title = COALESCE(title, %s)", ub.Var(nullStr(row.Title))),
		)
		ub.Where(ub.Equal("id", id))
		query, args := ub.Build()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return s.wrapf(err, "touch index row %d", id)
		}

		if row.Industry != "" {
			sb := s.flavor.NewUpdateBuilder()
			sb.Update("deals")
			sb.Set(
				sb.Assign("industry", row.Industry),
				sb.Assign("sector", nullStr(row.Sector)),
				sb.Assign("sector_source", sectorSourceArg(row.Industry, row.SectorSrc)),
				sb.Assign("sector_inference_confidence", confidenceArg(row.Industry, row.Confidence)),
				sb.Assign("sector_inference_reason", reasonArg(row.Industry, row.Reason)),
			)
			sb.Where(sb.Equal("id", id), sb.IsNull("industry"))
			query, args := sb.Build()
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return s.wrapf(err, "set index sector %d", id)
			}
		}
		outcome = UpsertRefreshed
		return nil
	})
	return outcome, err
}

func (s *SQLStore) lookupIndexRow(ctx context.Context, tx *sqlx.Tx, row model.IndexRow) (int64, error) {
	var id int64
	err := tx.GetContext(ctx, &id,
		s.q("SELECT id FROM deals WHERE source = ? AND source_listing_id = ?"), row.Source, row.SourceListingID)
	if err == nil {
		return id, nil
	}
	if !isNoRows(err) {
		return 0, s.wrap(err, "lookup index row")
	}
	if row.SourceURL == "" {
		return 0, nil
	}
	err = tx.GetContext(ctx, &id,
		s.q("SELECT id FROM deals WHERE source = ? AND source_url = ? ORDER BY id LIMIT 1"), row.Source, row.SourceURL)
	if isNoRows(err) {
		return 0, nil
	}
	return id, s.wrap(err, "lookup index row by url")
}

// UpsertUserDeal inserts or refreshes an analyst-supplied deal keyed by its
// fingerprint listing id. Imported rows are immediately complete, so they never
// enter the enrichment queue.
func (s *SQLStore) UpsertUserDeal(ctx context.Context, d UserDeal) (UpsertOutcome, error) {
	if d.Industry != "" && !taxonomy.IsCanonical(d.Industry) {
		return 0, eris.Wrapf(ErrIndustryNotCanonical, "user deal %s industry %q", d.ListingID, d.Industry)
	}
	const source = "manual"
	var outcome UpsertOutcome
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		ts := s.now()
		var id int64
		err := tx.GetContext(ctx, &id,
			s.q("SELECT id FROM deals WHERE source = ? AND source_listing_id = ?"), source, d.ListingID)
		switch {
		case isNoRows(err):
			ib := s.flavor.NewInsertBuilder()
			ib.InsertInto("deals")
			ib.Cols("source", "source_listing_id", "title", "description", "location", "sector_raw",
				"industry", "sector", "sector_source", "sector_inference_confidence", "sector_inference_reason",
				"revenue_k", "ebitda_k", "asking_price_k", "profit_margin_pct", "revenue_growth_pct", "leverage_pct",
				"owner", "notes", "first_seen", "last_seen", "last_updated", "last_updated_source",
				"detail_fetched_at", "needs_detail_refresh")
			ib.Values(source, d.ListingID, nullStr(d.Title), nullStr(d.Description), nullStr(d.Location),
				nullStr(d.SectorRaw), nullStr(d.Industry), nullStr(d.Sector), sectorSourceArg(d.Industry, model.SectorManual),
				confidenceArg(d.Industry, 1), reasonArg(d.Industry, "analyst import"),
				nullFloat(d.Financials.RevenueK), nullFloat(d.Financials.EbitdaK), nullFloat(d.Financials.AskingPriceK),
				nullFloat(d.Financials.ProfitMarginPct), nullFloat(d.Financials.RevenueGrowthPct), nullFloat(d.Financials.LeveragePct),
				nullStr(d.Owner), nullStr(d.Notes), ts, ts, ts, string(model.UpdateImport), ts, 0)
			query, args := ib.Build()
			query += " RETURNING id"
			if err := tx.GetContext(ctx, &id, query, args...); err != nil {
				return s.wrapf(err, "insert user deal %s", d.ListingID)
			}
			outcome = UpsertInserted
		case err != nil:
			return s.wrap(err, "lookup user deal")
		default:
			ub := s.flavor.NewUpdateBuilder()
			ub.Update("deals")
			ub.Set(
				ub.Assign("last_seen", ts),
				coalesceNew(ub, "title", d.Title),
				coalesceNew(ub, "description", d.Description),
			)
			ub.Where(ub.Equal("id", id))
			query, args := ub.Build()
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return s.wrapf(err, "touch user deal %d", id)
			}
			outcome = UpsertRefreshed
		}
		return s.refreshDerived(ctx, tx, id)
	})
	return outcome, err
}

// GetDeal loads a deal by primary key.
func (s *SQLStore) GetDeal(ctx context.Context, id int64) (*model.Deal, error) {
	return s.getDeal(ctx, s.db, id)
}

func (s *SQLStore) getDeal(ctx context.Context, q sqlx.QueryerContext, id int64) (*model.Deal, error) {
	sb := s.selectDeals()
	sb.Where(sb.Equal("id", id))
	query, args := sb.Build()
	var d model.Deal
	if err := sqlx.GetContext(ctx, q, &d, query, args...); err != nil {
		if isNoRows(err) {
			return nil, eris.Wrapf(ErrDealNotFound, "deal %d", id)
		}
		return nil, s.wrapf(err, "get deal %d", id)
	}
	return &d, nil
}

// GetDealByIdentity loads a deal by (source, source_listing_id).
func (s *SQLStore) GetDealByIdentity(ctx context.Context, id model.Identity) (*model.Deal, error) {
	return s.getDealByIdentity(ctx, s.db, id)
}

func (s *SQLStore) getDealByIdentity(ctx context.Context, q sqlx.QueryerContext, id model.Identity) (*model.Deal, error) {
	sb := s.selectDeals()
	sb.Where(sb.Equal("source", id.Source), sb.Equal("source_listing_id", id.SourceListingID))
	query, args := sb.Build()
	var d model.Deal
	if err := sqlx.GetContext(ctx, q, &d, query, args...); err != nil {
		if isNoRows(err) {
			return nil, eris.Wrapf(ErrDealNotFound, "deal %s", id.UID())
		}
		return nil, s.wrapf(err, "get deal %s", id.UID())
	}
	return &d, nil
}

// FindByCanonicalID returns the deal owning canonicalID within source, or nil.
func (s *SQLStore) FindByCanonicalID(ctx context.Context, source, canonicalID string) (*model.Deal, error) {
	sb := s.selectDeals()
	sb.Where(sb.Equal("source", source), sb.Equal("canonical_external_id", canonicalID))
	query, args := sb.Build()
	var d model.Deal
	if err := s.db.GetContext(ctx, &d, query, args...); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, s.wrapf(err, "find canonical id %s", canonicalID)
	}
	return &d, nil
}

// FindBySourceURL returns the oldest deal of source with the given URL, or nil.
func (s *SQLStore) FindBySourceURL(ctx context.Context, source, url string) (*model.Deal, error) {
	sb := s.selectDeals()
	sb.Where(sb.Equal("source", source), sb.Equal("source_url", url))
	sb.OrderBy("id")
	sb.Limit(1)
	query, args := sb.Build()
	var d model.Deal
	if err := s.db.GetContext(ctx, &d, query, args...); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, s.wrapf(err, "find source url %s", url)
	}
	return &d, nil
}

// ListDeals returns deals matching filter ordered by source then listing id.
func (s *SQLStore) ListDeals(ctx context.Context, filter DealFilter) ([]model.Deal, error) {
	sb := s.selectDeals()
	var where []string
	if filter.Source != "" {
		where = append(where, sb.Equal("source", filter.Source))
	}
	if filter.Status != nil {
		where = append(where, sb.Equal("status", string(*filter.Status)))
	}
	if filter.Decision != nil {
		where = append(where, sb.Equal("decision", string(*filter.Decision)))
	}
	if filter.Industry != "" {
		where = append(where, sb.Equal("industry", filter.Industry))
	}
	if len(where) > 0 {
		sb.Where(where...)
	}
	sb.OrderBy("source", "source_listing_id")
	if filter.Limit > 0 {
		sb.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		sb.Offset(filter.Offset)
	}
	query, args := sb.Build()

	var deals []model.Deal
	if err := s.db.SelectContext(ctx, &deals, query, args...); err != nil {
		return nil, s.wrap(err, "list deals")
	}
	return deals, nil
}

// FetchDealsForEnrichment returns the refresh queue for a source: rows flagged
// for refresh, plus rows never fetched or fetched before the freshness window.
// Quarantined rows (flag cleared, reason set) and Pass/Lost deals are excluded.
func (s *SQLStore) FetchDealsForEnrichment(ctx context.Context, source string, freshnessDays int, order Order) ([]model.Deal, error) {
	cutoff := s.now().AddDate(0, 0, -freshnessDays)

	sb := s.selectDeals()
	sb.Where(
		sb.Equal("source", source),
		sb.Or(sb.IsNull("status"), sb.NotIn("status", string(model.StatusPass), string(model.StatusLost))),
		sb.Or(
			"needs_detail_refresh = 1",
			sb.And(
				sb.IsNull("detail_fetch_reason"),
				sb.Or(sb.IsNull("detail_fetched_at"), sb.LessThan("detail_fetched_at", cutoff)),
			),
		),
	)
	switch order {
	case OrderLastSeenDesc:
		sb.OrderBy("last_seen DESC", "source_listing_id ASC")
	default:
		sb.OrderBy("source_listing_id ASC")
	}
	query, args := sb.Build()

	var deals []model.Deal
	if err := s.db.SelectContext(ctx, &deals, query, args...); err != nil {
		return nil, s.wrapf(err, "fetch enrichment queue %s", source)
	}
	return deals, nil
}

// UpdateDetailFields writes the system-owned result of a successful enrichment
// and recomputes derived values in the same transaction.
func (s *SQLStore) UpdateDetailFields(ctx context.Context, dealID int64, f model.DetailFields) error {
	if err := taxonomy.CheckIndustry("", f.Industry); err != nil {
		return eris.Wrapf(ErrIndustryNotCanonical, "deal %d industry %q", dealID, f.Industry)
	}
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if f.CanonicalExternalID != "" {
			if err := s.checkCanonicalFree(ctx, tx, dealID, f.CanonicalExternalID); err != nil {
				return err
			}
		}

		ts := s.now()
		ub := s.flavor.NewUpdateBuilder()
		ub.Update("deals")
		ub.Set(
			ub.Assign("title", nullStr(f.Title)),
			ub.Assign("description", nullStr(f.Description)),
			ub.Assign("location", nullStr(f.Location)),
			coalesceNew(ub, "sector_raw", f.SectorRaw),
			coalesceNew(ub, "industry_raw", f.IndustryRaw),
			fmt.Sprintf("canonical_external_id = COALESCE(canonical_external_id, %s)", ub.Var(nullStr(f.CanonicalExternalID))),
			ub.Assign("industry", nullStr(f.Industry)),
			ub.Assign("sector", nullStr(f.Sector)),
			ub.Assign("sector_source", sectorSourceArg(f.Industry, f.SectorSource)),
			ub.Assign("sector_inference_confidence", confidenceArg(f.Industry, f.Confidence)),
			ub.Assign("sector_inference_reason", reasonArg(f.Industry, f.Reason)),
			ub.Assign("revenue_k", nullFloat(f.Financials.RevenueK)),
			ub.Assign("ebitda_k", nullFloat(f.Financials.EbitdaK)),
			ub.Assign("asking_price_k", nullFloat(f.Financials.AskingPriceK)),
			ub.Assign("profit_margin_pct", nullFloat(f.Financials.ProfitMarginPct)),
			ub.Assign("revenue_growth_pct", nullFloat(f.Financials.RevenueGrowthPct)),
			ub.Assign("leverage_pct", nullFloat(f.Financials.LeveragePct)),
			coalesceNew(ub, "drive_folder_id", f.DriveFolderID),
			coalesceNew(ub, "drive_folder_url", f.DriveFolderURL),
			coalesceNew(ub, "pdf_drive_url", f.PDFDriveURL),
			ub.Assign("content_hash", nullStr(f.ContentHash)),
			ub.Assign("detail_fetched_at", ts),
			ub.Assign("needs_detail_refresh", 0),
			"detail_fetch_reason = NULL",
			ub.Assign("last_updated", ts),
			ub.Assign("last_updated_source", string(model.UpdateAuto)),
		)
		ub.Where(ub.Equal("id", dealID))
		query, args := ub.Build()
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return s.wrapf(err, "update detail fields %d", dealID)
		}
		if err := checkRowsAffected(res, dealID); err != nil {
			return err
		}
		return s.refreshDerived(ctx, tx, dealID)
	})
}

func (s *SQLStore) checkCanonicalFree(ctx context.Context, tx *sqlx.Tx, dealID int64, canonicalID string) error {
	var owner int64
	err := tx.GetContext(ctx, &owner, s.q(`SELECT id FROM deals
		WHERE source = (SELECT source FROM deals WHERE id = ?) AND canonical_external_id = ? AND id <> ?`),
		dealID, canonicalID, dealID)
	if isNoRows(err) {
		return nil
	}
	if err != nil {
		return s.wrap(err, "check canonical id")
	}
	return eris.Wrapf(ErrDuplicateCanonicalID, "%s owned by deal %d", canonicalID, owner)
}

// Quarantine removes a deal from the refresh queue, recording why.
func (s *SQLStore) Quarantine(ctx context.Context, dealID int64, reason string) error {
	return s.setRefresh(ctx, dealID, false, reason)
}

// MarkForRetry keeps a deal in the refresh queue, recording the last failure.
func (s *SQLStore) MarkForRetry(ctx context.Context, dealID int64, reason string) error {
	return s.setRefresh(ctx, dealID, true, reason)
}

func (s *SQLStore) setRefresh(ctx context.Context, dealID int64, refresh bool, reason string) error {
	ub := s.flavor.NewUpdateBuilder()
	ub.Update("deals")
	ub.Set(
		ub.Assign("needs_detail_refresh", boolInt(refresh)),
		ub.Assign("detail_fetch_reason", nullStr(reason)),
	)
	ub.Where(ub.Equal("id", dealID))
	query, args := ub.Build()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return s.wrapf(err, "set refresh %d", dealID)
	}
	return checkRowsAffected(res, dealID)
}

// RequeueQuarantined puts quarantined deals of a source back in the refresh
// queue. An empty reason requeues every quarantined row.
func (s *SQLStore) RequeueQuarantined(ctx context.Context, source, reason string) (int, error) {
	ub := s.flavor.NewUpdateBuilder()
	ub.Update("deals")
	ub.Set(ub.Assign("needs_detail_refresh", 1))
	where := []string{
		ub.Equal("source", source),
		"needs_detail_refresh = 0",
		ub.IsNotNull("detail_fetch_reason"),
		ub.Or(ub.IsNull("status"), ub.NotIn("status", string(model.StatusPass), string(model.StatusLost))),
	}
	if reason != "" {
		where = append(where, ub.Equal("detail_fetch_reason", reason))
	}
	ub.Where(where...)
	query, args := ub.Build()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, s.wrapf(err, "requeue %s", source)
	}
	n, err := res.RowsAffected()
	return int(n), s.wrap(err, "requeue rows affected")
}

// MarkLost records a terminal Lost/Sold state and its history row.
func (s *SQLStore) MarkLost(ctx context.Context, dealID int64, reason string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var current *string
		if err := tx.GetContext(ctx, &current, s.q("SELECT status FROM deals WHERE id = ?"), dealID); err != nil {
			if isNoRows(err) {
				return eris.Wrapf(ErrDealNotFound, "deal %d", dealID)
			}
			return s.wrapf(err, "load status %d", dealID)
		}

		ts := s.now()
		ub := s.flavor.NewUpdateBuilder()
		ub.Update("deals")
		ub.Set(
			ub.Assign("status", string(model.StatusLost)),
			ub.Assign("lost_reason", nullStr(reason)),
			ub.Assign("needs_detail_refresh", 0),
			"detail_fetch_reason = NULL",
			ub.Assign("detail_fetched_at", ts),
			ub.Assign("last_updated", ts),
			ub.Assign("last_updated_source", string(model.UpdateAuto)),
		)
		ub.Where(ub.Equal("id", dealID))
		query, args := ub.Build()
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return s.wrapf(err, "mark lost %d", dealID)
		}

		if current != nil && *current == string(model.StatusLost) {
			return nil
		}
		lost := string(model.StatusLost)
		return s.insertHistory(ctx, tx, dealID, current, &lost, model.UpdateAuto, ts)
	})
}

// TouchDetailFetched records a no-op re-enrichment.
func (s *SQLStore) TouchDetailFetched(ctx context.Context, dealID int64) error {
	ub := s.flavor.NewUpdateBuilder()
	ub.Update("deals")
	ub.Set(
		ub.Assign("detail_fetched_at", s.now()),
		ub.Assign("needs_detail_refresh", 0),
		"detail_fetch_reason = NULL",
	)
	ub.Where(ub.Equal("id", dealID))
	query, args := ub.Build()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return s.wrapf(err, "touch detail %d", dealID)
	}
	return checkRowsAffected(res, dealID)
}

// coalesceNew assigns col only when v is non-empty, keeping the stored value
// otherwise.
func coalesceNew(ub *sqlbuilder.UpdateBuilder, col, v string) string {
	return fmt.Sprintf("%s = COALESCE(%s, %s)", col, ub.Var(nullStr(strings.TrimSpace(v))), col)
}

func sectorSourceArg(industry string, src model.SectorSource) any {
	if industry == "" || src == "" {
		return nil
	}
	return string(src)
}

func confidenceArg(industry string, c float64) any {
	if industry == "" {
		return nil
	}
	return c
}

func reasonArg(industry, reason string) any {
	if industry == "" {
		return nil
	}
	return nullStr(reason)
}
