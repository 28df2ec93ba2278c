package store

import (
	"context"
	"embed"
	"io/fs"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

// migrationLockID keys the Postgres advisory lock held while migrating.
const migrationLockID = 4_420_117

// requiredColumns lists the columns the pipeline reads and writes. Migrations
// are additive, so a missing column means the catalog predates this binary.
var requiredColumns = map[string][]string{
	"deals": {
		"id", "source", "source_listing_id", "source_url", "canonical_external_id",
		"title", "description", "location", "location_raw", "turnover_range_raw", "sector_raw", "industry_raw", "industry", "sector",
		"sector_source", "sector_inference_confidence", "sector_inference_reason",
		"revenue_k", "ebitda_k", "asking_price_k", "profit_margin_pct", "revenue_growth_pct", "leverage_pct",
		"revenue_k_manual", "ebitda_k_manual", "asking_price_k_manual",
		"revenue_k_effective", "ebitda_k_effective", "asking_price_k_effective",
		"ebitda_margin", "revenue_multiple", "ebitda_multiple",
		"first_seen", "last_seen", "last_updated", "last_updated_source",
		"detail_fetched_at", "needs_detail_refresh", "detail_fetch_reason",
		"status", "decision", "owner", "priority", "pass_reason", "notes", "lost_reason",
		"drive_folder_id", "drive_folder_url", "pdf_drive_url", "content_hash",
	},
	"deal_artifacts": {
		"id", "deal_id", "artifact_type", "artifact_hash", "drive_file_id", "drive_url",
		"extraction_version", "created_by", "created_at",
	},
	"deal_status_history": {"id", "deal_id", "old_status", "new_status", "changed_at", "changed_by"},
	"pipeline_snapshots":  {"snapshot_key", "industry", "status", "source", "deal_count", "snapshot_run_date"},
}

// Migrate applies pending embedded migrations in lexicographic order and
// records each in schema_migrations.
func (s *SQLStore) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "store.migrate"), zap.String("dialect", s.dialect))

	if s.dialect == "postgres" {
		// Advisory lock prevents concurrent migration runs from parallel jobs.
		if _, err := s.db.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
			return s.wrap(err, "acquire migration lock")
		}
		defer func() {
			if _, err := s.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
				log.Warn("failed to release migration lock", zap.Error(err))
			}
		}()
	}

	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return s.wrap(err, "ensure migration table")
	}

	dir := "migrations/" + s.dialect
	entries, err := fs.ReadDir(migrationFS, dir)
	if err != nil {
		return s.wrap(err, "read migration dir")
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	applied := make(map[string]bool)
	var names []string
	if err := s.db.SelectContext(ctx, &names, "SELECT filename FROM schema_migrations"); err != nil {
		return s.wrap(err, "query applied migrations")
	}
	for _, n := range names {
		applied[n] = true
	}

	for _, entry := range entries {
		name := entry.Name()
		if applied[name] || !strings.HasSuffix(name, ".sql") {
			continue
		}
		data, err := migrationFS.ReadFile(dir + "/" + name)
		if err != nil {
			return s.wrapf(err, "read migration %s", name)
		}

		log.Info("applying migration", zap.String("file", name))
		err = s.inTx(ctx, func(tx *sqlx.Tx) error {
			if _, err := tx.ExecContext(ctx, string(data)); err != nil {
				return s.wrapf(err, "apply migration %s", name)
			}
			_, err := tx.ExecContext(ctx, s.q("INSERT INTO schema_migrations (filename, applied_at) VALUES (?, ?)"),
				name, s.now().Format("2006-01-02T15:04:05Z"))
			return s.wrapf(err, "record migration %s", name)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// SchemaGuard asserts that every required column exists.
func (s *SQLStore) SchemaGuard(ctx context.Context) error {
	var missing []string
	for table, cols := range requiredColumns {
		var have []string
		var err error
		if s.dialect == "sqlite" {
			err = s.db.SelectContext(ctx, &have, "SELECT name FROM pragma_table_info(?)", table)
		} else {
			err = s.db.SelectContext(ctx, &have,
				"SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1", table)
		}
		if err != nil {
			return s.wrapf(err, "inspect %s", table)
		}
		present := make(map[string]bool, len(have))
		for _, c := range have {
			present[strings.ToLower(c)] = true
		}
		for _, c := range cols {
			if !present[c] {
				missing = append(missing, table+"."+c)
			}
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return eris.Wrapf(ErrSchemaMismatch, "missing columns: %s", strings.Join(missing, ", "))
	}
	return nil
}
