package store

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-pipeline/internal/model"
)

// NULL provenance columns read back as empty strings.
var artifactColumns = []string{
	"id", "deal_id", "artifact_type", "artifact_hash", "drive_file_id", "drive_url",
	"COALESCE(extraction_version, '') AS extraction_version",
	"COALESCE(created_by, '') AS created_by",
	"created_at",
}

// RecordArtifact inserts an artifact row. It returns false when the
// (deal, type, file) triple is already recorded.
func (s *SQLStore) RecordArtifact(ctx context.Context, a *model.Artifact) (bool, error) {
	if !a.ArtifactType.Valid() {
		return false, eris.Wrapf(ErrInvalidValue, "artifact type %q", a.ArtifactType)
	}
	if a.DriveFileID == "" || a.ArtifactHash == "" {
		return false, eris.New("store: artifact needs a file id and hash")
	}

	var inserted bool
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var n int
		if err := tx.GetContext(ctx, &n, s.q("SELECT COUNT(*) FROM deals WHERE id = ?"), a.DealID); err != nil {
			return s.wrap(err, "check artifact deal")
		}
		if n == 0 {
			return eris.Wrapf(ErrDealNotFound, "deal %d", a.DealID)
		}

		if a.CreatedAt.IsZero() {
			a.CreatedAt = s.now()
		}
		ib := s.flavor.NewInsertBuilder()
		ib.InsertInto("deal_artifacts")
		ib.Cols("deal_id", "artifact_type", "artifact_hash", "drive_file_id", "drive_url",
			"extraction_version", "created_by", "created_at")
		ib.Values(a.DealID, string(a.ArtifactType), a.ArtifactHash, a.DriveFileID, a.DriveURL,
			nullStr(a.ExtractionVersion), nullStr(a.CreatedBy), a.CreatedAt)
		query, args := ib.Build()
		query += " ON CONFLICT (deal_id, artifact_type, drive_file_id) DO NOTHING"
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return s.wrapf(err, "record artifact deal %d", a.DealID)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return s.wrap(err, "artifact rows affected")
		}
		inserted = rows > 0
		return nil
	})
	return inserted, err
}

// ArtifactByHash returns a deal's artifact with the given content hash, or nil.
func (s *SQLStore) ArtifactByHash(ctx context.Context, dealID int64, hash string) (*model.Artifact, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select(artifactColumns...)
	sb.From("deal_artifacts")
	sb.Where(sb.Equal("deal_id", dealID), sb.Equal("artifact_hash", hash))
	sb.OrderBy("id")
	sb.Limit(1)
	query, args := sb.Build()

	var a model.Artifact
	if err := s.db.GetContext(ctx, &a, query, args...); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, s.wrapf(err, "artifact by hash %d", dealID)
	}
	return &a, nil
}

// ListArtifacts returns a deal's artifacts in insertion order.
func (s *SQLStore) ListArtifacts(ctx context.Context, dealID int64) ([]model.Artifact, error) {
	sb := s.flavor.NewSelectBuilder()
	sb.Select(artifactColumns...)
	sb.From("deal_artifacts")
	sb.Where(sb.Equal("deal_id", dealID))
	sb.OrderBy("id")
	query, args := sb.Build()

	var out []model.Artifact
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, s.wrapf(err, "list artifacts %d", dealID)
	}
	return out, nil
}
