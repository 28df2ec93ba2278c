package store

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/deal-pipeline/internal/model"
)

// StartRun records the start of a CLI job.
func (s *SQLStore) StartRun(ctx context.Context, command, source string) (*model.Run, error) {
	run := &model.Run{
		ID:        uuid.NewString(),
		Command:   command,
		Source:    model.StrOrNil(source),
		Status:    model.RunRunning,
		StartedAt: s.now(),
	}
	ib := s.flavor.NewInsertBuilder()
	ib.InsertInto("runs")
	ib.Cols("id", "command", "source", "status", "started_at")
	ib.Values(run.ID, run.Command, nullStr(source), run.Status, run.StartedAt)
	query, args := ib.Build()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, s.wrapf(err, "start run %s", command)
	}
	return run, nil
}

// FinishRun marks a run finished and stores its summary as JSON.
func (s *SQLStore) FinishRun(ctx context.Context, id, status string, summary any) error {
	var payload any
	if summary != nil {
		b, err := json.Marshal(summary)
		if err != nil {
			return eris.Wrap(err, "store: marshal run summary")
		}
		payload = string(b)
	}
	ub := s.flavor.NewUpdateBuilder()
	ub.Update("runs")
	ub.Set(
		ub.Assign("status", status),
		ub.Assign("summary", payload),
		ub.Assign("finished_at", s.now()),
	)
	ub.Where(ub.Equal("id", id))
	query, args := ub.Build()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return s.wrapf(err, "finish run %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.wrap(err, "finish run rows affected")
	}
	if n == 0 {
		return eris.Errorf("store: run %s not found", id)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (s *SQLStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	sb := s.flavor.NewSelectBuilder()
	sb.Select("id", "command", "source", "status", "summary", "started_at", "finished_at")
	sb.From("runs")
	sb.OrderBy("started_at DESC", "id")
	sb.Limit(limit)
	query, args := sb.Build()

	var out []model.Run
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, s.wrap(err, "list runs")
	}
	return out, nil
}
