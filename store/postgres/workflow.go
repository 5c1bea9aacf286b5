package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/workflow"
)

const runColumns = `id, workflow_id, version, state, payload, cursor, error,
	cancel_reason, parent_run_id, created_at, updated_at, started_at, completed_at`

// CreateRun persists a new run.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	cursor, err := json.Marshal(run.Cursor)
	if err != nil {
		return fmt.Errorf("loom/postgres: encode cursor: %w", err)
	}
	var parentID *string
	if run.ParentRunID != nil {
		v := run.ParentRunID.String()
		parentID = &v
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO loom_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		run.ID.String(), run.WorkflowID, run.Version, string(run.State),
		[]byte(run.Payload), cursor, run.Error, run.CancelReason, parentID,
		run.CreatedAt, run.UpdatedAt, run.StartedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("loom/postgres: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM loom_runs WHERE id = $1`, runID.String())
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, loom.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loom/postgres: get run: %w", err)
	}
	return run, nil
}

// UpdateRun persists changes to an existing run, including its cursor.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	cursor, err := json.Marshal(run.Cursor)
	if err != nil {
		return fmt.Errorf("loom/postgres: encode cursor: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE loom_runs SET
			state = $2, cursor = $3, error = $4, cancel_reason = $5,
			updated_at = $6, started_at = $7, completed_at = $8
		WHERE id = $1`,
		run.ID.String(), string(run.State), cursor, run.Error,
		run.CancelReason, run.UpdatedAt, run.StartedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("loom/postgres: update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return loom.ErrRunNotFound
	}
	return nil
}

// listRunsQuery builds the filtered run query shared by List and Count.
func listRunsQuery(selectCols string, opts workflow.ListOpts) (string, []any) {
	var (
		where []string
		args  []any
	)
	if opts.WorkflowID != "" {
		args = append(args, opts.WorkflowID)
		where = append(where, fmt.Sprintf("workflow_id = $%d", len(args)))
	}
	if opts.State != "" {
		args = append(args, string(opts.State))
		where = append(where, fmt.Sprintf("state = $%d", len(args)))
	}

	q := `SELECT ` + selectCols + ` FROM loom_runs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	return q, args
}

// ListRuns returns runs matching the given options, oldest first.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	q, args := listRunsQuery(runColumns, opts)
	q += " ORDER BY created_at ASC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("loom/postgres: list runs: %w", err)
	}
	defer rows.Close()

	var runs []*workflow.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("loom/postgres: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// CountRuns returns the number of runs matching the given options.
func (s *Store) CountRuns(ctx context.Context, opts workflow.ListOpts) (int, error) {
	q, args := listRunsQuery("COUNT(*)", opts)
	var n int
	if err := s.pool.QueryRow(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("loom/postgres: count runs: %w", err)
	}
	return n, nil
}

// AppendStepRecord persists a new step attempt record.
func (s *Store) AppendStepRecord(ctx context.Context, rec *workflow.StepRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO loom_step_records
			(id, run_id, step_name, status, attempt, output, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID.String(), rec.RunID.String(), rec.StepName, string(rec.Status),
		rec.Attempt, []byte(rec.Output), rec.Error, rec.StartedAt, rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("loom/postgres: append step record: %w", err)
	}
	return nil
}

// ListStepRecords returns all step records for a run in append order.
func (s *Store) ListStepRecords(ctx context.Context, runID id.RunID) ([]*workflow.StepRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, run_id, step_name, status, attempt, output, error, started_at, finished_at
		FROM loom_step_records
		WHERE run_id = $1
		ORDER BY seq ASC`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("loom/postgres: list step records: %w", err)
	}
	defer rows.Close()

	var records []*workflow.StepRecord
	for rows.Next() {
		rec, err := scanStepRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("loom/postgres: scan step record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListChildRuns returns all subflow runs spawned by a parent run,
// oldest first.
func (s *Store) ListChildRuns(ctx context.Context, parentRunID id.RunID) ([]*workflow.Run, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+` FROM loom_runs
		WHERE parent_run_id = $1
		ORDER BY created_at ASC`, parentRunID.String())
	if err != nil {
		return nil, fmt.Errorf("loom/postgres: list child runs: %w", err)
	}
	defer rows.Close()

	var runs []*workflow.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("loom/postgres: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRun removes a run; its step records cascade.
func (s *Store) DeleteRun(ctx context.Context, runID id.RunID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM loom_runs WHERE id = $1`, runID.String())
	if err != nil {
		return fmt.Errorf("loom/postgres: delete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return loom.ErrRunNotFound
	}
	return nil
}
