package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/workflow"
)

// CreateRun persists a new run and indexes it for enumeration.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	rID := run.ID.String()
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("loom/redis: encode run: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, runKey(rID), data, 0)
	pipe.SAdd(ctx, runIDsKey, rID)
	if run.ParentRunID != nil {
		pipe.SAdd(ctx, runChildrenKey(run.ParentRunID.String()), rID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("loom/redis: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	data, err := s.client.Get(ctx, runKey(runID.String())).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, loom.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loom/redis: get run: %w", err)
	}
	var run workflow.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("loom/redis: decode run: %w", err)
	}
	return &run, nil
}

// UpdateRun persists changes to an existing run, including its cursor.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	key := runKey(run.ID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("loom/redis: update run exists: %w", err)
	}
	if exists == 0 {
		return loom.ErrRunNotFound
	}

	run.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("loom/redis: encode run: %w", err)
	}
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("loom/redis: update run: %w", err)
	}
	return nil
}

// listRuns fetches and filters all indexed runs, oldest first.
func (s *Store) listRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	ids, err := s.client.SMembers(ctx, runIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("loom/redis: list runs smembers: %w", err)
	}

	var runs []*workflow.Run
	for _, rID := range ids {
		data, getErr := s.client.Get(ctx, runKey(rID)).Bytes()
		if getErr != nil {
			continue
		}
		var r workflow.Run
		if json.Unmarshal(data, &r) != nil {
			continue
		}
		if opts.WorkflowID != "" && r.WorkflowID != opts.WorkflowID {
			continue
		}
		if opts.State != "" && r.State != opts.State {
			continue
		}
		runs = append(runs, &r)
	}

	sort.Slice(runs, func(i, k int) bool {
		return runs[i].CreatedAt.Before(runs[k].CreatedAt)
	})
	return runs, nil
}

// ListRuns returns runs matching the given options, oldest first.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	runs, err := s.listRuns(ctx, opts)
	if err != nil {
		return nil, err
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(runs) {
			return nil, nil
		}
		runs = runs[opts.Offset:]
	}
	if opts.Limit > 0 && len(runs) > opts.Limit {
		runs = runs[:opts.Limit]
	}
	return runs, nil
}

// CountRuns returns the number of runs matching the given options.
func (s *Store) CountRuns(ctx context.Context, opts workflow.ListOpts) (int, error) {
	runs, err := s.listRuns(ctx, opts)
	if err != nil {
		return 0, err
	}
	return len(runs), nil
}

// AppendStepRecord appends a step attempt record to the run's history.
func (s *Store) AppendStepRecord(ctx context.Context, rec *workflow.StepRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("loom/redis: encode step record: %w", err)
	}
	if err := s.client.RPush(ctx, runRecordsKey(rec.RunID.String()), data).Err(); err != nil {
		return fmt.Errorf("loom/redis: append step record: %w", err)
	}
	return nil
}

// ListStepRecords returns all step records for a run in append order.
func (s *Store) ListStepRecords(ctx context.Context, runID id.RunID) ([]*workflow.StepRecord, error) {
	raw, err := s.client.LRange(ctx, runRecordsKey(runID.String()), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("loom/redis: list step records: %w", err)
	}
	records := make([]*workflow.StepRecord, 0, len(raw))
	for _, data := range raw {
		var rec workflow.StepRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("loom/redis: decode step record: %w", err)
		}
		records = append(records, &rec)
	}
	return records, nil
}

// ListChildRuns returns all subflow runs spawned by a parent run,
// oldest first.
func (s *Store) ListChildRuns(ctx context.Context, parentRunID id.RunID) ([]*workflow.Run, error) {
	ids, err := s.client.SMembers(ctx, runChildrenKey(parentRunID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("loom/redis: list child runs: %w", err)
	}

	var runs []*workflow.Run
	for _, rID := range ids {
		data, getErr := s.client.Get(ctx, runKey(rID)).Bytes()
		if getErr != nil {
			continue
		}
		var r workflow.Run
		if json.Unmarshal(data, &r) != nil {
			continue
		}
		runs = append(runs, &r)
	}
	sort.Slice(runs, func(i, k int) bool {
		return runs[i].CreatedAt.Before(runs[k].CreatedAt)
	})
	return runs, nil
}

// DeleteRun removes a run, its step records, and its indexes.
func (s *Store) DeleteRun(ctx context.Context, runID id.RunID) error {
	rID := runID.String()
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, runKey(rID), runRecordsKey(rID), runChildrenKey(rID))
	pipe.SRem(ctx, runIDsKey, rID)
	if run.ParentRunID != nil {
		pipe.SRem(ctx, runChildrenKey(run.ParentRunID.String()), rID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("loom/redis: delete run: %w", err)
	}
	return nil
}
