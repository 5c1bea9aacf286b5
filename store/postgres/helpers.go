package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/workflow"
)

// rowScanner abstracts pgx.Row and pgx.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*workflow.Run, error) {
	var (
		rawID, workflowID, stateStr string
		errMsg, cancelReason        string
		version                     int
		payload, cursor             []byte
		parentRaw                   *string
		createdAt, updatedAt        time.Time
		startedAt, completedAt      *time.Time
	)
	if err := row.Scan(&rawID, &workflowID, &version, &stateStr, &payload,
		&cursor, &errMsg, &cancelReason, &parentRaw, &createdAt, &updatedAt,
		&startedAt, &completedAt); err != nil {
		return nil, err
	}

	runID, err := id.ParseRunID(rawID)
	if err != nil {
		return nil, fmt.Errorf("run id: %w", err)
	}
	run := &workflow.Run{
		ID:           runID,
		WorkflowID:   workflowID,
		Version:      version,
		State:        workflow.RunState(stateStr),
		Payload:      payload,
		Error:        errMsg,
		CancelReason: cancelReason,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
		StartedAt:    startedAt,
		CompletedAt:  completedAt,
	}
	if err := json.Unmarshal(cursor, &run.Cursor); err != nil {
		return nil, fmt.Errorf("cursor: %w", err)
	}
	if parentRaw != nil {
		parentID, err := id.ParseRunID(*parentRaw)
		if err != nil {
			return nil, fmt.Errorf("parent run id: %w", err)
		}
		run.ParentRunID = &parentID
	}
	return run, nil
}

func scanStepRecord(row rowScanner) (*workflow.StepRecord, error) {
	var (
		rawID, rawRunID, stepName, statusStr, errMsg string
		attempt                                      int
		output                                       []byte
		startedAt                                    time.Time
		finishedAt                                   *time.Time
	)
	if err := row.Scan(&rawID, &rawRunID, &stepName, &statusStr, &attempt,
		&output, &errMsg, &startedAt, &finishedAt); err != nil {
		return nil, err
	}

	stepID, err := id.ParseStepID(rawID)
	if err != nil {
		return nil, fmt.Errorf("step id: %w", err)
	}
	runID, err := id.ParseRunID(rawRunID)
	if err != nil {
		return nil, fmt.Errorf("run id: %w", err)
	}
	return &workflow.StepRecord{
		ID:         stepID,
		RunID:      runID,
		StepName:   stepName,
		Status:     workflow.StepStatus(statusStr),
		Attempt:    attempt,
		Output:     output,
		Error:      errMsg,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}, nil
}
