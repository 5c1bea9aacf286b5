package postgres

// migrations is the ordered, idempotent schema for the loom tables.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS loom_runs (
		id             TEXT PRIMARY KEY,
		workflow_id    TEXT NOT NULL,
		version        INTEGER NOT NULL DEFAULT 1,
		state          TEXT NOT NULL,
		payload        JSONB,
		cursor         JSONB NOT NULL,
		error          TEXT NOT NULL DEFAULT '',
		cancel_reason  TEXT NOT NULL DEFAULT '',
		parent_run_id  TEXT,
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL,
		started_at     TIMESTAMPTZ,
		completed_at   TIMESTAMPTZ
	)`,

	`CREATE INDEX IF NOT EXISTS idx_loom_runs_workflow_state
		ON loom_runs (workflow_id, state, created_at)`,

	`CREATE INDEX IF NOT EXISTS idx_loom_runs_parent
		ON loom_runs (parent_run_id)
		WHERE parent_run_id IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS loom_step_records (
		id          TEXT PRIMARY KEY,
		run_id      TEXT NOT NULL REFERENCES loom_runs (id) ON DELETE CASCADE,
		seq         BIGSERIAL,
		step_name   TEXT NOT NULL,
		status      TEXT NOT NULL,
		attempt     INTEGER NOT NULL,
		output      JSONB,
		error       TEXT NOT NULL DEFAULT '',
		started_at  TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ
	)`,

	`CREATE INDEX IF NOT EXISTS idx_loom_step_records_run
		ON loom_step_records (run_id, seq)`,

	`CREATE TABLE IF NOT EXISTS loom_pause_tokens (
		id          TEXT NOT NULL,
		token       TEXT PRIMARY KEY,
		run_id      TEXT NOT NULL,
		node_name   TEXT NOT NULL,
		event_name  TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		consumed    BOOLEAN NOT NULL DEFAULT FALSE,
		consumed_by TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL,
		timeout_at  TIMESTAMPTZ
	)`,

	`CREATE INDEX IF NOT EXISTS idx_loom_pause_tokens_timeout
		ON loom_pause_tokens (timeout_at)
		WHERE NOT consumed AND timeout_at IS NOT NULL`,

	`CREATE INDEX IF NOT EXISTS idx_loom_pause_tokens_event
		ON loom_pause_tokens (event_name, created_at)
		WHERE NOT consumed AND event_name <> ''`,

	`CREATE INDEX IF NOT EXISTS idx_loom_pause_tokens_run
		ON loom_pause_tokens (run_id)`,

	`CREATE TABLE IF NOT EXISTS loom_events (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		payload    JSONB,
		acked      BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_loom_events_pending
		ON loom_events (name, created_at)
		WHERE NOT acked`,

	`CREATE TABLE IF NOT EXISTS loom_state (
		scope      TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      JSONB NOT NULL,
		expires_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (scope, key)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_loom_state_expiry
		ON loom_state (expires_at)
		WHERE expires_at IS NOT NULL`,
}
