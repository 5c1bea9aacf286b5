package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/pause"
)

const tokenColumns = `id, token, run_id, node_name, event_name, description,
	consumed, consumed_by, created_at, timeout_at`

func scanToken(row rowScanner) (*pause.Token, error) {
	var (
		rawID, handle, rawRunID, nodeName string
		eventName, description, byStr     string
		consumed                          bool
		createdAt                         time.Time
		timeoutAt                         *time.Time
	)
	if err := row.Scan(&rawID, &handle, &rawRunID, &nodeName, &eventName,
		&description, &consumed, &byStr, &createdAt, &timeoutAt); err != nil {
		return nil, err
	}

	pauseID, err := id.ParsePauseID(rawID)
	if err != nil {
		return nil, fmt.Errorf("pause id: %w", err)
	}
	runID, err := id.ParseRunID(rawRunID)
	if err != nil {
		return nil, fmt.Errorf("run id: %w", err)
	}
	return &pause.Token{
		ID:          pauseID,
		Token:       handle,
		RunID:       runID,
		NodeName:    nodeName,
		EventName:   eventName,
		Description: description,
		Consumed:    consumed,
		ConsumedBy:  pause.Consumer(byStr),
		CreatedAt:   createdAt,
		TimeoutAt:   timeoutAt,
	}, nil
}

// CreatePauseToken persists a new unconsumed token.
func (s *Store) CreatePauseToken(ctx context.Context, tok *pause.Token) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO loom_pause_tokens
			(id, token, run_id, node_name, event_name, description, consumed, consumed_by, created_at, timeout_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, '', $7, $8)`,
		tok.ID.String(), tok.Token, tok.RunID.String(), tok.NodeName,
		tok.EventName, tok.Description, tok.CreatedAt, tok.TimeoutAt,
	)
	if err != nil {
		return fmt.Errorf("loom/postgres: create token: %w", err)
	}
	return nil
}

// GetPauseToken retrieves a token by its handle string.
func (s *Store) GetPauseToken(ctx context.Context, token string) (*pause.Token, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM loom_pause_tokens WHERE token = $1`, token)
	tok, err := scanToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, loom.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loom/postgres: get token: %w", err)
	}
	return tok, nil
}

// ConsumePauseToken atomically marks the token consumed and returns its
// prior snapshot. The conditional UPDATE is the compare-and-swap: under
// a racing manual resume and timeout firing, exactly one row matches.
func (s *Store) ConsumePauseToken(ctx context.Context, token string, by pause.Consumer) (*pause.Token, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE loom_pause_tokens
		SET consumed = TRUE, consumed_by = $2
		WHERE token = $1 AND NOT consumed
		RETURNING id, token, run_id, node_name, event_name, description,
			FALSE, ''::TEXT, created_at, timeout_at`,
		token, string(by),
	)
	tok, err := scanToken(row)
	if err == nil {
		return tok, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("loom/postgres: consume token: %w", err)
	}

	// No unconsumed row matched: distinguish unknown from already won.
	existing, err := s.GetPauseToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if existing.ConsumedBy == pause.ConsumedByTimeout {
		return nil, loom.ErrTokenExpired
	}
	return nil, loom.ErrTokenConsumed
}

// ListExpiredPauseTokens returns unconsumed tokens whose TimeoutAt has
// passed at now, oldest first.
func (s *Store) ListExpiredPauseTokens(ctx context.Context, now time.Time) ([]*pause.Token, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+tokenColumns+` FROM loom_pause_tokens
		WHERE NOT consumed AND timeout_at IS NOT NULL AND timeout_at <= $1
		ORDER BY created_at ASC`, now)
	if err != nil {
		return nil, fmt.Errorf("loom/postgres: list expired tokens: %w", err)
	}
	return collectTokens(rows)
}

// ListPauseTokensByEvent returns unconsumed tokens waiting on the given
// event name, oldest first.
func (s *Store) ListPauseTokensByEvent(ctx context.Context, eventName string) ([]*pause.Token, error) {
	if eventName == "" {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+tokenColumns+` FROM loom_pause_tokens
		WHERE NOT consumed AND event_name = $1
		ORDER BY created_at ASC`, eventName)
	if err != nil {
		return nil, fmt.Errorf("loom/postgres: list event tokens: %w", err)
	}
	return collectTokens(rows)
}

// ListRunPauseTokens returns all tokens belonging to a run.
func (s *Store) ListRunPauseTokens(ctx context.Context, runID id.RunID) ([]*pause.Token, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+tokenColumns+` FROM loom_pause_tokens
		WHERE run_id = $1
		ORDER BY created_at ASC`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("loom/postgres: list run tokens: %w", err)
	}
	return collectTokens(rows)
}

func collectTokens(rows pgx.Rows) ([]*pause.Token, error) {
	defer rows.Close()
	var tokens []*pause.Token
	for rows.Next() {
		tok, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("loom/postgres: scan token: %w", err)
		}
		tokens = append(tokens, tok)
	}
	return tokens, rows.Err()
}
