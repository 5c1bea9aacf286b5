package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/loomhq/loom"
)

// GetState returns the value under (scope, key). Expired entries read as
// absent; the sweeper reclaims them physically later.
func (s *Store) GetState(ctx context.Context, scope, key string) ([]byte, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT value FROM loom_state
		WHERE scope = $1 AND key = $2
			AND (expires_at IS NULL OR expires_at > now())`,
		scope, key)

	var value []byte
	err := row.Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, loom.ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loom/postgres: get state: %w", err)
	}
	return value, nil
}

// SetState stores value under (scope, key). Zero ttl means no expiry.
func (s *Store) SetState(ctx context.Context, scope, key string, value []byte, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO loom_state (scope, key, value, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (scope, key) DO UPDATE SET
			value = EXCLUDED.value,
			expires_at = EXCLUDED.expires_at,
			updated_at = now()`,
		scope, key, value, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("loom/postgres: set state: %w", err)
	}
	return nil
}

// IncrState atomically adds amount to the numeric value under
// (scope, key), creating it at zero if absent or expired. The row lock
// taken by SELECT FOR UPDATE serializes concurrent increments.
func (s *Store) IncrState(ctx context.Context, scope, key string, amount int64) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("loom/postgres: incr state: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT value, expires_at FROM loom_state
		WHERE scope = $1 AND key = $2
		FOR UPDATE`, scope, key)

	var (
		current   int64
		expiresAt *time.Time
	)
	var raw []byte
	switch err := row.Scan(&raw, &expiresAt); {
	case errors.Is(err, pgx.ErrNoRows):
		// Absent: start from zero with no expiry.
	case err != nil:
		return 0, fmt.Errorf("loom/postgres: incr state: %w", err)
	case expiresAt != nil && !expiresAt.After(time.Now()):
		// Expired: treated as absent, expiry cleared below.
		expiresAt = nil
	default:
		n, perr := strconv.ParseInt(string(raw), 10, 64)
		if perr != nil {
			return 0, loom.ErrNonNumericState
		}
		current = n
	}

	next := current + amount
	_, err = tx.Exec(ctx, `
		INSERT INTO loom_state (scope, key, value, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (scope, key) DO UPDATE SET
			value = EXCLUDED.value,
			expires_at = EXCLUDED.expires_at,
			updated_at = now()`,
		scope, key, []byte(strconv.FormatInt(next, 10)), expiresAt,
	)
	if err != nil {
		return 0, fmt.Errorf("loom/postgres: incr state: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("loom/postgres: incr state: %w", err)
	}
	return next, nil
}

// DeleteState removes the value under (scope, key).
func (s *Store) DeleteState(ctx context.Context, scope, key string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM loom_state WHERE scope = $1 AND key = $2`, scope, key)
	if err != nil {
		return fmt.Errorf("loom/postgres: delete state: %w", err)
	}
	return nil
}

// SweepExpiredState physically reclaims expired entries.
func (s *Store) SweepExpiredState(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM loom_state WHERE expires_at IS NOT NULL AND expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("loom/postgres: sweep state: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
