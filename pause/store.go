package pause

import (
	"context"
	"time"

	"github.com/loomhq/loom/id"
)

// Store defines the persistence contract for pause tokens. Consumption
// must be a compare-and-swap: under a concurrent manual resume and
// timeout firing, exactly one caller wins.
type Store interface {
	// CreatePauseToken persists a new unconsumed token.
	CreatePauseToken(ctx context.Context, tok *Token) error

	// GetPauseToken retrieves a token by its handle string.
	// Fails with loom.ErrTokenNotFound if unknown.
	GetPauseToken(ctx context.Context, token string) (*Token, error)

	// ConsumePauseToken atomically marks the token consumed by the given
	// consumer and returns its prior snapshot. If the token was already
	// consumed, it fails with loom.ErrTokenExpired when the winner was
	// the timeout watcher, loom.ErrTokenConsumed otherwise.
	ConsumePauseToken(ctx context.Context, token string, by Consumer) (*Token, error)

	// ListExpiredPauseTokens returns unconsumed tokens whose TimeoutAt
	// has passed at now.
	ListExpiredPauseTokens(ctx context.Context, now time.Time) ([]*Token, error)

	// ListPauseTokensByEvent returns unconsumed tokens waiting on the
	// given event name, oldest first.
	ListPauseTokensByEvent(ctx context.Context, eventName string) ([]*Token, error)

	// ListRunPauseTokens returns all tokens belonging to a run.
	ListRunPauseTokens(ctx context.Context, runID id.RunID) ([]*Token, error)
}
