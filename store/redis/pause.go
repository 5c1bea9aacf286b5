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
	"github.com/loomhq/loom/pause"
)

// CreatePauseToken persists a new unconsumed token and indexes it for
// the timeout watcher, event matching, and per-run lookup.
func (s *Store) CreatePauseToken(ctx context.Context, tok *pause.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("loom/redis: encode token: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, tokenKey(tok.Token), data, 0)
	pipe.SAdd(ctx, tokenRunKey(tok.RunID.String()), tok.Token)
	if tok.TimeoutAt != nil {
		pipe.ZAdd(ctx, tokenTimeoutsKey, goredis.Z{
			Score:  float64(tok.TimeoutAt.UnixNano()),
			Member: tok.Token,
		})
	}
	if tok.EventName != "" {
		pipe.SAdd(ctx, tokenEventKey(tok.EventName), tok.Token)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("loom/redis: create token: %w", err)
	}
	return nil
}

// getToken fetches and decodes one token.
func (s *Store) getToken(ctx context.Context, token string) (*pause.Token, error) {
	data, err := s.client.Get(ctx, tokenKey(token)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, loom.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loom/redis: get token: %w", err)
	}
	var tok pause.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("loom/redis: decode token: %w", err)
	}
	return &tok, nil
}

// GetPauseToken retrieves a token by its handle string.
func (s *Store) GetPauseToken(ctx context.Context, token string) (*pause.Token, error) {
	return s.GetPauseTokenAt(ctx, token)
}

// GetPauseTokenAt is GetPauseToken with the consumed marker folded in,
// so readers see the same view consumers race on.
func (s *Store) GetPauseTokenAt(ctx context.Context, token string) (*pause.Token, error) {
	tok, err := s.getToken(ctx, token)
	if err != nil {
		return nil, err
	}
	by, err := s.client.Get(ctx, tokenConsumedKey(token)).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("loom/redis: get token consumer: %w", err)
	}
	if err == nil {
		tok.Consumed = true
		tok.ConsumedBy = pause.Consumer(by)
	}
	return tok, nil
}

// ConsumePauseToken atomically marks the token consumed and returns its
// prior snapshot. SETNX on the consumed marker is the compare-and-swap:
// under a racing manual resume and timeout firing, exactly one wins.
func (s *Store) ConsumePauseToken(ctx context.Context, token string, by pause.Consumer) (*pause.Token, error) {
	tok, err := s.getToken(ctx, token)
	if err != nil {
		return nil, err
	}

	won, err := s.client.SetNX(ctx, tokenConsumedKey(token), string(by), 0).Result()
	if err != nil {
		return nil, fmt.Errorf("loom/redis: consume token: %w", err)
	}
	if !won {
		winner, gErr := s.client.Get(ctx, tokenConsumedKey(token)).Result()
		if gErr != nil {
			return nil, fmt.Errorf("loom/redis: read token consumer: %w", gErr)
		}
		if pause.Consumer(winner) == pause.ConsumedByTimeout {
			return nil, loom.ErrTokenExpired
		}
		return nil, loom.ErrTokenConsumed
	}

	// Winner: drop the token from the watcher and event indexes. The
	// consumed marker already guards re-consumption, so these are
	// bookkeeping only.
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, tokenTimeoutsKey, token)
	if tok.EventName != "" {
		pipe.SRem(ctx, tokenEventKey(tok.EventName), token)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("token index cleanup failed", "token", token, "error", err.Error())
	}
	return tok, nil
}

// ListExpiredPauseTokens returns unconsumed tokens whose TimeoutAt has
// passed at now, oldest first.
func (s *Store) ListExpiredPauseTokens(ctx context.Context, now time.Time) ([]*pause.Token, error) {
	handles, err := s.client.ZRangeByScore(ctx, tokenTimeoutsKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixNano()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("loom/redis: list expired tokens: %w", err)
	}
	return s.collectUnconsumed(ctx, handles)
}

// ListPauseTokensByEvent returns unconsumed tokens waiting on the given
// event name, oldest first.
func (s *Store) ListPauseTokensByEvent(ctx context.Context, eventName string) ([]*pause.Token, error) {
	if eventName == "" {
		return nil, nil
	}
	handles, err := s.client.SMembers(ctx, tokenEventKey(eventName)).Result()
	if err != nil {
		return nil, fmt.Errorf("loom/redis: list event tokens: %w", err)
	}
	return s.collectUnconsumed(ctx, handles)
}

// ListRunPauseTokens returns all tokens belonging to a run, consumed or
// not, oldest first.
func (s *Store) ListRunPauseTokens(ctx context.Context, runID id.RunID) ([]*pause.Token, error) {
	handles, err := s.client.SMembers(ctx, tokenRunKey(runID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("loom/redis: list run tokens: %w", err)
	}

	var tokens []*pause.Token
	for _, h := range handles {
		tok, gErr := s.GetPauseTokenAt(ctx, h)
		if gErr != nil {
			continue
		}
		tokens = append(tokens, tok)
	}
	sortTokens(tokens)
	return tokens, nil
}

// collectUnconsumed resolves handles to tokens, dropping consumed ones.
func (s *Store) collectUnconsumed(ctx context.Context, handles []string) ([]*pause.Token, error) {
	var tokens []*pause.Token
	for _, h := range handles {
		tok, err := s.GetPauseTokenAt(ctx, h)
		if err != nil || tok.Consumed {
			continue
		}
		tokens = append(tokens, tok)
	}
	sortTokens(tokens)
	return tokens, nil
}

func sortTokens(tokens []*pause.Token) {
	sort.Slice(tokens, func(i, k int) bool {
		return tokens[i].CreatedAt.Before(tokens[k].CreatedAt)
	})
}
