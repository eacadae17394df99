// Package query exposes the persisted token to consumers that cannot receive
// push callbacks themselves. Every operation returns a result value; failures
// are reported inside it rather than as Go errors.
package query

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tinywideclouds/go-push-bridge/pkg/bridge"
)

const (
	errReadFailed   = "Token store unavailable"
	errWriteFailed  = "Failed to acknowledge sync"
	errTokenChanged = "Token changed since sync"
)

var errStaleAck = errors.New(errTokenChanged)

// TokenResult is the response shape of QueryToken.
type TokenResult struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SyncStateResult adds the needsSync flag for the synchronisation process.
type SyncStateResult struct {
	Success   bool   `json:"success"`
	Token     string `json:"token,omitempty"`
	NeedsSync bool   `json:"needsSync"`
	Error     string `json:"error,omitempty"`
}

// Service is the token query service.
type Service struct {
	store  bridge.AtomicTokenStore
	logger *slog.Logger
}

func NewService(store bridge.AtomicTokenStore, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.With("component", "TokenQueryService"),
	}
}

// QueryToken returns the current token, or success=false with
// "No token found" when no refresh has happened yet.
func (s *Service) QueryToken(ctx context.Context) TokenResult {
	rec, found, err := s.store.Get(ctx)
	if err != nil {
		s.logger.Error("Token query failed", "err", err)
		return TokenResult{Success: false, Error: errReadFailed}
	}
	if !found {
		// Expected before the first refresh; the consumer retries later.
		s.logger.Debug("Token queried before first refresh")
		return TokenResult{Success: false, Error: bridge.NoTokenMessage}
	}
	return TokenResult{Success: true, Token: rec.Token}
}

// SyncState returns the token together with its needsSync flag.
func (s *Service) SyncState(ctx context.Context) SyncStateResult {
	rec, found, err := s.store.Get(ctx)
	if err != nil {
		s.logger.Error("Sync state query failed", "err", err)
		return SyncStateResult{Success: false, Error: errReadFailed}
	}
	if !found {
		return SyncStateResult{Success: false, Error: bridge.NoTokenMessage}
	}
	return SyncStateResult{Success: true, Token: rec.Token, NeedsSync: rec.NeedsSync}
}

// AcknowledgeSync clears needsSync and carries the token over unchanged, as
// one full-record replace. When syncedToken is non-empty the ack only applies
// if it still matches the stored token, so a refresh that landed during the
// external sync keeps its needsSync=true.
func (s *Service) AcknowledgeSync(ctx context.Context, syncedToken string) SyncStateResult {
	var result SyncStateResult

	err := s.store.Update(ctx, func(cur bridge.TokenRecord, found bool) (bridge.TokenRecord, bool, error) {
		if !found {
			return cur, false, bridge.ErrNoToken
		}
		if syncedToken != "" && syncedToken != cur.Token {
			result = SyncStateResult{Success: false, Token: cur.Token, NeedsSync: cur.NeedsSync, Error: errTokenChanged}
			return cur, false, errStaleAck
		}
		result = SyncStateResult{Success: true, Token: cur.Token, NeedsSync: false}
		// Already clear: nothing to write.
		return bridge.TokenRecord{Token: cur.Token, NeedsSync: false}, cur.NeedsSync, nil
	})

	switch {
	case err == nil:
		s.logger.Info("Token sync acknowledged")
		return result
	case errors.Is(err, bridge.ErrNoToken):
		return SyncStateResult{Success: false, Error: bridge.NoTokenMessage}
	case errors.Is(err, errStaleAck):
		s.logger.Info("Ignoring sync ack for superseded token")
		return result
	default:
		s.logger.Error("Sync acknowledgment failed", "err", err)
		return SyncStateResult{Success: false, Error: errWriteFailed}
	}
}
