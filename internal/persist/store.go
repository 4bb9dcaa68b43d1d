// Package persist saves the application state and the two single-slot records that must
// survive the redirect to the authorization server.
package persist

import (
	"encoding/json"
	"log/slog"

	"github.com/wadahiro/flowlens/internal/flow"
)

// Store is the persistence adapter used by the orchestrator.
//
// LoadState never fails: an absent or unreadable state yields an empty AppState. The
// ephemeral getters return nil when nothing is stored.
type Store interface {
	LoadState() flow.AppState
	SaveState(state flow.AppState) error

	PendingCallback() (*flow.PendingCallback, error)
	SavePendingCallback(cb flow.PendingCallback) error
	ClearPendingCallback() error

	RedirectState() (*flow.RedirectState, error)
	SaveRedirectState(rs flow.RedirectState) error
	ClearRedirectState() error

	Close() error
}

const (
	keyState           = "state"
	keyPendingCallback = "pending_callback"
	keyRedirectState   = "redirect_state"
)

// decodeState unmarshals a stored AppState, falling back to an empty one.
func decodeState(logger *slog.Logger, data []byte) flow.AppState {
	if len(data) == 0 {
		return flow.AppState{}
	}
	var state flow.AppState
	if err := json.Unmarshal(data, &state); err != nil {
		logger.Warn("discarding unreadable state", "error", err)
		return flow.AppState{}
	}
	return state
}

// decodeRecord unmarshals an ephemeral record. Unreadable records are treated as absent.
func decodeRecord[T any](logger *slog.Logger, key string, data []byte) *T {
	if len(data) == 0 {
		return nil
	}
	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		logger.Warn("discarding unreadable record", "key", key, "error", err)
		return nil
	}
	return v
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
