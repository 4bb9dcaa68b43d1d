package orchestrator

import (
	"log/slog"
	"sync"

	"github.com/wadahiro/flowlens/internal/flow"
	"github.com/wadahiro/flowlens/internal/metrics"
	"github.com/wadahiro/flowlens/internal/persist"
)

// Holder is the single writer of the application state. Every accepted transition is
// saved through the store; a failed save is logged and the in-memory state is kept.
type Holder struct {
	mu      sync.Mutex
	state   flow.AppState
	store   persist.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewHolder loads the saved state from store.
func NewHolder(store persist.Store, logger *slog.Logger, m *metrics.Metrics) *Holder {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Holder{
		state:   store.LoadState(),
		store:   store,
		logger:  logger,
		metrics: m,
	}
	h.metrics.SetFlows(len(h.state.Flows))
	return h
}

// State returns the current state. Callers must treat it as read-only.
func (h *Holder) State() flow.AppState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Update applies fn to the current state. When fn returns an error the state is left
// unchanged and the error is returned.
func (h *Holder) Update(fn func(flow.AppState) (flow.AppState, error)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	next, err := fn(h.state)
	if err != nil {
		return err
	}
	h.state = next
	if err := h.store.SaveState(next); err != nil {
		h.logger.Error("failed to save state", "error", err)
	}
	h.metrics.SetFlows(len(next.Flows))
	return nil
}
