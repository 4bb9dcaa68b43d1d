// Package orchestrator sequences protocol client calls in response to user actions. It
// advances step status, appends successor steps and implements reset and replay per step
// type. All state changes go through a Holder.
package orchestrator

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wadahiro/flowlens/internal/flow"
	"github.com/wadahiro/flowlens/internal/metrics"
	"github.com/wadahiro/flowlens/internal/oauth"
	"github.com/wadahiro/flowlens/internal/persist"
	"github.com/wadahiro/flowlens/internal/protocol"
)

var (
	ErrFlowNotFound = errors.New("flow not found")
	ErrStepNotFound = errors.New("step not found")
	ErrStepBusy     = errors.New("step is in progress")
)

// Options configures an Orchestrator.
type Options struct {
	Client *oauth.Client
	Store  persist.Store
	// RedirectURI is the absolute URL of the redirect target, used as the default
	// redirect_uri for registration and authorization.
	RedirectURI string
	// Registration is the registration request offered for a fresh registration step.
	// Nil means oauth.DefaultRegistrationRequest(RedirectURI).
	Registration *oauth.RegistrationRequest
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// Orchestrator drives flows one step at a time.
type Orchestrator struct {
	holder       *Holder
	client       *oauth.Client
	store        persist.Store
	redirectURI  string
	registration oauth.RegistrationRequest
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// New creates an Orchestrator and loads the saved state.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registration := oauth.DefaultRegistrationRequest(opts.RedirectURI)
	if opts.Registration != nil {
		registration = *opts.Registration
	}
	return &Orchestrator{
		holder:       NewHolder(opts.Store, logger, opts.Metrics),
		client:       opts.Client,
		store:        opts.Store,
		redirectURI:  opts.RedirectURI,
		registration: registration,
		logger:       logger,
		metrics:      opts.Metrics,
	}
}

// State returns the current application state.
func (o *Orchestrator) State() flow.AppState {
	return o.holder.State()
}

// Flow returns one flow.
func (o *Orchestrator) Flow(flowID string) (flow.Flow, error) {
	f, ok := flow.FindFlow(o.holder.State(), flowID)
	if !ok {
		return flow.Flow{}, fmt.Errorf("%s: %w", flowID, ErrFlowNotFound)
	}
	return f, nil
}

// RedirectURI returns the configured redirect target.
func (o *Orchestrator) RedirectURI() string {
	return o.redirectURI
}

func (o *Orchestrator) CreateFlow(name string) flow.Flow {
	var created flow.Flow
	_ = o.holder.Update(func(state flow.AppState) (flow.AppState, error) {
		state, created = flow.CreateFlow(state, name)
		return state, nil
	})
	o.logger.Info("flow created", "flow", created.ID, "name", created.Name)
	return created
}

func (o *Orchestrator) RenameFlow(flowID, name string) error {
	return o.holder.Update(func(state flow.AppState) (flow.AppState, error) {
		if _, ok := flow.FindFlow(state, flowID); !ok {
			return state, fmt.Errorf("%s: %w", flowID, ErrFlowNotFound)
		}
		return flow.RenameFlow(state, flowID, name), nil
	})
}

func (o *Orchestrator) DeleteFlow(flowID string) error {
	err := o.holder.Update(func(state flow.AppState) (flow.AppState, error) {
		if _, ok := flow.FindFlow(state, flowID); !ok {
			return state, fmt.Errorf("%s: %w", flowID, ErrFlowNotFound)
		}
		return flow.DeleteFlow(state, flowID), nil
	})
	if err == nil {
		o.logger.Info("flow deleted", "flow", flowID)
	}
	return err
}

// SelectFlow makes a flow active. An empty id clears the selection.
func (o *Orchestrator) SelectFlow(flowID string) error {
	return o.holder.Update(func(state flow.AppState) (flow.AppState, error) {
		if flowID != "" {
			if _, ok := flow.FindFlow(state, flowID); !ok {
				return state, fmt.Errorf("%s: %w", flowID, ErrFlowNotFound)
			}
		}
		return flow.SetActiveFlow(state, flowID), nil
	})
}

// ForkFlow branches a new active flow from steps [0..stepIndex] of an existing one.
func (o *Orchestrator) ForkFlow(flowID string, stepIndex int, name string) (flow.Flow, error) {
	var forked flow.Flow
	err := o.holder.Update(func(state flow.AppState) (flow.AppState, error) {
		if _, ok := flow.FindFlow(state, flowID); !ok {
			return state, fmt.Errorf("%s: %w", flowID, ErrFlowNotFound)
		}
		next, f, ok := flow.ForkFlow(state, flowID, stepIndex, name)
		if !ok {
			return state, protocol.Validationf("Invalid step index: %d", stepIndex)
		}
		forked = f
		return next, nil
	})
	if err != nil {
		return flow.Flow{}, err
	}
	o.logger.Info("flow forked", "flow", forked.ID, "parent", flowID, "stepIndex", stepIndex)
	return forked, nil
}

// Reset returns the first step of type t to pending and discards everything after it.
func (o *Orchestrator) Reset(flowID string, t flow.StepType) error {
	return o.resetAt(flowID, "", t)
}

// ResetStep resets one specific step, identified by id.
func (o *Orchestrator) ResetStep(flowID, stepID string) error {
	return o.resetAt(flowID, stepID, "")
}

func (o *Orchestrator) resetAt(flowID, stepID string, t flow.StepType) error {
	return o.holder.Update(func(state flow.AppState) (flow.AppState, error) {
		f, idx, err := locate(state, flowID, stepID, t, false)
		if err != nil {
			return state, err
		}
		next, _ := flow.ResetStepAt(state, flowID, idx)
		o.logger.Info("step reset", "flow", flowID, "step", f.Steps[idx].ID, "type", f.Steps[idx].Type, "discarded", len(f.Steps)-idx-1)
		return next, nil
	})
}

// locate finds the step an action targets. With an explicit stepID the step must have
// type t (when t is set). Otherwise single-instance types resolve to their first step and
// repeatable types (refresh, introspect, revoke) to their last one.
func locate(state flow.AppState, flowID, stepID string, t flow.StepType, last bool) (flow.Flow, int, error) {
	f, ok := flow.FindFlow(state, flowID)
	if !ok {
		return f, -1, fmt.Errorf("%s: %w", flowID, ErrFlowNotFound)
	}
	var idx int
	switch {
	case stepID != "":
		idx = f.StepIndex(stepID)
		if idx >= 0 && t != "" && f.Steps[idx].Type != t {
			idx = -1
		}
	case last:
		idx = f.LastStepIndex(t)
	default:
		idx = f.FirstStepIndex(t)
	}
	if idx < 0 {
		what := stepID
		if what == "" {
			what = string(t)
		}
		return f, -1, fmt.Errorf("%s: %w", what, ErrStepNotFound)
	}
	return f, idx, nil
}

func repeatable(t flow.StepType) bool {
	return t == flow.StepRefresh || t == flow.StepIntrospect || t == flow.StepRevoke
}

// begin moves the targeted step to in_progress and records what was submitted.
func (o *Orchestrator) begin(flowID, stepID string, t flow.StepType, submit func(*flow.Step)) (flow.Flow, flow.Step, error) {
	var (
		started flow.Flow
		step    flow.Step
	)
	err := o.holder.Update(func(state flow.AppState) (flow.AppState, error) {
		next, s, err := startStep(state, flowID, stepID, t, submit)
		if err != nil {
			return state, err
		}
		started, _ = flow.FindFlow(next, flowID)
		step = s
		return next, nil
	})
	if err != nil {
		return flow.Flow{}, flow.Step{}, err
	}
	o.logger.Debug("step started", "flow", flowID, "step", step.ID, "type", step.Type, "attempt", step.Attempt)
	return started, step, nil
}

// startStep moves the targeted step to in_progress. A complete or error step is reset
// first, discarding its successors.
func startStep(state flow.AppState, flowID, stepID string, t flow.StepType, submit func(*flow.Step)) (flow.AppState, flow.Step, error) {
	f, idx, err := locate(state, flowID, stepID, t, repeatable(t))
	if err != nil {
		return state, flow.Step{}, err
	}
	cur := f.Steps[idx]
	if cur.Status == flow.StatusInProgress {
		return state, flow.Step{}, fmt.Errorf("%s: %w", cur.ID, ErrStepBusy)
	}
	if !flow.CanTransition(cur.Status, flow.StatusInProgress) {
		state, _ = flow.ResetStepAt(state, flowID, idx)
	}
	state = flow.UpdateStep(state, flowID, cur.ID, func(s *flow.Step) {
		s.Status = flow.StatusInProgress
		s.Attempt++
		s.Error = ""
		s.HTTPExchange = nil
		s.CompletedAt = nil
		if submit != nil {
			submit(s)
		}
	})
	started, _ := flow.FindFlow(state, flowID)
	return state, started.Steps[idx], nil
}

// result is the outcome of a protocol call for one step.
type result struct {
	exchange *protocol.HTTPExchange
	err      error
	// apply records the result on the step.
	apply func(*flow.Step)
	// then updates accumulated fields and appends successors. f is the flow after the
	// step was completed.
	then func(state flow.AppState, f flow.Flow) flow.AppState
}

// finish records a result on a step started by begin. A result for a step that has
// since been reset or restarted is dropped.
func (o *Orchestrator) finish(flowID string, started flow.Step, r result) error {
	stale := false
	_ = o.holder.Update(func(state flow.AppState) (flow.AppState, error) {
		f, ok := flow.FindFlow(state, flowID)
		if !ok {
			stale = true
			return state, nil
		}
		cur, ok := f.Step(started.ID)
		if !ok || !flow.CanTransition(cur.Status, flow.StatusComplete) || cur.Attempt != started.Attempt {
			stale = true
			return state, nil
		}
		return o.record(state, flowID, started.ID, r), nil
	})
	if stale {
		o.logger.Info("dropping stale step result", "flow", flowID, "step", started.ID, "attempt", started.Attempt)
	}
	return r.err
}

// record moves an in_progress step to complete or error.
func (o *Orchestrator) record(state flow.AppState, flowID, stepID string, r result) flow.AppState {
	var stepType flow.StepType
	if r.err != nil {
		state = flow.UpdateStep(state, flowID, stepID, func(s *flow.Step) {
			stepType = s.Type
			s.Status = flow.StatusError
			s.Error = r.err.Error()
			s.HTTPExchange = r.exchange.Clone()
			if s.HTTPExchange == nil {
				s.HTTPExchange = protocol.ExchangeOf(r.err).Clone()
			}
		})
		o.logger.Warn("step failed", "flow", flowID, "step", stepID, "type", stepType, "kind", protocol.ErrorKind(r.err), "error", r.err)
		o.metrics.ObserveStep(string(stepType), string(flow.StatusError))
		return state
	}

	completedAt := now()
	state = flow.UpdateStep(state, flowID, stepID, func(s *flow.Step) {
		stepType = s.Type
		s.Status = flow.StatusComplete
		s.Error = ""
		s.HTTPExchange = r.exchange.Clone()
		s.CompletedAt = &completedAt
		if r.apply != nil {
			r.apply(s)
		}
	})
	if r.then != nil {
		f, _ := flow.FindFlow(state, flowID)
		state = r.then(state, f)
	}
	o.logger.Info("step complete", "flow", flowID, "step", stepID, "type", stepType)
	o.metrics.ObserveStep(string(stepType), string(flow.StatusComplete))
	return state
}

// complete runs a synchronous step through in_progress to its result in one state update,
// so the in_progress state is never saved or observed.
func (o *Orchestrator) complete(flowID, stepID string, t flow.StepType, submit func(*flow.Step), r result) error {
	err := o.holder.Update(func(state flow.AppState) (flow.AppState, error) {
		next, started, err := startStep(state, flowID, stepID, t, submit)
		if err != nil {
			return state, err
		}
		return o.record(next, flowID, started.ID, r), nil
	})
	if err != nil {
		return err
	}
	return r.err
}

// hasPending reports whether f has a pending step of type t other than exceptID.
func hasPending(f flow.Flow, t flow.StepType, exceptID string) bool {
	for _, s := range f.Steps {
		if s.Type == t && s.ID != exceptID && s.Status == flow.StatusPending {
			return true
		}
	}
	return false
}

var now = func() time.Time { return time.Now().UTC() }

