// Package flow holds the application state model and the pure Flow Store operations over
// it. Every operation returns a new AppState and leaves its input untouched.
package flow

import (
	"crypto/rand"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wadahiro/flowlens/internal/oauth"
)

// AppState is the whole application state: every flow and the active selection.
// An empty ActiveFlowID means no flow is selected.
type AppState struct {
	Flows        []Flow `json:"flows"`
	ActiveFlowID string `json:"activeFlowId,omitempty"`
}

// Flow is one modeled OAuth attempt: an ordered list of steps plus the latest known server,
// client and token state accumulated from them.
type Flow struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	CreatedAt       time.Time `json:"createdAt"`
	LastModified    time.Time `json:"lastModified"`
	ParentFlowID    string    `json:"parentFlowId,omitempty"`
	ParentStepIndex *int      `json:"parentStepIndex,omitempty"`
	Steps           []Step    `json:"steps"`

	ServerURL   string                  `json:"serverUrl,omitempty"`
	Metadata    oauth.ServerMetadata    `json:"metadata,omitempty"`
	Credentials oauth.ClientCredentials `json:"credentials,omitempty"`
	Tokens      oauth.TokenResponse     `json:"tokens,omitempty"`
}

// Field names an accumulated flow field.
type Field string

const (
	FieldServerURL   Field = "serverUrl"
	FieldMetadata    Field = "metadata"
	FieldCredentials Field = "credentials"
	FieldTokens      Field = "tokens"
)

// Clone returns a deep copy of f.
func (f Flow) Clone() Flow {
	c := f
	if f.ParentStepIndex != nil {
		i := *f.ParentStepIndex
		c.ParentStepIndex = &i
	}
	c.Steps = make([]Step, len(f.Steps))
	for i, s := range f.Steps {
		c.Steps[i] = s.Clone()
	}
	c.Metadata = f.Metadata.Clone()
	c.Credentials = f.Credentials.Clone()
	c.Tokens = f.Tokens.Clone()
	return c
}

// StepIndex returns the index of the step with the given id, or -1.
func (f Flow) StepIndex(stepID string) int {
	return slices.IndexFunc(f.Steps, func(s Step) bool { return s.ID == stepID })
}

// FirstStepIndex returns the index of the first step of type t, or -1.
func (f Flow) FirstStepIndex(t StepType) int {
	return slices.IndexFunc(f.Steps, func(s Step) bool { return s.Type == t })
}

// LastStepIndex returns the index of the last step of type t, or -1.
func (f Flow) LastStepIndex(t StepType) int {
	for i := len(f.Steps) - 1; i >= 0; i-- {
		if f.Steps[i].Type == t {
			return i
		}
	}
	return -1
}

// Step returns the step with the given id.
func (f Flow) Step(stepID string) (Step, bool) {
	if i := f.StepIndex(stepID); i >= 0 {
		return f.Steps[i], true
	}
	return Step{}, false
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a new ULID string.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// now is replaced in tests.
var now = time.Now

// FindFlow returns the flow with the given id.
func FindFlow(state AppState, flowID string) (Flow, bool) {
	for _, f := range state.Flows {
		if f.ID == flowID {
			return f, true
		}
	}
	return Flow{}, false
}

// ActiveFlow returns the selected flow, if any.
func ActiveFlow(state AppState) (Flow, bool) {
	if state.ActiveFlowID == "" {
		return Flow{}, false
	}
	return FindFlow(state, state.ActiveFlowID)
}

// SortedByLastModified returns the flows most recently modified first.
func SortedByLastModified(state AppState) []Flow {
	flows := slices.Clone(state.Flows)
	sort.SliceStable(flows, func(i, j int) bool {
		return flows[i].LastModified.After(flows[j].LastModified)
	})
	return flows
}

// CreateFlow appends a new flow seeded with one pending start step and makes it active.
// An empty name defaults to "Flow #N", N being the flow count after the append.
func CreateFlow(state AppState, name string) (AppState, Flow) {
	if name == "" {
		name = fmt.Sprintf("Flow #%d", len(state.Flows)+1)
	}
	t := now()
	f := Flow{
		ID:           NewID(),
		Name:         name,
		CreatedAt:    t,
		LastModified: t,
		Steps:        []Step{NewStep(StepStart)},
	}
	return AppState{
		Flows:        append(slices.Clone(state.Flows), f),
		ActiveFlowID: f.ID,
	}, f
}

// UpdateFlow applies fn to a copy of the matching flow and bumps its LastModified.
// Unknown ids leave the state unchanged.
func UpdateFlow(state AppState, flowID string, fn func(*Flow)) AppState {
	i := slices.IndexFunc(state.Flows, func(f Flow) bool { return f.ID == flowID })
	if i < 0 {
		return state
	}
	flows := slices.Clone(state.Flows)
	f := flows[i]
	f.Steps = slices.Clone(f.Steps)
	fn(&f)
	t := now()
	if t.Before(f.LastModified) {
		t = f.LastModified
	}
	f.LastModified = t
	flows[i] = f
	return AppState{Flows: flows, ActiveFlowID: state.ActiveFlowID}
}

// RenameFlow sets a flow's name.
func RenameFlow(state AppState, flowID, name string) AppState {
	return UpdateFlow(state, flowID, func(f *Flow) { f.Name = name })
}

// DeleteFlow removes a flow. The selection is cleared only if it pointed at the removed
// flow; flows forked from it are left alone.
func DeleteFlow(state AppState, flowID string) AppState {
	flows := slices.DeleteFunc(slices.Clone(state.Flows), func(f Flow) bool { return f.ID == flowID })
	active := state.ActiveFlowID
	if active == flowID {
		active = ""
	}
	return AppState{Flows: flows, ActiveFlowID: active}
}

// SetActiveFlow changes the selection without checking that the flow exists.
func SetActiveFlow(state AppState, flowID string) AppState {
	return AppState{Flows: state.Flows, ActiveFlowID: flowID}
}

// AddStep appends a step to a flow.
func AddStep(state AppState, flowID string, step Step) AppState {
	return UpdateFlow(state, flowID, func(f *Flow) { f.Steps = append(f.Steps, step) })
}

// UpdateStep applies fn to a copy of the matching step. Unknown flow or step ids leave the
// state unchanged.
func UpdateStep(state AppState, flowID, stepID string, fn func(*Step)) AppState {
	f, ok := FindFlow(state, flowID)
	if !ok || f.StepIndex(stepID) < 0 {
		return state
	}
	return UpdateFlow(state, flowID, func(f *Flow) {
		i := f.StepIndex(stepID)
		s := f.Steps[i].Clone()
		fn(&s)
		f.Steps[i] = s
	})
}

// Accumulated is a partial update of a flow's accumulated fields. Nil members are left
// unchanged.
type Accumulated struct {
	ServerURL   *string
	Metadata    oauth.ServerMetadata
	Credentials oauth.ClientCredentials
	Tokens      oauth.TokenResponse
}

// UpdateFlowState overwrites the accumulated fields present in u.
func UpdateFlowState(state AppState, flowID string, u Accumulated) AppState {
	return UpdateFlow(state, flowID, func(f *Flow) {
		if u.ServerURL != nil {
			f.ServerURL = *u.ServerURL
		}
		if u.Metadata != nil {
			f.Metadata = u.Metadata.Clone()
		}
		if u.Credentials != nil {
			f.Credentials = u.Credentials.Clone()
		}
		if u.Tokens != nil {
			f.Tokens = u.Tokens.Clone()
		}
	})
}

// ForkFlow copies steps [0..stepIndex] of a flow into a new active flow. Copied steps get
// new ids; the copy at stepIndex is reset to pending so it can be edited, earlier copies
// keep their status. The accumulated fields are deep-copied. It returns false, and the
// state unchanged, for an unknown flow or an out-of-range index.
func ForkFlow(state AppState, flowID string, stepIndex int, name string) (AppState, Flow, bool) {
	src, ok := FindFlow(state, flowID)
	if !ok || stepIndex < 0 || stepIndex >= len(src.Steps) {
		return state, Flow{}, false
	}
	if name == "" {
		name = fmt.Sprintf("Flow #%d", len(state.Flows)+1)
	}

	steps := make([]Step, stepIndex+1)
	for i := range steps {
		s := src.Steps[i].Clone()
		s.ID = NewID()
		if i == stepIndex {
			s.Status = StatusPending
		}
		steps[i] = s
	}

	t := now()
	idx := stepIndex
	f := Flow{
		ID:              NewID(),
		Name:            name,
		CreatedAt:       t,
		LastModified:    t,
		ParentFlowID:    src.ID,
		ParentStepIndex: &idx,
		Steps:           steps,
		ServerURL:       src.ServerURL,
		Metadata:        src.Metadata.Clone(),
		Credentials:     src.Credentials.Clone(),
		Tokens:          src.Tokens.Clone(),
	}
	return AppState{
		Flows:        append(slices.Clone(state.Flows), f),
		ActiveFlowID: f.ID,
	}, f, true
}

// TruncateAt keeps steps [0..index] of a flow and clears the named accumulated fields.
func TruncateAt(state AppState, flowID string, index int, fields ...Field) AppState {
	return UpdateFlow(state, flowID, func(f *Flow) {
		if index >= -1 && index+1 < len(f.Steps) {
			f.Steps = f.Steps[:index+1]
		}
		for _, field := range fields {
			switch field {
			case FieldServerURL:
				f.ServerURL = ""
			case FieldMetadata:
				f.Metadata = nil
			case FieldCredentials:
				f.Credentials = nil
			case FieldTokens:
				f.Tokens = nil
			}
		}
	})
}
