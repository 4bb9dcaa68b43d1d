package flow

import "github.com/wadahiro/flowlens/internal/oauth"

// resetFields lists, per step type, the accumulated fields derived from that step or any
// later one. Refresh is handled separately: its tokens are recomputed.
var resetFields = map[StepType][]Field{
	StepStart:         {FieldServerURL, FieldMetadata, FieldCredentials, FieldTokens},
	StepDiscovery:     {FieldMetadata, FieldCredentials, FieldTokens},
	StepRegistration:  {FieldCredentials, FieldTokens},
	StepAuthorization: {FieldTokens},
	StepCallback:      {FieldTokens},
	StepToken:         {FieldTokens},
	StepRefresh:       nil,
	StepIntrospect:    nil,
	StepRevoke:        nil,
}

// ResetFields returns the accumulated fields cleared when a step of type t is reset.
func ResetFields(t StepType) []Field {
	return resetFields[t]
}

// ResetStep resets the first step of type t in a flow. See ResetStepAt.
func ResetStep(state AppState, flowID string, t StepType) (AppState, bool) {
	f, ok := FindFlow(state, flowID)
	if !ok {
		return state, false
	}
	return ResetStepAt(state, flowID, f.FirstStepIndex(t))
}

// ResetStepAt returns the step at index to pending with its results and submitted
// parameters cleared, discards every later step and clears the accumulated fields derived
// from them. Resetting a refresh step recomputes the flow's tokens from the token step and
// the refresh steps before it.
func ResetStepAt(state AppState, flowID string, index int) (AppState, bool) {
	f, ok := FindFlow(state, flowID)
	if !ok || index < 0 || index >= len(f.Steps) {
		return state, false
	}
	target := f.Steps[index]

	state = TruncateAt(state, flowID, index, ResetFields(target.Type)...)
	state = UpdateFlow(state, flowID, func(f *Flow) {
		f.Steps[index] = target.Cleared()
		if target.Type == StepRefresh {
			f.Tokens = tokensBefore(f.Steps, index)
		}
	})
	return state, true
}

// tokensBefore merges the tokens of the completed token and refresh steps in steps[:end].
func tokensBefore(steps []Step, end int) oauth.TokenResponse {
	var tokens oauth.TokenResponse
	for _, s := range steps[:end] {
		if s.Status != StatusComplete {
			continue
		}
		switch {
		case s.Token != nil && s.Token.Tokens != nil:
			tokens = s.Token.Tokens.Clone()
		case s.Refresh != nil && s.Refresh.Tokens != nil:
			tokens = tokens.Merge(s.Refresh.Tokens)
		}
	}
	return tokens
}
