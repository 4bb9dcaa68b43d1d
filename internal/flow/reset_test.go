package flow

import (
	"slices"
	"testing"

	"github.com/wadahiro/flowlens/internal/oauth"
)

func stepTypes(f Flow) []StepType {
	out := make([]StepType, len(f.Steps))
	for i, s := range f.Steps {
		out[i] = s.Type
	}
	return out
}

func TestResetStep_Discovery(t *testing.T) {
	state, f := progressedFlow(t)
	discoveryID := f.Steps[1].ID

	next, ok := ResetStep(state, f.ID, StepDiscovery)
	if !ok {
		t.Fatal("ResetStep failed")
	}
	got, _ := FindFlow(next, f.ID)
	if types := stepTypes(got); len(types) != 2 || types[0] != StepStart || types[1] != StepDiscovery {
		t.Fatalf("steps = %v, want [start discovery]", types)
	}
	d := got.Steps[1]
	if d.Status != StatusPending || d.ID != discoveryID || d.Discovery == nil || d.Discovery.Metadata != nil {
		t.Errorf("discovery step = %+v", d)
	}
	if got.Credentials != nil || got.Tokens != nil || got.Metadata != nil {
		t.Errorf("accumulated fields should be cleared: %+v", got)
	}
	if got.ServerURL == "" {
		t.Error("serverUrl should be kept")
	}

	orig, _ := FindFlow(state, f.ID)
	if len(orig.Steps) != 6 || orig.Tokens == nil {
		t.Error("ResetStep mutated its input")
	}
}

func TestResetStep_Table(t *testing.T) {
	tests := []struct {
		stepType        StepType
		wantLen         int
		wantServerURL   bool
		wantMetadata    bool
		wantCredentials bool
		wantTokens      bool
	}{
		{StepStart, 1, false, false, false, false},
		{StepRegistration, 3, true, true, false, false},
		{StepAuthorization, 4, true, true, true, false},
		{StepCallback, 5, true, true, true, false},
		{StepToken, 6, true, true, true, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.stepType), func(t *testing.T) {
			state, f := progressedFlow(t)
			next, ok := ResetStep(state, f.ID, tt.stepType)
			if !ok {
				t.Fatal("ResetStep failed")
			}
			got, _ := FindFlow(next, f.ID)
			if len(got.Steps) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(got.Steps), tt.wantLen)
			}
			if (got.ServerURL != "") != tt.wantServerURL ||
				(got.Metadata != nil) != tt.wantMetadata ||
				(got.Credentials != nil) != tt.wantCredentials ||
				(got.Tokens != nil) != tt.wantTokens {
				t.Errorf("accumulated = url:%q metadata:%v creds:%v tokens:%v", got.ServerURL, got.Metadata, got.Credentials, got.Tokens)
			}
			last := got.Steps[len(got.Steps)-1]
			if last.Type != tt.stepType || last.Status != StatusPending {
				t.Errorf("reset step = %s/%s", last.Type, last.Status)
			}
		})
	}
}

func TestResetFields(t *testing.T) {
	tests := []struct {
		stepType StepType
		want     []Field
	}{
		{StepStart, []Field{FieldServerURL, FieldMetadata, FieldCredentials, FieldTokens}},
		{StepDiscovery, []Field{FieldMetadata, FieldCredentials, FieldTokens}},
		{StepRegistration, []Field{FieldCredentials, FieldTokens}},
		{StepAuthorization, []Field{FieldTokens}},
		{StepCallback, []Field{FieldTokens}},
		{StepToken, []Field{FieldTokens}},
		{StepRefresh, nil},
		{StepIntrospect, nil},
		{StepRevoke, nil},
	}
	for _, tt := range tests {
		t.Run(string(tt.stepType), func(t *testing.T) {
			if got := ResetFields(tt.stepType); !slices.Equal(got, tt.want) {
				t.Errorf("ResetFields(%s) = %v, want %v", tt.stepType, got, tt.want)
			}
		})
	}
}

func TestResetStep_RegistrationKeepsMode(t *testing.T) {
	state, f := CreateFlow(AppState{}, "")
	reg := NewRegistrationStep(RegistrationManual)
	state = AddStep(state, f.ID, reg)
	state = UpdateStep(state, f.ID, reg.ID, func(s *Step) {
		s.Status = StatusComplete
		s.Registration.Credentials = oauth.ClientCredentials{"client_id": "x"}
	})
	next, _ := ResetStep(state, f.ID, StepRegistration)
	got, _ := FindFlow(next, f.ID)
	r := got.Steps[1].Registration
	if r.Mode != RegistrationManual || r.Credentials != nil {
		t.Errorf("registration = %+v", r)
	}
}

func TestResetStep_RefreshRecomputesTokens(t *testing.T) {
	state, f := CreateFlow(AppState{}, "")
	tok := NewStep(StepToken)
	r1 := NewStep(StepRefresh)
	r2 := NewStep(StepRefresh)
	state = AddStep(state, f.ID, tok)
	state = AddStep(state, f.ID, r1)
	state = AddStep(state, f.ID, r2)
	state = UpdateStep(state, f.ID, tok.ID, func(s *Step) {
		s.Status = StatusComplete
		s.Token.Tokens = oauth.TokenResponse{"access_token": "a0", "refresh_token": "r0", "id_token": "i0"}
	})
	state = UpdateStep(state, f.ID, r1.ID, func(s *Step) {
		s.Status = StatusComplete
		s.Refresh.Tokens = oauth.TokenResponse{"access_token": "a1"}
	})
	state = UpdateStep(state, f.ID, r2.ID, func(s *Step) {
		s.Status = StatusComplete
		s.Refresh.Tokens = oauth.TokenResponse{"access_token": "a2", "refresh_token": "r2"}
	})
	state = UpdateFlowState(state, f.ID, Accumulated{Tokens: oauth.TokenResponse{"access_token": "a2", "refresh_token": "r2", "id_token": "i0"}})

	next, ok := ResetStepAt(state, f.ID, 3)
	if !ok {
		t.Fatal("ResetStepAt failed")
	}
	got, _ := FindFlow(next, f.ID)
	if len(got.Steps) != 4 {
		t.Fatalf("len = %d, want 4", len(got.Steps))
	}
	if got.Tokens.AccessToken() != "a1" || got.Tokens.RefreshToken() != "r0" || got.Tokens.IDToken() != "i0" {
		t.Errorf("tokens = %v", got.Tokens)
	}
}

func TestResetStep_Missing(t *testing.T) {
	state, f := CreateFlow(AppState{}, "")
	if _, ok := ResetStep(state, f.ID, StepToken); ok {
		t.Error("expected failure for a step type not in the flow")
	}
	if _, ok := ResetStep(state, "missing", StepStart); ok {
		t.Error("expected failure for unknown flow")
	}
}

func TestTruncateAt(t *testing.T) {
	state, f := progressedFlow(t)
	next := TruncateAt(state, f.ID, 2, FieldTokens)
	got, _ := FindFlow(next, f.ID)
	if len(got.Steps) != 3 || got.Tokens != nil || got.Credentials == nil {
		t.Errorf("flow = %+v", got)
	}
}

func TestStepCloneIsDeep(t *testing.T) {
	s := NewStep(StepCallback)
	s.Callback.ExtraParams = map[string]string{"a": "1"}
	c := s.Clone()
	c.Callback.ExtraParams["a"] = "2"
	c.Callback.Code = "x"
	if s.Callback.ExtraParams["a"] != "1" || s.Callback.Code != "" {
		t.Error("Clone shares payload with the original")
	}
}
