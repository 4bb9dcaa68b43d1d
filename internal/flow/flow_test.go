package flow

import (
	"reflect"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/wadahiro/flowlens/internal/oauth"
)

func TestCreateFlow_DefaultNames(t *testing.T) {
	state := AppState{}
	state, f1 := CreateFlow(state, "")
	state, f2 := CreateFlow(state, "")

	if f1.Name != "Flow #1" || f2.Name != "Flow #2" {
		t.Errorf("names = %q, %q; want Flow #1, Flow #2", f1.Name, f2.Name)
	}
	if state.ActiveFlowID != f2.ID {
		t.Errorf("active = %q, want %q", state.ActiveFlowID, f2.ID)
	}
	if len(f1.Steps) != 1 || f1.Steps[0].Type != StepStart || f1.Steps[0].Status != StatusPending {
		t.Errorf("seed steps = %+v", f1.Steps)
	}
	if f1.Steps[0].Start == nil {
		t.Error("start payload should be set")
	}
}

func TestCreateFlow_DoesNotMutateInput(t *testing.T) {
	state, _ := CreateFlow(AppState{}, "a")
	before := state
	beforeLen := len(state.Flows)
	_, _ = CreateFlow(state, "b")
	if len(state.Flows) != beforeLen || state.ActiveFlowID != before.ActiveFlowID {
		t.Error("CreateFlow mutated its input")
	}
}

func TestRenameAndUpdateFlow(t *testing.T) {
	state, f := CreateFlow(AppState{}, "")
	renamed := RenameFlow(state, f.ID, "mine")
	got, _ := FindFlow(renamed, f.ID)
	if got.Name != "mine" {
		t.Errorf("name = %q", got.Name)
	}
	if got.LastModified.Before(f.LastModified) {
		t.Error("lastModified must not decrease")
	}
	orig, _ := FindFlow(state, f.ID)
	if orig.Name != "Flow #1" {
		t.Error("RenameFlow mutated its input")
	}

	if same := RenameFlow(state, "unknown", "x"); !reflect.DeepEqual(same, state) {
		t.Error("unknown id should be a no-op")
	}
}

func TestUpdateFlow_LastModifiedMonotonic(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	now = func() time.Time { return clock }
	defer func() { now = time.Now }()

	state, f := CreateFlow(AppState{}, "")
	clock = base.Add(-time.Hour) // clock goes backwards
	state = RenameFlow(state, f.ID, "x")
	got, _ := FindFlow(state, f.ID)
	if !got.LastModified.Equal(base) {
		t.Errorf("lastModified = %v, want %v", got.LastModified, base)
	}

	clock = base.Add(time.Minute)
	state = RenameFlow(state, f.ID, "y")
	got, _ = FindFlow(state, f.ID)
	if !got.LastModified.Equal(base.Add(time.Minute)) {
		t.Errorf("lastModified = %v", got.LastModified)
	}
}

func TestDeleteFlow(t *testing.T) {
	state, f1 := CreateFlow(AppState{}, "")
	state, f2 := CreateFlow(state, "")

	t.Run("active flow clears selection", func(t *testing.T) {
		s := DeleteFlow(state, f2.ID)
		if s.ActiveFlowID != "" || len(s.Flows) != 1 {
			t.Errorf("state = %+v", s)
		}
	})

	t.Run("inactive flow keeps selection", func(t *testing.T) {
		s := DeleteFlow(state, f1.ID)
		if s.ActiveFlowID != f2.ID || len(s.Flows) != 1 {
			t.Errorf("state = %+v", s)
		}
	})

	t.Run("forks are not cascaded", func(t *testing.T) {
		s, fork, ok := ForkFlow(state, f1.ID, 0, "")
		if !ok {
			t.Fatal("fork failed")
		}
		s = DeleteFlow(s, f1.ID)
		got, ok := FindFlow(s, fork.ID)
		if !ok || got.ParentFlowID != f1.ID {
			t.Errorf("fork should survive with a dangling parent: %+v", got)
		}
	})

	if len(state.Flows) != 2 {
		t.Error("DeleteFlow mutated its input")
	}
}

func TestSetActiveFlow(t *testing.T) {
	state, _ := CreateFlow(AppState{}, "")
	s := SetActiveFlow(state, "does-not-exist")
	if s.ActiveFlowID != "does-not-exist" {
		t.Error("SetActiveFlow should not check existence")
	}
	if _, ok := ActiveFlow(s); ok {
		t.Error("ActiveFlow should miss for an unknown id")
	}
	if s = SetActiveFlow(s, ""); s.ActiveFlowID != "" {
		t.Error("empty id should clear the selection")
	}
	if _, ok := ActiveFlow(s); ok {
		t.Error("ActiveFlow should miss with no selection")
	}

	s, f := CreateFlow(s, "second")
	s = SetActiveFlow(s, f.ID)
	if got, ok := ActiveFlow(s); !ok || got.ID != f.ID || got.Name != "second" {
		t.Errorf("ActiveFlow = %+v, %v", got, ok)
	}
}

func TestAddAndUpdateStep(t *testing.T) {
	state, f := CreateFlow(AppState{}, "")
	step := NewStep(StepDiscovery)
	s2 := AddStep(state, f.ID, step)

	got, _ := FindFlow(s2, f.ID)
	if len(got.Steps) != 2 || got.Steps[1].ID != step.ID {
		t.Fatalf("steps = %+v", got.Steps)
	}
	orig, _ := FindFlow(state, f.ID)
	if len(orig.Steps) != 1 {
		t.Error("AddStep mutated its input")
	}

	s3 := UpdateStep(s2, f.ID, step.ID, func(s *Step) {
		s.Status = StatusInProgress
		s.Discovery.Metadata = oauth.ServerMetadata{"issuer": "x"}
	})
	got, _ = FindFlow(s3, f.ID)
	if got.Steps[1].Status != StatusInProgress || got.Steps[1].Discovery.Metadata.Issuer() != "x" {
		t.Errorf("step = %+v", got.Steps[1])
	}
	prev, _ := FindFlow(s2, f.ID)
	if prev.Steps[1].Status != StatusPending || prev.Steps[1].Discovery.Metadata != nil {
		t.Error("UpdateStep mutated its input")
	}

	if same := UpdateStep(s2, f.ID, "missing", func(s *Step) { s.Status = StatusError }); !reflect.DeepEqual(same, s2) {
		t.Error("unknown step id should be a no-op")
	}
}

func TestCanTransition(t *testing.T) {
	valid := map[[2]Status]bool{
		{StatusPending, StatusInProgress}:  true,
		{StatusInProgress, StatusComplete}: true,
		{StatusInProgress, StatusError}:    true,
		{StatusComplete, StatusPending}:    true,
		{StatusError, StatusPending}:       true,
	}
	all := []Status{StatusPending, StatusInProgress, StatusComplete, StatusError}
	for _, from := range all {
		for _, to := range all {
			if got := CanTransition(from, to); got != valid[[2]Status{from, to}] {
				t.Errorf("CanTransition(%s, %s) = %v", from, to, got)
			}
		}
	}
}

func TestNewID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for range 1000 {
		id := NewID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestSortedByLastModified(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	state := AppState{Flows: []Flow{
		{ID: "a", LastModified: base},
		{ID: "b", LastModified: base.Add(2 * time.Minute)},
		{ID: "c", LastModified: base.Add(time.Minute)},
	}}
	got := SortedByLastModified(state)
	if got[0].ID != "b" || got[1].ID != "c" || got[2].ID != "a" {
		t.Errorf("order = %s %s %s", got[0].ID, got[1].ID, got[2].ID)
	}
	if state.Flows[0].ID != "a" {
		t.Error("SortedByLastModified mutated its input")
	}
}

func TestParseStepType(t *testing.T) {
	if st, err := ParseStepType("refresh"); err != nil || st != StepRefresh {
		t.Errorf("ParseStepType(refresh) = %v, %v", st, err)
	}
	if _, err := ParseStepType("bogus"); err == nil {
		t.Error("expected error for unknown type")
	}
}

// progressedFlow builds a flow that went through start..token with accumulated state.
func progressedFlow(t testing.TB) (AppState, Flow) {
	state, f := CreateFlow(AppState{}, "")
	types := []StepType{StepDiscovery, StepRegistration, StepAuthorization, StepCallback, StepToken}
	for _, st := range types {
		state = AddStep(state, f.ID, NewStep(st))
	}
	url := "https://idp.example.com"
	state = UpdateFlowState(state, f.ID, Accumulated{
		ServerURL:   &url,
		Metadata:    oauth.ServerMetadata{"issuer": url},
		Credentials: oauth.ClientCredentials{"client_id": "c"},
		Tokens:      oauth.TokenResponse{"access_token": "at", "refresh_token": "rt"},
	})
	f, _ = FindFlow(state, f.ID)
	for _, s := range f.Steps {
		state = UpdateStep(state, f.ID, s.ID, func(s *Step) { s.Status = StatusComplete })
	}
	f, _ = FindFlow(state, f.ID)
	return state, f
}

func TestForkFlow_Properties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		state, src := progressedFlow(t)
		i := rapid.IntRange(0, len(src.Steps)-1).Draw(rt, "stepIndex")

		next, fork, ok := ForkFlow(state, src.ID, i, "")
		if !ok {
			rt.Fatalf("fork at %d failed", i)
		}
		if len(fork.Steps) != i+1 {
			rt.Fatalf("len = %d, want %d", len(fork.Steps), i+1)
		}
		srcIDs := make(map[string]bool)
		for _, s := range src.Steps {
			srcIDs[s.ID] = true
		}
		for j, s := range fork.Steps {
			if srcIDs[s.ID] {
				rt.Fatalf("step %d shares id with the source", j)
			}
			if s.Type != src.Steps[j].Type {
				rt.Fatalf("step %d type = %s, want %s", j, s.Type, src.Steps[j].Type)
			}
			if j < i && s.Status != src.Steps[j].Status {
				rt.Fatalf("step %d status changed", j)
			}
		}
		if fork.Steps[i].Status != StatusPending {
			rt.Fatalf("fork point status = %s", fork.Steps[i].Status)
		}
		if fork.ParentFlowID != src.ID || fork.ParentStepIndex == nil || *fork.ParentStepIndex != i {
			rt.Fatalf("provenance = %q %v", fork.ParentFlowID, fork.ParentStepIndex)
		}
		if next.ActiveFlowID != fork.ID || len(next.Flows) != len(state.Flows)+1 {
			rt.Fatal("fork should be appended and active")
		}

		// accumulated state is not aliased
		fork.Tokens["access_token"] = "changed"
		fork.Metadata["issuer"] = "changed"
		again, _ := FindFlow(state, src.ID)
		if again.Tokens.AccessToken() != "at" || again.Metadata.Issuer() != "https://idp.example.com" {
			rt.Fatal("fork shares accumulated state with its source")
		}
	})
}

func TestForkFlow_Invalid(t *testing.T) {
	state, f := CreateFlow(AppState{}, "")
	for _, tt := range []struct {
		name   string
		flowID string
		index  int
	}{
		{"negative index", f.ID, -1},
		{"index past end", f.ID, 1},
		{"unknown flow", "missing", 0},
	} {
		t.Run(tt.name, func(t *testing.T) {
			next, _, ok := ForkFlow(state, tt.flowID, tt.index, "")
			if ok {
				t.Fatal("expected failure")
			}
			if !reflect.DeepEqual(next, state) {
				t.Error("state should be unchanged")
			}
		})
	}
}

func TestForkFlow_DefaultName(t *testing.T) {
	state, f := CreateFlow(AppState{}, "")
	_, fork, _ := ForkFlow(state, f.ID, 0, "")
	if fork.Name != "Flow #2" {
		t.Errorf("name = %q", fork.Name)
	}
	_, named, _ := ForkFlow(state, f.ID, 0, "what if")
	if named.Name != "what if" {
		t.Errorf("name = %q", named.Name)
	}
}
