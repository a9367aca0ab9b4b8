package llm

import (
	"testing"
	"time"
)

func buildRegistry(t *testing.T, models ...Model) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, m := range models {
		if err := r.Register(m, TaskChat); err != nil {
			t.Fatalf("Register(%s) failed: %v", m.ID, err)
		}
	}
	r.Seal()
	return r
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Model{ID: "m1"}, TaskChat); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := r.Register(Model{ID: "m1"}, TaskChat); err == nil {
		t.Error("duplicate ID should be rejected")
	}
}

func TestRegistrySealed(t *testing.T) {
	r := NewRegistry()
	r.Seal()
	if err := r.Register(Model{ID: "m1"}, TaskChat); err == nil {
		t.Error("sealed registry should reject registration")
	}
}

func TestCandidatesOrderedByPriority(t *testing.T) {
	r := buildRegistry(t,
		Model{ID: "second", Priority: 2},
		Model{ID: "first", Priority: 1},
		Model{ID: "third", Priority: 3},
	)

	got := r.Candidates(TaskChat)
	want := []string{"first", "second", "third"}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("candidates[%d] = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestPriorityTieBrokenByRegistrationOrder(t *testing.T) {
	r := buildRegistry(t,
		Model{ID: "registered-first", Priority: 1},
		Model{ID: "registered-second", Priority: 1},
	)

	got := r.Candidates(TaskChat)
	if got[0].ID != "registered-first" {
		t.Errorf("first candidate = %s, registration order should break ties", got[0].ID)
	}
}

func TestSelectPicksBestAdmissible(t *testing.T) {
	r := buildRegistry(t,
		Model{ID: "best", Priority: 1, RPM: 10, RPD: 100},
		Model{ID: "fallback", Priority: 2, RPM: 10, RPD: 100},
	)
	tracker := NewMemoryTracker()
	s := NewSelector(r, tracker)

	sel := s.Select(TaskChat)
	if sel.Model.ID != "best" {
		t.Errorf("selected %s, want best", sel.Model.ID)
	}
	if sel.Degraded {
		t.Error("selection should not be degraded")
	}
}

func TestSelectSkipsExhaustedModel(t *testing.T) {
	r := buildRegistry(t,
		Model{ID: "best", Priority: 1, RPM: 1, RPD: 100},
		Model{ID: "fallback", Priority: 2, RPM: 10, RPD: 100},
	)
	tracker := NewMemoryTracker()
	tracker.RegisterUse(Model{ID: "best", RPM: 1, RPD: 100})

	s := NewSelector(r, tracker)
	sel := s.Select(TaskChat)
	if sel.Model.ID != "fallback" {
		t.Errorf("selected %s, want fallback", sel.Model.ID)
	}
	if sel.Degraded {
		t.Error("fallback within the chain is not degraded")
	}
}

func TestSelectSkipsModelWithoutCredentials(t *testing.T) {
	t.Setenv("MODELGATE_TEST_KEY", "")
	r := buildRegistry(t,
		Model{ID: "needs-key", Priority: 1, CredentialEnv: "MODELGATE_TEST_KEY"},
		Model{ID: "local", Priority: 2},
	)
	s := NewSelector(r, NewMemoryTracker())

	sel := s.Select(TaskChat)
	if sel.Model.ID != "local" {
		t.Errorf("selected %s, want local", sel.Model.ID)
	}
}

func TestSelectCredentialPresent(t *testing.T) {
	t.Setenv("MODELGATE_TEST_KEY", "sk-test")
	r := buildRegistry(t,
		Model{ID: "needs-key", Priority: 1, CredentialEnv: "MODELGATE_TEST_KEY"},
		Model{ID: "local", Priority: 2},
	)
	s := NewSelector(r, NewMemoryTracker())

	sel := s.Select(TaskChat)
	if sel.Model.ID != "needs-key" {
		t.Errorf("selected %s, want needs-key", sel.Model.ID)
	}
}

func TestSelectDegradedWhenNothingAdmissible(t *testing.T) {
	r := buildRegistry(t,
		Model{ID: "a", Priority: 1},
		Model{ID: "b", Priority: 2},
	)
	tracker := NewMemoryTracker()
	until := time.Now().Add(time.Hour)
	tracker.Blacklist(Model{ID: "a"}, "test", until)
	tracker.Blacklist(Model{ID: "b"}, "test", until)

	s := NewSelector(r, tracker)
	sel := s.Select(TaskChat)
	if !sel.Degraded {
		t.Fatal("selection should be degraded")
	}
	if sel.Model.ID != "b" {
		t.Errorf("degraded default = %s, want lowest-priority b", sel.Model.ID)
	}
}

func TestSelectUnknownTask(t *testing.T) {
	r := buildRegistry(t, Model{ID: "a", Priority: 1})
	s := NewSelector(r, NewMemoryTracker())

	sel := s.Select(TaskType("nonexistent"))
	if !sel.Degraded {
		t.Error("unknown task should be degraded")
	}
	if sel.Model.ID != "" {
		t.Errorf("unknown task should yield no model, got %s", sel.Model.ID)
	}
}

func TestNextAvailableSkipsExcluded(t *testing.T) {
	r := buildRegistry(t,
		Model{ID: "best", Priority: 1},
		Model{ID: "next", Priority: 2},
	)
	s := NewSelector(r, NewMemoryTracker())

	sel := s.NextAvailable(TaskChat, Model{ID: "best"})
	if sel.Model.ID != "next" {
		t.Errorf("selected %s, want next", sel.Model.ID)
	}
}
