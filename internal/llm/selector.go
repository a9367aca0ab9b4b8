package llm

import (
	. "github.com/modelgate/modelgate/internal/logging"
)

// Selection is the outcome of picking a model for a task.
type Selection struct {
	Model    Model
	Degraded bool // no candidate was admissible; Model is the last-resort default
}

// Selector picks the best admissible model for a task using the registry's
// candidate order and the usage tracker's admission checks.
type Selector struct {
	registry *Registry
	tracker  UsageTracker
}

// NewSelector creates a selector over the given registry and tracker.
func NewSelector(registry *Registry, tracker UsageTracker) *Selector {
	return &Selector{registry: registry, tracker: tracker}
}

// Select returns the first candidate with credentials present and usage
// headroom. When no candidate qualifies it returns the lowest-priority
// default flagged as degraded - selection never fails for the caller.
func (s *Selector) Select(task TaskType) Selection {
	return s.pick(task, "")
}

// NextAvailable is Select but skips one model, used when rotating away from
// a just-failed model.
func (s *Selector) NextAvailable(task TaskType, excluding Model) Selection {
	return s.pick(task, excluding.ID)
}

func (s *Selector) pick(task TaskType, excludeID string) Selection {
	candidates := s.registry.Candidates(task)

	for _, m := range candidates {
		if m.ID == excludeID {
			continue
		}
		if !m.HasCredentials() {
			L_debug("llm: skipping model, no credentials", "model", m.ID, "task", task)
			continue
		}
		if !s.tracker.CanUse(m) {
			L_debug("llm: skipping model, usage exhausted", "model", m.ID, "task", task)
			continue
		}
		L_debug("llm: model selected", "model", m.ID, "task", task)
		return Selection{Model: m}
	}

	// Degraded path: last-resort default rather than failing outright.
	fallback, ok := s.registry.Default(task)
	if !ok {
		L_error("llm: no models registered for task", "task", task)
		return Selection{Degraded: true}
	}
	L_warn("llm: no admissible model, using degraded default", "model", fallback.ID, "task", task)
	return Selection{Model: fallback, Degraded: true}
}
