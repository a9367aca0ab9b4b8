package llm

import (
	"fmt"
	"sort"

	"github.com/modelgate/modelgate/internal/config"
	. "github.com/modelgate/modelgate/internal/logging"
)

// Registry holds the static candidate list per task type.
// Models are registered once at startup and read-only thereafter,
// so lookups need no locking.
type Registry struct {
	models []Model             // registration order
	byID   map[string]int      // model ID -> index into models
	byTask map[TaskType][]int  // task -> candidate indexes, registration order
	sealed bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]int),
		byTask: make(map[TaskType][]int),
	}
}

// NewRegistryFromConfig builds a registry from the configured model list.
func NewRegistryFromConfig(models []config.ModelConfig) (*Registry, error) {
	r := NewRegistry()
	for _, mc := range models {
		tasks := make([]TaskType, 0, len(mc.Tasks))
		for _, t := range mc.Tasks {
			tasks = append(tasks, TaskType(t))
		}
		m := Model{
			ID:            mc.ID,
			Provider:      mc.Provider,
			DisplayName:   mc.DisplayName,
			Priority:      mc.Priority,
			RPM:           mc.RPM,
			RPD:           mc.RPD,
			CredentialEnv: mc.CredentialEnv,
		}
		if err := r.Register(m, tasks...); err != nil {
			return nil, err
		}
	}
	r.Seal()
	return r, nil
}

// Register adds a model as a candidate for the given task types.
func (r *Registry) Register(m Model, tasks ...TaskType) error {
	if r.sealed {
		return fmt.Errorf("registry is sealed")
	}
	if m.ID == "" {
		return fmt.Errorf("model ID is required")
	}
	if _, exists := r.byID[m.ID]; exists {
		return fmt.Errorf("duplicate model ID: %s", m.ID)
	}

	idx := len(r.models)
	r.models = append(r.models, m)
	r.byID[m.ID] = idx
	for _, t := range tasks {
		r.byTask[t] = append(r.byTask[t], idx)
	}

	L_debug("llm: model registered", "id", m.ID, "provider", m.Provider, "priority", m.Priority)
	return nil
}

// Seal marks registration complete. Further Register calls fail.
func (r *Registry) Seal() {
	r.sealed = true
}

// Lookup returns the model with the given ID.
func (r *Registry) Lookup(id string) (Model, bool) {
	idx, ok := r.byID[id]
	if !ok {
		return Model{}, false
	}
	return r.models[idx], true
}

// Candidates returns the models for a task ordered best-first:
// ascending priority rank, registration order breaking ties.
func (r *Registry) Candidates(task TaskType) []Model {
	idxs := r.byTask[task]
	out := make([]Model, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, r.models[i])
	}
	// Stable sort keeps registration order within equal ranks.
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Priority < out[b].Priority
	})
	return out
}

// Default returns the lowest-priority model for a task, used as the
// degraded fallback when no candidate is admissible.
func (r *Registry) Default(task TaskType) (Model, bool) {
	candidates := r.Candidates(task)
	if len(candidates) == 0 {
		return Model{}, false
	}
	return candidates[len(candidates)-1], true
}

// Tasks returns all task types with registered candidates.
func (r *Registry) Tasks() []TaskType {
	tasks := make([]TaskType, 0, len(r.byTask))
	for t := range r.byTask {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(a, b int) bool { return tasks[a] < tasks[b] })
	return tasks
}
