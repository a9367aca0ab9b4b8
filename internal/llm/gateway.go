package llm

import (
	"context"

	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/metrics"
)

// Gateway bundles the registry, tracker, selector, and executor behind the
// call surface the rest of the application consumes.
type Gateway struct {
	Registry *Registry
	Tracker  UsageTracker
	Selector *Selector
	Executor *Executor
	Stats    *metrics.ErrorStats
}

// NewGateway wires a gateway from configuration. The tracker is process-local;
// counters reset on restart.
func NewGateway(cfg *config.Config) (*Gateway, error) {
	registry, err := NewRegistryFromConfig(cfg.Models)
	if err != nil {
		return nil, err
	}

	tracker := NewMemoryTracker()
	stats := metrics.NewErrorStats()
	policy := PolicyFromConfig(cfg.Retry)

	return &Gateway{
		Registry: registry,
		Tracker:  tracker,
		Selector: NewSelector(registry, tracker),
		Executor: NewExecutor(policy, tracker, stats),
		Stats:    stats,
	}, nil
}

// SelectModel picks a model for a task.
func (g *Gateway) SelectModel(task TaskType) Selection {
	return g.Selector.Select(task)
}

// RegisterUse counts one request against a model's budgets.
func (g *Gateway) RegisterUse(m Model) {
	g.Tracker.RegisterUse(m)
}

// ExecuteWithRetry dispatches a backend call for a model under the retry policy.
func (g *Gateway) ExecuteWithRetry(ctx context.Context, m Model, call Call) (*Result, *ErrorResult) {
	return g.Executor.Do(ctx, m, call)
}
