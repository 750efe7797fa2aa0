package backtester

import (
	"sync"

	"go.uber.org/zap"
)

// StrategyHoldToExit is the only strategy implemented today. The request's
// strategy field is accepted and resolved through the registry so future
// evaluators slot in without touching the runner.
const StrategyHoldToExit = "hold-to-exit"

// Registry maps strategy names to evaluator implementations
type Registry struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	evaluators map[string]Evaluator
	fallback   string
}

// NewRegistry creates a registry with the default evaluator registered.
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{
		logger:     logger,
		evaluators: make(map[string]Evaluator),
		fallback:   StrategyHoldToExit,
	}
	r.Register(StrategyHoldToExit, NewHoldToExitEvaluator(logger))
	return r
}

// Register adds an evaluator under a strategy name.
func (r *Registry) Register(name string, evaluator Evaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evaluators[name] = evaluator
}

// List returns the registered strategy names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.evaluators))
	for name := range r.evaluators {
		names = append(names, name)
	}
	return names
}

// Resolve returns the evaluator for a strategy name. Unknown or empty names
// fall back to the default evaluator rather than failing the run.
func (r *Registry) Resolve(name string) Evaluator {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if ev, ok := r.evaluators[name]; ok {
		return ev
	}
	if name != "" {
		r.logger.Debug("Unknown strategy, using default", zap.String("strategy", name))
	}
	return r.evaluators[r.fallback]
}
