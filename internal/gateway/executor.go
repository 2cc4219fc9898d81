package gateway

import (
	"context"
	"fmt"
	"sort"

	id "warden/pkg/domain"
)

// Executor is the capability that performs the actual privileged mutation
// for one action type. The gateway decides whether and when it runs; the
// executor only runs it. The returned snapshot becomes the audit entry's
// changes record, so executors should report what they actually did.
type Executor interface {
	Execute(ctx context.Context, descriptor id.ActionDescriptor) (map[string]any, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, descriptor id.ActionDescriptor) (map[string]any, error)

func (f ExecutorFunc) Execute(ctx context.Context, descriptor id.ActionDescriptor) (map[string]any, error) {
	return f(ctx, descriptor)
}

// ExecutorRegistry maps action types to their executors. Populated once at
// wiring time, read-only afterwards; no lock needed.
type ExecutorRegistry struct {
	executors map[id.ActionType]Executor
}

func NewExecutorRegistry() *ExecutorRegistry {
	return &ExecutorRegistry{executors: make(map[id.ActionType]Executor)}
}

// Register binds executor to actionType, replacing any previous binding.
func (r *ExecutorRegistry) Register(actionType id.ActionType, executor Executor) {
	r.executors[actionType] = executor
}

// Get returns the executor for actionType.
func (r *ExecutorRegistry) Get(actionType id.ActionType) (Executor, error) {
	executor, ok := r.executors[actionType]
	if !ok {
		return nil, fmt.Errorf("no executor registered for action type %q", actionType)
	}
	return executor, nil
}

// Known returns the registered action types, sorted.
func (r *ExecutorRegistry) Known() []id.ActionType {
	types := make([]id.ActionType, 0, len(r.executors))
	for actionType := range r.executors {
		types = append(types, actionType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
