package tool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/agentrun/logging"
	"github.com/hupe1980/agentrun/model"
)

// ErrDuplicateTool is returned when a tool name is registered twice.
var ErrDuplicateTool = errors.New("tool already registered")

// RegistryOptions configure a Registry.
type RegistryOptions struct {
	Logger logging.Logger
}

// Registry holds the tools available to one agent. It is mutated only during
// preparation (registering built-ins and MCP discoveries) and read-only while
// the agent runs, so lookups take an RLock. Registration order is preserved:
// models see tools in the order they were added.
type Registry struct {
	logger logging.Logger

	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty Registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{
		Logger: logging.NewNoOpLogger(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Registry{
		logger: opts.Logger,
		tools:  make(map[string]Tool),
	}
}

// Register adds a tool. Registering a name twice fails with ErrDuplicateTool.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if name == "" {
		return fmt.Errorf("tool name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}

	r.tools[name] = t
	r.order = append(r.order, name)

	r.logger.Debug("tool.registered", "tool", name)

	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns the function definitions for every registered tool, in
// registration order, ready to attach to a model request.
func (r *Registry) Definitions() []model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]model.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, model.NewToolDefinition(t.Name(), t.Description(), t.Parameters()))
	}
	return defs
}

// Cleanup releases every tool that holds external resources. All tools are
// attempted; failures are logged and joined into one error.
func (r *Registry) Cleanup(ctx context.Context) error {
	r.mu.RLock()
	tools := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.tools[name])
	}
	r.mu.RUnlock()

	var errs []error
	for _, t := range tools {
		cleaner, ok := t.(Cleaner)
		if !ok {
			continue
		}
		if err := cleaner.Cleanup(ctx); err != nil {
			r.logger.Warn("tool.cleanup.error", "tool", t.Name(), "error", err.Error())
			errs = append(errs, fmt.Errorf("cleanup %s: %w", t.Name(), err))
		}
	}
	return errors.Join(errs...)
}
