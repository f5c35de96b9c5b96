// Package agentrun provides a high-level façade over the task-execution
// engine. Most applications interact with this package by:
//  1. Creating an Engine via New() with a model client (and optionally a
//     sandbox factory, extra tools and MCP clients)
//  2. Creating tasks (CreateTask) — execution proceeds asynchronously
//  3. Observing them via GetTask / SubscribeTaskEvents
//  4. Terminating cooperatively via TerminateTask when needed
//
// The façade delegates lifecycle management to task.Registry while keeping
// setup ergonomics concise. All defaults are safe for local development;
// production deployments typically supply a sqlite store path and a
// structured logger.
package agentrun

import (
	"context"

	"github.com/hupe1980/agentrun/agent"
	"github.com/hupe1980/agentrun/bus"
	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/logging"
	"github.com/hupe1980/agentrun/model"
	"github.com/hupe1980/agentrun/sandbox"
	"github.com/hupe1980/agentrun/task"
	"github.com/hupe1980/agentrun/tool"
)

// Options configure the Engine.
type Options struct {
	// MaxSteps bounds the Think/Act cycles per task. Zero keeps the agent
	// default.
	MaxSteps int

	// DuplicateThreshold tunes stuck-loop sensitivity. Zero keeps the agent
	// default.
	DuplicateThreshold int

	// MaxObserve caps tool observations written to memory. Zero keeps the
	// agent default.
	MaxObserve int

	// SystemPrompt overrides the default system prompt.
	SystemPrompt string

	// SandboxFactory, when set, gives every task an isolated sandbox and
	// the sandbox-backed built-in tools. Defaults to local sandboxes under
	// the system temp directory.
	SandboxFactory sandbox.Factory

	// Tools are registered for every task in addition to the built-ins.
	Tools []tool.Tool

	// MCPCallers are connected MCP clients whose tools every task may use.
	MCPCallers []tool.MCPCaller

	// Store persists task snapshots and histories.
	Store *task.Store

	Logger logging.Logger
}

// Engine is the external interface of the task-execution core: a registry of
// agents behind four operations.
type Engine struct {
	registry *task.Registry
	manager  *sandbox.Manager
}

// New creates an Engine that runs every task against the given model.
func New(llm model.Model, optFns ...func(o *Options)) *Engine {
	opts := Options{
		Logger: logging.NewNoOpLogger(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	factory := opts.SandboxFactory
	if factory == nil {
		factory = func(ctx context.Context, id string) (sandbox.Sandbox, error) {
			return sandbox.NewLocal(id)
		}
	}
	manager := sandbox.NewManager(factory, func(o *sandbox.ManagerOptions) {
		o.Logger = opts.Logger
	})

	agentFactory := func(req task.CreateRequest, b *bus.Bus) (*agent.Agent, error) {
		return agent.New(req.ID, llm, func(o *agent.Options) {
			o.Bus = b
			o.SandboxManager = manager
			o.Tools = opts.Tools
			o.MCPCallers = opts.MCPCallers
			o.Logger = opts.Logger
			if req.MaxSteps > 0 {
				o.MaxSteps = req.MaxSteps
			} else if opts.MaxSteps > 0 {
				o.MaxSteps = opts.MaxSteps
			}
			if opts.DuplicateThreshold > 0 {
				o.DuplicateThreshold = opts.DuplicateThreshold
			}
			if opts.MaxObserve > 0 {
				o.MaxObserve = opts.MaxObserve
			}
			if opts.SystemPrompt != "" {
				o.SystemPrompt = opts.SystemPrompt
			}
		}), nil
	}

	registry := task.New(agentFactory, func(o *task.Options) {
		o.Store = opts.Store
		o.Logger = opts.Logger
	})

	return &Engine{registry: registry, manager: manager}
}

// Registry exposes the underlying task registry, e.g. for mounting the HTTP
// surface.
func (e *Engine) Registry() *task.Registry { return e.registry }

// CreateTask starts a task and returns its id. Execution proceeds
// asynchronously; observe progress via SubscribeTaskEvents.
func (e *Engine) CreateTask(ctx context.Context, req task.CreateRequest) (string, error) {
	return e.registry.Create(ctx, req)
}

// GetTask returns a snapshot of the task's status, history and outcome.
func (e *Engine) GetTask(ctx context.Context, taskID string) (*task.Task, error) {
	return e.registry.Get(ctx, taskID)
}

// SubscribeTaskEvents returns the task's event stream: recorded history
// first, then live events, closed once the task is terminal.
func (e *Engine) SubscribeTaskEvents(ctx context.Context, taskID string) (<-chan core.EventItem, error) {
	return e.registry.Subscribe(ctx, taskID)
}

// TerminateTask requests cooperative termination of the task.
func (e *Engine) TerminateTask(taskID string) error {
	return e.registry.Terminate(taskID)
}

// Close terminates all tasks, waits for their goroutines (bounded by ctx)
// and releases every sandbox.
func (e *Engine) Close(ctx context.Context) error {
	err := e.registry.Close(ctx)
	if rerr := e.manager.ReleaseAll(ctx); rerr != nil && err == nil {
		err = rerr
	}
	return err
}
