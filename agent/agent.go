package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/agentrun/bus"
	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/logging"
	"github.com/hupe1980/agentrun/memory"
	"github.com/hupe1980/agentrun/model"
	"github.com/hupe1980/agentrun/sandbox"
	"github.com/hupe1980/agentrun/tool"
)

// ErrNotIdle is returned when Run is called while a run is already in
// progress or the agent finished without being reset.
var ErrNotIdle = errors.New("agent is not idle")

// Default limits applied when options leave them unset.
const (
	DefaultMaxSteps           = 20
	DefaultDuplicateThreshold = 2
	DefaultMaxObserve         = 10000
)

// Options configure an Agent.
type Options struct {
	// MaxSteps bounds the number of Think/Act cycles per run.
	MaxSteps int

	// DuplicateThreshold is the number of exactly equal assistant responses
	// that triggers stuck-loop handling.
	DuplicateThreshold int

	// MaxObserve caps the length (in characters) of a tool observation
	// before it is written to memory.
	MaxObserve int

	// ToolChoice is the tool-choice mode sent with every Think call.
	ToolChoice model.ToolChoice

	// SpecialTools lists tool names whose completion finishes the run.
	// Matching is case-insensitive. Defaults to the terminate tool.
	SpecialTools []string

	// SystemPrompt seeds the transcript. Defaults to DefaultSystemPrompt.
	SystemPrompt string

	// NextStepPrompt is the template rendered before every Think phase.
	// Defaults to DefaultNextStepPrompt.
	NextStepPrompt string

	// PlanPrompt, when set, enables an initial planning model call whose
	// answer is stored in the transcript as a user message.
	PlanPrompt string

	// SummaryPrompt, when set, enables a model call producing a short task
	// title emitted as the lifecycle summary event.
	SummaryPrompt string

	// Bus receives every lifecycle event. When nil, events are dropped.
	Bus *bus.Bus

	// Memory overrides the default bounded transcript.
	Memory *memory.Memory

	// SandboxManager, when set, lets Prepare acquire a sandbox keyed by the
	// agent name and register the sandbox-backed built-in tools.
	SandboxManager *sandbox.Manager

	// Tools are registered during Prepare in addition to the built-ins.
	Tools []tool.Tool

	// MCPCallers are connected MCP clients whose tools are discovered and
	// registered (namespaced) during Prepare.
	MCPCallers []tool.MCPCaller

	Logger logging.Logger
}

// Agent drives the Think/Act loop for one task. It is created per request
// and must not be reused across concurrent runs: Run rejects any state but
// Idle. The termination flag may be set from any goroutine; everything else
// is owned by the run loop.
type Agent struct {
	name string
	llm  model.Model

	maxSteps           int
	duplicateThreshold int

	systemPrompt   string
	nextStepPrompt string
	planPrompt     string
	summaryPrompt  string

	bus            *bus.Bus
	memory         *memory.Memory
	registry       *tool.Registry
	orch           *orchestrator
	sandboxManager *sandbox.Manager
	sandbox        sandbox.Sandbox
	extraTools     []tool.Tool
	mcpCallers     []tool.MCPCaller
	logger         logging.Logger

	shouldTerminate atomic.Bool

	mu           sync.Mutex
	state        core.AgentState
	step         int
	prepared     bool
	nudgePending bool
}

// New creates an Agent in the Idle state.
func New(name string, llm model.Model, optFns ...func(o *Options)) *Agent {
	opts := Options{
		MaxSteps:           DefaultMaxSteps,
		DuplicateThreshold: DefaultDuplicateThreshold,
		MaxObserve:         DefaultMaxObserve,
		ToolChoice:         model.ToolChoiceAuto,
		SpecialTools:       []string{tool.TerminateToolName},
		SystemPrompt:       DefaultSystemPrompt,
		NextStepPrompt:     DefaultNextStepPrompt,
		Logger:             logging.NewNoOpLogger(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Memory == nil {
		opts.Memory = memory.New()
	}

	a := &Agent{
		name:               name,
		llm:                llm,
		maxSteps:           opts.MaxSteps,
		duplicateThreshold: opts.DuplicateThreshold,
		systemPrompt:       opts.SystemPrompt,
		nextStepPrompt:     opts.NextStepPrompt,
		planPrompt:         opts.PlanPrompt,
		summaryPrompt:      opts.SummaryPrompt,
		bus:                opts.Bus,
		memory:             opts.Memory,
		registry:           tool.NewRegistry(func(o *tool.RegistryOptions) { o.Logger = opts.Logger }),
		sandboxManager:     opts.SandboxManager,
		extraTools:         opts.Tools,
		mcpCallers:         opts.MCPCallers,
		logger:             opts.Logger,
		state:              core.StateIdle,
	}

	a.orch = &orchestrator{
		agent:        a,
		toolChoice:   opts.ToolChoice,
		specialTools: opts.SpecialTools,
		maxObserve:   opts.MaxObserve,
	}

	return a
}

// Name returns the agent's name, which doubles as its sandbox id.
func (a *Agent) Name() string { return a.name }

// State returns the current lifecycle state.
func (a *Agent) State() core.AgentState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Step returns the current step counter.
func (a *Agent) Step() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.step
}

// Memory exposes the transcript for observers.
func (a *Agent) Memory() *memory.Memory { return a.memory }

// Registry exposes the tool registry.
func (a *Agent) Registry() *tool.Registry { return a.registry }

// Sandbox returns the sandbox handle acquired by Prepare, or nil.
func (a *Agent) Sandbox() sandbox.Sandbox {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sandbox
}

// Terminate requests cooperative termination. It may be called from any
// goroutine and is idempotent. The flag is observed between Think and Act
// and at the top of the run loop; in-flight model or tool calls are never
// aborted.
func (a *Agent) Terminate() {
	if a.shouldTerminate.CompareAndSwap(false, true) {
		a.emit(core.EventLifecycleTerminating, nil)
		a.logger.Info("agent.terminating", "agent", a.name)
	}
}

// Terminated reports whether termination was requested.
func (a *Agent) Terminated() bool { return a.shouldTerminate.Load() }

// Run executes the task request. It transitions Idle to Running, prepares
// resources, then loops Think/Act steps until the run finishes, termination
// is requested, or the step budget is exhausted. Exhausting the budget
// resets the agent to Idle (resumable), which is a policy outcome rather
// than a failure. Any error escaping the lifecycle's own code path moves the
// agent to Error and propagates.
func (a *Agent) Run(ctx context.Context, request string) (string, error) {
	a.mu.Lock()
	if a.state != core.StateIdle {
		state := a.state
		a.mu.Unlock()
		return "", fmt.Errorf("%w: state is %s", ErrNotIdle, state)
	}
	a.mu.Unlock()

	a.emit(core.EventLifecycleStart, map[string]any{"request": request})

	if err := a.Prepare(ctx); err != nil {
		a.setState(core.StateError)
		return "", fmt.Errorf("prepare agent %q: %w", a.name, err)
	}

	a.summarize(ctx, request)

	if request != "" {
		a.addMessage(core.NewUserMessage(request))
	}

	if err := a.plan(ctx); err != nil {
		a.setState(core.StateError)
		return "", fmt.Errorf("plan: %w", err)
	}

	a.setState(core.StateRunning)

	results, runErr := a.loop(ctx)
	if runErr != nil {
		a.setState(core.StateError)
		return "", runErr
	}

	output := "No steps executed"
	if len(results) > 0 {
		output = strings.Join(results, "\n")
	}

	totals := map[string]any{
		"result":                  output,
		"total_input_tokens":      a.llm.TotalInputTokens(),
		"total_completion_tokens": a.llm.TotalCompletionTokens(),
	}

	if a.Terminated() {
		a.setState(core.StateFinished)
		a.emit(core.EventLifecycleTerminated, totals)
	} else {
		a.emit(core.EventLifecycleComplete, totals)
	}

	return output, nil
}

// loop runs steps until a terminal condition. It returns the per-step result
// lines; an error is returned only for failures in the lifecycle itself.
func (a *Agent) loop(ctx context.Context) ([]string, error) {
	var results []string

	for a.Step() < a.maxSteps && a.State() == core.StateRunning {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		if a.Terminated() {
			break
		}

		a.incrementStep()

		res := a.runStep(ctx)
		results = append(results, fmt.Sprintf("Step %d: %s", a.Step(), res.Result))

		a.checkStuck()
	}

	if a.Step() >= a.maxSteps && a.State() == core.StateRunning && !a.Terminated() {
		n := a.maxSteps
		a.resetStep()
		a.setState(core.StateIdle)
		a.emit(core.EventStepMaxReached, map[string]any{"max_steps": n})
		results = append(results, fmt.Sprintf("Terminated: Reached max steps (%d)", n))
	}

	return results, nil
}

// Prepare acquires the sandbox (idempotent get-or-create), seeds the system
// prompt and registers built-in, extra and MCP-discovered tools. It runs at
// most once per agent.
func (a *Agent) Prepare(ctx context.Context) error {
	a.mu.Lock()
	if a.prepared {
		a.mu.Unlock()
		return nil
	}
	a.prepared = true
	a.mu.Unlock()

	a.emit(core.EventPrepareStart, nil)

	if a.sandboxManager != nil {
		sb, err := a.sandboxManager.GetOrCreate(ctx, a.name)
		if err != nil {
			return err
		}
		a.mu.Lock()
		a.sandbox = sb
		a.mu.Unlock()
	}

	if a.systemPrompt != "" {
		a.addMessage(core.NewSystemMessage(a.systemPrompt))
	}

	if err := a.registerTools(ctx); err != nil {
		return err
	}

	a.emit(core.EventPrepareComplete, map[string]any{"tools": a.registry.Names()})

	return nil
}

func (a *Agent) registerTools(ctx context.Context) error {
	tools := []tool.Tool{tool.NewTerminate()}

	if sb := a.Sandbox(); sb != nil {
		tools = append(tools, tool.NewBash(sb), tool.NewFilesystem(sb), tool.NewTerminal(sb))
	}
	tools = append(tools, a.extraTools...)

	for _, t := range tools {
		if err := a.registry.Register(t); err != nil {
			return err
		}
	}

	for _, caller := range a.mcpCallers {
		if _, err := tool.RegisterMCPTools(ctx, a.registry, caller, a.logger); err != nil {
			return err
		}
	}

	return nil
}

// summarize asks the model for a short task title. Failures are logged and
// otherwise ignored; a missing summary never blocks the run.
func (a *Agent) summarize(ctx context.Context, request string) {
	if a.summaryPrompt == "" || request == "" {
		return
	}

	resp, err := a.llm.Chat(ctx, &model.Request{
		Messages: []core.Message{
			core.NewSystemMessage(a.summaryPrompt),
			core.NewUserMessage(request),
		},
		ToolChoice: model.ToolChoiceNone,
	})
	if err != nil {
		a.logger.Warn("agent.summary.error", "agent", a.name, "error", err.Error())
		return
	}

	a.emit(core.EventLifecycleSummary, map[string]any{"summary": strings.TrimSpace(resp.Content)})
}

// plan runs the optional planning phase and stores the plan in the
// transcript as a user message.
func (a *Agent) plan(ctx context.Context) error {
	if a.planPrompt == "" {
		return nil
	}

	a.emit(core.EventPlanStart, nil)

	msgs := append(a.memory.Messages(), core.NewUserMessage(a.planPrompt))
	resp, err := a.llm.Chat(ctx, &model.Request{Messages: msgs, ToolChoice: model.ToolChoiceNone})
	if err != nil {
		return err
	}

	plan := strings.TrimSpace(resp.Content)
	if plan != "" {
		a.addMessage(core.NewUserMessage("Plan:\n" + plan))
	}

	a.emit(core.EventPlanComplete, map[string]any{"plan": plan})

	return nil
}

// checkStuck counts prior assistant messages whose content exactly equals
// the last assistant message. Reaching the duplicate threshold emits one
// stuck-detected event for this step and queues a strategy nudge for the
// next Think phase. Textually different but semantically equal responses
// are not caught.
func (a *Agent) checkStuck() {
	if a.duplicateThreshold <= 0 {
		return
	}

	last, ok := a.memory.LastAssistantMessage()
	if !ok || last.Content == "" {
		return
	}

	duplicates := 0
	msgs := a.memory.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		if msg.Role != core.RoleAssistant {
			continue
		}
		if msg.Content == last.Content {
			duplicates++
		}
	}

	// The last message itself is part of the scan.
	if duplicates-1 < a.duplicateThreshold {
		return
	}

	a.emit(core.EventStuckDetected, map[string]any{
		"content":    last.Content,
		"duplicates": duplicates - 1,
	})
	a.logger.Warn("agent.stuck_detected", "agent", a.name, "step", a.Step())

	a.mu.Lock()
	a.nudgePending = true
	a.mu.Unlock()

	a.emit(core.EventStuckHandled, map[string]any{"nudge": stuckNudge})
}

// nextStepPromptText renders the per-step prompt, prepending the stuck nudge
// when one is queued.
func (a *Agent) nextStepPromptText() (string, error) {
	a.mu.Lock()
	nudge := a.nudgePending
	a.nudgePending = false
	step := a.step
	a.mu.Unlock()

	rendered, err := renderPrompt(a.nextStepPrompt, PromptState{
		MaxSteps:       a.maxSteps,
		CurrentStep:    step,
		RemainingSteps: a.maxSteps - step,
	})
	if err != nil {
		return "", err
	}

	if nudge {
		rendered = stuckNudge + "\n" + rendered
	}
	return rendered, nil
}

// Cleanup releases tool resources and the sandbox. Call it once the task's
// terminal event has fired.
func (a *Agent) Cleanup(ctx context.Context) error {
	var errs []error

	if err := a.registry.Cleanup(ctx); err != nil {
		errs = append(errs, err)
	}

	if a.sandboxManager != nil && a.Sandbox() != nil {
		if err := a.sandboxManager.Release(ctx, a.name); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (a *Agent) setState(s core.AgentState) {
	a.mu.Lock()
	prev := a.state
	a.state = s
	a.mu.Unlock()

	if prev != s {
		a.emit(core.EventStateChange, map[string]any{"from": prev.String(), "to": s.String()})
	}
}

// finish moves the agent to Finished. Invoked by the orchestrator when a
// special tool completes.
func (a *Agent) finish() { a.setState(core.StateFinished) }

func (a *Agent) incrementStep() {
	a.mu.Lock()
	a.step++
	a.mu.Unlock()
}

func (a *Agent) resetStep() {
	a.mu.Lock()
	a.step = 0
	a.mu.Unlock()
}

// addMessage appends to the transcript and mirrors the addition onto the bus.
func (a *Agent) addMessage(msg core.Message) {
	a.memory.AddMessage(msg)
	a.emit(core.EventMemoryAdded, map[string]any{"role": msg.Role})
}

// emit publishes a lifecycle event stamped with the current step counter and
// returns it so sub-events can reference its id.
func (a *Agent) emit(name string, content map[string]any) core.EventItem {
	ev := core.NewEventItem(name, a.Step(), content)
	if a.bus != nil {
		a.bus.Publish(ev)
	}
	return ev
}

// emitChild publishes an event linked to a parent event.
func (a *Agent) emitChild(name, parentID string, content map[string]any) core.EventItem {
	ev := core.NewEventItem(name, a.Step(), content).WithParent(parentID)
	if a.bus != nil {
		a.bus.Publish(ev)
	}
	return ev
}
