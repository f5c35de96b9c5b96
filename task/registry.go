package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentrun/agent"
	"github.com/hupe1980/agentrun/bus"
	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/logging"
	"github.com/hupe1980/agentrun/sandbox"
)

// DefaultRemoveAfter is how long a terminal task stays queryable in memory.
const DefaultRemoveAfter = 30 * time.Minute

// CreateRequest describes a new task. An empty ID is filled with a generated
// uuid; MaxSteps, when positive, overrides the agent factory's default.
type CreateRequest struct {
	ID       string `json:"id,omitempty"`
	Prompt   string `json:"prompt"`
	MaxSteps int    `json:"max_steps,omitempty"`
}

// AgentFactory builds the agent for one task. The registry passes the
// per-task bus; the factory must wire it into the agent so lifecycle events
// reach the task recorder.
type AgentFactory func(req CreateRequest, b *bus.Bus) (*agent.Agent, error)

// Options configure a Registry.
type Options struct {
	// Store, when set, persists task snapshots and event histories.
	Store *Store

	// RemoveAfter is the grace period before a terminal task is evicted
	// from memory. Defaults to DefaultRemoveAfter.
	RemoveAfter time.Duration

	Logger logging.Logger
}

// Registry owns every running and recently finished task. It replaces the
// ambient global task map with an injected component: create on task start,
// terminal transition on agent return, drain, delayed delete.
type Registry struct {
	factory     AgentFactory
	store       *Store
	removeAfter time.Duration
	logger      logging.Logger

	mu     sync.Mutex
	tasks  map[string]*record
	closed bool
	wg     sync.WaitGroup
}

// record is the mutable server-side state of one task.
type record struct {
	id    string
	agent *agent.Agent
	bus   *bus.Bus
	timer *time.Timer

	mu      sync.Mutex
	status  Status
	history []core.EventItem
	result  string
	errMsg  string
	changed chan struct{} // closed and replaced on every append / status change
	done    chan struct{} // closed once the run goroutine has fully finished
}

// New creates a Registry around the given agent factory.
func New(factory AgentFactory, optFns ...func(o *Options)) *Registry {
	opts := Options{
		RemoveAfter: DefaultRemoveAfter,
		Logger:      logging.NewNoOpLogger(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Registry{
		factory:     factory,
		store:       opts.Store,
		removeAfter: opts.RemoveAfter,
		logger:      opts.Logger,
		tasks:       make(map[string]*record),
	}
}

// Create registers a new task and starts its agent goroutine. Execution
// proceeds asynchronously; the returned id is ready for Get, Subscribe and
// Terminate immediately. Re-creating a running task with the same id
// terminates the previous run first and replaces it.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (string, error) {
	if req.Prompt == "" {
		return "", fmt.Errorf("task prompt must not be empty")
	}
	if req.ID == "" {
		req.ID = core.NewID()
	}

	taskBus := bus.New(func(o *bus.Options) { o.Logger = r.logger })

	ag, err := r.factory(req, taskBus)
	if err != nil {
		taskBus.Close()
		return "", fmt.Errorf("create agent for task %q: %w", req.ID, err)
	}

	rec := &record{
		id:      req.ID,
		agent:   ag,
		bus:     taskBus,
		status:  StatusPending,
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}

	recorder := func(ev core.EventItem) error {
		idx := rec.append(ev)
		if r.store != nil {
			if err := r.store.AppendEvent(context.Background(), rec.id, idx, ev); err != nil {
				r.logger.Warn("task.store.append_failed", "task", rec.id, "error", err.Error())
			}
		}
		return nil
	}
	if err := taskBus.Subscribe("agent:.*", recorder); err != nil {
		taskBus.Close()
		return "", fmt.Errorf("subscribe task recorder: %w", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		taskBus.Close()
		return "", fmt.Errorf("registry is closed")
	}
	if prev, ok := r.tasks[req.ID]; ok {
		prev.agent.Terminate()
		r.logger.Info("task.replaced", "task", req.ID)
	}
	r.tasks[req.ID] = rec
	r.wg.Add(1)
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.SaveTask(ctx, req.ID, StatusPending); err != nil {
			r.logger.Warn("task.store.save_failed", "task", req.ID, "error", err.Error())
		}
	}

	go r.run(rec, req.Prompt)

	r.logger.Info("task.created", "task", req.ID)

	return req.ID, nil
}

// run drives the agent to completion and finalizes the record.
func (r *Registry) run(rec *record, prompt string) {
	defer r.wg.Done()

	result, err := rec.agent.Run(context.Background(), prompt)

	// Let every emitted event reach the recorder before the status flips:
	// subscribers must observe the full history ahead of stream closure.
	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	_ = rec.bus.Flush(flushCtx)
	cancel()

	rec.mu.Lock()
	if err != nil {
		rec.status = StatusFailed
		rec.errMsg = err.Error()
	} else {
		rec.status = StatusCompleted
		rec.result = result
	}
	status, errMsg := rec.status, rec.errMsg
	rec.signalLocked()
	rec.mu.Unlock()

	close(rec.done)

	if r.store != nil {
		storeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if uerr := r.store.UpdateTask(storeCtx, rec.id, status, result, errMsg); uerr != nil {
			r.logger.Warn("task.store.update_failed", "task", rec.id, "error", uerr.Error())
		}
		cancel()
	}

	cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if cerr := rec.agent.Cleanup(cleanupCtx); cerr != nil {
		r.logger.Warn("task.cleanup.error", "task", rec.id, "error", cerr.Error())
	}
	cancel()

	rec.bus.Close()

	r.scheduleRemoval(rec)

	r.logger.Info("task.finished", "task", rec.id, "status", string(status))
}

// scheduleRemoval evicts the record from memory after the grace period. The
// removal only fires if the map still holds this exact record, so a task
// re-created under the same id is never evicted by its predecessor's timer.
func (r *Registry) scheduleRemoval(rec *record) {
	if r.removeAfter <= 0 {
		return
	}

	rec.timer = time.AfterFunc(r.removeAfter, func() {
		r.mu.Lock()
		if current, ok := r.tasks[rec.id]; ok && current == rec {
			delete(r.tasks, rec.id)
		}
		r.mu.Unlock()
		r.logger.Debug("task.removed", "task", rec.id)
	})
}

// append adds one lifecycle event to the history and returns its log index.
func (rec *record) append(ev core.EventItem) int {
	rec.mu.Lock()
	rec.history = append(rec.history, ev)
	idx := len(rec.history) - 1
	rec.signalLocked()
	rec.mu.Unlock()
	return idx
}

// signalLocked wakes every waiting subscriber. Callers must hold rec.mu.
func (rec *record) signalLocked() {
	close(rec.changed)
	rec.changed = make(chan struct{})
}

// snapshot returns the task view of the record.
func (rec *record) snapshot() *Task {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	t := &Task{
		ID:      rec.id,
		Status:  rec.status,
		Result:  rec.result,
		Error:   rec.errMsg,
		History: make([]core.EventItem, len(rec.history)),
	}
	copy(t.History, rec.history)
	return t
}

// Get returns a snapshot of the task. Evicted tasks fall through to the
// store when one is configured.
func (r *Registry) Get(ctx context.Context, taskID string) (*Task, error) {
	r.mu.Lock()
	rec, ok := r.tasks[taskID]
	r.mu.Unlock()

	if ok {
		return rec.snapshot(), nil
	}

	if r.store != nil {
		return r.store.LoadTask(ctx, taskID)
	}

	return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
}

// Subscribe returns an ordered stream of the task's events: the recorded
// history first, then live events as they are appended, with no gap and no
// duplicate. The channel closes once the task is terminal and all pending
// history has been delivered; a subscriber arriving after the terminal
// status receives the full history and an immediate close. Cancel ctx to
// detach early.
func (r *Registry) Subscribe(ctx context.Context, taskID string) (<-chan core.EventItem, error) {
	r.mu.Lock()
	rec, ok := r.tasks[taskID]
	r.mu.Unlock()

	if !ok {
		// Evicted but persisted tasks still replay their recorded history.
		if r.store != nil {
			t, err := r.store.LoadTask(ctx, taskID)
			if err != nil {
				return nil, err
			}
			out := make(chan core.EventItem, len(t.History))
			for _, ev := range t.History {
				out <- ev
			}
			close(out)
			return out, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	out := make(chan core.EventItem)

	go func() {
		defer close(out)

		cursor := 0
		for {
			rec.mu.Lock()
			pending := rec.history[cursor:]
			terminal := rec.status.IsTerminal()
			changed := rec.changed
			rec.mu.Unlock()

			for _, ev := range pending {
				select {
				case out <- ev:
					cursor++
				case <-ctx.Done():
					return
				}
			}

			if terminal && len(pending) == 0 {
				return
			}
			if len(pending) > 0 {
				continue // re-check for events appended meanwhile
			}

			select {
			case <-changed:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Terminate requests cooperative termination of the task's agent. The
// in-flight model or tool call is not aborted; the run stops at the next
// cancellation point.
func (r *Registry) Terminate(taskID string) error {
	r.mu.Lock()
	rec, ok := r.tasks[taskID]
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	rec.agent.Terminate()
	return nil
}

// Sandbox returns the sandbox handle of a running task, used by the
// terminal bridge. The handle is nil when the task's agent runs without a
// sandbox.
func (r *Registry) Sandbox(taskID string) (sandbox.Sandbox, error) {
	r.mu.Lock()
	rec, ok := r.tasks[taskID]
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	return rec.agent.Sandbox(), nil
}

// List returns snapshots of every task currently held in memory.
func (r *Registry) List() []*Task {
	r.mu.Lock()
	recs := make([]*record, 0, len(r.tasks))
	for _, rec := range r.tasks {
		recs = append(recs, rec)
	}
	r.mu.Unlock()

	out := make([]*Task, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.snapshot())
	}
	return out
}

// Close terminates every running task, waits for the run goroutines to
// finish (bounded by ctx) and stops eviction timers. The registry accepts no
// new tasks afterwards.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	recs := make([]*record, 0, len(r.tasks))
	for _, rec := range r.tasks {
		recs = append(recs, rec)
	}
	r.mu.Unlock()

	for _, rec := range recs {
		rec.agent.Terminate()
	}

	doneCh := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(doneCh)
	}()

	var err error
	select {
	case <-doneCh:
	case <-ctx.Done():
		err = ctx.Err()
	}

	for _, rec := range recs {
		if rec.timer != nil {
			rec.timer.Stop()
		}
	}

	if r.store != nil {
		err = errors.Join(err, r.store.Close())
	}

	return err
}
