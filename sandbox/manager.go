package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/agentrun/logging"
	"github.com/hupe1980/agentrun/sandbox/retry"
)

// Factory creates a sandbox for the given id. Manager invokes it through
// the retry policy, so factories should return transient errors unwrapped.
type Factory func(ctx context.Context, id string) (Sandbox, error)

// ManagerOptions configure a Manager.
type ManagerOptions struct {
	Retry  retry.Policy
	Logger logging.Logger
}

// Manager hands out sandbox handles by id. GetOrCreate is idempotent: the
// same id always maps to the same live handle until it is released.
type Manager struct {
	factory     Factory
	retryPolicy retry.Policy
	logger      logging.Logger

	mu    sync.Mutex
	boxes map[string]Sandbox
}

// NewManager creates a Manager backed by the given factory.
func NewManager(factory Factory, optFns ...func(o *ManagerOptions)) *Manager {
	opts := ManagerOptions{
		Retry:  retry.DefaultPolicy(),
		Logger: logging.NewNoOpLogger(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Manager{
		factory:     factory,
		retryPolicy: opts.Retry,
		logger:      opts.Logger,
		boxes:       make(map[string]Sandbox),
	}
}

// GetOrCreate returns the live sandbox for id, creating it on first use.
// Creation failures are retried per the configured policy.
func (m *Manager) GetOrCreate(ctx context.Context, id string) (Sandbox, error) {
	if id == "" {
		return nil, fmt.Errorf("sandbox id must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if sb, ok := m.boxes[id]; ok {
		return sb, nil
	}

	var sb Sandbox
	err := m.retryPolicy.Do(ctx, func(ctx context.Context) error {
		var err error
		sb, err = m.factory(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create sandbox %q: %w", id, err)
	}

	m.boxes[id] = sb
	m.logger.Debug("sandbox.created", "id", id)

	return sb, nil
}

// Release tears down the sandbox for id. Releasing an unknown id is a no-op.
func (m *Manager) Release(ctx context.Context, id string) error {
	m.mu.Lock()
	sb, ok := m.boxes[id]
	delete(m.boxes, id)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	if err := sb.Release(ctx); err != nil {
		return fmt.Errorf("release sandbox %q: %w", id, err)
	}
	return nil
}

// ReleaseAll tears down every live sandbox and reports the joined errors.
func (m *Manager) ReleaseAll(ctx context.Context) error {
	m.mu.Lock()
	boxes := m.boxes
	m.boxes = make(map[string]Sandbox)
	m.mu.Unlock()

	var errs []error
	for id, sb := range boxes {
		if err := sb.Release(ctx); err != nil {
			errs = append(errs, fmt.Errorf("release sandbox %q: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Active returns the ids of the live sandboxes, sorted.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.boxes))
	for id := range m.boxes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
